package vapid

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newTestSigner(t *testing.T) (*Signer, *ecdsa.PrivateKey) {
	t.Helper()
	public, private, err := GenerateKeys()
	if err != nil {
		t.Fatalf("generate keys: %v", err)
	}
	s := New(Credentials{PublicKey: public, PrivateKey: private, Subject: "mailto:ops@example.com"})
	if !s.Configured() {
		t.Fatalf("signer not configured: %v", s.Err())
	}
	return s, s.key
}

func TestSignRoundTrip(t *testing.T) {
	t.Parallel()
	s, key := newTestSigner(t)

	token, err := s.Sign("https://updates.push.services.mozilla.com")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("token has %d segments", len(parts))
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}
	if len(sig) != 64 {
		t.Fatalf("signature is %d bytes, want 64", len(sig))
	}

	digest := sha256.Sum256([]byte(parts[0] + "." + parts[1]))
	r := new(big.Int).SetBytes(sig[:32])
	sv := new(big.Int).SetBytes(sig[32:])
	if !ecdsa.Verify(&key.PublicKey, digest[:], r, sv) {
		t.Fatalf("raw signature does not verify")
	}

	parsed, err := jwt.Parse(token, func(*jwt.Token) (interface{}, error) {
		return &key.PublicKey, nil
	}, jwt.WithValidMethods([]string{"ES256"}), jwt.WithAudience("https://updates.push.services.mozilla.com"))
	if err != nil {
		t.Fatalf("jwt verification failed: %v", err)
	}
	if sub, _ := parsed.Claims.GetSubject(); sub != "mailto:ops@example.com" {
		t.Fatalf("sub = %q", sub)
	}
}

func TestSignTokenClaims(t *testing.T) {
	t.Parallel()
	_, key := newTestSigner(t)
	now := time.Date(2026, 10, 14, 8, 0, 0, 0, time.UTC)

	token, err := SignToken("https://push.example:8443", "https://example.com/contact", key, now)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	parts := strings.Split(token, ".")

	headerJSON, _ := base64.RawURLEncoding.DecodeString(parts[0])
	if string(headerJSON) != `{"typ":"JWT","alg":"ES256"}` {
		t.Fatalf("header = %s", headerJSON)
	}

	claimsJSON, _ := base64.RawURLEncoding.DecodeString(parts[1])
	var got map[string]interface{}
	if err := json.Unmarshal(claimsJSON, &got); err != nil {
		t.Fatalf("claims: %v", err)
	}
	if got["aud"] != "https://push.example:8443" || got["sub"] != "https://example.com/contact" {
		t.Fatalf("claims = %s", claimsJSON)
	}
	if exp := int64(got["exp"].(float64)); exp != now.Add(12*time.Hour).Unix() {
		t.Fatalf("exp = %d", exp)
	}
}

func TestSignerFailures(t *testing.T) {
	t.Parallel()
	public, private, err := GenerateKeys()
	if err != nil {
		t.Fatalf("generate keys: %v", err)
	}
	otherPublic, _, _ := GenerateKeys()

	p384, _ := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	p384DER, _ := x509.MarshalECPrivateKey(p384)
	p384PEM := string(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: p384DER}))

	cases := []struct {
		name  string
		creds Credentials
		want  error
	}{
		{"unconfigured", Credentials{}, ErrNotConfigured},
		{"missing subject", Credentials{PublicKey: public, PrivateKey: private}, ErrNotConfigured},
		{"bad subject", Credentials{PublicKey: public, PrivateKey: private, Subject: "ops@example.com"}, ErrInvalidSubject},
		{"http subject", Credentials{PublicKey: public, PrivateKey: private, Subject: "http://example.com"}, ErrInvalidSubject},
		{"garbage key", Credentials{PublicKey: public, PrivateKey: "not pem", Subject: "mailto:a@b"}, ErrInvalidPrivateKey},
		{"wrong curve", Credentials{PublicKey: public, PrivateKey: p384PEM, Subject: "mailto:a@b"}, ErrInvalidPrivateKey},
		{"mismatched pair", Credentials{PublicKey: otherPublic, PrivateKey: private, Subject: "mailto:a@b"}, ErrInvalidPrivateKey},
	}
	for _, tc := range cases {
		s := New(tc.creds)
		if s.Configured() {
			t.Fatalf("%s: expected unconfigured signer", tc.name)
		}
		token, err := s.Sign("https://push.example")
		if !errors.Is(err, tc.want) || token != "" {
			t.Fatalf("%s: Sign = %q, %v; want %v", tc.name, token, err, tc.want)
		}
	}

	s, _ := newTestSigner(t)
	if _, err := s.Sign(""); !errors.Is(err, ErrInvalidAudience) {
		t.Fatalf("empty audience: %v", err)
	}
}

func TestParsePrivateKeyPKCS8(t *testing.T) {
	t.Parallel()
	key, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	parsed, err := ParsePrivateKey(string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !parsed.Equal(key) {
		t.Fatalf("parsed key differs")
	}
}
