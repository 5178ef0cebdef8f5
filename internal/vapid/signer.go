// Package vapid signs Voluntary Application Server Identification tokens
// (RFC 8292) for Web Push requests.
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
	"fmt"
	"strings"
	"time"
)

// TokenLifetime is how long a signed token stays valid.
const TokenLifetime = 12 * time.Hour

var (
	// ErrNotConfigured is returned when no key pair or subject is set.
	ErrNotConfigured = errors.New("vapid credentials not configured")
	// ErrInvalidSubject is returned when the subject lacks a mailto: or https:// prefix.
	ErrInvalidSubject = errors.New("vapid subject must start with mailto: or https://")
	// ErrInvalidPrivateKey is returned when the PEM key cannot be loaded as a P-256 key.
	ErrInvalidPrivateKey = errors.New("invalid vapid private key")
	// ErrInvalidAudience is returned for an empty audience.
	ErrInvalidAudience = errors.New("vapid audience required")
)

var encoding = base64.RawURLEncoding

type header struct {
	Typ string `json:"typ"`
	Alg string `json:"alg"`
}

type claims struct {
	Aud string `json:"aud"`
	Exp int64  `json:"exp"`
	Sub string `json:"sub"`
}

// Credentials is the configured application server identity.
type Credentials struct {
	// PublicKey is the base64url encoded uncompressed P-256 point.
	PublicKey string
	// PrivateKey is a PEM encoded EC (SEC 1) or PKCS #8 private key.
	PrivateKey string
	// Subject is a mailto: or https:// contact for the push service operator.
	Subject string
}

// Signer produces VAPID tokens for one set of credentials.
type Signer struct {
	creds Credentials
	key   *ecdsa.PrivateKey
	err   error
	now   func() time.Time
}

// New loads creds. Problems with the credentials are not returned here but
// from every Sign call, so a misconfigured deployment still starts and
// reports delivery failures instead.
func New(creds Credentials) *Signer {
	s := &Signer{creds: creds, now: time.Now}
	switch {
	case creds.PublicKey == "" || creds.PrivateKey == "" || creds.Subject == "":
		s.err = ErrNotConfigured
	case !validSubject(creds.Subject):
		s.err = ErrInvalidSubject
	default:
		s.key, s.err = ParsePrivateKey(creds.PrivateKey)
		if s.err == nil {
			s.err = checkKeyPair(s.key, creds.PublicKey)
		}
	}
	return s
}

// Configured reports whether Sign can succeed.
func (s *Signer) Configured() bool {
	return s.err == nil
}

// Err returns the credential problem, if any.
func (s *Signer) Err() error {
	return s.err
}

// PublicKey returns the base64url application server key.
func (s *Signer) PublicKey() string {
	return s.creds.PublicKey
}

// Sign returns a token for audience, the scheme://host[:port] of a push endpoint.
func (s *Signer) Sign(audience string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return SignToken(audience, s.creds.Subject, s.key, s.now())
}

// SignToken builds and signs an ES256 JWT with aud, exp = now+12h and sub.
func SignToken(audience, subject string, key *ecdsa.PrivateKey, now time.Time) (string, error) {
	if audience == "" {
		return "", ErrInvalidAudience
	}
	if !validSubject(subject) {
		return "", ErrInvalidSubject
	}
	if key == nil || key.Curve != elliptic.P256() {
		return "", ErrInvalidPrivateKey
	}

	headerJSON, err := json.Marshal(header{Typ: "JWT", Alg: "ES256"})
	if err != nil {
		return "", err
	}
	claimsJSON, err := json.Marshal(claims{
		Aud: audience,
		Exp: now.Add(TokenLifetime).Unix(),
		Sub: subject,
	})
	if err != nil {
		return "", err
	}

	unsigned := encoding.EncodeToString(headerJSON) + "." + encoding.EncodeToString(claimsJSON)
	digest := sha256.Sum256([]byte(unsigned))
	der, err := ecdsa.SignASN1(rand.Reader, key, digest[:])
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	raw, err := DERToRaw(der)
	if err != nil {
		return "", err
	}
	return unsigned + "." + encoding.EncodeToString(raw), nil
}

// ParsePrivateKey loads a PEM encoded P-256 private key.
func ParsePrivateKey(pemData string) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block", ErrInvalidPrivateKey)
	}

	var key *ecdsa.PrivateKey
	switch block.Type {
	case "EC PRIVATE KEY":
		k, err := x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
		}
		key = k
	case "PRIVATE KEY":
		k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
		}
		ec, ok := k.(*ecdsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: not an EC key", ErrInvalidPrivateKey)
		}
		key = ec
	default:
		return nil, fmt.Errorf("%w: unexpected PEM type %q", ErrInvalidPrivateKey, block.Type)
	}

	if key.Curve != elliptic.P256() {
		return nil, fmt.Errorf("%w: curve is not P-256", ErrInvalidPrivateKey)
	}
	return key, nil
}

// EncodePublicKey returns the base64url uncompressed point of key.
func EncodePublicKey(key *ecdsa.PublicKey) (string, error) {
	pub, err := key.ECDH()
	if err != nil {
		return "", err
	}
	return encoding.EncodeToString(pub.Bytes()), nil
}

// GenerateKeys creates a fresh key pair in the formats Credentials expects.
func GenerateKeys() (publicKey, privatePEM string, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", "", err
	}
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return "", "", err
	}
	publicKey, err = EncodePublicKey(&key.PublicKey)
	if err != nil {
		return "", "", err
	}
	privatePEM = string(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}))
	return publicKey, privatePEM, nil
}

func checkKeyPair(key *ecdsa.PrivateKey, publicKey string) error {
	want, err := EncodePublicKey(&key.PublicKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}
	if strings.TrimRight(publicKey, "=") != want {
		return fmt.Errorf("%w: public key does not match private key", ErrInvalidPrivateKey)
	}
	return nil
}

func validSubject(subject string) bool {
	return strings.HasPrefix(subject, "mailto:") || strings.HasPrefix(subject, "https://")
}
