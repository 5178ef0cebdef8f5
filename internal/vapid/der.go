package vapid

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"
)

// coordinateSize is the byte width of R and S for P-256.
const coordinateSize = 32

// ErrMalformedSignature is returned when a DER signature cannot be split
// into two integers that fit the P-256 raw form.
var ErrMalformedSignature = errors.New("malformed ECDSA signature")

// DERToRaw converts an ASN.1 DER ECDSA signature, SEQUENCE { INTEGER r, INTEGER s },
// into the fixed 64 byte R||S form JWS ES256 requires.
//
// Leading zero bytes of each integer are stripped and the remainder is
// left-padded to 32 bytes. Negative integers and integers longer than 32
// bytes after stripping are rejected.
func DERToRaw(der []byte) ([]byte, error) {
	input := cryptobyte.String(der)
	var seq cryptobyte.String
	if !input.ReadASN1(&seq, asn1.SEQUENCE) || !input.Empty() {
		return nil, fmt.Errorf("%w: not a single DER sequence", ErrMalformedSignature)
	}

	var r, s cryptobyte.String
	if !seq.ReadASN1(&r, asn1.INTEGER) || !seq.ReadASN1(&s, asn1.INTEGER) || !seq.Empty() {
		return nil, fmt.Errorf("%w: expected two integers", ErrMalformedSignature)
	}

	raw := make([]byte, 2*coordinateSize)
	if err := putCoordinate(raw[:coordinateSize], r); err != nil {
		return nil, fmt.Errorf("%w: r: %v", ErrMalformedSignature, err)
	}
	if err := putCoordinate(raw[coordinateSize:], s); err != nil {
		return nil, fmt.Errorf("%w: s: %v", ErrMalformedSignature, err)
	}
	return raw, nil
}

// putCoordinate writes the big-endian integer b right-aligned into dst.
// b must be a non-negative DER INTEGER.
func putCoordinate(dst, b []byte) error {
	if len(b) > 0 && b[0]&0x80 != 0 {
		return errors.New("negative integer")
	}
	for len(b) > 0 && b[0] == 0 {
		b = b[1:]
	}
	switch {
	case len(b) == 0:
		return errors.New("zero integer")
	case len(b) > len(dst):
		return fmt.Errorf("%d bytes exceeds %d", len(b), len(dst))
	}
	copy(dst[len(dst)-len(b):], b)
	return nil
}
