package webhook

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"
)

const (
	SignatureHeader = "X-Twilio-Email-Event-Webhook-Signature"
	TimestampHeader = "X-Twilio-Email-Event-Webhook-Timestamp"

	// P-256 scalars are 32 bytes; the raw signature is R || S.
	scalarSize = 32
)

var (
	ErrInvalidSignature   = errors.New("webhook signature verification failed")
	ErrMalformedSignature = errors.New("malformed webhook signature")
	ErrInvalidPublicKey   = errors.New("invalid webhook public key")
)

// ParsePublicKey decodes a base64 PKIX (DER) P-256 public key.
func ParsePublicKey(b64 string) (*ecdsa.PublicKey, error) {
	der, err := base64.StdEncoding.DecodeString(strings.TrimSpace(b64))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}

	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}

	pub, ok := key.(*ecdsa.PublicKey)
	if !ok || pub.Curve != elliptic.P256() {
		return nil, fmt.Errorf("%w: not a P-256 ECDSA key", ErrInvalidPublicKey)
	}

	return pub, nil
}

// DERToRaw converts an ASN.1 DER ECDSA signature, SEQUENCE { INTEGER r,
// INTEGER s }, into the 64-byte R || S form. Each integer loses the zero
// byte DER prepends when the high bit is set and is left-padded to 32 bytes.
func DERToRaw(der []byte) ([]byte, error) {
	input := cryptobyte.String(der)

	var seq cryptobyte.String
	if !input.ReadASN1(&seq, asn1.SEQUENCE) || !input.Empty() {
		return nil, fmt.Errorf("%w: expected a single SEQUENCE", ErrMalformedSignature)
	}

	var r, s cryptobyte.String
	if !seq.ReadASN1(&r, asn1.INTEGER) || !seq.ReadASN1(&s, asn1.INTEGER) || !seq.Empty() {
		return nil, fmt.Errorf("%w: expected two INTEGERs", ErrMalformedSignature)
	}

	raw := make([]byte, 2*scalarSize)
	if err := putScalar(raw[:scalarSize], r); err != nil {
		return nil, err
	}
	if err := putScalar(raw[scalarSize:], s); err != nil {
		return nil, err
	}

	return raw, nil
}

func putScalar(dst []byte, n []byte) error {
	if len(n) == 0 || n[0]&0x80 != 0 {
		return fmt.Errorf("%w: integer is empty or negative", ErrMalformedSignature)
	}
	for len(n) > 1 && n[0] == 0 {
		n = n[1:]
	}
	if len(n) > len(dst) {
		return fmt.Errorf("%w: integer longer than %d bytes", ErrMalformedSignature, len(dst))
	}
	copy(dst[len(dst)-len(n):], n)
	return nil
}

// VerifyRaw checks a 64-byte R || S signature over timestamp || body.
func VerifyRaw(key *ecdsa.PublicKey, raw []byte, timestamp string, body []byte) bool {
	if key == nil || len(raw) != 2*scalarSize {
		return false
	}

	h := sha256.New()
	h.Write([]byte(timestamp))
	h.Write(body)
	digest := h.Sum(nil)

	r := new(big.Int).SetBytes(raw[:scalarSize])
	s := new(big.Int).SetBytes(raw[scalarSize:])
	return ecdsa.Verify(key, digest, r, s)
}

// Verifier authenticates signed event callbacks. Without a key it runs in
// insecure mode and accepts every request.
type Verifier struct {
	key *ecdsa.PublicKey
	log *zap.Logger
}

// NewVerifier builds a Verifier from a base64 public key. An empty key
// yields an insecure Verifier.
func NewVerifier(publicKey string, log *zap.Logger) (*Verifier, error) {
	v := &Verifier{log: log}
	if strings.TrimSpace(publicKey) == "" {
		log.Warn("webhook public key not configured, signatures will not be verified")
		return v, nil
	}

	key, err := ParsePublicKey(publicKey)
	if err != nil {
		return nil, err
	}
	v.key = key
	return v, nil
}

// Verify checks the base64 DER signature over timestamp || body. body must
// be the exact bytes received.
func (v *Verifier) Verify(signature, timestamp string, body []byte) error {
	if v.key == nil {
		v.log.Warn("accepting unverified webhook: no public key configured")
		return nil
	}

	der, err := base64.StdEncoding.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(der) == 0 {
		return fmt.Errorf("%w: signature is not base64", ErrMalformedSignature)
	}

	raw, err := DERToRaw(der)
	if err != nil {
		return err
	}

	if !VerifyRaw(v.key, raw, timestamp, body) {
		return ErrInvalidSignature
	}
	return nil
}
