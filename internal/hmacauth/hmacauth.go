// Package hmacauth implements the Phase-3 HMAC-SHA256 request authentication
// of spec.md §4.6: a canonical signing string over method, path, body hash,
// issuance time, nonce, and trace ID, verified against a current and
// previous secret to support zero-downtime rotation.
package hmacauth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// BuildCanonical returns the Phase-3 canonical signing string. Must match
// the caller's own canonical-string builder byte for byte.
func BuildCanonical(method, path string, body []byte, issuedAt, nonce, traceID string) string {
	sum := sha256.Sum256(body)
	bodyHash := hex.EncodeToString(sum[:])
	return fmt.Sprintf("%s\n%s\n%s\n%s\n%s\n%s", method, path, bodyHash, issuedAt, nonce, traceID)
}

func sign(secret, canonical string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(canonical))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verifier checks Phase-3 HMAC signatures against a current and (optional)
// previous secret, with clock-skew enforcement on the issued-at timestamp.
type Verifier struct {
	Secret       string
	PrevSecret   string
	SkewSeconds  time.Duration
	now          func() time.Time
}

// NewVerifier returns a Verifier for the given secret pair and skew budget.
func NewVerifier(secret, prevSecret string, skewSeconds time.Duration) *Verifier {
	return &Verifier{Secret: secret, PrevSecret: prevSecret, SkewSeconds: skewSeconds, now: time.Now}
}

// Verify reports whether signature is a valid Phase-3 HMAC over the given
// request fields, checking issuedAt's clock skew first and then the current
// secret, falling back to the previous secret for rotation.
func (v *Verifier) Verify(method, path string, body []byte, signature, nonce, traceID, issuedAt string) bool {
	issued, err := time.Parse(time.RFC3339Nano, issuedAt)
	if err != nil {
		issued, err = time.Parse(time.RFC3339, issuedAt)
		if err != nil {
			return false
		}
	}
	now := time.Now
	if v.now != nil {
		now = v.now
	}
	delta := now().UTC().Sub(issued.UTC())
	if delta < 0 {
		delta = -delta
	}
	if delta > v.SkewSeconds {
		return false
	}

	canonical := BuildCanonical(method, path, body, issuedAt, nonce, traceID)

	expected := sign(v.Secret, canonical)
	if hmac.Equal([]byte(signature), []byte(expected)) {
		return true
	}
	if v.PrevSecret != "" {
		expectedPrev := sign(v.PrevSecret, canonical)
		if hmac.Equal([]byte(signature), []byte(expectedPrev)) {
			return true
		}
	}
	return false
}
