// Package signing verifies the download signatures the gateway can check
// locally, without a round-trip to the control-plane: HMAC-SHA-256 over the
// sorted "k=v" pairs of the signed payload, joined by "&", hex-encoded, and
// compared in constant time. Upload signatures are NOT handled here - those
// are verified by the control-plane collaborator (internal/controlplane),
// since the signing key they check against is derived from a secret this
// gateway never holds.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"strings"
)

// ErrInvalidSignature indicates the signature did not match the computed
// HMAC for the supplied payload.
var ErrInvalidSignature = errors.New("signing: invalid signature")

// Verifier computes and checks HMAC-SHA-256 signatures over a fixed secret.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a Verifier bound to secret. An empty secret is
// rejected by the caller's configuration validation, not here - Verifier
// itself only needs bytes to HMAC with.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Sign computes the hex-encoded HMAC-SHA-256 of params, canonicalized by
// sorting keys lexicographically and joining "k=v" pairs with "&".
func (v *Verifier) Sign(params map[string]string) string {
	return hex.EncodeToString(v.mac(params))
}

// Verify reports whether sig is the correct signature for params, using a
// constant-time comparison to avoid timing side-channels.
func (v *Verifier) Verify(params map[string]string, sig string) bool {
	want := v.mac(params)
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	return hmac.Equal(want, got)
}

// VerifyOrError is Verify's error-returning counterpart, for call sites that
// want a single sentinel error to propagate as signature_invalid.
func (v *Verifier) VerifyOrError(params map[string]string, sig string) error {
	if !v.Verify(params, sig) {
		return ErrInvalidSignature
	}
	return nil
}

func (v *Verifier) mac(params map[string]string) []byte {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = k + "=" + params[k]
	}
	payload := strings.Join(pairs, "&")

	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(payload))
	return mac.Sum(nil)
}
