package envelope

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrSecretRequired is returned when signing is attempted without a secret.
var ErrSecretRequired = errors.New("signing secret is required")

// Sign computes the hex-encoded HMAC-SHA-256 digest of body keyed by secret.
// Signing always operates on the literal transmitted bytes, never on a
// re-serialization of parsed fields.
func Sign(secret string, body []byte) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", ErrSecretRequired
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify reports whether digest is a valid signature for body under secret.
// The comparison is constant time with respect to content. An empty secret
// never verifies; an unconfigured channel must be rejected before this point.
func Verify(secret string, body []byte, digest string) bool {
	if strings.TrimSpace(secret) == "" {
		return false
	}
	digest = strings.ToLower(strings.TrimSpace(digest))
	if len(digest) != hex.EncodedLen(sha256.Size) {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(digest))
}
