package webhook

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// verifySignature checks an HMAC signature header against the raw body. The
// header carries the algorithm as a prefix ("sha256=..." or "sha1=...");
// a bare hex digest is treated as sha256.
func verifySignature(body []byte, header string, secret string) bool {
	if header == "" {
		return false
	}

	algo, digest := "sha256", header
	if i := strings.IndexByte(header, '='); i >= 0 {
		algo, digest = header[:i], header[i+1:]
	}

	var expected []byte
	switch algo {
	case "sha256":
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(body)
		expected = mac.Sum(nil)
	case "sha1":
		mac := hmac.New(sha1.New, []byte(secret))
		mac.Write(body)
		expected = mac.Sum(nil)
	default:
		return false
	}

	// Constant-time comparison to avoid leaking digest bytes through timing.
	return subtle.ConstantTimeCompare([]byte(digest), []byte(hex.EncodeToString(expected))) == 1
}

// SignBody computes the sha256 signature header for a body, for senders and
// tests.
func SignBody(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
