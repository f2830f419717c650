// Package webhook provides the HTTP surface for receiving GitHub webhook
// deliveries: signature verification and the listener that feeds verified
// events into the bounty manager.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// VerifySignature checks a GitHub-style "sha256=<hex>" signature header
// against the raw request body. The comparison is constant-time and the
// check fails closed: an empty signature or an empty secret is never valid.
func VerifySignature(body []byte, signature string, secret []byte) bool {
	if signature == "" || len(secret) == 0 {
		return false
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}

// Sign computes the signature header value for a body. Used by tests and by
// operators replaying deliveries against a local instance.
func Sign(body []byte, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
