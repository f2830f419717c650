package webhook

import (
	"strings"
	"testing"
)

func TestVerifySignatureRoundTrip(t *testing.T) {
	secret := []byte("it's a secret to everybody")
	body := []byte(`{"action":"labeled","issue":{"number":42}}`)

	sig := Sign(body, secret)
	if !strings.HasPrefix(sig, "sha256=") {
		t.Fatalf("Sign produced %q, want sha256= prefix", sig)
	}
	if sig != strings.ToLower(sig) {
		t.Errorf("signature hex is not lowercase: %q", sig)
	}

	if !VerifySignature(body, sig, secret) {
		t.Error("VerifySignature rejected its own signature")
	}
}

func TestVerifySignatureSingleByteMutation(t *testing.T) {
	secret := []byte("webhook-secret")
	body := []byte("payload bytes that matter")
	sig := Sign(body, secret)

	for i := range body {
		mutated := make([]byte, len(body))
		copy(mutated, body)
		mutated[i] ^= 0x01
		if VerifySignature(mutated, sig, secret) {
			t.Fatalf("signature still valid after mutating byte %d", i)
		}
	}
}

func TestVerifySignatureFailsClosed(t *testing.T) {
	body := []byte("body")
	secret := []byte("secret")

	if VerifySignature(body, "", secret) {
		t.Error("empty signature accepted")
	}
	if VerifySignature(body, Sign(body, secret), nil) {
		t.Error("empty secret accepted")
	}
	if VerifySignature(body, "sha256=", secret) {
		t.Error("empty digest accepted")
	}
	if VerifySignature(body, "sha1=deadbeef", secret) {
		t.Error("wrong algorithm prefix accepted")
	}
}

func TestVerifySignatureWrongSecret(t *testing.T) {
	body := []byte("body")
	sig := Sign(body, []byte("right"))
	if VerifySignature(body, sig, []byte("wrong")) {
		t.Error("signature from a different secret accepted")
	}
}
