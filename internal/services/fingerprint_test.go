package services

import (
	"encoding/json"
	"testing"
)

func TestFingerprintDigest(t *testing.T) {
	a := FingerprintDigest(json.RawMessage(`{"display":{"width":120,"height":40},"locale":"en","timezone":"UTC","timestamp":1}`))
	b := FingerprintDigest(json.RawMessage(`{"timezone":"UTC","timestamp":2,"locale":"en","display":{"height":40,"width":120}}`))
	if a == "" || a != b {
		t.Fatalf("digests differ: %q vs %q", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("digest length = %d, want 64", len(a))
	}
	c := FingerprintDigest(json.RawMessage(`{"display":{"width":120,"height":40},"locale":"zh","timezone":"UTC"}`))
	if c == a {
		t.Fatalf("different fingerprints share a digest")
	}
	for _, raw := range []string{``, `null`, `{}`, `[]`, `not json`, `{"fallback":true,"locale":"en"}`,
		`{"locale":"en","timezone":"UTC","platform":"linux/amd64"}`,
		`{"display":null,"locale":"en"}`,
		`{"display":{},"locale":"en"}`,
	} {
		if got := FingerprintDigest(json.RawMessage(raw)); got != "" {
			t.Fatalf("FingerprintDigest(%q) = %q, want empty", raw, got)
		}
	}
}
