package utils

import "testing"

func TestT_Fallback(t *testing.T) {
	if got := T("fr", "health.ok"); got != "ok" {
		t.Fatalf("fallback to en failed: %s", got)
	}
	if got := T("zh", "missing.key"); got != "missing.key" {
		t.Fatalf("unknown key should echo, got %s", got)
	}
	if !Has("error.session_locked") || Has("error.gone") {
		t.Fatalf("Has reported wrong catalogue membership")
	}
}
