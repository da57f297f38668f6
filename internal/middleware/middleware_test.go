package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestReceiptRoundTrip(t *testing.T) {
	rc := NewReceipts("s3cret", time.Hour)
	issued := time.Now()
	tok, err := rc.Sign(3, "3f2b8c1e-9a4d-4c6b-8e2f-1a2b3c4d5e6f", issued)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if strings.Contains(tok, "3f2b8c1e-9a4d") {
		t.Fatalf("receipt leaks session token")
	}
	c, err := rc.Parse(tok)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.SurveyID != 3 || c.SessionPrefix != "3f2b8c1e" {
		t.Fatalf("claims = %+v", c)
	}
	if _, err := NewReceipts("other", time.Hour).Parse(tok); err == nil {
		t.Fatalf("expected signature mismatch")
	}
	expired, _ := rc.Sign(3, "abc", issued.Add(-2*time.Hour))
	if _, err := rc.Parse(expired); err == nil {
		t.Fatalf("expected expired receipt to fail")
	}
}

func TestLocale(t *testing.T) {
	var got string
	h := Locale(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = LocaleFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if got != "zh" {
		t.Fatalf("locale = %q, want zh", got)
	}
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x?lang=en", nil))
	if got != "en" {
		t.Fatalf("locale = %q, want en", got)
	}
	if LocaleFromContext(req.Context()) != "en" {
		t.Fatalf("empty context should default to en")
	}
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://survey.example"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/sessions", nil)
	req.Header.Set("Origin", "https://survey.example")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "https://survey.example" {
		t.Fatalf("allowed origin not echoed")
	}

	req = httptest.NewRequest(http.MethodGet, "/api/progress", nil)
	req.Header.Set("Origin", "https://evil.example")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusTeapot || rr.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("foreign origin handled wrongly: %d %q", rr.Code, rr.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestHeaders(t *testing.T) {
	h := SecureHeaders(NoStore(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("missing nosniff")
	}
	if !strings.Contains(rr.Header().Get("Cache-Control"), "no-store") {
		t.Fatalf("missing no-store")
	}
}
