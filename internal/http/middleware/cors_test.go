package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCORS(t *testing.T) {
	const allowed = "https://app.meetiq.dev"

	cases := []struct {
		name        string
		origins     []string
		method      string
		origin      string
		wantStatus  int
		wantNext    bool
		wantAllowed string
	}{
		{"preflight allowed", []string{allowed}, http.MethodOptions, allowed, http.StatusNoContent, false, allowed},
		{"actual request allowed", []string{allowed}, http.MethodPost, allowed, http.StatusOK, true, allowed},
		{"preflight disallowed passes through", []string{allowed}, http.MethodOptions, "https://evil.example", http.StatusOK, true, ""},
		{"no origin header", []string{allowed}, http.MethodGet, "", http.StatusOK, true, ""},
		{"wildcard", []string{"*"}, http.MethodGet, "https://any.example", http.StatusOK, true, "*"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			nextCalled := false
			handler := CORS(CORSConfig{AllowedOrigins: tc.origins})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				nextCalled = true
				w.WriteHeader(http.StatusOK)
			}))

			request := httptest.NewRequest(tc.method, "/v1/jobs", nil)
			if tc.origin != "" {
				request.Header.Set("Origin", tc.origin)
			}
			if tc.method == http.MethodOptions {
				request.Header.Set("Access-Control-Request-Method", http.MethodPost)
			}
			recorder := httptest.NewRecorder()
			handler.ServeHTTP(recorder, request)

			if recorder.Code != tc.wantStatus {
				t.Fatalf("expected status %d, got %d", tc.wantStatus, recorder.Code)
			}
			if nextCalled != tc.wantNext {
				t.Fatalf("expected next called=%v, got %v", tc.wantNext, nextCalled)
			}
			if got := recorder.Header().Get("Access-Control-Allow-Origin"); got != tc.wantAllowed {
				t.Fatalf("expected allow origin %q, got %q", tc.wantAllowed, got)
			}
		})
	}
}

func TestCORSPreflightAdvertisesMethodsAndHeaders(t *testing.T) {
	handler := CORS(CORSConfig{AllowedOrigins: []string{"https://app.meetiq.dev"}, MaxAgeSeconds: 60})(okHandler())

	request := httptest.NewRequest(http.MethodOptions, "/v1/jobs", nil)
	request.Header.Set("Origin", "https://app.meetiq.dev")
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	header := recorder.Header()
	if !strings.Contains(header.Get("Access-Control-Allow-Methods"), http.MethodPost) {
		t.Fatalf("expected POST in allow methods, got %q", header.Get("Access-Control-Allow-Methods"))
	}
	if !strings.Contains(header.Get("Access-Control-Allow-Headers"), "Idempotency-Key") {
		t.Fatalf("expected Idempotency-Key in allow headers, got %q", header.Get("Access-Control-Allow-Headers"))
	}
	if header.Get("Access-Control-Max-Age") != "60" {
		t.Fatalf("unexpected max age %q", header.Get("Access-Control-Max-Age"))
	}
}
