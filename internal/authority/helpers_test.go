package authority_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

// newRawServer serves a fixed status and body on every request
func newRawServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.api+json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// newInspectingServer records request details and answers with a valid body
func newInspectingServer(t *testing.T, inspect func(*http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inspect(r)
		w.Header().Set("Content-Type", "application/vnd.api+json")
		_, _ = w.Write([]byte(`{"meta": {"valid": true}}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}
