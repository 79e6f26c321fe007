package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestBearerAuth(t *testing.T) {
	keys, secrets := testKeyring(t)

	tests := []struct {
		name          string
		header        string
		wantStatus    int
		wantPrincipal string
	}{
		{"valid key", "Bearer " + secrets["billing"], http.StatusOK, "billing"},
		{"missing header", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "Basic " + secrets["billing"], http.StatusUnauthorized, ""},
		{"unknown key", "Bearer nope", http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			handler := BearerAuth(keys)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = PrincipalFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got != tt.wantPrincipal {
				t.Errorf("principal = %q, want %q", got, tt.wantPrincipal)
			}
		})
	}
}

func TestBearerAuth_NilKeyringAllowsAll(t *testing.T) {
	called := false
	handler := BearerAuth(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !called {
		t.Error("handler should be called without a keyring")
	}
}
