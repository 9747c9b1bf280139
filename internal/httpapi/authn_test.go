package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"trustmesh.org/internal/auth"
)

func TestExtractBearerToken(t *testing.T) {
	cases := []struct {
		header  string
		want    string
		wantErr bool
	}{
		{"Bearer abc123", "abc123", false},
		{"bearer abc123", "abc123", false},
		{"  Bearer   abc123  ", "abc123", false},
		{"", "", true},
		{"Basic abc123", "", true},
		{"Bearer ", "", true},
	}
	for _, tc := range cases {
		got, err := extractBearerToken(tc.header)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("header %q: expected error", tc.header)
			}
			continue
		}
		if err != nil {
			t.Fatalf("header %q: %v", tc.header, err)
		}
		if got != tc.want {
			t.Fatalf("header %q: got %q, want %q", tc.header, got, tc.want)
		}
	}
}

func TestWithAuthRejectsMissingToken(t *testing.T) {
	t.Setenv("TRUSTMESH_AUTH_SECRET", "test-secret-value")
	auth.ResetSecretForTests()

	api, _ := newTestAPI(t)
	api.requireAuth = true

	req := httptest.NewRequest(http.MethodGet, "/v1/trust/dashboard?organization="+orgA, nil)
	rr := httptest.NewRecorder()
	api.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestWithAuthAllowsPublicPaths(t *testing.T) {
	api, _ := newTestAPI(t)
	api.requireAuth = true

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	api.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestWithAuthAcceptsValidToken(t *testing.T) {
	t.Setenv("TRUSTMESH_AUTH_SECRET", "test-secret-value")
	auth.ResetSecretForTests()

	api, _ := newTestAPI(t)
	api.requireAuth = true

	token, err := auth.GenerateToken(user, orgA, []string{"analyst"}, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	// The authenticated organization replaces the query parameter.
	req := httptest.NewRequest(http.MethodGet, "/v1/trust/dashboard", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	api.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}
