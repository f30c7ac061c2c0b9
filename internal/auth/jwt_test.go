package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndParse(t *testing.T) {
	j := NewJWT("test-secret")
	tenantID := uuid.New()
	userID := uuid.New()

	token, err := j.GenerateToken(tenantID, userID)
	require.NoError(t, err)

	claims, err := j.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, tenantID, claims.TenantID)
	assert.Equal(t, userID, claims.UserID)
}

func TestParseRejectsWrongSecret(t *testing.T) {
	token, err := NewJWT("secret-a").GenerateToken(uuid.New(), uuid.New())
	require.NoError(t, err)

	_, err = NewJWT("secret-b").Parse(token)
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	j := NewJWT("test-secret")
	tenantID := uuid.New()
	validToken, err := j.GenerateToken(tenantID, uuid.New())
	require.NoError(t, err)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := GetClaimsFromContext(r.Context())
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		require.NoError(t, err)
		assert.Equal(t, tenantID, claims.TenantID)
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name       string
		path       string
		authHeader string
		wantStatus int
	}{
		{"valid token", "/api/ocr/jobs/x/status", "Bearer " + validToken, http.StatusOK},
		{"missing header", "/api/ocr/jobs/x/status", "", http.StatusUnauthorized},
		{"wrong scheme", "/api/ocr/jobs/x/status", "Basic abc", http.StatusUnauthorized},
		{"garbage token", "/api/ocr/jobs/x/status", "Bearer not.a.jwt", http.StatusUnauthorized},
		{"health stays open", "/health", "", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rec := httptest.NewRecorder()

			j.Middleware(next).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestGetClaimsFromContextWithoutClaims(t *testing.T) {
	_, err := GetClaimsFromContext(httptest.NewRequest(http.MethodGet, "/", nil).Context())
	assert.ErrorIs(t, err, ErrNoClaims)
}
