package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/collabridge/rapport-tracker/platform/go/problem"
)

func TestDefaultCredentialExtractor(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		claims  map[string]interface{}
		wantID  string
		admin   bool
		wantErr bool
	}{
		{
			name:   "subject claim",
			claims: map[string]interface{}{"sub": "user-123", "email": "user@example.com", "isAdmin": true},
			wantID: "user-123",
			admin:  true,
		},
		{
			name:   "user_id fallback",
			claims: map[string]interface{}{"user_id": "user-456"},
			wantID: "user-456",
		},
		{
			name:   "non bool admin ignored",
			claims: map[string]interface{}{"sub": "user-789", "isAdmin": "yes"},
			wantID: "user-789",
		},
		{
			name:    "missing subject",
			claims:  map[string]interface{}{"email": "user@example.com"},
			wantErr: true,
		},
		{
			name:    "nil claims",
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			creds, err := DefaultCredentialExtractor(tc.claims)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.wantID, creds.Id)
			require.Equal(t, tc.admin, creds.IsAdmin)
		})
	}
}

func newTestSigner(t *testing.T) *Signer {
	t.Helper()
	signer, err := NewSigner("test-secret-with-enough-length", time.Hour)
	require.NoError(t, err)
	return signer
}

func TestJWTMiddleware(t *testing.T) {
	t.Parallel()

	signer := newTestSigner(t)
	token, err := signer.Issue(Subject{UserID: "user-1", Email: "ana@example.com", IsAdmin: true})
	require.NoError(t, err)

	var seen *UserCredentials
	handler := JWT(signer.Verify, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = UserFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("valid token sets credentials", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token.AccessToken)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusNoContent, rec.Code)
		require.NotNil(t, seen)
		require.Equal(t, "user-1", seen.Id)
		require.Equal(t, "ana@example.com", seen.Email)
		require.True(t, seen.IsAdmin)
	})

	t.Run("missing token passes through", func(t *testing.T) {
		seen = nil
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		require.Equal(t, http.StatusNoContent, rec.Code)
		require.Nil(t, seen)
	})

	t.Run("tampered token rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token.AccessToken+"x")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Contains(t, rec.Header().Get("WWW-Authenticate"), "invalid_token")
		require.Equal(t, problem.ContentType, rec.Header().Get("Content-Type"))
	})
}

func TestRequireUser(t *testing.T) {
	t.Parallel()

	handler := RequireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithUser(context.Background(), &UserCredentials{Id: "user-1"}))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireRoleAdmin(t *testing.T) {
	t.Parallel()

	handler := RequireRole(RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	testCases := []struct {
		name  string
		creds *UserCredentials
		want  int
	}{
		{name: "anonymous", want: http.StatusForbidden},
		{name: "regular user", creds: &UserCredentials{Id: "u"}, want: http.StatusForbidden},
		{name: "admin", creds: &UserCredentials{Id: "a", IsAdmin: true}, want: http.StatusOK},
	}

	unknown := RequireRole("auditor")(handler)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	unknown.ServeHTTP(rec, req.WithContext(WithUser(req.Context(), &UserCredentials{Id: "a", IsAdmin: true})))
	require.Equal(t, http.StatusForbidden, rec.Code)

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.creds != nil {
				req = req.WithContext(WithUser(req.Context(), tc.creds))
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			require.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestPasswordHashing(t *testing.T) {
	t.Parallel()

	hash, err := HashPassword("correct horse battery")
	require.NoError(t, err)
	require.NotEqual(t, "correct horse battery", hash)

	require.NoError(t, CheckPassword(hash, "correct horse battery"))
	require.ErrorIs(t, CheckPassword(hash, "wrong"), ErrInvalidCredentials)

	_, err = HashPassword("short")
	require.Error(t, err)
}
