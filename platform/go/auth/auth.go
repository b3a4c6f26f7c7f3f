package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/collabridge/rapport-tracker/platform/go/problem"
)

type credentialsKey struct{}

// RoleAdmin is the only role RequireRole understands.
const RoleAdmin = "admin"

// UserCredentials is the authenticated caller as seen by handlers.
type UserCredentials struct {
	Id      string
	Email   string
	Name    *string
	IsAdmin bool
}

func UserFromContext(ctx context.Context) (*UserCredentials, bool) {
	u, ok := ctx.Value(credentialsKey{}).(*UserCredentials)
	return u, ok && u != nil
}

// WithUser stores credentials on the context.
func WithUser(ctx context.Context, creds *UserCredentials) context.Context {
	return context.WithValue(ctx, credentialsKey{}, creds)
}

// VerifyFunc validates a bearer token and returns its claims.
type VerifyFunc func(ctx context.Context, token string) (map[string]interface{}, error)

// ExtractFunc turns verified claims into credentials.
type ExtractFunc func(claims map[string]interface{}) (*UserCredentials, error)

// JWT authenticates bearer tokens. Requests without a token pass through
// anonymously; RequireUser gates the protected routes.
func JWT(verify VerifyFunc, extract ExtractFunc) func(http.Handler) http.Handler {
	if verify == nil {
		panic("auth.JWT: verify func must not be nil")
	}
	if extract == nil {
		extract = DefaultCredentialExtractor
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			token, found := ExtractJWTToken(r)
			if !found || token == "" {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := verify(r.Context(), token)
			if err != nil {
				unauthorized(w, "invalid_token", "token verification failed")
				return
			}
			creds, err := extract(claims)
			if err != nil {
				unauthorized(w, "invalid_token", err.Error())
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), creds)))
		})
	}
}

// DefaultCredentialExtractor reads sub, email, name and isAdmin.
func DefaultCredentialExtractor(claims map[string]interface{}) (*UserCredentials, error) {
	if claims == nil {
		return nil, errors.New("missing claims")
	}

	id := stringClaim(claims, "sub")
	if id == "" {
		id = stringClaim(claims, "user_id")
	}
	if id == "" {
		return nil, errors.New("missing subject claim")
	}

	creds := &UserCredentials{
		Id:    id,
		Email: stringClaim(claims, "email"),
	}
	if name := stringClaim(claims, "name"); name != "" {
		creds.Name = &name
	}
	creds.IsAdmin, _ = claims["isAdmin"].(bool)
	return creds, nil
}

func stringClaim(claims map[string]interface{}, key string) string {
	s, _ := claims[key].(string)
	return s
}

// RequireUser rejects requests that carry no verified credentials.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := UserFromContext(r.Context()); !ok {
			unauthorized(w, "", "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole admits callers holding role. Unknown roles admit nobody.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			creds, ok := UserFromContext(r.Context())
			if !ok || role != RoleAdmin || !creds.IsAdmin {
				problem.Write(w, problem.New(http.StatusForbidden, "forbidden", "Forbidden", "administrator role required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter, code, detail string) {
	challenge := `Bearer realm="api"`
	if code != "" {
		challenge += `, error="` + code + `"`
	}
	w.Header().Set("WWW-Authenticate", challenge)
	problem.Write(w, problem.New(http.StatusUnauthorized, "unauthorized", "Unauthorized", detail))
}
