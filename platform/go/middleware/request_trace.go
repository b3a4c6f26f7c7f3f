package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	platformauth "github.com/collabridge/rapport-tracker/platform/go/auth"
	platformlogging "github.com/collabridge/rapport-tracker/platform/go/logging"
	"github.com/collabridge/rapport-tracker/platform/go/problem"
	"github.com/collabridge/rapport-tracker/platform/go/requesttrace"
)

// RequestTrace stores the request's AuditInfo on the context; soft delete
// operations read the actor from it. Mount it after authentication.
func RequestTrace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := middleware.GetReqID(ctx)
		logger := platformlogging.FromRequest(r, zap.NewNop())

		audit := requesttrace.Anonymous(requestID)
		if creds, ok := platformauth.UserFromContext(ctx); ok && creds != nil {
			var err error
			if audit, err = requesttrace.FromCredentials(creds, requestID); err != nil {
				logger.Warn("credentials carry no user id", zap.Error(err))
				problem.Write(w, problem.New(http.StatusUnauthorized, "unauthorized", "Unauthorized", "credentials do not identify a user"))
				return
			}
			logger = logger.With(zap.String("user_id", *audit.UserID))
		}

		ctx = requesttrace.IntoContext(ctx, audit)
		ctx = platformlogging.WithLogger(ctx, logger.With(zap.String("actor_kind", string(audit.ActorKind))))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
