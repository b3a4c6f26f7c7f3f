package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	platformauth "github.com/collabridge/rapport-tracker/platform/go/auth"
	"github.com/collabridge/rapport-tracker/platform/go/persistence"
)

// lookupTimeout bounds the per-request account check.
const lookupTimeout = 3 * time.Second

// userLookup loads an active account; *persistence.UserStore provides it through Get.
type userLookup func(ctx context.Context, id uuid.UUID) (persistence.User, error)

// buildAuthMiddleware verifies HS256 bearer tokens and only accepts subjects
// that still map to an active, non-deleted account. The admin flag is taken
// from the account so a demoted user loses access before the token expires.
func buildAuthMiddleware(signer *platformauth.Signer, lookup userLookup, logger *zap.Logger) func(http.Handler) http.Handler {
	return platformauth.JWT(signer.Verify, activeUserExtractor(lookup, logger))
}

func activeUserExtractor(lookup userLookup, logger *zap.Logger) platformauth.ExtractFunc {
	return func(claims map[string]interface{}) (*platformauth.UserCredentials, error) {
		creds, err := platformauth.DefaultCredentialExtractor(claims)
		if err != nil {
			return nil, err
		}

		id, err := uuid.Parse(creds.Id)
		if err != nil {
			return nil, fmt.Errorf("subject is not a user id: %w", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
		defer cancel()

		user, err := lookup(ctx, id)
		if err != nil {
			if !errors.Is(err, persistence.ErrRecordNotFound) {
				logger.Error("resolve token subject", zap.String("user_id", id.String()), zap.Error(err))
			}
			return nil, errors.New("account not found")
		}
		if !user.IsActive {
			return nil, errors.New("account is inactive")
		}

		creds.Id = user.ID.String()
		creds.Email = user.Email
		creds.IsAdmin = user.IsAdmin
		return creds, nil
	}
}
