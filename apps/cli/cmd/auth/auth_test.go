package auth

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/collabridge/rapport-tracker/apps/cli/internal/clienv"
	platformauth "github.com/collabridge/rapport-tracker/platform/go/auth"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestTokenCommandSignsVerifiableToken(t *testing.T) {
	t.Parallel()

	userID := uuid.NewString()
	cmd := Command(clienv.Config{JWTSecret: testSecret, JWTTTL: time.Hour})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"token", "--user-id", userID, "--email", "ana@example.com", "--admin"})

	require.NoError(t, cmd.Execute())

	signer, err := platformauth.NewSigner(testSecret, time.Hour)
	require.NoError(t, err)
	claims, err := signer.Verify(context.Background(), strings.TrimSpace(out.String()))
	require.NoError(t, err)
	require.Equal(t, userID, claims["sub"])
}

func TestTokenCommandRejectsNonUUIDSubject(t *testing.T) {
	t.Parallel()

	cmd := Command(clienv.Config{JWTSecret: testSecret, JWTTTL: time.Hour})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"token", "--user-id", "not-a-uuid"})

	require.ErrorContains(t, cmd.Execute(), "valid UUID")
}

func TestTokenCommandRequiresSecret(t *testing.T) {
	t.Parallel()

	cmd := Command(clienv.Config{JWTTTL: time.Hour})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"token", "--user-id", uuid.NewString()})

	require.Error(t, cmd.Execute())
}
