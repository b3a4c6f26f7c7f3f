package problem

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWrite(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	p := New(http.StatusConflict, "conflict", "Conflict", "email already registered")
	p.Errors = map[string][]string{"email": {"already registered"}}

	Write(rec, p)

	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, ContentType, rec.Header().Get("Content-Type"))

	var got Details
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, TypeBase+"conflict", got.Type)
	require.Equal(t, "email already registered", got.Detail)
	require.Equal(t, []string{"already registered"}, got.Errors["email"])
}

func TestNewWithoutSlug(t *testing.T) {
	t.Parallel()

	p := New(http.StatusInternalServerError, "", "Internal Server Error", "")
	require.Empty(t, p.Type)
	require.Equal(t, http.StatusInternalServerError, p.Status)
}
