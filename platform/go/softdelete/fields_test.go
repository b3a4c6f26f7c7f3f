package softdelete

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func strPtr(v string) *string { return &v }

func TestSoftDeleteThenRestoreRoundTrip(t *testing.T) {
	t.Parallel()

	var f Fields
	initial := f

	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, f.SoftDelete(now, strPtr("admin"), strPtr("cleanup")))
	require.True(t, f.IsSoftDeleted())
	require.Equal(t, now, *f.DeletedAt)
	require.Equal(t, "admin", *f.DeletedBy)
	require.Equal(t, "cleanup", *f.DeletionReason)

	require.NoError(t, f.Restore())
	require.Equal(t, initial, f)
	require.False(t, f.IsSoftDeleted())
}

func TestSoftDeleteTwiceIsStateError(t *testing.T) {
	t.Parallel()

	var f Fields
	require.NoError(t, f.SoftDelete(time.Now(), nil, nil))
	require.ErrorIs(t, f.SoftDelete(time.Now(), nil, nil), ErrAlreadyDeleted)
}

func TestRestoreActiveIsStateError(t *testing.T) {
	t.Parallel()

	var f Fields
	require.ErrorIs(t, f.Restore(), ErrNotDeleted)
}

func TestSoftDeleteCopiesAuditValues(t *testing.T) {
	t.Parallel()

	actor := "u-1"
	var f Fields
	require.NoError(t, f.SoftDelete(time.Now(), &actor, nil))
	actor = "changed"
	require.Equal(t, "u-1", *f.DeletedBy)
	require.Nil(t, f.DeletionReason)
}

func TestIsSoftDeletedRequiresFlagAndTimestamp(t *testing.T) {
	t.Parallel()

	now := time.Now()
	cases := []struct {
		name   string
		fields Fields
		want   bool
	}{
		{name: "active", fields: Fields{}, want: false},
		{name: "flag only", fields: Fields{IsDeleted: true}, want: false},
		{name: "timestamp only", fields: Fields{DeletedAt: &now}, want: false},
		{name: "deleted", fields: Fields{IsDeleted: true, DeletedAt: &now}, want: true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, tc.fields.IsSoftDeleted())
		})
	}
}

type note struct {
	Fields
	Body string
}

func TestEmbeddingProvidesCapability(t *testing.T) {
	t.Parallel()

	var n note
	var d Deletable = &n
	require.NoError(t, d.DeletionState().SoftDelete(time.Now(), nil, nil))
	require.True(t, n.IsDeleted)
}
