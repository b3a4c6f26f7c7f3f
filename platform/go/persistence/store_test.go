package persistence

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/collabridge/rapport-tracker/platform/go/softdelete"
)

func TestNewStoreValidatesSchema(t *testing.T) {
	t.Parallel()

	db := NewDB(&fakePool{tx: &fakeTx{}})

	_, err := NewStore(db, Schema[User]{Table: Describe[User](), Columns: userColumns})
	require.ErrorContains(t, err, "scan func is required")

	schema := UserSchema()
	schema.Writable = append(schema.Writable, "bad column")
	_, err = NewStore(db, schema)
	require.ErrorContains(t, err, "invalid writable column")

	_, err = NewStore(nil, UserSchema())
	require.Error(t, err)
}

func TestStoreBuildOrderBy(t *testing.T) {
	t.Parallel()

	store := MustStore(NewDB(&fakePool{tx: &fakeTx{}}), UserSchema())
	ptr := func(s string) *string { return &s }

	order, err := store.buildOrderBy(nil)
	require.NoError(t, err)
	require.Equal(t, "ORDER BY created_at DESC", order)

	order, err = store.buildOrderBy(ptr("-createdAt, email"))
	require.NoError(t, err)
	require.Equal(t, `ORDER BY "created_at" DESC, "email" ASC`, order)

	_, err = store.buildOrderBy(ptr("hashedPassword"))
	require.ErrorContains(t, err, "unsupported sort field")
}

func TestStoreRejectsUnknownColumns(t *testing.T) {
	t.Parallel()

	store := MustStore(NewDB(&fakePool{tx: &fakeTx{}}), UserSchema())

	_, err := store.Insert(context.Background(), Values{"is_deleted": true})
	require.ErrorContains(t, err, `column "is_deleted" is not writable`)

	_, err = store.Update(context.Background(), uuid.New(), Values{})
	require.ErrorIs(t, err, ErrNoFieldsToUpdate)
}

func TestStoreSoftDeleteRequiresCapability(t *testing.T) {
	t.Parallel()

	pool := &fakePool{tx: &fakeTx{}}
	store := MustStore(NewDB(pool), TacticSchema())

	_, err := store.SoftDelete(context.Background(), uuid.New(), nil, nil)
	require.ErrorIs(t, err, ErrNotSoftDeletable)
	_, err = store.Restore(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrNotSoftDeletable)
	require.Zero(t, pool.begins)
}

func TestWhereBuilderScopes(t *testing.T) {
	t.Parallel()

	w := &whereBuilder{}
	require.NoError(t, w.add(Eq("user_id", "u1"), Contains("name", " ann ")))
	require.Equal(t, []any{"u1", "%ann%"}, w.args)

	users := Describe[User]()
	require.Equal(t, `(is_deleted = FALSE) AND ("user_id" = $1) AND ("name" ILIKE $2)`, w.sql(users, softdelete.ScopeActive))

	tactics := Describe[RapportTactic]()
	require.Equal(t, `("user_id" = $1) AND ("name" ILIKE $2)`, w.sql(tactics, softdelete.ScopeDeleted))

	require.Error(t, w.add(Condition{Column: "name", Op: "LIKE", Value: "x"}))
	require.Error(t, w.add(Eq("1=1 OR name", "x")))
}
