package persistence

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDescribeDetectsCapabilities(t *testing.T) {
	t.Parallel()

	user := Describe[User]()
	require.Equal(t, "User", user.Entity)
	require.Equal(t, UsersTable, user.Name)
	require.True(t, user.SoftDelete)
	require.Empty(t, user.CreatedByColumn)
	require.Len(t, user.Relations, 2)

	contact := Describe[Contact]()
	require.True(t, contact.SoftDelete)
	require.Equal(t, "created_by", contact.CreatedByColumn)

	tactic := Describe[RapportTactic]()
	require.False(t, tactic.SoftDelete)
	require.Empty(t, tactic.Relations)
}

func TestRegistryResolve(t *testing.T) {
	t.Parallel()

	r := CoreRegistry()

	for _, name := range []string{"Contact", "contact", "contacts", " CONTACTS "} {
		table, err := r.Resolve(name)
		require.NoError(t, err, name)
		require.Equal(t, "Contact", table.Entity)
	}

	_, err := r.Resolve("planet")
	require.ErrorIs(t, err, ErrUnknownEntity)

	var entities []string
	for _, table := range r.SoftDeletable() {
		entities = append(entities, table.Entity)
	}
	require.Equal(t, []string{"Contact", "Interaction", "User"}, entities)
	require.Len(t, r.Tables(), 5)
}

func TestNewRegistryValidation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		tables []Table
		errMsg string
	}{
		{
			name:   "missing entity",
			tables: []Table{{Name: "things"}},
			errMsg: "entity name is required",
		},
		{
			name:   "unsafe table name",
			tables: []Table{{Entity: "Thing", Name: "things; DROP"}},
			errMsg: "invalid table name",
		},
		{
			name:   "duplicate entity",
			tables: []Table{{Entity: "Thing", Name: "things"}, {Entity: "Thing", Name: "things2"}},
			errMsg: "registered twice",
		},
		{
			name: "unknown target",
			tables: []Table{{Entity: "Thing", Name: "things", Relations: []Relation{
				{Name: "owner", Kind: BelongsTo, Target: "Owner", ForeignKey: "owner_id"},
			}}},
			errMsg: "targets unknown entity Owner",
		},
		{
			name: "bad foreign key",
			tables: []Table{{Entity: "Thing", Name: "things", Relations: []Relation{
				{Name: "self", Kind: HasMany, Target: "Thing", ForeignKey: "Parent-ID"},
			}}},
			errMsg: "invalid foreign key",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewRegistry(tc.tables...)
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.errMsg)
		})
	}
}

func TestRelationKindString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "has_many", HasMany.String())
	require.Equal(t, "has_one", HasOne.String())
	require.Equal(t, "belongs_to", BelongsTo.String())
	require.Equal(t, "relation(9)", RelationKind(9).String())
}

func TestRegistryDependentsDropsOwners(t *testing.T) {
	t.Parallel()

	full := CoreRegistry()
	deps := full.Dependents()

	contact, ok := deps.Lookup("Contact")
	require.True(t, ok)
	require.Len(t, contact.Relations, 1)
	require.Equal(t, "interactions", contact.Relations[0].Name)

	interaction, ok := deps.Lookup("Interaction")
	require.True(t, ok)
	require.Empty(t, interaction.Relations)

	original, ok := full.Lookup("Contact")
	require.True(t, ok)
	require.Len(t, original.Relations, 2)
	require.Len(t, deps.Tables(), len(full.Tables()))
}

func TestSQLIdentifier(t *testing.T) {
	t.Parallel()

	name, err := sqlIdentifier("  rapport_tactics ")
	require.NoError(t, err)
	require.Equal(t, "rapport_tactics", name)

	for _, bad := range []string{"", "Contacts", "1st", "name; DROP", strings.Repeat("a", 64)} {
		_, err := sqlIdentifier(bad)
		require.ErrorIs(t, err, ErrInvalidIdentifier, bad)
	}
}
