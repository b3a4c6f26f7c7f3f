package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/collabridge/rapport-tracker/platform/go/dataservice"
	"github.com/collabridge/rapport-tracker/platform/go/persistence"
)

type mockRepository struct {
	listFn func(ctx context.Context, query dataservice.ListQuery) (dataservice.Page[persistence.RapportTactic], error)
	seedFn func(ctx context.Context, tactics []persistence.RapportTactic) (int, error)
}

func (m *mockRepository) List(ctx context.Context, query dataservice.ListQuery) (dataservice.Page[persistence.RapportTactic], error) {
	if m.listFn == nil {
		panic("listFn not configured")
	}
	return m.listFn(ctx, query)
}

func (m *mockRepository) Seed(ctx context.Context, tactics []persistence.RapportTactic) (int, error) {
	if m.seedFn == nil {
		panic("seedFn not configured")
	}
	return m.seedFn(ctx, tactics)
}

func TestListFiltersByDomain(t *testing.T) {
	t.Parallel()

	repo := &mockRepository{}
	repo.listFn = func(ctx context.Context, query dataservice.ListQuery) (dataservice.Page[persistence.RapportTactic], error) {
		require.Equal(t, dataservice.MaxPageSize, query.PageSize)
		require.Equal(t, []persistence.Condition{persistence.Eq("domain", "Social Psychology")}, query.Filters)
		return dataservice.Page[persistence.RapportTactic]{Items: []persistence.RapportTactic{
			{ID: uuid.New(), Name: "Behavioral Mimicry (Chameleon Effect)", Domain: persistence.DomainSocialPsychology},
		}}, nil
	}

	domain := " Social Psychology "
	tactics, err := New(repo).List(context.Background(), &domain)
	require.NoError(t, err)
	require.Len(t, tactics, 1)
	require.Equal(t, "Social Psychology", tactics[0].Domain)
}

func TestListRejectsUnknownDomain(t *testing.T) {
	t.Parallel()

	domain := "Astrology"
	_, err := New(&mockRepository{}).List(context.Background(), &domain)
	require.ErrorIs(t, err, ErrInvalidDomain)
}

func TestSeedUsesBuiltInCatalogue(t *testing.T) {
	t.Parallel()

	repo := &mockRepository{}
	repo.seedFn = func(ctx context.Context, tactics []persistence.RapportTactic) (int, error) {
		require.Len(t, tactics, 7)
		return 7, nil
	}

	n, err := New(repo).Seed(context.Background())
	require.NoError(t, err)
	require.Equal(t, 7, n)
}
