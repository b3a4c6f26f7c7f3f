package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/collabridge/rapport-tracker/platform/go/dataservice"
	"github.com/collabridge/rapport-tracker/platform/go/persistence"
	"github.com/collabridge/rapport-tracker/platform/go/softdelete"
)

type mockRepository struct {
	createFn     func(ctx context.Context, values persistence.Values, logs []persistence.TacticLogValues) (persistence.Interaction, error)
	getContactFn func(ctx context.Context, id uuid.UUID) (persistence.Contact, error)
	getFn        func(ctx context.Context, id uuid.UUID, opts dataservice.GetOptions) (persistence.Interaction, error)
	listFn       func(ctx context.Context, query dataservice.ListQuery) (dataservice.Page[persistence.Interaction], error)
	updateFn     func(ctx context.Context, id uuid.UUID, values persistence.Values) (persistence.Interaction, error)
	softDeleteFn func(ctx context.Context, id uuid.UUID, opts dataservice.DeleteOptions) (dataservice.DeleteResult, error)
	restoreFn    func(ctx context.Context, id uuid.UUID) (bool, error)
}

func (m *mockRepository) CreateWithTacticLogs(ctx context.Context, values persistence.Values, logs []persistence.TacticLogValues) (persistence.Interaction, error) {
	if m.createFn == nil {
		panic("createFn not configured")
	}
	return m.createFn(ctx, values, logs)
}

func (m *mockRepository) GetContact(ctx context.Context, id uuid.UUID) (persistence.Contact, error) {
	if m.getContactFn == nil {
		panic("getContactFn not configured")
	}
	return m.getContactFn(ctx, id)
}

func (m *mockRepository) Get(ctx context.Context, id uuid.UUID, opts dataservice.GetOptions) (persistence.Interaction, error) {
	if m.getFn == nil {
		panic("getFn not configured")
	}
	return m.getFn(ctx, id, opts)
}

func (m *mockRepository) List(ctx context.Context, query dataservice.ListQuery) (dataservice.Page[persistence.Interaction], error) {
	if m.listFn == nil {
		panic("listFn not configured")
	}
	return m.listFn(ctx, query)
}

func (m *mockRepository) Update(ctx context.Context, id uuid.UUID, values persistence.Values) (persistence.Interaction, error) {
	if m.updateFn == nil {
		panic("updateFn not configured")
	}
	return m.updateFn(ctx, id, values)
}

func (m *mockRepository) SoftDelete(ctx context.Context, id uuid.UUID, opts dataservice.DeleteOptions) (dataservice.DeleteResult, error) {
	if m.softDeleteFn == nil {
		panic("softDeleteFn not configured")
	}
	return m.softDeleteFn(ctx, id, opts)
}

func (m *mockRepository) Restore(ctx context.Context, id uuid.UUID) (bool, error) {
	if m.restoreFn == nil {
		panic("restoreFn not configured")
	}
	return m.restoreFn(ctx, id)
}

func intPtr(v int) *int { return &v }

func contactOf(owner uuid.UUID) func(ctx context.Context, id uuid.UUID) (persistence.Contact, error) {
	return func(ctx context.Context, id uuid.UUID) (persistence.Contact, error) {
		return persistence.Contact{ID: id, UserID: owner}, nil
	}
}

func interactionOf(owner uuid.UUID) func(ctx context.Context, id uuid.UUID, opts dataservice.GetOptions) (persistence.Interaction, error) {
	return func(ctx context.Context, id uuid.UUID, opts dataservice.GetOptions) (persistence.Interaction, error) {
		return persistence.Interaction{ID: id, UserID: owner, Medium: persistence.MediumInPerson}, nil
	}
}

func validInput(contactID uuid.UUID) CreateInput {
	return CreateInput{
		ContactID:           contactID,
		InteractionDatetime: time.Date(2024, 6, 3, 9, 30, 0, 0, time.FixedZone("CEST", 2*60*60)),
		Medium:              "Video Call",
		Topic:               " Quarterly goals ",
		RapportScorePost:    8,
	}
}

func TestCreateValidation(t *testing.T) {
	t.Parallel()

	svc := New(&mockRepository{})

	_, err := svc.Create(context.Background(), uuid.New(), CreateInput{
		Medium:           "Carrier pigeon",
		RapportScorePost: 11,
		TacticLogs:       []TacticLogInput{{TacticID: uuid.New(), EffectivenessScore: intPtr(9)}},
	})

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	require.Contains(t, verr.Fields, "contactId")
	require.Contains(t, verr.Fields, "interactionDatetime")
	require.Contains(t, verr.Fields, "medium")
	require.Contains(t, verr.Fields, "topic")
	require.Equal(t, []string{"must be at most 10"}, verr.Fields["rapportScorePost"])
	require.Equal(t, []string{"must be at most 5"}, verr.Fields["tacticLogs[0].effectivenessScore"])
}

func TestCreateRejectsDuplicateTactics(t *testing.T) {
	t.Parallel()

	tactic := uuid.New()
	input := validInput(uuid.New())
	input.TacticLogs = []TacticLogInput{{TacticID: tactic}, {TacticID: tactic}}

	_, err := New(&mockRepository{}).Create(context.Background(), uuid.New(), input)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	require.Contains(t, verr.Fields, "tacticLogs")
}

func TestCreateForeignContactForbidden(t *testing.T) {
	t.Parallel()

	repo := &mockRepository{getContactFn: contactOf(uuid.New())}

	_, err := New(repo).Create(context.Background(), uuid.New(), validInput(uuid.New()))
	require.ErrorIs(t, err, ErrForbidden)
}

func TestCreateMissingContact(t *testing.T) {
	t.Parallel()

	repo := &mockRepository{}
	repo.getContactFn = func(ctx context.Context, id uuid.UUID) (persistence.Contact, error) {
		return persistence.Contact{}, fmt.Errorf("get Contact: %w", persistence.ErrRecordNotFound)
	}

	_, err := New(repo).Create(context.Background(), uuid.New(), validInput(uuid.New()))

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	require.Contains(t, verr.Fields, "contactId")
}

func TestCreateWithTacticLogs(t *testing.T) {
	t.Parallel()

	owner := uuid.New()
	contactID := uuid.New()
	tactic := uuid.New()

	repo := &mockRepository{getContactFn: contactOf(owner)}
	repo.createFn = func(ctx context.Context, values persistence.Values, logs []persistence.TacticLogValues) (persistence.Interaction, error) {
		require.Equal(t, owner, values["user_id"])
		require.Equal(t, "Quarterly goals", values["topic"])
		require.Equal(t, time.Date(2024, 6, 3, 7, 30, 0, 0, time.UTC), values["interaction_datetime"])
		require.Len(t, logs, 1)
		require.Equal(t, tactic, logs[0].TacticID)
		require.Equal(t, 4, *logs[0].EffectivenessScore)

		return persistence.Interaction{
			ID:         uuid.New(),
			UserID:     owner,
			ContactID:  contactID,
			Medium:     persistence.MediumVideoCall,
			TacticLogs: []persistence.InteractionTacticLog{{ID: uuid.New(), TacticID: tactic, EffectivenessScore: intPtr(4)}},
		}, nil
	}

	input := validInput(contactID)
	input.TacticLogs = []TacticLogInput{{TacticID: tactic, EffectivenessScore: intPtr(4)}}

	out, err := New(repo).Create(context.Background(), owner, input)
	require.NoError(t, err)
	require.Len(t, out.TacticLogs, 1)
	require.Equal(t, "Video Call", out.Medium)
}

func TestCreateUnknownTactic(t *testing.T) {
	t.Parallel()

	owner := uuid.New()
	repo := &mockRepository{getContactFn: contactOf(owner)}
	repo.createFn = func(ctx context.Context, values persistence.Values, logs []persistence.TacticLogValues) (persistence.Interaction, error) {
		return persistence.Interaction{}, fmt.Errorf("insert tactic log: %w", persistence.ErrConflict)
	}

	input := validInput(uuid.New())
	input.TacticLogs = []TacticLogInput{{TacticID: uuid.New()}}

	_, err := New(repo).Create(context.Background(), owner, input)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	require.Contains(t, verr.Fields, "tacticLogs")
}

func TestGetPassesPreloads(t *testing.T) {
	t.Parallel()

	owner := uuid.New()
	repo := &mockRepository{}
	repo.getFn = func(ctx context.Context, id uuid.UUID, opts dataservice.GetOptions) (persistence.Interaction, error) {
		require.Equal(t, []string{"tacticLogs"}, opts.Preload)
		return persistence.Interaction{ID: id, UserID: owner, TacticLogs: []persistence.InteractionTacticLog{}}, nil
	}

	out, err := New(repo).Get(context.Background(), owner, uuid.New(), GetOptions{With: []string{"tacticLogs"}})
	require.NoError(t, err)
	require.NotNil(t, out.TacticLogs)
	require.Empty(t, out.TacticLogs)
}

func TestGetUnknownPreload(t *testing.T) {
	t.Parallel()

	repo := &mockRepository{}
	repo.getFn = func(ctx context.Context, id uuid.UUID, opts dataservice.GetOptions) (persistence.Interaction, error) {
		return persistence.Interaction{}, &dataservice.ValidationError{Fields: map[string][]string{"with": {`unknown relation "drafts"`}}}
	}

	_, err := New(repo).Get(context.Background(), uuid.New(), uuid.New(), GetOptions{With: []string{"drafts"}})

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	require.Contains(t, verr.Fields, "with")
}

func TestListFilters(t *testing.T) {
	t.Parallel()

	owner := uuid.New()
	contactID := uuid.New()
	repo := &mockRepository{}
	repo.listFn = func(ctx context.Context, query dataservice.ListQuery) (dataservice.Page[persistence.Interaction], error) {
		require.Equal(t, []persistence.Condition{
			persistence.Eq("user_id", owner),
			persistence.Eq("contact_id", contactID),
			persistence.Eq("medium", "Email/Chat"),
		}, query.Filters)
		return dataservice.Page[persistence.Interaction]{Page: 1, PageSize: 20}, nil
	}

	medium := "Email/Chat"
	res, err := New(repo).List(context.Background(), owner, ListOptions{ContactID: &contactID, Medium: &medium})
	require.NoError(t, err)
	require.Empty(t, res.Interactions)
}

func TestUpdateValidatesScore(t *testing.T) {
	t.Parallel()

	_, err := New(&mockRepository{}).Update(context.Background(), uuid.New(), uuid.New(), UpdateInput{RapportScorePost: intPtr(0)})

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	require.Contains(t, verr.Fields, "rapportScorePost")
}

func TestUpdateSuccess(t *testing.T) {
	t.Parallel()

	owner := uuid.New()
	repo := &mockRepository{getFn: interactionOf(owner)}
	repo.updateFn = func(ctx context.Context, id uuid.UUID, values persistence.Values) (persistence.Interaction, error) {
		require.Equal(t, persistence.Values{"rapport_score_post": 9}, values)
		return persistence.Interaction{ID: id, UserID: owner, RapportScorePost: 9}, nil
	}

	out, err := New(repo).Update(context.Background(), owner, uuid.New(), UpdateInput{RapportScorePost: intPtr(9)})
	require.NoError(t, err)
	require.Equal(t, 9, out.RapportScorePost)
}

func TestDeleteAndRestore(t *testing.T) {
	t.Parallel()

	t.Run("delete foreign interaction", func(t *testing.T) {
		t.Parallel()

		repo := &mockRepository{getFn: interactionOf(uuid.New())}
		err := New(repo).Delete(context.Background(), uuid.New(), uuid.New(), DeleteInput{})
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("delete", func(t *testing.T) {
		t.Parallel()

		owner := uuid.New()
		repo := &mockRepository{getFn: interactionOf(owner)}
		repo.softDeleteFn = func(ctx context.Context, id uuid.UUID, opts dataservice.DeleteOptions) (dataservice.DeleteResult, error) {
			require.False(t, opts.Cascade)
			return dataservice.DeleteResult{Deleted: true}, nil
		}
		require.NoError(t, New(repo).Delete(context.Background(), owner, uuid.New(), DeleteInput{}))
	})

	t.Run("restore", func(t *testing.T) {
		t.Parallel()

		owner := uuid.New()
		deletedAt := time.Now().UTC()
		restored := false

		repo := &mockRepository{}
		repo.getFn = func(ctx context.Context, id uuid.UUID, opts dataservice.GetOptions) (persistence.Interaction, error) {
			i := persistence.Interaction{ID: id, UserID: owner}
			if !restored {
				i.Fields = softdelete.Fields{IsDeleted: true, DeletedAt: &deletedAt}
			}
			return i, nil
		}
		repo.restoreFn = func(ctx context.Context, id uuid.UUID) (bool, error) {
			restored = true
			return true, nil
		}

		out, err := New(repo).Restore(context.Background(), owner, uuid.New())
		require.NoError(t, err)
		require.Nil(t, out.Deletion)
	})
}
