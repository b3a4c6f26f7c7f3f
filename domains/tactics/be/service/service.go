package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/collabridge/rapport-tracker/domains/tactics/be/repo"
	"github.com/collabridge/rapport-tracker/platform/go/dataservice"
	"github.com/collabridge/rapport-tracker/platform/go/persistence"
)

// ErrInvalidDomain is returned for an unknown scientific domain filter.
var ErrInvalidDomain = errors.New("invalid tactic domain")

// Domains lists the accepted scientific domains.
var Domains = []persistence.ScientificDomain{
	persistence.DomainCommunication,
	persistence.DomainSocialPsychology,
	persistence.DomainInfluence,
}

// Tactic is a research-backed rapport technique.
type Tactic struct {
	ID          uuid.UUID
	Name        string
	Description string
	Domain      string
}

// Service defines the business operations for the tactics catalogue.
type Service interface {
	List(ctx context.Context, domain *string) ([]Tactic, error)
	// Seed inserts the built-in catalogue and reports how many tactics were new.
	Seed(ctx context.Context) (int, error)
}

type service struct {
	repo repo.Repository
}

// New constructs a tactics Service instance backed by the provided repository.
func New(r repo.Repository) Service {
	if r == nil {
		panic("tactics repository is required")
	}
	return &service{repo: r}
}

func (s *service) List(ctx context.Context, domain *string) ([]Tactic, error) {
	query := dataservice.ListQuery{PageSize: dataservice.MaxPageSize}
	if domain != nil {
		d := strings.TrimSpace(*domain)
		if !slices.Contains(Domains, persistence.ScientificDomain(d)) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidDomain, d)
		}
		query.Filters = append(query.Filters, persistence.Eq("domain", d))
	}

	page, err := s.repo.List(ctx, query)
	if err != nil {
		return nil, err
	}

	tactics := make([]Tactic, 0, len(page.Items))
	for _, t := range page.Items {
		tactics = append(tactics, Tactic{ID: t.ID, Name: t.Name, Description: t.Description, Domain: string(t.Domain)})
	}
	return tactics, nil
}

func (s *service) Seed(ctx context.Context) (int, error) {
	return s.repo.Seed(ctx, persistence.SeedTactics)
}
