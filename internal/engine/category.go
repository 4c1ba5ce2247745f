package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"formbridge/internal/instrument"
	"formbridge/internal/metadata"
	"formbridge/internal/store"
)

// CategoryResolver maps a free-text submission value to a taxonomy term
// through a webhook's category mapping, creating the term on first use.
type CategoryResolver struct {
	repo    ContentRepository
	metrics *instrument.Metrics
}

func NewCategoryResolver(repo ContentRepository, metrics *instrument.Metrics) *CategoryResolver {
	return &CategoryResolver{repo: repo, metrics: metrics}
}

// Resolve returns the term id for rawValue, or ok=false when the value is not
// in the mapping. Matching is case-insensitive and ignores surrounding space.
func (r *CategoryResolver) Resolve(ctx context.Context, rawValue string, mapping map[string]string, taxonomy string) (termID string, ok bool, err error) {
	slug := strings.TrimSpace(mapping[metadata.MappingKey(rawValue)])
	if slug == "" {
		return "", false, nil
	}
	if taxonomy == "" {
		taxonomy = metadata.DefaultTaxonomy
	}

	term, err := r.repo.FindTerm(ctx, taxonomy, slug)
	if err == nil {
		return term.ID, true, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", false, fmt.Errorf("find term %s/%s: %w", taxonomy, slug, err)
	}

	term = &metadata.Term{Taxonomy: taxonomy, Slug: slug, Name: TermName(slug)}
	if err := r.repo.CreateTerm(ctx, term); err != nil {
		if errors.Is(err, store.ErrUniqueViolation) {
			// another delivery created it first
			existing, findErr := r.repo.FindTerm(ctx, taxonomy, slug)
			if findErr == nil {
				return existing.ID, true, nil
			}
		}
		return "", false, fmt.Errorf("create term %s/%s: %w", taxonomy, slug, err)
	}

	zerolog.Ctx(ctx).Info().Str("taxonomy", taxonomy).Str("slug", slug).Msg("term created")
	r.metrics.ObserveTermCreated(taxonomy)
	return term.ID, true, nil
}

// TermName humanizes a slug for display: hyphens become spaces and each word
// is capitalized. "hot-leads" becomes "Hot Leads".
func TermName(slug string) string {
	// Casers keep state and are not safe to share across goroutines.
	return cases.Title(language.Und, cases.NoLower).String(strings.ReplaceAll(slug, "-", " "))
}
