// Package registry resolves trained model artifacts by family, station
// scope and horizon.
package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/swfm/riverml/internal/models"
	"github.com/swfm/riverml/internal/regress"
	"github.com/swfm/riverml/internal/store"
)

// ErrNotFound means no artifact matches the requested triple.
var ErrNotFound = errors.New("no model artifact found")

// ScopeUnified is the station scope of models trained across all stations
// with station identity carried as a feature.
const ScopeUnified = "unified"

// ModelName builds the canonical artifact name for a triple, e.g.
// "swfm-ridge-unified-30min".
func ModelName(family, scope string, horizonMinutes int) string {
	return fmt.Sprintf("swfm-%s-%s-%dmin", family, scope, horizonMinutes)
}

type Registry struct {
	store *store.Store
}

func New(st *store.Store) *Registry {
	return &Registry{store: st}
}

// Resolve returns the latest version of the artifact for the exact triple.
func (r *Registry) Resolve(ctx context.Context, family, scope string, horizonMinutes int) (*models.ModelArtifact, error) {
	art, err := r.store.GetLatestModelArtifact(ctx, family, scope, horizonMinutes)
	if err != nil {
		return nil, err
	}
	if art == nil {
		return nil, fmt.Errorf("%s: %w", ModelName(family, scope, horizonMinutes), ErrNotFound)
	}
	return art, nil
}

// ResolveBest tries the preferred families in order (ridge first, then
// plain linear) and returns the first artifact found for the scope/horizon.
func (r *Registry) ResolveBest(ctx context.Context, scope string, horizonMinutes int) (*models.ModelArtifact, error) {
	for _, family := range []string{regress.FamilyRidge, regress.FamilyLinear} {
		art, err := r.store.GetLatestModelArtifact(ctx, family, scope, horizonMinutes)
		if err != nil {
			return nil, err
		}
		if art != nil {
			return art, nil
		}
	}
	return nil, fmt.Errorf("scope %s horizon %dmin: %w", scope, horizonMinutes, ErrNotFound)
}
