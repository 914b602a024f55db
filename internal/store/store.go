// Package store persists enrolled identities.
//
// Two backends implement Store: FileStore keeps one JSON document per identity under a data
// directory, and database.Store keeps identities in PostgreSQL with pgvector columns.
// Both write an identity as one atomic unit and replace any earlier record with the same id.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/andresmejia3/rollcall/internal/database"
	"github.com/andresmejia3/rollcall/internal/types"
)

// Store is the identity store contract shared by every backend.
type Store interface {
	// LoadAll returns every complete identity and the ids in enumeration order.
	// Unreadable records are skipped, not fatal.
	LoadAll(ctx context.Context) (map[string]types.Identity, []string, error)
	// Save writes the identity atomically, overwriting an existing record with the same id.
	Save(ctx context.Context, ident types.Identity) error
	// Get looks one identity up by id.
	Get(ctx context.Context, id string) (types.Identity, error)
	Close(ctx context.Context)
}

const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
)

// Config selects a backend.
type Config struct {
	Backend     string
	DataDir     string
	DatabaseURL string
}

// Open returns the configured backend.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (Store, error) {
	switch cfg.Backend {
	case "", BackendFile:
		fs, err := NewFileStore(cfg.DataDir, logger)
		if err != nil {
			return nil, err
		}
		return fs, nil
	case BackendPostgres:
		db, err := database.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, err
		}
		return db, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}

// Order sorts ids by enrollment time, then save time, then id, which is the population
// enumeration order. Registration dates only carry whole seconds, so two enrollments in the
// same second keep the order they were written in.
func Order(identities map[string]types.Identity) []string {
	ids := make([]string, 0, len(identities))
	for id := range identities {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := identities[ids[i]], identities[ids[j]]
		if !a.EnrolledAt.Equal(b.EnrolledAt) {
			return a.EnrolledAt.Before(b.EnrolledAt)
		}
		if !a.SavedAt.Equal(b.SavedAt) {
			return a.SavedAt.Before(b.SavedAt)
		}
		return a.ID < b.ID
	})
	return ids
}
