// Package database is the PostgreSQL identity backend.
// Embeddings live in a pgvector column, one row per enrollment sample.
package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/andresmejia3/rollcall/internal/types"
)

// Store manages the PostgreSQL connection.
type Store struct {
	conn   *pgx.Conn
	logger *slog.Logger
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, &types.StorageError{Op: "connect", Err: err}
	}

	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, &types.StorageError{Op: "migrate", Err: fmt.Errorf("failed to initialize database schema: %w", err)}
	}

	return &Store{conn: conn, logger: logger.With("component", "pg_store")}, nil
}

// initSchema creates the tables and vector extension if they don't exist (Auto-Migration).
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS identities (
			user_id TEXT PRIMARY KEY,
			user_name TEXT NOT NULL,
			department TEXT NOT NULL,
			sample_count INT NOT NULL,
			registration_date TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS identity_embeddings (
			user_id TEXT NOT NULL REFERENCES identities(user_id) ON DELETE CASCADE,
			seq INT NOT NULL,
			embedding VECTOR NOT NULL,
			PRIMARY KEY (user_id, seq)
		);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// Save replaces the identity and all of its embeddings in one transaction.
func (s *Store) Save(ctx context.Context, ident types.Identity) error {
	if err := types.ValidateID(ident.ID); err != nil {
		return &types.StorageError{Op: "save", Key: ident.ID, Err: err}
	}
	if !ident.Complete() {
		return &types.StorageError{Op: "save", Key: ident.ID, Err: types.ErrIncompleteIdentity}
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return &types.StorageError{Op: "save", Key: ident.ID, Err: err}
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO identities (user_id, user_name, department, sample_count, registration_date)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			user_name = EXCLUDED.user_name,
			department = EXCLUDED.department,
			sample_count = EXCLUDED.sample_count,
			registration_date = EXCLUDED.registration_date
	`, ident.ID, ident.Name, ident.Department, ident.SampleCount, ident.EnrolledAt)
	if err != nil {
		return &types.StorageError{Op: "save", Key: ident.ID, Err: err}
	}

	// Re-enrollment replaces, never merges
	if _, err := tx.Exec(ctx, "DELETE FROM identity_embeddings WHERE user_id = $1", ident.ID); err != nil {
		return &types.StorageError{Op: "save", Key: ident.ID, Err: err}
	}

	batch := &pgx.Batch{}
	for i, vec := range ident.Embeddings {
		batch.Queue(
			"INSERT INTO identity_embeddings (user_id, seq, embedding) VALUES ($1, $2, $3::vector)",
			ident.ID, i, vecToString(vec),
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return &types.StorageError{Op: "save", Key: ident.ID, Err: err}
	}

	if err := tx.Commit(ctx); err != nil {
		return &types.StorageError{Op: "commit", Key: ident.ID, Err: err}
	}
	s.logger.Debug("identity saved", "user_id", ident.ID, "samples", ident.SampleCount)
	return nil
}

// Get loads one identity by id.
func (s *Store) Get(ctx context.Context, id string) (types.Identity, error) {
	var ident types.Identity
	err := s.conn.QueryRow(ctx, `
		SELECT user_id, user_name, department, sample_count, registration_date
		FROM identities WHERE user_id = $1
	`, id).Scan(&ident.ID, &ident.Name, &ident.Department, &ident.SampleCount, &ident.EnrolledAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.Identity{}, fmt.Errorf("%w: %s", types.ErrIdentityNotFound, id)
	}
	if err != nil {
		return types.Identity{}, &types.StorageError{Op: "get", Key: id, Err: err}
	}

	vecs, err := s.embeddings(ctx, "WHERE user_id = $1", id)
	if err != nil {
		return types.Identity{}, &types.StorageError{Op: "get", Key: id, Err: err}
	}
	ident.Embeddings = vecs[id]
	if !ident.Complete() {
		return types.Identity{}, &types.StorageError{Op: "get", Key: id, Err: types.ErrIncompleteIdentity}
	}
	return ident, nil
}

// LoadAll returns every complete identity ordered by registration date, then id.
func (s *Store) LoadAll(ctx context.Context) (map[string]types.Identity, []string, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT user_id, user_name, department, sample_count, registration_date
		FROM identities ORDER BY registration_date, user_id
	`)
	if err != nil {
		return nil, nil, &types.StorageError{Op: "list", Err: err}
	}

	var listed []types.Identity
	for rows.Next() {
		var ident types.Identity
		if err := rows.Scan(&ident.ID, &ident.Name, &ident.Department, &ident.SampleCount, &ident.EnrolledAt); err != nil {
			rows.Close()
			return nil, nil, &types.StorageError{Op: "list", Err: err}
		}
		listed = append(listed, ident)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, &types.StorageError{Op: "list", Err: err}
	}

	vecs, err := s.embeddings(ctx, "")
	if err != nil {
		return nil, nil, &types.StorageError{Op: "list", Err: err}
	}

	identities := make(map[string]types.Identity, len(listed))
	order := make([]string, 0, len(listed))
	for _, ident := range listed {
		ident.Embeddings = vecs[ident.ID]
		if !ident.Complete() {
			s.logger.Warn("skipping incomplete identity", "user_id", ident.ID,
				"embeddings", len(ident.Embeddings), "sample_count", ident.SampleCount)
			continue
		}
		identities[ident.ID] = ident
		order = append(order, ident.ID)
	}
	return identities, order, nil
}

// embeddings reads embedding rows, grouped by owner in sample order.
func (s *Store) embeddings(ctx context.Context, where string, args ...any) (map[string][]types.Vector, error) {
	rows, err := s.conn.Query(ctx,
		"SELECT user_id, embedding::text FROM identity_embeddings "+where+" ORDER BY user_id, seq", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]types.Vector)
	for rows.Next() {
		var id, text string
		if err := rows.Scan(&id, &text); err != nil {
			return nil, err
		}
		var v pgvector.Vector
		if err := v.Scan(text); err != nil {
			s.logger.Warn("skipping unreadable embedding", "user_id", id, "error", err)
			continue
		}
		out[id] = append(out[id], fromFloat32(v.Slice()))
	}
	return out, rows.Err()
}

// vecToString formats an embedding in the pgvector text format "[1,2,...]".
func vecToString(vec types.Vector) string {
	f := make([]float32, len(vec))
	for i, x := range vec {
		f[i] = float32(x)
	}
	return pgvector.NewVector(f).String()
}

func fromFloat32(f []float32) types.Vector {
	out := make(types.Vector, len(f))
	for i, x := range f {
		out[i] = float64(x)
	}
	return out
}
