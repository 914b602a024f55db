package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio"

	"github.com/andresmejia3/rollcall/internal/types"
)

// record is the on-disk identity document.
type record struct {
	UserID           string         `json:"user_id"`
	UserName         string         `json:"user_name"`
	Department       string         `json:"department"`
	FaceEncodings    []types.Vector `json:"face_encodings"`
	SampleCount      int            `json:"sample_count"`
	RegistrationDate string         `json:"registration_date"`
}

// FileStore keeps each identity at <root>/<id>/<id>_data.json.
type FileStore struct {
	root   string
	logger *slog.Logger
}

// NewFileStore creates root if needed.
func NewFileStore(root string, logger *slog.Logger) (*FileStore, error) {
	if root == "" {
		return nil, errors.New("file store: data directory is empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, &types.StorageError{Op: "init", Key: root, Err: err}
	}
	return &FileStore{root: root, logger: logger.With("component", "file_store")}, nil
}

// Path is where the record for id lives.
func (s *FileStore) Path(id string) string {
	return filepath.Join(s.root, id, id+"_data.json")
}

func (s *FileStore) Save(_ context.Context, ident types.Identity) error {
	if err := types.ValidateID(ident.ID); err != nil {
		return &types.StorageError{Op: "save", Key: ident.ID, Err: err}
	}
	if !ident.Complete() {
		return &types.StorageError{Op: "save", Key: ident.ID, Err: types.ErrIncompleteIdentity}
	}

	data, err := json.Marshal(record{
		UserID:           ident.ID,
		UserName:         ident.Name,
		Department:       ident.Department,
		FaceEncodings:    ident.Embeddings,
		SampleCount:      ident.SampleCount,
		RegistrationDate: ident.EnrolledAt.Format(types.TimeLayout),
	})
	if err != nil {
		return &types.StorageError{Op: "encode", Key: ident.ID, Err: err}
	}

	if err := os.MkdirAll(filepath.Join(s.root, ident.ID), 0o755); err != nil {
		return &types.StorageError{Op: "save", Key: ident.ID, Err: err}
	}
	// Temp file + fsync + rename: readers see the old record or the new one, never a mix
	if err := renameio.WriteFile(s.Path(ident.ID), data, 0o644); err != nil {
		return &types.StorageError{Op: "save", Key: ident.ID, Err: err}
	}
	s.logger.Debug("identity saved", "user_id", ident.ID, "samples", ident.SampleCount)
	return nil
}

func (s *FileStore) Get(_ context.Context, id string) (types.Identity, error) {
	if err := types.ValidateID(id); err != nil {
		return types.Identity{}, &types.StorageError{Op: "get", Key: id, Err: err}
	}
	ident, err := s.read(id)
	if errors.Is(err, fs.ErrNotExist) {
		return types.Identity{}, fmt.Errorf("%w: %s", types.ErrIdentityNotFound, id)
	}
	if err != nil {
		return types.Identity{}, &types.StorageError{Op: "get", Key: id, Err: err}
	}
	return ident, nil
}

func (s *FileStore) LoadAll(_ context.Context) (map[string]types.Identity, []string, error) {
	identities := make(map[string]types.Identity)

	entries, err := os.ReadDir(s.root)
	if errors.Is(err, fs.ErrNotExist) {
		return identities, nil, nil
	}
	if err != nil {
		return nil, nil, &types.StorageError{Op: "list", Key: s.root, Err: err}
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id := e.Name()
		ident, err := s.read(id)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			s.logger.Warn("skipping unreadable identity", "user_id", id, "error", err)
			continue
		}
		identities[id] = ident
	}
	return identities, Order(identities), nil
}

func (s *FileStore) Close(context.Context) {}

func (s *FileStore) read(id string) (types.Identity, error) {
	f, err := os.Open(s.Path(id))
	if err != nil {
		return types.Identity{}, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return types.Identity{}, err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return types.Identity{}, err
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return types.Identity{}, fmt.Errorf("decoding record: %w", err)
	}
	if rec.UserID != id {
		return types.Identity{}, fmt.Errorf("record user_id %q does not match its location", rec.UserID)
	}
	enrolledAt, err := time.ParseInLocation(types.TimeLayout, rec.RegistrationDate, time.Local)
	if err != nil {
		return types.Identity{}, fmt.Errorf("registration_date: %w", err)
	}
	ident := types.Identity{
		ID:          rec.UserID,
		Name:        rec.UserName,
		Department:  rec.Department,
		Embeddings:  rec.FaceEncodings,
		SampleCount: rec.SampleCount,
		EnrolledAt:  enrolledAt,
		SavedAt:     info.ModTime(),
	}
	if !ident.Complete() {
		return types.Identity{}, fmt.Errorf("%w: %d embeddings, sample_count %d",
			types.ErrIncompleteIdentity, len(ident.Embeddings), ident.SampleCount)
	}
	return ident, nil
}
