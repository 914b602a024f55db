package store

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresmejia3/rollcall/internal/types"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func samples(n int, base float64) []types.Vector {
	out := make([]types.Vector, n)
	for i := range out {
		out[i] = types.Vector{base, base + float64(i)/100, 0.25}
	}
	return out
}

func identity(id string, n int, base float64, at time.Time) types.Identity {
	return types.Identity{
		ID:          id,
		Name:        "Name " + id,
		Department:  "Eng",
		Embeddings:  samples(n, base),
		SampleCount: n,
		EnrolledAt:  at,
	}
}

func newFileStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(filepath.Join(t.TempDir(), "user_data"), quietLogger())
	require.NoError(t, err)
	return s
}

func TestFileStore_SaveAndLoad(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(t)

	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.Local)
	require.NoError(t, s.Save(ctx, identity("U002", 10, 0.2, at.Add(time.Minute))))
	require.NoError(t, s.Save(ctx, identity("U001", 10, 0.1, at)))

	_, err := os.Stat(filepath.Join(s.root, "U001", "U001_data.json"))
	require.NoError(t, err, "record path is derived from the id")

	all, order, err := s.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, []string{"U001", "U002"}, order, "ordered by enrollment time")

	got := all["U001"]
	assert.Equal(t, "Name U001", got.Name)
	assert.Equal(t, "Eng", got.Department)
	assert.Equal(t, 10, got.SampleCount)
	assert.Equal(t, samples(10, 0.1), got.Embeddings)
	assert.True(t, got.EnrolledAt.Equal(at))

	one, err := s.Get(ctx, "U002")
	require.NoError(t, err)
	assert.Equal(t, samples(10, 0.2), one.Embeddings)
}

func TestFileStore_LoadAllEmpty(t *testing.T) {
	s := newFileStore(t)
	all, order, err := s.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Empty(t, order)
}

func TestFileStore_ReEnrollmentOverwrites(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(t)

	first := identity("U001", 10, 0.1, time.Now())
	require.NoError(t, s.Save(ctx, first))

	second := identity("U001", 10, 0.9, time.Now())
	second.Name = "Alice"
	require.NoError(t, s.Save(ctx, second))

	all, _, err := s.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	got := all["U001"]
	assert.Equal(t, "Alice", got.Name)
	assert.Equal(t, second.Embeddings, got.Embeddings)
	for _, old := range first.Embeddings {
		assert.NotContains(t, got.Embeddings, old)
	}
}

func TestFileStore_RejectsIncompleteAndUnsafe(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(t)

	partial := identity("U001", 10, 0.1, time.Now())
	partial.Embeddings = partial.Embeddings[:7]
	err := s.Save(ctx, partial)
	var storageErr *types.StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.ErrorIs(t, err, types.ErrIncompleteIdentity)

	assert.Error(t, s.Save(ctx, identity("../escape", 3, 0.1, time.Now())))

	all, _, err := s.LoadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestFileStore_SkipsCorruptRecords(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(t)
	require.NoError(t, s.Save(ctx, identity("U001", 10, 0.1, time.Now())))

	write := func(id, body string) {
		require.NoError(t, os.MkdirAll(filepath.Join(s.root, id), 0o755))
		require.NoError(t, os.WriteFile(s.Path(id), []byte(body), 0o644))
	}
	write("BAD1", "{not json")
	write("BAD2", `{"user_id":"BAD2","face_encodings":[[1,2]],"sample_count":10,"registration_date":"2026-01-01 00:00:00"}`)
	write("BAD3", `{"user_id":"OTHER","face_encodings":[[1]],"sample_count":1,"registration_date":"2026-01-01 00:00:00"}`)
	require.NoError(t, os.MkdirAll(filepath.Join(s.root, "EMPTY"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(s.root, "stray.txt"), []byte("x"), 0o644))

	all, order, err := s.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"U001"}, order)
	assert.Len(t, all, 1)
}

func TestFileStore_LoadAllOnlyCompleteIdentities(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(t)

	for i, n := range []int{10, 5, 10} {
		id := []string{"A", "B", "C"}[i]
		require.NoError(t, s.Save(ctx, identity(id, n, float64(i), time.Now())))
	}
	all, _, err := s.LoadAll(ctx)
	require.NoError(t, err)
	for id, ident := range all {
		assert.Len(t, ident.Embeddings, ident.SampleCount, id)
	}
	assert.Len(t, all["B"].Embeddings, 5)
}

func TestFileStore_GetMissing(t *testing.T) {
	s := newFileStore(t)
	_, err := s.Get(context.Background(), "nobody")
	assert.ErrorIs(t, err, types.ErrIdentityNotFound)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	st, err := Open(ctx, Config{DataDir: t.TempDir()}, quietLogger())
	require.NoError(t, err)
	_, ok := st.(*FileStore)
	assert.True(t, ok, "file backend is the default")
	st.Close(ctx)

	_, err = Open(ctx, Config{Backend: "sqlite"}, quietLogger())
	assert.Error(t, err)

	_, err = NewFileStore("", nil)
	assert.Error(t, err)
}

func TestOrder(t *testing.T) {
	at := time.Now()
	ids := map[string]types.Identity{
		"b": {ID: "b", EnrolledAt: at},
		"a": {ID: "a", EnrolledAt: at},
		"z": {ID: "z", EnrolledAt: at.Add(-time.Hour)},
	}
	assert.Equal(t, []string{"z", "a", "b"}, Order(ids))

	// Same registration second: the earlier write wins over the smaller id.
	ids["b"] = types.Identity{ID: "b", EnrolledAt: at, SavedAt: at.Add(time.Millisecond)}
	ids["a"] = types.Identity{ID: "a", EnrolledAt: at, SavedAt: at.Add(2 * time.Millisecond)}
	assert.Equal(t, []string{"z", "b", "a"}, Order(ids))
}

func TestFileStore_SameSecondKeepsWriteOrder(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(t)

	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.Local)
	require.NoError(t, s.Save(ctx, identity("U900", 3, 0.9, at.Add(400*time.Millisecond))))
	require.NoError(t, s.Save(ctx, identity("U100", 3, 0.1, at.Add(700*time.Millisecond))))

	// Pin the write times so the check does not depend on filesystem timestamp resolution.
	written := time.Now()
	require.NoError(t, os.Chtimes(s.Path("U900"), written, written))
	require.NoError(t, os.Chtimes(s.Path("U100"), written.Add(time.Second), written.Add(time.Second)))

	all, order, err := s.LoadAll(ctx)
	require.NoError(t, err)
	assert.True(t, all["U900"].EnrolledAt.Equal(all["U100"].EnrolledAt), "registration dates share a second")
	assert.Equal(t, []string{"U900", "U100"}, order)
}
