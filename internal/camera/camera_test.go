package camera

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresmejia3/rollcall/internal/types"
)

func jpeg(payload ...byte) []byte {
	out := []byte{0xFF, 0xD8}
	out = append(out, payload...)
	return append(out, 0xFF, 0xD9)
}

func TestStreamCamera_DeliversFramesThenEOF(t *testing.T) {
	stream := io.NopCloser(bytes.NewReader(jpeg(0x01)))
	c := newStreamCamera(stream, time.Second)
	defer c.Close()

	frame, err := c.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, jpeg(0x01), frame)

	_, err = c.Next(context.Background())
	var capErr *types.CaptureError
	require.ErrorAs(t, err, &capErr)
	assert.ErrorIs(t, err, io.EOF)
}

func TestStreamCamera_KeepsNewestFrame(t *testing.T) {
	var buf bytes.Buffer
	for i := byte(1); i <= 5; i++ {
		buf.Write(jpeg(i))
	}
	c := newStreamCamera(io.NopCloser(&buf), time.Second)
	defer c.Close()

	// Let the pump consume the whole stream before reading
	<-c.done

	frame, err := c.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, jpeg(5), frame, "stale frames should be dropped")
}

func TestStreamCamera_ReadTimeout(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	c := newStreamCamera(pr, 10*time.Millisecond)
	_, err := c.Next(context.Background())
	assert.ErrorIs(t, err, ErrReadTimeout)

	require.NoError(t, c.Close())
}

func TestStreamCamera_Cancelled(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	c := newStreamCamera(pr, 0)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStreamCamera_CloseIsIdempotent(t *testing.T) {
	c := newStreamCamera(io.NopCloser(bytes.NewReader(nil)), 0)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
}

func TestDirSource(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.jpg"), []byte("second"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.JPEG"), []byte("first"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o644))

	src, err := Open(context.Background(), Config{Device: "dir:" + dir})
	require.NoError(t, err)
	defer src.Close()

	ds, ok := src.(*DirSource)
	require.True(t, ok)
	assert.Equal(t, 2, ds.Len())

	f1, err := src.Next(context.Background())
	require.NoError(t, err)
	f2, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first", string(f1))
	assert.Equal(t, "second", string(f2))

	_, err = src.Next(context.Background())
	assert.True(t, errors.Is(err, io.EOF))
}

func TestOpenDir_Empty(t *testing.T) {
	_, err := OpenDir(t.TempDir())
	var capErr *types.CaptureError
	assert.ErrorAs(t, err, &capErr)
}

func TestOpen_NoDevice(t *testing.T) {
	_, err := Open(context.Background(), Config{})
	assert.Error(t, err)
}
