// Package camera provides the frame sources used by enrollment and attendance sessions.
//
// A Source hands out one encoded JPEG frame per Next call. Every Source owns an external
// resource (a capture process, a directory handle) and must be closed on every exit path.
package camera

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrReadTimeout is returned when the device produces no frame within the read timeout.
var ErrReadTimeout = errors.New("no frame within read timeout")

// Source yields frames in arrival order.
type Source interface {
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// Config selects and tunes a frame source.
//
// Device is either a capture device understood by ffmpeg (/dev/video0, "0" on macOS)
// or "dir:<path>" to replay still images from a directory.
type Config struct {
	Device      string
	Format      string
	FPS         int
	ReadTimeout time.Duration
}

const dirPrefix = "dir:"

// Open starts the source described by cfg.
func Open(ctx context.Context, cfg Config) (Source, error) {
	if cfg.Device == "" {
		return nil, fmt.Errorf("no camera device configured")
	}
	if path, ok := strings.CutPrefix(cfg.Device, dirPrefix); ok {
		return OpenDir(path)
	}
	return OpenFFmpeg(ctx, cfg)
}
