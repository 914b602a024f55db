package camera

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/andresmejia3/rollcall/internal/types"
)

// DirSource replays still images from a directory in lexical file order.
// It ends with a CaptureError wrapping io.EOF once every file has been delivered.
type DirSource struct {
	files []string
	next  int
}

// OpenDir lists the JPEG and PNG files in path.
func OpenDir(path string) (*DirSource, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, &types.CaptureError{Op: "open", Err: err}
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png":
			files = append(files, filepath.Join(path, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, &types.CaptureError{Op: "open", Err: fmt.Errorf("no images in %s", path)}
	}
	sort.Strings(files)
	return &DirSource{files: files}, nil
}

func (d *DirSource) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, &types.CaptureError{Op: "read", Err: err}
	}
	if d.next >= len(d.files) {
		return nil, &types.CaptureError{Op: "read", Err: io.EOF}
	}
	data, err := os.ReadFile(d.files[d.next])
	d.next++
	if err != nil {
		return nil, &types.CaptureError{Op: "read", Err: err}
	}
	return data, nil
}

func (d *DirSource) Close() error { return nil }

// Len is the number of frames the source will deliver in total.
func (d *DirSource) Len() int { return len(d.files) }
