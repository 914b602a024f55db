// Package ledger is the append-only attendance log.
//
// The ledger is a CSV file with the header
//
//	timestamp,user_id,user_name,department,action
//
// Record appends exactly one row and never reads or rewrites earlier rows.
package ledger

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/andresmejia3/rollcall/internal/types"
)

// Header is the first row of every ledger file.
var Header = []string{"timestamp", "user_id", "user_name", "department", "action"}

// Ledger appends attendance records to a CSV file.
type Ledger struct {
	path string
	mu   sync.Mutex
}

// New returns a ledger backed by path. The file is not touched until Init or Record.
func New(path string) *Ledger {
	return &Ledger{path: path}
}

// Path is the backing file.
func (l *Ledger) Path() string { return l.path }

// Init creates the file with its header if it is missing or empty.
func (l *Ledger) Init() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ensureHeader()
}

func (l *Ledger) ensureHeader() error {
	info, err := os.Stat(l.path)
	if err == nil && info.Size() > 0 {
		return nil
	}
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &types.StorageError{Op: "init", Key: l.path, Err: err}
	}
	if dir := filepath.Dir(l.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &types.StorageError{Op: "init", Key: l.path, Err: err}
		}
	}
	if err := l.append(Header); err != nil {
		return &types.StorageError{Op: "init", Key: l.path, Err: err}
	}
	return nil
}

// Record appends one row for ident.
func (l *Ledger) Record(ident types.Identity, action types.Action, now time.Time) error {
	if action != types.CheckIn && action != types.CheckOut {
		return fmt.Errorf("ledger: invalid action %q", action)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.ensureHeader(); err != nil {
		return err
	}
	row := []string{now.Format(types.TimeLayout), ident.ID, ident.Name, ident.Department, string(action)}
	if err := l.append(row); err != nil {
		return &types.StorageError{Op: "append", Key: l.path, Err: err}
	}
	return nil
}

func (l *Ledger) append(row []string) error {
	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.Write(row); err != nil {
		f.Close()
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadAll returns every record in file order. A missing file is an empty ledger.
func (l *Ledger) ReadAll() ([]types.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &types.StorageError{Op: "read", Key: l.path, Err: err}
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(Header)

	var out []types.Record
	for line := 1; ; line++ {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &types.StorageError{Op: "read", Key: l.path, Err: err}
		}
		if line == 1 && row[0] == Header[0] {
			continue
		}
		ts, err := time.ParseInLocation(types.TimeLayout, row[0], time.Local)
		if err != nil {
			return nil, &types.StorageError{Op: "read", Key: l.path, Err: fmt.Errorf("line %d: %w", line, err)}
		}
		action, err := types.ParseAction(row[4])
		if err != nil {
			return nil, &types.StorageError{Op: "read", Key: l.path, Err: fmt.Errorf("line %d: %w", line, err)}
		}
		out = append(out, types.Record{
			Timestamp:  ts,
			UserID:     row[1],
			UserName:   row[2],
			Department: row[3],
			Action:     action,
		})
	}
	return out, nil
}
