package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
)

// TimeLayout is the on-disk timestamp format shared by identity records and the ledger.
const TimeLayout = "2006-01-02 15:04:05"

// Vector is a single face embedding as returned by the embedding provider.
type Vector []float64

// Box is a face bounding box in pixel coordinates.
type Box struct {
	Top, Right, Bottom, Left int
}

// Area returns the box area, zero for degenerate boxes.
func (b Box) Area() int {
	w, h := b.Right-b.Left, b.Bottom-b.Top
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Face is one detection inside a frame.
type Face struct {
	Loc Box
	Vec Vector
}

// Identity is an enrolled person and the embeddings committed at enrollment.
type Identity struct {
	ID          string
	Name        string
	Department  string
	Embeddings  []Vector
	SampleCount int
	EnrolledAt  time.Time
	// SavedAt is when the backend last wrote the record. It breaks ties between
	// enrollments that share a registration second. Zero when the backend does not track it.
	SavedAt time.Time
}

// Complete reports whether the identity carries exactly the samples it was enrolled with.
func (i Identity) Complete() bool {
	return i.SampleCount > 0 && len(i.Embeddings) == i.SampleCount
}

// Action is an attendance event kind.
type Action string

const (
	CheckIn  Action = "Check In"
	CheckOut Action = "Check Out"
)

// ParseAction accepts the ledger spelling or the short CLI forms.
func ParseAction(s string) (Action, error) {
	switch s {
	case string(CheckIn), "checkin", "check-in", "in":
		return CheckIn, nil
	case string(CheckOut), "checkout", "check-out", "out":
		return CheckOut, nil
	}
	return "", fmt.Errorf("unknown attendance action %q", s)
}

// Record is one immutable ledger row.
type Record struct {
	Timestamp  time.Time
	UserID     string
	UserName   string
	Department string
	Action     Action
}

// ValidateID checks that an identity id can be used as a storage key and a single path component.
func ValidateID(id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("id is empty")
	}
	if id != strings.TrimSpace(id) {
		return errors.New("id has leading or trailing whitespace")
	}
	if id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("id %q is not a valid path component", id)
	}
	for _, r := range id {
		if unicode.IsControl(r) {
			return fmt.Errorf("id %q contains control characters", id)
		}
	}
	return nil
}
