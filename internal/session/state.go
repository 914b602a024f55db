// Package session holds the per-run state of the operator shell and the attendance loop.
package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/andresmejia3/rollcall/internal/types"
)

// Kind is what the session was started for.
type Kind string

const (
	KindEnroll     Kind = "enroll"
	KindAttendance Kind = "attendance"
)

// FeedbackType classifies the message shown to the operator.
type FeedbackType string

const (
	FeedbackSuccess FeedbackType = "success"
	FeedbackError   FeedbackType = "error"
	FeedbackInfo    FeedbackType = "info"
)

// Feedback is the last message for the operator.
type Feedback struct {
	Type FeedbackType
	Text string
}

// State is owned by the shell and passed explicitly into the core. It replaces
// process-wide flags such as "camera active" or "current message".
type State struct {
	ID           uuid.UUID
	Kind         Kind
	Action       types.Action
	CameraActive bool
	Feedback     Feedback
	StartedAt    time.Time
}

// NewState starts a session of the given kind.
func NewState(kind Kind, action types.Action) *State {
	return &State{
		ID:        uuid.New(),
		Kind:      kind,
		Action:    action,
		StartedAt: time.Now(),
	}
}

// Success records a positive outcome.
func (s *State) Success(format string, args ...any) { s.set(FeedbackSuccess, format, args...) }

// Fail records a failure shown to the operator.
func (s *State) Fail(format string, args ...any) { s.set(FeedbackError, format, args...) }

// Info records a neutral message.
func (s *State) Info(format string, args ...any) { s.set(FeedbackInfo, format, args...) }

func (s *State) set(t FeedbackType, format string, args ...any) {
	s.Feedback = Feedback{Type: t, Text: fmt.Sprintf(format, args...)}
}
