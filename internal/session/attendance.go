package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/andresmejia3/rollcall/internal/camera"
	"github.com/andresmejia3/rollcall/internal/ledger"
	"github.com/andresmejia3/rollcall/internal/matcher"
	"github.com/andresmejia3/rollcall/internal/store"
	"github.com/andresmejia3/rollcall/internal/types"
	"github.com/andresmejia3/rollcall/internal/worker"
)

var (
	// ErrNoIdentities stops an attendance session before the camera is opened.
	ErrNoIdentities = errors.New("no users registered")
	// ErrFrameLimit ends a session that saw MaxFrames frames without a match.
	ErrFrameLimit = errors.New("no recognized face within the frame limit")
)

// Outcome is the per-frame verdict reported to the shell.
type Outcome string

const (
	OutcomeNoFace        Outcome = "no_face"
	OutcomeMultipleFaces Outcome = "multiple_faces"
	OutcomeUnknown       Outcome = "unknown"
	OutcomeMatched       Outcome = "matched"
)

// FrameEvent describes one processed frame.
type FrameEvent struct {
	Frame   int
	Outcome Outcome
	Faces   int
	// Box and Match are set when exactly one face was found.
	Box   types.Box
	Match matcher.Outcome
}

// Result is a finished attendance session.
type Result struct {
	Identity types.Identity
	Match    matcher.Outcome
	Frames   int
	At       time.Time
}

// Attendance matches live frames against the enrolled population and records the
// first confirmed identity to the ledger.
type Attendance struct {
	Store    store.Store
	Provider worker.Provider
	Matcher  *matcher.Matcher
	Ledger   *ledger.Ledger
	// OpenSource starts the camera. It is only called once identities are loaded.
	OpenSource func(ctx context.Context) (camera.Source, error)
	Logger     *slog.Logger

	// MaxFrames bounds the number of frames processed; 0 means until cancelled.
	MaxFrames int
	OnFrame   func(FrameEvent)
	Now       func() time.Time
}

// Run executes one session for st.Action. The ledger is written only on a match.
func (a *Attendance) Run(ctx context.Context, st *State) (Result, error) {
	if st == nil {
		return Result{}, errors.New("session: nil state")
	}
	if st.Action != types.CheckIn && st.Action != types.CheckOut {
		return Result{}, fmt.Errorf("session: invalid action %q", st.Action)
	}
	log := a.logger().With("session", st.ID.String(), "action", string(st.Action))

	identities, order, err := a.Store.LoadAll(ctx)
	if err != nil {
		st.Fail("Could not load enrolled users: %v", err)
		return Result{}, err
	}
	if len(identities) == 0 {
		st.Fail("No users registered. Please add a user first.")
		return Result{}, ErrNoIdentities
	}

	// One snapshot for the whole session
	pop := matcher.BuildPopulation(identities, order)
	log.Info("population loaded", "identities", pop.Identities(), "embeddings", pop.Len())

	src, err := a.OpenSource(ctx)
	if err != nil {
		st.Fail("Could not open camera: %v", err)
		return Result{}, err
	}
	st.CameraActive = true
	defer func() {
		st.CameraActive = false
		if err := src.Close(); err != nil {
			log.Warn("closing frame source", "error", err)
		}
	}()

	for frame := 1; ; frame++ {
		if err := ctx.Err(); err != nil {
			st.Info("Camera stopped.")
			return Result{Frames: frame - 1}, &types.CaptureError{Op: "session", Err: err}
		}
		if a.MaxFrames > 0 && frame > a.MaxFrames {
			st.Fail("No recognized face after %d frames.", a.MaxFrames)
			return Result{Frames: frame - 1}, ErrFrameLimit
		}

		data, err := src.Next(ctx)
		if err != nil {
			st.Fail("Camera error: %v", err)
			return Result{Frames: frame - 1}, wrapCapture("read", err)
		}
		faces, err := a.Provider.Detect(ctx, data)
		if err != nil {
			st.Fail("Face detection failed: %v", err)
			return Result{Frames: frame}, wrapCapture("detect", err)
		}

		ev := FrameEvent{Frame: frame, Faces: len(faces)}
		switch len(faces) {
		case 0:
			ev.Outcome = OutcomeNoFace
		case 1:
			ev.Box = faces[0].Loc
			ev.Match = a.Matcher.Match(faces[0].Vec, pop)
			ev.Outcome = OutcomeUnknown
			if ev.Match.Kind == matcher.Matched {
				ev.Outcome = OutcomeMatched
			}
		default:
			ev.Outcome = OutcomeMultipleFaces
		}
		if a.OnFrame != nil {
			a.OnFrame(ev)
		}
		if ev.Outcome != OutcomeMatched {
			continue
		}

		ident := identities[ev.Match.IdentityID]
		now := a.now()
		if err := a.Ledger.Record(ident, st.Action, now); err != nil {
			st.Fail("Could not record attendance: %v", err)
			return Result{Frames: frame}, err
		}
		log.Info("attendance recorded", "user_id", ident.ID, "distance", ev.Match.Distance, "frames", frame)
		st.Success("%s confirmed for %s.", st.Action, ident.Name)
		return Result{Identity: ident, Match: ev.Match, Frames: frame, At: now}, nil
	}
}

func (a *Attendance) logger() *slog.Logger {
	if a.Logger == nil {
		return slog.Default()
	}
	return a.Logger
}

func (a *Attendance) now() time.Time {
	if a.Now == nil {
		return time.Now()
	}
	return a.Now()
}

func wrapCapture(op string, err error) error {
	var ce *types.CaptureError
	if errors.As(err, &ce) {
		return err
	}
	return &types.CaptureError{Op: op, Err: err}
}
