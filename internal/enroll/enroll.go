// Package enroll turns a stream of camera frames into a persisted identity.
//
// The controller keeps pulling frames until it has collected the target number of
// single-face samples. Frames with no face or with several faces are discarded without
// progress. Nothing is written unless the capture completes: a failure at any point
// leaves the store exactly as it was.
package enroll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/andresmejia3/rollcall/internal/camera"
	"github.com/andresmejia3/rollcall/internal/matcher"
	"github.com/andresmejia3/rollcall/internal/store"
	"github.com/andresmejia3/rollcall/internal/types"
	"github.com/andresmejia3/rollcall/internal/worker"
)

const (
	DefaultTargetSamples = 10
	DefaultSampleDelay   = 500 * time.Millisecond
)

// ErrTooManyAttempts ends a capture that exhausted MaxAttempts frames.
var ErrTooManyAttempts = errors.New("too many frames without a usable face")

// DuplicateCheck controls what happens when a new face already looks like someone else.
type DuplicateCheck string

const (
	DuplicateOff    DuplicateCheck = "off"
	DuplicateWarn   DuplicateCheck = "warn"
	DuplicateReject DuplicateCheck = "reject"
)

// ParseDuplicateCheck validates a configured policy. Empty means warn.
func ParseDuplicateCheck(s string) (DuplicateCheck, error) {
	switch DuplicateCheck(s) {
	case "", DuplicateWarn:
		return DuplicateWarn, nil
	case DuplicateOff, DuplicateReject:
		return DuplicateCheck(s), nil
	}
	return "", fmt.Errorf("unknown duplicate check %q (want off, warn or reject)", s)
}

// Options tunes a capture.
type Options struct {
	TargetSamples int
	SampleDelay   time.Duration
	// MaxAttempts bounds the number of frames pulled; 0 means unbounded.
	MaxAttempts    int
	DuplicateCheck DuplicateCheck
	// Threshold is the match distance used by the duplicate check.
	Threshold float64
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		TargetSamples:  DefaultTargetSamples,
		SampleDelay:    DefaultSampleDelay,
		DuplicateCheck: DuplicateWarn,
		Threshold:      matcher.DefaultThreshold,
	}
}

// Request is the operator-supplied metadata for a new identity.
type Request struct {
	ID         string
	Name       string
	Department string
}

// Validate trims the request and checks every field.
// It runs before any camera or worker is started.
func (r Request) Validate() (Request, error) {
	out := Request{
		ID:         strings.TrimSpace(r.ID),
		Name:       strings.TrimSpace(r.Name),
		Department: strings.TrimSpace(r.Department),
	}
	for _, f := range []struct{ name, value string }{
		{"user_id", out.ID},
		{"user_name", out.Name},
		{"department", out.Department},
	} {
		if f.value == "" {
			return out, &ValidationError{Field: f.name, Reason: "is required"}
		}
	}
	if err := types.ValidateID(out.ID); err != nil {
		return out, &ValidationError{Field: "user_id", Reason: err.Error()}
	}
	return out, nil
}

// Reason says what a frame contributed to the capture.
type Reason string

const (
	ReasonSample        Reason = "sample"
	ReasonNoFace        Reason = "no_face"
	ReasonMultipleFaces Reason = "multiple_faces"
)

// Progress is reported once per processed frame.
type Progress struct {
	Reason    Reason
	Faces     int
	Collected int
	Target    int
	Attempts  int
}

// DuplicateHit names the enrolled identity a new capture resembles.
type DuplicateHit struct {
	IdentityID string
	Distance   float64
}

// Result describes a committed enrollment.
type Result struct {
	Identity  types.Identity
	Attempts  int
	Duplicate *DuplicateHit
}

// Controller runs one enrollment at a time against a store and an embedding provider.
type Controller struct {
	mu       sync.Mutex
	store    store.Store
	provider worker.Provider
	opts     Options
	logger   *slog.Logger
	now      func() time.Time

	// OnProgress, when set, is called after every processed frame.
	OnProgress func(Progress)
}

// New validates opts and builds a controller.
func New(st store.Store, provider worker.Provider, opts Options, logger *slog.Logger) (*Controller, error) {
	if st == nil || provider == nil {
		return nil, errors.New("enroll: store and provider are required")
	}
	if opts.TargetSamples <= 0 {
		return nil, fmt.Errorf("enroll: target sample count must be positive, got %d", opts.TargetSamples)
	}
	if opts.SampleDelay < 0 || opts.MaxAttempts < 0 {
		return nil, errors.New("enroll: sample delay and max attempts cannot be negative")
	}
	check, err := ParseDuplicateCheck(string(opts.DuplicateCheck))
	if err != nil {
		return nil, err
	}
	opts.DuplicateCheck = check
	if opts.Threshold <= 0 {
		opts.Threshold = matcher.DefaultThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		store:    st,
		provider: provider,
		opts:     opts,
		logger:   logger.With("component", "enroll"),
		now:      time.Now,
	}, nil
}

// Enroll captures TargetSamples single-face embeddings from src and saves the identity.
// The caller owns src and closes it.
func (c *Controller) Enroll(ctx context.Context, req Request, src camera.Source) (Result, error) {
	req, err := req.Validate()
	if err != nil {
		return Result{}, err
	}
	if src == nil {
		return Result{}, &types.CaptureError{Op: "open", Err: errors.New("no frame source")}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	log := c.logger.With("user_id", req.ID)
	log.Info("enrollment started", "target", c.opts.TargetSamples)

	samples, attempts, err := c.capture(ctx, src)
	if err != nil {
		log.Warn("enrollment aborted", "collected", len(samples), "attempts", attempts, "error", err)
		return Result{}, err
	}

	res := Result{Attempts: attempts}
	if c.opts.DuplicateCheck != DuplicateOff {
		hit, err := c.findDuplicate(ctx, req.ID, samples)
		if err != nil {
			return Result{}, err
		}
		if hit != nil {
			if c.opts.DuplicateCheck == DuplicateReject {
				return Result{}, &DuplicateError{ID: req.ID, Existing: hit.IdentityID, Distance: hit.Distance}
			}
			log.Warn("new face resembles an enrolled identity", "existing", hit.IdentityID, "distance", hit.Distance)
			res.Duplicate = hit
		}
	}

	ident := types.Identity{
		ID:          req.ID,
		Name:        req.Name,
		Department:  req.Department,
		Embeddings:  samples,
		SampleCount: len(samples),
		EnrolledAt:  c.now(),
	}
	if err := c.store.Save(ctx, ident); err != nil {
		return Result{}, err
	}
	log.Info("enrollment committed", "samples", len(samples), "attempts", attempts)

	res.Identity = ident
	return res, nil
}

// capture returns exactly TargetSamples embeddings or an error.
func (c *Controller) capture(ctx context.Context, src camera.Source) ([]types.Vector, int, error) {
	target := c.opts.TargetSamples
	samples := make([]types.Vector, 0, target)
	attempts := 0

	for len(samples) < target {
		if err := ctx.Err(); err != nil {
			return samples, attempts, &types.CaptureError{Op: "enroll", Err: err}
		}
		if c.opts.MaxAttempts > 0 && attempts >= c.opts.MaxAttempts {
			return samples, attempts, &types.CaptureError{Op: "enroll", Err: ErrTooManyAttempts}
		}

		frame, err := src.Next(ctx)
		if err != nil {
			return samples, attempts, asCaptureError("read", err)
		}
		attempts++

		faces, err := c.provider.Detect(ctx, frame)
		if err != nil {
			return samples, attempts, asCaptureError("detect", err)
		}

		p := Progress{Faces: len(faces), Target: target, Attempts: attempts}
		switch len(faces) {
		case 0:
			p.Reason = ReasonNoFace
		case 1:
			p.Reason = ReasonSample
			samples = append(samples, faces[0].Vec)
		default:
			p.Reason = ReasonMultipleFaces
		}
		p.Collected = len(samples)
		c.report(p)

		if p.Reason == ReasonSample && len(samples) < target {
			if err := sleep(ctx, c.opts.SampleDelay); err != nil {
				return samples, attempts, &types.CaptureError{Op: "enroll", Err: err}
			}
		}
	}
	return samples, attempts, nil
}

func (c *Controller) findDuplicate(ctx context.Context, id string, samples []types.Vector) (*DuplicateHit, error) {
	identities, order, err := c.store.LoadAll(ctx)
	if err != nil {
		if c.opts.DuplicateCheck == DuplicateReject {
			return nil, err
		}
		c.logger.Warn("duplicate check skipped", "error", err)
		return nil, nil
	}
	idx := matcher.NewDuplicateIndex(matcher.BuildPopulation(identities, order))
	other, dist, ok := idx.Nearest(matcher.Mean(samples), id)
	c.logger.Debug("duplicate check", "user_id", id, "compared", idx.Len(), "nearest", other, "distance", dist)
	if !ok || dist > c.opts.Threshold {
		return nil, nil
	}
	return &DuplicateHit{IdentityID: other, Distance: dist}, nil
}

func (c *Controller) report(p Progress) {
	if c.OnProgress != nil {
		c.OnProgress(p)
	}
}

func asCaptureError(op string, err error) error {
	var ce *types.CaptureError
	if errors.As(err, &ce) {
		return err
	}
	return &types.CaptureError{Op: op, Err: err}
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
