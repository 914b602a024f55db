package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/andresmejia3/rollcall/internal/camera"
	"github.com/andresmejia3/rollcall/internal/enroll"
	"github.com/andresmejia3/rollcall/internal/session"
	"github.com/andresmejia3/rollcall/internal/types"
	"github.com/andresmejia3/rollcall/internal/utils"
)

// EnrollOptions holds the enroll command flags.
type EnrollOptions struct {
	UserID         string
	UserName       string
	Department     string
	Samples        int
	Timeout        time.Duration
	MaxAttempts    int
	DuplicateCheck string
}

var enrollOpts EnrollOptions

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Register a new user by capturing face samples from the camera",
	Example: `  rollcall enroll --id U001 --name Alice --department Eng
  rollcall enroll --id U002 --name Bob --department Ops --camera dir:./photos/bob`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		opts := enrollOpts
		flags := cmd.Flags()
		if !flags.Changed("samples") {
			opts.Samples = 0
		}
		if !flags.Changed("max-attempts") {
			opts.MaxAttempts = -1
		}
		return runEnroll(cmd.Context(), opts)
	},
}

func init() {
	enrollCmd.Flags().StringVar(&enrollOpts.UserID, "id", "", "User ID (e.g. U001)")
	enrollCmd.Flags().StringVar(&enrollOpts.UserName, "name", "", "User name")
	enrollCmd.Flags().StringVar(&enrollOpts.Department, "department", "", "Department")
	enrollCmd.Flags().IntVarP(&enrollOpts.Samples, "samples", "n", 10, "Number of face samples to capture")
	enrollCmd.Flags().DurationVar(&enrollOpts.Timeout, "timeout", 0, "Give up if capture takes longer than this (0 = no limit)")
	enrollCmd.Flags().IntVar(&enrollOpts.MaxAttempts, "max-attempts", 0, "Give up after this many frames (0 = no limit)")
	enrollCmd.Flags().StringVar(&enrollOpts.DuplicateCheck, "duplicate-check", "", "off, warn or reject when the face matches another user")

	enrollCmd.MarkFlagRequired("id")
	enrollCmd.MarkFlagRequired("name")
	enrollCmd.MarkFlagRequired("department")
	rootCmd.AddCommand(enrollCmd)
}

// runEnroll validates the request, then runs one capture with a progress bar.
func runEnroll(ctx context.Context, opts EnrollOptions) error {
	req, err := enroll.Request{ID: opts.UserID, Name: opts.UserName, Department: opts.Department}.Validate()
	if err != nil {
		utils.ShowError("Please fill in all the details", err, nil)
		return err
	}

	eopts := Cfg.EnrollOptions()
	if opts.Samples > 0 {
		eopts.TargetSamples = opts.Samples
	}
	if opts.MaxAttempts >= 0 {
		eopts.MaxAttempts = opts.MaxAttempts
	}
	if opts.DuplicateCheck != "" {
		eopts.DuplicateCheck = enroll.DuplicateCheck(opts.DuplicateCheck)
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	st := session.NewState(session.KindEnroll, "")
	log := Logger.With("session", st.ID.String())

	eng := &engine{cfg: Cfg.Provider}
	defer eng.Close()

	ctrl, err := enroll.New(Store, eng, eopts, log)
	if err != nil {
		utils.ShowError("Invalid enrollment settings", err, nil)
		return err
	}

	if err := eng.start(ctx); err != nil {
		utils.ShowError("Failed to start AI worker", err, eng.childLogs())
		return err
	}
	src, err := openSource(ctx, Cfg.Camera)
	if err != nil {
		utils.ShowError("Failed to open camera", err, nil)
		return err
	}
	st.CameraActive = true
	defer func() {
		src.Close()
		st.CameraActive = false
	}()

	warnShortReplay(os.Stderr, src, eopts.TargetSamples)
	fmt.Fprintln(os.Stderr, "📸 Look at the camera and move your head slightly.")
	bar := progressbar.NewOptions(eopts.TargetSamples,
		progressbar.OptionSetDescription("📸 Capturing samples"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
	ctrl.OnProgress = func(p enroll.Progress) {
		switch p.Reason {
		case enroll.ReasonSample:
			bar.Describe("📸 Capturing samples")
			bar.Add(1)
		case enroll.ReasonNoFace:
			bar.Describe("👀 No face in view")
		case enroll.ReasonMultipleFaces:
			bar.Describe(fmt.Sprintf("👥 %d faces in view, only one person please", p.Faces))
		}
	}

	res, err := ctrl.Enroll(ctx, req, src)
	bar.Finish()
	if err != nil {
		st.Fail("Registration failed: %v", err)
		reportEnrollError(err, eng)
		return err
	}

	if res.Duplicate != nil {
		fmt.Fprintf(os.Stderr, "⚠️  This face also matches enrolled user %s (distance %.3f)\n",
			res.Duplicate.IdentityID, res.Duplicate.Distance)
	}
	st.Success("User %s registered successfully with %d face samples!", res.Identity.Name, res.Identity.SampleCount)
	fmt.Printf("✅ %s\n", st.Feedback.Text)
	return nil
}

// warnShortReplay reports a replay directory that cannot yield target samples.
func warnShortReplay(out io.Writer, src camera.Source, target int) bool {
	dir, ok := src.(*camera.DirSource)
	if !ok || dir.Len() >= target {
		return false
	}
	fmt.Fprintf(out, "⚠️  Only %d images to replay for %d samples, enrollment will run out of frames.\n", dir.Len(), target)
	return true
}

func reportEnrollError(err error, eng *engine) {
	var (
		dup *enroll.DuplicateError
		ce  *types.CaptureError
		se  *types.StorageError
	)
	switch {
	case errors.As(err, &dup):
		utils.ShowError("This face is already enrolled under another user", err, nil)
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(os.Stderr, "🛑 Camera stopped. Nothing was saved.")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, enroll.ErrTooManyAttempts):
		utils.ShowError("Could not capture enough face samples. Nothing was saved", err, nil)
	case errors.As(err, &ce):
		utils.ShowError("Face capture failed. Nothing was saved", err, eng.childLogs())
	case errors.As(err, &se):
		utils.ShowError("Failed to save user data", err, nil)
	default:
		utils.ShowError("Registration failed", err, nil)
	}
}
