package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/rollcall/internal/camera"
	"github.com/andresmejia3/rollcall/internal/ledger"
	"github.com/andresmejia3/rollcall/internal/matcher"
	"github.com/andresmejia3/rollcall/internal/session"
	"github.com/andresmejia3/rollcall/internal/types"
	"github.com/andresmejia3/rollcall/internal/utils"
)

// AttendanceOptions holds the checkin/checkout flags.
type AttendanceOptions struct {
	MatchThreshold float64
	Policy         string
	MaxFrames      int
	Verbose        bool
}

var attendanceOpts AttendanceOptions

var checkinCmd = &cobra.Command{
	Use:   "checkin",
	Short: "Start the camera and record a check-in for the recognized user",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runAttendance(cmd.Context(), types.CheckIn, attendanceFlags(cmd))
	},
}

var checkoutCmd = &cobra.Command{
	Use:   "checkout",
	Short: "Start the camera and record a check-out for the recognized user",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runAttendance(cmd.Context(), types.CheckOut, attendanceFlags(cmd))
	},
}

func init() {
	for _, c := range []*cobra.Command{checkinCmd, checkoutCmd} {
		c.Flags().Float64VarP(&attendanceOpts.MatchThreshold, "threshold", "t", 0, "Face matching threshold, lower is stricter (default from config, 0.5)")
		c.Flags().StringVar(&attendanceOpts.Policy, "policy", "", "Match policy: first or nearest (default from config, first)")
		c.Flags().IntVar(&attendanceOpts.MaxFrames, "max-frames", 0, "Stop after this many frames without a match (0 = until Ctrl+C)")
		c.Flags().BoolVarP(&attendanceOpts.Verbose, "verbose", "v", false, "Print the outcome of every frame")
		rootCmd.AddCommand(c)
	}
}

// attendanceFlags drops values the user did not set so config values apply.
func attendanceFlags(cmd *cobra.Command) AttendanceOptions {
	opts := attendanceOpts
	if !cmd.Flags().Changed("threshold") {
		opts.MatchThreshold = 0
	}
	return opts
}

func runAttendance(ctx context.Context, action types.Action, opts AttendanceOptions) error {
	threshold := Cfg.Match.Threshold
	if opts.MatchThreshold != 0 {
		threshold = opts.MatchThreshold
	}
	policyName := Cfg.Match.Policy
	if opts.Policy != "" {
		policyName = opts.Policy
	}
	policy, err := matcher.ParsePolicy(policyName)
	if err != nil {
		utils.ShowError("Invalid match policy", err, nil)
		return err
	}
	m, err := matcher.New(threshold, policy)
	if err != nil {
		utils.ShowError("Invalid match threshold", err, nil)
		return err
	}

	book := ledger.New(Cfg.LedgerPath)
	if err := book.Init(); err != nil {
		utils.ShowError("Failed to initialize attendance log", err, nil)
		return err
	}

	eng := &engine{cfg: Cfg.Provider}
	defer eng.Close()

	st := session.NewState(session.KindAttendance, action)
	att := &session.Attendance{
		Store:    Store,
		Provider: eng,
		Matcher:  m,
		Ledger:   book,
		Logger:   Logger,
		OpenSource: func(ctx context.Context) (camera.Source, error) {
			if err := eng.start(ctx); err != nil {
				return nil, err
			}
			fmt.Fprintf(os.Stderr, "🎥 %s: look at the camera (Ctrl+C to stop)\n", action)
			return openSource(ctx, Cfg.Camera)
		},
		MaxFrames: opts.MaxFrames,
		OnFrame: func(ev session.FrameEvent) {
			printFrame(os.Stderr, ev, opts.Verbose)
		},
	}

	res, err := att.Run(ctx, st)
	if err != nil {
		reportAttendanceError(err, st, eng)
		return err
	}
	printRecorded(os.Stdout, st, res, book)
	return nil
}

func printRecorded(out io.Writer, st *session.State, res session.Result, book *ledger.Ledger) {
	fmt.Fprintf(out, "✅ %s (ID: %s, %s, distance %.3f)\n",
		st.Feedback.Text, res.Identity.ID, res.Identity.Department, res.Match.Distance)
	fmt.Fprintf(out, "📝 Recorded in %s\n", book.Path())
}

func printFrame(out io.Writer, ev session.FrameEvent, verbose bool) {
	switch ev.Outcome {
	case session.OutcomeUnknown:
		fmt.Fprint(out, "❓ Unknown face, not recognized.")
		if verbose {
			fmt.Fprintf(out, " (face %d px²)", ev.Box.Area())
		}
		fmt.Fprintln(out)
	case session.OutcomeMultipleFaces:
		if verbose {
			fmt.Fprintf(out, "👥 %d faces in view, only one person please.\n", ev.Faces)
		}
	case session.OutcomeNoFace:
		if verbose {
			fmt.Fprintln(out, "👀 No face in view.")
		}
	}
}

func reportAttendanceError(err error, st *session.State, eng *engine) {
	var ce *types.CaptureError
	switch {
	case errors.Is(err, session.ErrNoIdentities):
		fmt.Fprintf(os.Stderr, "❌ %s\n", st.Feedback.Text)
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(os.Stderr, "🛑 Camera stopped.")
	case errors.Is(err, session.ErrFrameLimit):
		fmt.Fprintf(os.Stderr, "❌ %s\n", st.Feedback.Text)
	case errors.As(err, &ce):
		utils.ShowError("Camera or AI engine failed", err, eng.childLogs())
	default:
		utils.ShowError(st.Feedback.Text, err, nil)
	}
}
