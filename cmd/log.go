package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/rollcall/internal/ledger"
	"github.com/andresmejia3/rollcall/internal/types"
	"github.com/andresmejia3/rollcall/internal/utils"
)

// LogOptions filters the attendance view.
type LogOptions struct {
	UserID string
	Date   string
	Action string
}

var logOpts LogOptions

var logCmd = &cobra.Command{
	Use:         "log",
	Short:       "View the attendance log",
	Annotations: map[string]string{"store": "none"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runLog(os.Stdout, Cfg.LedgerPath, logOpts)
	},
}

func init() {
	logCmd.Flags().StringVarP(&logOpts.UserID, "user", "u", "", "Only show this user ID")
	logCmd.Flags().StringVarP(&logOpts.Date, "date", "d", "", "Only show this day (YYYY-MM-DD)")
	logCmd.Flags().StringVarP(&logOpts.Action, "action", "a", "", "Only show checkin or checkout")
	rootCmd.AddCommand(logCmd)
}

func runLog(out io.Writer, path string, opts LogOptions) error {
	filter, err := opts.filter()
	if err != nil {
		utils.ShowError("Invalid filter", err, nil)
		return err
	}

	records, err := ledger.New(path).ReadAll()
	if err != nil {
		utils.ShowError("Could not read the attendance log", err, nil)
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(out, "No attendance has been recorded yet.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "TIMESTAMP\tUSER ID\tNAME\tDEPARTMENT\tACTION")
	fmt.Fprintln(w, "---------\t-------\t----\t----------\t------")

	shown := 0
	for _, r := range records {
		if !filter(r) {
			continue
		}
		shown++
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s %s\n",
			r.Timestamp.Format(types.TimeLayout), r.UserID, r.UserName, r.Department, actionMark(r.Action), r.Action)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if shown == 0 {
		fmt.Fprintln(out, "No matching records.")
	}
	return nil
}

func (o LogOptions) filter() (func(types.Record) bool, error) {
	var day time.Time
	if o.Date != "" {
		d, err := time.ParseInLocation(time.DateOnly, o.Date, time.Local)
		if err != nil {
			return nil, fmt.Errorf("--date: %w", err)
		}
		day = d
	}
	var action types.Action
	if o.Action != "" {
		a, err := types.ParseAction(o.Action)
		if err != nil {
			return nil, err
		}
		action = a
	}

	return func(r types.Record) bool {
		if o.UserID != "" && r.UserID != o.UserID {
			return false
		}
		if action != "" && r.Action != action {
			return false
		}
		if !day.IsZero() {
			y1, m1, d1 := r.Timestamp.Date()
			y2, m2, d2 := day.Date()
			if y1 != y2 || m1 != m2 || d1 != d2 {
				return false
			}
		}
		return true
	}, nil
}

func actionMark(a types.Action) string {
	if a == types.CheckIn {
		return "✔️"
	}
	return "✖️"
}
