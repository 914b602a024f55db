package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/rollcall/internal/types"
	"github.com/andresmejia3/rollcall/internal/utils"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all registered users",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runList(cmd.Context(), os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(ctx context.Context, out io.Writer) error {
	identities, order, err := Store.LoadAll(ctx)
	if err != nil {
		utils.ShowError("Failed to list users", err, nil)
		return err
	}

	if len(identities) == 0 {
		fmt.Fprintln(out, "No users registered yet.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tDEPARTMENT\tSAMPLES\tREGISTERED")
	fmt.Fprintln(w, "--\t----\t----------\t-------\t----------")

	for _, id := range order {
		ident := identities[id]
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			ident.ID, ident.Name, ident.Department, ident.SampleCount, ident.EnrolledAt.Local().Format(types.TimeLayout))
	}
	return w.Flush()
}
