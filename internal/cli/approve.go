package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var approveDeny bool

var approveCmd = &cobra.Command{
	Use:   "approve <run_id>",
	Short: "Resolve a workflow run that is waiting for approval",
	Long: `Resolve a suspended workflow run. Approval resumes the run from the
approval gate; denial fails it. The command waits for the resumed run to
reach its next stable state before returning.`,
	Args: cobra.ExactArgs(1),
	RunE: runApprove,
}

func init() {
	approveCmd.Flags().BoolVar(&approveDeny, "deny", false, "deny the approval and fail the run")
	rootCmd.AddCommand(approveCmd)
}

func runApprove(cmd *cobra.Command, args []string) error {
	d, cleanup, err := newLocalDaemon()
	if err != nil {
		return err
	}
	defer cleanup()

	rec, err := d.Engine().ApproveRun(context.Background(), args[0], !approveDeny)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "run %s is now %s\n", rec.ID, rec.Status)
	if rec.Error != "" {
		fmt.Fprintf(os.Stdout, "error: %s\n", rec.Error)
	}
	return nil
}
