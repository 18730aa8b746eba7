package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var (
	runsKind  string
	runsLimit int
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect recorded runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs",
	RunE:  runRunsList,
}

func init() {
	runsListCmd.Flags().StringVar(&runsKind, "kind", "workflow", "run kind: agent or workflow")
	runsListCmd.Flags().IntVar(&runsLimit, "limit", 20, "maximum number of runs to show")
	runsCmd.AddCommand(runsListCmd)
	rootCmd.AddCommand(runsCmd)
}

func runRunsList(cmd *cobra.Command, args []string) error {
	d, cleanup, err := newLocalDaemon()
	if err != nil {
		return err
	}
	defer cleanup()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()

	switch runsKind {
	case "agent":
		runs, err := d.Store().ListAgentRuns(context.Background(), runsLimit)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "RUN ID\tAGENT\tSTATUS\tSTEPS\tTOKENS\tSTARTED")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
				r.ID, r.AgentID, r.Status, r.StepsCompleted, r.TotalTokens, formatTime(r.StartedAt))
		}
	case "workflow":
		runs, err := d.Store().ListWorkflowRuns(context.Background(), runsLimit)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "RUN ID\tWORKFLOW\tSTATUS\tNODE\tSTARTED")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				r.ID, r.WorkflowID, r.Status, r.CurrentNodeID, formatTime(r.StartedAt))
		}
	default:
		return fmt.Errorf("unknown kind %q (must be: agent, workflow)", runsKind)
	}

	return nil
}

func formatTime(unixMs int64) string {
	if unixMs == 0 {
		return "-"
	}
	return time.UnixMilli(unixMs).Format(time.RFC3339)
}
