package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/selim/orkestra/pkg/run"
)

var (
	runInput   string
	runJSON    bool
	runVerbose bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute an agent or workflow by id",
}

var runAgentCmd = &cobra.Command{
	Use:   "agent <id>",
	Short: "Execute an agent run and print the final output",
	Args:  cobra.ExactArgs(1),
	RunE:  runAgent,
}

var runWorkflowCmd = &cobra.Command{
	Use:   "workflow <id>",
	Short: "Execute a workflow run and print the final output",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkflow,
}

func init() {
	runCmd.PersistentFlags().StringVarP(&runInput, "input", "i", "", "run input (agent: text, workflow: JSON)")
	runCmd.PersistentFlags().BoolVar(&runJSON, "json", false, "print the full run record as JSON")
	runCmd.PersistentFlags().BoolVarP(&runVerbose, "verbose", "v", false, "print progress events while the run executes")
	runCmd.AddCommand(runAgentCmd)
	runCmd.AddCommand(runWorkflowCmd)
	rootCmd.AddCommand(runCmd)
}

func runAgent(cmd *cobra.Command, args []string) error {
	d, cleanup, err := newLocalDaemon()
	if err != nil {
		return err
	}
	defer cleanup()

	agent, err := d.Registry().GetAgent(context.Background(), args[0])
	if err != nil {
		return err
	}

	runID, events, err := d.Agents().RunStreaming(context.Background(), agent, runInput, nil)
	if err != nil {
		return err
	}
	printEvents(events)

	rec, err := d.Store().GetAgentRun(context.Background(), runID)
	if err != nil {
		return err
	}
	if runJSON {
		return printJSON(rec)
	}
	if rec.Status != run.StatusCompleted {
		return fmt.Errorf("run %s %s: %s", rec.ID, rec.Status, rec.Error)
	}
	fmt.Fprintln(os.Stdout, rec.Output)
	return nil
}

func runWorkflow(cmd *cobra.Command, args []string) error {
	d, cleanup, err := newLocalDaemon()
	if err != nil {
		return err
	}
	defer cleanup()

	wf, err := d.Registry().GetWorkflow(args[0])
	if err != nil {
		return err
	}

	var input interface{}
	if runInput != "" {
		if err := json.Unmarshal([]byte(runInput), &input); err != nil {
			// Not JSON; pass the raw string through.
			input = runInput
		}
	}

	runID, events, err := d.Engine().RunStreaming(context.Background(), wf, input, nil)
	if err != nil {
		return err
	}
	printEvents(events)

	rec, err := d.Store().GetWorkflowRun(context.Background(), runID)
	if err != nil {
		return err
	}
	if runJSON {
		return printJSON(rec)
	}

	switch rec.Status {
	case run.StatusCompleted:
		return printJSON(rec.Output)
	case run.StatusWaitingApproval:
		fmt.Fprintf(os.Stdout, "run %s is waiting for approval; resolve it with: orkestra approve %s\n", rec.ID, rec.ID)
		return nil
	default:
		return fmt.Errorf("run %s %s: %s", rec.ID, rec.Status, rec.Error)
	}
}

func printEvents(events <-chan run.Event) {
	for event := range events {
		if !runVerbose {
			continue
		}
		switch event.Type {
		case run.EventStep:
			if event.Step != nil {
				fmt.Fprintf(os.Stderr, "step %d %s %s\n", event.Step.StepNumber, event.Step.Type, event.Step.ToolName)
			}
		case run.EventNodeStart:
			fmt.Fprintf(os.Stderr, "node %s started\n", event.NodeID)
		case run.EventNodeComplete:
			if event.NodeResult != nil {
				fmt.Fprintf(os.Stderr, "node %s %s (%dms)\n", event.NodeResult.NodeID, event.NodeResult.Status, event.NodeResult.DurationMs)
			}
		case run.EventApprovalNeeded:
			fmt.Fprintf(os.Stderr, "run suspended at node %s waiting for approval\n", event.NodeID)
		}
	}
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, string(data))
	return nil
}
