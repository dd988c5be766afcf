package main

import (
	"fmt"
	"strings"

	"github.com/aretw0/tether/pkg/domain"
	"github.com/aretw0/tether/pkg/pipeline"
	"github.com/spf13/cobra"
)

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Run and unblock pipeline tasks",
}

var pipelineRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the pipeline of the task collected in a chat session",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		sessionID, _ := cmd.Flags().GetString("session")
		runID, _ := cmd.Flags().GetString("run")
		run, err := app.StartPipeline(cmd.Context(), sessionID, runID)
		if err != nil {
			return err
		}
		printRun(cmd, run)
		return nil
	},
}

var pipelineUnblockCmd = &cobra.Command{
	Use:   "unblock <run-id> <note>...",
	Short: "Answer the human intervention a run is waiting for",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		run, err := app.Supervisor.Unblock(cmd.Context(), args[0], strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		printRun(cmd, run)
		return nil
	},
}

var pipelineContinueCmd = &cobra.Command{
	Use:   "continue <run-id>",
	Short: "Continue a run whose process stopped between stages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		run, err := app.Supervisor.Continue(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printRun(cmd, run)
		return nil
	},
}

var pipelineStatusCmd = &cobra.Command{
	Use:   "status <run-id>",
	Short: "Show the committed state of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		runID := args[0]
		snap, err := app.Supervisor.Status(cmd.Context(), runID)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "run:    %s\n", runID)
		fmt.Fprintf(out, "status: %s\n", snap.Checkpoint.Status)
		fmt.Fprintf(out, "stage:  %s\n", snap.State.Current)
		fmt.Fprintln(out, "stages:")
		for _, stage := range domain.Stages {
			st, err := app.Supervisor.StageStatus(cmd.Context(), runID, stage)
			if err != nil {
				continue
			}
			fmt.Fprintf(out, "  %-15s %-20s failures=%d interventions=%d\n",
				stage, st.Checkpoint.NodeID, st.State.Failures, st.State.Interventions)
		}
		return nil
	},
}

func printRun(cmd *cobra.Command, run *pipeline.Run) {
	out := cmd.OutOrStdout()
	for _, m := range run.State.Messages {
		if m.Role == domain.RoleAssistant {
			fmt.Fprintln(out, m.Content)
		}
	}
	switch {
	case run.Completed:
		fmt.Fprintf(out, "run %s completed\n", run.RunID)
	case run.Intervention != nil:
		fmt.Fprintf(out, "run %s is waiting at stage %s after %d failures: %s\n",
			run.RunID, run.Intervention.Stage, run.Intervention.Failures, run.Intervention.Message)
	default:
		fmt.Fprintf(out, "run %s stopped at stage %s\n", run.RunID, run.Stage)
	}
}

func init() {
	rootCmd.AddCommand(pipelineCmd)
	pipelineCmd.AddCommand(pipelineRunCmd)
	pipelineCmd.AddCommand(pipelineUnblockCmd)
	pipelineCmd.AddCommand(pipelineContinueCmd)
	pipelineCmd.AddCommand(pipelineStatusCmd)

	pipelineRunCmd.Flags().StringP("session", "s", "", "Chat session holding the task")
	pipelineRunCmd.Flags().String("run", "", "Run id (generated when empty)")
	_ = pipelineRunCmd.MarkFlagRequired("session")
}
