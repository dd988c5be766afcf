package main

import (
	"fmt"
	"strings"

	"github.com/aretw0/tether/pkg/domain"
	"github.com/spf13/cobra"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Show or clear the task collected in a chat session",
}

var taskShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show the arguments collected so far",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		task, err := app.Task(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printTask(cmd, task)
		return nil
	},
}

var taskRmCmd = &cobra.Command{
	Use:   "rm <session-id>",
	Short: "Clear the task so the session can describe a new one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		if err := app.DeleteTask(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cleared task of session '%s'\n", args[0])
		return nil
	},
}

func printTask(cmd *cobra.Command, task domain.PipelineTaskState) {
	out := cmd.OutOrStdout()
	for _, key := range domain.TaskKeys {
		if v, ok := task.Args.Get(key); ok {
			fmt.Fprintf(out, "%-20s %s\n", key+":", v)
		}
	}
	if missing := task.Args.Missing(); len(missing) > 0 {
		fmt.Fprintf(out, "missing: %s\n", strings.Join(missing, ", "))
		return
	}
	fmt.Fprintln(out, "ready to run")
}

func init() {
	rootCmd.AddCommand(taskCmd)
	taskCmd.AddCommand(taskShowCmd)
	taskCmd.AddCommand(taskRmCmd)
}
