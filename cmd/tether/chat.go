package main

import (
	"fmt"
	"os"

	"github.com/aretw0/tether"
	"github.com/aretw0/tether/internal/presentation/tui"
	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the orchestrator in the terminal",
	Long: `Starts an interactive session. Type /run to start the pipeline of the
collected task, /task to show it, /new to clear it, /reset to forget the
session and exit to leave.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		sessionID, _ := cmd.Flags().GetString("session")
		headless, _ := cmd.Flags().GetBool("headless")

		renderer := tui.Plain()
		if !headless {
			renderer = tui.ForFile(os.Stdout)
			if tui.IsTerminal(os.Stdout) {
				tui.PrintBanner(os.Stdout)
			}
		}

		runner := &tether.Runner{
			Input:    os.Stdin,
			Output:   os.Stdout,
			Headless: headless,
			Renderer: func(s string) (string, error) { return renderer.Render(s), nil },
		}
		sid, err := runner.Run(cmd.Context(), app, sessionID)
		if sid != "" {
			fmt.Fprintf(os.Stderr, "session: %s\n", sid)
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringP("session", "s", "", "Continue an existing session")
	chatCmd.Flags().Bool("headless", false, "No prompts or markdown rendering, for pipes")
}
