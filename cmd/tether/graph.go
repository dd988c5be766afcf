package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/aretw0/tether"
	"github.com/aretw0/tether/internal/presentation/graph"
	"github.com/aretw0/tether/pkg/domain"
	"github.com/spf13/cobra"
)

// graphCmd represents the graph command
var graphCmd = &cobra.Command{
	Use:       "graph [dialogue|pipeline|stage]",
	Short:     "Export a graph as a Mermaid diagram",
	Long:      `Outputs a Mermaid diagram (graph TD) of one of the orchestrator graphs, optionally highlighting the path a session took.`,
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"dialogue", "pipeline", "stage"},
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		which := "dialogue"
		if len(args) > 0 {
			which = args[0]
		}
		key, _ := cmd.Flags().GetString("session")
		stage, _ := cmd.Flags().GetString("stage")

		topology, overlay, err := graphFor(cmd.Context(), app, which, key, domain.Stage(stage))
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), graph.GenerateMermaid(topology, overlay))
		return nil
	},
}

func graphFor(ctx context.Context, app *tether.App, which, key string, stage domain.Stage) (graph.Topology, *graph.GraphOverlay, error) {
	var (
		topology graph.Topology
		cp       *domain.Checkpoint
		pending  bool
	)
	switch which {
	case "dialogue":
		topology = app.Router.Graph()
		if key != "" {
			snap, err := app.Router.Inspect(ctx, key)
			if err != nil {
				return nil, nil, err
			}
			cp, pending = snap.Checkpoint, snap.Pending != nil
		}
	case "pipeline":
		topology = app.Supervisor.Graph()
		if key != "" {
			snap, err := app.Supervisor.Status(ctx, key)
			if err != nil {
				return nil, nil, err
			}
			cp, pending = snap.Checkpoint, snap.Pending != nil
		}
	case "stage":
		topology = app.Supervisor.StageGraph()
		if key != "" {
			if stage == "" {
				return nil, nil, errors.New("--stage is required with --session for the stage graph")
			}
			snap, err := app.Supervisor.StageStatus(ctx, key, stage)
			if err != nil {
				return nil, nil, err
			}
			cp, pending = snap.Checkpoint, snap.Pending != nil
		}
	default:
		return nil, nil, fmt.Errorf("unknown graph '%s'", which)
	}
	if cp == nil {
		return topology, nil, nil
	}
	return topology, &graph.GraphOverlay{
		VisitedNodes: cp.History,
		CurrentNode:  cp.NodeID,
		Suspended:    pending,
	}, nil
}

func init() {
	rootCmd.AddCommand(graphCmd)
	graphCmd.Flags().StringP("session", "s", "", "Session or run id whose path is highlighted")
	graphCmd.Flags().String("stage", "", "Stage whose retry machine is shown (stage graph)")
}
