package graph

import (
	"fmt"
	"strings"

	tgraph "github.com/aretw0/tether/pkg/graph"
)

// Topology is the read-only view of a compiled graph. Every *graph.Graph satisfies it.
type Topology interface {
	Entry() string
	Nodes() []string
	Edges() []tgraph.Edge
}

// GraphOverlay contains dynamic state data to visualize on the graph.
type GraphOverlay struct {
	VisitedNodes []string
	CurrentNode  string
	Suspended    bool
}

// GenerateMermaid produces a Mermaid flowchart of a graph.
// It applies semantic styling:
// - Entry: ((Circle))
// - End: (((Double circle)))
// - Default: [Rectangle]
// Router candidates are drawn dotted, static edges solid.
// It also applies overlay styles (Visited/Current/Suspended) if provided.
func GenerateMermaid(g Topology, overlay *GraphOverlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	entry := g.Entry()
	for _, node := range g.Nodes() {
		opener, closer := "[", "]"
		if node == entry {
			opener, closer = "((", "))"
		}
		fmt.Fprintf(&sb, "    %s%s\"%s\"%s\n", sanitizeMermaidID(node), opener, node, closer)
	}

	endUsed := false
	for _, e := range g.Edges() {
		to := sanitizeMermaidID(e.To)
		if e.To == tgraph.End {
			to = "end_"
			endUsed = true
		}
		arrow := "-->"
		if e.Conditional {
			arrow = "-.->"
		}
		fmt.Fprintf(&sb, "    %s %s %s\n", sanitizeMermaidID(e.From), arrow, to)
	}
	if endUsed {
		sb.WriteString("    end_(((\"end\")))\n")
	}

	// Apply Overlay Styles
	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		// Force black text (color:#000) for high-contrast on light backgrounds, regardless of theme (Light/Dark)
		sb.WriteString("    classDef visited fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")
		sb.WriteString("    classDef suspended fill:#ffcdd2,stroke:#c62828,stroke-width:4px,color:#000;\n")

		visitedSet := make(map[string]bool)
		for _, id := range overlay.VisitedNodes {
			safeID := sanitizeMermaidID(id)
			if !visitedSet[safeID] && safeID != "" {
				visitedSet[safeID] = true
				fmt.Fprintf(&sb, "    class %s visited;\n", safeID)
			}
		}

		if overlay.CurrentNode != "" {
			class := "current"
			if overlay.Suspended {
				class = "suspended"
			}
			fmt.Fprintf(&sb, "    class %s %s;\n", sanitizeMermaidID(overlay.CurrentNode), class)
		}
	}

	return sb.String()
}

func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	return s
}
