// ABOUTME: Graphviz rendering of the meeting funnel
// ABOUTME: Emits DOT source with one node per funnel step and edges labeled with conversion rates
package viz

import (
	"bytes"
	"context"
	"fmt"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"
	"github.com/harperreed/funnel/metrics"
)

// GenerateFunnelGraph renders the snapshot as DOT.
func GenerateFunnelGraph(ctx context.Context, title string, snap metrics.FunnelSnapshot) (string, error) {
	gv, err := graphviz.New(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to create graphviz instance: %w", err)
	}
	defer gv.Close()

	graph, err := gv.Graph()
	if err != nil {
		return "", fmt.Errorf("failed to create graph: %w", err)
	}
	defer graph.Close()

	graph.SetRankDir(cgraph.LRRank)
	graph.SetLabel(title)

	node := func(name, label, fill string) (*cgraph.Node, error) {
		n, err := graph.CreateNodeByName(name)
		if err != nil {
			return nil, fmt.Errorf("failed to create node %s: %w", name, err)
		}
		n.SetLabel(label)
		n.SetShape("box")
		n.SetStyle("filled")
		n.SetFillColor(fill)
		return n, nil
	}

	scheduled, err := node("scheduled", fmt.Sprintf("Agendadas\n%d", snap.Scheduled), "lightblue")
	if err != nil {
		return "", err
	}
	realized, err := node("realized", fmt.Sprintf("Realizadas\n%d", snap.Realized), "lightblue")
	if err != nil {
		return "", err
	}
	proposals, err := node("proposals", fmt.Sprintf("Propuestas\n%d", snap.ProposalSent), "lightyellow")
	if err != nil {
		return "", err
	}
	won, err := node("won", fmt.Sprintf("Ganadas\n%d", snap.Won), "lightgreen")
	if err != nil {
		return "", err
	}
	noShow, err := node("no_show", fmt.Sprintf("No-show\n%d", snap.Losses.NoShow), "mistyrose")
	if err != nil {
		return "", err
	}
	notInterested, err := node("not_interested", fmt.Sprintf("Sin interés\n%d", snap.Losses.NotInterested), "mistyrose")
	if err != nil {
		return "", err
	}

	edges := []struct {
		from, to *cgraph.Node
		label    string
		lost     bool
	}{
		{scheduled, realized, snap.Rates.Attendance + "%", false},
		{realized, proposals, snap.Rates.Interest + "%", false},
		{proposals, won, snap.Rates.Close + "%", false},
		{scheduled, noShow, "", true},
		{realized, notInterested, "", true},
	}
	for _, e := range edges {
		edge, err := graph.CreateEdgeByName("", e.from, e.to)
		if err != nil {
			return "", fmt.Errorf("failed to create edge: %w", err)
		}
		if e.label != "" {
			edge.SetLabel(e.label)
		}
		if e.lost {
			edge.SetStyle("dashed")
		}
	}

	var buf bytes.Buffer
	if err := gv.Render(ctx, graph, graphviz.XDOT, &buf); err != nil {
		return "", fmt.Errorf("failed to render graph: %w", err)
	}
	return buf.String(), nil
}
