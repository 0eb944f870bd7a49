// ABOUTME: Terminal funnel dashboard statistics and rendering
// ABOUTME: Stage counts, conversion bars and clients that need attention for one closer or the whole team
package viz

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/harperreed/funnel/db"
	"github.com/harperreed/funnel/metrics"
	"github.com/harperreed/funnel/models"
)

const (
	barWidth  = 20
	staleDays = 14
)

type DashboardStats struct {
	CloserID string
	Funnel   metrics.FunnelSnapshot

	// Clients per stage, in funnel order
	Stages []StageCount
	Total  int

	// Open clients with no interaction in staleDays
	Stale []StaleClient
}

type StageCount struct {
	Stage models.Stage
	Count int
}

type StaleClient struct {
	Name      string
	Stage     models.Stage
	DaysSince int // -1 when never contacted
}

// GenerateDashboardStats loads the closer's clients, or every client when closerID is empty.
func GenerateDashboardStats(ctx context.Context, clients metrics.ClientLister, closerID string, now time.Time) (*DashboardStats, error) {
	list, err := clients.List(ctx, db.ClientFilter{CloserID: closerID})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch clients: %w", err)
	}

	stats := &DashboardStats{
		CloserID: closerID,
		Funnel:   metrics.Summarize(list),
		Total:    len(list),
	}

	counts := make(map[models.Stage]int)
	for i := range list {
		c := &list[i]
		counts[c.Stage]++

		if c.Stage.Terminal() {
			continue
		}
		if c.LastInteractionAt == nil {
			stats.Stale = append(stats.Stale, StaleClient{Name: c.Name, Stage: c.Stage, DaysSince: -1})
			continue
		}
		days := int(now.Sub(*c.LastInteractionAt).Hours() / 24)
		if days >= staleDays {
			stats.Stale = append(stats.Stale, StaleClient{Name: c.Name, Stage: c.Stage, DaysSince: days})
		}
	}
	for _, s := range models.AllStages {
		stats.Stages = append(stats.Stages, StageCount{Stage: s, Count: counts[s]})
	}
	return stats, nil
}

// RenderDashboard draws the dashboard; color wraps bars in ANSI codes.
func RenderDashboard(stats *DashboardStats, color bool) string {
	var out strings.Builder

	out.WriteString("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	if stats.CloserID != "" {
		out.WriteString(fmt.Sprintf("  FUNNEL · %s\n", stats.CloserID))
	} else {
		out.WriteString("  FUNNEL · all agents\n")
	}
	out.WriteString("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

	out.WriteString("PIPELINE\n")
	renderStages(&out, stats.Stages, color)
	out.WriteString(fmt.Sprintf("  %-18s %d clients\n\n", "total", stats.Total))

	f := stats.Funnel
	out.WriteString("FUNNEL\n")
	renderFunnel(&out, []funnelStep{
		{"Agendadas", f.Scheduled, ""},
		{"Realizadas", f.Realized, f.Rates.Attendance},
		{"Propuestas", f.ProposalSent, f.Rates.Interest},
		{"Ganadas", f.Won, f.Rates.Close},
	}, color)
	out.WriteString(fmt.Sprintf("  Global %s%%  ·  no-show %d  ·  sin interés %d\n\n",
		f.Rates.Global, f.Losses.NoShow, f.Losses.NotInterested))

	if len(stats.Stale) > 0 {
		out.WriteString("NEEDS ATTENTION\n")
		for _, s := range stats.Stale {
			if s.DaysSince < 0 {
				out.WriteString(fmt.Sprintf("  ⚠️  %s (%s) - never contacted\n", s.Name, s.Stage))
			} else {
				out.WriteString(fmt.Sprintf("  ⚠️  %s (%s) - %d days without contact\n", s.Name, s.Stage, s.DaysSince))
			}
		}
	}

	return out.String()
}

func renderStages(out *strings.Builder, stages []StageCount, color bool) {
	maxCount := 0
	for _, s := range stages {
		maxCount = max(maxCount, s.Count)
	}
	for _, s := range stages {
		out.WriteString(fmt.Sprintf("  %-18s %s %3d\n", s.Stage, bar(s.Count, maxCount, stageColor(s.Stage), color), s.Count))
	}
}

type funnelStep struct {
	label string
	count int
	rate  string
}

func renderFunnel(out *strings.Builder, steps []funnelStep, color bool) {
	top := 0
	if len(steps) > 0 {
		top = steps[0].count
	}
	for _, s := range steps {
		line := fmt.Sprintf("  %-18s %s %3d", s.label, bar(s.count, top, ansiCyan, color), s.count)
		if s.rate != "" {
			line += fmt.Sprintf("  (%s%%)", s.rate)
		}
		out.WriteString(line + "\n")
	}
}

const (
	ansiReset  = "\x1b[0m"
	ansiCyan   = "\x1b[36m"
	ansiGreen  = "\x1b[32m"
	ansiRed    = "\x1b[31m"
	ansiYellow = "\x1b[33m"
)

func stageColor(s models.Stage) string {
	switch s {
	case models.StageSaleWon:
		return ansiGreen
	case models.StageLost:
		return ansiRed
	case models.StageNegotiating, models.StageMeetingCompleted:
		return ansiYellow
	}
	return ansiCyan
}

// bar scales n against total onto barWidth blocks.
func bar(n, total int, ansi string, color bool) string {
	filled := 0
	if total > 0 {
		filled = min(n*barWidth/total, barWidth)
	}
	b := strings.Repeat("█", filled)
	if color && filled > 0 {
		b = ansi + b + ansiReset
	}
	return b + strings.Repeat("░", barWidth-filled)
}
