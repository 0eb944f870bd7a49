// ABOUTME: Funnel metrics aggregation for a closer's clients
// ABOUTME: Infers milestones from history when the explicit stage lags behind recorded outcomes
package metrics

import (
	"context"
	"fmt"

	"github.com/harperreed/funnel/db"
	"github.com/harperreed/funnel/models"
)

type Losses struct {
	NoShow        int `json:"no_show"`
	NotInterested int `json:"not_interested"`
}

// Rates are percentages with one decimal, "0.0" when the denominator is zero.
type Rates struct {
	Attendance string `json:"attendance"`
	Interest   string `json:"interest"`
	Close      string `json:"close"`
	Global     string `json:"global"`
}

type FunnelSnapshot struct {
	Scheduled    int    `json:"scheduled"`
	Realized     int    `json:"realized"`
	ProposalSent int    `json:"proposal_sent"`
	Won          int    `json:"won"`
	Losses       Losses `json:"losses"`
	Rates        Rates  `json:"rates"`
}

// ClientLister is the read side the aggregator needs.
type ClientLister interface {
	List(ctx context.Context, f db.ClientFilter) ([]models.Client, error)
}

type Aggregator struct {
	clients ClientLister
}

func NewAggregator(clients ClientLister) *Aggregator {
	return &Aggregator{clients: clients}
}

// ComputeFunnel aggregates every client assigned to the closer.
func (a *Aggregator) ComputeFunnel(ctx context.Context, closerID string) (*FunnelSnapshot, error) {
	clients, err := a.clients.List(ctx, db.ClientFilter{CloserID: closerID})
	if err != nil {
		return nil, fmt.Errorf("failed to load clients: %w", err)
	}
	snap := Summarize(clients)
	return &snap, nil
}

// Summarize folds clients into a snapshot. Each client counts as scheduled.
func Summarize(clients []models.Client) FunnelSnapshot {
	var s FunnelSnapshot
	for i := range clients {
		s.add(&clients[i])
	}
	s.Rates = Rates{
		Attendance: percent(s.Realized, s.Scheduled),
		Interest:   percent(s.ProposalSent, s.Realized),
		Close:      percent(s.Won, s.ProposalSent),
		Global:     percent(s.Won, s.Scheduled),
	}
	return s
}

func (s *FunnelSnapshot) add(c *models.Client) {
	s.Scheduled++

	switch c.CurrentStage() {
	case models.StageSaleWon:
		s.Realized++
		s.ProposalSent++
		s.Won++
		return
	case models.StageNegotiating:
		s.Realized++
		s.ProposalSent++
		return
	case models.StageMeetingCompleted:
		s.Realized++
		return
	case models.StageLost:
		if c.HasOutcome(models.OutcomeNoShow) {
			s.Losses.NoShow++
			return
		}
		s.Losses.NotInterested++
		s.Realized++
		return
	}

	// Stage lags behind: trust only the most recent outcome code.
	switch c.LastOutcome() {
	case models.OutcomeSale:
		s.Won++
		s.ProposalSent++
		s.Realized++
	case models.OutcomeWantsQuote:
		s.ProposalSent++
		s.Realized++
	case models.OutcomeNoShow:
		s.Losses.NoShow++
	case models.OutcomeNoInterest, models.OutcomeWantsAnotherMeeting:
		s.Realized++
	}
}

func percent(num, den int) string {
	if den == 0 {
		return "0.0"
	}
	return fmt.Sprintf("%.1f", float64(num)*100/float64(den))
}
