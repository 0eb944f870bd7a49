// ABOUTME: Agent performance scoring against fixed call/meeting thresholds
// ABOUTME: Classifies activity volume into tiers and ranks agents worst first
package metrics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/harperreed/funnel/models"
)

type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
)

func ParsePeriod(s string) (Period, error) {
	switch Period(s) {
	case PeriodDaily, PeriodWeekly, PeriodMonthly:
		return Period(s), nil
	case "":
		return PeriodDaily, nil
	}
	return "", fmt.Errorf("invalid period %q (valid: daily, weekly, monthly)", s)
}

// Window returns the [from, now] range of the period ending at now.
func (p Period) Window(now time.Time) (time.Time, time.Time) {
	switch p {
	case PeriodWeekly:
		return now.AddDate(0, 0, -7), now
	case PeriodMonthly:
		return now.AddDate(0, -1, 0), now
	default:
		return now.Add(-24 * time.Hour), now
	}
}

type Level string

const (
	LevelExcellent Level = "excellent"
	LevelGood      Level = "good"
	LevelLow       Level = "low"
	LevelCritical  Level = "critical"
)

// rank orders levels worst first.
func (l Level) rank() int {
	switch l {
	case LevelCritical:
		return 0
	case LevelLow:
		return 1
	case LevelGood:
		return 2
	default:
		return 3
	}
}

type Score struct {
	Level Level  `json:"level"`
	Color string `json:"color"`
}

type threshold struct {
	level    Level
	color    string
	calls    int
	meetings int
}

var thresholds = map[Period][]threshold{
	PeriodDaily: {
		{LevelExcellent, "green", 50, 5},
		{LevelGood, "blue", 30, 3},
		{LevelLow, "yellow", 15, 1},
	},
	PeriodWeekly: {
		{LevelExcellent, "green", 250, 25},
		{LevelGood, "blue", 150, 15},
		{LevelLow, "yellow", 75, 5},
	},
	PeriodMonthly: {
		{LevelExcellent, "green", 1000, 100},
		{LevelGood, "blue", 600, 60},
		{LevelLow, "yellow", 300, 20},
	},
}

// Classify picks the highest tier whose call OR meeting minimum is met.
// Unknown periods are scored as daily.
func Classify(calls, meetings int, period Period) Score {
	tiers, ok := thresholds[period]
	if !ok {
		tiers = thresholds[PeriodDaily]
	}
	for _, th := range tiers {
		if calls >= th.calls || meetings >= th.meetings {
			return Score{Level: th.level, Color: th.color}
		}
	}
	return Score{Level: LevelCritical, Color: "red"}
}

type AgentScore struct {
	models.AgentActivityCount
	Score Score `json:"score"`
}

// RankAgents scores every agent and sorts worst tier first, then fewest calls.
func RankAgents(counts []models.AgentActivityCount, period Period) []AgentScore {
	out := make([]AgentScore, 0, len(counts))
	for _, c := range counts {
		out = append(out, AgentScore{AgentActivityCount: c, Score: Classify(c.Calls, c.Meetings, period)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := out[i].Score.Level.rank(), out[j].Score.Level.rank()
		if ri != rj {
			return ri < rj
		}
		if out[i].Calls != out[j].Calls {
			return out[i].Calls < out[j].Calls
		}
		return out[i].AgentID < out[j].AgentID
	})
	return out
}

// ActivityCounter is the ledger aggregate the monitor reads.
type ActivityCounter interface {
	CountByAgent(ctx context.Context, from, to time.Time) ([]models.AgentActivityCount, error)
}

type Monitor struct {
	counter ActivityCounter
	now     func() time.Time
}

func NewMonitor(counter ActivityCounter, now func() time.Time) *Monitor {
	if now == nil {
		now = time.Now
	}
	return &Monitor{counter: counter, now: now}
}

// Rank loads ledger counts for the period ending now and ranks the agents.
func (m *Monitor) Rank(ctx context.Context, period Period) ([]AgentScore, error) {
	from, to := period.Window(m.now())
	counts, err := m.counter.CountByAgent(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to count agent activity: %w", err)
	}
	return RankAgents(counts, period), nil
}
