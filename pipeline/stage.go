// ABOUTME: Stage machine: client creation and validated stage transitions
// ABOUTME: History is append-only and the stored stage is always its last entry
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/harperreed/funnel/db"
	"github.com/harperreed/funnel/models"
	"github.com/harperreed/funnel/telemetry"
)

type NewClientRequest struct {
	Name         string
	Phone        string
	Email        string
	Company      string
	ProspectorID string
}

// CreateClient registers a prospect owned by the given prospector.
func (s *Service) CreateClient(ctx context.Context, req NewClientRequest) (*models.Client, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, fmt.Errorf("name is required: %w", ErrInvalidInput)
	}
	if req.ProspectorID == "" {
		return nil, fmt.Errorf("prospector is required: %w", ErrInvalidInput)
	}

	now := s.now()
	c := &models.Client{
		Name:                 strings.TrimSpace(req.Name),
		Phone:                req.Phone,
		Email:                req.Email,
		Company:              req.Company,
		AssignedProspectorID: req.ProspectorID,
		StageHistory: []models.StageEntry{
			{Stage: models.StageProspectNew, At: now, ActorID: req.ProspectorID},
		},
	}
	if err := s.store.Clients.Create(ctx, c); err != nil {
		return nil, err
	}

	s.logger.Info("client created", "client", c.ID, "prospector", req.ProspectorID)
	return c, nil
}

func (s *Service) GetClient(ctx context.Context, id uuid.UUID) (*models.Client, error) {
	c, err := s.store.Clients.Get(ctx, id)
	return c, translate(err)
}

// ListClients returns the clients matching the filter.
func (s *Service) ListClients(ctx context.Context, f db.ClientFilter) ([]models.Client, error) {
	return s.store.Clients.List(ctx, f)
}

type TransitionRequest struct {
	ClientID    uuid.UUID
	TargetStage models.Stage
	ActorID     string
	OutcomeCode models.Outcome
	Note        string
	Override    Override
}

// ApplyTransition moves a client to a new stage, appending one history entry.
// On any error the stored record is unchanged.
func (s *Service) ApplyTransition(ctx context.Context, req TransitionRequest) (*models.Client, error) {
	target := req.TargetStage
	if req.Override != "" {
		overrideTarget, ok := req.Override.Target()
		if !ok {
			return nil, fmt.Errorf("unknown override %q: %w", req.Override, ErrInvalidTransition)
		}
		if target != "" && target != overrideTarget {
			return nil, fmt.Errorf("override %s lands on %s, not %s: %w", req.Override, overrideTarget, target, ErrInvalidTransition)
		}
		target = overrideTarget
	}
	if !target.Valid() {
		return nil, fmt.Errorf("%q: %w", target, ErrInvalidStage)
	}
	if req.OutcomeCode != "" && !req.OutcomeCode.Valid() {
		return nil, fmt.Errorf("%q: %w", req.OutcomeCode, ErrInvalidOutcome)
	}

	unlock := s.locks.Lock(req.ClientID.String())
	defer unlock()

	var out *models.Client
	err := s.store.InTx(ctx, func(tx *db.Store) error {
		c, err := tx.Clients.Get(ctx, req.ClientID)
		if err != nil {
			return err
		}
		if !c.IsAssigned(req.ActorID) {
			return ErrForbidden
		}
		if err := s.transition(ctx, tx, c, stepSpec{
			target:   target,
			actor:    req.ActorID,
			outcome:  req.OutcomeCode,
			note:     req.Note,
			override: req.Override != "",
		}); err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}
	return out, nil
}

type stepSpec struct {
	target   models.Stage
	actor    string
	outcome  models.Outcome
	note     string
	override bool
	// anyNonTerminal allows the outcome path to land from every open stage.
	anyNonTerminal bool
	closerID       *string
}

// transition validates and persists one step for an already loaded client.
// The caller holds the client lock and runs inside a transaction.
func (s *Service) transition(ctx context.Context, tx *db.Store, c *models.Client, step stepSpec) error {
	from := c.CurrentStage()
	switch {
	case from.Terminal():
		return fmt.Errorf("%s is terminal: %w", from, ErrInvalidTransition)
	case step.override, step.anyNonTerminal:
	case !CanTransition(from, step.target):
		return fmt.Errorf("%s -> %s: %w", from, step.target, ErrInvalidTransition)
	}

	now := s.now()
	c.StageHistory = append(c.StageHistory, models.StageEntry{
		Stage:       step.target,
		At:          now,
		ActorID:     step.actor,
		Outcome:     step.outcome,
		Description: step.note,
	})
	c.LastInteractionAt = &now
	if step.closerID != nil {
		c.AssignedCloserID = step.closerID
	}

	if err := tx.Clients.SaveStage(ctx, c); err != nil {
		return err
	}

	telemetry.StageTransitions.WithLabelValues(string(step.target)).Inc()
	s.logger.Info("stage changed", "client", c.ID, "from", from, "to", step.target, "actor", step.actor)
	return nil
}

func ptrTime(t time.Time) *time.Time {
	return &t
}
