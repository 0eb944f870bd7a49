// ABOUTME: Meeting completion records keyed by external calendar event id
// ABOUTME: Upsert semantics so repeated completion of the same event is harmless
package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/harperreed/funnel/models"
)

type CompletionRepository struct {
	q querier
}

// Upsert inserts or replaces the completion for rec.ExternalEventID.
func (r *CompletionRepository) Upsert(ctx context.Context, rec *models.CompletionRecord) error {
	if rec.ExternalEventID == "" {
		return fmt.Errorf("external event id is required")
	}
	if rec.CompletedAt.IsZero() {
		rec.CompletedAt = time.Now().UTC()
	}

	var clientID sql.NullString
	if rec.ClientID != nil {
		clientID = sql.NullString{String: rec.ClientID.String(), Valid: true}
	}

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO meeting_completions (external_event_id, closer_id, client_id, outcome, notes, completed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_event_id) DO UPDATE SET
			closer_id = excluded.closer_id,
			client_id = COALESCE(excluded.client_id, meeting_completions.client_id),
			outcome = excluded.outcome,
			notes = excluded.notes,
			completed_at = excluded.completed_at
	`, rec.ExternalEventID, rec.CloserID, clientID, nullIfEmpty(string(rec.Outcome)), nullIfEmpty(rec.Notes),
		rec.CompletedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert meeting completion: %w", err)
	}
	return nil
}

// Get returns nil, nil when the event has no completion.
func (r *CompletionRepository) Get(ctx context.Context, eventID string) (*models.CompletionRecord, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT external_event_id, closer_id, client_id, outcome, notes, completed_at
		FROM meeting_completions WHERE external_event_id = ?
	`, eventID)
	rec, err := scanCompletion(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get meeting completion: %w", err)
	}
	return rec, nil
}

// GetMany loads the completions for a set of event ids, keyed by event id.
func (r *CompletionRepository) GetMany(ctx context.Context, eventIDs []string) (map[string]models.CompletionRecord, error) {
	out := make(map[string]models.CompletionRecord, len(eventIDs))
	if len(eventIDs) == 0 {
		return out, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(eventIDs)), ",")
	args := make([]any, len(eventIDs))
	for i, id := range eventIDs {
		args[i] = id
	}

	rows, err := r.q.QueryContext(ctx, `
		SELECT external_event_id, closer_id, client_id, outcome, notes, completed_at
		FROM meeting_completions WHERE external_event_id IN (`+placeholders+`)
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query meeting completions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		rec, err := scanCompletion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan meeting completion: %w", err)
		}
		out[rec.ExternalEventID] = *rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating meeting completions: %w", err)
	}
	return out, nil
}

func scanCompletion(s rowScanner) (*models.CompletionRecord, error) {
	var rec models.CompletionRecord
	var clientID, outcome, notes sql.NullString

	if err := s.Scan(&rec.ExternalEventID, &rec.CloserID, &clientID, &outcome, &notes, &rec.CompletedAt); err != nil {
		return nil, err
	}
	if clientID.Valid && clientID.String != "" {
		id, err := uuid.Parse(clientID.String)
		if err != nil {
			return nil, fmt.Errorf("invalid client id %q: %w", clientID.String, err)
		}
		rec.ClientID = &id
	}
	rec.Outcome = models.Outcome(outcome.String)
	rec.Notes = notes.String
	return &rec, nil
}
