// ABOUTME: Activity ledger repository
// ABOUTME: Append-only activity rows; only outcome and notes change after insert
package db

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/harperreed/funnel/models"
	"github.com/oklog/ulid/v2"
)

type ActivityRepository struct {
	q querier
}

const activityColumns = `id, client_id, actor_id, type, timestamp, description, outcome, notes, external_event_id, created_at`

// NewActivityID returns a time-ordered identifier.
func NewActivityID(at time.Time) string {
	return ulid.MustNew(ulid.Timestamp(at), rand.Reader).String()
}

func (r *ActivityRepository) Create(ctx context.Context, a *models.Activity) error {
	now := time.Now().UTC()
	if a.ID == "" {
		a.ID = NewActivityID(now)
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = now
	}
	a.CreatedAt = now

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO activities (`+activityColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.ClientID.String(), a.ActorID, a.Type, a.Timestamp.UTC(), a.Description, a.Outcome, a.Notes,
		nullIfEmpty(a.ExternalEventID), a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create activity: %w", err)
	}
	return nil
}

func (r *ActivityRepository) Get(ctx context.Context, id string) (*models.Activity, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+activityColumns+` FROM activities WHERE id = ?`, id)
	a, err := scanActivity(row)
	if err == sql.ErrNoRows {
		return nil, ErrActivityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get activity: %w", err)
	}
	return a, nil
}

// ListByClient returns the client's timeline, oldest first.
func (r *ActivityRepository) ListByClient(ctx context.Context, clientID uuid.UUID) ([]models.Activity, error) {
	return r.list(ctx, `SELECT `+activityColumns+` FROM activities WHERE client_id = ? ORDER BY timestamp, id`,
		clientID.String())
}

// ListPendingMeetings returns the pending meetings owned by an actor, earliest first.
func (r *ActivityRepository) ListPendingMeetings(ctx context.Context, actorID string) ([]models.Activity, error) {
	return r.list(ctx, `SELECT `+activityColumns+` FROM activities
		WHERE actor_id = ? AND type = ? AND outcome = ?
		ORDER BY timestamp, id`,
		actorID, models.ActivityMeeting, models.OutcomePending)
}

// ListPendingMeetingsForClient returns every pending meeting of a client, earliest first.
func (r *ActivityRepository) ListPendingMeetingsForClient(ctx context.Context, clientID uuid.UUID) ([]models.Activity, error) {
	return r.list(ctx, `SELECT `+activityColumns+` FROM activities
		WHERE client_id = ? AND type = ? AND outcome = ?
		ORDER BY timestamp, id`,
		clientID.String(), models.ActivityMeeting, models.OutcomePending)
}

// Resolve sets the outcome and appends a note line. It is the only mutation
// allowed on an existing activity besides linking its external event.
func (r *ActivityRepository) Resolve(ctx context.Context, id string, outcome models.Outcome, note string) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE activities
		SET outcome = ?,
			notes = CASE
				WHEN ? = '' THEN notes
				WHEN notes IS NULL OR notes = '' THEN ?
				ELSE notes || char(10) || ?
			END
		WHERE id = ?
	`, outcome, note, note, note, id)
	if err != nil {
		return fmt.Errorf("failed to resolve activity: %w", err)
	}
	return expectOneRow(res, ErrActivityNotFound)
}

// LinkExternalEvent attaches the external calendar event id of a meeting.
func (r *ActivityRepository) LinkExternalEvent(ctx context.Context, id, eventID string) error {
	res, err := r.q.ExecContext(ctx, `UPDATE activities SET external_event_id = ? WHERE id = ?`, eventID, id)
	if err != nil {
		return fmt.Errorf("failed to link external event: %w", err)
	}
	return expectOneRow(res, ErrActivityNotFound)
}

// CountByAgent aggregates calls and meetings per actor in [from, to].
func (r *ActivityRepository) CountByAgent(ctx context.Context, from, to time.Time) ([]models.AgentActivityCount, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT actor_id,
			SUM(CASE WHEN type = 'call' THEN 1 ELSE 0 END),
			SUM(CASE WHEN type = 'meeting' THEN 1 ELSE 0 END)
		FROM activities
		WHERE timestamp >= ? AND timestamp <= ?
		GROUP BY actor_id
		ORDER BY actor_id
	`, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to count activities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var counts []models.AgentActivityCount
	for rows.Next() {
		var c models.AgentActivityCount
		if err := rows.Scan(&c.AgentID, &c.Calls, &c.Meetings); err != nil {
			return nil, fmt.Errorf("failed to scan activity count: %w", err)
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating activity counts: %w", err)
	}
	return counts, nil
}

func (r *ActivityRepository) list(ctx context.Context, query string, args ...any) ([]models.Activity, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query activities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var activities []models.Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		activities = append(activities, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating activities: %w", err)
	}
	return activities, nil
}

func scanActivity(s rowScanner) (*models.Activity, error) {
	var a models.Activity
	var clientID string
	var description, notes, eventID sql.NullString

	err := s.Scan(&a.ID, &clientID, &a.ActorID, &a.Type, &a.Timestamp, &description, &a.Outcome, &notes,
		&eventID, &a.CreatedAt)
	if err != nil {
		return nil, err
	}

	a.ClientID, err = uuid.Parse(clientID)
	if err != nil {
		return nil, fmt.Errorf("invalid client id %q: %w", clientID, err)
	}
	a.Description = description.String
	a.Notes = notes.String
	a.ExternalEventID = strings.TrimSpace(eventID.String)
	return &a, nil
}

func expectOneRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
