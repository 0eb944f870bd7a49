// ABOUTME: Client repository with optimistic versioning
// ABOUTME: Persists clients and their JSON stage history, guarding writes with a version compare-and-swap
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/harperreed/funnel/models"
)

type ClientRepository struct {
	q querier
}

const clientColumns = `id, name, phone, email, company, assigned_prospector_id, assigned_closer_id,
	stage, status, stage_history, last_interaction_at, next_call_at, version, created_at, updated_at`

// Create inserts a new client. The caller provides the initial history.
func (r *ClientRepository) Create(ctx context.Context, c *models.Client) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	c.Version = 1
	c.Stage = c.CurrentStage()
	c.Status = models.StatusFor(c.Stage)

	history, err := json.Marshal(c.StageHistory)
	if err != nil {
		return fmt.Errorf("failed to encode stage history: %w", err)
	}

	_, err = r.q.ExecContext(ctx, `
		INSERT INTO clients (`+clientColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID.String(), c.Name, c.Phone, c.Email, c.Company, c.AssignedProspectorID, c.AssignedCloserID,
		c.Stage, c.Status, string(history), c.LastInteractionAt, c.NextCallAt, c.Version, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	return nil
}

// Get returns ErrClientNotFound when the id is unknown.
func (r *ClientRepository) Get(ctx context.Context, id uuid.UUID) (*models.Client, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = ?`, id.String())
	c, err := scanClient(row)
	if err == sql.ErrNoRows {
		return nil, ErrClientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	return c, nil
}

// ClientFilter narrows List. Empty fields match everything.
type ClientFilter struct {
	CloserID     string
	ProspectorID string
	Stage        models.Stage
	Limit        int
}

func (r *ClientRepository) List(ctx context.Context, f ClientFilter) ([]models.Client, error) {
	query := `SELECT ` + clientColumns + ` FROM clients WHERE 1=1`
	var args []any

	if f.CloserID != "" {
		query += " AND assigned_closer_id = ?"
		args = append(args, f.CloserID)
	}
	if f.ProspectorID != "" {
		query += " AND assigned_prospector_id = ?"
		args = append(args, f.ProspectorID)
	}
	if f.Stage != "" {
		query += " AND stage = ?"
		args = append(args, f.Stage)
	}
	query += " ORDER BY created_at"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var clients []models.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan client: %w", err)
		}
		clients = append(clients, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating clients: %w", err)
	}
	return clients, nil
}

// SaveStage writes history, the derived stage/status cache, closer and interaction
// time in one statement, only if the stored version still equals c.Version.
// On success c.Version is incremented.
func (r *ClientRepository) SaveStage(ctx context.Context, c *models.Client) error {
	c.Stage = c.CurrentStage()
	c.Status = models.StatusFor(c.Stage)
	c.UpdatedAt = time.Now().UTC()

	history, err := json.Marshal(c.StageHistory)
	if err != nil {
		return fmt.Errorf("failed to encode stage history: %w", err)
	}

	res, err := r.q.ExecContext(ctx, `
		UPDATE clients
		SET stage = ?, status = ?, stage_history = ?, assigned_closer_id = ?,
			last_interaction_at = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`, c.Stage, c.Status, string(history), c.AssignedCloserID, c.LastInteractionAt, c.UpdatedAt,
		c.ID.String(), c.Version)
	if err != nil {
		return fmt.Errorf("failed to update client stage: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		if _, err := r.Get(ctx, c.ID); err != nil {
			return err
		}
		return ErrVersionConflict
	}

	c.Version++
	return nil
}

// Touch records an interaction time and optionally the next planned call.
// It does not affect the stage and does not bump the version.
func (r *ClientRepository) Touch(ctx context.Context, id uuid.UUID, at time.Time, nextCallAt *time.Time) error {
	query := `UPDATE clients SET last_interaction_at = ?, updated_at = ? WHERE id = ?`
	args := []any{at, time.Now().UTC(), id.String()}
	if nextCallAt != nil {
		query = `UPDATE clients SET last_interaction_at = ?, next_call_at = ?, updated_at = ? WHERE id = ?`
		args = []any{at, *nextCallAt, time.Now().UTC(), id.String()}
	}

	res, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to touch client: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrClientNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClient(s rowScanner) (*models.Client, error) {
	var c models.Client
	var id, history string
	var phone, email, company, closer sql.NullString
	var lastInteraction, nextCall sql.NullTime

	err := s.Scan(&id, &c.Name, &phone, &email, &company, &c.AssignedProspectorID, &closer,
		&c.Stage, &c.Status, &history, &lastInteraction, &nextCall, &c.Version, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}

	c.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid client id %q: %w", id, err)
	}
	c.Phone = phone.String
	c.Email = email.String
	c.Company = company.String
	if closer.Valid && closer.String != "" {
		c.AssignedCloserID = &closer.String
	}
	if lastInteraction.Valid {
		c.LastInteractionAt = &lastInteraction.Time
	}
	if nextCall.Valid {
		c.NextCallAt = &nextCall.Time
	}
	if err := json.Unmarshal([]byte(history), &c.StageHistory); err != nil {
		return nil, fmt.Errorf("failed to decode stage history: %w", err)
	}

	return &c, nil
}
