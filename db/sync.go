// ABOUTME: Database operations for the sync_state table
// ABOUTME: Tracks the last calendar reconciliation pass and its error per service key
package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/harperreed/funnel/models"
)

// CalendarServiceKey is the sync_state key used for an agent's calendar.
func CalendarServiceKey(agentID string) string {
	return "calendar:" + agentID
}

type SyncStateRepository struct {
	q querier
}

// Get retrieves the sync state for a service; nil when it never ran.
func (r *SyncStateRepository) Get(ctx context.Context, service string) (*models.SyncState, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT service, last_sync_time, last_sync_token, status, error_message, created_at, updated_at
		FROM sync_state
		WHERE service = ?
	`, service)

	state, err := scanSyncState(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync state: %w", err)
	}
	return state, nil
}

// UpdateStatus updates the sync status for a service.
func (r *SyncStateRepository) UpdateStatus(ctx context.Context, service, status string, errorMsg *string) error {
	var errorMsgVal sql.NullString
	if errorMsg != nil {
		errorMsgVal = sql.NullString{String: *errorMsg, Valid: true}
	}

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO sync_state (service, status, error_message, created_at, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(service) DO UPDATE SET
			status = excluded.status,
			error_message = excluded.error_message,
			updated_at = CURRENT_TIMESTAMP
	`, service, status, errorMsgVal)
	if err != nil {
		return fmt.Errorf("failed to update sync status: %w", err)
	}
	return nil
}

// MarkSynced records a successful pass; token is free-form (e.g. the window reconciled).
func (r *SyncStateRepository) MarkSynced(ctx context.Context, service, token string) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO sync_state (service, last_sync_time, last_sync_token, status, created_at, updated_at)
		VALUES (?, CURRENT_TIMESTAMP, ?, 'idle', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(service) DO UPDATE SET
			last_sync_time = CURRENT_TIMESTAMP,
			last_sync_token = excluded.last_sync_token,
			status = 'idle',
			error_message = NULL,
			updated_at = CURRENT_TIMESTAMP
	`, service, token)
	if err != nil {
		return fmt.Errorf("failed to update sync token: %w", err)
	}
	return nil
}

// List retrieves the sync state for all services.
func (r *SyncStateRepository) List(ctx context.Context) ([]models.SyncState, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT service, last_sync_time, last_sync_token, status, error_message, created_at, updated_at
		FROM sync_state
		ORDER BY service
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync states: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var states []models.SyncState
	for rows.Next() {
		state, err := scanSyncState(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync state: %w", err)
		}
		states = append(states, *state)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync states: %w", err)
	}
	return states, nil
}

func scanSyncState(s rowScanner) (*models.SyncState, error) {
	var state models.SyncState
	var lastSyncTime sql.NullTime
	var lastSyncToken, status, errorMessage sql.NullString

	if err := s.Scan(&state.Service, &lastSyncTime, &lastSyncToken, &status, &errorMessage,
		&state.CreatedAt, &state.UpdatedAt); err != nil {
		return nil, err
	}

	state.Status = status.String
	if lastSyncTime.Valid {
		state.LastSyncTime = &lastSyncTime.Time
	}
	if lastSyncToken.Valid {
		state.LastSyncToken = &lastSyncToken.String
	}
	if errorMessage.Valid {
		state.ErrorMessage = &errorMessage.String
	}
	return &state, nil
}
