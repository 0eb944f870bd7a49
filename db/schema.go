// ABOUTME: Database schema definitions and migrations
// ABOUTME: Handles SQLite table creation for clients, activities, completions and sync state
package db

import (
	"database/sql"
)

const schema = `
CREATE TABLE IF NOT EXISTS clients (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	phone TEXT,
	email TEXT,
	company TEXT,
	assigned_prospector_id TEXT NOT NULL,
	assigned_closer_id TEXT,
	stage TEXT NOT NULL CHECK(stage IN ('prospect_new', 'in_contact', 'meeting_scheduled', 'meeting_completed', 'negotiating', 'sale_won', 'lost')),
	status TEXT NOT NULL CHECK(status IN ('in_progress', 'won', 'lost')),
	stage_history TEXT NOT NULL,
	last_interaction_at DATETIME,
	next_call_at DATETIME,
	version INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_clients_closer ON clients(assigned_closer_id);
CREATE INDEX IF NOT EXISTS idx_clients_prospector ON clients(assigned_prospector_id);
CREATE INDEX IF NOT EXISTS idx_clients_stage ON clients(stage);

CREATE TABLE IF NOT EXISTS activities (
	id TEXT PRIMARY KEY,
	client_id TEXT NOT NULL,
	actor_id TEXT NOT NULL,
	type TEXT NOT NULL CHECK(type IN ('call', 'message', 'email', 'whatsapp', 'meeting', 'conversion')),
	timestamp DATETIME NOT NULL,
	description TEXT,
	outcome TEXT NOT NULL,
	notes TEXT,
	external_event_id TEXT,
	created_at DATETIME NOT NULL,
	FOREIGN KEY (client_id) REFERENCES clients(id)
);

CREATE INDEX IF NOT EXISTS idx_activities_client ON activities(client_id);
CREATE INDEX IF NOT EXISTS idx_activities_pending ON activities(actor_id, type, outcome);
CREATE INDEX IF NOT EXISTS idx_activities_timestamp ON activities(timestamp DESC);

CREATE TABLE IF NOT EXISTS meeting_completions (
	external_event_id TEXT PRIMARY KEY,
	closer_id TEXT NOT NULL,
	client_id TEXT,
	outcome TEXT,
	notes TEXT,
	completed_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_meeting_completions_closer ON meeting_completions(closer_id);

CREATE TABLE IF NOT EXISTS sync_state (
	service TEXT PRIMARY KEY,
	last_sync_time DATETIME,
	last_sync_token TEXT,
	status TEXT CHECK(status IN ('idle', 'syncing', 'error')),
	error_message TEXT,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

func InitSchema(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
