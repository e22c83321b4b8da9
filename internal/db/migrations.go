package db

import (
	"database/sql"
	"fmt"
)

// migrations is a list of SQL statements applied in order after schema creation.
// Each migration must be idempotent. Append new migrations at the end.
var migrations = []string{
	// Migration 1: listing requests by requester and status, and borrows by user.
	`CREATE INDEX IF NOT EXISTS idx_requests_requester_status
	     ON requests(requester_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_borrow_records_user
	     ON borrow_records(user_id, status)`,
}

// Migrate ensures the schema and then runs the migrations.
func Migrate(db *sql.DB) error {
	if err := EnsureSchema(db); err != nil {
		return err
	}

	for i, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("running migration %d: %w", i+1, err)
		}
	}

	return nil
}
