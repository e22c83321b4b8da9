package db

import (
	"database/sql"
	"fmt"
)

// schema is the full database schema.
const schema = `
CREATE TABLE IF NOT EXISTS users (
    id            INTEGER PRIMARY KEY,
    username      TEXT NOT NULL,
    password_hash TEXT NOT NULL,
    role          TEXT NOT NULL DEFAULT 'member' CHECK (role IN ('admin', 'librarian', 'member')),
    created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    deleted_at    DATETIME
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_users_username_active
    ON users(username) WHERE deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS user_configs (
    user_id         INTEGER PRIMARY KEY REFERENCES users(id),
    full_name       TEXT NOT NULL DEFAULT '',
    email           TEXT NOT NULL DEFAULT '',
    class_name      TEXT NOT NULL DEFAULT '',
    status          TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'approved', 'rejected', 'suspended')),
    prior_status    TEXT CHECK (prior_status IN ('pending', 'approved', 'rejected')),
    suspended_until DATETIME,
    updated_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS books (
    id               INTEGER PRIMARY KEY,
    title            TEXT NOT NULL,
    author           TEXT NOT NULL DEFAULT '',
    isbn             TEXT NOT NULL DEFAULT '',
    published_year   INTEGER NOT NULL DEFAULT 0,
    category         TEXT NOT NULL DEFAULT '',
    description      TEXT,
    cover            BLOB,
    cover_mime       TEXT,
    total_copies     INTEGER NOT NULL DEFAULT 0 CHECK (total_copies >= 0),
    available_copies INTEGER NOT NULL DEFAULT 0 CHECK (available_copies >= 0 AND available_copies <= total_copies),
    created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    deleted_at       DATETIME
);

CREATE TABLE IF NOT EXISTS borrow_records (
    id          INTEGER PRIMARY KEY,
    user_id     INTEGER NOT NULL REFERENCES users(id),
    book_id     INTEGER NOT NULL REFERENCES books(id),
    borrow_date DATETIME NOT NULL,
    due_date    DATETIME NOT NULL,
    return_date DATETIME,
    status      TEXT NOT NULL DEFAULT 'borrowed' CHECK (status IN ('borrowed', 'returned', 'lost', 'damaged'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_borrow_records_open
    ON borrow_records(user_id, book_id) WHERE status = 'borrowed';

CREATE TABLE IF NOT EXISTS requests (
    id               INTEGER PRIMARY KEY,
    borrow_record_id INTEGER NOT NULL REFERENCES borrow_records(id),
    requester_id     INTEGER NOT NULL REFERENCES users(id),
    type             TEXT NOT NULL CHECK (type IN ('extend_borrow', 'report_lost', 'report_damage', 'early_return', 'change_due_date', 'other')),
    reason           TEXT NOT NULL,
    description      TEXT,
    requested_date   DATETIME,
    status           TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'approved', 'rejected', 'voided')),
    admin_response   TEXT,
    action_data      TEXT,
    resolved_by      INTEGER REFERENCES users(id),
    created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    resolved_at      DATETIME
);

CREATE TABLE IF NOT EXISTS settings (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS revoked_tokens (
    jti        TEXT PRIMARY KEY,
    expires_at DATETIME NOT NULL
);
`

// EnsureSchema creates all tables and indexes if they don't already exist.
func EnsureSchema(db *sql.DB) error {
	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}
