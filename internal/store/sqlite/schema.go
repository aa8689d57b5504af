package sqlite

import (
	"context"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS projects (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	identifier TEXT NOT NULL UNIQUE,
	name       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS trackers (
	id   INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS statuses (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	name      TEXT NOT NULL,
	is_closed INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS priorities (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	name       TEXT NOT NULL,
	is_default INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS users (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	login     TEXT NOT NULL,
	name      TEXT NOT NULL DEFAULT '',
	active    INTEGER NOT NULL DEFAULT 1,
	anonymous INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_users_login ON users(login);

CREATE TABLE IF NOT EXISTS versions (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id INTEGER NOT NULL REFERENCES projects(id),
	name       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS categories (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id INTEGER NOT NULL REFERENCES projects(id),
	name       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS custom_fields (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	name       TEXT NOT NULL,
	format     TEXT NOT NULL DEFAULT 'string',
	multiple   INTEGER NOT NULL DEFAULT 0,
	is_for_all INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS custom_field_projects (
	custom_field_id INTEGER NOT NULL REFERENCES custom_fields(id) ON DELETE CASCADE,
	project_id      INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	PRIMARY KEY (custom_field_id, project_id)
);

CREATE TABLE IF NOT EXISTS tickets (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id       INTEGER NOT NULL REFERENCES projects(id),
	tracker_id       INTEGER NOT NULL REFERENCES trackers(id),
	status_id        INTEGER NOT NULL REFERENCES statuses(id),
	priority_id      INTEGER NOT NULL REFERENCES priorities(id),
	author_id        INTEGER NOT NULL REFERENCES users(id),
	assignee_id      INTEGER REFERENCES users(id),
	category_id      INTEGER REFERENCES categories(id),
	fixed_version_id INTEGER REFERENCES versions(id),
	parent_id        INTEGER REFERENCES tickets(id),
	subject          TEXT NOT NULL,
	description      TEXT NOT NULL DEFAULT '',
	start_date       DATE,
	due_date         DATE,
	done_ratio       INTEGER NOT NULL DEFAULT 0,
	estimated_hours  REAL,
	created_at       TIMESTAMP NOT NULL,
	updated_at       TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tickets_project ON tickets(project_id);
CREATE INDEX IF NOT EXISTS idx_tickets_subject ON tickets(subject);

CREATE TABLE IF NOT EXISTS ticket_custom_values (
	ticket_id       INTEGER NOT NULL REFERENCES tickets(id) ON DELETE CASCADE,
	custom_field_id INTEGER NOT NULL REFERENCES custom_fields(id) ON DELETE CASCADE,
	position        INTEGER NOT NULL,
	value           TEXT NOT NULL,
	PRIMARY KEY (ticket_id, custom_field_id, position)
);
CREATE INDEX IF NOT EXISTS idx_custom_values_lookup ON ticket_custom_values(custom_field_id, value);

CREATE TABLE IF NOT EXISTS watchers (
	ticket_id INTEGER NOT NULL REFERENCES tickets(id) ON DELETE CASCADE,
	user_id   INTEGER NOT NULL REFERENCES users(id),
	PRIMARY KEY (ticket_id, user_id)
);

CREATE TABLE IF NOT EXISTS relations (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	from_id INTEGER NOT NULL REFERENCES tickets(id) ON DELETE CASCADE,
	to_id   INTEGER NOT NULL REFERENCES tickets(id) ON DELETE CASCADE,
	type    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_relations_from ON relations(from_id);
CREATE INDEX IF NOT EXISTS idx_relations_to ON relations(to_id);

CREATE TABLE IF NOT EXISTS journals (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	ticket_id  INTEGER NOT NULL REFERENCES tickets(id) ON DELETE CASCADE,
	user_id    INTEGER NOT NULL REFERENCES users(id),
	notes      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS journal_details (
	journal_id INTEGER NOT NULL REFERENCES journals(id) ON DELETE CASCADE,
	property   TEXT NOT NULL,
	name       TEXT NOT NULL,
	old_value  TEXT NOT NULL DEFAULT '',
	new_value  TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS import_batches (
	handle     TEXT PRIMARY KEY,
	user_id    INTEGER NOT NULL UNIQUE,
	project_id INTEGER NOT NULL,
	file_name  TEXT NOT NULL DEFAULT '',
	data       BLOB NOT NULL,
	delimiter  TEXT NOT NULL DEFAULT ',',
	quote      TEXT NOT NULL DEFAULT '"',
	encoding   TEXT NOT NULL DEFAULT 'UTF-8',
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_import_batches_created ON import_batches(created_at);

INSERT INTO users (login, name, active, anonymous)
SELECT '', 'Anonymous', 0, 1
WHERE NOT EXISTS (SELECT 1 FROM users WHERE anonymous = 1);
`

// Migrate creates the schema if it does not exist and ensures the
// anonymous user is present.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
