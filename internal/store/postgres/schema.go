package postgres

import (
	"context"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS projects (
	id         BIGSERIAL PRIMARY KEY,
	identifier TEXT NOT NULL UNIQUE,
	name       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS trackers (
	id   BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS statuses (
	id        BIGSERIAL PRIMARY KEY,
	name      TEXT NOT NULL,
	is_closed BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS priorities (
	id         BIGSERIAL PRIMARY KEY,
	name       TEXT NOT NULL,
	is_default BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS users (
	id        BIGSERIAL PRIMARY KEY,
	login     TEXT NOT NULL,
	name      TEXT NOT NULL DEFAULT '',
	active    BOOLEAN NOT NULL DEFAULT TRUE,
	anonymous BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_users_login ON users(login);

CREATE TABLE IF NOT EXISTS versions (
	id         BIGSERIAL PRIMARY KEY,
	project_id BIGINT NOT NULL REFERENCES projects(id),
	name       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS categories (
	id         BIGSERIAL PRIMARY KEY,
	project_id BIGINT NOT NULL REFERENCES projects(id),
	name       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS custom_fields (
	id         BIGSERIAL PRIMARY KEY,
	name       TEXT NOT NULL,
	format     TEXT NOT NULL DEFAULT 'string',
	multiple   BOOLEAN NOT NULL DEFAULT FALSE,
	is_for_all BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS custom_field_projects (
	custom_field_id BIGINT NOT NULL REFERENCES custom_fields(id) ON DELETE CASCADE,
	project_id      BIGINT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	PRIMARY KEY (custom_field_id, project_id)
);

CREATE TABLE IF NOT EXISTS tickets (
	id               BIGSERIAL PRIMARY KEY,
	project_id       BIGINT NOT NULL REFERENCES projects(id),
	tracker_id       BIGINT NOT NULL REFERENCES trackers(id),
	status_id        BIGINT NOT NULL REFERENCES statuses(id),
	priority_id      BIGINT NOT NULL REFERENCES priorities(id),
	author_id        BIGINT NOT NULL REFERENCES users(id),
	assignee_id      BIGINT REFERENCES users(id),
	category_id      BIGINT REFERENCES categories(id),
	fixed_version_id BIGINT REFERENCES versions(id),
	parent_id        BIGINT REFERENCES tickets(id),
	subject          TEXT NOT NULL,
	description      TEXT NOT NULL DEFAULT '',
	start_date       DATE,
	due_date         DATE,
	done_ratio       INTEGER NOT NULL DEFAULT 0,
	estimated_hours  DOUBLE PRECISION,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_tickets_project ON tickets(project_id);
CREATE INDEX IF NOT EXISTS idx_tickets_subject ON tickets(subject);

CREATE TABLE IF NOT EXISTS ticket_custom_values (
	ticket_id       BIGINT NOT NULL REFERENCES tickets(id) ON DELETE CASCADE,
	custom_field_id BIGINT NOT NULL REFERENCES custom_fields(id) ON DELETE CASCADE,
	position        INTEGER NOT NULL,
	value           TEXT NOT NULL,
	PRIMARY KEY (ticket_id, custom_field_id, position)
);
CREATE INDEX IF NOT EXISTS idx_custom_values_lookup ON ticket_custom_values(custom_field_id, value);

CREATE TABLE IF NOT EXISTS watchers (
	ticket_id BIGINT NOT NULL REFERENCES tickets(id) ON DELETE CASCADE,
	user_id   BIGINT NOT NULL REFERENCES users(id),
	PRIMARY KEY (ticket_id, user_id)
);

CREATE TABLE IF NOT EXISTS relations (
	id      BIGSERIAL PRIMARY KEY,
	from_id BIGINT NOT NULL REFERENCES tickets(id) ON DELETE CASCADE,
	to_id   BIGINT NOT NULL REFERENCES tickets(id) ON DELETE CASCADE,
	type    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_relations_from ON relations(from_id);
CREATE INDEX IF NOT EXISTS idx_relations_to ON relations(to_id);

CREATE TABLE IF NOT EXISTS journals (
	id         BIGSERIAL PRIMARY KEY,
	ticket_id  BIGINT NOT NULL REFERENCES tickets(id) ON DELETE CASCADE,
	user_id    BIGINT NOT NULL REFERENCES users(id),
	notes      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS journal_details (
	journal_id BIGINT NOT NULL REFERENCES journals(id) ON DELETE CASCADE,
	property   TEXT NOT NULL,
	name       TEXT NOT NULL,
	old_value  TEXT NOT NULL DEFAULT '',
	new_value  TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS import_batches (
	handle     UUID PRIMARY KEY,
	user_id    BIGINT NOT NULL UNIQUE,
	project_id BIGINT NOT NULL,
	file_name  TEXT NOT NULL DEFAULT '',
	data       BYTEA NOT NULL,
	delimiter  TEXT NOT NULL DEFAULT ',',
	quote      TEXT NOT NULL DEFAULT '"',
	encoding   TEXT NOT NULL DEFAULT 'UTF-8',
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_import_batches_created ON import_batches(created_at);

INSERT INTO users (login, name, active, anonymous)
SELECT '', 'Anonymous', FALSE, TRUE
WHERE NOT EXISTS (SELECT 1 FROM users WHERE anonymous);
`

// Migrate creates the schema if it does not exist and ensures the
// anonymous user is present. It is safe to run repeatedly.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
