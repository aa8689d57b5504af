package postgres

import (
	"context"

	"github.com/JonMunkholm/issueimport/internal/tracker"
)

// Name lookups return the lowest ID among equal names.

func (s *Store) Project(ctx context.Context, id int64) (*tracker.Project, error) {
	var p tracker.Project
	err := s.pool.QueryRow(ctx,
		`SELECT id, identifier, name FROM projects WHERE id = $1`, id,
	).Scan(&p.ID, &p.Identifier, &p.Name)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (s *Store) ProjectByName(ctx context.Context, name string) (*tracker.Project, error) {
	var p tracker.Project
	err := s.pool.QueryRow(ctx,
		`SELECT id, identifier, name FROM projects WHERE name = $1 ORDER BY id LIMIT 1`, name,
	).Scan(&p.ID, &p.Identifier, &p.Name)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (s *Store) Tracker(ctx context.Context, id int64) (*tracker.Tracker, error) {
	var t tracker.Tracker
	err := s.pool.QueryRow(ctx, `SELECT id, name FROM trackers WHERE id = $1`, id).Scan(&t.ID, &t.Name)
	if err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func (s *Store) TrackerByName(ctx context.Context, name string) (*tracker.Tracker, error) {
	var t tracker.Tracker
	err := s.pool.QueryRow(ctx,
		`SELECT id, name FROM trackers WHERE name = $1 ORDER BY id LIMIT 1`, name,
	).Scan(&t.ID, &t.Name)
	if err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func (s *Store) Status(ctx context.Context, id int64) (*tracker.Status, error) {
	return s.scanStatus(ctx, `SELECT id, name, is_closed FROM statuses WHERE id = $1`, id)
}

func (s *Store) StatusByName(ctx context.Context, name string) (*tracker.Status, error) {
	return s.scanStatus(ctx, `SELECT id, name, is_closed FROM statuses WHERE name = $1 ORDER BY id LIMIT 1`, name)
}

// DefaultStatus is the first status by ID.
func (s *Store) DefaultStatus(ctx context.Context) (*tracker.Status, error) {
	return s.scanStatus(ctx, `SELECT id, name, is_closed FROM statuses ORDER BY id LIMIT 1`)
}

func (s *Store) scanStatus(ctx context.Context, query string, args ...any) (*tracker.Status, error) {
	var st tracker.Status
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&st.ID, &st.Name, &st.IsClosed); err != nil {
		return nil, notFound(err)
	}
	return &st, nil
}

func (s *Store) PriorityByName(ctx context.Context, name string) (*tracker.Priority, error) {
	var p tracker.Priority
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, is_default FROM priorities WHERE name = $1 ORDER BY id LIMIT 1`, name,
	).Scan(&p.ID, &p.Name, &p.IsDefault)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// DefaultPriority is the priority flagged as default, else the first by ID.
func (s *Store) DefaultPriority(ctx context.Context) (*tracker.Priority, error) {
	var p tracker.Priority
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, is_default FROM priorities ORDER BY is_default DESC, id LIMIT 1`,
	).Scan(&p.ID, &p.Name, &p.IsDefault)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// CustomFields returns the fields enabled for every project plus those
// enabled for projectID, by ID.
func (s *Store) CustomFields(ctx context.Context, projectID int64) ([]tracker.CustomField, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT f.id, f.name, f.format, f.multiple
		FROM custom_fields f
		WHERE f.is_for_all
		   OR EXISTS (SELECT 1 FROM custom_field_projects p WHERE p.custom_field_id = f.id AND p.project_id = $1)
		ORDER BY f.id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []tracker.CustomField
	for rows.Next() {
		var (
			f      tracker.CustomField
			format string
		)
		if err := rows.Scan(&f.ID, &f.Name, &format, &f.Multiple); err != nil {
			return nil, err
		}
		f.Format = tracker.FieldFormat(format)
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *Store) VersionByName(ctx context.Context, projectID int64, name string) (*tracker.Version, error) {
	var v tracker.Version
	err := s.pool.QueryRow(ctx,
		`SELECT id, project_id, name FROM versions WHERE project_id = $1 AND name = $2 ORDER BY id LIMIT 1`,
		projectID, name,
	).Scan(&v.ID, &v.ProjectID, &v.Name)
	if err != nil {
		return nil, notFound(err)
	}
	return &v, nil
}

func (s *Store) CreateVersion(ctx context.Context, v *tracker.Version) error {
	return s.pool.QueryRow(ctx,
		`INSERT INTO versions (project_id, name) VALUES ($1, $2) RETURNING id`,
		v.ProjectID, v.Name,
	).Scan(&v.ID)
}

func (s *Store) CategoryByName(ctx context.Context, projectID int64, name string) (*tracker.Category, error) {
	var c tracker.Category
	err := s.pool.QueryRow(ctx,
		`SELECT id, project_id, name FROM categories WHERE project_id = $1 AND name = $2 ORDER BY id LIMIT 1`,
		projectID, name,
	).Scan(&c.ID, &c.ProjectID, &c.Name)
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (s *Store) CreateCategory(ctx context.Context, c *tracker.Category) error {
	return s.pool.QueryRow(ctx,
		`INSERT INTO categories (project_id, name) VALUES ($1, $2) RETURNING id`,
		c.ProjectID, c.Name,
	).Scan(&c.ID)
}

// Identity

func (s *Store) UserByLogin(ctx context.Context, login string) (*tracker.User, error) {
	return s.scanUser(ctx,
		`SELECT id, login, name, active, anonymous FROM users WHERE login = $1 AND NOT anonymous ORDER BY id LIMIT 1`, login)
}

func (s *Store) AnonymousUser(ctx context.Context) (*tracker.User, error) {
	return s.scanUser(ctx,
		`SELECT id, login, name, active, anonymous FROM users WHERE anonymous ORDER BY id LIMIT 1`)
}

func (s *Store) scanUser(ctx context.Context, query string, args ...any) (*tracker.User, error) {
	var u tracker.User
	err := s.pool.QueryRow(ctx, query, args...).Scan(&u.ID, &u.Login, &u.Name, &u.Active, &u.Anonymous)
	if err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}
