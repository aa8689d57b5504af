package sqlite

import (
	"context"

	"github.com/JonMunkholm/issueimport/internal/tracker"
)

func (s *Store) Project(ctx context.Context, id int64) (*tracker.Project, error) {
	var p tracker.Project
	err := s.db.QueryRowContext(ctx,
		`SELECT id, identifier, name FROM projects WHERE id = ?`, id,
	).Scan(&p.ID, &p.Identifier, &p.Name)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (s *Store) ProjectByName(ctx context.Context, name string) (*tracker.Project, error) {
	var p tracker.Project
	err := s.db.QueryRowContext(ctx,
		`SELECT id, identifier, name FROM projects WHERE name = ? ORDER BY id LIMIT 1`, name,
	).Scan(&p.ID, &p.Identifier, &p.Name)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (s *Store) Tracker(ctx context.Context, id int64) (*tracker.Tracker, error) {
	var t tracker.Tracker
	err := s.db.QueryRowContext(ctx, `SELECT id, name FROM trackers WHERE id = ?`, id).Scan(&t.ID, &t.Name)
	if err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func (s *Store) TrackerByName(ctx context.Context, name string) (*tracker.Tracker, error) {
	var t tracker.Tracker
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name FROM trackers WHERE name = ? ORDER BY id LIMIT 1`, name,
	).Scan(&t.ID, &t.Name)
	if err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func (s *Store) Status(ctx context.Context, id int64) (*tracker.Status, error) {
	return s.scanStatus(ctx, `SELECT id, name, is_closed FROM statuses WHERE id = ?`, id)
}

func (s *Store) StatusByName(ctx context.Context, name string) (*tracker.Status, error) {
	return s.scanStatus(ctx, `SELECT id, name, is_closed FROM statuses WHERE name = ? ORDER BY id LIMIT 1`, name)
}

func (s *Store) DefaultStatus(ctx context.Context) (*tracker.Status, error) {
	return s.scanStatus(ctx, `SELECT id, name, is_closed FROM statuses ORDER BY id LIMIT 1`)
}

func (s *Store) scanStatus(ctx context.Context, query string, args ...any) (*tracker.Status, error) {
	var st tracker.Status
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&st.ID, &st.Name, &st.IsClosed); err != nil {
		return nil, notFound(err)
	}
	return &st, nil
}

func (s *Store) PriorityByName(ctx context.Context, name string) (*tracker.Priority, error) {
	return s.scanPriority(ctx, `SELECT id, name, is_default FROM priorities WHERE name = ? ORDER BY id LIMIT 1`, name)
}

func (s *Store) DefaultPriority(ctx context.Context) (*tracker.Priority, error) {
	return s.scanPriority(ctx, `SELECT id, name, is_default FROM priorities ORDER BY is_default DESC, id LIMIT 1`)
}

func (s *Store) scanPriority(ctx context.Context, query string, args ...any) (*tracker.Priority, error) {
	var p tracker.Priority
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&p.ID, &p.Name, &p.IsDefault); err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (s *Store) CustomFields(ctx context.Context, projectID int64) ([]tracker.CustomField, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.id, f.name, f.format, f.multiple
		FROM custom_fields f
		WHERE f.is_for_all = 1
		   OR EXISTS (SELECT 1 FROM custom_field_projects p WHERE p.custom_field_id = f.id AND p.project_id = ?)
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
	err := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, name FROM versions WHERE project_id = ? AND name = ? ORDER BY id LIMIT 1`,
		projectID, name,
	).Scan(&v.ID, &v.ProjectID, &v.Name)
	if err != nil {
		return nil, notFound(err)
	}
	return &v, nil
}

func (s *Store) CreateVersion(ctx context.Context, v *tracker.Version) error {
	res, err := s.db.ExecContext(ctx, `INSERT INTO versions (project_id, name) VALUES (?, ?)`, v.ProjectID, v.Name)
	if err != nil {
		return err
	}
	v.ID, err = res.LastInsertId()
	return err
}

func (s *Store) CategoryByName(ctx context.Context, projectID int64, name string) (*tracker.Category, error) {
	var c tracker.Category
	err := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, name FROM categories WHERE project_id = ? AND name = ? ORDER BY id LIMIT 1`,
		projectID, name,
	).Scan(&c.ID, &c.ProjectID, &c.Name)
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (s *Store) CreateCategory(ctx context.Context, c *tracker.Category) error {
	res, err := s.db.ExecContext(ctx, `INSERT INTO categories (project_id, name) VALUES (?, ?)`, c.ProjectID, c.Name)
	if err != nil {
		return err
	}
	c.ID, err = res.LastInsertId()
	return err
}

func (s *Store) UserByLogin(ctx context.Context, login string) (*tracker.User, error) {
	return s.scanUser(ctx,
		`SELECT id, login, name, active, anonymous FROM users WHERE login = ? AND anonymous = 0 ORDER BY id LIMIT 1`, login)
}

func (s *Store) AnonymousUser(ctx context.Context) (*tracker.User, error) {
	return s.scanUser(ctx,
		`SELECT id, login, name, active, anonymous FROM users WHERE anonymous = 1 ORDER BY id LIMIT 1`)
}

func (s *Store) scanUser(ctx context.Context, query string, args ...any) (*tracker.User, error) {
	var u tracker.User
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&u.ID, &u.Login, &u.Name, &u.Active, &u.Anonymous)
	if err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}
