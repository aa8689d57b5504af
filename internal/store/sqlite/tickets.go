package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/JonMunkholm/issueimport/internal/tracker"
)

const ticketColumns = `t.id, t.project_id, t.tracker_id, t.status_id, t.priority_id, t.author_id,
	t.assignee_id, t.category_id, t.fixed_version_id, t.parent_id, t.subject, t.description,
	t.start_date, t.due_date, t.done_ratio, t.estimated_hours, t.created_at, t.updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanTicket(row scanner) (*tracker.Ticket, error) {
	var t tracker.Ticket
	err := row.Scan(
		&t.ID, &t.ProjectID, &t.TrackerID, &t.StatusID, &t.PriorityID, &t.AuthorID,
		&t.AssigneeID, &t.CategoryID, &t.FixedVersionID, &t.ParentID, &t.Subject, &t.Description,
		&t.StartDate, &t.DueDate, &t.DoneRatio, &t.EstimatedHours, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) Ticket(ctx context.Context, id int64) (*tracker.Ticket, error) {
	t, err := scanTicket(s.db.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM tickets t WHERE t.id = ?`, id))
	if err != nil {
		return nil, notFound(err)
	}
	if err := s.loadDetails(ctx, []*tracker.Ticket{t}); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Store) FindTickets(ctx context.Context, f tracker.TicketFilter) ([]*tracker.Ticket, error) {
	var (
		where []string
		args  []any
	)

	if f.ProjectID != 0 {
		where = append(where, "t.project_id = ?")
		args = append(args, f.ProjectID)
	}
	if f.OpenOnly {
		where = append(where, "t.status_id IN (SELECT id FROM statuses WHERE is_closed = 0)")
	}
	switch {
	case f.Attribute != "":
		col, ok := tracker.FilterableAttributes[f.Attribute]
		if !ok {
			return nil, fmt.Errorf("cannot filter tickets on %q", f.Attribute)
		}
		where = append(where, "t."+col+" = ?")
		args = append(args, f.Value)
	case f.CustomFieldID != 0:
		where = append(where,
			"EXISTS (SELECT 1 FROM ticket_custom_values v WHERE v.ticket_id = t.id AND v.custom_field_id = ? AND v.value = ?)")
		args = append(args, f.CustomFieldID, f.Value)
	}

	query := `SELECT ` + ticketColumns + ` FROM tickets t`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY t.id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*tracker.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	if err := s.loadDetails(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) loadDetails(ctx context.Context, tickets []*tracker.Ticket) error {
	if len(tickets) == 0 {
		return nil
	}
	byID := make(map[int64]*tracker.Ticket, len(tickets))
	ids := make([]any, len(tickets))
	for i, t := range tickets {
		byID[t.ID] = t
		ids[i] = t.ID
	}
	in := placeholders(len(ids))

	rows, err := s.db.QueryContext(ctx, `
		SELECT ticket_id, custom_field_id, value
		FROM ticket_custom_values
		WHERE ticket_id IN (`+in+`)
		ORDER BY ticket_id, custom_field_id, position`, ids...)
	if err != nil {
		return fmt.Errorf("load custom values: %w", err)
	}
	for rows.Next() {
		var (
			ticketID, fieldID int64
			value             string
		)
		if err := rows.Scan(&ticketID, &fieldID, &value); err != nil {
			rows.Close()
			return err
		}
		t := byID[ticketID]
		if t.CustomValues == nil {
			t.CustomValues = make(map[int64][]string)
		}
		t.CustomValues[fieldID] = append(t.CustomValues[fieldID], value)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT ticket_id, user_id FROM watchers WHERE ticket_id IN (`+in+`) ORDER BY ticket_id, user_id`, ids...)
	if err != nil {
		return fmt.Errorf("load watchers: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ticketID, userID int64
		if err := rows.Scan(&ticketID, &userID); err != nil {
			return err
		}
		byID[ticketID].WatcherIDs = append(byID[ticketID].WatcherIDs, userID)
	}
	return rows.Err()
}

func (s *Store) CreateTicket(ctx context.Context, t *tracker.Ticket) error {
	now := time.Now().UTC()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO tickets (project_id, tracker_id, status_id, priority_id, author_id,
				assignee_id, category_id, fixed_version_id, parent_id, subject, description,
				start_date, due_date, done_ratio, estimated_hours, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ProjectID, t.TrackerID, t.StatusID, t.PriorityID, t.AuthorID,
			t.AssigneeID, t.CategoryID, t.FixedVersionID, t.ParentID, t.Subject, t.Description,
			t.StartDate, t.DueDate, t.DoneRatio, t.EstimatedHours, now, now,
		)
		if err != nil {
			return fmt.Errorf("insert ticket: %w", err)
		}
		if t.ID, err = res.LastInsertId(); err != nil {
			return err
		}
		t.CreatedAt, t.UpdatedAt = now, now
		return writeDetails(ctx, tx, t)
	})
}

func (s *Store) UpdateTicket(ctx context.Context, t *tracker.Ticket, j *tracker.Journal) error {
	now := time.Now().UTC()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE tickets SET project_id = ?, tracker_id = ?, status_id = ?, priority_id = ?,
				author_id = ?, assignee_id = ?, category_id = ?, fixed_version_id = ?,
				parent_id = ?, subject = ?, description = ?, start_date = ?, due_date = ?,
				done_ratio = ?, estimated_hours = ?, updated_at = ?
			WHERE id = ?`,
			t.ProjectID, t.TrackerID, t.StatusID, t.PriorityID,
			t.AuthorID, t.AssigneeID, t.CategoryID, t.FixedVersionID,
			t.ParentID, t.Subject, t.Description, t.StartDate, t.DueDate,
			t.DoneRatio, t.EstimatedHours, now, t.ID,
		)
		if err != nil {
			return fmt.Errorf("update ticket: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return tracker.ErrNotFound
		}
		t.UpdatedAt = now

		if _, err := tx.ExecContext(ctx, `DELETE FROM ticket_custom_values WHERE ticket_id = ?`, t.ID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM watchers WHERE ticket_id = ?`, t.ID); err != nil {
			return err
		}
		if err := writeDetails(ctx, tx, t); err != nil {
			return err
		}

		if j.Empty() {
			return nil
		}
		return insertJournal(ctx, tx, t.ID, j)
	})
}

func writeDetails(ctx context.Context, tx *sql.Tx, t *tracker.Ticket) error {
	for fieldID, values := range t.CustomValues {
		for pos, v := range values {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO ticket_custom_values (ticket_id, custom_field_id, position, value) VALUES (?, ?, ?, ?)`,
				t.ID, fieldID, pos, v)
			if err != nil {
				return fmt.Errorf("write custom value: %w", err)
			}
		}
	}
	for _, userID := range t.WatcherIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO watchers (ticket_id, user_id) VALUES (?, ?)`, t.ID, userID); err != nil {
			return fmt.Errorf("write watcher: %w", err)
		}
	}
	return nil
}

func insertJournal(ctx context.Context, tx *sql.Tx, ticketID int64, j *tracker.Journal) error {
	j.TicketID = ticketID
	res, err := tx.ExecContext(ctx,
		`INSERT INTO journals (ticket_id, user_id, notes, created_at) VALUES (?, ?, ?, ?)`,
		j.TicketID, j.UserID, j.Notes, j.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert journal: %w", err)
	}
	if j.ID, err = res.LastInsertId(); err != nil {
		return err
	}

	for _, d := range j.Details {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO journal_details (journal_id, property, name, old_value, new_value) VALUES (?, ?, ?, ?, ?)`,
			j.ID, d.Property, d.Name, d.OldValue, d.NewValue)
		if err != nil {
			return fmt.Errorf("insert journal detail: %w", err)
		}
	}
	return nil
}

func (s *Store) Relations(ctx context.Context, ticketID int64) ([]tracker.Relation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, from_id, to_id, type FROM relations WHERE from_id = ?1 OR to_id = ?1 ORDER BY id`, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []tracker.Relation
	for rows.Next() {
		var (
			r   tracker.Relation
			typ string
		)
		if err := rows.Scan(&r.ID, &r.FromID, &r.ToID, &typ); err != nil {
			return nil, err
		}
		r.Type = tracker.RelationType(typ)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) CreateRelation(ctx context.Context, r *tracker.Relation) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO relations (from_id, to_id, type) VALUES (?, ?, ?)`, r.FromID, r.ToID, string(r.Type))
	if err != nil {
		return err
	}
	r.ID, err = res.LastInsertId()
	return err
}
