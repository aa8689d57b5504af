package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/issueimport/internal/tracker"
)

const ticketColumns = `t.id, t.project_id, t.tracker_id, t.status_id, t.priority_id, t.author_id,
	t.assignee_id, t.category_id, t.fixed_version_id, t.parent_id, t.subject, t.description,
	t.start_date, t.due_date, t.done_ratio, t.estimated_hours, t.created_at, t.updated_at`

func scanTicket(row pgx.Row) (*tracker.Ticket, error) {
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
	t, err := scanTicket(s.pool.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets t WHERE t.id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	if err := loadDetails(ctx, s.pool, []*tracker.Ticket{t}); err != nil {
		return nil, err
	}
	return t, nil
}

// FindTickets builds one query from the filter. Attribute names are
// translated through tracker.FilterableAttributes, never interpolated raw.
func (s *Store) FindTickets(ctx context.Context, f tracker.TicketFilter) ([]*tracker.Ticket, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.ProjectID != 0 {
		where = append(where, "t.project_id = "+arg(f.ProjectID))
	}
	if f.OpenOnly {
		where = append(where, "t.status_id IN (SELECT id FROM statuses WHERE NOT is_closed)")
	}
	switch {
	case f.Attribute != "":
		col, ok := tracker.FilterableAttributes[f.Attribute]
		if !ok {
			return nil, fmt.Errorf("cannot filter tickets on %q", f.Attribute)
		}
		where = append(where, "t."+col+" = "+arg(f.Value))
	case f.CustomFieldID != 0:
		where = append(where, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM ticket_custom_values v WHERE v.ticket_id = t.id AND v.custom_field_id = %s AND v.value = %s)",
			arg(f.CustomFieldID), arg(f.Value)))
	}

	query := `SELECT ` + ticketColumns + ` FROM tickets t`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY t.id"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
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

	if err := loadDetails(ctx, s.pool, out); err != nil {
		return nil, err
	}
	return out, nil
}

// loadDetails fills custom values and watchers for tickets with two queries.
func loadDetails(ctx context.Context, db DBTX, tickets []*tracker.Ticket) error {
	if len(tickets) == 0 {
		return nil
	}
	byID := make(map[int64]*tracker.Ticket, len(tickets))
	ids := make([]int64, len(tickets))
	for i, t := range tickets {
		byID[t.ID] = t
		ids[i] = t.ID
	}

	rows, err := db.Query(ctx, `
		SELECT ticket_id, custom_field_id, value
		FROM ticket_custom_values
		WHERE ticket_id = ANY($1)
		ORDER BY ticket_id, custom_field_id, position`, ids)
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

	rows, err = db.Query(ctx, `SELECT ticket_id, user_id FROM watchers WHERE ticket_id = ANY($1) ORDER BY ticket_id, user_id`, ids)
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

// CreateTicket inserts t with its custom values and watchers in one
// transaction and sets its ID and timestamps.
func (s *Store) CreateTicket(ctx context.Context, t *tracker.Ticket) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO tickets (project_id, tracker_id, status_id, priority_id, author_id,
				assignee_id, category_id, fixed_version_id, parent_id, subject, description,
				start_date, due_date, done_ratio, estimated_hours)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
			RETURNING id, created_at, updated_at`,
			t.ProjectID, t.TrackerID, t.StatusID, t.PriorityID, t.AuthorID,
			t.AssigneeID, t.CategoryID, t.FixedVersionID, t.ParentID, t.Subject, t.Description,
			t.StartDate, t.DueDate, t.DoneRatio, t.EstimatedHours,
		).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert ticket: %w", err)
		}
		return writeDetails(ctx, tx, t)
	})
}

// UpdateTicket saves t and, when j is not empty, the journal describing
// the change, in one transaction.
func (s *Store) UpdateTicket(ctx context.Context, t *tracker.Ticket, j *tracker.Journal) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			UPDATE tickets SET project_id = $2, tracker_id = $3, status_id = $4, priority_id = $5,
				author_id = $6, assignee_id = $7, category_id = $8, fixed_version_id = $9,
				parent_id = $10, subject = $11, description = $12, start_date = $13, due_date = $14,
				done_ratio = $15, estimated_hours = $16, updated_at = NOW()
			WHERE id = $1
			RETURNING updated_at`,
			t.ID, t.ProjectID, t.TrackerID, t.StatusID, t.PriorityID,
			t.AuthorID, t.AssigneeID, t.CategoryID, t.FixedVersionID,
			t.ParentID, t.Subject, t.Description, t.StartDate, t.DueDate,
			t.DoneRatio, t.EstimatedHours,
		).Scan(&t.UpdatedAt)
		if err != nil {
			return notFound(err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM ticket_custom_values WHERE ticket_id = $1`, t.ID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM watchers WHERE ticket_id = $1`, t.ID); err != nil {
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

func writeDetails(ctx context.Context, tx pgx.Tx, t *tracker.Ticket) error {
	batch := &pgx.Batch{}
	for fieldID, values := range t.CustomValues {
		for pos, v := range values {
			batch.Queue(`INSERT INTO ticket_custom_values (ticket_id, custom_field_id, position, value) VALUES ($1, $2, $3, $4)`,
				t.ID, fieldID, pos, v)
		}
	}
	for _, userID := range t.WatcherIDs {
		batch.Queue(`INSERT INTO watchers (ticket_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, t.ID, userID)
	}
	if batch.Len() == 0 {
		return nil
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("write ticket details: %w", err)
	}
	return nil
}

func insertJournal(ctx context.Context, tx pgx.Tx, ticketID int64, j *tracker.Journal) error {
	j.TicketID = ticketID
	err := tx.QueryRow(ctx,
		`INSERT INTO journals (ticket_id, user_id, notes, created_at) VALUES ($1, $2, $3, $4) RETURNING id`,
		j.TicketID, j.UserID, j.Notes, j.CreatedAt,
	).Scan(&j.ID)
	if err != nil {
		return fmt.Errorf("insert journal: %w", err)
	}

	if len(j.Details) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, d := range j.Details {
		batch.Queue(`INSERT INTO journal_details (journal_id, property, name, old_value, new_value) VALUES ($1, $2, $3, $4, $5)`,
			j.ID, d.Property, d.Name, d.OldValue, d.NewValue)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert journal details: %w", err)
	}
	return nil
}

func (s *Store) Relations(ctx context.Context, ticketID int64) ([]tracker.Relation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, from_id, to_id, type FROM relations WHERE from_id = $1 OR to_id = $1 ORDER BY id`, ticketID)
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
	return s.pool.QueryRow(ctx,
		`INSERT INTO relations (from_id, to_id, type) VALUES ($1, $2, $3) RETURNING id`,
		r.FromID, r.ToID, string(r.Type),
	).Scan(&r.ID)
}
