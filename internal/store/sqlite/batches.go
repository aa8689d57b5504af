package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/issueimport/internal/tracker"
)

// SaveBatch replaces the user's batch with b.
func (s *Store) SaveBatch(ctx context.Context, b *tracker.ImportBatch) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM import_batches WHERE user_id = ?`, b.UserID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO import_batches (handle, user_id, project_id, file_name, data, delimiter, quote, encoding, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			b.Handle.String(), b.UserID, b.ProjectID, b.FileName, b.Data, b.Delimiter, b.Quote, b.Encoding, b.CreatedAt.UTC())
		return err
	})
}

func (s *Store) BatchForUser(ctx context.Context, userID int64) (*tracker.ImportBatch, error) {
	var b tracker.ImportBatch
	err := s.db.QueryRowContext(ctx, `
		SELECT handle, user_id, project_id, file_name, data, delimiter, quote, encoding, created_at
		FROM import_batches WHERE user_id = ?`, userID,
	).Scan(&b.Handle, &b.UserID, &b.ProjectID, &b.FileName, &b.Data, &b.Delimiter, &b.Quote, &b.Encoding, &b.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &b, nil
}

func (s *Store) DeleteBatch(ctx context.Context, handle uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM import_batches WHERE handle = ?`, handle.String())
	return err
}

func (s *Store) DeleteBatchesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM import_batches WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
