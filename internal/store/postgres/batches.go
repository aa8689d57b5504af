package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/issueimport/internal/tracker"
)

// SaveBatch replaces the user's batch with b.
func (s *Store) SaveBatch(ctx context.Context, b *tracker.ImportBatch) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM import_batches WHERE user_id = $1`, b.UserID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO import_batches (handle, user_id, project_id, file_name, data, delimiter, quote, encoding, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			b.Handle, b.UserID, b.ProjectID, b.FileName, b.Data, b.Delimiter, b.Quote, b.Encoding, b.CreatedAt)
		return err
	})
}

func (s *Store) BatchForUser(ctx context.Context, userID int64) (*tracker.ImportBatch, error) {
	var b tracker.ImportBatch
	err := s.pool.QueryRow(ctx, `
		SELECT handle, user_id, project_id, file_name, data, delimiter, quote, encoding, created_at
		FROM import_batches WHERE user_id = $1`, userID,
	).Scan(&b.Handle, &b.UserID, &b.ProjectID, &b.FileName, &b.Data, &b.Delimiter, &b.Quote, &b.Encoding, &b.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &b, nil
}

func (s *Store) DeleteBatch(ctx context.Context, handle uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM import_batches WHERE handle = $1`, handle)
	return err
}

func (s *Store) DeleteBatchesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM import_batches WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
