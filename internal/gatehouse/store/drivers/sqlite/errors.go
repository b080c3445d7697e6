package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/confreg/gatehouse/internal/gatehouse/domain"
)

type errorsRepo struct {
	db *sql.DB
}

func (r *errorsRepo) Insert(ctx context.Context, rec domain.ErrorRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO error_log (id, correlation_id, path, method, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.CorrelationID, rec.Path, rec.Method, rec.Detail, rec.CreatedAt,
	)
	return err
}

func (r *errorsRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM error_log WHERE created_at < ?`, cutoff,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
