package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/confreg/gatehouse/internal/gatehouse/domain"
)

type requestLogRepo struct {
	db *sql.DB
}

func (r *requestLogRepo) CountSince(
	ctx context.Context,
	identifier, endpoint string,
	cutoff time.Time,
) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM request_log
		 WHERE identifier = ? AND endpoint = ? AND created_at > ?`,
		identifier, endpoint, cutoff,
	).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *requestLogRepo) Insert(ctx context.Context, e domain.RateWindowEntry) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO request_log (id, identifier, endpoint, method, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.Identifier, e.Endpoint, e.Method, e.CreatedAt,
	)
	return err
}

func (r *requestLogRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM request_log WHERE created_at < ?`, cutoff,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
