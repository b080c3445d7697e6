package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/confreg/gatehouse/internal/gatehouse/domain"
)

type blocksRepo struct {
	db *sql.DB
}

func (r *blocksRepo) Get(ctx context.Context, identifier string) (domain.BlockEntry, error) {
	var b domain.BlockEntry
	err := r.db.QueryRowContext(ctx,
		`SELECT identifier, blocked_until, reason, created_at
		 FROM block_list WHERE identifier = ?`,
		identifier,
	).Scan(&b.Identifier, &b.BlockedUntil, &b.Reason, &b.CreatedAt)
	if err != nil {
		return domain.BlockEntry{}, mapNotFound(err)
	}
	return b, nil
}

func (r *blocksRepo) Upsert(ctx context.Context, b domain.BlockEntry) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO block_list (identifier, blocked_until, reason, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(identifier) DO UPDATE SET
		   blocked_until = excluded.blocked_until,
		   reason = excluded.reason`,
		b.Identifier, b.BlockedUntil, b.Reason, b.CreatedAt,
	)
	return err
}

func (r *blocksRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM block_list WHERE blocked_until <= ?`, now,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
