package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/confreg/gatehouse/internal/gatehouse/domain"
)

type sessionsRepo struct {
	db *sql.DB
}

func (r *sessionsRepo) Touch(ctx context.Context, s domain.ActiveSession) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO active_sessions (session_id, user_type, last_activity, expires_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
		   last_activity = excluded.last_activity,
		   expires_at = excluded.expires_at`,
		s.SessionID, s.UserType, s.LastActivity, s.ExpiresAt,
	)
	return err
}

func (r *sessionsRepo) Delete(ctx context.Context, sessionID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM active_sessions WHERE session_id = ?`, sessionID,
	)
	return err
}

func (r *sessionsRepo) DeleteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM active_sessions WHERE last_activity < ?`, cutoff,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
