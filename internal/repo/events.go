package repo

import (
	"context"

	"greenproof/internal/domain"
)

// ListEvents returns the newest events first, optionally filtered by user,
// starting after the given id when afterID > 0.
func (r Repo) ListEvents(ctx context.Context, userID string, afterID int64, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, ts, type, COALESCE(user_id,''), entity_kind, COALESCE(entity_id,''), payload_json FROM events`
	var where string
	var args []any
	if userID != "" {
		where = ` WHERE user_id=?`
		args = append(args, userID)
	}
	if afterID > 0 {
		if where == "" {
			where = ` WHERE id>?`
		} else {
			where += ` AND id>?`
		}
		args = append(args, afterID)
	}
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query+where+` ORDER BY id DESC LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.UserID, &e.EntityKind, &e.EntityID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
