package repo

import (
	"context"
	"database/sql"
	"strings"

	"greenproof/internal/domain"
)

const actionColumns = `id,user_id,title,COALESCE(description,''),action_type,verification_status,latitude,longitude,COALESCE(location,''),impact_value,trees_planted,waste_collected,carbon_offset,people_reached,community_votes,created_at,updated_at`

// ActionFilter narrows ListActions; zero values mean no constraint.
type ActionFilter struct {
	UserID string
	Type   domain.ActionType
	Status domain.VerificationStatus
	Page   int
	Limit  int
}

func scanAction(scan func(dest ...any) error) (domain.Action, error) {
	var a domain.Action
	var lat, lon, trees, waste, carbon, people sql.NullFloat64
	err := scan(&a.ID, &a.UserID, &a.Title, &a.Description, &a.ActionType, &a.Status,
		&lat, &lon, &a.Location, &a.ImpactValue, &trees, &waste, &carbon, &people,
		&a.CommunityVotes, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if lat.Valid {
		a.Latitude = &lat.Float64
	}
	if lon.Valid {
		a.Longitude = &lon.Float64
	}
	if trees.Valid {
		a.TreesPlanted = &trees.Float64
	}
	if waste.Valid {
		a.WasteCollected = &waste.Float64
	}
	if carbon.Valid {
		a.CarbonOffset = &carbon.Float64
	}
	if people.Valid {
		a.PeopleReached = &people.Float64
	}
	return a, nil
}

func (r Repo) InsertActionTx(ctx context.Context, tx *sql.Tx, a domain.Action) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO actions(id,user_id,title,description,action_type,verification_status,latitude,longitude,location,impact_value,trees_planted,waste_collected,carbon_offset,people_reached,community_votes,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.UserID, a.Title, nullable(a.Description), string(a.ActionType), string(a.Status),
		nullableFloat(a.Latitude), nullableFloat(a.Longitude), nullable(a.Location), a.ImpactValue,
		nullableFloat(a.TreesPlanted), nullableFloat(a.WasteCollected), nullableFloat(a.CarbonOffset), nullableFloat(a.PeopleReached),
		a.CommunityVotes, a.CreatedAt, a.UpdatedAt)
	return err
}

func (r Repo) GetAction(ctx context.Context, id string) (domain.Action, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+actionColumns+` FROM actions WHERE id=?`, id)
	return scanAction(row.Scan)
}

// ListActions returns a page of actions newest first plus the total count for
// the filter.
func (r Repo) ListActions(ctx context.Context, f ActionFilter) ([]domain.Action, int, error) {
	var where []string
	var args []any
	if f.UserID != "" {
		where = append(where, "user_id=?")
		args = append(args, f.UserID)
	}
	if f.Type != "" {
		where = append(where, "action_type=?")
		args = append(args, string(f.Type))
	}
	if f.Status != "" {
		where = append(where, "verification_status=?")
		args = append(args, string(f.Status))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM actions`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	page := f.Page
	if page <= 0 {
		page = 1
	}
	args = append(args, limit, (page-1)*limit)
	rows, err := r.DB.QueryContext(ctx, `SELECT `+actionColumns+` FROM actions`+clause+` ORDER BY created_at DESC, id ASC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var res []domain.Action
	for rows.Next() {
		a, err := scanAction(rows.Scan)
		if err != nil {
			return nil, 0, err
		}
		res = append(res, a)
	}
	return res, total, rows.Err()
}

// ListEligibleActions returns the owner's actions that count toward the trust
// score, meaning everything not REJECTED.
func (r Repo) ListEligibleActions(ctx context.Context, userID string) ([]domain.Action, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+actionColumns+` FROM actions WHERE user_id=? AND verification_status!=? ORDER BY id ASC`,
		userID, string(domain.VerificationRejected))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Action
	for rows.Next() {
		a, err := scanAction(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) SetActionStatusTx(ctx context.Context, tx *sql.Tx, id string, status domain.VerificationStatus, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE actions SET verification_status=?, updated_at=? WHERE id=?`, string(status), updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementVotesTx adds one community vote. Votes only ever grow.
func (r Repo) IncrementVotesTx(ctx context.Context, tx *sql.Tx, id string, updatedAt string) (int64, error) {
	res, err := tx.ExecContext(ctx, `UPDATE actions SET community_votes=community_votes+1, updated_at=? WHERE id=?`, updatedAt, id)
	if err != nil {
		return 0, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, ErrNotFound
	}
	var votes int64
	if err := tx.QueryRowContext(ctx, `SELECT community_votes FROM actions WHERE id=?`, id).Scan(&votes); err != nil {
		return 0, err
	}
	return votes, nil
}
