package repo

import (
	"context"
	"database/sql"
	"errors"

	"greenproof/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const userColumns = `id,email,name,user_type,COALESCE(description,''),COALESCE(website,''),COALESCE(location,''),trust_score,total_impact,created_at`

func scanUser(scan func(dest ...any) error) (domain.User, error) {
	var u domain.User
	var trust, impact sql.NullFloat64
	err := scan(&u.ID, &u.Email, &u.Name, &u.UserType, &u.Description, &u.Website, &u.Location, &trust, &impact, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	if err != nil {
		return u, err
	}
	if trust.Valid {
		u.TrustScore = &trust.Float64
	}
	if impact.Valid {
		u.TotalImpact = &impact.Float64
	}
	return u, nil
}

func (r Repo) InsertUser(ctx context.Context, tx *sql.Tx, u domain.User, passwordHash string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO users(id,email,password_hash,name,user_type,description,website,location,created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		u.ID, u.Email, passwordHash, u.Name, string(u.UserType), nullable(u.Description), nullable(u.Website), nullable(u.Location), u.CreatedAt)
	return err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, id)
	return scanUser(row.Scan)
}

// GetUserByEmail returns the user and its stored password hash.
func (r Repo) GetUserByEmail(ctx context.Context, email string) (domain.User, string, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+userColumns+`,password_hash FROM users WHERE email=?`, email)
	var u domain.User
	var trust, impact sql.NullFloat64
	var hash string
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.UserType, &u.Description, &u.Website, &u.Location, &trust, &impact, &u.CreatedAt, &hash)
	if err == sql.ErrNoRows {
		return u, "", ErrNotFound
	}
	if err != nil {
		return u, "", err
	}
	if trust.Valid {
		u.TrustScore = &trust.Float64
	}
	if impact.Valid {
		u.TotalImpact = &impact.Float64
	}
	return u, hash, nil
}

func (r Repo) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at DESC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		u, err := scanUser(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

// ListUserIDs returns every registered user id, for batch recomputation.
func (r Repo) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id FROM users ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdateUserScoreTx commits the derived trust score and impact sum. It runs
// inside the recompute transaction so the score and its history entry land
// atomically.
func (r Repo) UpdateUserScoreTx(ctx context.Context, tx *sql.Tx, userID string, trustScore, totalImpact float64) error {
	res, err := tx.ExecContext(ctx, `UPDATE users SET trust_score=?, total_impact=? WHERE id=?`, trustScore, totalImpact, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertScoreHistoryTx appends one audit row for a completed recomputation.
func (r Repo) InsertScoreHistoryTx(ctx context.Context, tx *sql.Tx, userID string, scoreValue float64, reason, createdAt string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO score_history(user_id,score,reason,created_at) VALUES (?,?,?,?)`,
		userID, scoreValue, reason, createdAt)
	return err
}

func (r Repo) ListScoreHistory(ctx context.Context, userID string, limit int) ([]domain.ScoreHistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,user_id,score,reason,created_at FROM score_history WHERE user_id=? ORDER BY id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ScoreHistoryEntry
	for rows.Next() {
		var e domain.ScoreHistoryEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Score, &e.Reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
