package repo

import (
	"context"
	"database/sql"

	"greenproof/internal/domain"
)

// LeaderboardEntry is one ranked row of the leaderboard view.
type LeaderboardEntry struct {
	Rank            int             `json:"rank"`
	UserID          string          `json:"user_id"`
	Name            string          `json:"name"`
	UserType        domain.UserType `json:"user_type"`
	Location        string          `json:"location,omitempty"`
	TrustScore      float64         `json:"trust_score"`
	TotalImpact     float64         `json:"total_impact"`
	VerifiedActions int             `json:"verified_actions"`
}

// ListUsersByScore returns up to limit scored users ordered by trust score
// descending; exact ties fall back to user id so repeated reads agree. Users
// without a committed score are unranked and never listed.
func (r Repo) ListUsersByScore(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT u.id, u.name, u.user_type, COALESCE(u.location,''), u.trust_score, COALESCE(u.total_impact,0),
(SELECT COUNT(*) FROM actions a WHERE a.user_id=u.id AND a.verification_status='APPROVED')
FROM users u
WHERE u.trust_score IS NOT NULL
ORDER BY u.trust_score DESC, u.id ASC
LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []LeaderboardEntry
	for rows.Next() {
		var e LeaderboardEntry
		if err := rows.Scan(&e.UserID, &e.Name, &e.UserType, &e.Location, &e.TrustScore, &e.TotalImpact, &e.VerifiedActions); err != nil {
			return nil, err
		}
		e.Rank = len(res) + 1
		res = append(res, e)
	}
	return res, rows.Err()
}

// CountUsersWithScoreAbove counts users whose committed trust score strictly
// exceeds the given value.
func (r Repo) CountUsersWithScoreAbove(ctx context.Context, scoreValue float64) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE trust_score > ?`, scoreValue).Scan(&n)
	return n, err
}

// GetUserRank returns the 1-based rank of a user, or 0 when the user has no
// committed trust score yet.
func (r Repo) GetUserRank(ctx context.Context, userID string) (int, error) {
	var trust sql.NullFloat64
	err := r.DB.QueryRowContext(ctx, `SELECT trust_score FROM users WHERE id=?`, userID).Scan(&trust)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	if !trust.Valid {
		return 0, nil
	}
	higher, err := r.CountUsersWithScoreAbove(ctx, trust.Float64)
	if err != nil {
		return 0, err
	}
	return higher + 1, nil
}
