package repo

import (
	"context"
	"database/sql"

	"greenproof/internal/domain"
)

func (r Repo) CreateVerificationTx(ctx context.Context, tx *sql.Tx, v domain.Verification) (domain.Verification, error) {
	check := 0
	if v.MetadataCheck {
		check = 1
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO verifications(id, action_id, score, comments, ai_analysis_json, metadata_check, created_by, created_at)
VALUES (?,?,?,?,?,?,?,?)`,
		v.ID, v.ActionID, v.Score, nullable(v.Comments), nullable(v.AIAnalysis), check, v.CreatedBy, v.CreatedAt)
	if err != nil {
		return domain.Verification{}, err
	}
	return v, nil
}

func (r Repo) ListVerificationsByAction(ctx context.Context, actionID string) ([]domain.Verification, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id, action_id, score, COALESCE(comments,''), COALESCE(ai_analysis_json,''), metadata_check, created_by, created_at
FROM verifications WHERE action_id=? ORDER BY created_at ASC, id ASC`, actionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Verification
	for rows.Next() {
		var v domain.Verification
		var check int
		if err := rows.Scan(&v.ID, &v.ActionID, &v.Score, &v.Comments, &v.AIAnalysis, &check, &v.CreatedBy, &v.CreatedAt); err != nil {
			return nil, err
		}
		v.MetadataCheck = check != 0
		res = append(res, v)
	}
	return res, rows.Err()
}
