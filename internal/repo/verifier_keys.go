package repo

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"greenproof/internal/domain"
)

// HashKey returns a stable SHA-256 hex digest for a secret (verifier keys,
// user passwords).
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}

// InsertVerifierKey stores a hashed verifier key. KeyHash must already
// contain the hashed value.
func (r Repo) InsertVerifierKey(ctx context.Context, tx *sql.Tx, key domain.VerifierKey) error {
	if key.ID == "" {
		return errors.New("id required")
	}
	if key.KeyHash == "" {
		return errors.New("key_hash required")
	}
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return r.DB.ExecContext(ctx, query, args...)
	}
	if key.CreatedAt == "" {
		key.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	_, err := exec(`INSERT INTO verifier_keys(id, name, key_hash, created_at) VALUES (?,?,?,?)`,
		key.ID, nullable(key.Name), key.KeyHash, key.CreatedAt)
	return err
}

// GetVerifierKeyByHash returns a verifier key by its hashed value.
func (r Repo) GetVerifierKeyByHash(ctx context.Context, hash string) (domain.VerifierKey, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id, COALESCE(name,''), key_hash, created_at FROM verifier_keys WHERE key_hash=? LIMIT 1`, hash)
	var key domain.VerifierKey
	err := row.Scan(&key.ID, &key.Name, &key.KeyHash, &key.CreatedAt)
	if err == sql.ErrNoRows {
		return domain.VerifierKey{}, ErrNotFound
	}
	if err != nil {
		return domain.VerifierKey{}, err
	}
	return key, nil
}

// ListVerifierKeys returns all verifier keys.
func (r Repo) ListVerifierKeys(ctx context.Context) ([]domain.VerifierKey, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id, COALESCE(name,''), key_hash, created_at FROM verifier_keys ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []domain.VerifierKey
	for rows.Next() {
		var key domain.VerifierKey
		if err := rows.Scan(&key.ID, &key.Name, &key.KeyHash, &key.CreatedAt); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// DeleteVerifierKey deletes a verifier key by ID.
func (r Repo) DeleteVerifierKey(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("id required")
	}
	_, err := r.DB.ExecContext(ctx, `DELETE FROM verifier_keys WHERE id=?`, id)
	return err
}
