// Package auth holds the engine's authorization rules: who may decide
// verification outcomes and who may vote on an action.
package auth

import (
	"context"
	"database/sql"
	"fmt"
)

// ForbiddenError indicates the caller may not perform an operation.
type ForbiddenError struct {
	Operation string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("operation %s not permitted", e.Operation)
}

// SelfVoteError indicates a user tried to vote on their own action.
type SelfVoteError struct {
	ActionID string
}

func (e SelfVoteError) Error() string {
	return fmt.Sprintf("cannot vote on own action %s", e.ActionID)
}

// Service answers authorization questions backed by SQL.
type Service struct {
	DB *sql.DB
}

// OwnsAction reports whether userID submitted the action.
func (s Service) OwnsAction(ctx context.Context, actionID, userID string) (bool, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT 1 FROM actions WHERE id=? AND user_id=? LIMIT 1`, actionID, userID)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}
