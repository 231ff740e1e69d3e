package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"greenproof/internal/config"
	"greenproof/internal/domain"
	"greenproof/internal/engine/auth"
	"greenproof/internal/events"
	"greenproof/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Auth   auth.Service
	Config *config.Config
	Now    func() time.Time

	locks *userLocks
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Auth:   auth.Service{DB: db},
		Config: cfg,
		Now:    time.Now,
		locks:  newUserLocks(),
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// ErrEmailTaken is returned when registering with an email already in use.
var ErrEmailTaken = errors.New("email already registered")

// TransientError marks a failure of the persistence store (or a bounded lock
// wait) that the caller may retry with the same trigger.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

func transient(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err is retryable with the same trigger.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// RegisterOptions are parameters for creating a user.
type RegisterOptions struct {
	Email       string
	Password    string
	Name        string
	UserType    domain.UserType
	Description string
	Website     string
	Location    string
}

func (e Engine) RegisterUser(ctx context.Context, opts RegisterOptions) (domain.User, error) {
	opts.Email = strings.ToLower(strings.TrimSpace(opts.Email))
	if opts.Email == "" {
		return domain.User{}, errors.New("email is required")
	}
	if opts.Password == "" {
		return domain.User{}, errors.New("password is required")
	}
	if strings.TrimSpace(opts.Name) == "" {
		return domain.User{}, errors.New("name is required")
	}
	if !domain.ValidUserType(opts.UserType) {
		return domain.User{}, fmt.Errorf("invalid user type %s", opts.UserType)
	}
	if _, _, err := e.Repo.GetUserByEmail(ctx, opts.Email); err == nil {
		return domain.User{}, ErrEmailTaken
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, transient("read user", err)
	}

	now := e.now().UTC().Format(time.RFC3339)
	u := domain.User{
		ID:          uuid.NewString(),
		Email:       opts.Email,
		Name:        strings.TrimSpace(opts.Name),
		UserType:    opts.UserType,
		Description: opts.Description,
		Website:     opts.Website,
		Location:    opts.Location,
		CreatedAt:   now,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, transient("begin tx", err)
	}
	defer tx.Rollback()
	if err := e.Repo.InsertUser(ctx, tx, u, repo.HashKey(opts.Password)); err != nil {
		return domain.User{}, transient("insert user", err)
	}
	if err := e.Events.Append(ctx, tx, "user.registered", u.ID, "user", u.ID, events.EventPayload{"user_type": string(u.UserType)}); err != nil {
		return domain.User{}, transient("append event", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, transient("commit", err)
	}
	return u, nil
}

// Authenticate checks email/password and returns the user.
func (e Engine) Authenticate(ctx context.Context, email, password string) (domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	u, hash, err := e.Repo.GetUserByEmail(ctx, email)
	if err != nil {
		return domain.User{}, err
	}
	if hash != repo.HashKey(password) {
		return domain.User{}, auth.ForbiddenError{Operation: "login"}
	}
	return u, nil
}

// SubmitOptions are parameters for submitting an action.
type SubmitOptions struct {
	UserID      string
	Title       string
	Description string
	ActionType  domain.ActionType
	Latitude    *float64
	Longitude   *float64
	Location    string
	ImpactValue float64

	TreesPlanted   *float64
	WasteCollected *float64
	CarbonOffset   *float64
	PeopleReached  *float64
}

// SubmitAction records a new action (starting PENDING with an automated
// verification stub, as the upload flow does), then recomputes the owner's
// trust score.
func (e Engine) SubmitAction(ctx context.Context, opts SubmitOptions) (domain.Action, error) {
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Action{}, errors.New("title is required")
	}
	if !domain.ValidActionType(opts.ActionType) {
		return domain.Action{}, fmt.Errorf("invalid action type %s", opts.ActionType)
	}
	if _, err := e.Repo.GetUser(ctx, opts.UserID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Action{}, err
		}
		return domain.Action{}, transient("read user", err)
	}
	if opts.ImpactValue < 0 {
		slog.Warn("negative impact value treated as zero", "user", opts.UserID)
		opts.ImpactValue = 0
	}
	opts.TreesPlanted = dropNegative(opts.TreesPlanted, "trees_planted", opts.UserID)
	opts.WasteCollected = dropNegative(opts.WasteCollected, "waste_collected", opts.UserID)
	opts.CarbonOffset = dropNegative(opts.CarbonOffset, "carbon_offset", opts.UserID)
	opts.PeopleReached = dropNegative(opts.PeopleReached, "people_reached", opts.UserID)

	now := e.now().UTC().Format(time.RFC3339)
	a := domain.Action{
		ID:             uuid.NewString(),
		UserID:         opts.UserID,
		Title:          strings.TrimSpace(opts.Title),
		Description:    opts.Description,
		ActionType:     opts.ActionType,
		Status:         domain.VerificationPending,
		Latitude:       opts.Latitude,
		Longitude:      opts.Longitude,
		Location:       opts.Location,
		ImpactValue:    opts.ImpactValue,
		TreesPlanted:   opts.TreesPlanted,
		WasteCollected: opts.WasteCollected,
		CarbonOffset:   opts.CarbonOffset,
		PeopleReached:  opts.PeopleReached,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	analysis, _ := json.Marshal(map[string]any{
		"status":     "pending",
		"confidence": 0,
		"checks": map[string]string{
			"imageAnalysis":      "pending",
			"metadataValidation": "pending",
			"duplicateCheck":     "pending",
		},
	})

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Action{}, transient("begin tx", err)
	}
	defer tx.Rollback()
	if err := e.Repo.InsertActionTx(ctx, tx, a); err != nil {
		return domain.Action{}, transient("insert action", err)
	}
	if _, err := e.Repo.CreateVerificationTx(ctx, tx, domain.Verification{
		ID:         uuid.NewString(),
		ActionID:   a.ID,
		Comments:   "Automated verification in progress",
		AIAnalysis: string(analysis),
		CreatedBy:  "system",
		CreatedAt:  now,
	}); err != nil {
		return domain.Action{}, transient("insert verification", err)
	}
	if err := e.Events.Append(ctx, tx, "action.submitted", a.UserID, "action", a.ID, events.EventPayload{
		"action_type": string(a.ActionType),
	}); err != nil {
		return domain.Action{}, transient("append event", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Action{}, transient("commit", err)
	}

	if _, err := e.RecalculateScore(ctx, a.UserID); err != nil {
		return domain.Action{}, err
	}
	return a, nil
}

func dropNegative(m *float64, field, userID string) *float64 {
	if m != nil && *m < 0 {
		slog.Warn("negative impact metric treated as absent", "field", field, "user", userID)
		return nil
	}
	return m
}

// VerifyOptions are parameters for a verification decision.
type VerifyOptions struct {
	ActionID      string
	Status        domain.VerificationStatus
	Score         float64
	Comments      string
	AIAnalysis    string
	MetadataCheck bool
	VerifierID    string
}

// SetVerificationStatus applies a reviewer's decision to an action, records
// the verification entry, and recomputes the owner's trust score. The
// verification subsystem is the only caller; the server layer enforces that.
func (e Engine) SetVerificationStatus(ctx context.Context, opts VerifyOptions) (domain.Action, error) {
	if !domain.ValidVerificationStatus(opts.Status) {
		return domain.Action{}, fmt.Errorf("invalid verification status %s", opts.Status)
	}
	a, err := e.Repo.GetAction(ctx, opts.ActionID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Action{}, err
		}
		return domain.Action{}, transient("read action", err)
	}

	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Action{}, transient("begin tx", err)
	}
	defer tx.Rollback()
	if err := e.Repo.SetActionStatusTx(ctx, tx, a.ID, opts.Status, now); err != nil {
		return domain.Action{}, transient("set status", err)
	}
	if _, err := e.Repo.CreateVerificationTx(ctx, tx, domain.Verification{
		ID:            uuid.NewString(),
		ActionID:      a.ID,
		Score:         opts.Score,
		Comments:      opts.Comments,
		AIAnalysis:    opts.AIAnalysis,
		MetadataCheck: opts.MetadataCheck,
		CreatedBy:     opts.VerifierID,
		CreatedAt:     now,
	}); err != nil {
		return domain.Action{}, transient("insert verification", err)
	}
	if err := e.Events.Append(ctx, tx, "action.verified", a.UserID, "action", a.ID, events.EventPayload{
		"status":   string(opts.Status),
		"verifier": opts.VerifierID,
	}); err != nil {
		return domain.Action{}, transient("append event", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Action{}, transient("commit", err)
	}

	if _, err := e.RecalculateScore(ctx, a.UserID); err != nil {
		return domain.Action{}, err
	}
	return e.Repo.GetAction(ctx, a.ID)
}

// CastVote adds one community vote to an action on behalf of voterID and
// recomputes the owner's trust score. Voting on your own action is rejected.
func (e Engine) CastVote(ctx context.Context, actionID, voterID string) (domain.Action, error) {
	a, err := e.Repo.GetAction(ctx, actionID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Action{}, err
		}
		return domain.Action{}, transient("read action", err)
	}
	owns, err := e.Auth.OwnsAction(ctx, actionID, voterID)
	if err != nil {
		return domain.Action{}, transient("check ownership", err)
	}
	if owns {
		return domain.Action{}, auth.SelfVoteError{ActionID: actionID}
	}

	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Action{}, transient("begin tx", err)
	}
	defer tx.Rollback()
	votes, err := e.Repo.IncrementVotesTx(ctx, tx, actionID, now)
	if err != nil {
		return domain.Action{}, transient("increment votes", err)
	}
	if err := e.Events.Append(ctx, tx, "action.voted", a.UserID, "action", a.ID, events.EventPayload{
		"voter": voterID,
		"votes": votes,
	}); err != nil {
		return domain.Action{}, transient("append event", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Action{}, transient("commit", err)
	}

	if _, err := e.RecalculateScore(ctx, a.UserID); err != nil {
		return domain.Action{}, err
	}
	return e.Repo.GetAction(ctx, actionID)
}

// Leaderboard returns the top scored users. A non-positive limit falls back
// to the configured default, and anything above the configured maximum is
// clamped.
func (e Engine) Leaderboard(ctx context.Context, limit int) ([]repo.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = e.Config.Leaderboard.DefaultLimit
	}
	if limit > e.Config.Leaderboard.MaxLimit {
		limit = e.Config.Leaderboard.MaxLimit
	}
	entries, err := e.Repo.ListUsersByScore(ctx, limit)
	if err != nil {
		return nil, transient("read leaderboard", err)
	}
	return entries, nil
}

// UserRank returns the 1-based rank of a user; 0 means unranked (no
// committed trust score yet).
func (e Engine) UserRank(ctx context.Context, userID string) (int, error) {
	rank, err := e.Repo.GetUserRank(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return 0, err
		}
		return 0, transient("read rank", err)
	}
	return rank, nil
}
