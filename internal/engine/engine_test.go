package engine_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"greenproof/internal/config"
	"greenproof/internal/db"
	"greenproof/internal/domain"
	"greenproof/internal/engine"
	"greenproof/internal/engine/auth"
	"greenproof/internal/migrate"
	"greenproof/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func registerUser(t *testing.T, env testEnv, email string, ut domain.UserType) domain.User {
	t.Helper()
	u, err := env.Engine.RegisterUser(env.Ctx, engine.RegisterOptions{
		Email:    email,
		Password: "hunter2",
		Name:     email,
		UserType: ut,
	})
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	return u
}

func ptr(v float64) *float64 { return &v }

func TestRegisterDuplicateEmail(t *testing.T) {
	env := newTestEnv(t)
	registerUser(t, env, "a@example.org", domain.UserIndividual)
	_, err := env.Engine.RegisterUser(env.Ctx, engine.RegisterOptions{
		Email:    "A@Example.org",
		Password: "pw",
		Name:     "dup",
		UserType: domain.UserIndividual,
	})
	if !errors.Is(err, engine.ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestAuthenticate(t *testing.T) {
	env := newTestEnv(t)
	u := registerUser(t, env, "a@example.org", domain.UserIndividual)
	got, err := env.Engine.Authenticate(env.Ctx, "a@example.org", "hunter2")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if got.ID != u.ID {
		t.Fatalf("authenticated wrong user: %s", got.ID)
	}
	if _, err := env.Engine.Authenticate(env.Ctx, "a@example.org", "wrong"); err == nil {
		t.Fatalf("expected bad password to fail")
	}
	var fe auth.ForbiddenError
	if _, err := env.Engine.Authenticate(env.Ctx, "a@example.org", "wrong"); !errors.As(err, &fe) {
		t.Fatalf("expected ForbiddenError, got %v", err)
	}
}

func TestSubmitActionScoresPending(t *testing.T) {
	env := newTestEnv(t)
	u := registerUser(t, env, "a@example.org", domain.UserIndividual)
	_, err := env.Engine.SubmitAction(env.Ctx, engine.SubmitOptions{
		UserID:     u.ID,
		Title:      "beach cleanup",
		ActionType: domain.ActionCleanup,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	got, err := env.Engine.Repo.GetUser(env.Ctx, u.ID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if got.TrustScore == nil {
		t.Fatalf("expected trust score committed after submit")
	}
	// CLEANUP base 8.0 at PENDING multiplier 0.3
	if math.Abs(*got.TrustScore-2.4) > 1e-9 {
		t.Fatalf("trust score = %v, want 2.4", *got.TrustScore)
	}
}

func TestApprovalRaisesScoreAndImpact(t *testing.T) {
	env := newTestEnv(t)
	u := registerUser(t, env, "a@example.org", domain.UserIndividual)
	a, err := env.Engine.SubmitAction(env.Ctx, engine.SubmitOptions{
		UserID:       u.ID,
		Title:        "planting day",
		ActionType:   domain.ActionTreePlantation,
		ImpactValue:  30,
		TreesPlanted: ptr(10),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	a, err = env.Engine.SetVerificationStatus(env.Ctx, engine.VerifyOptions{
		ActionID:   a.ID,
		Status:     domain.VerificationApproved,
		Score:      0.9,
		VerifierID: "verifier-1",
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if a.Status != domain.VerificationApproved {
		t.Fatalf("status = %s, want APPROVED", a.Status)
	}
	got, err := env.Engine.Repo.GetUser(env.Ctx, u.ID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	// base 10, approved 1.0, impact 1 + log10(10)*0.20 = 1.2
	if math.Abs(*got.TrustScore-12.0) > 1e-9 {
		t.Fatalf("trust score = %v, want 12.0", *got.TrustScore)
	}
	if math.Abs(*got.TotalImpact-30.0) > 1e-9 {
		t.Fatalf("total impact = %v, want 30.0", *got.TotalImpact)
	}
}

func TestRejectionRemovesContribution(t *testing.T) {
	env := newTestEnv(t)
	u := registerUser(t, env, "a@example.org", domain.UserIndividual)
	a, err := env.Engine.SubmitAction(env.Ctx, engine.SubmitOptions{
		UserID:      u.ID,
		Title:       "claimed cleanup",
		ActionType:  domain.ActionCleanup,
		ImpactValue: 12,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := env.Engine.SetVerificationStatus(env.Ctx, engine.VerifyOptions{
		ActionID:   a.ID,
		Status:     domain.VerificationRejected,
		VerifierID: "verifier-1",
	}); err != nil {
		t.Fatalf("reject: %v", err)
	}
	got, err := env.Engine.Repo.GetUser(env.Ctx, u.ID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if *got.TrustScore != 0 || *got.TotalImpact != 0 {
		t.Fatalf("rejected action still counted: score=%v impact=%v", *got.TrustScore, *got.TotalImpact)
	}
}

func TestSelfVoteRejected(t *testing.T) {
	env := newTestEnv(t)
	u := registerUser(t, env, "a@example.org", domain.UserIndividual)
	a, err := env.Engine.SubmitAction(env.Ctx, engine.SubmitOptions{
		UserID:     u.ID,
		Title:      "my own action",
		ActionType: domain.ActionOther,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	var sv auth.SelfVoteError
	if _, err := env.Engine.CastVote(env.Ctx, a.ID, u.ID); !errors.As(err, &sv) {
		t.Fatalf("expected SelfVoteError, got %v", err)
	}
}

func TestVotesAddBonus(t *testing.T) {
	env := newTestEnv(t)
	owner := registerUser(t, env, "owner@example.org", domain.UserIndividual)
	voter := registerUser(t, env, "voter@example.org", domain.UserIndividual)
	a, err := env.Engine.SubmitAction(env.Ctx, engine.SubmitOptions{
		UserID:     owner.ID,
		Title:      "solar rollout",
		ActionType: domain.ActionSolarInstallation,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := env.Engine.SetVerificationStatus(env.Ctx, engine.VerifyOptions{
		ActionID:   a.ID,
		Status:     domain.VerificationApproved,
		VerifierID: "verifier-1",
	}); err != nil {
		t.Fatalf("approve: %v", err)
	}
	for i := 0; i < 3; i++ {
		a, err = env.Engine.CastVote(env.Ctx, a.ID, voter.ID)
		if err != nil {
			t.Fatalf("vote %d: %v", i, err)
		}
	}
	if a.CommunityVotes != 3 {
		t.Fatalf("votes = %d, want 3", a.CommunityVotes)
	}
	got, err := env.Engine.Repo.GetUser(env.Ctx, owner.ID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	// base 15 + bonus 0.3
	if math.Abs(*got.TrustScore-15.3) > 1e-9 {
		t.Fatalf("trust score = %v, want 15.3", *got.TrustScore)
	}
}

func TestLeaderboardOrderAndRanks(t *testing.T) {
	env := newTestEnv(t)
	high := registerUser(t, env, "high@example.org", domain.UserIndividual)
	low := registerUser(t, env, "low@example.org", domain.UserIndividual)
	unranked := registerUser(t, env, "new@example.org", domain.UserIndividual)

	submitApproved := func(userID string, at domain.ActionType) {
		t.Helper()
		a, err := env.Engine.SubmitAction(env.Ctx, engine.SubmitOptions{
			UserID: userID, Title: "act", ActionType: at,
		})
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		if _, err := env.Engine.SetVerificationStatus(env.Ctx, engine.VerifyOptions{
			ActionID: a.ID, Status: domain.VerificationApproved, VerifierID: "v",
		}); err != nil {
			t.Fatalf("approve: %v", err)
		}
	}
	submitApproved(high.ID, domain.ActionSolarInstallation) // 15.0
	submitApproved(low.ID, domain.ActionCleanup)            // 8.0

	entries, err := env.Engine.Leaderboard(env.Ctx, 0)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("leaderboard has %d entries, want 2 (unranked excluded)", len(entries))
	}
	if entries[0].UserID != high.ID || entries[0].Rank != 1 {
		t.Fatalf("entry 0 = %+v, want high at rank 1", entries[0])
	}
	if entries[1].UserID != low.ID || entries[1].Rank != 2 {
		t.Fatalf("entry 1 = %+v, want low at rank 2", entries[1])
	}
	if entries[0].VerifiedActions != 1 {
		t.Fatalf("verified actions = %d, want 1", entries[0].VerifiedActions)
	}

	rank, err := env.Engine.UserRank(env.Ctx, unranked.ID)
	if err != nil {
		t.Fatalf("rank: %v", err)
	}
	if rank != 0 {
		t.Fatalf("unranked user has rank %d, want 0", rank)
	}
	rank, err = env.Engine.UserRank(env.Ctx, low.ID)
	if err != nil {
		t.Fatalf("rank: %v", err)
	}
	if rank != 2 {
		t.Fatalf("low rank = %d, want 2", rank)
	}
}

func TestRecalculateIdempotent(t *testing.T) {
	env := newTestEnv(t)
	u := registerUser(t, env, "a@example.org", domain.UserIndividual)
	if _, err := env.Engine.SubmitAction(env.Ctx, engine.SubmitOptions{
		UserID: u.ID, Title: "act", ActionType: domain.ActionCleanup,
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	first, err := env.Engine.RecalculateScore(env.Ctx, u.ID)
	if err != nil {
		t.Fatalf("recalc: %v", err)
	}
	second, err := env.Engine.RecalculateScore(env.Ctx, u.ID)
	if err != nil {
		t.Fatalf("recalc again: %v", err)
	}
	if first != second {
		t.Fatalf("recompute not idempotent: %v vs %v", first, second)
	}
	// submit already recomputed once, then two explicit runs
	history, err := env.Engine.Repo.ListScoreHistory(env.Ctx, u.ID, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("history has %d entries, want 3", len(history))
	}
}

func TestRecalculateUnknownUser(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.RecalculateScore(env.Ctx, "nope")
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if engine.IsTransient(err) {
		t.Fatalf("unknown user must not be transient")
	}
}

func TestConcurrentRecomputesConverge(t *testing.T) {
	env := newTestEnv(t)
	u := registerUser(t, env, "a@example.org", domain.UserIndividual)
	a, err := env.Engine.SubmitAction(env.Ctx, engine.SubmitOptions{
		UserID: u.ID, Title: "act", ActionType: domain.ActionRenewableEnergy,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := env.Engine.SetVerificationStatus(env.Ctx, engine.VerifyOptions{
		ActionID: a.ID, Status: domain.VerificationApproved, VerifierID: "v",
	}); err != nil {
		t.Fatalf("approve: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.Engine.RecalculateScore(env.Ctx, u.ID); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent recompute: %v", err)
	}
	got, err := env.Engine.Repo.GetUser(env.Ctx, u.ID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if math.Abs(*got.TrustScore-12.0) > 1e-9 {
		t.Fatalf("trust score = %v, want 12.0", *got.TrustScore)
	}
}

func TestRecalculateAll(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 5; i++ {
		u := registerUser(t, env, fmt.Sprintf("u%d@example.org", i), domain.UserNGO)
		if _, err := env.Engine.SubmitAction(env.Ctx, engine.SubmitOptions{
			UserID: u.ID, Title: "act", ActionType: domain.ActionEducationOutreach,
		}); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	n, err := env.Engine.RecalculateAll(env.Ctx)
	if err != nil {
		t.Fatalf("recalculate all: %v", err)
	}
	if n != 5 {
		t.Fatalf("recomputed %d users, want 5", n)
	}
	users, err := env.Engine.Repo.ListUsers(env.Ctx)
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	for _, u := range users {
		if u.TrustScore == nil {
			t.Fatalf("user %s left unscored", u.ID)
		}
	}
}
