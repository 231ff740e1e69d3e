package score

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"greenproof/internal/domain"
)

func fptr(v float64) *float64 { return &v }

func TestComputeActionScore(t *testing.T) {
	// TREE_PLANTATION base 10, approved, 100 trees, 5 votes:
	// impact = 1 + log10(100)*0.2 = 1.4, bonus = 0.5, final = 14.5
	a := domain.Action{
		ActionType:     domain.ActionTreePlantation,
		Status:         domain.VerificationApproved,
		TreesPlanted:   fptr(100),
		CommunityVotes: 5,
	}
	b := ComputeActionScore(a)
	assert.Equal(t, 10.0, b.BaseScore)
	assert.Equal(t, 1.0, b.VerificationMultiplier)
	assert.InDelta(t, 1.4, b.ImpactMultiplier, 1e-9)
	assert.Equal(t, 0.5, b.CommunityBonus)
	assert.InDelta(t, 14.5, b.FinalScore, 1e-9)
}

func TestComputeActionScoreRejected(t *testing.T) {
	a := domain.Action{
		ActionType:     domain.ActionTreePlantation,
		Status:         domain.VerificationRejected,
		TreesPlanted:   fptr(100),
		CommunityVotes: 5,
	}
	b := ComputeActionScore(a)
	assert.Equal(t, 0.0, b.VerificationMultiplier)
	// multiplied term collapses to zero, the community bonus survives
	assert.InDelta(t, 0.5, b.FinalScore, 1e-9)
}

func TestComputeActionScoreDeterministic(t *testing.T) {
	a := domain.Action{
		ActionType:     domain.ActionRenewableEnergy,
		Status:         domain.VerificationUnderReview,
		CarbonOffset:   fptr(37.5),
		PeopleReached:  fptr(220),
		CommunityVotes: 11,
	}
	first := ComputeActionScore(a)
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, ComputeActionScore(a))
	}
}

func TestCommunityBonusCap(t *testing.T) {
	for votes := int64(0); votes < 40; votes++ {
		b := ComputeActionScore(domain.Action{
			ActionType:     domain.ActionOther,
			Status:         domain.VerificationApproved,
			CommunityVotes: votes,
		})
		if votes >= 20 {
			assert.Equal(t, 2.0, b.CommunityBonus, "votes=%d", votes)
		} else {
			assert.InDelta(t, float64(votes)*0.1, b.CommunityBonus, 1e-9, "votes=%d", votes)
		}
		if votes > 0 {
			prev := ComputeActionScore(domain.Action{
				ActionType:     domain.ActionOther,
				Status:         domain.VerificationApproved,
				CommunityVotes: votes - 1,
			})
			assert.GreaterOrEqual(t, b.CommunityBonus, prev.CommunityBonus)
		}
	}
}

func TestUnknownActionTypeFallsBack(t *testing.T) {
	b := ComputeActionScore(domain.Action{
		ActionType: domain.ActionType("KELP_FARMING"),
		Status:     domain.VerificationApproved,
	})
	assert.Equal(t, 5.0, b.BaseScore)
}

func TestImpactMetricsIgnoredWhenAbsentZeroOrNegative(t *testing.T) {
	base := ComputeActionScore(domain.Action{
		ActionType: domain.ActionCleanup,
		Status:     domain.VerificationApproved,
	})
	for _, a := range []domain.Action{
		{ActionType: domain.ActionCleanup, Status: domain.VerificationApproved, WasteCollected: fptr(0)},
		{ActionType: domain.ActionCleanup, Status: domain.VerificationApproved, WasteCollected: fptr(-12)},
		{ActionType: domain.ActionCleanup, Status: domain.VerificationApproved, CarbonOffset: fptr(-1)},
	} {
		assert.Equal(t, base, ComputeActionScore(a))
	}
	assert.Equal(t, 1.0, base.ImpactMultiplier)
}

func TestSubUnitMetricLowersMultiplier(t *testing.T) {
	// 0 < m < 1 gives a negative log10 term; this is intentional and must
	// not be clamped.
	b := ComputeActionScore(domain.Action{
		ActionType:   domain.ActionCleanup,
		Status:       domain.VerificationApproved,
		CarbonOffset: fptr(0.5),
	})
	assert.Less(t, b.ImpactMultiplier, 1.0)
	assert.InDelta(t, 1.0+math.Log10(0.5)*0.25, b.ImpactMultiplier, 1e-9)
}

func TestNegativeVotesScoreNoBonus(t *testing.T) {
	b := ComputeActionScore(domain.Action{
		ActionType:     domain.ActionOther,
		Status:         domain.VerificationApproved,
		CommunityVotes: -3,
	})
	assert.Equal(t, 0.0, b.CommunityBonus)
}

func TestAggregateUserClassMultiplier(t *testing.T) {
	// Two eligible actions scoring 14.5 and 5.0 for an NGO: (14.5+5.0)*1.2
	actions := []domain.Action{
		{
			ActionType:     domain.ActionTreePlantation,
			Status:         domain.VerificationApproved,
			TreesPlanted:   fptr(100),
			CommunityVotes: 5,
			ImpactValue:    40,
		},
		{
			ActionType:  domain.ActionSustainableTransport,
			Status:      domain.VerificationApproved,
			ImpactValue: 2,
		},
	}
	trust, impact := AggregateUser(domain.UserNGO, actions)
	assert.InDelta(t, 23.4, trust, 1e-9)
	// class multiplier applies to score only
	assert.InDelta(t, 42.0, impact, 1e-9)

	trust, _ = AggregateUser(domain.UserCompany, actions)
	assert.InDelta(t, 19.5*0.9, trust, 1e-9)
	trust, _ = AggregateUser(domain.UserIndividual, actions)
	assert.InDelta(t, 19.5, trust, 1e-9)
}

func TestAggregateUserExcludesRejected(t *testing.T) {
	rejected := domain.Action{
		ActionType:     domain.ActionSolarInstallation,
		Status:         domain.VerificationRejected,
		CarbonOffset:   fptr(1000),
		ImpactValue:    500,
		CommunityVotes: 50,
	}
	kept := domain.Action{
		ActionType:  domain.ActionCleanup,
		Status:      domain.VerificationPending,
		ImpactValue: 3,
	}
	trust, impact := AggregateUser(domain.UserIndividual, []domain.Action{kept, rejected})
	trustKeptOnly, impactKeptOnly := AggregateUser(domain.UserIndividual, []domain.Action{kept})
	assert.Equal(t, trustKeptOnly, trust)
	assert.Equal(t, impactKeptOnly, impact)

	// mutating the rejected action's metrics changes nothing
	rejected.TreesPlanted = fptr(9999)
	rejected.ImpactValue = 12345
	trust2, impact2 := AggregateUser(domain.UserIndividual, []domain.Action{kept, rejected})
	assert.Equal(t, trust, trust2)
	assert.Equal(t, impact, impact2)
}

func TestAggregateUserOrderIndependent(t *testing.T) {
	a := domain.Action{ActionType: domain.ActionCleanup, Status: domain.VerificationApproved, ImpactValue: 1}
	b := domain.Action{ActionType: domain.ActionWasteReduction, Status: domain.VerificationPending, ImpactValue: 2}
	c := domain.Action{ActionType: domain.ActionOther, Status: domain.VerificationUnderReview, ImpactValue: 3}
	t1, i1 := AggregateUser(domain.UserNGO, []domain.Action{a, b, c})
	t2, i2 := AggregateUser(domain.UserNGO, []domain.Action{c, a, b})
	assert.InDelta(t, t1, t2, 1e-12)
	assert.InDelta(t, i1, i2, 1e-12)
}

func TestAggregateUserEmpty(t *testing.T) {
	trust, impact := AggregateUser(domain.UserIndividual, nil)
	assert.Equal(t, 0.0, trust)
	assert.Equal(t, 0.0, impact)
}

func TestNegativeImpactValueTreatedAsZero(t *testing.T) {
	_, impact := AggregateUser(domain.UserIndividual, []domain.Action{
		{ActionType: domain.ActionOther, Status: domain.VerificationApproved, ImpactValue: -10},
		{ActionType: domain.ActionOther, Status: domain.VerificationApproved, ImpactValue: 4},
	})
	assert.Equal(t, 4.0, impact)
}
