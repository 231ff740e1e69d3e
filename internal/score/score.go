// Package score holds the pure trust-score arithmetic: the per-action
// formula and the per-user aggregation. No I/O, no state; everything the
// recompute coordinator commits is derived here.
package score

import (
	"math"

	"greenproof/internal/domain"
)

const (
	// fallbackBaseScore is used for unrecognized action types; submissions
	// are validated upstream, so hitting it means legacy or garbage data,
	// which scores like OTHER rather than failing.
	fallbackBaseScore = 5.0

	voteBonusStep = 0.1
	voteBonusCap  = 2.0

	weightTreesPlanted   = 0.20
	weightWasteCollected = 0.15
	weightCarbonOffset   = 0.25
	weightPeopleReached  = 0.10
)

// Breakdown is the per-action computation result.
type Breakdown struct {
	BaseScore              float64 `json:"base_score"`
	VerificationMultiplier float64 `json:"verification_multiplier"`
	ImpactMultiplier       float64 `json:"impact_multiplier"`
	CommunityBonus         float64 `json:"community_bonus"`
	FinalScore             float64 `json:"final_score"`
}

// BaseScore returns the categorical base score for an action type.
func BaseScore(t domain.ActionType) float64 {
	switch t {
	case domain.ActionTreePlantation:
		return 10
	case domain.ActionCleanup:
		return 8
	case domain.ActionSolarInstallation:
		return 15
	case domain.ActionPlasticCollection:
		return 6
	case domain.ActionWasteReduction:
		return 7
	case domain.ActionWaterConservation:
		return 9
	case domain.ActionRenewableEnergy:
		return 12
	case domain.ActionSustainableTransport:
		return 5
	case domain.ActionEducationOutreach:
		return 8
	case domain.ActionOther:
		return 5
	default:
		return fallbackBaseScore
	}
}

// VerificationMultiplier returns the weight applied for a review state.
// Unknown states weigh zero, same as REJECTED.
func VerificationMultiplier(s domain.VerificationStatus) float64 {
	switch s {
	case domain.VerificationApproved:
		return 1.0
	case domain.VerificationUnderReview:
		return 0.5
	case domain.VerificationPending:
		return 0.3
	case domain.VerificationRejected:
		return 0.0
	default:
		return 0.0
	}
}

// UserTypeMultiplier returns the participant-class multiplier applied to the
// aggregate score (never to the impact sum).
func UserTypeMultiplier(t domain.UserType) float64 {
	switch t {
	case domain.UserNGO:
		return 1.2
	case domain.UserCompany:
		return 0.9
	case domain.UserIndividual:
		return 1.0
	default:
		return 1.0
	}
}

// ComputeActionScore derives the score breakdown for a single action.
// It is total: any Action value produces a result, and malformed metric
// values (negative, zero) simply contribute nothing.
//
// The impact multiplier is additive in log10 of each present metric and is
// deliberately not clamped below 1.0: metrics between 0 and 1 subtract,
// matching the diminishing behavior of the source formula.
func ComputeActionScore(a domain.Action) Breakdown {
	base := BaseScore(a.ActionType)
	verif := VerificationMultiplier(a.Status)

	impact := 1.0
	impact += impactTerm(a.TreesPlanted, weightTreesPlanted)
	impact += impactTerm(a.WasteCollected, weightWasteCollected)
	impact += impactTerm(a.CarbonOffset, weightCarbonOffset)
	impact += impactTerm(a.PeopleReached, weightPeopleReached)

	bonus := math.Min(float64(a.CommunityVotes)*voteBonusStep, voteBonusCap)
	if a.CommunityVotes < 0 {
		bonus = 0
	}

	return Breakdown{
		BaseScore:              base,
		VerificationMultiplier: verif,
		ImpactMultiplier:       impact,
		CommunityBonus:         bonus,
		FinalScore:             base*verif*impact + bonus,
	}
}

func impactTerm(m *float64, weight float64) float64 {
	if m == nil || *m <= 0 {
		return 0
	}
	return math.Log10(*m) * weight
}

// Eligible reports whether an action counts toward its owner's trust score
// and impact sum. Rejected actions are excluded entirely.
func Eligible(a domain.Action) bool {
	return a.Status != domain.VerificationRejected
}

// AggregateUser sums the final scores and declared impact of the eligible
// actions and applies the participant-class multiplier to the score. The
// result depends only on the multiset of actions, not their order.
func AggregateUser(t domain.UserType, actions []domain.Action) (trustScore, totalImpact float64) {
	for _, a := range actions {
		if !Eligible(a) {
			continue
		}
		b := ComputeActionScore(a)
		trustScore += b.FinalScore
		if a.ImpactValue > 0 {
			totalImpact += a.ImpactValue
		}
	}
	trustScore *= UserTypeMultiplier(t)
	return trustScore, totalImpact
}
