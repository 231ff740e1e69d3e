package domain

// ActionType categorizes a submitted environmental action.
type ActionType string

const (
	ActionTreePlantation       ActionType = "TREE_PLANTATION"
	ActionCleanup              ActionType = "CLEANUP"
	ActionSolarInstallation    ActionType = "SOLAR_INSTALLATION"
	ActionPlasticCollection    ActionType = "PLASTIC_COLLECTION"
	ActionWasteReduction       ActionType = "WASTE_REDUCTION"
	ActionWaterConservation    ActionType = "WATER_CONSERVATION"
	ActionRenewableEnergy      ActionType = "RENEWABLE_ENERGY"
	ActionSustainableTransport ActionType = "SUSTAINABLE_TRANSPORT"
	ActionEducationOutreach    ActionType = "EDUCATION_OUTREACH"
	ActionOther                ActionType = "OTHER"
)

// ActionTypes lists every recognized action type.
var ActionTypes = []ActionType{
	ActionTreePlantation,
	ActionCleanup,
	ActionSolarInstallation,
	ActionPlasticCollection,
	ActionWasteReduction,
	ActionWaterConservation,
	ActionRenewableEnergy,
	ActionSustainableTransport,
	ActionEducationOutreach,
	ActionOther,
}

// VerificationStatus is the review lifecycle state of an action.
type VerificationStatus string

const (
	VerificationPending     VerificationStatus = "PENDING"
	VerificationUnderReview VerificationStatus = "UNDER_REVIEW"
	VerificationApproved    VerificationStatus = "APPROVED"
	VerificationRejected    VerificationStatus = "REJECTED"
)

// VerificationStatuses lists every recognized verification status.
var VerificationStatuses = []VerificationStatus{
	VerificationPending,
	VerificationUnderReview,
	VerificationApproved,
	VerificationRejected,
}

// UserType is the participant class; it never changes after registration.
type UserType string

const (
	UserIndividual UserType = "INDIVIDUAL"
	UserNGO        UserType = "NGO"
	UserCompany    UserType = "COMPANY"
)

// UserTypes lists every recognized participant class.
var UserTypes = []UserType{UserIndividual, UserNGO, UserCompany}

type User struct {
	ID          string   `json:"id"`
	Email       string   `json:"email"`
	Name        string   `json:"name"`
	UserType    UserType `json:"user_type" enum:"INDIVIDUAL,NGO,COMPANY"`
	Description string   `json:"description,omitempty"`
	Website     string   `json:"website,omitempty"`
	Location    string   `json:"location,omitempty"`
	// TrustScore and TotalImpact are derived values owned by the recompute
	// coordinator; nil until the first completed recomputation.
	TrustScore  *float64 `json:"trust_score,omitempty"`
	TotalImpact *float64 `json:"total_impact,omitempty"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
}

type Action struct {
	ID          string             `json:"id"`
	UserID      string             `json:"user_id"`
	Title       string             `json:"title"`
	Description string             `json:"description,omitempty"`
	ActionType  ActionType         `json:"action_type" enum:"TREE_PLANTATION,CLEANUP,SOLAR_INSTALLATION,PLASTIC_COLLECTION,WASTE_REDUCTION,WATER_CONSERVATION,RENEWABLE_ENERGY,SUSTAINABLE_TRANSPORT,EDUCATION_OUTREACH,OTHER"`
	Status      VerificationStatus `json:"verification_status" enum:"PENDING,UNDER_REVIEW,APPROVED,REJECTED"`
	Latitude    *float64           `json:"latitude,omitempty"`
	Longitude   *float64           `json:"longitude,omitempty"`
	Location    string             `json:"location,omitempty"`
	ImpactValue float64            `json:"impact_value"`
	// Optional quantitative metrics; absent means no contribution to the
	// impact multiplier.
	TreesPlanted   *float64 `json:"trees_planted,omitempty"`
	WasteCollected *float64 `json:"waste_collected,omitempty"`
	CarbonOffset   *float64 `json:"carbon_offset,omitempty"`
	PeopleReached  *float64 `json:"people_reached,omitempty"`
	CommunityVotes int64    `json:"community_votes"`
	CreatedAt      string   `json:"created_at" format:"date-time"`
	UpdatedAt      string   `json:"updated_at" format:"date-time"`
}

// Verification is one review record attached to an action. The action's
// verification status is decided by the engine; these records are the audit
// trail left by reviewers (human or automated).
type Verification struct {
	ID            string  `json:"id"`
	ActionID      string  `json:"action_id"`
	Score         float64 `json:"score"`
	Comments      string  `json:"comments,omitempty"`
	AIAnalysis    string  `json:"ai_analysis_json,omitempty"`
	MetadataCheck bool    `json:"metadata_check"`
	CreatedBy     string  `json:"created_by"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
}

// ScoreHistoryEntry is an append-only audit record of one completed
// recomputation.
type ScoreHistoryEntry struct {
	ID        int64   `json:"id"`
	UserID    string  `json:"user_id"`
	Score     float64 `json:"score"`
	Reason    string  `json:"reason"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	UserID     string `json:"user_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Payload    string `json:"payload_json"`
}

// VerifierKey authenticates the external verification subsystem.
type VerifierKey struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// ValidActionType reports whether t is one of the recognized categories.
func ValidActionType(t ActionType) bool {
	for _, v := range ActionTypes {
		if v == t {
			return true
		}
	}
	return false
}

// ValidVerificationStatus reports whether s is a known lifecycle state.
func ValidVerificationStatus(s VerificationStatus) bool {
	for _, v := range VerificationStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// ValidUserType reports whether t is a known participant class.
func ValidUserType(t UserType) bool {
	for _, v := range UserTypes {
		if v == t {
			return true
		}
	}
	return false
}
