package server

import (
	"greenproof/internal/domain"
	"greenproof/internal/repo"
)

// Request payloads

type RegisterRequest struct {
	Email       string `json:"email" format:"email"`
	Password    string `json:"password" minLength:"6"`
	Name        string `json:"name"`
	UserType    string `json:"user_type" enum:"INDIVIDUAL,NGO,COMPANY"`
	Description string `json:"description,omitempty"`
	Website     string `json:"website,omitempty"`
	Location    string `json:"location,omitempty"`
}

type LoginRequest struct {
	Email    string `json:"email" format:"email"`
	Password string `json:"password"`
}

type SubmitActionRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	ActionType  string   `json:"action_type" enum:"TREE_PLANTATION,CLEANUP,SOLAR_INSTALLATION,PLASTIC_COLLECTION,WASTE_REDUCTION,WATER_CONSERVATION,RENEWABLE_ENERGY,SUSTAINABLE_TRANSPORT,EDUCATION_OUTREACH,OTHER"`
	Latitude    *float64 `json:"latitude,omitempty"`
	Longitude   *float64 `json:"longitude,omitempty"`
	Location    string   `json:"location,omitempty"`
	ImpactValue float64  `json:"impact_value,omitempty"`

	TreesPlanted   *float64 `json:"trees_planted,omitempty"`
	WasteCollected *float64 `json:"waste_collected,omitempty"`
	CarbonOffset   *float64 `json:"carbon_offset,omitempty"`
	PeopleReached  *float64 `json:"people_reached,omitempty"`
}

type VerifyActionRequest struct {
	Status        string  `json:"status" enum:"PENDING,UNDER_REVIEW,APPROVED,REJECTED"`
	Score         float64 `json:"score,omitempty" minimum:"0" maximum:"1"`
	Comments      string  `json:"comments,omitempty"`
	AIAnalysis    string  `json:"ai_analysis_json,omitempty"`
	MetadataCheck bool    `json:"metadata_check,omitempty"`
}

// Response payloads

type TokenResponse struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

type ActionListResponse struct {
	Actions []domain.Action `json:"actions"`
	Total   int             `json:"total"`
	Page    int             `json:"page"`
	Limit   int             `json:"limit"`
}

type LeaderboardResponse struct {
	Community string                  `json:"community,omitempty"`
	Entries   []repo.LeaderboardEntry `json:"entries"`
}

type RankResponse struct {
	UserID     string   `json:"user_id"`
	Rank       int      `json:"rank"`
	Ranked     bool     `json:"ranked"`
	TrustScore *float64 `json:"trust_score,omitempty"`
}

type RecalculateResponse struct {
	Users      int      `json:"users"`
	TrustScore *float64 `json:"trust_score,omitempty"`
}
