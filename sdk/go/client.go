package greenproofsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Greenproof HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// User represents the API user model (partial).
type User struct {
	ID          string   `json:"id"`
	Email       string   `json:"email"`
	Name        string   `json:"name"`
	UserType    string   `json:"user_type"`
	TrustScore  *float64 `json:"trust_score,omitempty"`
	TotalImpact *float64 `json:"total_impact,omitempty"`
}

// Action represents a submitted environmental action (partial).
type Action struct {
	ID             string  `json:"id"`
	UserID         string  `json:"user_id"`
	Title          string  `json:"title"`
	ActionType     string  `json:"action_type"`
	Status         string  `json:"verification_status"`
	ImpactValue    float64 `json:"impact_value"`
	CommunityVotes int64   `json:"community_votes"`
}

// LeaderboardEntry is one ranked row.
type LeaderboardEntry struct {
	Rank            int     `json:"rank"`
	UserID          string  `json:"user_id"`
	Name            string  `json:"name"`
	UserType        string  `json:"user_type"`
	TrustScore      float64 `json:"trust_score"`
	TotalImpact     float64 `json:"total_impact"`
	VerifiedActions int     `json:"verified_actions"`
}

// Rank is a user's leaderboard position; Rank 0 means unranked.
type Rank struct {
	UserID     string   `json:"user_id"`
	Rank       int      `json:"rank"`
	Ranked     bool     `json:"ranked"`
	TrustScore *float64 `json:"trust_score,omitempty"`
}

type tokenResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

type leaderboardResponse struct {
	Community string             `json:"community"`
	Entries   []LeaderboardEntry `json:"entries"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Register creates a user and stores the returned bearer token on the client.
func (c *Client) Register(ctx context.Context, email, password, name, userType string) (User, error) {
	body := map[string]any{
		"email":     email,
		"password":  password,
		"name":      name,
		"user_type": userType,
	}
	var resp tokenResponse
	if err := c.do(ctx, http.MethodPost, "v0/auth/register", body, &resp); err != nil {
		return User{}, err
	}
	c.BearerToken = resp.Token
	return resp.User, nil
}

// Login exchanges credentials for a bearer token and stores it on the client.
func (c *Client) Login(ctx context.Context, email, password string) (User, error) {
	body := map[string]any{
		"email":    email,
		"password": password,
	}
	var resp tokenResponse
	if err := c.do(ctx, http.MethodPost, "v0/auth/login", body, &resp); err != nil {
		return User{}, err
	}
	c.BearerToken = resp.Token
	return resp.User, nil
}

// SubmitAction submits an action for the authenticated user. Optional impact
// metrics go in extra (e.g. "trees_planted": 10).
func (c *Client) SubmitAction(ctx context.Context, title, actionType string, impactValue float64, extra map[string]any) (Action, error) {
	body := map[string]any{
		"title":        title,
		"action_type":  actionType,
		"impact_value": impactValue,
	}
	for k, v := range extra {
		body[k] = v
	}
	var resp Action
	err := c.do(ctx, http.MethodPost, "v0/actions", body, &resp)
	return resp, err
}

// Vote casts a community vote on an action.
func (c *Client) Vote(ctx context.Context, actionID string) (Action, error) {
	var resp Action
	endpoint := fmt.Sprintf("v0/actions/%s/vote", url.PathEscape(actionID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// Verify records a verification decision; requires an API key.
func (c *Client) Verify(ctx context.Context, actionID, status string, score float64, comments string) (Action, error) {
	body := map[string]any{
		"status":   status,
		"score":    score,
		"comments": comments,
	}
	var resp Action
	endpoint := fmt.Sprintf("v0/actions/%s/verify", url.PathEscape(actionID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Leaderboard returns the top users by trust score.
func (c *Client) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	endpoint := "v0/leaderboard"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp leaderboardResponse
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Entries, err
}

// UserRank returns a user's leaderboard position.
func (c *Client) UserRank(ctx context.Context, userID string) (Rank, error) {
	var resp Rank
	endpoint := fmt.Sprintf("v0/users/%s/rank", url.PathEscape(userID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
