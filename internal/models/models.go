package models

import "time"

// Authentication
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Users
type UserResponse struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Role       string    `json:"role"`
	Status     string    `json:"status"`
	StoryPoint int64     `json:"story_point"`
	CreatedAt  time.Time `json:"created_at"`
}

// Projects
type CreateProjectRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	Status      string  `json:"status,omitempty"`
	MemberIDs   []int64 `json:"member_ids,omitempty"`
}

type ProjectResponse struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description"`
	Status      string    `json:"status"`
	CreatedBy   *int64    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Issues
type CreateIssueRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	StoryPoint  int64   `json:"story_point"`
	Status      string  `json:"status,omitempty"`
	Type        string  `json:"type,omitempty"`
	Priority    string  `json:"priority,omitempty"`
	AssignedTo  *int64  `json:"assigned_to,omitempty"`
}

// UpdateIssueRequest is a partial update; absent fields keep their value.
type UpdateIssueRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	StoryPoint  *int64  `json:"story_point,omitempty"`
	Status      *string `json:"status,omitempty"`
	Type        *string `json:"type,omitempty"`
	Priority    *string `json:"priority,omitempty"`
	AssignedTo  *int64  `json:"assigned_to,omitempty"`
}

type IssueResponse struct {
	ID          int64     `json:"id"`
	ProjectID   int64     `json:"project_id"`
	Name        string    `json:"name"`
	Description *string   `json:"description"`
	StoryPoint  int64     `json:"story_point"`
	Status      string    `json:"status"`
	Type        string    `json:"type"`
	Priority    string    `json:"priority"`
	AssignedTo  *int64    `json:"assigned_to"`
	AssignedBy  *int64    `json:"assigned_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Health and public config
type HealthResponse struct {
	Status   string `json:"status"`
	Realtime string `json:"realtime"`
}

type PublicConfigResponse struct {
	WebSocketPath string `json:"websocket_path"`
	SharedBroker  bool   `json:"shared_broker"`
}

// Error response
type ErrorResponse struct {
	Error string `json:"error"`
}
