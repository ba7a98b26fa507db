package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zyro/backend/internal/db"
	"github.com/zyro/backend/internal/middleware"
	"github.com/zyro/backend/internal/models"
)

var (
	issueStatuses = map[string]bool{
		"todo": true, "in_progress": true, "completed": true, "cancelled": true,
		"hold": true, "qa": true, "blocked": true,
	}
	issueTypes = map[string]bool{
		"story": true, "task": true, "bug": true, "epic": true, "subtask": true,
		"feature": true, "release": true, "documentation": true, "other": true,
	}
	issuePriorities = map[string]bool{
		"low": true, "moderate": true, "high": true, "critical": true,
	}
)

// IssueStore is the subset of queries the issue endpoints need.
type IssueStore interface {
	ProjectAccess
	CreateIssue(ctx context.Context, arg db.CreateIssueParams) (db.Issue, error)
	GetIssue(ctx context.Context, arg db.GetIssueParams) (db.Issue, error)
	ListIssuesByProject(ctx context.Context, projectID int64) ([]db.Issue, error)
	PatchIssue(ctx context.Context, arg db.PatchIssueParams) (db.Issue, error)
	DeleteIssue(ctx context.Context, arg db.DeleteIssueParams) (sql.Result, error)
}

// EventPublisher announces committed issue changes to realtime subscribers.
// Calls must not block and never fail the request.
type EventPublisher interface {
	PublishCreated(ctx context.Context, projectID int64, issue any)
	PublishUpdated(ctx context.Context, projectID int64, issue any)
	PublishDeleted(ctx context.Context, projectID, issueID int64)
}

// IssueHandler serves issue CRUD within a project and publishes every change.
type IssueHandler struct {
	store     IssueStore
	publisher EventPublisher
}

func NewIssueHandler(store IssueStore, publisher EventPublisher) *IssueHandler {
	return &IssueHandler{store: store, publisher: publisher}
}

func validateIssueFields(status, typ, priority string, storyPoint int64) string {
	switch {
	case !issueStatuses[status]:
		return "invalid issue status"
	case !issueTypes[typ]:
		return "invalid issue type"
	case !issuePriorities[priority]:
		return "invalid issue priority"
	case storyPoint < 0:
		return "story_point must not be negative"
	}
	return ""
}

func issueIDParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "issueID"), 10, 64)
}

// List returns the project's issues.
func (h *IssueHandler) List(w http.ResponseWriter, r *http.Request) {
	project, ok := authorizeProject(w, r, h.store)
	if !ok {
		return
	}

	issues, err := h.store.ListIssuesByProject(r.Context(), project.ID)
	if err != nil {
		writeErrorWithCause(r.Context(), w, http.StatusInternalServerError, "failed to fetch issues", err)
		return
	}

	resp := make([]models.IssueResponse, len(issues))
	for i, issue := range issues {
		resp[i] = toIssueResponse(issue)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Create adds an issue and publishes issue_created.
func (h *IssueHandler) Create(w http.ResponseWriter, r *http.Request) {
	project, ok := authorizeProject(w, r, h.store)
	if !ok {
		return
	}
	user, _ := middleware.GetUser(r.Context())

	var req models.CreateIssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.Status == "" {
		req.Status = "todo"
	}
	if req.Type == "" {
		req.Type = "other"
	}
	if req.Priority == "" {
		req.Priority = "moderate"
	}
	if msg := validateIssueFields(req.Status, req.Type, req.Priority, req.StoryPoint); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	params := db.CreateIssueParams{
		ProjectID:   project.ID,
		Name:        req.Name,
		Description: nullString(req.Description),
		StoryPoint:  req.StoryPoint,
		Status:      req.Status,
		Type:        req.Type,
		Priority:    req.Priority,
		AssignedTo:  nullInt64(req.AssignedTo),
	}
	if req.AssignedTo != nil {
		params.AssignedBy = sql.NullInt64{Int64: user.ID, Valid: true}
	}

	issue, err := h.store.CreateIssue(r.Context(), params)
	if err != nil {
		writeErrorWithCause(r.Context(), w, http.StatusInternalServerError, "failed to create issue", err)
		return
	}

	resp := toIssueResponse(issue)
	h.publisher.PublishCreated(r.Context(), project.ID, resp)
	writeJSON(w, http.StatusCreated, resp)
}

// Get returns one issue of the project.
func (h *IssueHandler) Get(w http.ResponseWriter, r *http.Request) {
	project, ok := authorizeProject(w, r, h.store)
	if !ok {
		return
	}

	issue, ok := h.loadIssue(w, r, project.ID)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toIssueResponse(issue))
}

// Update applies a partial update and publishes issue_updated. Absent fields
// keep their stored value; the merge happens in a single statement.
func (h *IssueHandler) Update(w http.ResponseWriter, r *http.Request) {
	project, ok := authorizeProject(w, r, h.store)
	if !ok {
		return
	}
	user, _ := middleware.GetUser(r.Context())

	issueID, err := issueIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid issue ID")
		return
	}

	var req models.UpdateIssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	params := db.PatchIssueParams{
		ID:          issueID,
		ProjectID:   project.ID,
		Description: nullString(req.Description),
		StoryPoint:  nullInt64(req.StoryPoint),
		Status:      nullString(req.Status),
		Type:        nullString(req.Type),
		Priority:    nullString(req.Priority),
		AssignedTo:  nullInt64(req.AssignedTo),
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			writeError(w, http.StatusBadRequest, "name must not be empty")
			return
		}
		params.Name = sql.NullString{String: name, Valid: true}
	}
	if msg := validateIssuePatch(req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if req.AssignedTo != nil {
		params.AssignedBy = sql.NullInt64{Int64: user.ID, Valid: true}
	}

	issue, err := h.store.PatchIssue(r.Context(), params)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "issue not found")
		return
	}
	if err != nil {
		writeErrorWithCause(r.Context(), w, http.StatusInternalServerError, "failed to update issue", err)
		return
	}

	resp := toIssueResponse(issue)
	h.publisher.PublishUpdated(r.Context(), project.ID, resp)
	writeJSON(w, http.StatusOK, resp)
}

func validateIssuePatch(req models.UpdateIssueRequest) string {
	switch {
	case req.Status != nil && !issueStatuses[*req.Status]:
		return "invalid issue status"
	case req.Type != nil && !issueTypes[*req.Type]:
		return "invalid issue type"
	case req.Priority != nil && !issuePriorities[*req.Priority]:
		return "invalid issue priority"
	case req.StoryPoint != nil && *req.StoryPoint < 0:
		return "story_point must not be negative"
	}
	return ""
}

// Delete removes an issue and publishes issue_deleted.
func (h *IssueHandler) Delete(w http.ResponseWriter, r *http.Request) {
	project, ok := authorizeProject(w, r, h.store)
	if !ok {
		return
	}

	issueID, err := issueIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid issue ID")
		return
	}

	result, err := h.store.DeleteIssue(r.Context(), db.DeleteIssueParams{ID: issueID, ProjectID: project.ID})
	if err != nil {
		writeErrorWithCause(r.Context(), w, http.StatusInternalServerError, "failed to delete issue", err)
		return
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		writeErrorWithCause(r.Context(), w, http.StatusInternalServerError, "failed to check deletion result", err)
		return
	}
	if rowsAffected == 0 {
		writeError(w, http.StatusNotFound, "issue not found")
		return
	}

	h.publisher.PublishDeleted(r.Context(), project.ID, issueID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *IssueHandler) loadIssue(w http.ResponseWriter, r *http.Request, projectID int64) (db.Issue, bool) {
	issueID, err := issueIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid issue ID")
		return db.Issue{}, false
	}

	issue, err := h.store.GetIssue(r.Context(), db.GetIssueParams{ID: issueID, ProjectID: projectID})
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "issue not found")
		return db.Issue{}, false
	}
	if err != nil {
		writeErrorWithCause(r.Context(), w, http.StatusInternalServerError, "failed to fetch issue", err)
		return db.Issue{}, false
	}
	return issue, true
}
