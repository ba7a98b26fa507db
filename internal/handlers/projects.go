package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zyro/backend/internal/db"
	"github.com/zyro/backend/internal/logging"
	"github.com/zyro/backend/internal/middleware"
	"github.com/zyro/backend/internal/models"
	"github.com/zyro/backend/internal/services"
)

var projectStatuses = map[string]bool{
	"active": true, "inactive": true, "upcoming": true, "delayed": true, "completed": true,
}

// ProjectAccess is what handlers need to authorize project-scoped routes.
type ProjectAccess interface {
	GetProjectByID(ctx context.Context, id int64) (db.Project, error)
	IsProjectMember(ctx context.Context, arg db.IsProjectMemberParams) (bool, error)
}

// ProjectStore is the subset of queries the project endpoints need.
type ProjectStore interface {
	ProjectAccess
	ListProjects(ctx context.Context) ([]db.Project, error)
	ListProjectsForUser(ctx context.Context, userID int64) ([]db.Project, error)
	CreateProject(ctx context.Context, arg db.CreateProjectParams) (db.Project, error)
	AddProjectMember(ctx context.Context, arg db.AddProjectMemberParams) error
}

// ProjectHandler serves project listing, creation and lookup.
type ProjectHandler struct {
	store ProjectStore
}

func NewProjectHandler(store ProjectStore) *ProjectHandler {
	return &ProjectHandler{store: store}
}

// List returns every project for admins and the member projects for everyone else.
func (h *ProjectHandler) List(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.GetUser(r.Context())

	var (
		projects []db.Project
		err      error
	)
	if services.Role(user.Role) == services.RoleAdmin {
		projects, err = h.store.ListProjects(r.Context())
	} else {
		projects, err = h.store.ListProjectsForUser(r.Context(), user.ID)
	}
	if err != nil {
		writeErrorWithCause(r.Context(), w, http.StatusInternalServerError, "failed to fetch projects", err)
		return
	}

	resp := make([]models.ProjectResponse, len(projects))
	for i, p := range projects {
		resp[i] = toProjectResponse(p)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Create adds a project with the caller and any listed users as members.
func (h *ProjectHandler) Create(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.GetUser(r.Context())

	var req models.CreateProjectRequest
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
		req.Status = "inactive"
	}
	if !projectStatuses[req.Status] {
		writeError(w, http.StatusBadRequest, "invalid project status")
		return
	}

	project, err := h.store.CreateProject(r.Context(), db.CreateProjectParams{
		Name:        req.Name,
		Description: nullString(req.Description),
		Status:      req.Status,
		CreatedBy:   sql.NullInt64{Int64: user.ID, Valid: true},
	})
	if err != nil {
		writeErrorWithCause(r.Context(), w, http.StatusInternalServerError, "failed to create project", err)
		return
	}

	members := append([]int64{user.ID}, req.MemberIDs...)
	for _, id := range members {
		if err := h.store.AddProjectMember(r.Context(), db.AddProjectMemberParams{ProjectID: project.ID, UserID: id}); err != nil {
			// Unknown users are skipped; the project itself exists.
			slog.Warn("failed to add project member",
				append(logging.RequestFields(r.Context()),
					slog.Int64("project_id", project.ID),
					slog.Int64("member_id", id),
					slog.Any("error", err))...)
		}
	}

	writeJSON(w, http.StatusCreated, toProjectResponse(project))
}

// Get returns a single project the caller can access.
func (h *ProjectHandler) Get(w http.ResponseWriter, r *http.Request) {
	project, ok := authorizeProject(w, r, h.store)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toProjectResponse(project))
}

// projectIDParam parses the {projectID} URL parameter.
func projectIDParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "projectID"), 10, 64)
}

// authorizeProject loads the project named in the URL and checks that the
// authenticated user is a member or an admin. On failure it has already
// written the response.
func authorizeProject(w http.ResponseWriter, r *http.Request, store ProjectAccess) (db.Project, bool) {
	projectID, err := projectIDParam(r)
	if err != nil || projectID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid project ID")
		return db.Project{}, false
	}

	project, err := store.GetProjectByID(r.Context(), projectID)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "project not found")
		return db.Project{}, false
	}
	if err != nil {
		writeErrorWithCause(r.Context(), w, http.StatusInternalServerError, "failed to fetch project", err)
		return db.Project{}, false
	}

	user, ok := middleware.GetUser(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return db.Project{}, false
	}
	if services.Role(user.Role) == services.RoleAdmin {
		return project, true
	}

	member, err := store.IsProjectMember(r.Context(), db.IsProjectMemberParams{ProjectID: projectID, UserID: user.ID})
	if err != nil {
		writeErrorWithCause(r.Context(), w, http.StatusInternalServerError, "failed to check membership", err)
		return db.Project{}, false
	}
	if !member {
		logging.LogSecurityEvent(r.Context(), logging.SecurityEventProjectForbidden, "access to foreign project")
		writeError(w, http.StatusForbidden, "access denied")
		return db.Project{}, false
	}
	return project, true
}
