package db

import (
	"context"
	"database/sql"
)

const (
	projectColumns   = `p.id, p.name, p.description, p.status, p.created_by, p.created_at, p.updated_at`
	projectReturning = `id, name, description, status, created_by, created_at, updated_at`
)

func scanProject(row interface{ Scan(...interface{}) error }) (Project, error) {
	var i Project
	err := row.Scan(
		&i.ID,
		&i.Name,
		&i.Description,
		&i.Status,
		&i.CreatedBy,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

func (q *Queries) listProjects(ctx context.Context, query string, args ...interface{}) ([]Project, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Project
	for rows.Next() {
		i, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const createProject = `-- name: CreateProject :one
INSERT INTO projects (name, description, status, created_by, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
RETURNING ` + projectReturning

type CreateProjectParams struct {
	Name        string
	Description sql.NullString
	Status      string
	CreatedBy   sql.NullInt64
}

func (q *Queries) CreateProject(ctx context.Context, arg CreateProjectParams) (Project, error) {
	if arg.Status == "" {
		arg.Status = "inactive"
	}
	ts := now()
	row := q.db.QueryRowContext(ctx, createProject,
		arg.Name,
		arg.Description,
		arg.Status,
		arg.CreatedBy,
		ts,
		ts,
	)
	return scanProject(row)
}

const getProjectByID = `-- name: GetProjectByID :one
SELECT ` + projectColumns + ` FROM projects p WHERE p.id = ?`

func (q *Queries) GetProjectByID(ctx context.Context, id int64) (Project, error) {
	return scanProject(q.db.QueryRowContext(ctx, getProjectByID, id))
}

const listProjects = `-- name: ListProjects :many
SELECT ` + projectColumns + ` FROM projects p ORDER BY p.id`

func (q *Queries) ListProjects(ctx context.Context) ([]Project, error) {
	return q.listProjects(ctx, listProjects)
}

const listProjectsForUser = `-- name: ListProjectsForUser :many
SELECT ` + projectColumns + `
FROM projects p
JOIN project_members m ON m.project_id = p.id
WHERE m.user_id = ?
ORDER BY p.id`

func (q *Queries) ListProjectsForUser(ctx context.Context, userID int64) ([]Project, error) {
	return q.listProjects(ctx, listProjectsForUser, userID)
}

const addProjectMember = `-- name: AddProjectMember :exec
INSERT INTO project_members (project_id, user_id, created_at)
VALUES (?, ?, ?)
ON CONFLICT (project_id, user_id) DO NOTHING`

type AddProjectMemberParams struct {
	ProjectID int64
	UserID    int64
}

func (q *Queries) AddProjectMember(ctx context.Context, arg AddProjectMemberParams) error {
	_, err := q.db.ExecContext(ctx, addProjectMember, arg.ProjectID, arg.UserID, now())
	return err
}

const isProjectMember = `-- name: IsProjectMember :one
SELECT EXISTS (
    SELECT 1 FROM project_members WHERE project_id = ? AND user_id = ?
)`

type IsProjectMemberParams struct {
	ProjectID int64
	UserID    int64
}

func (q *Queries) IsProjectMember(ctx context.Context, arg IsProjectMemberParams) (bool, error) {
	var exists bool
	err := q.db.QueryRowContext(ctx, isProjectMember, arg.ProjectID, arg.UserID).Scan(&exists)
	return exists, err
}
