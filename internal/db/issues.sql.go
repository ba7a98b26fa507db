package db

import (
	"context"
	"database/sql"
)

const issueColumns = `id, project_id, name, description, story_point, status, type, priority, assigned_to, assigned_by, created_at, updated_at`

func scanIssue(row interface{ Scan(...interface{}) error }) (Issue, error) {
	var i Issue
	err := row.Scan(
		&i.ID,
		&i.ProjectID,
		&i.Name,
		&i.Description,
		&i.StoryPoint,
		&i.Status,
		&i.Type,
		&i.Priority,
		&i.AssignedTo,
		&i.AssignedBy,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const createIssue = `-- name: CreateIssue :one
INSERT INTO issues (project_id, name, description, story_point, status, type, priority, assigned_to, assigned_by, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING ` + issueColumns

type CreateIssueParams struct {
	ProjectID   int64
	Name        string
	Description sql.NullString
	StoryPoint  int64
	Status      string
	Type        string
	Priority    string
	AssignedTo  sql.NullInt64
	AssignedBy  sql.NullInt64
}

func (q *Queries) CreateIssue(ctx context.Context, arg CreateIssueParams) (Issue, error) {
	ts := now()
	row := q.db.QueryRowContext(ctx, createIssue,
		arg.ProjectID,
		arg.Name,
		arg.Description,
		arg.StoryPoint,
		arg.Status,
		arg.Type,
		arg.Priority,
		arg.AssignedTo,
		arg.AssignedBy,
		ts,
		ts,
	)
	return scanIssue(row)
}

const getIssue = `-- name: GetIssue :one
SELECT ` + issueColumns + ` FROM issues WHERE id = ? AND project_id = ?`

type GetIssueParams struct {
	ID        int64
	ProjectID int64
}

func (q *Queries) GetIssue(ctx context.Context, arg GetIssueParams) (Issue, error) {
	return scanIssue(q.db.QueryRowContext(ctx, getIssue, arg.ID, arg.ProjectID))
}

const listIssuesByProject = `-- name: ListIssuesByProject :many
SELECT ` + issueColumns + ` FROM issues WHERE project_id = ? ORDER BY id`

func (q *Queries) ListIssuesByProject(ctx context.Context, projectID int64) ([]Issue, error) {
	rows, err := q.db.QueryContext(ctx, listIssuesByProject, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Issue
	for rows.Next() {
		i, err := scanIssue(rows)
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

const patchIssue = `-- name: PatchIssue :one
UPDATE issues
SET name        = COALESCE(?1, name),
    description = COALESCE(?2, description),
    story_point = COALESCE(?3, story_point),
    status      = COALESCE(?4, status),
    type        = COALESCE(?5, type),
    priority    = COALESCE(?6, priority),
    assigned_by = CASE WHEN ?7 IS NOT NULL AND assigned_to IS NOT ?7 THEN ?8 ELSE assigned_by END,
    assigned_to = COALESCE(?7, assigned_to),
    updated_at  = ?9
WHERE id = ?10 AND project_id = ?11
RETURNING ` + issueColumns

// PatchIssueParams holds the fields to change. Invalid (null) fields keep the
// stored value. AssignedBy is recorded only when AssignedTo differs from the
// stored assignee.
type PatchIssueParams struct {
	ID          int64
	ProjectID   int64
	Name        sql.NullString
	Description sql.NullString
	StoryPoint  sql.NullInt64
	Status      sql.NullString
	Type        sql.NullString
	Priority    sql.NullString
	AssignedTo  sql.NullInt64
	AssignedBy  sql.NullInt64
}

// PatchIssue merges arg into the stored row in one statement, so concurrent
// patches of different fields do not overwrite each other.
func (q *Queries) PatchIssue(ctx context.Context, arg PatchIssueParams) (Issue, error) {
	row := q.db.QueryRowContext(ctx, patchIssue,
		arg.Name,
		arg.Description,
		arg.StoryPoint,
		arg.Status,
		arg.Type,
		arg.Priority,
		arg.AssignedTo,
		arg.AssignedBy,
		now(),
		arg.ID,
		arg.ProjectID,
	)
	return scanIssue(row)
}

const deleteIssue = `-- name: DeleteIssue :execresult
DELETE FROM issues WHERE id = ? AND project_id = ?`

type DeleteIssueParams struct {
	ID        int64
	ProjectID int64
}

func (q *Queries) DeleteIssue(ctx context.Context, arg DeleteIssueParams) (sql.Result, error) {
	return q.db.ExecContext(ctx, deleteIssue, arg.ID, arg.ProjectID)
}
