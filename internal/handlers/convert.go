package handlers

import (
	"database/sql"

	"github.com/zyro/backend/internal/db"
	"github.com/zyro/backend/internal/models"
)

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullInt64(i *int64) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *i, Valid: true}
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}

func int64Ptr(i sql.NullInt64) *int64 {
	if !i.Valid {
		return nil
	}
	return &i.Int64
}

func toUserResponse(u db.User) models.UserResponse {
	return models.UserResponse{
		ID:         u.ID,
		Name:       u.Name,
		Email:      u.Email,
		Role:       u.Role,
		Status:     u.Status,
		StoryPoint: u.StoryPoint,
		CreatedAt:  u.CreatedAt.Time,
	}
}

func toProjectResponse(p db.Project) models.ProjectResponse {
	return models.ProjectResponse{
		ID:          p.ID,
		Name:        p.Name,
		Description: stringPtr(p.Description),
		Status:      p.Status,
		CreatedBy:   int64Ptr(p.CreatedBy),
		CreatedAt:   p.CreatedAt.Time,
		UpdatedAt:   p.UpdatedAt.Time,
	}
}

func toIssueResponse(i db.Issue) models.IssueResponse {
	return models.IssueResponse{
		ID:          i.ID,
		ProjectID:   i.ProjectID,
		Name:        i.Name,
		Description: stringPtr(i.Description),
		StoryPoint:  i.StoryPoint,
		Status:      i.Status,
		Type:        i.Type,
		Priority:    i.Priority,
		AssignedTo:  int64Ptr(i.AssignedTo),
		AssignedBy:  int64Ptr(i.AssignedBy),
		CreatedAt:   i.CreatedAt.Time,
		UpdatedAt:   i.UpdatedAt.Time,
	}
}
