package db

import (
	"database/sql"
)

type User struct {
	ID           int64
	Name         string
	Email        string
	PasswordHash string
	Role         string
	Status       string
	StoryPoint   int64
	CreatedAt    Timestamp
	UpdatedAt    Timestamp
}

type Project struct {
	ID          int64
	Name        string
	Description sql.NullString
	Status      string
	CreatedBy   sql.NullInt64
	CreatedAt   Timestamp
	UpdatedAt   Timestamp
}

type Issue struct {
	ID          int64
	ProjectID   int64
	Name        string
	Description sql.NullString
	StoryPoint  int64
	Status      string
	Type        string
	Priority    string
	AssignedTo  sql.NullInt64
	AssignedBy  sql.NullInt64
	CreatedAt   Timestamp
	UpdatedAt   Timestamp
}
