package db_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	"github.com/zyro/backend/internal/database"
	"github.com/zyro/backend/internal/db"
)

func newQueries(t *testing.T) *db.Queries {
	t.Helper()
	sqlDB, err := database.New(database.MemoryPath)
	if err != nil {
		t.Fatalf("database.New() error = %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	if err := database.RunMigrations(sqlDB); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}
	return db.New(sqlDB)
}

func createUser(t *testing.T, q *db.Queries, email, role string) db.User {
	t.Helper()
	user, err := q.CreateUser(context.Background(), db.CreateUserParams{
		Name:         "User " + email,
		Email:        email,
		PasswordHash: "hash",
		Role:         role,
	})
	if err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	return user
}

func TestUsers(t *testing.T) {
	q := newQueries(t)
	ctx := context.Background()

	user := createUser(t, q, "dev@example.com", "employee")
	if user.ID == 0 || user.Status != "active" {
		t.Fatalf("CreateUser() = %+v", user)
	}
	if user.CreatedAt.Time.IsZero() {
		t.Error("CreatedAt not set")
	}

	byID, err := q.GetUserByID(ctx, user.ID)
	if err != nil || byID.Email != "dev@example.com" {
		t.Errorf("GetUserByID() = %+v, %v", byID, err)
	}

	byEmail, err := q.GetUserByEmail(ctx, "DEV@example.com")
	if err != nil || byEmail.ID != user.ID {
		t.Errorf("GetUserByEmail() = %+v, %v", byEmail, err)
	}

	if _, err := q.GetUserByID(ctx, 999); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("GetUserByID(999) error = %v, want sql.ErrNoRows", err)
	}

	count, err := q.CountUsers(ctx)
	if err != nil || count != 1 {
		t.Errorf("CountUsers() = %d, %v", count, err)
	}
}

func TestCreateUser_RejectsUnknownRole(t *testing.T) {
	q := newQueries(t)
	_, err := q.CreateUser(context.Background(), db.CreateUserParams{
		Name: "x", Email: "x@example.com", PasswordHash: "h", Role: "guest",
	})
	if err == nil {
		t.Fatal("expected role check constraint to fail")
	}
}

func TestProjectsAndMembership(t *testing.T) {
	q := newQueries(t)
	ctx := context.Background()

	owner := createUser(t, q, "owner@example.com", "manager")
	member := createUser(t, q, "member@example.com", "employee")

	project, err := q.CreateProject(ctx, db.CreateProjectParams{
		Name:        "Apollo",
		Description: sql.NullString{String: "moon", Valid: true},
		CreatedBy:   sql.NullInt64{Int64: owner.ID, Valid: true},
	})
	if err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}
	if project.Status != "inactive" {
		t.Errorf("Status = %q, want inactive", project.Status)
	}

	other, _ := q.CreateProject(ctx, db.CreateProjectParams{Name: "Gemini"})

	if err := q.AddProjectMember(ctx, db.AddProjectMemberParams{ProjectID: project.ID, UserID: member.ID}); err != nil {
		t.Fatalf("AddProjectMember() error = %v", err)
	}
	// Adding twice is a no-op.
	if err := q.AddProjectMember(ctx, db.AddProjectMemberParams{ProjectID: project.ID, UserID: member.ID}); err != nil {
		t.Fatalf("AddProjectMember() second call error = %v", err)
	}

	ok, err := q.IsProjectMember(ctx, db.IsProjectMemberParams{ProjectID: project.ID, UserID: member.ID})
	if err != nil || !ok {
		t.Errorf("IsProjectMember() = %v, %v, want true", ok, err)
	}
	ok, _ = q.IsProjectMember(ctx, db.IsProjectMemberParams{ProjectID: other.ID, UserID: member.ID})
	if ok {
		t.Error("IsProjectMember() = true for a project the user is not in")
	}

	mine, err := q.ListProjectsForUser(ctx, member.ID)
	if err != nil || len(mine) != 1 || mine[0].ID != project.ID {
		t.Errorf("ListProjectsForUser() = %+v, %v", mine, err)
	}

	all, err := q.ListProjects(ctx)
	if err != nil || len(all) != 2 {
		t.Errorf("ListProjects() = %d projects, %v", len(all), err)
	}

	got, err := q.GetProjectByID(ctx, project.ID)
	if err != nil || got.Description.String != "moon" || got.CreatedBy.Int64 != owner.ID {
		t.Errorf("GetProjectByID() = %+v, %v", got, err)
	}
}

func TestIssueLifecycle(t *testing.T) {
	q := newQueries(t)
	ctx := context.Background()

	project, _ := q.CreateProject(ctx, db.CreateProjectParams{Name: "Apollo"})
	other, _ := q.CreateProject(ctx, db.CreateProjectParams{Name: "Gemini"})

	issue, err := q.CreateIssue(ctx, db.CreateIssueParams{
		ProjectID:  project.ID,
		Name:       "Fix login",
		StoryPoint: 3,
		Status:     "todo",
		Type:       "bug",
		Priority:   "high",
	})
	if err != nil {
		t.Fatalf("CreateIssue() error = %v", err)
	}

	if _, err := q.GetIssue(ctx, db.GetIssueParams{ID: issue.ID, ProjectID: other.ID}); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("GetIssue() from another project error = %v, want sql.ErrNoRows", err)
	}

	updated, err := q.PatchIssue(ctx, db.PatchIssueParams{
		ID:         issue.ID,
		ProjectID:  project.ID,
		StoryPoint: sql.NullInt64{Int64: 5, Valid: true},
		Status:     sql.NullString{String: "qa", Valid: true},
	})
	if err != nil {
		t.Fatalf("PatchIssue() error = %v", err)
	}
	if updated.Status != "qa" || updated.StoryPoint != 5 || updated.Name != "Fix login" || updated.Priority != "high" {
		t.Errorf("PatchIssue() = %+v", updated)
	}

	if _, err := q.PatchIssue(ctx, db.PatchIssueParams{
		ID: 999, ProjectID: project.ID, Status: sql.NullString{String: "todo", Valid: true},
	}); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("PatchIssue(999) error = %v, want sql.ErrNoRows", err)
	}
	if _, err := q.PatchIssue(ctx, db.PatchIssueParams{ID: issue.ID, ProjectID: other.ID}); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("PatchIssue() in another project error = %v, want sql.ErrNoRows", err)
	}

	issues, err := q.ListIssuesByProject(ctx, project.ID)
	if err != nil || len(issues) != 1 {
		t.Fatalf("ListIssuesByProject() = %d issues, %v", len(issues), err)
	}

	res, err := q.DeleteIssue(ctx, db.DeleteIssueParams{ID: issue.ID, ProjectID: project.ID})
	if err != nil {
		t.Fatalf("DeleteIssue() error = %v", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		t.Errorf("RowsAffected = %d, want 1", n)
	}

	res, _ = q.DeleteIssue(ctx, db.DeleteIssueParams{ID: issue.ID, ProjectID: project.ID})
	if n, _ := res.RowsAffected(); n != 0 {
		t.Errorf("second delete RowsAffected = %d, want 0", n)
	}
}

func TestCreateIssue_RejectsUnknownStatus(t *testing.T) {
	q := newQueries(t)
	ctx := context.Background()
	project, _ := q.CreateProject(ctx, db.CreateProjectParams{Name: "Apollo"})

	_, err := q.CreateIssue(ctx, db.CreateIssueParams{
		ProjectID: project.ID, Name: "x", Status: "done", Type: "task", Priority: "low",
	})
	if err == nil {
		t.Fatal("expected status check constraint to fail")
	}
}

func TestPatchIssueRecordsAssignerOnlyOnChange(t *testing.T) {
	q := newQueries(t)
	ctx := context.Background()
	dev := createUser(t, q, "dev@zyro.local", "employee")
	lead := createUser(t, q, "lead@zyro.local", "manager")
	boss := createUser(t, q, "boss@zyro.local", "admin")

	project, _ := q.CreateProject(ctx, db.CreateProjectParams{Name: "Apollo"})
	issue, _ := q.CreateIssue(ctx, db.CreateIssueParams{
		ProjectID: project.ID, Name: "Fix login", Status: "todo", Type: "bug", Priority: "high",
	})

	assign := func(to, by int64) db.Issue {
		t.Helper()
		got, err := q.PatchIssue(ctx, db.PatchIssueParams{
			ID:         issue.ID,
			ProjectID:  project.ID,
			AssignedTo: sql.NullInt64{Int64: to, Valid: true},
			AssignedBy: sql.NullInt64{Int64: by, Valid: true},
		})
		if err != nil {
			t.Fatalf("PatchIssue() error = %v", err)
		}
		return got
	}

	if got := assign(dev.ID, lead.ID); got.AssignedTo.Int64 != dev.ID || got.AssignedBy.Int64 != lead.ID {
		t.Errorf("first assignment = to %v by %v", got.AssignedTo, got.AssignedBy)
	}
	// Same assignee: the original assigner is kept.
	if got := assign(dev.ID, boss.ID); got.AssignedBy.Int64 != lead.ID {
		t.Errorf("AssignedBy = %v, want %d", got.AssignedBy, lead.ID)
	}
	if got := assign(lead.ID, boss.ID); got.AssignedTo.Int64 != lead.ID || got.AssignedBy.Int64 != boss.ID {
		t.Errorf("reassignment = to %v by %v", got.AssignedTo, got.AssignedBy)
	}
}

func TestConcurrentPatchesKeepEachField(t *testing.T) {
	q := newQueries(t)
	ctx := context.Background()

	project, _ := q.CreateProject(ctx, db.CreateProjectParams{Name: "Apollo"})
	issue, _ := q.CreateIssue(ctx, db.CreateIssueParams{
		ProjectID: project.ID, Name: "Fix login", Status: "todo", Type: "bug", Priority: "low",
	})

	patches := []db.PatchIssueParams{
		{Status: sql.NullString{String: "in_progress", Valid: true}},
		{Priority: sql.NullString{String: "critical", Valid: true}},
		{StoryPoint: sql.NullInt64{Int64: 8, Valid: true}},
		{Name: sql.NullString{String: "Fix login redirect", Valid: true}},
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(patches))
	for _, p := range patches {
		p.ID, p.ProjectID = issue.ID, project.ID
		wg.Add(1)
		go func(p db.PatchIssueParams) {
			defer wg.Done()
			if _, err := q.PatchIssue(ctx, p); err != nil {
				errs <- err
			}
		}(p)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("PatchIssue() error = %v", err)
	}

	got, err := q.GetIssue(ctx, db.GetIssueParams{ID: issue.ID, ProjectID: project.ID})
	if err != nil {
		t.Fatalf("GetIssue() error = %v", err)
	}
	if got.Status != "in_progress" || got.Priority != "critical" || got.StoryPoint != 8 || got.Name != "Fix login redirect" {
		t.Errorf("issue after concurrent patches = %+v", got)
	}
}
