package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"scene-studio/internal/models"
)

func TestSaveProjectTwiceKeepsOneRecord(t *testing.T) {
	ctx := context.Background()
	st := NewMemory()
	p := models.Project{ID: "p1", Title: "first", CreatedAt: time.Now()}

	if err := st.SaveProject(ctx, "u1", p); err != nil {
		t.Fatalf("save: %v", err)
	}
	p.Title = "second"
	if err := st.SaveProject(ctx, "u1", p); err != nil {
		t.Fatalf("save again: %v", err)
	}

	list, _ := st.ListProjects(ctx, "u1")
	if len(list) != 1 {
		t.Fatalf("expected 1 project, got %d", len(list))
	}
	if list[0].Title != "second" {
		t.Fatalf("expected latest write, got %q", list[0].Title)
	}
}

func TestListProjectsScopedAndSorted(t *testing.T) {
	ctx := context.Background()
	st := NewMemory()
	now := time.Now()
	_ = st.SaveProject(ctx, "u1", models.Project{ID: "old", CreatedAt: now.Add(-time.Hour)})
	_ = st.SaveProject(ctx, "u1", models.Project{ID: "new", CreatedAt: now})
	_ = st.SaveProject(ctx, "u2", models.Project{ID: "other", CreatedAt: now})

	list, _ := st.ListProjects(ctx, "u1")
	if len(list) != 2 || list[0].ID != "new" || list[1].ID != "old" {
		t.Fatalf("unexpected listing %+v", list)
	}

	// Same project id under another owner is a distinct record.
	_ = st.SaveProject(ctx, "u2", models.Project{ID: "new", CreatedAt: now})
	if err := st.DeleteProject(ctx, "u2", "new"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := st.GetProject(ctx, "u1", "new"); err != nil {
		t.Fatalf("owner u1 project should survive: %v", err)
	}
	if _, err := st.GetProject(ctx, "u2", "new"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestProductionLifecycle(t *testing.T) {
	ctx := context.Background()
	st := NewMemory()
	p := models.Production{ID: "job", OwnerID: "u1", Status: models.ProductionQueued, CreatedAt: time.Now()}
	if err := st.CreateProduction(ctx, p); err != nil {
		t.Fatalf("create: %v", err)
	}
	p.Status = models.ProductionCompleted
	p.CompletedCount, p.TotalCount, p.ProjectID = 2, 2, "proj"
	if err := st.UpdateProduction(ctx, p); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := st.GetProduction(ctx, "job")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Terminal() || got.ProjectID != "proj" || got.OwnerID != "u1" {
		t.Fatalf("unexpected production %+v", got)
	}
	if err := st.UpdateProduction(ctx, models.Production{ID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAddProductionMinutes(t *testing.T) {
	ctx := context.Background()
	st := NewMemory()
	_ = st.SaveUser(ctx, models.User{UID: "u1", Email: "a@b.c"})
	_ = st.AddProductionMinutes(ctx, "u1", 2)
	_ = st.AddProductionMinutes(ctx, "u1", 3)
	u, _ := st.FindUserByEmail(ctx, "a@b.c")
	if u.TotalProductionMinutes != 5 {
		t.Fatalf("expected 5 minutes, got %d", u.TotalProductionMinutes)
	}
}

func TestSaveUserRejectsTakenEmail(t *testing.T) {
	ctx := context.Background()
	st := NewMemory()
	if err := st.SaveUser(ctx, models.User{UID: "u1", Email: "a@b.c"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := st.SaveUser(ctx, models.User{UID: "u2", Email: "a@b.c"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := st.SaveUser(ctx, models.User{UID: "u1", Email: "a@b.c", Name: "Renamed"}); err != nil {
		t.Fatalf("updating the same user should pass: %v", err)
	}
	users, _ := st.ListUsers(ctx)
	if len(users) != 1 || users[0].Name != "Renamed" {
		t.Fatalf("unexpected users %+v", users)
	}
}
