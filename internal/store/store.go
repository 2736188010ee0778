package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"scene-studio/internal/models"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrConflict is returned when a user's email already belongs to another user.
var ErrConflict = errors.New("store: email already registered")

// Store persists projects, users, global settings and production records.
// Projects are keyed by (ownerID, projectID); SaveProject is an upsert.
type Store interface {
	SaveProject(ctx context.Context, ownerID string, p models.Project) error
	ListProjects(ctx context.Context, ownerID string) ([]models.Project, error)
	GetProject(ctx context.Context, ownerID, projectID string) (models.Project, error)
	DeleteProject(ctx context.Context, ownerID, projectID string) error

	SaveUser(ctx context.Context, u models.User) error
	GetUser(ctx context.Context, uid string) (models.User, error)
	FindUserByEmail(ctx context.Context, email string) (models.User, error)
	FindUserByAccessKey(ctx context.Context, key string) (models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	AddProductionMinutes(ctx context.Context, uid string, minutes int) error

	GetSettings(ctx context.Context) (models.Settings, error)
	SaveSettings(ctx context.Context, s models.Settings) error

	CreateProduction(ctx context.Context, p models.Production) error
	GetProduction(ctx context.Context, id string) (models.Production, error)
	UpdateProduction(ctx context.Context, p models.Production) error

	Close()
}

// Open returns the backend named by backend. Postgres connections run the embedded migrations first.
func Open(ctx context.Context, backend, dsn string) (Store, error) {
	switch strings.ToLower(backend) {
	case "memory":
		return NewMemory(), nil
	case "", "postgres":
		pg, err := New(ctx, dsn)
		if err != nil {
			return nil, err
		}
		if err := pg.RunMigrations(ctx); err != nil {
			pg.Close()
			return nil, fmt.Errorf("migrations: %w", err)
		}
		return pg, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}
