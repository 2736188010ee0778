package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"scene-studio/internal/models"
)

// Postgres wraps pgxpool for Postgres persistence.
type Postgres struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (s *Postgres) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// SaveProject inserts or replaces the project stored under (ownerID, project.ID).
func (s *Postgres) SaveProject(ctx context.Context, ownerID string, p models.Project) error {
	itemsJSON, err := json.Marshal(p.Items)
	if err != nil {
		return fmt.Errorf("marshal items: %w", err)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO projects (owner_id, id, title, mode, aspect_ratio, style_id, voice_id, cover_ref, default_transition, total_duration_seconds, items, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (owner_id, id) DO UPDATE SET
			title = EXCLUDED.title,
			mode = EXCLUDED.mode,
			aspect_ratio = EXCLUDED.aspect_ratio,
			style_id = EXCLUDED.style_id,
			voice_id = EXCLUDED.voice_id,
			cover_ref = EXCLUDED.cover_ref,
			default_transition = EXCLUDED.default_transition,
			total_duration_seconds = EXCLUDED.total_duration_seconds,
			items = EXCLUDED.items,
			created_at = EXCLUDED.created_at
	`, ownerID, p.ID, p.Title, p.Mode, p.AspectRatio, p.StyleID, emptyToNil(p.VoiceID), emptyToNil(p.CoverRef),
		p.DefaultTransition, p.TotalDurationSeconds, itemsJSON, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert project: %w", err)
	}
	return nil
}

const projectColumns = `owner_id, id, title, mode, aspect_ratio, style_id, voice_id, cover_ref, default_transition, total_duration_seconds, items, created_at`

// ListProjects returns the owner's projects, newest first.
func (s *Postgres) ListProjects(ctx context.Context, ownerID string) ([]models.Project, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+projectColumns+` FROM projects WHERE owner_id = $1 ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query projects: %w", err)
	}
	defer rows.Close()

	var out []models.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Postgres) GetProject(ctx context.Context, ownerID, projectID string) (models.Project, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE owner_id = $1 AND id = $2`, ownerID, projectID)
	p, err := scanProject(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Project{}, ErrNotFound
	}
	return p, err
}

func (s *Postgres) DeleteProject(ctx context.Context, ownerID, projectID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM projects WHERE owner_id = $1 AND id = $2`, ownerID, projectID)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return nil
}

func scanProject(row pgx.Row) (models.Project, error) {
	var p models.Project
	var voice, cover pgtype.Text
	var itemsJSON []byte
	if err := row.Scan(&p.OwnerID, &p.ID, &p.Title, &p.Mode, &p.AspectRatio, &p.StyleID, &voice, &cover,
		&p.DefaultTransition, &p.TotalDurationSeconds, &itemsJSON, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Project{}, err
		}
		return models.Project{}, fmt.Errorf("scan project: %w", err)
	}
	if err := json.Unmarshal(itemsJSON, &p.Items); err != nil {
		return models.Project{}, fmt.Errorf("unmarshal items: %w", err)
	}
	p.VoiceID = voice.String
	p.CoverRef = cover.String
	return p, nil
}

func (s *Postgres) SaveUser(ctx context.Context, u models.User) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (uid, name, email, role, status, access_key_id, total_production_minutes, joined_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (uid) DO UPDATE SET
			name = EXCLUDED.name,
			role = EXCLUDED.role,
			status = EXCLUDED.status,
			access_key_id = EXCLUDED.access_key_id,
			total_production_minutes = EXCLUDED.total_production_minutes
	`, u.UID, u.Name, u.Email, u.Role, u.Status, u.AccessKeyID, u.TotalProductionMinutes, u.JoinedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("upsert user %s: %w", u.UID, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// uniqueViolation is the Postgres SQLSTATE for a unique constraint failure.
const uniqueViolation = "23505"

const userColumns = `uid, name, email, role, status, access_key_id, total_production_minutes, joined_at`

func (s *Postgres) GetUser(ctx context.Context, uid string) (models.User, error) {
	return s.findUser(ctx, `SELECT `+userColumns+` FROM users WHERE uid = $1`, uid)
}

func (s *Postgres) FindUserByEmail(ctx context.Context, email string) (models.User, error) {
	return s.findUser(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

func (s *Postgres) FindUserByAccessKey(ctx context.Context, key string) (models.User, error) {
	return s.findUser(ctx, `SELECT `+userColumns+` FROM users WHERE access_key_id = $1 ORDER BY joined_at LIMIT 1`, key)
}

func (s *Postgres) findUser(ctx context.Context, query string, arg string) (models.User, error) {
	var u models.User
	err := s.pool.QueryRow(ctx, query, arg).Scan(&u.UID, &u.Name, &u.Email, &u.Role, &u.Status, &u.AccessKeyID, &u.TotalProductionMinutes, &u.JoinedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.User{}, ErrNotFound
	}
	if err != nil {
		return models.User{}, fmt.Errorf("scan user: %w", err)
	}
	return u, nil
}

func (s *Postgres) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY joined_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()
	var out []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.UID, &u.Name, &u.Email, &u.Role, &u.Status, &u.AccessKeyID, &u.TotalProductionMinutes, &u.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// AddProductionMinutes accrues finished production time on the user record.
func (s *Postgres) AddProductionMinutes(ctx context.Context, uid string, minutes int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET total_production_minutes = total_production_minutes + $2 WHERE uid = $1
	`, uid, minutes)
	if err != nil {
		return fmt.Errorf("update user minutes: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) GetSettings(ctx context.Context) (models.Settings, error) {
	var st models.Settings
	err := s.pool.QueryRow(ctx, `SELECT app_name, accent_color FROM settings WHERE id = 1`).Scan(&st.AppName, &st.AccentColor)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.DefaultSettings(), nil
	}
	if err != nil {
		return models.Settings{}, fmt.Errorf("query settings: %w", err)
	}
	return st, nil
}

func (s *Postgres) SaveSettings(ctx context.Context, st models.Settings) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO settings (id, app_name, accent_color) VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET app_name = EXCLUDED.app_name, accent_color = EXCLUDED.accent_color
	`, st.AppName, st.AccentColor)
	if err != nil {
		return fmt.Errorf("upsert settings: %w", err)
	}
	return nil
}

func (s *Postgres) CreateProduction(ctx context.Context, p models.Production) error {
	reqJSON, err := json.Marshal(p.Request)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO productions (id, owner_id, access_key, request, status, completed_count, total_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, 0, $6, $6)
	`, p.ID, p.OwnerID, p.AccessKey, reqJSON, p.Status, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert production: %w", err)
	}
	return nil
}

func (s *Postgres) GetProduction(ctx context.Context, id string) (models.Production, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, owner_id, access_key, request, status, completed_count, total_count, project_id, last_error, created_at, updated_at
		FROM productions WHERE id = $1
	`, id)

	var p models.Production
	var reqJSON []byte
	var projectID, lastErr pgtype.Text
	if err := row.Scan(&p.ID, &p.OwnerID, &p.AccessKey, &reqJSON, &p.Status, &p.CompletedCount, &p.TotalCount,
		&projectID, &lastErr, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Production{}, ErrNotFound
		}
		return models.Production{}, fmt.Errorf("scan production: %w", err)
	}
	if err := json.Unmarshal(reqJSON, &p.Request); err != nil {
		return models.Production{}, fmt.Errorf("unmarshal request: %w", err)
	}
	p.ProjectID = projectID.String
	p.Error = lastErr.String
	return p, nil
}

// UpdateProduction writes status, progress counters, project link and error.
func (s *Postgres) UpdateProduction(ctx context.Context, p models.Production) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE productions
		SET status = $2, completed_count = $3, total_count = $4, project_id = $5, last_error = $6, updated_at = NOW()
		WHERE id = $1
	`, p.ID, p.Status, p.CompletedCount, p.TotalCount, emptyToNil(p.ProjectID), emptyToNil(p.Error))
	if err != nil {
		return fmt.Errorf("update production: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func emptyToNil(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
