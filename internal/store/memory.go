package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"scene-studio/internal/models"
)

type projectKey struct {
	owner string
	id    string
}

// Memory is an in-process Store used by tests and STORE_BACKEND=memory.
type Memory struct {
	mu          sync.RWMutex
	projects    map[projectKey]models.Project
	users       map[string]models.User
	settings    models.Settings
	productions map[string]models.Production
}

func NewMemory() *Memory {
	return &Memory{
		projects:    make(map[projectKey]models.Project),
		users:       make(map[string]models.User),
		settings:    models.DefaultSettings(),
		productions: make(map[string]models.Production),
	}
}

func (m *Memory) Close() {}

func (m *Memory) SaveProject(_ context.Context, ownerID string, p models.Project) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	p.OwnerID = ownerID
	p.Items = append([]models.ProducedItem(nil), p.Items...)
	m.mu.Lock()
	m.projects[projectKey{ownerID, p.ID}] = p
	m.mu.Unlock()
	return nil
}

func (m *Memory) ListProjects(_ context.Context, ownerID string) ([]models.Project, error) {
	m.mu.RLock()
	var out []models.Project
	for k, p := range m.projects {
		if k.owner == ownerID {
			out = append(out, p)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) GetProject(_ context.Context, ownerID, projectID string) (models.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[projectKey{ownerID, projectID}]
	if !ok {
		return models.Project{}, ErrNotFound
	}
	return p, nil
}

func (m *Memory) DeleteProject(_ context.Context, ownerID, projectID string) error {
	m.mu.Lock()
	delete(m.projects, projectKey{ownerID, projectID})
	m.mu.Unlock()
	return nil
}

func (m *Memory) SaveUser(_ context.Context, u models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for uid, other := range m.users {
		if uid != u.UID && u.Email != "" && other.Email == u.Email {
			return fmt.Errorf("save user %s: %w", u.UID, ErrConflict)
		}
	}
	m.users[u.UID] = u
	return nil
}

func (m *Memory) GetUser(_ context.Context, uid string) (models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[uid]
	if !ok {
		return models.User{}, ErrNotFound
	}
	return u, nil
}

func (m *Memory) FindUserByEmail(_ context.Context, email string) (models.User, error) {
	return m.findUser(func(u models.User) bool { return u.Email == email })
}

func (m *Memory) FindUserByAccessKey(_ context.Context, key string) (models.User, error) {
	return m.findUser(func(u models.User) bool { return u.AccessKeyID == key })
}

func (m *Memory) findUser(match func(models.User) bool) (models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if match(u) {
			return u, nil
		}
	}
	return models.User{}, ErrNotFound
}

func (m *Memory) ListUsers(_ context.Context) ([]models.User, error) {
	m.mu.RLock()
	out := make([]models.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.After(out[j].JoinedAt) })
	return out, nil
}

func (m *Memory) AddProductionMinutes(_ context.Context, uid string, minutes int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[uid]
	if !ok {
		return ErrNotFound
	}
	u.TotalProductionMinutes += minutes
	m.users[uid] = u
	return nil
}

func (m *Memory) GetSettings(_ context.Context) (models.Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings, nil
}

func (m *Memory) SaveSettings(_ context.Context, s models.Settings) error {
	m.mu.Lock()
	m.settings = s
	m.mu.Unlock()
	return nil
}

func (m *Memory) CreateProduction(_ context.Context, p models.Production) error {
	m.mu.Lock()
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}
	m.productions[p.ID] = p
	m.mu.Unlock()
	return nil
}

func (m *Memory) GetProduction(_ context.Context, id string) (models.Production, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.productions[id]
	if !ok {
		return models.Production{}, ErrNotFound
	}
	return p, nil
}

func (m *Memory) UpdateProduction(_ context.Context, p models.Production) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.productions[p.ID]
	if !ok {
		return ErrNotFound
	}
	cur.Status = p.Status
	cur.CompletedCount = p.CompletedCount
	cur.TotalCount = p.TotalCount
	cur.ProjectID = p.ProjectID
	cur.Error = p.Error
	cur.UpdatedAt = time.Now().UTC()
	m.productions[p.ID] = cur
	return nil
}
