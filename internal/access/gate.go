package access

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"scene-studio/internal/models"
	"scene-studio/internal/quota"
	"scene-studio/internal/store"
)

var (
	ErrNotFound  = errors.New("access: credential not found")
	ErrRevoked   = errors.New("access: credential revoked")
	ErrExhausted = errors.New("access: credential exhausted")
	// ErrOwnerKey is returned when an operation would ban the owner credential.
	ErrOwnerKey = errors.New("access: owner credential cannot be banned")
)

// OwnerKeyID identifies the bootstrap owner account.
const OwnerKeyID = "OWNER-MASTER-KEY"

// Users is the slice of the store the gate needs.
type Users interface {
	SaveUser(ctx context.Context, u models.User) error
	GetUser(ctx context.Context, uid string) (models.User, error)
	FindUserByEmail(ctx context.Context, email string) (models.User, error)
	FindUserByAccessKey(ctx context.Context, key string) (models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
}

// Gate validates access credentials and carries the admin operations over keys and users.
// Authorize is advisory: actual spending goes through the quota ledger.
type Gate struct {
	ledger    quota.Ledger
	users     Users
	ownerCode string
	log       *logrus.Logger
	now       func() time.Time
	// regMu serializes registrations within this process; the store's
	// unique email constraint covers the cross-process case.
	regMu sync.Mutex
}

func New(ledger quota.Ledger, users Users, ownerCode string, log *logrus.Logger) *Gate {
	return &Gate{
		ledger:    ledger,
		users:     users,
		ownerCode: ownerCode,
		log:       log,
		now:       time.Now,
	}
}

// Authorize resolves a credential to its quota account.
// A banned account is revoked regardless of remaining capacity.
func (g *Gate) Authorize(ctx context.Context, credential string) (models.QuotaAccount, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return models.QuotaAccount{}, ErrNotFound
	}
	acct, err := g.ledger.Get(ctx, credential)
	if errors.Is(err, quota.ErrNotFound) {
		return models.QuotaAccount{}, ErrNotFound
	}
	if err != nil {
		return models.QuotaAccount{}, fmt.Errorf("authorize: %w", err)
	}
	if acct.Banned {
		return models.QuotaAccount{}, ErrRevoked
	}
	if !acct.Unlimited && acct.UsedUnits >= acct.MaxUnits {
		return models.QuotaAccount{}, ErrExhausted
	}
	return acct, nil
}

// IsOwnerKey reports whether key is the configured owner credential.
func (g *Gate) IsOwnerKey(key string) bool {
	return g.ownerCode != "" && key == g.ownerCode
}

// EnsureOwnerKey issues the unlimited owner account if it does not exist yet.
// It is a no-op when no owner code is configured.
func (g *Gate) EnsureOwnerKey(ctx context.Context) error {
	if g.ownerCode == "" {
		return nil
	}
	if _, err := g.ledger.Get(ctx, g.ownerCode); err == nil {
		return nil
	} else if !errors.Is(err, quota.ErrNotFound) {
		return fmt.Errorf("lookup owner key: %w", err)
	}
	err := g.ledger.Issue(ctx, models.QuotaAccount{
		ID:        OwnerKeyID,
		Key:       g.ownerCode,
		Unlimited: true,
		CreatedBy: "SYSTEM",
		CreatedAt: g.now().UTC(),
	})
	if err != nil {
		// Another process may have bootstrapped it first.
		if _, getErr := g.ledger.Get(ctx, g.ownerCode); getErr == nil {
			return nil
		}
		return fmt.Errorf("issue owner key: %w", err)
	}
	g.log.Info("owner key bootstrapped")
	return nil
}

// IssueKey creates a fresh PRO- credential with a limit of limitMinutes production minutes.
func (g *Gate) IssueKey(ctx context.Context, adminUID string, limitMinutes int) (models.QuotaAccount, error) {
	if limitMinutes <= 0 {
		return models.QuotaAccount{}, fmt.Errorf("issue key: limit must be positive, got %d", limitMinutes)
	}
	suffix, err := randomCode(9)
	if err != nil {
		return models.QuotaAccount{}, fmt.Errorf("issue key: %w", err)
	}
	acct := models.QuotaAccount{
		ID:        uuid.NewString(),
		Key:       "PRO-" + suffix,
		MaxUnits:  int64(limitMinutes) * 60,
		CreatedBy: adminUID,
		CreatedAt: g.now().UTC(),
	}
	if err := g.ledger.Issue(ctx, acct); err != nil {
		return models.QuotaAccount{}, fmt.Errorf("issue key: %w", err)
	}
	g.log.WithFields(logrus.Fields{"key_id": acct.ID, "admin": adminUID, "minutes": limitMinutes}).Info("access key issued")
	return acct, nil
}

// BanKey revokes a credential and marks the user holding it as banned.
func (g *Gate) BanKey(ctx context.Context, key string) error {
	if g.IsOwnerKey(key) {
		return ErrOwnerKey
	}
	if err := g.ledger.Ban(ctx, key); err != nil {
		if errors.Is(err, quota.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("ban key: %w", err)
	}
	u, err := g.users.FindUserByAccessKey(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("ban key owner: %w", err)
	}
	u.Status = models.UserBanned
	if err := g.users.SaveUser(ctx, u); err != nil {
		return fmt.Errorf("ban key owner: %w", err)
	}
	g.log.WithFields(logrus.Fields{"uid": u.UID}).Warn("user banned with key")
	return nil
}

// Register creates a user bound to key. The credential is validated first.
// Registering an email twice returns the existing user only when key is the
// credential that user registered with; any other key is reported as not found.
// The owner credential registers as admin.
func (g *Gate) Register(ctx context.Context, name, email, key string) (models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return models.User{}, fmt.Errorf("register: email is required")
	}
	if _, err := g.Authorize(ctx, key); err != nil {
		return models.User{}, err
	}

	g.regMu.Lock()
	defer g.regMu.Unlock()

	if existing, err := g.users.FindUserByEmail(ctx, email); err == nil {
		return matchRegistered(existing, key)
	} else if !errors.Is(err, store.ErrNotFound) {
		return models.User{}, fmt.Errorf("register: %w", err)
	}

	code, err := randomCode(6)
	if err != nil {
		return models.User{}, fmt.Errorf("register: %w", err)
	}
	u := models.User{
		UID:         "USR-" + code,
		Name:        strings.TrimSpace(name),
		Email:       email,
		Role:        models.RoleUser,
		Status:      models.UserActive,
		AccessKeyID: key,
		JoinedAt:    g.now().UTC(),
	}
	if g.IsOwnerKey(key) {
		u.Role = models.RoleAdmin
	}
	if err := g.users.SaveUser(ctx, u); err != nil {
		if !errors.Is(err, store.ErrConflict) {
			return models.User{}, fmt.Errorf("register: %w", err)
		}
		// Another process registered the email first.
		existing, findErr := g.users.FindUserByEmail(ctx, email)
		if findErr != nil {
			return models.User{}, fmt.Errorf("register: %w", findErr)
		}
		return matchRegistered(existing, key)
	}
	if err := g.ledger.SetOwner(ctx, key, u.UID); err != nil {
		return models.User{}, fmt.Errorf("register: link key: %w", err)
	}
	g.log.WithFields(logrus.Fields{"uid": u.UID, "role": u.Role}).Info("user registered")
	return u, nil
}

func matchRegistered(existing models.User, key string) (models.User, error) {
	if subtle.ConstantTimeCompare([]byte(existing.AccessKeyID), []byte(key)) != 1 {
		return models.User{}, ErrNotFound
	}
	return existing, nil
}

// Promote raises a user to the admin role.
func (g *Gate) Promote(ctx context.Context, uid string) (models.User, error) {
	u, err := g.users.GetUser(ctx, uid)
	if err != nil {
		return models.User{}, fmt.Errorf("promote: %w", err)
	}
	u.Role = models.RoleAdmin
	if err := g.users.SaveUser(ctx, u); err != nil {
		return models.User{}, fmt.Errorf("promote: %w", err)
	}
	return u, nil
}

// IsAdmin reports whether uid names an active admin.
func (g *Gate) IsAdmin(ctx context.Context, uid string) bool {
	if uid == "" {
		return false
	}
	u, err := g.users.GetUser(ctx, uid)
	return err == nil && u.Role == models.RoleAdmin && u.Status == models.UserActive
}

func (g *Gate) ListKeys(ctx context.Context) ([]models.QuotaAccount, error) {
	return g.ledger.List(ctx)
}

func (g *Gate) ListUsers(ctx context.Context) ([]models.User, error) {
	return g.users.ListUsers(ctx)
}

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func randomCode(n int) (string, error) {
	var b strings.Builder
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(codeAlphabet[idx.Int64()])
	}
	return b.String(), nil
}
