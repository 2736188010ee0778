package access

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"scene-studio/internal/logger"
	"scene-studio/internal/models"
	"scene-studio/internal/quota"
	"scene-studio/internal/store"
)

func newGate(t *testing.T) (*Gate, *quota.MemoryLedger, *store.Memory) {
	t.Helper()
	ledger := quota.NewMemoryLedger()
	users := store.NewMemory()
	g := New(ledger, users, "owner-secret", logger.Discard())
	if err := g.EnsureOwnerKey(context.Background()); err != nil {
		t.Fatalf("ensure owner: %v", err)
	}
	return g, ledger, users
}

func TestAuthorizeErrors(t *testing.T) {
	ctx := context.Background()
	g, ledger, _ := newGate(t)

	if _, err := g.Authorize(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	_ = ledger.Issue(ctx, models.QuotaAccount{Key: "full", MaxUnits: 10, UsedUnits: 10})
	if _, err := g.Authorize(ctx, "full"); !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}

	_ = ledger.Issue(ctx, models.QuotaAccount{Key: "roomy", MaxUnits: 100})
	_ = ledger.Ban(ctx, "roomy")
	if _, err := g.Authorize(ctx, "roomy"); !errors.Is(err, ErrRevoked) {
		t.Fatalf("banned with capacity left should be revoked, got %v", err)
	}

	_ = ledger.Ban(ctx, "full")
	if _, err := g.Authorize(ctx, "full"); !errors.Is(err, ErrRevoked) {
		t.Fatalf("banned and exhausted should be revoked, got %v", err)
	}
}

func TestOwnerKeyIsUnlimitedAndUnbannable(t *testing.T) {
	ctx := context.Background()
	g, _, _ := newGate(t)

	acct, err := g.Authorize(ctx, "owner-secret")
	if err != nil || !acct.Unlimited {
		t.Fatalf("owner key should authorize unlimited, got %+v err=%v", acct, err)
	}
	if err := g.BanKey(ctx, "owner-secret"); !errors.Is(err, ErrOwnerKey) {
		t.Fatalf("expected ErrOwnerKey, got %v", err)
	}
	if err := g.EnsureOwnerKey(ctx); err != nil {
		t.Fatalf("second bootstrap should be a no-op: %v", err)
	}
}

func TestIssueRegisterBan(t *testing.T) {
	ctx := context.Background()
	g, _, users := newGate(t)

	acct, err := g.IssueKey(ctx, "admin", 150)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !strings.HasPrefix(acct.Key, "PRO-") || len(acct.Key) != 13 {
		t.Fatalf("unexpected key format %q", acct.Key)
	}
	if acct.MaxUnits != 150*60 {
		t.Fatalf("expected limit in seconds, got %d", acct.MaxUnits)
	}

	u, err := g.Register(ctx, "Ada", "ada@example.com", acct.Key)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if u.Role != models.RoleUser {
		t.Fatalf("expected user role, got %s", u.Role)
	}
	again, err := g.Register(ctx, "Someone", "ADA@example.com", acct.Key)
	if err != nil || again.UID != u.UID {
		t.Fatalf("register should be idempotent by email, got %+v err=%v", again, err)
	}

	if err := g.BanKey(ctx, acct.Key); err != nil {
		t.Fatalf("ban: %v", err)
	}
	banned, _ := users.GetUser(ctx, u.UID)
	if banned.Status != models.UserBanned {
		t.Fatalf("expected user banned, got %s", banned.Status)
	}
	if _, err := g.Authorize(ctx, acct.Key); !errors.Is(err, ErrRevoked) {
		t.Fatalf("expected ErrRevoked, got %v", err)
	}
}

func TestOwnerRegistersAsAdmin(t *testing.T) {
	ctx := context.Background()
	g, _, _ := newGate(t)

	u, err := g.Register(ctx, "Owner", "owner@example.com", "owner-secret")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if u.Role != models.RoleAdmin || !g.IsAdmin(ctx, u.UID) {
		t.Fatalf("owner should be admin, got %+v", u)
	}

	acct, _ := g.IssueKey(ctx, u.UID, 10)
	member, _ := g.Register(ctx, "Member", "member@example.com", acct.Key)
	if g.IsAdmin(ctx, member.UID) {
		t.Fatalf("member should not be admin yet")
	}
	if _, err := g.Promote(ctx, member.UID); err != nil {
		t.Fatalf("promote: %v", err)
	}
	if !g.IsAdmin(ctx, member.UID) {
		t.Fatalf("member should be admin after promotion")
	}
}

func TestRegisterExistingEmailRequiresItsKey(t *testing.T) {
	ctx := context.Background()
	g, _, _ := newGate(t)

	owner, err := g.Register(ctx, "Owner", "owner@example.com", "owner-secret")
	if err != nil {
		t.Fatalf("register owner: %v", err)
	}
	if _, err := g.Register(ctx, "Mallory", "owner@example.com", "WRONG-KEY"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown key should be rejected, got %v", err)
	}
	other, _ := g.IssueKey(ctx, owner.UID, 5)
	u, err := g.Register(ctx, "Mallory", "owner@example.com", other.Key)
	if !errors.Is(err, ErrNotFound) || u.UID != "" {
		t.Fatalf("a valid key of someone else must not reveal the user, got %+v err=%v", u, err)
	}
	again, err := g.Register(ctx, "Owner", "owner@example.com", "owner-secret")
	if err != nil || again.UID != owner.UID {
		t.Fatalf("the matching key should return the user, got %+v err=%v", again, err)
	}
}

// lateUsers hides emails from the first lookup, as if another process
// registered them between the lookup and the insert.
type lateUsers struct {
	*store.Memory
	hidden bool
}

func (u *lateUsers) FindUserByEmail(ctx context.Context, email string) (models.User, error) {
	if !u.hidden {
		u.hidden = true
		return models.User{}, store.ErrNotFound
	}
	return u.Memory.FindUserByEmail(ctx, email)
}

func TestRegisterResolvesEmailConflict(t *testing.T) {
	ctx := context.Background()
	ledger := quota.NewMemoryLedger()
	mem := store.NewMemory()
	_ = ledger.Issue(ctx, models.QuotaAccount{Key: "PRO-A", MaxUnits: 60})
	_ = ledger.Issue(ctx, models.QuotaAccount{Key: "PRO-B", MaxUnits: 60})
	_ = mem.SaveUser(ctx, models.User{UID: "USR-FIRST", Email: "ada@example.com", AccessKeyID: "PRO-A"})

	g := New(ledger, &lateUsers{Memory: mem}, "", logger.Discard())
	u, err := g.Register(ctx, "Ada", "ada@example.com", "PRO-A")
	if err != nil || u.UID != "USR-FIRST" {
		t.Fatalf("conflict with the same key should return the stored user, got %+v err=%v", u, err)
	}

	g = New(ledger, &lateUsers{Memory: mem}, "", logger.Discard())
	if _, err := g.Register(ctx, "Ada", "ada@example.com", "PRO-B"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("conflict with another key should be rejected, got %v", err)
	}
	users, _ := mem.ListUsers(ctx)
	if len(users) != 1 {
		t.Fatalf("expected a single stored user, got %d", len(users))
	}
}

func TestConcurrentRegisterCreatesOneUser(t *testing.T) {
	ctx := context.Background()
	g, _, users := newGate(t)
	acct, _ := g.IssueKey(ctx, "admin", 10)

	var wg sync.WaitGroup
	uids := make([]string, 6)
	for i := range uids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u, err := g.Register(ctx, "Ada", "ada@example.com", acct.Key)
			if err != nil {
				t.Errorf("register: %v", err)
				return
			}
			uids[i] = u.UID
		}(i)
	}
	wg.Wait()
	for _, uid := range uids[1:] {
		if uid != uids[0] {
			t.Fatalf("registrations diverged: %v", uids)
		}
	}
	all, _ := users.ListUsers(ctx)
	if len(all) != 1 {
		t.Fatalf("expected one user, got %d", len(all))
	}
}
