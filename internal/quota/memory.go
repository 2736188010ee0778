package quota

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"scene-studio/internal/models"
)

// MemoryLedger keeps accounts in process memory. One mutex serializes every check-and-increment.
type MemoryLedger struct {
	mu       sync.Mutex
	accounts map[string]models.QuotaAccount
	subs     map[chan string]struct{}
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		accounts: make(map[string]models.QuotaAccount),
		subs:     make(map[chan string]struct{}),
	}
}

func (l *MemoryLedger) Issue(_ context.Context, acct models.QuotaAccount) error {
	if acct.Key == "" {
		return fmt.Errorf("issue account: empty key")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.accounts[acct.Key]; ok {
		return fmt.Errorf("issue account %s: already exists", acct.Key)
	}
	l.accounts[acct.Key] = acct
	l.notifyLocked(acct.Key)
	return nil
}

func (l *MemoryLedger) Get(_ context.Context, key string) (models.QuotaAccount, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.accounts[key]
	if !ok {
		return models.QuotaAccount{}, ErrNotFound
	}
	return acct, nil
}

func (l *MemoryLedger) List(_ context.Context) ([]models.QuotaAccount, error) {
	l.mu.Lock()
	out := make([]models.QuotaAccount, 0, len(l.accounts))
	for _, a := range l.accounts {
		out = append(out, a)
	}
	l.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (l *MemoryLedger) Consume(_ context.Context, key string, units int64) error {
	if units <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidUnits, units)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.accounts[key]
	if !ok {
		return ErrNotFound
	}
	if acct.Banned {
		return ErrBanned
	}
	if !acct.Unlimited && acct.UsedUnits+units > acct.MaxUnits {
		return ErrExhausted
	}
	acct.UsedUnits += units
	l.accounts[key] = acct
	l.notifyLocked(key)
	return nil
}

func (l *MemoryLedger) Ban(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.accounts[key]
	if !ok {
		return ErrNotFound
	}
	acct.Banned = true
	l.accounts[key] = acct
	l.notifyLocked(key)
	return nil
}

func (l *MemoryLedger) SetOwner(_ context.Context, key, uid string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.accounts[key]
	if !ok {
		return ErrNotFound
	}
	acct.OwnerUID = uid
	l.accounts[key] = acct
	l.notifyLocked(key)
	return nil
}

func (l *MemoryLedger) Changes(ctx context.Context) <-chan string {
	ch := make(chan string, 16)
	l.mu.Lock()
	l.subs[ch] = struct{}{}
	l.mu.Unlock()
	go func() {
		<-ctx.Done()
		l.mu.Lock()
		delete(l.subs, ch)
		l.mu.Unlock()
		close(ch)
	}()
	return ch
}

// notifyLocked drops the notification for subscribers that are not keeping up.
func (l *MemoryLedger) notifyLocked(key string) {
	for ch := range l.subs {
		select {
		case ch <- key:
		default:
		}
	}
}
