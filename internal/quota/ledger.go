package quota

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"scene-studio/internal/models"
)

var (
	// ErrNotFound is returned for keys the ledger has never issued.
	ErrNotFound = errors.New("quota: key not found")
	// ErrBanned is returned for revoked keys.
	ErrBanned = errors.New("quota: key banned")
	// ErrExhausted is returned when a spend would cross the ceiling.
	ErrExhausted = errors.New("quota: units exhausted")
	// ErrInvalidUnits is returned for spends of zero or fewer units.
	ErrInvalidUnits = errors.New("quota: units must be positive")
)

// Ledger tracks per-key usage limits.
//
// Consume is atomic: the existence, ban and ceiling checks and the increment
// happen as one step, so concurrent callers can never overspend a key.
type Ledger interface {
	Issue(ctx context.Context, acct models.QuotaAccount) error
	Get(ctx context.Context, key string) (models.QuotaAccount, error)
	List(ctx context.Context) ([]models.QuotaAccount, error)
	Consume(ctx context.Context, key string, units int64) error
	Ban(ctx context.Context, key string) error
	SetOwner(ctx context.Context, key, uid string) error
	// Changes streams the key of every mutated account until ctx is done.
	Changes(ctx context.Context) <-chan string
}

// Units charged per scene, in production seconds.
const (
	ImageSceneUnits = 8
	VideoSceneUnits = 15
)

// SceneUnits returns the per-scene charge for a production mode.
func SceneUnits(mode string) int64 {
	if mode == models.MediaVideo {
		return VideoSceneUnits
	}
	return ImageSceneUnits
}

// Open returns the ledger named by backend. The memory ledger is private to one process.
func Open(backend string, client *redis.Client) (Ledger, error) {
	switch strings.ToLower(backend) {
	case "memory":
		return NewMemoryLedger(), nil
	case "", "redis":
		if client == nil {
			return nil, errors.New("redis ledger needs a redis client")
		}
		return NewRedisLedger(client), nil
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", backend)
	}
}
