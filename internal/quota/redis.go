package quota

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"scene-studio/internal/models"
)

const (
	accountPrefix  = "quota:acct:"
	accountsSetKey = "quota:accounts"
	changesChannel = "quota:changes"
)

// RedisLedger stores one hash per account and spends units with a Lua script,
// so consumption stays atomic across API and worker processes.
type RedisLedger struct {
	client *redis.Client
}

func NewRedisLedger(client *redis.Client) *RedisLedger {
	return &RedisLedger{client: client}
}

func (l *RedisLedger) accountKey(key string) string {
	return accountPrefix + key
}

func (l *RedisLedger) Issue(ctx context.Context, acct models.QuotaAccount) error {
	if acct.Key == "" {
		return fmt.Errorf("issue account: empty key")
	}
	created, err := issueScript.Run(ctx, l.client, []string{l.accountKey(acct.Key), accountsSetKey},
		acct.Key,
		acct.ID,
		acct.MaxUnits,
		acct.UsedUnits,
		boolField(acct.Banned),
		boolField(acct.Unlimited),
		acct.CreatedBy,
		acct.OwnerUID,
		acct.CreatedAt.UTC().UnixMilli(),
	).Int64()
	if err != nil {
		return fmt.Errorf("issue account %s: %w", acct.Key, err)
	}
	if created == 0 {
		return fmt.Errorf("issue account %s: already exists", acct.Key)
	}
	l.client.Publish(ctx, changesChannel, acct.Key)
	return nil
}

func (l *RedisLedger) Get(ctx context.Context, key string) (models.QuotaAccount, error) {
	fields, err := l.client.HGetAll(ctx, l.accountKey(key)).Result()
	if err != nil {
		return models.QuotaAccount{}, fmt.Errorf("get account: %w", err)
	}
	if len(fields) == 0 {
		return models.QuotaAccount{}, ErrNotFound
	}
	return decodeAccount(fields), nil
}

func (l *RedisLedger) List(ctx context.Context) ([]models.QuotaAccount, error) {
	keys, err := l.client.SMembers(ctx, accountsSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	pipe := l.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, 0, len(keys))
	for _, k := range keys {
		cmds = append(cmds, pipe.HGetAll(ctx, l.accountKey(k)))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	out := make([]models.QuotaAccount, 0, len(cmds))
	for _, c := range cmds {
		if fields := c.Val(); len(fields) > 0 {
			out = append(out, decodeAccount(fields))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (l *RedisLedger) Consume(ctx context.Context, key string, units int64) error {
	if units <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidUnits, units)
	}
	res, err := consumeScript.Run(ctx, l.client, []string{l.accountKey(key)}, units).Int64()
	if err != nil {
		return fmt.Errorf("consume units: %w", err)
	}
	switch res {
	case -1:
		return ErrNotFound
	case -2:
		return ErrBanned
	case -3:
		return ErrExhausted
	}
	l.client.Publish(ctx, changesChannel, key)
	return nil
}

func (l *RedisLedger) Ban(ctx context.Context, key string) error {
	return l.setField(ctx, key, "banned", "1")
}

func (l *RedisLedger) SetOwner(ctx context.Context, key, uid string) error {
	return l.setField(ctx, key, "owner_uid", uid)
}

func (l *RedisLedger) setField(ctx context.Context, key, field, value string) error {
	res, err := setFieldScript.Run(ctx, l.client, []string{l.accountKey(key)}, field, value).Int64()
	if err != nil {
		return fmt.Errorf("update account %s: %w", key, err)
	}
	if res == 0 {
		return ErrNotFound
	}
	l.client.Publish(ctx, changesChannel, key)
	return nil
}

func (l *RedisLedger) Changes(ctx context.Context) <-chan string {
	out := make(chan string, 16)
	sub := l.client.Subscribe(ctx, changesChannel)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- msg.Payload:
				default:
				}
			}
		}
	}()
	return out
}

func decodeAccount(f map[string]string) models.QuotaAccount {
	acct := models.QuotaAccount{
		ID:        f["id"],
		Key:       f["key"],
		Banned:    f["banned"] == "1",
		Unlimited: f["unlimited"] == "1",
		CreatedBy: f["created_by"],
		OwnerUID:  f["owner_uid"],
	}
	acct.MaxUnits, _ = strconv.ParseInt(f["max_units"], 10, 64)
	acct.UsedUnits, _ = strconv.ParseInt(f["used_units"], 10, 64)
	if ms, err := strconv.ParseInt(f["created_at"], 10, 64); err == nil {
		acct.CreatedAt = time.UnixMilli(ms).UTC()
	}
	return acct
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// consumeScript returns the new used total, or -1 missing, -2 banned, -3 exhausted.
// issueScript creates the account hash and indexes it in one step; an existing
// key is left untouched.
var issueScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
redis.call('HSET', KEYS[1],
  'key', ARGV[1],
  'id', ARGV[2],
  'max_units', ARGV[3],
  'used_units', ARGV[4],
  'banned', ARGV[5],
  'unlimited', ARGV[6],
  'created_by', ARGV[7],
  'owner_uid', ARGV[8],
  'created_at', ARGV[9])
redis.call('SADD', KEYS[2], ARGV[1])
return 1
`)

var consumeScript = redis.NewScript(`
local key = KEYS[1]
local units = tonumber(ARGV[1])

if redis.call('EXISTS', key) == 0 then return -1 end
local data = redis.call('HMGET', key, 'max_units', 'used_units', 'banned', 'unlimited')
if data[3] == '1' then return -2 end

local max = tonumber(data[1]) or 0
local used = tonumber(data[2]) or 0
if data[4] ~= '1' and used + units > max then return -3 end

return redis.call('HINCRBY', key, 'used_units', units)
`)

var setFieldScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
return 1
`)
