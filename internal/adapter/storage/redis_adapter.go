package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/rl1809/unit-inventory/internal/core/domain"
	"github.com/rl1809/unit-inventory/internal/port"
)

const (
	codeKeyPrefix      = "code:"
	cartCodesPrefix    = "cart:codes:"
	cartReservedPrefix = "cart:reserved:"
	defaultCodeTTL     = 24 * time.Hour
)

// dropCodeScript removes a held code and deletes the set once it is empty so
// idle products leave no keys behind.
var dropCodeScript = redis.NewScript(`
local key = KEYS[1]
local code = ARGV[1]

local removed = redis.call('SREM', key, code)
if redis.call('SCARD', key) == 0 then
	redis.call('DEL', key)
end

return removed
`)

// RedisAdapter is the recent-code cache and the active-cart snapshot source.
type RedisAdapter struct {
	client  *redis.Client
	codeTTL time.Duration
}

var (
	_ port.CodeCache          = (*RedisAdapter)(nil)
	_ port.CartSnapshotSource = (*RedisAdapter)(nil)
)

func NewRedisAdapter(client *redis.Client, codeTTL time.Duration) *RedisAdapter {
	if codeTTL <= 0 {
		codeTTL = defaultCodeTTL
	}
	return &RedisAdapter{client: client, codeTTL: codeTTL}
}

func (r *RedisAdapter) Reserve(ctx context.Context, code string) (bool, error) {
	ok, err := r.client.SetNX(ctx, codeKeyPrefix+code, 1, r.codeTTL).Result()
	if err != nil {
		return false, errors.Wrap(err, "reserve code")
	}
	return ok, nil
}

func (r *RedisAdapter) Release(ctx context.Context, code string) error {
	return errors.Wrap(r.client.Del(ctx, codeKeyPrefix+code).Err(), "release code")
}

// Snapshot reads held codes and reserved quantities for productID in one
// MULTI so both halves describe the same moment.
func (r *RedisAdapter) Snapshot(ctx context.Context, productID string) (domain.CartSnapshot, error) {
	var (
		codesCmd    *redis.StringSliceCmd
		reservedCmd *redis.StringSliceCmd
	)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		codesCmd = pipe.SMembers(ctx, cartCodesPrefix+productID)
		reservedCmd = pipe.HVals(ctx, cartReservedPrefix+productID)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return domain.CartSnapshot{}, errors.Wrap(err, "read cart snapshot")
	}

	snapshot := domain.CartSnapshot{Codes: make(map[string]struct{}), Reserved: decimal.Zero}
	for _, code := range codesCmd.Val() {
		snapshot.Codes[code] = struct{}{}
	}
	for _, raw := range reservedCmd.Val() {
		qty, err := decimal.NewFromString(raw)
		if err != nil {
			return domain.CartSnapshot{}, errors.Wrapf(err, "parse reserved quantity %q", raw)
		}
		snapshot.AddReserved(qty)
	}
	return snapshot, nil
}

// HoldCode records that an active cart scanned the unit with code.
func (r *RedisAdapter) HoldCode(ctx context.Context, productID, code string) error {
	return errors.Wrap(r.client.SAdd(ctx, cartCodesPrefix+productID, code).Err(), "hold code")
}

func (r *RedisAdapter) DropCode(ctx context.Context, productID, code string) error {
	err := dropCodeScript.Run(ctx, r.client, []string{cartCodesPrefix + productID}, code).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return errors.Wrap(err, "drop code")
}

// SetReserved stores the quantity one cart reserves of an untracked product.
// A quantity of zero or less removes the cart's entry.
func (r *RedisAdapter) SetReserved(ctx context.Context, productID, cartID string, qty decimal.Decimal) error {
	key := cartReservedPrefix + productID
	if !qty.IsPositive() {
		return errors.Wrap(r.client.HDel(ctx, key, cartID).Err(), "clear reservation")
	}
	return errors.Wrap(r.client.HSet(ctx, key, cartID, qty.String()).Err(), "set reservation")
}

func (r *RedisAdapter) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
