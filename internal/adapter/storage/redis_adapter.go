package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/lot-shop/internal/core/domain"
	"github.com/rl1809/lot-shop/internal/port"
)

const (
	claimedLotsKey  = "lots:claims"
	claimOwnersKey  = "lots:claims:owner"
	claimTypesKey   = "lots:claims:type"
	claimBuyersKey  = "lots:claims:buyers"
	claimKeyPrefix  = "lots:claim:"
	claimScriptArgs = 8
)

// KEYS: claimed lots zset, owner hash, type hash, buyer claim hash, buyers zset
var reserveScript = redis.NewScript(`
local buyer = ARGV[1]
local lotType = ARGV[2]
local quantity = tonumber(ARGV[3])
local total = tonumber(ARGV[7])

local taken = {}
local heldByOthers = 0
local active = redis.call('ZRANGEBYSCORE', KEYS[1], '(' .. ARGV[4], '+inf')
for _, id in ipairs(active) do
	if redis.call('HGET', KEYS[2], id) ~= buyer then
		taken[id] = true
		if redis.call('HGET', KEYS[3], id) == lotType then
			heldByOthers = heldByOthers + 1
		end
	end
end

if total - heldByOthers < quantity then
	return {0}
end

local chosen = {}
local payload = {}
for i = 9, #ARGV, 2 do
	if #chosen == quantity then
		break
	end
	if not taken[ARGV[i]] then
		table.insert(chosen, ARGV[i])
		table.insert(payload, ARGV[i + 1])
	end
end
if #chosen < quantity then
	return {2}
end

local previous = redis.call('HGET', KEYS[4], 'ids')
if previous then
	for id in string.gmatch(previous, '[^,]+') do
		if redis.call('HGET', KEYS[2], id) == buyer then
			redis.call('ZREM', KEYS[1], id)
			redis.call('HDEL', KEYS[2], id)
			redis.call('HDEL', KEYS[3], id)
		end
	end
	redis.call('DEL', KEYS[4])
end

for _, id in ipairs(chosen) do
	redis.call('ZADD', KEYS[1], ARGV[5], id)
	redis.call('HSET', KEYS[2], id, buyer)
	redis.call('HSET', KEYS[3], id, lotType)
end
redis.call('HSET', KEYS[4],
	'type', lotType,
	'ids', table.concat(chosen, ','),
	'items', '[' .. table.concat(payload, ',') .. ']',
	'created_at', ARGV[8],
	'expires_at', ARGV[5])
redis.call('PEXPIRE', KEYS[4], ARGV[6])
redis.call('ZADD', KEYS[5], ARGV[5], buyer)

local result = {1}
for _, id in ipairs(chosen) do
	table.insert(result, id)
end
return result
`)

var releaseScript = redis.NewScript(`
local ids = redis.call('HGET', KEYS[4], 'ids')
if ids then
	for id in string.gmatch(ids, '[^,]+') do
		if redis.call('HGET', KEYS[2], id) == ARGV[1] then
			redis.call('ZREM', KEYS[1], id)
			redis.call('HDEL', KEYS[2], id)
			redis.call('HDEL', KEYS[3], id)
		end
	end
end
redis.call('DEL', KEYS[4])
redis.call('ZREM', KEYS[5], ARGV[1])
return 1
`)

// KEYS: claimed lots zset, owner hash, type hash, buyers zset
var sweepScript = redis.NewScript(`
local expired = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, id in ipairs(expired) do
	redis.call('HDEL', KEYS[2], id)
	redis.call('HDEL', KEYS[3], id)
end
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])

local buyers = redis.call('ZRANGEBYSCORE', KEYS[4], '-inf', ARGV[1])
for _, buyer in ipairs(buyers) do
	local key = ARGV[2] .. buyer
	local expiresAt = redis.call('HGET', key, 'expires_at')
	if expiresAt and tonumber(expiresAt) <= tonumber(ARGV[1]) then
		redis.call('DEL', key)
	end
end
redis.call('ZREMRANGEBYSCORE', KEYS[4], '-inf', ARGV[1])
return #expired
`)

// KEYS: claimed lots zset, owner hash, type hash
var forgetScript = redis.NewScript(`
local forgotten = 0
for _, id in ipairs(ARGV) do
	forgotten = forgotten + redis.call('ZREM', KEYS[1], id)
	redis.call('HDEL', KEYS[2], id)
	redis.call('HDEL', KEYS[3], id)
end
return forgotten
`)

var claimedCountsScript = redis.NewScript(`
local counts = {}
local active = redis.call('ZRANGEBYSCORE', KEYS[1], '(' .. ARGV[1], '+inf')
for _, id in ipairs(active) do
	local lotType = redis.call('HGET', KEYS[2], id)
	if lotType then
		counts[lotType] = (counts[lotType] or 0) + 1
	end
end
local result = {}
for lotType, n in pairs(counts) do
	table.insert(result, lotType)
	table.insert(result, n)
end
return result
`)

// RedisAdapter keeps buyer claims. Each claimed lot id is indexed in a sorted set
// scored by expiry, so expired entries are ignored by readers before they are swept.
type RedisAdapter struct {
	client *redis.Client
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

func claimKey(buyerID int64) string {
	return claimKeyPrefix + strconv.FormatInt(buyerID, 10)
}

func (r *RedisAdapter) claimKeys(buyerID int64) []string {
	return []string{claimedLotsKey, claimOwnersKey, claimTypesKey, claimKey(buyerID), claimBuyersKey}
}

func (r *RedisAdapter) Claim(ctx context.Context, req port.ClaimRequest) (port.ClaimStatus, *domain.Claim, error) {
	ttl := req.ExpiresAt.Sub(req.Now)
	if ttl <= 0 {
		return 0, nil, fmt.Errorf("claim ttl must be positive, got %v", ttl)
	}

	args := make([]interface{}, 0, claimScriptArgs+2*len(req.Candidates))
	args = append(args,
		req.BuyerID,
		req.Type,
		req.Quantity,
		req.Now.UnixMilli(),
		req.ExpiresAt.UnixMilli(),
		ttl.Milliseconds(),
		req.Available,
		req.Now.UnixMilli(),
	)
	byID := make(map[string]domain.Lot, len(req.Candidates))
	for _, lot := range req.Candidates {
		raw, err := json.Marshal(lot)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal lot %d: %w", lot.ID, err)
		}
		id := strconv.FormatInt(lot.ID, 10)
		byID[id] = lot
		args = append(args, id, string(raw))
	}

	result, err := reserveScript.Run(ctx, r.client, r.claimKeys(req.BuyerID), args...).Slice()
	if err != nil {
		return 0, nil, fmt.Errorf("run reserve script: %w", err)
	}
	if len(result) == 0 {
		return 0, nil, errors.New("empty reply from reserve script")
	}

	code, ok := result[0].(int64)
	if !ok {
		return 0, nil, fmt.Errorf("unexpected result type from reserve script: %T", result[0])
	}

	switch code {
	case 0:
		return port.ClaimInsufficient, nil, nil
	case 2:
		return port.ClaimRetry, nil, nil
	case 1:
	default:
		return 0, nil, fmt.Errorf("unknown result code from reserve script: %d", code)
	}

	claim := &domain.Claim{
		BuyerID:   req.BuyerID,
		Type:      req.Type,
		Items:     make([]domain.Lot, 0, len(result)-1),
		CreatedAt: time.UnixMilli(req.Now.UnixMilli()),
		ExpiresAt: time.UnixMilli(req.ExpiresAt.UnixMilli()),
	}
	for _, v := range result[1:] {
		id, _ := v.(string)
		lot, ok := byID[id]
		if !ok {
			return 0, nil, fmt.Errorf("reserve script returned unknown lot %v", v)
		}
		claim.Items = append(claim.Items, lot)
	}

	return port.ClaimGranted, claim, nil
}

func (r *RedisAdapter) Get(ctx context.Context, buyerID int64, now time.Time) (*domain.Claim, error) {
	fields, err := r.client.HGetAll(ctx, claimKey(buyerID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get claim: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	expiresAt, err := strconv.ParseInt(fields["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse claim expiry %q: %w", fields["expires_at"], err)
	}
	createdAt, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse claim creation time %q: %w", fields["created_at"], err)
	}

	claim := &domain.Claim{
		BuyerID:   buyerID,
		Type:      fields["type"],
		CreatedAt: time.UnixMilli(createdAt),
		ExpiresAt: time.UnixMilli(expiresAt),
	}
	if !claim.ActiveAt(now) {
		return nil, nil
	}

	if err := json.Unmarshal([]byte(fields["items"]), &claim.Items); err != nil {
		return nil, fmt.Errorf("unmarshal claim items: %w", err)
	}

	return claim, nil
}

func (r *RedisAdapter) Release(ctx context.Context, buyerID int64) error {
	if err := releaseScript.Run(ctx, r.client, r.claimKeys(buyerID), buyerID).Err(); err != nil {
		return fmt.Errorf("run release script: %w", err)
	}
	return nil
}

func (r *RedisAdapter) ClaimedCounts(ctx context.Context, now time.Time) (map[string]int, error) {
	result, err := claimedCountsScript.Run(ctx, r.client,
		[]string{claimedLotsKey, claimTypesKey}, now.UnixMilli()).Slice()
	if err != nil {
		return nil, fmt.Errorf("run claimed counts script: %w", err)
	}

	counts := make(map[string]int, len(result)/2)
	for i := 0; i+1 < len(result); i += 2 {
		lotType, _ := result[i].(string)
		n, _ := result[i+1].(int64)
		counts[lotType] = int(n)
	}
	return counts, nil
}

func (r *RedisAdapter) Sweep(ctx context.Context, now time.Time) (int, error) {
	removed, err := sweepScript.Run(ctx, r.client,
		[]string{claimedLotsKey, claimOwnersKey, claimTypesKey, claimBuyersKey},
		now.UnixMilli(), claimKeyPrefix).Int()
	if err != nil {
		return 0, fmt.Errorf("run sweep script: %w", err)
	}
	return removed, nil
}

// Forget drops lots that left inventory from the claim index, whoever holds them.
// The holder's claim record keeps listing them until confirm or release.
func (r *RedisAdapter) Forget(ctx context.Context, lotIDs ...int64) (int, error) {
	if len(lotIDs) == 0 {
		return 0, nil
	}
	args := make([]interface{}, len(lotIDs))
	for i, id := range lotIDs {
		args[i] = strconv.FormatInt(id, 10)
	}

	forgotten, err := forgetScript.Run(ctx, r.client,
		[]string{claimedLotsKey, claimOwnersKey, claimTypesKey}, args...).Int()
	if err != nil {
		return 0, fmt.Errorf("run forget script: %w", err)
	}
	return forgotten, nil
}
