package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/auctiond/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// Hash fields of a runtime record.
const (
	fieldStatus        = "status"
	fieldStartMs       = "start_ms"
	fieldDeadlineMs    = "deadline_ms"
	fieldStartingPrice = "starting_price"
	fieldSellerID      = "seller_id"
	fieldHighest       = "highest"
	fieldVersion       = "version"
)

// createLua writes the record with version 1 unless the key exists.
// ARGV[1] is the record TTL in milliseconds (0 for none), followed by a flat
// list of field/value pairs.
const createLua = `
if redis.call('EXISTS', KEYS[1]) == 1 then
    return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV, 2))
redis.call('HSET', KEYS[1], 'version', 1)
if tonumber(ARGV[1]) > 0 then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return 1
`

// swapLua replaces the record when its version equals ARGV[1].
// Returns -1 when the record is missing, 0 on conflict and 1 on success.
const swapLua = `
local v = redis.call('HGET', KEYS[1], 'version')
if not v then
    return -1
end
if tonumber(v) ~= tonumber(ARGV[1]) then
    return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV, 2))
redis.call('HSET', KEYS[1], 'version', tonumber(v) + 1)
return 1
`

// extendLua adds ARGV[1] milliseconds to the deadline and bumps the version.
// Returns the new deadline, or -1 when the record is missing.
const extendLua = `
if redis.call('EXISTS', KEYS[1]) == 0 then
    return -1
end
local d = redis.call('HINCRBY', KEYS[1], 'deadline_ms', ARGV[1])
redis.call('HINCRBY', KEYS[1], 'version', 1)
return d
`

// RuntimeStore implements domain.RuntimeStore with one hash per auction.
//
// Key schema:
//
//	auction:{id}:rt - hash with status, start_ms, deadline_ms, starting_price,
//	                  seller_id, highest (JSON, empty when none) and version
type RuntimeStore struct {
	rdb       *redis.Client
	recordTTL time.Duration
	createSc  *redis.Script
	swapSc    *redis.Script
	extendSc  *redis.Script
}

// NewRuntimeStore creates a RuntimeStore backed by the given Client. A
// positive recordTTL puts an expiry on newly created records so abandoned
// ones do not accumulate.
func NewRuntimeStore(c *Client, recordTTL time.Duration) *RuntimeStore {
	return &RuntimeStore{
		rdb:       c.Underlying(),
		recordTTL: recordTTL,
		createSc:  redis.NewScript(createLua),
		swapSc:    redis.NewScript(swapLua),
		extendSc:  redis.NewScript(extendLua),
	}
}

func runtimeKey(auctionID string) string { return "auction:" + auctionID + ":rt" }

// Get reads the record for auctionID or returns domain.ErrNotFound.
func (s *RuntimeStore) Get(ctx context.Context, auctionID string) (domain.RuntimeState, error) {
	fields, err := s.rdb.HGetAll(ctx, runtimeKey(auctionID)).Result()
	if err != nil {
		return domain.RuntimeState{}, fmt.Errorf("redis: get runtime %s: %w", auctionID, err)
	}
	if len(fields) == 0 {
		return domain.RuntimeState{}, domain.ErrNotFound
	}
	st, err := decodeRuntime(auctionID, fields)
	if err != nil {
		return domain.RuntimeState{}, fmt.Errorf("redis: decode runtime %s: %w", auctionID, err)
	}
	return st, nil
}

// Create writes state with version 1 unless a record already exists.
func (s *RuntimeStore) Create(ctx context.Context, state domain.RuntimeState) (bool, error) {
	fields, err := encodeRuntime(state)
	if err != nil {
		return false, fmt.Errorf("redis: encode runtime %s: %w", state.AuctionID, err)
	}
	args := append([]any{s.recordTTL.Milliseconds()}, fields...)

	n, err := s.createSc.Run(ctx, s.rdb, []string{runtimeKey(state.AuctionID)}, args...).Int64()
	if err != nil {
		return false, fmt.Errorf("redis: create runtime %s: %w", state.AuctionID, err)
	}
	return n == 1, nil
}

// Swap replaces the record if its stored version equals expectedVersion.
func (s *RuntimeStore) Swap(ctx context.Context, next domain.RuntimeState, expectedVersion int64) error {
	fields, err := encodeRuntime(next)
	if err != nil {
		return fmt.Errorf("redis: encode runtime %s: %w", next.AuctionID, err)
	}
	args := append([]any{expectedVersion}, fields...)

	n, err := s.swapSc.Run(ctx, s.rdb, []string{runtimeKey(next.AuctionID)}, args...).Int64()
	if err != nil {
		return fmt.Errorf("redis: swap runtime %s: %w", next.AuctionID, err)
	}
	switch n {
	case 1:
		return nil
	case 0:
		return domain.ErrVersionConflict
	default:
		return domain.ErrNotFound
	}
}

// ExtendDeadline moves the deadline forward by delta in one atomic step.
func (s *RuntimeStore) ExtendDeadline(ctx context.Context, auctionID string, delta time.Duration) (time.Time, error) {
	if delta < 0 {
		return time.Time{}, fmt.Errorf("redis: extend deadline %s: negative delta %s", auctionID, delta)
	}
	ms, err := s.extendSc.Run(ctx, s.rdb, []string{runtimeKey(auctionID)}, delta.Milliseconds()).Int64()
	if err != nil {
		return time.Time{}, fmt.Errorf("redis: extend deadline %s: %w", auctionID, err)
	}
	if ms < 0 {
		return time.Time{}, domain.ErrNotFound
	}
	return time.UnixMilli(ms).UTC(), nil
}

// Delete evicts the record.
func (s *RuntimeStore) Delete(ctx context.Context, auctionID string) error {
	if err := s.rdb.Del(ctx, runtimeKey(auctionID)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis: delete runtime %s: %w", auctionID, err)
	}
	return nil
}

// encodeRuntime flattens state into HSET field/value arguments. The version
// field is owned by the scripts and never encoded.
func encodeRuntime(st domain.RuntimeState) ([]any, error) {
	highest := ""
	if st.Highest != nil {
		data, err := json.Marshal(st.Highest)
		if err != nil {
			return nil, err
		}
		highest = string(data)
	}
	return []any{
		fieldStatus, string(st.Status),
		fieldStartMs, st.StartTime.UnixMilli(),
		fieldDeadlineMs, st.Deadline.UnixMilli(),
		fieldStartingPrice, st.StartingPrice.String(),
		fieldSellerID, st.SellerID,
		fieldHighest, highest,
	}, nil
}

// decodeRuntime is the inverse of encodeRuntime plus the version field.
func decodeRuntime(auctionID string, fields map[string]string) (domain.RuntimeState, error) {
	st := domain.RuntimeState{
		AuctionID: auctionID,
		Status:    domain.AuctionStatus(fields[fieldStatus]),
		SellerID:  fields[fieldSellerID],
	}

	startMs, err := strconv.ParseInt(fields[fieldStartMs], 10, 64)
	if err != nil {
		return st, fmt.Errorf("start_ms: %w", err)
	}
	deadlineMs, err := strconv.ParseInt(fields[fieldDeadlineMs], 10, 64)
	if err != nil {
		return st, fmt.Errorf("deadline_ms: %w", err)
	}
	st.StartTime = time.UnixMilli(startMs).UTC()
	st.Deadline = time.UnixMilli(deadlineMs).UTC()

	if st.StartingPrice, err = decimal.NewFromString(fields[fieldStartingPrice]); err != nil {
		return st, fmt.Errorf("starting_price: %w", err)
	}
	if st.Version, err = strconv.ParseInt(fields[fieldVersion], 10, 64); err != nil {
		return st, fmt.Errorf("version: %w", err)
	}

	if raw := fields[fieldHighest]; raw != "" {
		var h domain.BidSnapshot
		if err := json.Unmarshal([]byte(raw), &h); err != nil {
			return st, fmt.Errorf("highest: %w", err)
		}
		st.Highest = &h
	}
	return st, nil
}

// Compile-time interface check.
var _ domain.RuntimeStore = (*RuntimeStore)(nil)
