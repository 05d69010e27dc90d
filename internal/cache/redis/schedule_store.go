package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/auctiond/internal/domain"
	"github.com/redis/go-redis/v9"
)

// scheduleKey is a sorted set of "{kind}:{auctionID}" members scored by the
// due time in Unix milliseconds.
const scheduleKey = "auction:schedule"

// ScheduleStore implements domain.ScheduleStore on a Redis sorted set.
type ScheduleStore struct {
	rdb *redis.Client
}

// NewScheduleStore creates a ScheduleStore backed by the given Client.
func NewScheduleStore(c *Client) *ScheduleStore {
	return &ScheduleStore{rdb: c.Underlying()}
}

func scheduleMember(kind domain.TransitionKind, auctionID string) string {
	return string(kind) + ":" + auctionID
}

// Put records t. An existing entry of the same kind has its due time replaced.
func (s *ScheduleStore) Put(ctx context.Context, t domain.ScheduledTransition) error {
	z := redis.Z{Score: float64(t.Due.UnixMilli()), Member: scheduleMember(t.Kind, t.AuctionID)}
	if err := s.rdb.ZAdd(ctx, scheduleKey, z).Err(); err != nil {
		return fmt.Errorf("redis: schedule put %s %s: %w", t.Kind, t.AuctionID, err)
	}
	return nil
}

// Remove deletes the entry, if any.
func (s *ScheduleStore) Remove(ctx context.Context, kind domain.TransitionKind, auctionID string) error {
	if err := s.rdb.ZRem(ctx, scheduleKey, scheduleMember(kind, auctionID)).Err(); err != nil {
		return fmt.Errorf("redis: schedule remove %s %s: %w", kind, auctionID, err)
	}
	return nil
}

// List returns every pending transition ordered by due time. Members that do
// not parse are skipped.
func (s *ScheduleStore) List(ctx context.Context) ([]domain.ScheduledTransition, error) {
	zs, err := s.rdb.ZRangeWithScores(ctx, scheduleKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: schedule list: %w", err)
	}

	out := make([]domain.ScheduledTransition, 0, len(zs))
	for _, z := range zs {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		t, ok := parseScheduleMember(member, z.Score)
		if !ok {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func parseScheduleMember(member string, score float64) (domain.ScheduledTransition, bool) {
	kind, id, ok := strings.Cut(member, ":")
	if !ok || id == "" {
		return domain.ScheduledTransition{}, false
	}
	switch domain.TransitionKind(kind) {
	case domain.TransitionPendingStart, domain.TransitionPendingDeadline:
	default:
		return domain.ScheduledTransition{}, false
	}
	return domain.ScheduledTransition{
		Kind:      domain.TransitionKind(kind),
		AuctionID: id,
		Due:       time.UnixMilli(int64(score)).UTC(),
	}, true
}

// Compile-time interface check.
var _ domain.ScheduleStore = (*ScheduleStore)(nil)
