package redis

import (
	"testing"
	"time"

	"github.com/alanyoungcy/auctiond/internal/domain"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"
)

func toFields(t *testing.T, args []any) map[string]string {
	t.Helper()
	assert.Equal(t, 0, len(args)%2)
	out := make(map[string]string, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		k := args[i].(string)
		switch v := args[i+1].(type) {
		case string:
			out[k] = v
		case int64:
			out[k] = decimal.NewFromInt(v).String()
		default:
			t.Fatalf("unexpected value type %T for %s", v, k)
		}
	}
	return out
}

func TestEncodeDecodeRuntime(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	st := domain.RuntimeState{
		AuctionID:     "a1",
		Status:        domain.AuctionStatusLive,
		StartTime:     start,
		Deadline:      start.Add(time.Minute),
		StartingPrice: decimal.RequireFromString("100"),
		SellerID:      "s1",
		Highest: &domain.BidSnapshot{
			Amount:     decimal.RequireFromString("150.50"),
			BidderID:   "b1",
			BidderName: "Alice",
			PlacedAt:   start.Add(10 * time.Second),
		},
	}

	args, err := encodeRuntime(st)
	assert.NoError(t, err)
	fields := toFields(t, args)
	_, hasVersion := fields[fieldVersion]
	check.False(t, hasVersion)

	fields[fieldVersion] = "3"
	got, err := decodeRuntime("a1", fields)
	assert.NoError(t, err)

	check.Equal(t, "a1", got.AuctionID)
	check.Equal(t, domain.AuctionStatusLive, got.Status)
	check.True(t, got.StartTime.Equal(st.StartTime))
	check.True(t, got.Deadline.Equal(st.Deadline))
	check.True(t, got.StartingPrice.Equal(st.StartingPrice))
	check.Equal(t, "s1", got.SellerID)
	check.Equal(t, int64(3), got.Version)
	assert.NotNil(t, got.Highest)
	check.True(t, got.Highest.Amount.Equal(decimal.RequireFromString("150.5")))
	check.Equal(t, "b1", got.Highest.BidderID)
	check.Equal(t, "Alice", got.Highest.BidderName)
}

func TestDecodeRuntimeWithoutHighest(t *testing.T) {
	fields := map[string]string{
		fieldStatus:        "upcoming",
		fieldStartMs:       "1700000000000",
		fieldDeadlineMs:    "1700000060000",
		fieldStartingPrice: "5",
		fieldSellerID:      "s",
		fieldHighest:       "",
		fieldVersion:       "1",
	}
	got, err := decodeRuntime("x", fields)
	assert.NoError(t, err)
	check.True(t, got.Highest == nil)
	check.Equal(t, 60*time.Second, got.Deadline.Sub(got.StartTime))
}

func TestDecodeRuntimeRejectsCorruptFields(t *testing.T) {
	base := func() map[string]string {
		return map[string]string{
			fieldStatus:        "live",
			fieldStartMs:       "1",
			fieldDeadlineMs:    "2",
			fieldStartingPrice: "1",
			fieldVersion:       "1",
		}
	}
	for _, field := range []string{fieldStartMs, fieldDeadlineMs, fieldStartingPrice, fieldVersion, fieldHighest} {
		t.Run(field, func(t *testing.T) {
			fields := base()
			fields[field] = "{not-valid"
			_, err := decodeRuntime("x", fields)
			check.Error(t, err)
		})
	}
}

func TestParseScheduleMember(t *testing.T) {
	due := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	got, ok := parseScheduleMember("deadline:a-1", float64(due.UnixMilli()))
	assert.True(t, ok)
	check.Equal(t, domain.TransitionPendingDeadline, got.Kind)
	check.Equal(t, "a-1", got.AuctionID)
	check.True(t, got.Due.Equal(due))

	_, ok = parseScheduleMember("bogus:a-1", 0)
	check.False(t, ok)
	_, ok = parseScheduleMember("start:", 0)
	check.False(t, ok)
	_, ok = parseScheduleMember("nocolon", 0)
	check.False(t, ok)
}

func TestKeys(t *testing.T) {
	check.Equal(t, "auction:42:rt", runtimeKey("42"))
	check.Equal(t, "lock:auction:42:bid", lockKey("auction:42:bid"))
	check.Equal(t, "start:42", scheduleMember(domain.TransitionPendingStart, "42"))
	check.True(t, hasPattern("ch:auction:*"))
	check.False(t, hasPattern("ch:auction:42"))
}
