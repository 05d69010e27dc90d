package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/auctiond/internal/domain"
)

type object struct {
	body        []byte
	contentType string
	streamed    bool
}

type fakeWriter struct {
	objects map[string]object
	err     error
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{objects: map[string]object{}}
}

func (w *fakeWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	if w.err != nil {
		return w.err
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.objects[path] = object{body: b, contentType: contentType}
	return nil
}

type fakeStreamWriter struct {
	*fakeWriter
}

func (w fakeStreamWriter) PutMultipart(_ context.Context, path string, data io.Reader, contentType string, _ int64) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.objects[path] = object{body: b, contentType: contentType, streamed: true}
	return nil
}

type fakeHistory struct {
	bids []domain.Bid
	err  error
}

func (h fakeHistory) ListByAuction(context.Context, string, domain.ListOpts) ([]domain.Bid, error) {
	return h.bids, h.err
}

var endedAt = time.Date(2025, 3, 7, 18, 30, 0, 0, time.UTC)

func result() domain.AuctionResult {
	return domain.AuctionResult{
		AuctionID:     "a1",
		WinnerID:      "u2",
		WinnerName:    "Bea",
		WinningAmount: decimal.RequireFromString("150.00"),
		HasWinner:     true,
		EndedAt:       endedAt,
	}
}

func TestResultPath(t *testing.T) {
	t.Parallel()
	check.Equal(t, "results/2025/03/07/a1.json", ResultPath("a1", endedAt))
	check.Equal(t, "results/2025/03/07/a1.bids.jsonl", HistoryPath("a1", endedAt))

	// Partitioned by UTC date.
	local := time.Date(2025, 3, 8, 1, 0, 0, 0, time.FixedZone("UTC+9", 9*3600))
	check.Equal(t, "results/2025/03/07/a1.json", ResultPath("a1", local))
}

func TestArchiveResultOnly(t *testing.T) {
	t.Parallel()
	w := newFakeWriter()
	a := NewResultArchiver(w, nil)

	assert.Nil(t, a.Archive(context.Background(), result()))
	assert.Equal(t, 1, len(w.objects))

	obj, ok := w.objects["results/2025/03/07/a1.json"]
	assert.True(t, ok)
	check.Equal(t, "application/json", obj.contentType)

	var doc map[string]any
	assert.Nil(t, json.Unmarshal(obj.body, &doc))
	check.Equal(t, "a1", doc["auction_id"])
	check.Equal(t, "u2", doc["winner_id"])
	check.Equal(t, "150", doc["winning_amount"])
	check.Equal(t, true, doc["has_winner"])
	_, hasCount := doc["bid_count"]
	check.False(t, hasCount)
}

func TestArchiveWithHistory(t *testing.T) {
	t.Parallel()
	w := fakeStreamWriter{newFakeWriter()}
	bids := []domain.Bid{
		{ID: "b1", AuctionID: "a1", BidderID: "u1", Amount: decimal.RequireFromString("120"), Source: domain.BidSourceRealtime, CreatedAt: endedAt.Add(-time.Minute)},
		{ID: "b2", AuctionID: "a1", BidderID: "u2", Amount: decimal.RequireFromString("150"), Source: domain.BidSourceCatchUp, CreatedAt: endedAt},
	}
	a := NewResultArchiver(w, fakeHistory{bids: bids})

	assert.Nil(t, a.Archive(context.Background(), result()))

	hist, ok := w.objects["results/2025/03/07/a1.bids.jsonl"]
	assert.True(t, ok)
	check.True(t, hist.streamed)
	check.Equal(t, "application/x-ndjson", hist.contentType)

	var lines []bidRecord
	sc := bufio.NewScanner(bytes.NewReader(hist.body))
	for sc.Scan() {
		var r bidRecord
		assert.Nil(t, json.Unmarshal(sc.Bytes(), &r))
		lines = append(lines, r)
	}
	assert.Equal(t, 2, len(lines))
	check.Equal(t, "120.00", lines[0].Amount)
	check.Equal(t, "catchup", lines[1].Source)

	var doc map[string]any
	assert.Nil(t, json.Unmarshal(w.objects["results/2025/03/07/a1.json"].body, &doc))
	check.Equal[any](t, float64(2), doc["bid_count"])
}

func TestArchiveHistoryWithoutStreaming(t *testing.T) {
	t.Parallel()
	w := newFakeWriter()
	a := NewResultArchiver(w, fakeHistory{bids: []domain.Bid{{ID: "b1", Amount: decimal.NewFromInt(1)}}})

	assert.Nil(t, a.Archive(context.Background(), result()))
	hist, ok := w.objects["results/2025/03/07/a1.bids.jsonl"]
	assert.True(t, ok)
	check.False(t, hist.streamed)
}

func TestArchiveErrors(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")

	w := newFakeWriter()
	w.err = boom
	err := NewResultArchiver(w, nil).Archive(context.Background(), result())
	check.True(t, errors.Is(err, boom))

	w = newFakeWriter()
	err = NewResultArchiver(w, fakeHistory{err: boom}).Archive(context.Background(), result())
	check.True(t, errors.Is(err, boom))
	check.Equal(t, 0, len(w.objects))
}
