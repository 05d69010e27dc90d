package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/alanyoungcy/auctiond/internal/domain"
)

// BidHistory lists the durable bids of an auction for archival.
type BidHistory interface {
	ListByAuction(ctx context.Context, auctionID string, opts domain.ListOpts) ([]domain.Bid, error)
}

// StreamWriter is implemented by writers that can stream large bodies.
type StreamWriter interface {
	PutMultipart(ctx context.Context, path string, data io.Reader, contentType string, partSize int64) error
}

// historyPartSize is the upload part size used for bid histories.
const historyPartSize = 5 * 1024 * 1024

// ResultArchiver implements domain.ResultArchiver by writing each finalized
// result as a JSON document and, when a bid history source is configured,
// the auction's bids as JSONL next to it.
type ResultArchiver struct {
	writer domain.BlobWriter
	bids   BidHistory
}

// NewResultArchiver creates a ResultArchiver. bids may be nil, in which case
// only the result document is written.
func NewResultArchiver(writer domain.BlobWriter, bids BidHistory) *ResultArchiver {
	return &ResultArchiver{writer: writer, bids: bids}
}

// archivedResult is the stored document.
type archivedResult struct {
	domain.AuctionResult
	ArchivedAt time.Time `json:"archived_at"`
	BidCount   *int      `json:"bid_count,omitempty"`
}

// Archive uploads the result to results/YYYY/MM/DD/<auction>.json,
// partitioned by the end time.
func (a *ResultArchiver) Archive(ctx context.Context, result domain.AuctionResult) error {
	doc := archivedResult{AuctionResult: result, ArchivedAt: time.Now().UTC()}

	if a.bids != nil {
		bids, err := a.bids.ListByAuction(ctx, result.AuctionID, domain.ListOpts{})
		if err != nil {
			return fmt.Errorf("s3blob: archive %s list bids: %w", result.AuctionID, err)
		}
		if err := a.putHistory(ctx, result, bids); err != nil {
			return err
		}
		n := len(bids)
		doc.BidCount = &n
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("s3blob: archive %s marshal: %w", result.AuctionID, err)
	}
	path := ResultPath(result.AuctionID, result.EndedAt)
	if err := a.writer.Put(ctx, path, bytes.NewReader(body), "application/json"); err != nil {
		return fmt.Errorf("s3blob: archive %s upload: %w", result.AuctionID, err)
	}
	return nil
}

func (a *ResultArchiver) putHistory(ctx context.Context, result domain.AuctionResult, bids []domain.Bid) error {
	if len(bids) == 0 {
		return nil
	}
	rows := make([]bidRecord, len(bids))
	for i, b := range bids {
		rows[i] = bidRecord{
			ID:        b.ID,
			BidderID:  b.BidderID,
			Amount:    b.Amount.StringFixed(2),
			Source:    string(b.Source),
			CreatedAt: b.CreatedAt,
		}
	}
	buf, err := marshalJSONL(rows)
	if err != nil {
		return fmt.Errorf("s3blob: archive %s marshal bids: %w", result.AuctionID, err)
	}

	path := HistoryPath(result.AuctionID, result.EndedAt)
	if sw, ok := a.writer.(StreamWriter); ok {
		err = sw.PutMultipart(ctx, path, bytes.NewReader(buf), "application/x-ndjson", historyPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return fmt.Errorf("s3blob: archive %s upload bids: %w", result.AuctionID, err)
	}
	return nil
}

type bidRecord struct {
	ID        string    `json:"id"`
	BidderID  string    `json:"bidder_id"`
	Amount    string    `json:"amount"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

// ResultPath builds the object key for a result document.
//
//	results/2025/01/31/<auction>.json
func ResultPath(auctionID string, endedAt time.Time) string {
	return fmt.Sprintf("results/%s/%s.json", endedAt.UTC().Format("2006/01/02"), auctionID)
}

// HistoryPath builds the object key for an auction's bid history.
func HistoryPath(auctionID string, endedAt time.Time) string {
	return fmt.Sprintf("results/%s/%s.bids.jsonl", endedAt.UTC().Format("2006/01/02"), auctionID)
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.ResultArchiver = (*ResultArchiver)(nil)
