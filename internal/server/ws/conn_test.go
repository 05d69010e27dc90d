package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/auctiond/internal/broadcast"
	"github.com/alanyoungcy/auctiond/internal/domain"
	"github.com/alanyoungcy/auctiond/internal/server/middleware"
)

type call struct {
	Kind      string
	User      string
	AuctionID string
	Amount    string
}

// echoEngine records calls and answers each with an auctionStatus event so
// the client can observe that the frame was handled.
type echoEngine struct {
	mu           sync.Mutex
	calls        []call
	disconnected chan string
}

func newEchoEngine() *echoEngine {
	return &echoEngine{disconnected: make(chan string, 1)}
}

func (e *echoEngine) record(c call, sub broadcast.Subscriber) {
	e.mu.Lock()
	e.calls = append(e.calls, c)
	e.mu.Unlock()
	ev, _ := domain.NewEvent(domain.EventAuctionStatus, c.AuctionID, map[string]string{"handled": c.Kind})
	sub.Deliver(ev)
}

func (e *echoEngine) Join(_ context.Context, sub broadcast.Subscriber, who domain.Identity, id string) error {
	e.record(call{Kind: "join", User: who.UserID, AuctionID: id}, sub)
	return nil
}

func (e *echoEngine) PlaceBid(_ context.Context, sub broadcast.Subscriber, who domain.Identity, id string, amount decimal.Decimal) error {
	e.record(call{Kind: "bid", User: who.UserID, AuctionID: id, Amount: amount.String()}, sub)
	return nil
}

func (e *echoEngine) Leave(sub broadcast.Subscriber, id string) {
	e.record(call{Kind: "leave", AuctionID: id}, sub)
}

func (e *echoEngine) Disconnect(sub broadcast.Subscriber) {
	e.disconnected <- sub.ID()
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startServer(t *testing.T, engine Engine, who *domain.Identity) (*Handler, string) {
	t.Helper()
	h := NewHandler(engine, nil, quietLogger())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if who != nil {
			r = r.WithContext(middleware.WithIdentity(r.Context(), *who))
		}
		h.HandleWS(w, r)
	}))
	t.Cleanup(func() {
		h.CloseAll()
		srv.Close()
	})
	return h, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	assert.Nil(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func readEvent(t *testing.T, c *websocket.Conn) domain.Event {
	t.Helper()
	c.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev domain.Event
	assert.Nil(t, c.ReadJSON(&ev))
	return ev
}

func TestDispatchFrames(t *testing.T) {
	t.Parallel()
	engine := newEchoEngine()
	_, url := startServer(t, engine, &domain.Identity{UserID: "u1", Role: domain.RoleBuyer})
	c := dial(t, url)

	frames := []string{
		`{"type":"joinAuction","auctionId":"a1"}`,
		`{"type":"placeBid","auctionId":"a1","amount":150.5}`,
		`{"type":"placeBid","auctionId":"a1","amount":"175"}`,
		`{"type":"leaveAuction","auctionId":"a1"}`,
	}
	for _, f := range frames {
		assert.Nil(t, c.WriteMessage(websocket.TextMessage, []byte(f)))
		ev := readEvent(t, c)
		check.Equal(t, domain.EventAuctionStatus, ev.Type)
		check.Equal(t, "a1", ev.AuctionID)
	}

	engine.mu.Lock()
	defer engine.mu.Unlock()
	check.Equal(t, []call{
		{Kind: "join", User: "u1", AuctionID: "a1"},
		{Kind: "bid", User: "u1", AuctionID: "a1", Amount: "150.5"},
		{Kind: "bid", User: "u1", AuctionID: "a1", Amount: "175"},
		{Kind: "leave", AuctionID: "a1"},
	}, engine.calls)
}

func TestInvalidFrames(t *testing.T) {
	t.Parallel()
	_, url := startServer(t, newEchoEngine(), &domain.Identity{UserID: "u1", Role: domain.RoleBuyer})
	c := dial(t, url)

	tests := []struct {
		frame string
		want  string
	}{
		{`not json`, msgInvalidFrame},
		{`{"type":"placeBid","auctionId":"a1","amount":"abc"}`, msgInvalidFrame},
		{`{"type":"cancelBid","auctionId":"a1"}`, msgUnknownType},
	}
	for _, tt := range tests {
		assert.Nil(t, c.WriteMessage(websocket.TextMessage, []byte(tt.frame)))
		ev := readEvent(t, c)
		check.Equal(t, domain.EventError, ev.Type)
		var payload domain.ErrorEvent
		assert.Nil(t, json.Unmarshal(ev.Payload, &payload))
		check.Equal(t, tt.want, payload.Message)
	}
}

func TestDisconnectOnClose(t *testing.T) {
	t.Parallel()
	engine := newEchoEngine()
	h, url := startServer(t, engine, &domain.Identity{UserID: "u1", Role: domain.RoleBuyer})
	c := dial(t, url)

	// Round-trip once so the server has registered the connection.
	assert.Nil(t, c.WriteMessage(websocket.TextMessage, []byte(`{"type":"joinAuction","auctionId":"a1"}`)))
	readEvent(t, c)
	check.Equal(t, 1, h.Count())

	c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.Close()

	select {
	case id := <-engine.disconnected:
		check.NotEqual(t, "", id)
	case <-time.After(2 * time.Second):
		t.Fatal("Disconnect was not called")
	}
}

func TestRejectsAnonymous(t *testing.T) {
	t.Parallel()
	_, url := startServer(t, newEchoEngine(), nil)
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	assert.Error(t, err)
	assert.NotNil(t, resp)
	check.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestDeliverAfterClose(t *testing.T) {
	t.Parallel()
	engine := newEchoEngine()
	h, url := startServer(t, engine, &domain.Identity{UserID: "u1", Role: domain.RoleBuyer})
	c := dial(t, url)
	assert.Nil(t, c.WriteMessage(websocket.TextMessage, []byte(`{"type":"joinAuction","auctionId":"a1"}`)))
	readEvent(t, c)

	h.mu.Lock()
	var conn *Conn
	for k := range h.conns {
		conn = k
	}
	h.mu.Unlock()
	assert.NotNil(t, conn)

	conn.Close()
	ev, _ := domain.NewEvent(domain.EventNewBid, "a1", map[string]string{})
	check.False(t, conn.Deliver(ev))
}
