package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"torypto-stream/internal/dispatch"
	"torypto-stream/internal/feed"
	"torypto-stream/internal/metrics"
	"torypto-stream/internal/model"
	"torypto-stream/internal/window"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func mkHistory(n int) []model.Candle {
	out := make([]model.Candle, n)
	for i := range out {
		open := t0.Add(time.Duration(i) * time.Minute)
		out[i] = model.Candle{
			OpenTime:  open,
			Open:      99,
			High:      102,
			Low:       98,
			Close:     100 + float64(i),
			Volume:    10,
			CloseTime: open.Add(time.Minute),
		}
	}
	return out
}

type stubHandle struct {
	once sync.Once
	done chan error
}

func (h *stubHandle) Stop()              { h.once.Do(func() { close(h.done) }) }
func (h *stubHandle) Done() <-chan error { return h.done }

type stubFeed struct {
	mu      sync.Mutex
	history []model.Candle
	out     chan<- model.CandleUpdate
}

func (f *stubFeed) FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error) {
	return f.history, nil
}

func (f *stubFeed) FetchTicker(ctx context.Context, symbol string) (*model.TickerUpdate, error) {
	return &model.TickerUpdate{Symbol: symbol, Price: 3500}, nil
}

func (f *stubFeed) OpenKlineStream(ctx context.Context, symbol, interval string, out chan<- model.CandleUpdate) (feed.Handle, error) {
	f.mu.Lock()
	f.out = out
	f.mu.Unlock()
	return &stubHandle{done: make(chan error, 1)}, nil
}

func (f *stubFeed) OpenTickerStream(ctx context.Context, symbol string, out chan<- model.TickerUpdate) (feed.Handle, error) {
	return &stubHandle{done: make(chan error, 1)}, nil
}

func (f *stubFeed) push(u model.CandleUpdate) {
	f.mu.Lock()
	out := f.out
	f.mu.Unlock()
	out <- u
}

func newTestServer(t *testing.T, f *stubFeed) (*httptest.Server, *dispatch.Dispatcher) {
	t.Helper()
	log := zap.NewNop()
	store := window.NewStore(window.DefaultCapacity, log)
	d := dispatch.New(f, store, nil, metrics.NewNop(), log, dispatch.Config{SeedTimeout: time.Second})

	e := echo.New()
	NewServer(d, metrics.NewNop(), log, 64).Register(e)

	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv, d
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	// Coalesced writes pack frames newline-separated; take the first.
	if i := strings.IndexByte(string(msg), '\n'); i >= 0 {
		msg = msg[:i]
	}
	var m map[string]interface{}
	if err := json.Unmarshal(msg, &m); err != nil {
		t.Fatalf("frame not JSON: %v", err)
	}
	return m
}

func TestKlineEndpointStreamsFrames(t *testing.T) {
	f := &stubFeed{history: mkHistory(50)}
	srv, _ := newTestServer(t, f)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/kline/btcusdt?interval=1m"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	first := readFrame(t, conn)
	if first["event"] != "initial_data" || first["symbol"] != "BTCUSDT" {
		t.Fatalf("first frame = %v, want initial_data for BTCUSDT", first)
	}
	data := first["data"].(map[string]interface{})
	if candles := data["candles"].([]interface{}); len(candles) != 50 {
		t.Fatalf("initial candles = %d, want 50", len(candles))
	}

	f.push(model.CandleUpdate{
		Symbol:   "BTCUSDT",
		Interval: "1m",
		IsFinal:  true,
		Candle: model.Candle{
			OpenTime:  t0.Add(50 * time.Minute),
			Open:      149,
			High:      152,
			Low:       148,
			Close:     150,
			Volume:    5,
			CloseTime: t0.Add(51 * time.Minute),
		},
	})

	second := readFrame(t, conn)
	if second["event"] != "update" {
		t.Fatalf("second frame event = %v, want update", second["event"])
	}
}

func TestKlineEndpointRejectsUnknownInterval(t *testing.T) {
	srv, _ := newTestServer(t, &stubFeed{history: mkHistory(5)})

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/kline/btcusdt?interval=7m"), nil)
	if err == nil {
		t.Fatal("handshake succeeded for unknown interval")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %v, want 400", resp)
	}
}

func TestPriceEndpointStreamsTicker(t *testing.T) {
	srv, _ := newTestServer(t, &stubFeed{})

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/price/ethusdt"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	frame := readFrame(t, conn)
	if frame["event"] != "price_update" || frame["symbol"] != "ETHUSDT" {
		t.Fatalf("frame = %v, want price_update for ETHUSDT", frame)
	}
}

func TestDisconnectReleasesSubscription(t *testing.T) {
	f := &stubFeed{history: mkHistory(50)}
	srv, d := newTestServer(t, f)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/kline/btcusdt?interval=1m"), nil)
	if err != nil {
		t.Fatal(err)
	}
	readFrame(t, conn)
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(d.Status()) == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("subscription survived disconnect: %v", d.Status())
}

func TestStatusEndpoint(t *testing.T) {
	f := &stubFeed{history: mkHistory(50)}
	srv, _ := newTestServer(t, f)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/kline/btcusdt?interval=1m"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	readFrame(t, conn)

	resp, err := http.Get(srv.URL + "/ws/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var status struct {
		ActiveKeys       map[string]int `json:"active_keys"`
		TotalSubscribers int            `json:"total_subscribers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatal(err)
	}
	if status.TotalSubscribers != 1 || status.ActiveKeys["BTCUSDT:1m"] != 1 {
		t.Fatalf("status = %+v, want one BTCUSDT:1m subscriber", status)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &stubFeed{})
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}
