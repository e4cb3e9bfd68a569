package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	appjournal "webhook-bridge/internal/application/service/journal"
	apptrading "webhook-bridge/internal/application/service/trading"
	trading "webhook-bridge/internal/domain/entity/trading"
	interfaces "webhook-bridge/internal/domain/interfaces"
	"webhook-bridge/internal/infrastructure/positions"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type stubBroker struct {
	mu sync.Mutex

	reply    string
	placeErr error
	authErr  error
	pingErr  error
	open     []trading.OpenTrade
	orders   []trading.Order
}

func (b *stubBroker) EnsureSession(context.Context) error { return nil }

func (b *stubBroker) Authenticate(context.Context) (trading.SessionStatus, error) {
	if b.authErr != nil {
		return trading.SessionStatus{State: trading.SessionUnauthenticated, Attempts: 3}, b.authErr
	}
	return b.SessionStatus(), nil
}

func (b *stubBroker) SessionStatus() trading.SessionStatus {
	return trading.SessionStatus{State: trading.SessionAuthenticated, SessionID: "sid", Attempts: 1}
}

func (b *stubBroker) Ping(context.Context) error { return b.pingErr }

func (b *stubBroker) PlaceOrder(_ context.Context, order trading.Order) (trading.Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.orders = append(b.orders, order)
	if b.placeErr != nil {
		return trading.FailureResult(b.placeErr), b.placeErr
	}
	return trading.NewResult(json.RawMessage(b.reply)), nil
}

func (b *stubBroker) Quote(_ context.Context, symbol string) (trading.Quote, error) {
	return trading.Quote{Symbol: symbol, Bid: 1, Ask: 2}, nil
}

func (b *stubBroker) OpenTrades(context.Context) ([]trading.OpenTrade, error) {
	return b.open, nil
}

func (b *stubBroker) Close(context.Context) error { return nil }

func (b *stubBroker) placed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.orders)
}

type memoryJournal struct {
	events []trading.TradeEvent
	symbol string
	limit  int
}

func (j *memoryJournal) AddEvent(_ context.Context, e *trading.TradeEvent) error {
	j.events = append(j.events, *e)
	return nil
}

func (j *memoryJournal) AddEvents(_ context.Context, events []trading.TradeEvent) error {
	j.events = append(j.events, events...)
	return nil
}

func (j *memoryJournal) GetLastEvents(_ context.Context, symbol string, limit int) ([]trading.TradeEvent, error) {
	j.symbol, j.limit = symbol, limit
	return j.events, nil
}

func (j *memoryJournal) Close() {}

func newTestHandler(t *testing.T, broker *stubBroker, opts Options) *Handler {
	t.Helper()
	var store interfaces.PositionRepository = positions.NewMemoryStore()
	svc := apptrading.NewService(broker, store, nil, apptrading.NewSymbolMapper(nil), apptrading.Config{}, quietLogger())
	opts.Logger = quietLogger()
	return NewHandler(svc, opts)
}

func do(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	return out
}

func TestIndex(t *testing.T) {
	h := newTestHandler(t, &stubBroker{}, Options{})

	w := do(h, http.MethodGet, "/", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if w.Body.String() != readyMessage {
		t.Fatalf("body = %q", w.Body.String())
	}
	if w.Header().Get(requestIDHeader) == "" {
		t.Fatal("missing request id header")
	}
}

func TestWebhookRejectsInvalidPayload(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"not json", `not json`, "JSON object"},
		{"array", `[1,2]`, "JSON object"},
		{"missing volume", `{"action":"buy","symbol":"BTCUSD"}`, "missing required fields: volume"},
		{"missing all", `{}`, "missing required fields: action, symbol, volume"},
		{"null symbol", `{"action":"buy","symbol":null,"volume":1}`, "missing required fields: symbol"},
		{"bad action", `{"action":"hold","symbol":"BTCUSD","volume":1}`, "invalid action"},
		{"padded action", `{"action":" BUY ","symbol":"BTCUSD","volume":1}`, "invalid action"},
		{"numeric action", `{"action":1,"symbol":"BTCUSD","volume":1}`, "invalid action"},
		{"empty symbol", `{"action":"buy","symbol":"  ","volume":1}`, "symbol"},
		{"zero volume", `{"action":"buy","symbol":"BTCUSD","volume":0}`, "volume must be a positive number"},
		{"negative volume", `{"action":"buy","symbol":"BTCUSD","volume":-1}`, "volume must be a positive number"},
		{"text volume", `{"action":"buy","symbol":"BTCUSD","volume":"lots"}`, "volume must be a positive number"},
		{"hex volume", `{"action":"buy","symbol":"BTCUSD","volume":"0x1p-3"}`, "volume must be a positive number"},
		{"separated volume", `{"action":"buy","symbol":"BTCUSD","volume":"0x_1"}`, "volume must be a positive number"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			broker := &stubBroker{}
			h := newTestHandler(t, broker, Options{})

			w := do(h, http.MethodPost, "/webhook", tc.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
			}
			msg, _ := decodeBody(t, w)["error"].(string)
			if !strings.Contains(msg, tc.want) {
				t.Fatalf("error = %q, want it to contain %q", msg, tc.want)
			}
			if broker.placed() != 0 {
				t.Fatal("broker must not be called for an invalid payload")
			}
		})
	}
}

func TestWebhookRelaysBrokerReply(t *testing.T) {
	reply := `{"status":true,"returnData":{"order":7}}`
	broker := &stubBroker{reply: reply}
	h := newTestHandler(t, broker, Options{})

	w := do(h, http.MethodPost, "/webhook", `{"action":"BUY","symbol":"btcusd","volume":"0.5"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if w.Body.String() != reply {
		t.Fatalf("body = %s, want verbatim %s", w.Body.String(), reply)
	}

	order := broker.orders[0]
	if order.Symbol != "BITCOIN" || order.Volume != 0.5 || order.Action != trading.ActionBuy {
		t.Fatalf("unexpected order %+v", order)
	}
}

func TestWebhookBrokerRejection(t *testing.T) {
	reply := `{"status":false,"errorCode":"BE005","errorDescr":"market closed"}`
	h := newTestHandler(t, &stubBroker{reply: reply}, Options{})

	w := do(h, http.MethodPost, "/webhook", `{"action":"buy","symbol":"BTCUSD","volume":1}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	if w.Body.String() != reply {
		t.Fatalf("body = %s", w.Body.String())
	}
}

func TestWebhookGatesDuplicateBuy(t *testing.T) {
	broker := &stubBroker{reply: `{"status":true,"returnData":{"order":1}}`}
	h := newTestHandler(t, broker, Options{})

	body := `{"action":"buy","symbol":"BTCUSD","volume":1}`
	if w := do(h, http.MethodPost, "/webhook", body); w.Code != http.StatusOK {
		t.Fatalf("first buy status = %d", w.Code)
	}

	w := do(h, http.MethodPost, "/webhook", body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("second buy status = %d", w.Code)
	}
	got := decodeBody(t, w)
	if got["status"] != false || !strings.Contains(got["error"].(string), trading.MsgPositionExists) {
		t.Fatalf("unexpected body %v", got)
	}
	if broker.placed() != 1 {
		t.Fatalf("orders = %d, want 1", broker.placed())
	}
}

func TestWebhookTransportFailure(t *testing.T) {
	broker := &stubBroker{placeErr: trading.NewTransportError("tradeTransaction", errors.New("reset"))}
	h := newTestHandler(t, broker, Options{})

	w := do(h, http.MethodPost, "/webhook", `{"action":"buy","symbol":"BTCUSD","volume":1}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	if got := decodeBody(t, w); got["status"] != false || got["error"] == "" {
		t.Fatalf("unexpected body %v", got)
	}
}

func TestWebhookUnexpectedFailure(t *testing.T) {
	broker := &stubBroker{placeErr: errors.New("boom")}
	h := newTestHandler(t, broker, Options{})

	w := do(h, http.MethodPost, "/webhook", `{"action":"buy","symbol":"BTCUSD","volume":1}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestTestConnection(t *testing.T) {
	h := newTestHandler(t, &stubBroker{}, Options{})

	w := do(h, http.MethodGet, "/test-connection", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	got := decodeBody(t, w)
	if got["connected"] != true || got["session_id"] != "sid" {
		t.Fatalf("unexpected body %v", got)
	}

	h = newTestHandler(t, &stubBroker{authErr: trading.NewAuthenticationError("invalid credentials", nil)}, Options{})
	w = do(h, http.MethodGet, "/test-connection", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	got = decodeBody(t, w)
	if got["connected"] != false || got["error"] == nil {
		t.Fatalf("unexpected body %v", got)
	}
}

func TestPingAndHealth(t *testing.T) {
	h := newTestHandler(t, &stubBroker{}, Options{})
	if w := do(h, http.MethodGet, "/ping", ""); w.Code != http.StatusOK {
		t.Fatalf("ping status = %d", w.Code)
	}

	w := do(h, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d", w.Code)
	}
	if got := decodeBody(t, w); got["session_valid"] != true {
		t.Fatalf("unexpected body %v", got)
	}

	h = newTestHandler(t, &stubBroker{pingErr: errors.New("down")}, Options{})
	if w := do(h, http.MethodGet, "/ping", ""); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("ping status = %d", w.Code)
	}
}

func TestPositionView(t *testing.T) {
	broker := &stubBroker{
		reply: `{"status":true,"returnData":{"order":1}}`,
		open:  []trading.OpenTrade{{Order: 1, Symbol: "BITCOIN"}, {Order: 2, Symbol: "GOLD"}},
	}
	h := newTestHandler(t, broker, Options{})
	do(h, http.MethodPost, "/webhook", `{"action":"buy","symbol":"BTCUSD","volume":1}`)

	w := do(h, http.MethodGet, "/position/BTCUSD", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var view apptrading.PositionsView
	if err := json.Unmarshal(w.Body.Bytes(), &view); err != nil {
		t.Fatal(err)
	}
	if len(view.Tracked) != 1 || !view.Tracked[0].Active || view.Tracked[0].Symbol != "BITCOIN" {
		t.Fatalf("tracked = %+v", view.Tracked)
	}
	if len(view.Open) != 1 || view.Open[0].Order != 1 {
		t.Fatalf("open = %+v", view.Open)
	}

	w = do(h, http.MethodGet, "/positions", "")
	if err := json.Unmarshal(w.Body.Bytes(), &view); err != nil {
		t.Fatal(err)
	}
	if len(view.Open) != 2 || !view.Tracking {
		t.Fatalf("unexpected view %+v", view)
	}
}

func TestTradeJournal(t *testing.T) {
	h := newTestHandler(t, &stubBroker{}, Options{})
	if w := do(h, http.MethodGet, "/trades", ""); w.Code != http.StatusNotFound {
		t.Fatalf("status without journal = %d", w.Code)
	}

	repo := &memoryJournal{events: []trading.TradeEvent{{Symbol: "BTCUSD", Success: true}}}
	h = newTestHandler(t, &stubBroker{}, Options{Journal: appjournal.NewService(repo)})

	w := do(h, http.MethodGet, "/trades?symbol=BTCUSD&limit=10", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if repo.symbol != "BTCUSD" || repo.limit != 10 {
		t.Fatalf("query = %q/%d", repo.symbol, repo.limit)
	}
	var events []trading.TradeEvent
	if err := json.Unmarshal(w.Body.Bytes(), &events); err != nil || len(events) != 1 {
		t.Fatalf("events = %v, err %v", events, err)
	}

	if w := do(h, http.MethodGet, "/trades?limit=abc", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	if w := do(h, http.MethodGet, "/trades?limit=0", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	do(h, http.MethodGet, "/trades", "")
	if repo.limit != defaultTradeLimit {
		t.Fatalf("default limit = %d", repo.limit)
	}
}

func TestCacheServesAndInvalidates(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	broker := &stubBroker{reply: `{"status":true,"returnData":{"order":1}}`}
	h := newTestHandler(t, broker, Options{Cache: client, CacheTTL: time.Minute})

	first := do(h, http.MethodGet, "/position/BTCUSD", "")
	if first.Header().Get("X-Cache") == "HIT" {
		t.Fatal("first read must miss")
	}
	second := do(h, http.MethodGet, "/position/BTCUSD", "")
	if second.Header().Get("X-Cache") != "HIT" || second.Body.String() != first.Body.String() {
		t.Fatalf("second read not served from cache: %q", second.Header().Get("X-Cache"))
	}

	do(h, http.MethodPost, "/webhook", `{"action":"buy","symbol":"BTCUSD","volume":1}`)
	if mr.Exists("cache:GET:/position/BTCUSD?") {
		t.Fatal("cached position survived a trade")
	}

	third := do(h, http.MethodGet, "/position/BTCUSD", "")
	if third.Header().Get("X-Cache") == "HIT" {
		t.Fatal("read after trade must miss")
	}
	if !strings.Contains(third.Body.String(), `"active":true`) {
		t.Fatalf("stale view %s", third.Body.String())
	}
}

func TestRecoversFromPanic(t *testing.T) {
	h := newTestHandler(t, &stubBroker{}, Options{})
	h.router.GET("/explode", func(*gin.Context) { panic("kaboom") })

	w := do(h, http.MethodGet, "/explode", "")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
	if got := decodeBody(t, w); got["error"] != errInternal.Error() {
		t.Fatalf("unexpected body %v", got)
	}
}
