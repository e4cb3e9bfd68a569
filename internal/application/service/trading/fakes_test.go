package trading

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	trading "webhook-bridge/internal/domain/entity/trading"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type fakeBroker struct {
	mu sync.Mutex

	ensureErr error
	authErr   error
	reply     string
	placeErr  error
	quote     trading.Quote
	open      []trading.OpenTrade
	openErr   error

	ensures int
	orders  []trading.Order
	quotes  []string
	pings   int
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{reply: `{"status":true,"returnData":{"order":1}}`}
}

func (b *fakeBroker) EnsureSession(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ensures++
	return b.ensureErr
}

func (b *fakeBroker) Authenticate(context.Context) (trading.SessionStatus, error) {
	if b.authErr != nil {
		return trading.SessionStatus{State: trading.SessionUnauthenticated, Attempts: 3}, b.authErr
	}
	return b.SessionStatus(), nil
}

func (b *fakeBroker) SessionStatus() trading.SessionStatus {
	return trading.SessionStatus{State: trading.SessionAuthenticated, SessionID: "sid", Attempts: 1}
}

func (b *fakeBroker) Ping(context.Context) error {
	b.mu.Lock()
	b.pings++
	b.mu.Unlock()
	return nil
}

func (b *fakeBroker) PlaceOrder(_ context.Context, order trading.Order) (trading.Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.orders = append(b.orders, order)
	if b.placeErr != nil {
		return trading.FailureResult(b.placeErr), b.placeErr
	}
	return trading.NewResult(json.RawMessage(b.reply)), nil
}

func (b *fakeBroker) Quote(_ context.Context, symbol string) (trading.Quote, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.quotes = append(b.quotes, symbol)
	return b.quote, nil
}

func (b *fakeBroker) OpenTrades(context.Context) ([]trading.OpenTrade, error) {
	return b.open, b.openErr
}

func (b *fakeBroker) Close(context.Context) error { return nil }

func (b *fakeBroker) placed() []trading.Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]trading.Order, len(b.orders))
	copy(out, b.orders)
	return out
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []trading.TradeEvent
	err    error
}

func (p *recordingPublisher) PublishTradeEvent(_ context.Context, e *trading.TradeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, *e)
	return p.err
}

func (p *recordingPublisher) Close() {}

var errBoom = errors.New("boom")
