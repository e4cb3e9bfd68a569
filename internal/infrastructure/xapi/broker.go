package xapi

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/sirupsen/logrus"

	trading "webhook-bridge/internal/domain/entity/trading"
	"webhook-bridge/internal/domain/interfaces"
)

// Broker adapts a Session to the trading domain.
type Broker struct {
	session *Session
	logger  *logrus.Entry
}

var _ interfaces.Broker = (*Broker)(nil)

func NewBroker(session *Session, logger *logrus.Logger) *Broker {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Broker{
		session: session,
		logger:  logger.WithField("component", "xapi_broker"),
	}
}

func (b *Broker) EnsureSession(ctx context.Context) error {
	return b.session.Ensure(ctx)
}

func (b *Broker) Authenticate(ctx context.Context) (trading.SessionStatus, error) {
	return b.session.Authenticate(ctx)
}

func (b *Broker) SessionStatus() trading.SessionStatus {
	return b.session.Status()
}

func (b *Broker) Ping(ctx context.Context) error {
	return b.session.Ping(ctx)
}

// PlaceOrder sends a single tradeTransaction and relays the reply as is.
func (b *Broker) PlaceOrder(ctx context.Context, order trading.Order) (trading.Result, error) {
	info := TradeTransInfo{
		Cmd:           order.Action.SideCode(),
		Symbol:        order.Symbol,
		Volume:        order.Volume,
		Type:          TypeOrderOpen,
		Price:         order.Price,
		CustomComment: order.Comment,
	}
	if order.Close {
		// positions opened through the bridge are always long
		info.Cmd = CmdBuy
		info.Type = TypeOrderClose
		info.Order = order.OrderID
	}

	b.logger.WithFields(logrus.Fields{
		"symbol": info.Symbol,
		"cmd":    info.Cmd,
		"type":   info.Type,
		"volume": info.Volume,
		"price":  info.Price,
	}).Info("sending trade transaction")

	resp, err := b.session.Execute(ctx, TradeTransactionCommand(info))
	if err != nil {
		return trading.FailureResult(err), err
	}
	return trading.NewResult(resp.Raw), nil
}

type symbolRecord struct {
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
}

func (b *Broker) Quote(ctx context.Context, symbol string) (trading.Quote, error) {
	resp, err := b.session.Execute(ctx, GetSymbolCommand(symbol))
	if err != nil {
		return trading.Quote{}, err
	}
	if err := resp.Err(); err != nil {
		return trading.Quote{}, fmt.Errorf("getSymbol %s: %w", symbol, err)
	}

	var rec symbolRecord
	if err := sonic.Unmarshal(resp.ReturnData, &rec); err != nil {
		return trading.Quote{}, trading.NewTransportError("getSymbol", err)
	}
	if rec.Symbol == "" {
		rec.Symbol = symbol
	}
	return trading.Quote{Symbol: rec.Symbol, Bid: rec.Bid, Ask: rec.Ask}, nil
}

type tradeRecord struct {
	Order     int64   `json:"order"`
	Position  int64   `json:"position"`
	Symbol    string  `json:"symbol"`
	Cmd       int     `json:"cmd"`
	Volume    float64 `json:"volume"`
	OpenPrice float64 `json:"open_price"`
	Profit    float64 `json:"profit"`
	Closed    bool    `json:"closed"`
}

// OpenTrades lists trades the broker reports as still open.
func (b *Broker) OpenTrades(ctx context.Context) ([]trading.OpenTrade, error) {
	resp, err := b.session.Execute(ctx, GetTradesCommand(true))
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, fmt.Errorf("getTrades: %w", err)
	}

	var records []tradeRecord
	if len(resp.ReturnData) > 0 {
		if err := sonic.Unmarshal(resp.ReturnData, &records); err != nil {
			return nil, trading.NewTransportError("getTrades", err)
		}
	}

	trades := make([]trading.OpenTrade, 0, len(records))
	for _, r := range records {
		if r.Closed {
			continue
		}
		trades = append(trades, trading.OpenTrade{
			Order:     r.Order,
			Position:  r.Position,
			Symbol:    r.Symbol,
			Cmd:       r.Cmd,
			Volume:    r.Volume,
			OpenPrice: r.OpenPrice,
			Profit:    r.Profit,
		})
	}
	return trades, nil
}

func (b *Broker) Close(ctx context.Context) error {
	return b.session.Logout(ctx)
}
