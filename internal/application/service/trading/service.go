package trading

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	trading "webhook-bridge/internal/domain/entity/trading"
	interfaces "webhook-bridge/internal/domain/interfaces"
)

var (
	ErrInvalidVolume = errors.New("volume must be a positive number")
	ErrEmptySymbol   = errors.New("symbol is empty")
)

// PriceMode selects the price sent with market orders.
type PriceMode string

const (
	PriceMarket PriceMode = "market"
	PriceQuote  PriceMode = "quote"
)

// SellMode selects how a sell signal is executed.
type SellMode string

const (
	// SellOrder opens a sell order, like a buy with the opposite side.
	SellOrder SellMode = "order"
	// SellClose closes the open broker trade for the symbol.
	SellClose SellMode = "close"
)

type Config struct {
	PriceMode PriceMode
	SellMode  SellMode
}

type Service struct {
	broker    interfaces.Broker
	positions interfaces.PositionRepository
	events    interfaces.EventPublisher
	symbols   *SymbolMapper
	cfg       Config
	logger    *logrus.Entry
	now       func() time.Time
}

// NewService wires the executor. positions and events may be nil to disable
// gating and trade events.
func NewService(
	broker interfaces.Broker,
	positions interfaces.PositionRepository,
	events interfaces.EventPublisher,
	symbols *SymbolMapper,
	cfg Config,
	logger *logrus.Logger,
) *Service {
	if symbols == nil {
		symbols = NewSymbolMapper(nil)
	}
	if cfg.PriceMode == "" {
		cfg.PriceMode = PriceMarket
	}
	if cfg.SellMode == "" {
		cfg.SellMode = SellOrder
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{
		broker:    broker,
		positions: positions,
		events:    events,
		symbols:   symbols,
		cfg:       cfg,
		logger:    logger.WithField("component", "trade_executor"),
		now:       time.Now,
	}
}

// NewTradeRequest validates a signal and resolves the broker symbol.
func (s *Service) NewTradeRequest(action, symbol string, volume float64) (trading.TradeRequest, error) {
	act, err := trading.ParseAction(action)
	if err != nil {
		return trading.TradeRequest{}, err
	}
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return trading.TradeRequest{}, trading.NewValidationError("symbol", ErrEmptySymbol.Error())
	}
	if volume <= 0 {
		return trading.TradeRequest{}, trading.NewValidationError("volume", ErrInvalidVolume.Error())
	}
	return trading.TradeRequest{
		ID:           uuid.New(),
		Action:       act,
		Symbol:       symbol,
		BrokerSymbol: s.symbols.Map(symbol),
		Volume:       volume,
		ReceivedAt:   s.now().UTC(),
	}, nil
}

// MapSymbol exposes the symbol table.
func (s *Service) MapSymbol(symbol string) string {
	return s.symbols.Map(symbol)
}

// PlaceTrade gates, submits and records a single trade. The returned result
// is always well formed: the broker reply on submission, or a failure body
// describing err.
func (s *Service) PlaceTrade(ctx context.Context, req trading.TradeRequest) (trading.Result, error) {
	start := s.now()
	if req.BrokerSymbol == "" {
		req.BrokerSymbol = s.symbols.Map(req.Symbol)
	}
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	if req.ReceivedAt.IsZero() {
		req.ReceivedAt = start.UTC()
	}

	log := s.logger.WithFields(logrus.Fields{
		"request_id":    req.ID.String(),
		"action":        req.Action.String(),
		"symbol":        req.Symbol,
		"broker_symbol": req.BrokerSymbol,
		"volume":        req.Volume,
	})

	order := trading.Order{Action: req.Action, Symbol: req.BrokerSymbol, Volume: req.Volume}

	if s.positions != nil {
		unlock, err := s.positions.Lock(ctx, req.BrokerSymbol)
		if err != nil {
			return s.fail(ctx, log, req, order, fmt.Errorf("lock position: %w", err), start)
		}
		defer unlock()

		if err := s.gate(ctx, req); err != nil {
			return s.fail(ctx, log, req, order, err, start)
		}
	}

	if err := s.broker.EnsureSession(ctx); err != nil {
		return s.fail(ctx, log, req, order, err, start)
	}

	order, err := s.buildOrder(ctx, req)
	if err != nil {
		return s.fail(ctx, log, req, order, err, start)
	}

	res, err := s.broker.PlaceOrder(ctx, order)
	if err != nil {
		return s.fail(ctx, log, req, order, err, start)
	}

	if res.OK() {
		log.WithField("price", order.Price).Info("trade accepted")
		if s.positions != nil {
			pos := trading.PositionAfter(req.BrokerSymbol, req.Action, s.now())
			// the order went through, so a store failure is only logged
			if err := s.positions.Save(ctx, pos); err != nil {
				log.WithError(err).Error("failed to record position")
			}
		}
	} else {
		log.WithField("reply", string(res.Body)).Warn("trade rejected by broker")
	}

	s.publish(ctx, req, order, res, nil, start)
	return res, nil
}

func (s *Service) gate(ctx context.Context, req trading.TradeRequest) error {
	pos, err := s.positions.Get(ctx, req.BrokerSymbol)
	if err != nil {
		return fmt.Errorf("read position: %w", err)
	}
	active := pos != nil && pos.Active

	switch {
	case req.Action == trading.ActionBuy && active:
		return trading.NewConflictError(req.BrokerSymbol, trading.MsgPositionExists)
	case req.Action == trading.ActionSell && !active:
		return trading.NewConflictError(req.BrokerSymbol, trading.MsgNoPosition)
	}
	return nil
}

func (s *Service) buildOrder(ctx context.Context, req trading.TradeRequest) (trading.Order, error) {
	order := trading.Order{
		Action:  req.Action,
		Symbol:  req.BrokerSymbol,
		Volume:  req.Volume,
		Comment: req.ID.String(),
	}

	if req.Action == trading.ActionSell && s.cfg.SellMode == SellClose {
		open, err := s.findOpenTrade(ctx, req.BrokerSymbol)
		if err != nil {
			return order, err
		}
		order.Close = true
		order.OrderID = open.Order
		order.Volume = open.Volume
	}

	if s.cfg.PriceMode == PriceQuote || order.Close {
		q, err := s.broker.Quote(ctx, req.BrokerSymbol)
		if err != nil {
			return order, fmt.Errorf("fetch quote: %w", err)
		}
		if req.Action == trading.ActionBuy {
			order.Price = q.Ask
		} else {
			order.Price = q.Bid
		}
	}
	return order, nil
}

func (s *Service) findOpenTrade(ctx context.Context, symbol string) (trading.OpenTrade, error) {
	trades, err := s.broker.OpenTrades(ctx)
	if err != nil {
		return trading.OpenTrade{}, fmt.Errorf("list open trades: %w", err)
	}
	for _, t := range trades {
		if t.Symbol == symbol {
			return t, nil
		}
	}
	return trading.OpenTrade{}, trading.NewConflictError(symbol, trading.MsgNoPosition)
}

func (s *Service) fail(
	ctx context.Context,
	log *logrus.Entry,
	req trading.TradeRequest,
	order trading.Order,
	err error,
	start time.Time,
) (trading.Result, error) {
	res := trading.FailureResult(err)
	if trading.IsConflict(err) {
		log.WithError(err).Warn("trade blocked")
	} else {
		log.WithError(err).Error("trade failed")
	}
	s.publish(ctx, req, order, res, err, start)
	return res, err
}

func (s *Service) publish(
	ctx context.Context,
	req trading.TradeRequest,
	order trading.Order,
	res trading.Result,
	err error,
	start time.Time,
) {
	if s.events == nil {
		return
	}

	executed := s.now()
	event := &trading.TradeEvent{
		ID:           uuid.New(),
		RequestID:    req.ID,
		Symbol:       req.Symbol,
		BrokerSymbol: req.BrokerSymbol,
		Action:       req.Action,
		Volume:       order.Volume,
		Price:        order.Price,
		Success:      err == nil && res.OK(),
		Response:     res.Body,
		ReceivedAt:   req.ReceivedAt,
		ExecutedAt:   executed.UTC(),
		TookMs:       executed.Sub(start).Milliseconds(),
	}
	if err != nil {
		event.Error = err.Error()
	}

	if perr := s.events.PublishTradeEvent(ctx, event); perr != nil {
		s.logger.WithError(perr).WithField("request_id", req.ID.String()).Warn("failed to publish trade event")
	}
}
