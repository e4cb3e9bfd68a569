package interfaces

import (
	"context"

	trading "webhook-bridge/internal/domain/entity/trading"
)

type EventPublisher interface {
	PublishTradeEvent(ctx context.Context, event *trading.TradeEvent) error
	Close()
}

type TradeJournalRepository interface {
	AddEvent(ctx context.Context, event *trading.TradeEvent) error
	AddEvents(ctx context.Context, events []trading.TradeEvent) error
	GetLastEvents(ctx context.Context, symbol string, limit int) ([]trading.TradeEvent, error)
	Close()
}
