package journal

import (
	"context"
	"errors"

	trading "webhook-bridge/internal/domain/entity/trading"
	interfaces "webhook-bridge/internal/domain/interfaces"
)

const MaxLimit = 500

var (
	ErrNilEvent     = errors.New("trade event is nil")
	ErrInvalidLimit = errors.New("limit must be positive")
)

type Service struct {
	repo interfaces.TradeJournalRepository
}

func NewService(repo interfaces.TradeJournalRepository) *Service {
	return &Service{repo: repo}
}

func (s *Service) AddEvent(ctx context.Context, event *trading.TradeEvent) error {
	if event == nil {
		return ErrNilEvent
	}
	return s.repo.AddEvent(ctx, event)
}

func (s *Service) AddEvents(ctx context.Context, events []trading.TradeEvent) error {
	if len(events) == 0 {
		return nil
	}
	return s.repo.AddEvents(ctx, events)
}

// GetLastEvents returns the newest events first. An empty symbol means all
// symbols.
func (s *Service) GetLastEvents(ctx context.Context, symbol string, limit int) ([]trading.TradeEvent, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return s.repo.GetLastEvents(ctx, symbol, limit)
}

func (s *Service) Close() {
	s.repo.Close()
}
