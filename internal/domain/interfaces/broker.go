package interfaces

import (
	"context"

	trading "webhook-bridge/internal/domain/entity/trading"
)

// Broker is the authenticated command channel to the trading API.
type Broker interface {
	// EnsureSession authenticates unless the cached session is still valid.
	EnsureSession(ctx context.Context) error
	// Authenticate forces a fresh login.
	Authenticate(ctx context.Context) (trading.SessionStatus, error)
	SessionStatus() trading.SessionStatus
	Ping(ctx context.Context) error

	PlaceOrder(ctx context.Context, order trading.Order) (trading.Result, error)
	Quote(ctx context.Context, symbol string) (trading.Quote, error)
	OpenTrades(ctx context.Context) ([]trading.OpenTrade, error)

	Close(ctx context.Context) error
}
