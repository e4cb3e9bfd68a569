package interfaces

import (
	"context"

	trading "webhook-bridge/internal/domain/entity/trading"
)

type PositionRepository interface {
	// Get returns nil without error when the symbol has no record.
	Get(ctx context.Context, symbol string) (*trading.Position, error)
	Save(ctx context.Context, position trading.Position) error
	List(ctx context.Context) ([]trading.Position, error)
	// Lock serialises gating for one symbol until the returned func is called.
	Lock(ctx context.Context, symbol string) (func(), error)
	Close() error
}
