package positions

import (
	"context"
	"fmt"
	"sort"
	"sync"

	trading "webhook-bridge/internal/domain/entity/trading"
	"webhook-bridge/internal/domain/interfaces"
)

var _ interfaces.PositionRepository = (*MemoryStore)(nil)

// MemoryStore keeps positions for the lifetime of the process.
type MemoryStore struct {
	mu        sync.Mutex
	positions map[string]trading.Position
	locks     map[string]chan struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		positions: make(map[string]trading.Position),
		locks:     make(map[string]chan struct{}),
	}
}

func (s *MemoryStore) Get(_ context.Context, symbol string) (*trading.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[symbol]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *MemoryStore) Save(_ context.Context, p trading.Position) error {
	s.mu.Lock()
	s.positions[p.Symbol] = p
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) List(context.Context) ([]trading.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]trading.Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (s *MemoryStore) Lock(ctx context.Context, symbol string) (func(), error) {
	s.mu.Lock()
	ch, ok := s.locks[symbol]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[symbol] = ch
	}
	s.mu.Unlock()

	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w for %s: %w", ErrLockTimeout, symbol, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() { <-ch })
	}, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
