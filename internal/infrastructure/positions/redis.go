// Package positions stores the per-symbol position flag that gates
// duplicate buys and sells without a position.
package positions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	trading "webhook-bridge/internal/domain/entity/trading"
	"webhook-bridge/internal/domain/interfaces"
)

const (
	keyPrefix  = "position:"
	lockPrefix = "lock:position:"

	DefaultLockTTL  = 30 * time.Second
	DefaultLockWait = 10 * time.Second
	lockPoll        = 25 * time.Millisecond
	scanCount       = 100
)

// ErrLockTimeout is returned when another request holds the symbol for
// longer than the configured wait.
var ErrLockTimeout = errors.New("position lock timeout")

// unlockScript deletes the lock only if it still carries our token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var _ interfaces.PositionRepository = (*RedisStore)(nil)

type RedisConfig struct {
	// LockTTL bounds how long a crashed holder can block a symbol.
	LockTTL  time.Duration
	LockWait time.Duration
}

// record is the persisted value under position:<symbol>.
type record struct {
	Active    bool           `json:"active"`
	Timestamp time.Time      `json:"timestamp"`
	Type      trading.Action `json:"type"`
}

type RedisStore struct {
	client   *redis.Client
	lockTTL  time.Duration
	lockWait time.Duration
	logger   *logrus.Entry
}

func NewRedisStore(client *redis.Client, cfg RedisConfig, logger *logrus.Logger) *RedisStore {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLockTTL
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = DefaultLockWait
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RedisStore{
		client:   client,
		lockTTL:  cfg.LockTTL,
		lockWait: cfg.LockWait,
		logger:   logger.WithField("component", "position_store"),
	}
}

func key(symbol string) string {
	return keyPrefix + symbol
}

func (s *RedisStore) Get(ctx context.Context, symbol string) (*trading.Position, error) {
	data, err := s.client.Get(ctx, key(symbol)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get position %s: %w", symbol, err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode position %s: %w", symbol, err)
	}
	return &trading.Position{
		Symbol:    symbol,
		Active:    rec.Active,
		Timestamp: rec.Timestamp,
		Kind:      rec.Type,
	}, nil
}

// Save overwrites the record. Positions never expire.
func (s *RedisStore) Save(ctx context.Context, p trading.Position) error {
	data, err := json.Marshal(record{Active: p.Active, Timestamp: p.Timestamp.UTC(), Type: p.Kind})
	if err != nil {
		return fmt.Errorf("encode position %s: %w", p.Symbol, err)
	}
	if err := s.client.Set(ctx, key(p.Symbol), data, 0).Err(); err != nil {
		return fmt.Errorf("save position %s: %w", p.Symbol, err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context) ([]trading.Position, error) {
	var out []trading.Position

	iter := s.client.Scan(ctx, 0, keyPrefix+"*", scanCount).Iterator()
	for iter.Next(ctx) {
		symbol := strings.TrimPrefix(iter.Val(), keyPrefix)
		p, err := s.Get(ctx, symbol)
		if err != nil {
			return nil, err
		}
		if p != nil {
			out = append(out, *p)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan positions: %w", err)
	}
	return out, nil
}

// Lock takes lock:position:<symbol> with a random token, polling until the
// wait runs out.
func (s *RedisStore) Lock(ctx context.Context, symbol string) (func(), error) {
	lockKey := lockPrefix + symbol
	token := uuid.NewString()

	ctx, cancel := context.WithTimeout(ctx, s.lockWait)
	defer cancel()

	ticker := time.NewTicker(lockPoll)
	defer ticker.Stop()

	for {
		ok, err := s.client.SetNX(ctx, lockKey, token, s.lockTTL).Result()
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("lock position %s: %w", symbol, err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w for %s", ErrLockTimeout, symbol)
		case <-ticker.C:
		}
	}

	unlock := func() {
		// the request context may already be done
		uctx, ucancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer ucancel()
		if err := unlockScript.Run(uctx, s.client, []string{lockKey}, token).Err(); err != nil {
			s.logger.WithError(err).WithField("symbol", symbol).Warn("failed to release position lock")
		}
	}
	return unlock, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
