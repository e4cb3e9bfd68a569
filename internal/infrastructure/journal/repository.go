package journal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	trading "webhook-bridge/internal/domain/entity/trading"
	interfaces "webhook-bridge/internal/domain/interfaces"
)

var _ interfaces.TradeJournalRepository = (*Repository)(nil)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(ctx context.Context, dsn string) (*Repository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pgx config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	return &Repository{pool: pool}, nil
}

func (r *Repository) Close() {
	if r == nil || r.pool == nil {
		return
	}
	r.pool.Close()
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

const schema = `
	CREATE TABLE IF NOT EXISTS trade_events (
		event_id      UUID PRIMARY KEY,
		request_id    UUID NOT NULL,
		symbol        TEXT NOT NULL,
		broker_symbol TEXT NOT NULL,
		action        TEXT NOT NULL,
		volume        DOUBLE PRECISION NOT NULL,
		price         DOUBLE PRECISION NOT NULL DEFAULT 0,
		success       BOOLEAN NOT NULL,
		error         TEXT,
		response      JSONB,
		received_at   TIMESTAMPTZ NOT NULL,
		executed_at   TIMESTAMPTZ NOT NULL,
		took_ms       BIGINT NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS trade_events_symbol_executed_idx
		ON trade_events (symbol, executed_at DESC);
	CREATE INDEX IF NOT EXISTS trade_events_executed_idx
		ON trade_events (executed_at DESC);`

// EnsureSchema creates the journal table when it does not exist.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure trade_events schema: %w", err)
	}
	return nil
}

var eventColumns = []string{
	"event_id", "request_id", "symbol", "broker_symbol", "action", "volume", "price",
	"success", "error", "response", "received_at", "executed_at", "took_ms",
}

const insertEventQuery = `
	INSERT INTO trade_events (event_id, request_id, symbol, broker_symbol, action, volume, price,
		success, error, response, received_at, executed_at, took_ms)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	ON CONFLICT (event_id) DO NOTHING`

func (r *Repository) AddEvent(ctx context.Context, event *trading.TradeEvent) error {
	if event == nil {
		return errors.New("nil trade event")
	}
	_, err := r.pool.Exec(ctx, insertEventQuery, eventRow(event)...)
	return err
}

const (
	createStageQuery = `
		CREATE TEMP TABLE trade_events_stage (LIKE trade_events INCLUDING DEFAULTS) ON COMMIT DROP`
	mergeStageQuery = `
		INSERT INTO trade_events SELECT * FROM trade_events_stage
		ON CONFLICT (event_id) DO NOTHING`
)

// AddEvents bulk-loads a batch with COPY through a staging table, so a
// redelivered batch skips events that are already stored.
func (r *Repository) AddEvents(ctx context.Context, events []trading.TradeEvent) error {
	if len(events) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(events))
	for i := range events {
		rows = append(rows, eventRow(&events[i]))
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin trade events batch: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, createStageQuery); err != nil {
		return fmt.Errorf("create trade events stage: %w", err)
	}
	if _, err := tx.CopyFrom(
		ctx,
		pgx.Identifier{"trade_events_stage"},
		eventColumns,
		pgx.CopyFromRows(rows),
	); err != nil {
		return fmt.Errorf("copy trade events: %w", err)
	}
	if _, err := tx.Exec(ctx, mergeStageQuery); err != nil {
		return fmt.Errorf("merge trade events: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit trade events batch: %w", err)
	}
	return nil
}

func (r *Repository) GetLastEvents(ctx context.Context, symbol string, limit int) ([]trading.TradeEvent, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be positive")
	}

	const query = `
		SELECT event_id, request_id, symbol, broker_symbol, action, volume, price,
			success, error, response, received_at, executed_at, took_ms
		FROM trade_events
		WHERE ($1 = '' OR symbol = $1 OR broker_symbol = $1)
		ORDER BY executed_at DESC
		LIMIT $2`
	rows, err := r.pool.Query(ctx, query, symbol, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []trading.TradeEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func eventRow(e *trading.TradeEvent) []any {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	var errText *string
	if e.Error != "" {
		errText = &e.Error
	}
	var response []byte
	if len(e.Response) > 0 {
		response = e.Response
	}
	executed := e.ExecutedAt
	if executed.IsZero() {
		executed = time.Now().UTC()
	}
	received := e.ReceivedAt
	if received.IsZero() {
		received = executed
	}
	return []any{
		e.ID,
		e.RequestID,
		e.Symbol,
		e.BrokerSymbol,
		string(e.Action),
		e.Volume,
		e.Price,
		e.Success,
		errText,
		response,
		received,
		executed,
		e.TookMs,
	}
}

func scanEvent(row pgx.Row) (trading.TradeEvent, error) {
	var (
		event    trading.TradeEvent
		action   string
		errText  *string
		response []byte
	)
	err := row.Scan(
		&event.ID,
		&event.RequestID,
		&event.Symbol,
		&event.BrokerSymbol,
		&action,
		&event.Volume,
		&event.Price,
		&event.Success,
		&errText,
		&response,
		&event.ReceivedAt,
		&event.ExecutedAt,
		&event.TookMs,
	)
	if err != nil {
		return trading.TradeEvent{}, err
	}
	event.Action = trading.Action(action)
	if errText != nil {
		event.Error = *errText
	}
	if len(response) > 0 {
		event.Response = response
	}
	return event, nil
}
