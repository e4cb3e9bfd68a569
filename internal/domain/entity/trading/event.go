package trading

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TradeEvent records the outcome of one trade attempt for the journal.
type TradeEvent struct {
	ID           uuid.UUID       `json:"id"`
	RequestID    uuid.UUID       `json:"request_id"`
	Symbol       string          `json:"symbol"`
	BrokerSymbol string          `json:"broker_symbol"`
	Action       Action          `json:"action"`
	Volume       float64         `json:"volume"`
	Price        float64         `json:"price"`
	Success      bool            `json:"success"`
	Error        string          `json:"error,omitempty"`
	Response     json.RawMessage `json:"response,omitempty"`
	ReceivedAt   time.Time       `json:"received_at"`
	ExecutedAt   time.Time       `json:"executed_at"`
	TookMs       int64           `json:"took_ms"`
}
