package events

import (
	"fmt"

	"github.com/bytedance/sonic"

	trading "webhook-bridge/internal/domain/entity/trading"
)

const (
	MessageTradeExecuted = "trade.executed"
	messageVersion       = 1
)

// Message is the body published on the trade exchange.
type Message struct {
	Type    string              `json:"type"`
	Version int                 `json:"version"`
	Event   *trading.TradeEvent `json:"event"`
}

func encodeMessage(event *trading.TradeEvent) ([]byte, error) {
	body, err := sonic.Marshal(Message{Type: MessageTradeExecuted, Version: messageVersion, Event: event})
	if err != nil {
		return nil, fmt.Errorf("marshal trade event: %w", err)
	}
	return body, nil
}

func decodeMessage(body []byte) (*trading.TradeEvent, error) {
	var msg Message
	if err := sonic.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if msg.Type != MessageTradeExecuted {
		return nil, fmt.Errorf("unsupported message type %q", msg.Type)
	}
	if msg.Event == nil {
		return nil, fmt.Errorf("trade event payload is nil")
	}
	return msg.Event, nil
}
