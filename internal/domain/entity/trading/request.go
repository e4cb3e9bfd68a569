package trading

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Action is the direction requested by a webhook.
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
)

// Broker side codes for tradeTransaction.
const (
	SideBuy  = 0
	SideSell = 1
)

// ParseAction accepts exactly buy or sell, in any letter case.
func ParseAction(raw string) (Action, error) {
	switch Action(strings.ToLower(raw)) {
	case ActionBuy:
		return ActionBuy, nil
	case ActionSell:
		return ActionSell, nil
	default:
		return "", NewValidationError("action", "invalid action: must be buy or sell")
	}
}

// SideCode maps the action to the broker's numeric side.
func (a Action) SideCode() int {
	if a == ActionSell {
		return SideSell
	}
	return SideBuy
}

func (a Action) String() string {
	return string(a)
}

// TradeRequest is one validated webhook signal.
type TradeRequest struct {
	ID           uuid.UUID
	Action       Action
	Symbol       string
	BrokerSymbol string
	Volume       float64
	ReceivedAt   time.Time
}

// Order is what gets sent to the broker for a single trade request.
type Order struct {
	Action Action
	Symbol string
	Volume float64
	Price  float64
	// Close marks an ORDER_CLOSE referencing OrderID instead of a new order.
	Close   bool
	OrderID int64
	// Comment is echoed back by the broker; it carries the request id.
	Comment string
}
