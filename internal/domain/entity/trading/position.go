package trading

import "time"

// Position is the locally tracked open/closed state of a broker symbol.
// A missing record is equivalent to an inactive position.
type Position struct {
	Symbol    string    `json:"symbol"`
	Active    bool      `json:"active"`
	Timestamp time.Time `json:"timestamp"`
	Kind      Action    `json:"type"`
}

// PositionAfter returns the state a symbol is in once an action succeeded.
func PositionAfter(symbol string, action Action, at time.Time) Position {
	return Position{
		Symbol:    symbol,
		Active:    action == ActionBuy,
		Timestamp: at.UTC(),
		Kind:      action,
	}
}

// OpenTrade is a trade the broker reports as currently open.
type OpenTrade struct {
	Order     int64   `json:"order"`
	Position  int64   `json:"position"`
	Symbol    string  `json:"symbol"`
	Cmd       int     `json:"cmd"`
	Volume    float64 `json:"volume"`
	OpenPrice float64 `json:"open_price"`
	Profit    float64 `json:"profit"`
}

// Quote is the current bid/ask for a symbol.
type Quote struct {
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
}
