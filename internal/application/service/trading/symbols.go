package trading

import "strings"

// DefaultSymbols maps charting tickers to broker instrument names.
var DefaultSymbols = map[string]string{
	"BTCUSD": "BITCOIN",
	"ETHUSD": "ETHEREUM",
	"XAUUSD": "GOLD",
	"XAGUSD": "SILVER",
	"US30":   "US30",
	"NAS100": "US100",
	"SPX500": "US500",
	"USOIL":  "OIL.WTI",
	"UKOIL":  "OIL",
	"GER40":  "DE40",
}

// SymbolMapper translates symbols with a static table. Unknown symbols pass
// through unchanged, and broker names map to themselves.
type SymbolMapper struct {
	table map[string]string
}

func NewSymbolMapper(overrides map[string]string) *SymbolMapper {
	table := make(map[string]string, len(DefaultSymbols)+len(overrides))
	for from, to := range DefaultSymbols {
		table[from] = to
	}
	for from, to := range overrides {
		table[strings.ToUpper(strings.TrimSpace(from))] = strings.TrimSpace(to)
	}
	return &SymbolMapper{table: table}
}

func (m *SymbolMapper) Map(symbol string) string {
	symbol = strings.TrimSpace(symbol)
	if mapped, ok := m.table[strings.ToUpper(symbol)]; ok {
		return mapped
	}
	return symbol
}
