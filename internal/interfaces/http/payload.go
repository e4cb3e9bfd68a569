package http

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	trading "webhook-bridge/internal/domain/entity/trading"
)

var requiredFields = []string{"action", "symbol", "volume"}

// webhookPayload is the alert body: {"action": "buy", "symbol": "BTCUSD", "volume": 0.1}.
// volume may also arrive as a numeric string.
type webhookPayload struct {
	Action string  `json:"action" example:"buy" enums:"buy,sell"`
	Symbol string  `json:"symbol" example:"BTCUSD"`
	Volume float64 `json:"volume" example:"0.1"`
}

func parseWebhook(body []byte) (webhookPayload, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil || fields == nil {
		return webhookPayload{}, trading.NewValidationError("body", "request body must be a JSON object")
	}

	var missing []string
	for _, name := range requiredFields {
		raw, ok := fields[name]
		if !ok || isNull(raw) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return webhookPayload{}, trading.NewValidationError(strings.Join(missing, ","),
			"missing required fields: "+strings.Join(missing, ", "))
	}

	var p webhookPayload
	if err := json.Unmarshal(fields["action"], &p.Action); err != nil {
		return webhookPayload{}, trading.NewValidationError("action", "invalid action: must be buy or sell")
	}
	if err := json.Unmarshal(fields["symbol"], &p.Symbol); err != nil || strings.TrimSpace(p.Symbol) == "" {
		return webhookPayload{}, trading.NewValidationError("symbol", "symbol must be a non-empty string")
	}

	volume, err := parseVolume(fields["volume"])
	if err != nil {
		return webhookPayload{}, err
	}
	p.Volume = volume
	return p, nil
}

func parseVolume(raw json.RawMessage) (float64, error) {
	invalid := trading.NewValidationError("volume", "volume must be a positive number")

	text := strings.TrimSpace(string(raw))
	if strings.HasPrefix(text, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, invalid
		}
		text = strings.TrimSpace(s)
	}

	// ParseFloat also takes hex floats and digit separators
	if strings.ContainsAny(text, "xX_") {
		return 0, invalid
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0, invalid
	}
	return v, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || strings.TrimSpace(string(raw)) == "null"
}
