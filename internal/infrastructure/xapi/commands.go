package xapi

import (
	"encoding/json"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
)

// Transaction side codes.
const (
	CmdBuy  = 0
	CmdSell = 1
)

// Transaction types.
const (
	TypeOrderOpen  = 0
	TypeOrderClose = 2
)

// Command is the request envelope understood by the broker.
type Command struct {
	Command   string `json:"command"`
	Arguments any    `json:"arguments"`
}

func baseCommand(name string, arguments any) Command {
	if arguments == nil {
		arguments = map[string]any{}
	}
	return Command{Command: name, Arguments: arguments}
}

func LoginCommand(userID, password, appName string) Command {
	return baseCommand("login", map[string]any{
		"userId":   userID,
		"password": password,
		"appName":  appName,
	})
}

func LogoutCommand() Command {
	return baseCommand("logout", nil)
}

func PingCommand() Command {
	return baseCommand("ping", nil)
}

// TradeTransInfo is the payload of tradeTransaction.
type TradeTransInfo struct {
	Cmd           int     `json:"cmd"`
	Symbol        string  `json:"symbol"`
	Volume        float64 `json:"volume"`
	Type          int     `json:"type"`
	Price         float64 `json:"price"`
	Order         int64   `json:"order,omitempty"`
	CustomComment string  `json:"customComment,omitempty"`
}

func TradeTransactionCommand(info TradeTransInfo) Command {
	return baseCommand("tradeTransaction", map[string]any{
		"tradeTransInfo": info,
	})
}

func GetSymbolCommand(symbol string) Command {
	return baseCommand("getSymbol", map[string]any{
		"symbol": symbol,
	})
}

func GetTradesCommand(openedOnly bool) Command {
	return baseCommand("getTrades", map[string]any{
		"openedOnly": openedOnly,
	})
}

func encodeCommand(cmd Command) ([]byte, error) {
	payload, err := sonic.Marshal(cmd)
	if err != nil {
		return nil, errors.Wrapf(err, "marshal %s command", cmd.Command)
	}
	return payload, nil
}

// Response is a decoded broker reply. Raw keeps the exact bytes received so
// the reply can be relayed verbatim.
type Response struct {
	Status          bool            `json:"status"`
	StreamSessionID string          `json:"streamSessionId,omitempty"`
	ReturnData      json.RawMessage `json:"returnData,omitempty"`
	ErrorCode       string          `json:"errorCode,omitempty"`
	ErrorDescr      string          `json:"errorDescr,omitempty"`

	Raw json.RawMessage `json:"-"`
}

func decodeResponse(raw json.RawMessage) (*Response, error) {
	resp := &Response{}
	if err := sonic.Unmarshal(raw, resp); err != nil {
		return nil, errors.Wrap(err, "decode response")
	}
	resp.Raw = raw
	return resp, nil
}

// Err describes a status:false reply.
func (r *Response) Err() error {
	if r.Status {
		return nil
	}
	if r.ErrorCode == "" && r.ErrorDescr == "" {
		return errors.New("broker returned status false")
	}
	return errors.Errorf("broker error %s: %s", r.ErrorCode, r.ErrorDescr)
}
