package trading

import (
	"encoding/json"
	"time"
)

// Result is the broker reply relayed verbatim to the webhook caller,
// or the structured failure {"error": ..., "status": false}.
type Result struct {
	Body json.RawMessage
	ok   bool
}

// NewResult wraps a raw broker reply. The reply counts as successful only
// when it carries "status": true and no "error" key.
func NewResult(body json.RawMessage) Result {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		return Result{Body: body}
	}
	if _, hasErr := probe["error"]; hasErr {
		return Result{Body: body}
	}
	var status bool
	if raw, ok := probe["status"]; ok {
		_ = json.Unmarshal(raw, &status)
	}
	return Result{Body: body, ok: status}
}

// FailureResult renders err as a well-formed failure result.
func FailureResult(err error) Result {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	body, _ := json.Marshal(struct {
		Error  string `json:"error"`
		Status bool   `json:"status"`
	}{Error: msg, Status: false})
	return Result{Body: body}
}

// OK reports whether the broker accepted the command.
func (r Result) OK() bool {
	return r.ok
}

func (r Result) MarshalJSON() ([]byte, error) {
	if len(r.Body) == 0 {
		return []byte("null"), nil
	}
	return r.Body, nil
}

// SessionState is the lifecycle stage of a broker session.
type SessionState string

const (
	SessionUnauthenticated SessionState = "unauthenticated"
	SessionAuthenticating  SessionState = "authenticating"
	SessionAuthenticated   SessionState = "authenticated"
	SessionExpired         SessionState = "expired"
)

// SessionStatus is a snapshot of the broker session.
type SessionStatus struct {
	State           SessionState `json:"state"`
	SessionID       string       `json:"session_id,omitempty"`
	AuthenticatedAt time.Time    `json:"authenticated_at"`
	ExpiresAt       time.Time    `json:"expires_at"`
	Attempts        int          `json:"attempts,omitempty"`
}

// Valid reports whether commands can be sent without re-authenticating.
func (s SessionStatus) Valid() bool {
	return s.State == SessionAuthenticated
}
