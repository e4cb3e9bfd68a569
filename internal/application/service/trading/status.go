package trading

import (
	"context"
	"time"

	trading "webhook-bridge/internal/domain/entity/trading"
)

// ConnectionStatus is the outcome of a forced login.
type ConnectionStatus struct {
	Connected       bool                 `json:"connected"`
	State           trading.SessionState `json:"state"`
	SessionID       string               `json:"session_id,omitempty"`
	AuthenticatedAt *time.Time           `json:"authenticated_at,omitempty"`
	ExpiresAt       *time.Time           `json:"expires_at,omitempty"`
	Attempts        int                  `json:"attempts"`
	Error           string               `json:"error,omitempty"`
}

// TestConnection forces a fresh login and reports the session.
func (s *Service) TestConnection(ctx context.Context) (ConnectionStatus, error) {
	st, err := s.broker.Authenticate(ctx)
	out := ConnectionStatus{
		Connected: err == nil && st.Valid(),
		State:     st.State,
		SessionID: st.SessionID,
		Attempts:  st.Attempts,
	}
	if err != nil {
		out.Error = err.Error()
		return out, err
	}
	if !st.AuthenticatedAt.IsZero() {
		at, exp := st.AuthenticatedAt, st.ExpiresAt
		out.AuthenticatedAt, out.ExpiresAt = &at, &exp
	}
	return out, nil
}

// PositionsView combines local position records with what the broker
// reports as open. Broker errors are reported inline.
type PositionsView struct {
	Tracking    bool                `json:"tracking"`
	Tracked     []trading.Position  `json:"tracked"`
	Open        []trading.OpenTrade `json:"open"`
	BrokerError string              `json:"broker_error,omitempty"`
}

func (s *Service) Positions(ctx context.Context) (PositionsView, error) {
	view := PositionsView{
		Tracking: s.positions != nil,
		Tracked:  []trading.Position{},
		Open:     []trading.OpenTrade{},
	}

	if s.positions != nil {
		tracked, err := s.positions.List(ctx)
		if err != nil {
			return view, err
		}
		if tracked != nil {
			view.Tracked = tracked
		}
	}

	open, err := s.openTrades(ctx)
	if err != nil {
		view.BrokerError = err.Error()
		return view, nil
	}
	view.Open = open
	return view, nil
}

// Position reports a single symbol; the symbol is mapped first.
func (s *Service) Position(ctx context.Context, symbol string) (PositionsView, error) {
	brokerSymbol := s.symbols.Map(symbol)
	view := PositionsView{
		Tracking: s.positions != nil,
		Tracked:  []trading.Position{},
		Open:     []trading.OpenTrade{},
	}

	if s.positions != nil {
		p, err := s.positions.Get(ctx, brokerSymbol)
		if err != nil {
			return view, err
		}
		if p == nil {
			p = &trading.Position{Symbol: brokerSymbol}
		}
		view.Tracked = append(view.Tracked, *p)
	}

	open, err := s.openTrades(ctx)
	if err != nil {
		view.BrokerError = err.Error()
		return view, nil
	}
	for _, t := range open {
		if t.Symbol == brokerSymbol {
			view.Open = append(view.Open, t)
		}
	}
	return view, nil
}

func (s *Service) openTrades(ctx context.Context) ([]trading.OpenTrade, error) {
	if err := s.broker.EnsureSession(ctx); err != nil {
		return nil, err
	}
	return s.broker.OpenTrades(ctx)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.broker.Ping(ctx)
}

func (s *Service) Health() trading.SessionStatus {
	return s.broker.SessionStatus()
}

// KeepAlive pings the broker every interval until ctx is done.
func (s *Service) KeepAlive(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.broker.Ping(ctx); err != nil {
				s.logger.WithError(err).Warn("keep-alive ping failed")
			}
		}
	}
}

// Close logs out of the broker.
func (s *Service) Close(ctx context.Context) error {
	return s.broker.Close(ctx)
}
