package xapi

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	trading "webhook-bridge/internal/domain/entity/trading"
	"webhook-bridge/internal/pkg/retry"
)

const DefaultAppName = "TradingViewWebhook"

// SessionConfig holds the login credentials and the refresh policy.
type SessionConfig struct {
	UserID   string
	Password string
	AppName  string
	// TTL is how long a login stays valid. Zero re-authenticates before
	// every trade.
	TTL   time.Duration
	Retry retry.Config
}

// Authorizer is implemented by transports that carry the session token on
// every request instead of binding it to the connection.
type Authorizer interface {
	Authorize(token string)
}

// TransportFactory builds a fresh, unconnected transport for each login.
type TransportFactory func() Transport

// Session owns the broker transport and its login state.
//
// unauthenticated -> authenticating -> authenticated -> expired -> authenticating.
// A login that fails every attempt falls back to unauthenticated.
type Session struct {
	cfg          SessionConfig
	newTransport TransportFactory
	logger       *logrus.Entry
	now          func() time.Time

	// authMu is held exclusively by logins and logout, and shared by commands
	// so a transport is never swapped out from under one. mu guards the
	// fields below.
	authMu sync.RWMutex
	mu     sync.RWMutex

	transport       Transport
	state           trading.SessionState
	sessionID       string
	authenticatedAt time.Time
	expiresAt       time.Time
	attempts        int
}

func NewSession(cfg SessionConfig, newTransport TransportFactory, logger *logrus.Logger) *Session {
	if cfg.AppName == "" {
		cfg.AppName = DefaultAppName
	}
	if cfg.TTL < 0 {
		cfg.TTL = 0
	}
	if cfg.Retry.Attempts <= 0 {
		cfg.Retry.Attempts = 3
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Session{
		cfg:          cfg,
		newTransport: newTransport,
		logger:       logger.WithField("component", "xapi_session"),
		now:          time.Now,
		state:        trading.SessionUnauthenticated,
	}
}

// Status returns a snapshot; an authenticated session past its expiry
// reports expired.
func (s *Session) Status() trading.SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statusLocked()
}

func (s *Session) statusLocked() trading.SessionStatus {
	st := trading.SessionStatus{
		State:           s.state,
		SessionID:       s.sessionID,
		AuthenticatedAt: s.authenticatedAt,
		ExpiresAt:       s.expiresAt,
		Attempts:        s.attempts,
	}
	if st.State == trading.SessionAuthenticated && !s.now().Before(s.expiresAt) {
		st.State = trading.SessionExpired
	}
	return st
}

// Authenticate always performs a fresh login.
func (s *Session) Authenticate(ctx context.Context) (trading.SessionStatus, error) {
	s.authMu.Lock()
	defer s.authMu.Unlock()
	return s.authenticateLocked(ctx)
}

// Ensure logs in only when the current session is not valid.
func (s *Session) Ensure(ctx context.Context) error {
	if s.Status().Valid() {
		return nil
	}

	s.authMu.Lock()
	defer s.authMu.Unlock()

	// another caller may have refreshed while we waited
	if s.Status().Valid() {
		return nil
	}
	_, err := s.authenticateLocked(ctx)
	return err
}

func (s *Session) authenticateLocked(ctx context.Context) (trading.SessionStatus, error) {
	s.mu.Lock()
	s.state = trading.SessionAuthenticating
	s.attempts = 0
	s.mu.Unlock()

	onRetry := func(attempt int, err error, delay time.Duration) {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt,
			"delay":   delay.String(),
		}).Warn("login failed, retrying")
	}

	type login struct {
		transport Transport
		sessionID string
	}

	res, err := retry.Do(ctx, s.cfg.Retry, retry.Always, onRetry, func(attempt int) (login, error) {
		s.mu.Lock()
		s.attempts = attempt
		s.mu.Unlock()

		t, id, err := s.login(ctx)
		return login{transport: t, sessionID: id}, err
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		if !trading.IsAuthentication(err) {
			err = trading.NewAuthenticationError("login aborted", err)
		}
		s.dropTransportLocked()
		s.state = trading.SessionUnauthenticated
		s.sessionID = ""
		s.logger.WithError(err).WithField("attempts", s.attempts).Error("authentication failed")
		return s.statusLocked(), err
	}

	s.dropTransportLocked()
	now := s.now()
	s.transport = res.transport
	s.sessionID = res.sessionID
	s.state = trading.SessionAuthenticated
	s.authenticatedAt = now
	s.expiresAt = now.Add(s.cfg.TTL)

	s.logger.WithFields(logrus.Fields{
		"attempts":   s.attempts,
		"expires_at": s.expiresAt,
	}).Info("authenticated")

	return s.statusLocked(), nil
}

// login opens a new transport and sends the login command on it. The
// transport is closed on any failure.
func (s *Session) login(ctx context.Context) (Transport, string, error) {
	t := s.newTransport()

	if err := t.Connect(ctx); err != nil {
		_ = t.Close()
		return nil, "", trading.NewAuthenticationError("connect", err)
	}

	resp, err := t.Execute(ctx, LoginCommand(s.cfg.UserID, s.cfg.Password, s.cfg.AppName))
	if err != nil {
		_ = t.Close()
		return nil, "", trading.NewAuthenticationError("login reply", err)
	}
	if !resp.Status {
		_ = t.Close()
		return nil, "", trading.NewAuthenticationError("login rejected", resp.Err())
	}
	if resp.StreamSessionID == "" {
		_ = t.Close()
		return nil, "", trading.NewAuthenticationError("login reply without streamSessionId", nil)
	}

	if a, ok := t.(Authorizer); ok {
		a.Authorize(resp.StreamSessionID)
	}
	return t, resp.StreamSessionID, nil
}

// Execute sends cmd over the authenticated transport. A transport failure
// invalidates the session so the next Ensure logs in again.
func (s *Session) Execute(ctx context.Context, cmd Command) (*Response, error) {
	s.authMu.RLock()
	defer s.authMu.RUnlock()

	s.mu.RLock()
	t := s.transport
	s.mu.RUnlock()

	if t == nil {
		return nil, trading.NewTransportError(cmd.Command, ErrConnectionBroken)
	}

	resp, err := t.Execute(ctx, cmd)
	if err != nil {
		s.invalidate(t)
		return nil, trading.NewTransportError(cmd.Command, err)
	}
	return resp, nil
}

func (s *Session) invalidate(t Transport) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.transport != t {
		return
	}
	s.dropTransportLocked()
	s.state = trading.SessionUnauthenticated
	s.sessionID = ""
	s.logger.Warn("session invalidated after transport error")
}

func (s *Session) dropTransportLocked() {
	if s.transport == nil {
		return
	}
	_ = s.transport.Close()
	s.transport = nil
}

// Ping sends a keep-alive on a valid session. It is a no-op otherwise.
func (s *Session) Ping(ctx context.Context) error {
	if !s.Status().Valid() {
		return nil
	}
	resp, err := s.Execute(ctx, PingCommand())
	if err != nil {
		return err
	}
	return resp.Err()
}

// Logout ends the session and closes the transport.
func (s *Session) Logout(ctx context.Context) error {
	s.authMu.Lock()
	defer s.authMu.Unlock()

	s.mu.RLock()
	t := s.transport
	s.mu.RUnlock()
	if t == nil {
		return nil
	}

	_, err := t.Execute(ctx, LogoutCommand())

	s.mu.Lock()
	s.dropTransportLocked()
	s.state = trading.SessionUnauthenticated
	s.sessionID = ""
	s.mu.Unlock()

	s.logger.Info("logged out")
	return err
}
