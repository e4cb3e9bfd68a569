package xapi

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	trading "webhook-bridge/internal/domain/entity/trading"
	"webhook-bridge/internal/pkg/retry"
)

type transportFactory struct {
	mu    sync.Mutex
	made  []*fakeTransport
	build func(n int) *fakeTransport
}

func (f *transportFactory) New() Transport {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.build(len(f.made) + 1)
	f.made = append(f.made, t)
	return t
}

func (f *transportFactory) at(i int) *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.made[i]
}

func (f *transportFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.made)
}

func testSessionConfig(ttl time.Duration) SessionConfig {
	return SessionConfig{
		UserID:   "42",
		Password: "secret",
		TTL:      ttl,
		Retry: retry.Config{
			Attempts: 3,
			Delay:    time.Millisecond,
			Backoff:  retry.BackoffFixed,
		},
	}
}

func TestSessionAuthenticatesAfterTwoFailures(t *testing.T) {
	factory := &transportFactory{build: func(n int) *fakeTransport {
		if n < 3 {
			return newFakeTransport(map[string]string{
				"login": `{"status":false,"errorCode":"BE118","errorDescr":"User already logged"}`,
			})
		}
		return newFakeTransport(map[string]string{"login": loginOK})
	}}

	s := NewSession(testSessionConfig(time.Minute), factory.New, quietLogger())

	st, err := s.Authenticate(context.Background())
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if st.State != trading.SessionAuthenticated {
		t.Fatalf("state = %s", st.State)
	}
	if st.Attempts != 3 || factory.count() != 3 {
		t.Fatalf("attempts = %d, transports = %d, want 3", st.Attempts, factory.count())
	}
	if st.SessionID != "stream-1" {
		t.Fatalf("session id = %q", st.SessionID)
	}
	for i, tr := range factory.made[:2] {
		if !tr.closed {
			t.Fatalf("transport %d not closed after failed login", i+1)
		}
	}
	if factory.made[2].token != "stream-1" {
		t.Fatalf("token not handed to transport: %q", factory.made[2].token)
	}
}

func TestSessionAuthenticationFailsAfterAllAttempts(t *testing.T) {
	factory := &transportFactory{build: func(int) *fakeTransport {
		tr := newFakeTransport(nil)
		tr.connectErr = errors.New("connection refused")
		return tr
	}}

	s := NewSession(testSessionConfig(time.Minute), factory.New, quietLogger())

	st, err := s.Authenticate(context.Background())
	if !trading.IsAuthentication(err) {
		t.Fatalf("err = %v, want AuthenticationError", err)
	}
	if st.State != trading.SessionUnauthenticated {
		t.Fatalf("state = %s", st.State)
	}
	if factory.count() != 3 {
		t.Fatalf("transports = %d, want 3", factory.count())
	}
}

func TestSessionMissingStreamSessionID(t *testing.T) {
	factory := &transportFactory{build: func(int) *fakeTransport {
		return newFakeTransport(map[string]string{"login": `{"status":true}`})
	}}
	s := NewSession(testSessionConfig(time.Minute), factory.New, quietLogger())

	if _, err := s.Authenticate(context.Background()); !trading.IsAuthentication(err) {
		t.Fatalf("err = %v, want AuthenticationError", err)
	}
}

func TestSessionEnsureReusesValidSession(t *testing.T) {
	factory := &transportFactory{build: func(int) *fakeTransport {
		return newFakeTransport(map[string]string{"login": loginOK})
	}}
	s := NewSession(testSessionConfig(time.Minute), factory.New, quietLogger())

	for i := 0; i < 3; i++ {
		if err := s.Ensure(context.Background()); err != nil {
			t.Fatalf("ensure %d: %v", i, err)
		}
	}
	if factory.count() != 1 {
		t.Fatalf("logins = %d, want 1", factory.count())
	}
}

func TestSessionExpiry(t *testing.T) {
	factory := &transportFactory{build: func(int) *fakeTransport {
		return newFakeTransport(map[string]string{"login": loginOK})
	}}
	s := NewSession(testSessionConfig(time.Minute), factory.New, quietLogger())

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	if err := s.Ensure(context.Background()); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	now = now.Add(2 * time.Minute)
	if st := s.Status(); st.State != trading.SessionExpired {
		t.Fatalf("state = %s, want expired", st.State)
	}

	if err := s.Ensure(context.Background()); err != nil {
		t.Fatalf("ensure after expiry: %v", err)
	}
	if factory.count() != 2 {
		t.Fatalf("logins = %d, want 2", factory.count())
	}
	if !factory.made[0].closed {
		t.Fatal("old transport not closed on refresh")
	}
}

func TestSessionZeroTTLReauthenticatesEveryTime(t *testing.T) {
	factory := &transportFactory{build: func(int) *fakeTransport {
		return newFakeTransport(map[string]string{"login": loginOK})
	}}
	s := NewSession(testSessionConfig(0), factory.New, quietLogger())

	for i := 0; i < 2; i++ {
		if err := s.Ensure(context.Background()); err != nil {
			t.Fatalf("ensure %d: %v", i, err)
		}
	}
	if factory.count() != 2 {
		t.Fatalf("logins = %d, want 2", factory.count())
	}
}

func TestSessionTransportErrorInvalidates(t *testing.T) {
	tr := newFakeTransport(map[string]string{"login": loginOK})
	s := NewSession(testSessionConfig(time.Minute), func() Transport { return tr }, quietLogger())

	if err := s.Ensure(context.Background()); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	tr.execErr = ErrConnectionBroken
	_, err := s.Execute(context.Background(), PingCommand())
	if !trading.IsTransport(err) || !errors.Is(err, ErrConnectionBroken) {
		t.Fatalf("err = %v, want TransportError wrapping ErrConnectionBroken", err)
	}
	if st := s.Status(); st.State != trading.SessionUnauthenticated {
		t.Fatalf("state = %s, want unauthenticated", st.State)
	}
}

func TestSessionExecuteWithoutLogin(t *testing.T) {
	s := NewSession(testSessionConfig(time.Minute), func() Transport { return newFakeTransport(nil) }, quietLogger())

	if _, err := s.Execute(context.Background(), PingCommand()); !errors.Is(err, ErrConnectionBroken) {
		t.Fatalf("err = %v", err)
	}
}

func TestSessionPingAndLogout(t *testing.T) {
	tr := newFakeTransport(map[string]string{
		"login":  loginOK,
		"ping":   `{"status":true}`,
		"logout": `{"status":true}`,
	})
	s := NewSession(testSessionConfig(time.Minute), func() Transport { return tr }, quietLogger())

	// no-op before login
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("ping before login: %v", err)
	}
	if len(tr.sent()) != 0 {
		t.Fatal("ping sent without a session")
	}

	if err := s.Ensure(context.Background()); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if err := s.Logout(context.Background()); err != nil {
		t.Fatalf("logout: %v", err)
	}

	names := []string{}
	for _, c := range tr.sent() {
		names = append(names, c.Command)
	}
	want := []string{"login", "ping", "logout"}
	if len(names) != len(want) {
		t.Fatalf("commands = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("commands = %v, want %v", names, want)
		}
	}
	if !tr.closed || s.Status().State != trading.SessionUnauthenticated {
		t.Fatal("logout should close the transport and reset the state")
	}
}

func TestSessionLoginWaitsForCommandInFlight(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan string, 1)
	factory := &transportFactory{build: func(n int) *fakeTransport {
		tr := newFakeTransport(map[string]string{
			"login":            loginOK,
			"tradeTransaction": `{"status":true,"returnData":{"order":7}}`,
		})
		if n == 1 {
			tr.hold = map[string]chan struct{}{"tradeTransaction": release}
			tr.entered = entered
		}
		return tr
	}}
	s := NewSession(testSessionConfig(time.Minute), factory.New, quietLogger())
	if err := s.Ensure(context.Background()); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	tradeErr := make(chan error, 1)
	go func() {
		_, err := s.Execute(context.Background(), TradeTransactionCommand(TradeTransInfo{Symbol: "GOLD", Volume: 1}))
		tradeErr <- err
	}()
	<-entered

	authDone := make(chan error, 1)
	go func() {
		_, err := s.Authenticate(context.Background())
		authDone <- err
	}()

	select {
	case <-authDone:
		t.Fatal("login replaced the transport while a command was in flight")
	case <-time.After(50 * time.Millisecond):
	}
	if factory.at(0).isClosed() {
		t.Fatal("transport closed under an in-flight command")
	}

	close(release)
	if err := <-tradeErr; err != nil {
		t.Fatalf("trade: %v", err)
	}
	if err := <-authDone; err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if !factory.at(0).isClosed() || factory.count() != 2 {
		t.Fatalf("old transport closed = %v, transports = %d", factory.at(0).isClosed(), factory.count())
	}
}
