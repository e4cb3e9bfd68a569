package xapi

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"webhook-bridge/internal/pkg/retry"
)

const (
	DefaultAddress = "xapi.xtb.com"
	DefaultPort    = 5124

	defaultConnectAttempts = 3
	defaultConnectDelay    = 250 * time.Millisecond
	defaultReadSize        = 4096
)

// ErrConnectionBroken is returned when there is no live socket to use.
var ErrConnectionBroken = errors.New("socket connection broken")

// Transport sends one command and waits for its reply.
type Transport interface {
	Connect(ctx context.Context) error
	Execute(ctx context.Context, cmd Command) (*Response, error)
	Close() error
}

// DialFunc opens the raw connection. Tests swap it for in-memory pipes.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// ClientConfig controls the socket client.
type ClientConfig struct {
	Host string
	Port int
	TLS  bool

	ConnectAttempts int
	ConnectDelay    time.Duration
	// SendDelay is slept between partial writes of one message.
	SendDelay time.Duration
	// CommandInterval is the minimum spacing between two commands.
	CommandInterval time.Duration
	ReadSize        int
}

// Client is a request/reply JSON client over a persistent TCP or TLS socket.
// Only one command is in flight at a time.
type Client struct {
	cfg     ClientConfig
	dial    DialFunc
	limiter *rate.Limiter
	logger  *logrus.Entry

	mu   sync.Mutex
	conn net.Conn
	dec  FrameDecoder
}

var _ Transport = (*Client)(nil)

// NewClient prepares a client; Connect must be called before Execute.
func NewClient(cfg ClientConfig, logger *logrus.Logger) *Client {
	if cfg.Host == "" {
		cfg.Host = DefaultAddress
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.ConnectAttempts <= 0 {
		cfg.ConnectAttempts = defaultConnectAttempts
	}
	if cfg.ConnectDelay <= 0 {
		cfg.ConnectDelay = defaultConnectDelay
	}
	if cfg.SendDelay < 0 {
		cfg.SendDelay = 0
	}
	if cfg.ReadSize <= 0 {
		cfg.ReadSize = defaultReadSize
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.CommandInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.CommandInterval), 1)
	}

	c := &Client{
		cfg:     cfg,
		limiter: limiter,
		logger:  logger.WithFields(logrus.Fields{"component": "xapi_client", "addr": cfg.addr()}),
	}
	c.dial = c.defaultDial
	return c
}

// WithDialer replaces the network dialer.
func (c *Client) WithDialer(dial DialFunc) *Client {
	c.dial = dial
	return c
}

func (cfg ClientConfig) addr() string {
	return net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
}

func (c *Client) defaultDial(ctx context.Context, network, addr string) (net.Conn, error) {
	if c.cfg.TLS {
		d := &tls.Dialer{Config: &tls.Config{ServerName: c.cfg.Host, MinVersion: tls.VersionTLS12}}
		return d.DialContext(ctx, network, addr)
	}
	var d net.Dialer
	return d.DialContext(ctx, network, addr)
}

// Connect opens the socket, retrying a fixed number of times.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	cfg := retry.Config{
		Attempts: c.cfg.ConnectAttempts,
		Delay:    c.cfg.ConnectDelay,
		Backoff:  retry.BackoffFixed,
	}
	onRetry := func(attempt int, err error, delay time.Duration) {
		c.logger.WithError(err).WithField("attempt", attempt).Warn("connect failed")
	}

	conn, err := retry.Do(ctx, cfg, retry.Always, onRetry, func(int) (net.Conn, error) {
		return c.dial(ctx, "tcp", c.cfg.addr())
	})
	if err != nil {
		return errors.Wrapf(err, "cannot connect to %s after %d tries", c.cfg.addr(), c.cfg.ConnectAttempts)
	}

	c.conn = conn
	c.dec.Reset()
	c.logger.Info("socket connected")
	return nil
}

// Execute sends cmd and blocks until one full reply is decoded. The context
// deadline, when set, bounds the whole exchange.
func (c *Client) Execute(ctx context.Context, cmd Command) (*Response, error) {
	payload, err := encodeCommand(cmd)
	if err != nil {
		return nil, err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "wait for command slot")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, ErrConnectionBroken
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetDeadline(deadline)
		defer func() {
			if c.conn != nil {
				_ = c.conn.SetDeadline(time.Time{})
			}
		}()
	}
	conn := c.conn
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := c.send(payload); err != nil {
		c.dropLocked()
		return nil, errors.Wrapf(err, "send %s", cmd.Command)
	}
	c.logger.WithField("command", cmd.Command).Debug("sent")

	raw, err := c.read()
	if err != nil {
		c.dropLocked()
		return nil, errors.Wrapf(err, "read %s reply", cmd.Command)
	}
	c.logger.WithField("command", cmd.Command).Debug("received")

	return decodeResponse(raw)
}

func (c *Client) send(msg []byte) error {
	sent := 0
	for sent < len(msg) {
		n, err := c.conn.Write(msg[sent:])
		sent += n
		if err != nil {
			return err
		}
		if sent < len(msg) && c.cfg.SendDelay > 0 {
			time.Sleep(c.cfg.SendDelay)
		}
	}
	return nil
}

func (c *Client) read() ([]byte, error) {
	chunk := make([]byte, c.cfg.ReadSize)
	for {
		msg, ok, err := c.dec.Next()
		if err != nil {
			return nil, err
		}
		if ok {
			return msg, nil
		}

		n, err := c.conn.Read(chunk)
		if n > 0 {
			c.dec.Feed(chunk[:n])
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, ErrConnectionBroken
			}
			return nil, err
		}
	}
}

func (c *Client) dropLocked() {
	if c.conn == nil {
		return
	}
	_ = c.conn.Close()
	c.conn = nil
	c.dec.Reset()
}

// Connected reports whether a socket is open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Close releases the socket.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.dec.Reset()
	c.logger.Debug("socket closed")
	return err
}
