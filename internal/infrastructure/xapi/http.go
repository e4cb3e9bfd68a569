package xapi

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// HTTPClient posts the same command envelope to a REST endpoint. After login
// the session token is sent as a bearer token.
type HTTPClient struct {
	url    string
	http   *http.Client
	logger *logrus.Entry

	mu    sync.RWMutex
	token string
}

var _ Transport = (*HTTPClient)(nil)

func NewHTTPClient(url string, timeout time.Duration, logger *logrus.Logger) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &HTTPClient{
		url:    strings.TrimRight(url, "/"),
		http:   &http.Client{Timeout: timeout},
		logger: logger.WithFields(logrus.Fields{"component": "xapi_http", "url": url}),
	}
}

// Connect is a no-op: every command is its own request.
func (c *HTTPClient) Connect(context.Context) error {
	if c.url == "" {
		return errors.New("broker url is empty")
	}
	return nil
}

// Authorize sets the token used on subsequent commands.
func (c *HTTPClient) Authorize(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *HTTPClient) Execute(ctx context.Context, cmd Command) (*Response, error) {
	payload, err := encodeCommand(cmd)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "post %s", cmd.Command)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s reply", cmd.Command)
	}
	if resp.StatusCode/100 != 2 {
		return nil, errors.Errorf("http %d: %s", resp.StatusCode, string(body))
	}
	c.logger.WithField("command", cmd.Command).Debug("received")

	return decodeResponse(body)
}

func (c *HTTPClient) Close() error {
	c.Authorize("")
	c.http.CloseIdleConnections()
	return nil
}
