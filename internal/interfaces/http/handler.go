// @title           TradingView Webhook Bridge API
// @version         1.0
// @description     Relays charting-platform trade alerts to the XTB xAPI.

// @license.name  Apache 2.0
// @license.url   http://www.apache.org/licenses/LICENSE-2.0.html

// @host      localhost:5000
// @BasePath  /

package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	appinterfaces "webhook-bridge/internal/application/interfaces"
	appjournal "webhook-bridge/internal/application/service/journal"
	apptrading "webhook-bridge/internal/application/service/trading"
	trading "webhook-bridge/internal/domain/entity/trading"
)

const (
	readyMessage      = "XTB TradingView Webhook Listener is running!"
	requestIDHeader   = "X-Request-ID"
	defaultTradeLimit = 50
	maxBodyBytes      = 64 << 10
	positionsCacheKey = "cache:GET:/position*"
)

var (
	errJournalDisabled = errors.New("trade journal is not configured")
	errInternal        = errors.New("internal server error")
)

// Options carries the optional collaborators of the handler.
type Options struct {
	Journal        *appjournal.Service
	Cache          *redis.Client
	CacheTTL       time.Duration
	RequestTimeout time.Duration
	Logger         *logrus.Logger
}

type Handler struct {
	router  *gin.Engine
	trades  *apptrading.Service
	journal *appjournal.Service
	cache   *redis.Client

	cacheTTL       time.Duration
	requestTimeout time.Duration
	logger         *logrus.Entry
}

var _ appinterfaces.HTTPHandler = (*Handler)(nil)

func NewHandler(trades *apptrading.Service, opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	h := &Handler{
		router:         gin.New(),
		trades:         trades,
		journal:        opts.Journal,
		cache:          opts.Cache,
		cacheTTL:       opts.CacheTTL,
		requestTimeout: opts.RequestTimeout,
		logger:         logger.WithField("component", "http"),
	}
	h.router.Use(h.requestLogger(), gin.CustomRecoveryWithWriter(io.Discard, h.recoverPanic))
	h.registerRoutes()
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	h.router.GET("/", h.index)
	h.router.POST("/webhook", h.webhook)
	h.router.GET("/test-connection", h.testConnection)
	h.router.GET("/ping", h.ping)
	h.router.GET("/health", h.health)

	cached := h.router.Group("/")
	if h.cache != nil {
		cached.Use(h.cacheMiddleware())
	}
	{
		cached.GET("/positions", h.positions)
		cached.GET("/position/:symbol", h.position)
		cached.GET("/trades", h.tradeJournal)
	}
}

// index reports that the listener is up
// @Summary      Readiness
// @Tags         status
// @Produce      plain
// @Success      200  {string}  string
// @Router       / [get]
func (h *Handler) index(c *gin.Context) {
	c.String(http.StatusOK, readyMessage)
}

// webhook places one trade from an alert
// @Summary      Receive trade alert
// @Description  Validates the alert, maps the symbol and relays a single order. The broker reply is returned verbatim.
// @Tags         trading
// @Accept       json
// @Produce      json
// @Param        alert  body      webhookPayload     true  "Trade alert"
// @Success      200    {object}  map[string]any     "Broker reply"
// @Failure      400    {object}  map[string]any
// @Failure      500    {object}  map[string]string
// @Router       /webhook [post]
func (h *Handler) webhook(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		writeError(c, http.StatusBadRequest, fmt.Errorf("read body: %w", err))
		return
	}

	payload, err := parseWebhook(body)
	if err != nil {
		h.logger.WithError(err).WithField("request_id", requestID(c)).Warn("rejected webhook")
		writeError(c, http.StatusBadRequest, err)
		return
	}

	req, err := h.trades.NewTradeRequest(payload.Action, payload.Symbol, payload.Volume)
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	if id, perr := uuid.Parse(requestID(c)); perr == nil {
		req.ID = id
	}

	ctx, cancel := h.withTimeout(c.Request.Context())
	defer cancel()

	result, err := h.trades.PlaceTrade(ctx, req)
	h.invalidatePositions(c.Request.Context())

	c.Header("Content-Type", "application/json; charset=utf-8")
	switch {
	case err != nil:
		c.Status(statusForTradeError(err))
	case result.OK():
		c.Status(http.StatusOK)
	default:
		c.Status(http.StatusBadRequest)
	}
	_, _ = c.Writer.Write(result.Body)
}

func statusForTradeError(err error) int {
	switch {
	case trading.IsValidation(err),
		trading.IsConflict(err),
		trading.IsAuthentication(err),
		trading.IsTransport(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// testConnection forces a broker login
// @Summary      Test broker connection
// @Tags         status
// @Produce      json
// @Success      200  {object}  apptrading.ConnectionStatus
// @Router       /test-connection [get]
func (h *Handler) testConnection(c *gin.Context) {
	ctx, cancel := h.withTimeout(c.Request.Context())
	defer cancel()

	status, err := h.trades.TestConnection(ctx)
	if err != nil {
		h.logger.WithError(err).Warn("test connection failed")
	}
	c.JSON(http.StatusOK, status)
}

// ping sends a keep-alive to the broker when a session is open
// @Summary      Ping broker
// @Tags         status
// @Produce      json
// @Success      200  {object}  map[string]any
// @Failure      503  {object}  map[string]string
// @Router       /ping [get]
func (h *Handler) ping(c *gin.Context) {
	ctx, cancel := h.withTimeout(c.Request.Context())
	defer cancel()

	if err := h.trades.Ping(ctx); err != nil {
		writeError(c, http.StatusServiceUnavailable, err)
		return
	}
	session := h.trades.Health()
	c.JSON(http.StatusOK, gin.H{"status": "ok", "session_valid": session.Valid()})
}

// health reports the broker session
// @Summary      Health
// @Tags         status
// @Produce      json
// @Success      200  {object}  map[string]any
// @Router       /health [get]
func (h *Handler) health(c *gin.Context) {
	session := h.trades.Health()
	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"session_valid": session.Valid(),
		"session":       session,
	})
}

// positions lists tracked positions and broker open trades
// @Summary      Positions
// @Tags         trading
// @Produce      json
// @Success      200  {object}  apptrading.PositionsView
// @Failure      500  {object}  map[string]string
// @Router       /positions [get]
func (h *Handler) positions(c *gin.Context) {
	ctx, cancel := h.withTimeout(c.Request.Context())
	defer cancel()

	view, err := h.trades.Positions(ctx)
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// position reports one symbol
// @Summary      Position by symbol
// @Tags         trading
// @Produce      json
// @Param        symbol  path      string  true  "Charting or broker symbol"
// @Success      200     {object}  apptrading.PositionsView
// @Failure      500     {object}  map[string]string
// @Router       /position/{symbol} [get]
func (h *Handler) position(c *gin.Context) {
	ctx, cancel := h.withTimeout(c.Request.Context())
	defer cancel()

	view, err := h.trades.Position(ctx, c.Param("symbol"))
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// tradeJournal returns the latest trade events
// @Summary      Trade journal
// @Tags         trading
// @Produce      json
// @Param        symbol  query     string  false  "Charting or broker symbol"
// @Param        limit   query     int     false  "Number of events"  default(50)
// @Success      200     {array}   trading.TradeEvent
// @Failure      400     {object}  map[string]string
// @Failure      404     {object}  map[string]string
// @Failure      500     {object}  map[string]string
// @Router       /trades [get]
func (h *Handler) tradeJournal(c *gin.Context) {
	if h.journal == nil {
		writeError(c, http.StatusNotFound, errJournalDisabled)
		return
	}

	limit := defaultTradeLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(c, http.StatusBadRequest, fmt.Errorf("limit must be an integer"))
			return
		}
		limit = parsed
	}

	events, err := h.journal.GetLastEvents(c.Request.Context(), c.Query("symbol"), limit)
	if errors.Is(err, appjournal.ErrInvalidLimit) {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	if events == nil {
		events = []trading.TradeEvent{}
	}
	c.JSON(http.StatusOK, events)
}

func (h *Handler) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.requestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, h.requestTimeout)
}

func writeError(c *gin.Context, status int, err error) {
	if err == nil {
		status = http.StatusInternalServerError
		err = errors.New("unknown error")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// requestLogger tags each request with an id and logs its outcome.
func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDHeader, id)
		c.Header(requestIDHeader, id)

		start := time.Now()
		c.Next()

		entry := h.logger.WithFields(logrus.Fields{
			"request_id": id,
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"took_ms":    time.Since(start).Milliseconds(),
			"client_ip":  c.ClientIP(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Error("request failed")
			return
		}
		entry.Info("request served")
	}
}

func (h *Handler) recoverPanic(c *gin.Context, recovered any) {
	h.logger.WithFields(logrus.Fields{
		"request_id": requestID(c),
		"panic":      fmt.Sprint(recovered),
		"stack":      string(debug.Stack()),
	}).Error("panic recovered")
	writeError(c, http.StatusInternalServerError, errInternal)
	c.Abort()
}

func requestID(c *gin.Context) string {
	return c.GetString(requestIDHeader)
}

// cacheMiddleware caches GET responses in Redis.
func (h *Handler) cacheMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.cache == nil || c.Request.Method != http.MethodGet {
			c.Next()
			return
		}

		key := h.cacheKey(c)
		ctx := c.Request.Context()

		if cached, err := h.cache.Get(ctx, key).Result(); err == nil {
			c.Header("X-Cache", "HIT")
			c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(cached))
			c.Abort()
			return
		}

		recorder := &responseRecorder{
			ResponseWriter: c.Writer,
			status:         http.StatusOK,
			body:           &bytes.Buffer{},
		}
		c.Writer = recorder

		c.Next()

		if recorder.status >= 200 && recorder.status < 300 && recorder.body.Len() > 0 {
			_ = h.cache.Set(ctx, key, recorder.body.Bytes(), h.cacheTTL).Err()
		}
	}
}

// invalidatePositions drops cached position views after a trade.
func (h *Handler) invalidatePositions(ctx context.Context) {
	if h.cache == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	iter := h.cache.Scan(ctx, 0, positionsCacheKey, 100).Iterator()
	for iter.Next(ctx) {
		_ = h.cache.Del(ctx, iter.Val()).Err()
	}
	if err := iter.Err(); err != nil {
		h.logger.WithError(err).Warn("failed to invalidate position cache")
	}
}

type responseRecorder struct {
	gin.ResponseWriter
	body   *bytes.Buffer
	status int
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(data []byte) (int, error) {
	if len(data) > 0 {
		r.body.Write(data)
	}
	return r.ResponseWriter.Write(data)
}

func (h *Handler) cacheKey(c *gin.Context) string {
	return fmt.Sprintf("cache:%s:%s?%s", c.Request.Method, c.Request.URL.Path, c.Request.URL.RawQuery)
}
