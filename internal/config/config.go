package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultEnv             = "development"
	defaultLogLevel        = "info"
	defaultHTTPHost        = "0.0.0.0"
	defaultHTTPPort        = 5000
	defaultRedisDB         = 0
	defaultCacheTTLSeconds = 5

	defaultBrokerHost        = "xapi.xtb.com"
	defaultBrokerPort        = 5124
	defaultBrokerAppName     = "TradingViewWebhook"
	defaultConnectAttempts   = 3
	defaultConnectDelay      = 250 * time.Millisecond
	defaultSendDelay         = 100 * time.Millisecond
	defaultCommandInterval   = 200 * time.Millisecond
	defaultSessionTTL        = 5 * time.Minute
	defaultAuthAttempts      = 3
	defaultAuthDelay         = time.Second
	defaultAuthMaxDelay      = 10 * time.Second
	defaultRequestTimeout    = 15 * time.Second
	defaultHTTPClientTimeout = 10 * time.Second
	defaultKeepAlive         = time.Minute

	defaultLockTTL  = 30 * time.Second
	defaultLockWait = 10 * time.Second

	defaultExchange       = "trades.executed"
	defaultPrefetch       = 50
	defaultBatchSize      = 100
	defaultBatchTimeout   = 2 * time.Second
	defaultPublishTimeout = 5 * time.Second
)

const (
	TransportSocket = "socket"
	TransportHTTP   = "http"

	StoreNone   = "none"
	StoreMemory = "memory"
	StoreRedis  = "redis"

	PriceMarket = "market"
	PriceQuote  = "quote"

	SellOrder = "order"
	SellClose = "close"

	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"
)

// Config keeps the runtime configuration for the service.
type Config struct {
	Env       string
	LogLevel  string
	HTTP      HTTPConfig
	Broker    BrokerConfig
	Trading   TradingConfig
	Positions PositionsConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	RabbitMQ  RabbitMQConfig
	Cache     CacheConfig
}

// HTTPConfig holds HTTP server related settings.
type HTTPConfig struct {
	Host string
	Port int
}

// Addr renders the listen address in host:port form.
func (h HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// BrokerConfig describes how to reach and log in to the trading API.
type BrokerConfig struct {
	UserID   string
	Password string
	AppName  string

	Transport string
	Host      string
	Port      int
	TLS       bool
	// URL is the endpoint of the HTTP transport.
	URL           string
	ClientTimeout time.Duration

	ConnectAttempts int
	ConnectDelay    time.Duration
	SendDelay       time.Duration
	CommandInterval time.Duration

	SessionTTL   time.Duration
	AuthAttempts int
	AuthDelay    time.Duration
	AuthMaxDelay time.Duration
	AuthBackoff  string

	RequestTimeout    time.Duration
	KeepAliveInterval time.Duration
}

// TradingConfig controls order construction.
type TradingConfig struct {
	PriceMode string
	SellMode  string
	SymbolMap map[string]string
}

// PositionsConfig selects the position store.
type PositionsConfig struct {
	Store    string
	LockTTL  time.Duration
	LockWait time.Duration
}

// Enabled reports whether trades are gated on position state.
func (p PositionsConfig) Enabled() bool {
	return p.Store != StoreNone
}

// PostgresConfig stores database connection parameters.
type PostgresConfig struct {
	DSN string
}

// RedisConfig stores Redis connection parameters.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RabbitMQConfig stores the trade event exchange settings.
type RabbitMQConfig struct {
	URL            string
	Exchange       string
	Prefetch       int
	BatchSize      int
	BatchTimeout   time.Duration
	PublishTimeout time.Duration
}

// CacheConfig stores cache behavior.
type CacheConfig struct {
	TTLSeconds int
}

// JournalConfig is the configuration of the trade journal worker. It needs
// no broker credentials.
type JournalConfig struct {
	Env      string
	LogLevel string
	Postgres PostgresConfig
	RabbitMQ RabbitMQConfig
}

// Load builds Config from environment variables. A .env file in the working
// directory is read first when present; real environment variables win.
func Load() (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	var p parser

	cfg := &Config{
		Env:      getString("APP_ENV", defaultEnv),
		LogLevel: getString("LOG_LEVEL", defaultLogLevel),
		HTTP: HTTPConfig{
			Host: getString("HTTP_HOST", defaultHTTPHost),
			Port: p.int("HTTP_PORT", p.int("PORT", defaultHTTPPort)),
		},
		Broker: BrokerConfig{
			UserID:            strings.TrimSpace(os.Getenv("XTB_USER_ID")),
			Password:          os.Getenv("XTB_PASSWORD"),
			AppName:           getString("XTB_APP_NAME", defaultBrokerAppName),
			Transport:         strings.ToLower(getString("BROKER_TRANSPORT", TransportSocket)),
			Host:              getString("BROKER_HOST", defaultBrokerHost),
			Port:              p.int("BROKER_PORT", defaultBrokerPort),
			TLS:               p.bool("BROKER_TLS", true),
			URL:               os.Getenv("BROKER_URL"),
			ClientTimeout:     p.duration("BROKER_HTTP_TIMEOUT", defaultHTTPClientTimeout),
			ConnectAttempts:   p.int("BROKER_CONNECT_ATTEMPTS", defaultConnectAttempts),
			ConnectDelay:      p.duration("BROKER_CONNECT_DELAY", defaultConnectDelay),
			SendDelay:         p.duration("BROKER_SEND_DELAY", defaultSendDelay),
			CommandInterval:   p.duration("BROKER_COMMAND_INTERVAL", defaultCommandInterval),
			SessionTTL:        p.duration("BROKER_SESSION_TTL", defaultSessionTTL),
			AuthAttempts:      p.int("BROKER_AUTH_ATTEMPTS", defaultAuthAttempts),
			AuthDelay:         p.duration("BROKER_AUTH_DELAY", defaultAuthDelay),
			AuthMaxDelay:      p.duration("BROKER_AUTH_MAX_DELAY", defaultAuthMaxDelay),
			AuthBackoff:       strings.ToLower(getString("BROKER_AUTH_BACKOFF", BackoffFixed)),
			RequestTimeout:    p.duration("BROKER_REQUEST_TIMEOUT", defaultRequestTimeout),
			KeepAliveInterval: p.duration("BROKER_KEEPALIVE_INTERVAL", defaultKeepAlive),
		},
		Trading: TradingConfig{
			PriceMode: strings.ToLower(getString("PRICE_MODE", PriceMarket)),
			SellMode:  strings.ToLower(getString("SELL_MODE", SellOrder)),
			SymbolMap: p.symbolMap("SYMBOL_MAP"),
		},
		Positions: PositionsConfig{
			Store:    strings.ToLower(getString("POSITION_STORE", StoreNone)),
			LockTTL:  p.duration("POSITION_LOCK_TTL", defaultLockTTL),
			LockWait: p.duration("POSITION_LOCK_WAIT", defaultLockWait),
		},
		Postgres: PostgresConfig{
			DSN: os.Getenv("DATABASE_DSN"),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       p.int("REDIS_DB", defaultRedisDB),
		},
		RabbitMQ: p.rabbitMQ(),
		Cache: CacheConfig{
			TTLSeconds: p.int("CACHE_TTL_SECONDS", defaultCacheTTLSeconds),
		},
	}

	if p.err != nil {
		return nil, p.err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadJournal builds the journal worker configuration. DATABASE_DSN and
// RABBITMQ_URL are required.
func LoadJournal() (*JournalConfig, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	var p parser
	cfg := &JournalConfig{
		Env:      getString("APP_ENV", defaultEnv),
		LogLevel: getString("LOG_LEVEL", defaultLogLevel),
		Postgres: PostgresConfig{DSN: os.Getenv("DATABASE_DSN")},
		RabbitMQ: p.rabbitMQ(),
	}
	if p.err != nil {
		return nil, p.err
	}

	var errs []error
	if cfg.Postgres.DSN == "" {
		errs = append(errs, errors.New("DATABASE_DSN is required"))
	}
	if cfg.RabbitMQ.URL == "" {
		errs = append(errs, errors.New("RABBITMQ_URL is required"))
	}
	if cfg.RabbitMQ.BatchSize <= 0 {
		errs = append(errs, errors.New("JOURNAL_BATCH_SIZE must be positive"))
	}
	if cfg.RabbitMQ.Prefetch <= 0 {
		errs = append(errs, errors.New("RABBITMQ_PREFETCH must be positive"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func (c *Config) validate() error {
	var errs []error

	if c.Broker.UserID == "" {
		errs = append(errs, errors.New("XTB_USER_ID is required"))
	}
	if c.Broker.Password == "" {
		errs = append(errs, errors.New("XTB_PASSWORD is required"))
	}

	switch c.Broker.Transport {
	case TransportSocket:
	case TransportHTTP:
		if c.Broker.URL == "" {
			errs = append(errs, errors.New("BROKER_URL is required when BROKER_TRANSPORT=http"))
		}
	default:
		errs = append(errs, fmt.Errorf("BROKER_TRANSPORT must be socket or http, got %q", c.Broker.Transport))
	}

	if c.Broker.SessionTTL < 0 {
		errs = append(errs, errors.New("BROKER_SESSION_TTL must not be negative"))
	}
	if c.Broker.SessionTTL > 0 && c.Broker.KeepAliveInterval >= c.Broker.SessionTTL {
		errs = append(errs, errors.New("BROKER_KEEPALIVE_INTERVAL must be shorter than BROKER_SESSION_TTL"))
	}
	if c.Broker.AuthAttempts <= 0 {
		errs = append(errs, errors.New("BROKER_AUTH_ATTEMPTS must be positive"))
	}
	if c.Broker.AuthBackoff != BackoffFixed && c.Broker.AuthBackoff != BackoffExponential {
		errs = append(errs, fmt.Errorf("BROKER_AUTH_BACKOFF must be fixed or exponential, got %q", c.Broker.AuthBackoff))
	}

	if c.Trading.PriceMode != PriceMarket && c.Trading.PriceMode != PriceQuote {
		errs = append(errs, fmt.Errorf("PRICE_MODE must be market or quote, got %q", c.Trading.PriceMode))
	}
	if c.Trading.SellMode != SellOrder && c.Trading.SellMode != SellClose {
		errs = append(errs, fmt.Errorf("SELL_MODE must be order or close, got %q", c.Trading.SellMode))
	}

	switch c.Positions.Store {
	case StoreNone, StoreMemory:
	case StoreRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required when POSITION_STORE=redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("POSITION_STORE must be none, memory or redis, got %q", c.Positions.Store))
	}

	return errors.Join(errs...)
}

func getString(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

// parser keeps the first conversion error so Load can report it once.
type parser struct {
	err error
}

func (p *parser) fail(err error) {
	if p.err == nil {
		p.err = err
	}
}

func (p *parser) int(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}

	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		p.fail(fmt.Errorf("convert %s value %q to int: %w", key, value, err))
		return fallback
	}
	return parsed
}

func (p *parser) bool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}

	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		p.fail(fmt.Errorf("convert %s value %q to bool: %w", key, value, err))
		return fallback
	}
	return parsed
}

// duration accepts Go duration strings; a bare number is read as seconds.
func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	value = strings.TrimSpace(value)

	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		p.fail(fmt.Errorf("convert %s value %q to duration: %w", key, value, err))
		return fallback
	}
	return parsed
}

func (p *parser) rabbitMQ() RabbitMQConfig {
	return RabbitMQConfig{
		URL:            os.Getenv("RABBITMQ_URL"),
		Exchange:       getString("RABBITMQ_EXCHANGE", defaultExchange),
		Prefetch:       p.int("RABBITMQ_PREFETCH", defaultPrefetch),
		BatchSize:      p.int("JOURNAL_BATCH_SIZE", defaultBatchSize),
		BatchTimeout:   p.duration("JOURNAL_BATCH_TIMEOUT", defaultBatchTimeout),
		PublishTimeout: p.duration("RABBITMQ_PUBLISH_TIMEOUT", defaultPublishTimeout),
	}
}

// symbolMap reads "FROM=TO,FROM2=TO2".
func (p *parser) symbolMap(key string) map[string]string {
	out := map[string]string{}
	for _, pair := range strings.Split(os.Getenv(key), ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		from, to, ok := strings.Cut(pair, "=")
		from, to = strings.TrimSpace(from), strings.TrimSpace(to)
		if !ok || from == "" || to == "" {
			p.fail(fmt.Errorf("invalid %s entry %q", key, pair))
			continue
		}
		out[from] = to
	}
	return out
}
