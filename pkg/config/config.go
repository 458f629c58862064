package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App            AppConfig
	Service        ServiceConfig
	DB             DBConfig
	Redis          RedisConfig
	Auth           AuthConfig
	MercadoPago    MercadoPagoConfig
	Reconciliation ReconciliationConfig
	Notifications  NotificationsConfig
	FeatureFlags   FeatureFlagsConfig
	Eventing       EventingConfig
	GCP            GCPConfig
	PubSub         PubSubConfig
	BigQuery       BigQueryConfig
	Outbox         OutboxConfig
	Cron           CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if cfg.Redis.URL == "" && cfg.Redis.Address == "" {
		return nil, fmt.Errorf("%s or %s is required", EnvRedisURL, EnvRedisAddr)
	}
	if _, err := cfg.Reconciliation.ParsedFeeTiers(); err != nil {
		return nil, err
	}
	if _, err := cfg.Reconciliation.PlatformAccount(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDatabase reads only the app and database sections, for tools that
// should not need gateway or cloud credentials.
func LoadDatabase() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg.App); err != nil {
		return nil, fmt.Errorf("parsing app config: %w", err)
	}
	if err := envconfig.Process(EnvPrefix, &cfg.DB); err != nil {
		return nil, fmt.Errorf("parsing db config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"TRADEMON_APP_ENV" required:"true"`
	Port         string `envconfig:"TRADEMON_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"TRADEMON_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"TRADEMON_LOG_WARN_STACK" default:"false"`
	// AllowedOrigins feeds both CORS and the websocket origin check.
	AllowedOrigins []string `envconfig:"TRADEMON_ALLOWED_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"TRADEMON_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"TRADEMON_DB_DSN"`
	Driver string `envconfig:"TRADEMON_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"TRADEMON_DB_HOST"`
	LegacyPort     int    `envconfig:"TRADEMON_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"TRADEMON_DB_USER"`
	LegacyPassword string `envconfig:"TRADEMON_DB_PASSWORD"`
	LegacyName     string `envconfig:"TRADEMON_DB_NAME"`
	LegacySSLMode  string `envconfig:"TRADEMON_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"TRADEMON_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"TRADEMON_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"TRADEMON_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"TRADEMON_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"TRADEMON_DB_SLOW_QUERY" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"TRADEMON_REDIS_URL"`
	Address      string        `envconfig:"TRADEMON_REDIS_ADDR"`
	Password     string        `envconfig:"TRADEMON_REDIS_PASSWORD"`
	DB           int           `envconfig:"TRADEMON_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"TRADEMON_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"TRADEMON_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"TRADEMON_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"TRADEMON_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"TRADEMON_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// AuthConfig holds the verification material for access tokens minted by the
// external auth provider.
type AuthConfig struct {
	JWTSecret string `envconfig:"TRADEMON_AUTH_JWT_SECRET" required:"true"`
	Issuer    string `envconfig:"TRADEMON_AUTH_JWT_ISSUER" required:"true"`
	Audience  string `envconfig:"TRADEMON_AUTH_JWT_AUDIENCE" default:"authenticated"`
}

type MercadoPagoConfig struct {
	AccessToken     string        `envconfig:"TRADEMON_MP_ACCESS_TOKEN" required:"true"`
	WebhookSecret   string        `envconfig:"TRADEMON_MP_WEBHOOK_SECRET" required:"true"`
	BaseURL         string        `envconfig:"TRADEMON_MP_BASE_URL" default:"https://api.mercadopago.com"`
	NotificationURL string        `envconfig:"TRADEMON_MP_NOTIFICATION_URL"`
	SuccessURL      string        `envconfig:"TRADEMON_MP_SUCCESS_URL"`
	FailureURL      string        `envconfig:"TRADEMON_MP_FAILURE_URL"`
	PendingURL      string        `envconfig:"TRADEMON_MP_PENDING_URL"`
	CurrencyID      string        `envconfig:"TRADEMON_MP_CURRENCY_ID" default:"BRL"`
	Sandbox         bool          `envconfig:"TRADEMON_MP_SANDBOX" default:"true"`
	SignatureMaxAge time.Duration `envconfig:"TRADEMON_MP_SIGNATURE_MAX_AGE" default:"15m"`
	RequestTimeout  time.Duration `envconfig:"TRADEMON_MP_REQUEST_TIMEOUT" default:"10s"`
	// WebhookRateLimit is the per-IP request budget per minute; 0 disables it.
	WebhookRateLimit int `envconfig:"TRADEMON_MP_WEBHOOK_RATE_LIMIT" default:"600"`
}

type ReconciliationConfig struct {
	Timeout           time.Duration `envconfig:"TRADEMON_RECONCILE_TIMEOUT" default:"8s"`
	MaxRetries        uint64        `envconfig:"TRADEMON_RECONCILE_MAX_RETRIES" default:"3"`
	RetryBaseDelay    time.Duration `envconfig:"TRADEMON_RECONCILE_RETRY_BASE_DELAY" default:"50ms"`
	FeeTiers          string        `envconfig:"TRADEMON_FEE_TIERS" default:"0:1000,10000:800,50000:500"`
	PlatformAccountID string        `envconfig:"TRADEMON_PLATFORM_ACCOUNT_ID" default:"00000000-0000-0000-0000-000000000001"`
}

// FeeTier is one row of the platform fee schedule: orders at or above
// MinAmount (minor units) pay BasisPoints / 10000 of the amount.
type FeeTier struct {
	MinAmount   int64
	BasisPoints int64
}

// ParsedFeeTiers decodes FeeTiers ("threshold:bps,...") sorted by threshold.
func (r ReconciliationConfig) ParsedFeeTiers() ([]FeeTier, error) {
	raw := strings.TrimSpace(r.FeeTiers)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	tiers := make([]FeeTier, 0, len(parts))
	for _, part := range parts {
		pair := strings.SplitN(strings.TrimSpace(part), ":", 2)
		if len(pair) != 2 {
			return nil, fmt.Errorf("invalid fee tier %q: expected threshold:bps", part)
		}
		minAmount, err := strconv.ParseInt(strings.TrimSpace(pair[0]), 10, 64)
		if err != nil || minAmount < 0 {
			return nil, fmt.Errorf("invalid fee tier threshold %q", pair[0])
		}
		bps, err := strconv.ParseInt(strings.TrimSpace(pair[1]), 10, 64)
		if err != nil || bps < 0 || bps > 10000 {
			return nil, fmt.Errorf("invalid fee tier basis points %q", pair[1])
		}
		if len(tiers) > 0 && minAmount <= tiers[len(tiers)-1].MinAmount {
			return nil, fmt.Errorf("fee tiers must be strictly ascending (%d after %d)", minAmount, tiers[len(tiers)-1].MinAmount)
		}
		tiers = append(tiers, FeeTier{MinAmount: minAmount, BasisPoints: bps})
	}
	return tiers, nil
}

// PlatformAccount returns the wallet that collects platform fees.
func (r ReconciliationConfig) PlatformAccount() (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(r.PlatformAccountID))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s: %w", EnvPlatformAccountID, err)
	}
	return id, nil
}

type NotificationsConfig struct {
	DispatchWorkers int           `envconfig:"TRADEMON_NOTIFY_WORKERS" default:"4"`
	QueueSize       int           `envconfig:"TRADEMON_NOTIFY_QUEUE_SIZE" default:"256"`
	DispatchTimeout time.Duration `envconfig:"TRADEMON_NOTIFY_TIMEOUT" default:"5s"`
	RetentionDays   int           `envconfig:"TRADEMON_NOTIFY_RETENTION_DAYS" default:"30"`
	PushEnabled     bool          `envconfig:"TRADEMON_NOTIFY_PUSH_ENABLED" default:"false"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"TRADEMON_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL time.Duration `envconfig:"TRADEMON_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"TRADEMON_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"TRADEMON_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"TRADEMON_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	DomainTopic           string `envconfig:"TRADEMON_PUBSUB_DOMAIN_TOPIC" default:"tm-domain-events"`
	AnalyticsSubscription string `envconfig:"TRADEMON_PUBSUB_ANALYTICS_SUBSCRIPTION" default:"tm-domain-events-analytics"`
	NotifySubscription    string `envconfig:"TRADEMON_PUBSUB_NOTIFY_SUBSCRIPTION" default:"tm-domain-events-notify"`
	PushTopic             string `envconfig:"TRADEMON_PUBSUB_PUSH_TOPIC" default:"tm-push-notifications"`
	MaxOutstanding        int    `envconfig:"TRADEMON_PUBSUB_MAX_OUTSTANDING" default:"100"`
	ReceiveGoroutines     int    `envconfig:"TRADEMON_PUBSUB_RECEIVE_GOROUTINES" default:"2"`
}

type BigQueryConfig struct {
	Dataset            string `envconfig:"TRADEMON_BIGQUERY_DATASET" default:"trademon"`
	PaymentEventsTable string `envconfig:"TRADEMON_BIGQUERY_PAYMENT_EVENTS_TABLE" default:"payment_events"`
	OrderEventsTable   string `envconfig:"TRADEMON_BIGQUERY_ORDER_EVENTS_TABLE" default:"order_events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"TRADEMON_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"TRADEMON_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"TRADEMON_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type CronConfig struct {
	Interval          time.Duration `envconfig:"TRADEMON_CRON_INTERVAL" default:"1h"`
	PendingPaymentTTL time.Duration `envconfig:"TRADEMON_CRON_PENDING_PAYMENT_TTL" default:"72h"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
