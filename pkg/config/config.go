package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App            AppConfig
	Service        ServiceConfig
	DB             DBConfig
	Redis          RedisConfig
	JWT            JWTConfig
	RateLimit      RateLimitConfig
	FeatureFlags   FeatureFlagsConfig
	GCP            GCPConfig
	PubSub         PubSubConfig
	Stripe         StripeConfig
	Square         SquareConfig
	Payments       PaymentsConfig
	Commission     CommissionConfig
	Settlement     SettlementConfig
	Reconciliation ReconciliationConfig
	Outbox         OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if _, err := cfg.Commission.DecimalRate(); err != nil {
		return nil, err
	}
	if _, err := cfg.Payments.ProviderName(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"BAZAAR_APP_ENV" required:"true"`
	Port         string `envconfig:"BAZAAR_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"BAZAAR_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"BAZAAR_LOG_WARN_STACK" default:"false"`

	CORSOrigins []string `envconfig:"BAZAAR_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000,https://bazaar.shop,https://admin.bazaar.shop"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"BAZAAR_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"BAZAAR_DB_DSN"`
	Driver string `envconfig:"BAZAAR_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"BAZAAR_DB_HOST"`
	Port     int    `envconfig:"BAZAAR_DB_PORT" default:"5432"`
	User     string `envconfig:"BAZAAR_DB_USER"`
	Password string `envconfig:"BAZAAR_DB_PASSWORD"`
	Name     string `envconfig:"BAZAAR_DB_NAME"`
	SSLMode  string `envconfig:"BAZAAR_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"BAZAAR_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"BAZAAR_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"BAZAAR_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"BAZAAR_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"BAZAAR_REDIS_URL" required:"true"`
	Address      string        `envconfig:"BAZAAR_REDIS_ADDR"`
	Password     string        `envconfig:"BAZAAR_REDIS_PASSWORD"`
	DB           int           `envconfig:"BAZAAR_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"BAZAAR_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"BAZAAR_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"BAZAAR_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"BAZAAR_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"BAZAAR_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"BAZAAR_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"BAZAAR_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"BAZAAR_JWT_EXPIRATION_MINUTES" required:"true"`
}

// RateLimitConfig throttles settle requests per caller and per client IP.
type RateLimitConfig struct {
	SettleWindow    time.Duration `envconfig:"BAZAAR_RATE_LIMIT_SETTLE_WINDOW" default:"1m"`
	SettleUserLimit int           `envconfig:"BAZAAR_RATE_LIMIT_SETTLE_USER" default:"10"`
	SettleIPLimit   int           `envconfig:"BAZAAR_RATE_LIMIT_SETTLE_IP" default:"30"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"BAZAAR_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"BAZAAR_GCP_PROJECT_ID"`

	// Either inline service-account JSON or a key file path. Both blank
	// falls back to application default credentials.
	CredentialsJSON        string `envconfig:"BAZAAR_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"BAZAAR_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	OrdersTopic        string `envconfig:"BAZAAR_PUBSUB_ORDERS_TOPIC" default:"bz-order-events"`
	SettlementsTopic   string `envconfig:"BAZAAR_PUBSUB_SETTLEMENTS_TOPIC" default:"bz-settlement-events"`
	AlertsTopic        string `envconfig:"BAZAAR_PUBSUB_ALERTS_TOPIC" default:"bz-operator-alerts"`
	AlertsSubscription string `envconfig:"BAZAAR_PUBSUB_ALERTS_SUBSCRIPTION"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"BAZAAR_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"BAZAAR_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"BAZAAR_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int `envconfig:"BAZAAR_OUTBOX_RETENTION_DAYS" default:"30"`
}

type StripeConfig struct {
	APIKey string `envconfig:"BAZAAR_STRIPE_API_KEY"`
	Secret string `envconfig:"BAZAAR_STRIPE_SECRET"`
	Env    string `envconfig:"BAZAAR_STRIPE_ENV" default:"test"`
	// Express onboarding links send sellers back here.
	ConnectReturnURL  string `envconfig:"BAZAAR_STRIPE_CONNECT_RETURN_URL"`
	ConnectRefreshURL string `envconfig:"BAZAAR_STRIPE_CONNECT_REFRESH_URL"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type SquareConfig struct {
	AccessToken   string `envconfig:"BAZAAR_SQUARE_ACCESS_TOKEN"`
	WebhookSecret string `envconfig:"BAZAAR_SQUARE_WEBHOOK_SECRET"`
	LocationID    string `envconfig:"BAZAAR_SQUARE_LOCATION_ID"`
	Env           string `envconfig:"BAZAAR_SQUARE_ENV" default:"sandbox"`
}

// Environment returns the normalized Square environment (sandbox/production).
func (s SquareConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

type PaymentsConfig struct {
	Provider string `envconfig:"BAZAAR_PAYMENT_PROVIDER" default:"stripe"`
	Currency string `envconfig:"BAZAAR_PAYMENT_CURRENCY" default:"usd"`
}

// ProviderName returns the normalized collector name.
func (p PaymentsConfig) ProviderName() (string, error) {
	provider := strings.TrimSpace(strings.ToLower(p.Provider))
	switch provider {
	case "", PaymentProviderStripe:
		return PaymentProviderStripe, nil
	case PaymentProviderSquare:
		return PaymentProviderSquare, nil
	default:
		return "", fmt.Errorf("%s must be %q or %q", EnvPaymentProvider, PaymentProviderStripe, PaymentProviderSquare)
	}
}

type CommissionConfig struct {
	Rate string `envconfig:"BAZAAR_COMMISSION_RATE" default:"0.10"`
}

// commissionRateScale matches settlement_records.commission_rate numeric(5,4).
const commissionRateScale = 4

// DecimalRate parses the configured commission rate. Range checks happen in
// the commission package.
func (c CommissionConfig) DecimalRate() (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(strings.TrimSpace(c.Rate))
	if err != nil {
		return decimal.Zero, fmt.Errorf("parsing %s: %w", EnvCommissionRate, err)
	}
	if !rate.Equal(rate.Truncate(commissionRateScale)) {
		return decimal.Zero, fmt.Errorf("%s allows at most %d decimal places, got %s", EnvCommissionRate, commissionRateScale, c.Rate)
	}
	return rate, nil
}

type SettlementConfig struct {
	CallTimeout         time.Duration `envconfig:"BAZAAR_SETTLEMENT_CALL_TIMEOUT" default:"20s"`
	LockTTL             time.Duration `envconfig:"BAZAAR_SETTLEMENT_LOCK_TTL" default:"2m"`
	TransferMaxAttempts int           `envconfig:"BAZAAR_SETTLEMENT_TRANSFER_MAX_ATTEMPTS" default:"3"`
	TransferBaseBackoff time.Duration `envconfig:"BAZAAR_SETTLEMENT_TRANSFER_BACKOFF" default:"500ms"`
}

type ReconciliationConfig struct {
	Interval    time.Duration `envconfig:"BAZAAR_RECONCILIATION_INTERVAL" default:"5m"`
	BatchSize   int           `envconfig:"BAZAAR_RECONCILIATION_BATCH_SIZE" default:"25"`
	MaxAttempts int           `envconfig:"BAZAAR_RECONCILIATION_MAX_ATTEMPTS" default:"8"`
	BaseBackoff time.Duration `envconfig:"BAZAAR_RECONCILIATION_BACKOFF" default:"1m"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	values := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range splitDBEnvVars {
		if values[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
