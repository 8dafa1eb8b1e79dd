package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "time/tzdata"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "MARINA"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv   = "MARINA_APP_ENV"
	EnvPort     = "MARINA_APP_PORT"
	EnvDBDSN    = "MARINA_DB_DSN"
	EnvDBHost   = "MARINA_DB_HOST"
	EnvDBUser   = "MARINA_DB_USER"
	EnvDBName   = "MARINA_DB_NAME"
	EnvRedisURL = "MARINA_REDIS_URL"

	EnvCalendarTimezone       = "MARINA_CALENDAR_TIMEZONE"
	EnvMercadoPagoAccessToken = "MARINA_MERCADOPAGO_ACCESS_TOKEN"
	EnvGCPProjectID           = "MARINA_GCP_PROJECT_ID"
	EnvPubSubNotificationSub  = "MARINA_PUBSUB_NOTIFICATION_SUBSCRIPTION"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	Calendar     CalendarConfig
	Ledger       LedgerConfig
	MercadoPago  MercadoPagoConfig
	Cron         CronConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if _, err := cfg.Calendar.Location(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"MARINA_APP_ENV" required:"true"`
	Port         string `envconfig:"MARINA_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"MARINA_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"MARINA_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"MARINA_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"MARINA_DB_DSN"`
	Driver string `envconfig:"MARINA_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"MARINA_DB_HOST"`
	LegacyPort     int    `envconfig:"MARINA_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"MARINA_DB_USER"`
	LegacyPassword string `envconfig:"MARINA_DB_PASSWORD"`
	LegacyName     string `envconfig:"MARINA_DB_NAME"`
	LegacySSLMode  string `envconfig:"MARINA_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"MARINA_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"MARINA_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"MARINA_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"MARINA_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"MARINA_REDIS_URL" required:"true"`
	Address      string        `envconfig:"MARINA_REDIS_ADDR"`
	Password     string        `envconfig:"MARINA_REDIS_PASSWORD"`
	DB           int           `envconfig:"MARINA_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"MARINA_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"MARINA_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"MARINA_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"MARINA_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"MARINA_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"MARINA_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"MARINA_AUTO_MIGRATE" default:"false"`
	// VerifyWebhookSignature enforces the x-signature check on provider notifications.
	VerifyWebhookSignature bool `envconfig:"MARINA_VERIFY_WEBHOOK_SIGNATURE" default:"true"`
}

// CalendarConfig holds the booking calendar defaults. Vessels may override
// the advance and quota limits individually.
type CalendarConfig struct {
	Timezone                 string        `envconfig:"MARINA_CALENDAR_TIMEZONE" default:"America/Sao_Paulo"`
	LeadTime                 time.Duration `envconfig:"MARINA_CALENDAR_LEAD_TIME" default:"24h"`
	DefaultMaxAdvanceDays    int           `envconfig:"MARINA_CALENDAR_MAX_ADVANCE_DAYS" default:"62"`
	DefaultMaxActiveBookings int           `envconfig:"MARINA_CALENDAR_MAX_ACTIVE_BOOKINGS" default:"2"`
}

// Location resolves the canonical calendar time zone.
func (c CalendarConfig) Location() (*time.Location, error) {
	name := strings.TrimSpace(c.Timezone)
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q: %w", EnvCalendarTimezone, name, err)
	}
	return loc, nil
}

type LedgerConfig struct {
	MarinaFeeHorizonMonths int `envconfig:"MARINA_LEDGER_FEE_HORIZON_MONTHS" default:"12"`
}

type MercadoPagoConfig struct {
	AccessToken     string        `envconfig:"MARINA_MERCADOPAGO_ACCESS_TOKEN"`
	WebhookSecret   string        `envconfig:"MARINA_MERCADOPAGO_WEBHOOK_SECRET"`
	BaseURL         string        `envconfig:"MARINA_MERCADOPAGO_BASE_URL" default:"https://api.mercadopago.com"`
	NotificationURL string        `envconfig:"MARINA_MERCADOPAGO_NOTIFICATION_URL"`
	SuccessURL      string        `envconfig:"MARINA_MERCADOPAGO_SUCCESS_URL"`
	FailureURL      string        `envconfig:"MARINA_MERCADOPAGO_FAILURE_URL"`
	PendingURL      string        `envconfig:"MARINA_MERCADOPAGO_PENDING_URL"`
	PixExpiry       time.Duration `envconfig:"MARINA_MERCADOPAGO_PIX_EXPIRY" default:"72h"`
	CheckoutGuard   time.Duration `envconfig:"MARINA_MERCADOPAGO_CHECKOUT_GUARD_TTL" default:"30s"`
	Timeout         time.Duration `envconfig:"MARINA_MERCADOPAGO_TIMEOUT" default:"15s"`
}

type CronConfig struct {
	Interval               time.Duration `envconfig:"MARINA_CRON_INTERVAL" default:"1h"`
	LockTTL                time.Duration `envconfig:"MARINA_CRON_LOCK_TTL" default:"10m"`
	SubscriptionBatchLimit int           `envconfig:"MARINA_CRON_SUBSCRIPTION_BATCH_LIMIT" default:"200"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL  time.Duration `envconfig:"MARINA_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
	WebhookIdempotencyTTL time.Duration `envconfig:"MARINA_EVENTING_WEBHOOK_IDEMPOTENCY_TTL" default:"24h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"MARINA_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"MARINA_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"MARINA_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	NotificationTopic        string `envconfig:"MARINA_PUBSUB_NOTIFICATION_TOPIC" default:"marina-notification-events"`
	NotificationSubscription string `envconfig:"MARINA_PUBSUB_NOTIFICATION_SUBSCRIPTION"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"MARINA_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"MARINA_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"MARINA_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int `envconfig:"MARINA_OUTBOX_RETENTION_DAYS" default:"30"`
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
