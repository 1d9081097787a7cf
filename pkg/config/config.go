package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	BigQuery     BigQueryConfig
	Outbox       OutboxConfig
	Hypervisor   HypervisorConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string   `envconfig:"DVMM_APP_ENV" required:"true"`
	Port         string   `envconfig:"DVMM_APP_PORT" required:"true"`
	LogLevel     string   `envconfig:"DVMM_LOG_LEVEL" default:"info"`
	LogWarnStack bool     `envconfig:"DVMM_LOG_WARN_STACK" default:"false"`
	CORSOrigins  []string `envconfig:"DVMM_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"DVMM_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"DVMM_DB_DSN"`
	Driver string `envconfig:"DVMM_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"DVMM_DB_HOST"`
	LegacyPort     int    `envconfig:"DVMM_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"DVMM_DB_USER"`
	LegacyPassword string `envconfig:"DVMM_DB_PASSWORD"`
	LegacyName     string `envconfig:"DVMM_DB_NAME"`
	LegacySSLMode  string `envconfig:"DVMM_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"DVMM_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"DVMM_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"DVMM_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"DVMM_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"DVMM_REDIS_URL" required:"true"`
	Address      string        `envconfig:"DVMM_REDIS_ADDR"`
	Password     string        `envconfig:"DVMM_REDIS_PASSWORD"`
	DB           int           `envconfig:"DVMM_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"DVMM_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"DVMM_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"DVMM_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"DVMM_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"DVMM_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"DVMM_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"DVMM_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"DVMM_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"DVMM_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"DVMM_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	IdempotencyTTL time.Duration `envconfig:"DVMM_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"DVMM_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"DVMM_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"DVMM_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	DomainTopic           string `envconfig:"DVMM_PUBSUB_DOMAIN_TOPIC" required:"true"`
	ProvisionSubscription string `envconfig:"DVMM_PUBSUB_PROVISION_SUBSCRIPTION" required:"true"`
	AuditSubscription     string `envconfig:"DVMM_PUBSUB_AUDIT_SUBSCRIPTION"`
}

type BigQueryConfig struct {
	Dataset          string `envconfig:"DVMM_BIGQUERY_DATASET" default:"dvmm"`
	AuditEventsTable string `envconfig:"DVMM_BIGQUERY_AUDIT_TABLE" default:"audit_events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"DVMM_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"DVMM_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"DVMM_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int `envconfig:"DVMM_OUTBOX_RETENTION_DAYS" default:"30"`
}

type HypervisorConfig struct {
	Provider          string        `envconfig:"DVMM_HYPERVISOR_PROVIDER" default:"vsphere"`
	Endpoint          string        `envconfig:"DVMM_VSPHERE_ENDPOINT"`
	Username          string        `envconfig:"DVMM_VSPHERE_USERNAME"`
	Password          string        `envconfig:"DVMM_VSPHERE_PASSWORD"`
	InsecureTLS       bool          `envconfig:"DVMM_VSPHERE_INSECURE_TLS" default:"false"`
	CallTimeout       time.Duration `envconfig:"DVMM_HYPERVISOR_CALL_TIMEOUT" default:"60s"`
	AddressTimeout    time.Duration `envconfig:"DVMM_HYPERVISOR_ADDRESS_TIMEOUT" default:"5m"`
	RetryAttempts     int           `envconfig:"DVMM_HYPERVISOR_RETRY_ATTEMPTS" default:"3"`
	BreakerThreshold  int           `envconfig:"DVMM_HYPERVISOR_BREAKER_THRESHOLD" default:"5"`
	BreakerCooldown   time.Duration `envconfig:"DVMM_HYPERVISOR_BREAKER_COOLDOWN" default:"30s"`
	KeepAliveInterval time.Duration `envconfig:"DVMM_HYPERVISOR_KEEPALIVE_INTERVAL" default:"5m"`
	SessionTTL        time.Duration `envconfig:"DVMM_HYPERVISOR_SESSION_TTL" default:"30m"`
}

// IsSimulator reports whether the simulator adapter should be wired instead
// of the vSphere client.
func (h HypervisorConfig) IsSimulator() bool {
	return strings.EqualFold(strings.TrimSpace(h.Provider), "simulator")
}

type CronConfig struct {
	Interval        time.Duration `envconfig:"DVMM_CRON_INTERVAL" default:"5m"`
	LockTTL         time.Duration `envconfig:"DVMM_CRON_LOCK_TTL" default:"10m"`
	ProgressMaxAge  time.Duration `envconfig:"DVMM_CRON_PROGRESS_MAX_AGE" default:"24h"`
	OutboxBatchSize int           `envconfig:"DVMM_CRON_OUTBOX_BATCH_SIZE" default:"500"`
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
