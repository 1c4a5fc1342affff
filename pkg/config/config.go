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
	Broker       BrokerConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Kafka        KafkaConfig
	Topics       TopicsConfig
	Outbox       OutboxConfig
	Metrics      MetricsConfig
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
	if err := cfg.Service.validate(); err != nil {
		return nil, err
	}
	if err := cfg.validateBroker(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"PAYSAGA_APP_ENV" required:"true"`
	Port         string `envconfig:"PAYSAGA_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"PAYSAGA_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"PAYSAGA_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"PAYSAGA_LOG_FORMAT" default:"json"`
	// CORSOrigins is a comma separated allow-list for browser clients.
	CORSOrigins []string `envconfig:"PAYSAGA_CORS_ORIGINS" default:"http://localhost:3000"`
	// IdempotencyTTL is how long a deposit or withdraw response is replayable.
	IdempotencyTTL time.Duration `envconfig:"PAYSAGA_HTTP_IDEMPOTENCY_TTL" default:"24h"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

// ServiceConfig selects which bounded context a process serves. Each
// context owns its own database; the two never share tables.
type ServiceConfig struct {
	Kind          string `envconfig:"PAYSAGA_SERVICE_KIND" required:"true"`
	ConsumerGroup string `envconfig:"PAYSAGA_CONSUMER_GROUP"`
}

func (s ServiceConfig) IsAccounts() bool {
	return strings.EqualFold(s.Kind, ServiceKindAccounts)
}

func (s ServiceConfig) IsPayments() bool {
	return strings.EqualFold(s.Kind, ServiceKindPayments)
}

// Group returns the consumer group name, defaulting to "<kind>-service".
func (s ServiceConfig) Group() string {
	if g := strings.TrimSpace(s.ConsumerGroup); g != "" {
		return g
	}
	return strings.ToLower(strings.TrimSpace(s.Kind)) + "-service"
}

func (s ServiceConfig) validate() error {
	if !s.IsAccounts() && !s.IsPayments() {
		return fmt.Errorf("%s must be %q or %q, got %q", EnvServiceKind, ServiceKindAccounts, ServiceKindPayments, s.Kind)
	}
	return nil
}

type DBConfig struct {
	DSN    string `envconfig:"PAYSAGA_DB_DSN"`
	Driver string `envconfig:"PAYSAGA_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"PAYSAGA_DB_HOST"`
	LegacyPort     int    `envconfig:"PAYSAGA_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"PAYSAGA_DB_USER"`
	LegacyPassword string `envconfig:"PAYSAGA_DB_PASSWORD"`
	LegacyName     string `envconfig:"PAYSAGA_DB_NAME"`
	LegacySSLMode  string `envconfig:"PAYSAGA_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"PAYSAGA_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"PAYSAGA_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"PAYSAGA_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"PAYSAGA_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	TxMaxAttempts   int           `envconfig:"PAYSAGA_DB_TX_MAX_ATTEMPTS" default:"3"`
}

type RedisConfig struct {
	URL          string        `envconfig:"PAYSAGA_REDIS_URL" required:"true"`
	Address      string        `envconfig:"PAYSAGA_REDIS_ADDR"`
	Password     string        `envconfig:"PAYSAGA_REDIS_PASSWORD"`
	DB           int           `envconfig:"PAYSAGA_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"PAYSAGA_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"PAYSAGA_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"PAYSAGA_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"PAYSAGA_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"PAYSAGA_REDIS_WRITE_TIMEOUT" default:"5s"`
	KeyPrefix    string        `envconfig:"PAYSAGA_REDIS_KEY_PREFIX" default:"ps"`
}

// JWTConfig verifies operator bearer tokens on the /ops routes.
type JWTConfig struct {
	Secret            string `envconfig:"PAYSAGA_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"PAYSAGA_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"PAYSAGA_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"PAYSAGA_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"PAYSAGA_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL time.Duration `envconfig:"PAYSAGA_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
	ConsumerLanes        int           `envconfig:"PAYSAGA_CONSUMER_LANES" default:"8"`
	NackBackoff          time.Duration `envconfig:"PAYSAGA_CONSUMER_NACK_BACKOFF" default:"1s"`
}

type BrokerConfig struct {
	Kind string `envconfig:"PAYSAGA_BROKER" default:"pubsub"`
}

func (b BrokerConfig) IsKafka() bool {
	return strings.EqualFold(b.Kind, BrokerKafka)
}

func (b BrokerConfig) IsPubSub() bool {
	return strings.EqualFold(b.Kind, BrokerPubSub)
}

type GCPConfig struct {
	ProjectID              string `envconfig:"PAYSAGA_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"PAYSAGA_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"PAYSAGA_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	VerifySubscriptions bool `envconfig:"PAYSAGA_PUBSUB_VERIFY_SUBSCRIPTIONS" default:"true"`
	MaxOutstanding      int  `envconfig:"PAYSAGA_PUBSUB_MAX_OUTSTANDING" default:"100"`
}

type KafkaConfig struct {
	Brokers          string        `envconfig:"PAYSAGA_KAFKA_BROKERS" default:"localhost:9092"`
	ClientID         string        `envconfig:"PAYSAGA_KAFKA_CLIENT_ID" default:"paysaga"`
	SecurityProtocol string        `envconfig:"PAYSAGA_KAFKA_SECURITY_PROTOCOL"`
	SASLMechanism    string        `envconfig:"PAYSAGA_KAFKA_SASL_MECHANISM"`
	SASLUsername     string        `envconfig:"PAYSAGA_KAFKA_SASL_USERNAME"`
	SASLPassword     string        `envconfig:"PAYSAGA_KAFKA_SASL_PASSWORD"`
	SessionTimeout   time.Duration `envconfig:"PAYSAGA_KAFKA_SESSION_TIMEOUT" default:"30s"`
	PollTimeout      time.Duration `envconfig:"PAYSAGA_KAFKA_POLL_TIMEOUT" default:"500ms"`
}

// TopicsConfig names one broker topic per saga event type.
type TopicsConfig struct {
	PaymentInitiated           string `envconfig:"PAYSAGA_TOPIC_PAYMENT_INITIATED" default:"payment-initiated"`
	SenderDebited              string `envconfig:"PAYSAGA_TOPIC_SENDER_DEBITED" default:"sender-debited"`
	DebitFailed                string `envconfig:"PAYSAGA_TOPIC_DEBIT_FAILED" default:"debit-failed"`
	ReceiverCreditRequested    string `envconfig:"PAYSAGA_TOPIC_RECEIVER_CREDIT_REQUESTED" default:"receiver-credit-requested"`
	ReceiverCredited           string `envconfig:"PAYSAGA_TOPIC_RECEIVER_CREDITED" default:"receiver-credited"`
	CreditFailed               string `envconfig:"PAYSAGA_TOPIC_CREDIT_FAILED" default:"credit-failed"`
	CompensatePaymentRequested string `envconfig:"PAYSAGA_TOPIC_COMPENSATE_PAYMENT_REQUESTED" default:"compensate-payment-requested"`
	CompensatePayment          string `envconfig:"PAYSAGA_TOPIC_COMPENSATE_PAYMENT" default:"compensate-payment"`
	CompensationFailed         string `envconfig:"PAYSAGA_TOPIC_COMPENSATION_FAILED" default:"compensation-failed"`
	PaymentCompleted           string `envconfig:"PAYSAGA_TOPIC_PAYMENT_COMPLETED" default:"payment-completed"`
	AccountActivity            string `envconfig:"PAYSAGA_TOPIC_ACCOUNT_ACTIVITY" default:"account-activity"`
}

type OutboxConfig struct {
	BatchSize       int           `envconfig:"PAYSAGA_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS  int           `envconfig:"PAYSAGA_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	PublishTimeout  time.Duration `envconfig:"PAYSAGA_OUTBOX_PUBLISH_TIMEOUT" default:"15s"`
	QuarantineAfter int           `envconfig:"PAYSAGA_OUTBOX_QUARANTINE_AFTER" default:"5"`
}

type MetricsConfig struct {
	Addr string `envconfig:"PAYSAGA_METRICS_ADDR" default:":9090"`
}

type CronConfig struct {
	Interval        time.Duration `envconfig:"PAYSAGA_CRON_INTERVAL" default:"5m"`
	StuckPaymentAge time.Duration `envconfig:"PAYSAGA_CRON_STUCK_PAYMENT_AGE" default:"15m"`
	OutboxLagAge    time.Duration `envconfig:"PAYSAGA_CRON_OUTBOX_LAG_AGE" default:"5m"`
	JobTimeout      time.Duration `envconfig:"PAYSAGA_CRON_JOB_TIMEOUT" default:"1m"`
}

func (c *Config) validateBroker() error {
	switch {
	case c.Broker.IsPubSub():
		if strings.TrimSpace(c.GCP.ProjectID) == "" {
			return fmt.Errorf("%s is required when %s=%s", EnvGCPProjectID, EnvBroker, BrokerPubSub)
		}
	case c.Broker.IsKafka():
		if strings.TrimSpace(c.Kafka.Brokers) == "" {
			return fmt.Errorf("%s is required when %s=%s", EnvKafkaBrokers, EnvBroker, BrokerKafka)
		}
	default:
		return fmt.Errorf("%s must be %q or %q, got %q", EnvBroker, BrokerPubSub, BrokerKafka, c.Broker.Kind)
	}
	return nil
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
