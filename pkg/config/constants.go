package config

const EnvPrefix = "PAYSAGA"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	ServiceKindAccounts = "accounts"
	ServiceKindPayments = "payments"
)

const (
	BrokerPubSub = "pubsub"
	BrokerKafka  = "kafka"
)

const (
	EnvAppEnv      = "PAYSAGA_APP_ENV"
	EnvPort        = "PAYSAGA_APP_PORT"
	EnvLogLevel    = "PAYSAGA_LOG_LEVEL"
	EnvServiceKind = "PAYSAGA_SERVICE_KIND"

	EnvDBDSN  = "PAYSAGA_DB_DSN"
	EnvDBHost = "PAYSAGA_DB_HOST"
	EnvDBUser = "PAYSAGA_DB_USER"
	EnvDBName = "PAYSAGA_DB_NAME"
	EnvDBPass = "PAYSAGA_DB_PASSWORD"

	EnvRedisURL = "PAYSAGA_REDIS_URL"

	EnvJWTSecret = "PAYSAGA_JWT_SECRET"
	EnvJWTIssuer = "PAYSAGA_JWT_ISSUER"

	EnvBroker       = "PAYSAGA_BROKER"
	EnvGCPProjectID = "PAYSAGA_GCP_PROJECT_ID"
	EnvKafkaBrokers = "PAYSAGA_KAFKA_BROKERS"

	EnvOutboxQuarantineAfter = "PAYSAGA_OUTBOX_QUARANTINE_AFTER"
	EnvTopicPaymentInitiated = "PAYSAGA_TOPIC_PAYMENT_INITIATED"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
