package config

const (
	EnvPrefix = "BAZAAR"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	PaymentProviderStripe = "stripe"
	PaymentProviderSquare = "square"
)

const (
	EnvAppEnv          = "BAZAAR_APP_ENV"
	EnvPort            = "BAZAAR_APP_PORT"
	EnvDBDSN           = "BAZAAR_DB_DSN"
	EnvDBHost          = "BAZAAR_DB_HOST"
	EnvDBUser          = "BAZAAR_DB_USER"
	EnvDBName          = "BAZAAR_DB_NAME"
	EnvRedisURL        = "BAZAAR_REDIS_URL"
	EnvJWTSecret       = "BAZAAR_JWT_SECRET"
	EnvJWTIssuer       = "BAZAAR_JWT_ISSUER"
	EnvJWTExpMins      = "BAZAAR_JWT_EXPIRATION_MINUTES"
	EnvPaymentProvider = "BAZAAR_PAYMENT_PROVIDER"
	EnvCommissionRate  = "BAZAAR_COMMISSION_RATE"
)

var splitDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
