package config

// EnvPrefix is empty because every field carries its fully qualified
// TRADEMON_* name in the envconfig tag.
const EnvPrefix = ""

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv            = "TRADEMON_APP_ENV"
	EnvAppPort           = "TRADEMON_APP_PORT"
	EnvDBDSN             = "TRADEMON_DB_DSN"
	EnvDBHost            = "TRADEMON_DB_HOST"
	EnvDBUser            = "TRADEMON_DB_USER"
	EnvDBName            = "TRADEMON_DB_NAME"
	EnvRedisURL          = "TRADEMON_REDIS_URL"
	EnvRedisAddr         = "TRADEMON_REDIS_ADDR"
	EnvAuthSecret        = "TRADEMON_AUTH_JWT_SECRET"
	EnvAuthIssuer        = "TRADEMON_AUTH_JWT_ISSUER"
	EnvMPAccessToken     = "TRADEMON_MP_ACCESS_TOKEN"
	EnvMPWebhookSecret   = "TRADEMON_MP_WEBHOOK_SECRET"
	EnvFeeTiers          = "TRADEMON_FEE_TIERS"
	EnvPlatformAccountID = "TRADEMON_PLATFORM_ACCOUNT_ID"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
