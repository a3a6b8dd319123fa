package config

// EnvPrefix namespaces every environment variable consumed by the service.
const EnvPrefix = "PLANWRIGHT"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvDBDSN  = "PLANWRIGHT_DB_DSN"
	EnvDBHost = "PLANWRIGHT_DB_HOST"
	EnvDBUser = "PLANWRIGHT_DB_USER"
	EnvDBName = "PLANWRIGHT_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
