package config

const (
	EnvPrefix = "DVMM"

	AppEnvDev  = "development"
	AppEnvProd = "production"

	EnvAppEnv    = "DVMM_APP_ENV"
	EnvPort      = "DVMM_APP_PORT"
	EnvDBDSN     = "DVMM_DB_DSN"
	EnvDBHost    = "DVMM_DB_HOST"
	EnvDBUser    = "DVMM_DB_USER"
	EnvDBName    = "DVMM_DB_NAME"
	EnvRedisURL  = "DVMM_REDIS_URL"
	EnvJWTSecret = "DVMM_JWT_SECRET"
	EnvJWTIssuer = "DVMM_JWT_ISSUER"

	EnvGCPProjectID          = "DVMM_GCP_PROJECT_ID"
	EnvPubSubDomainTopic     = "DVMM_PUBSUB_DOMAIN_TOPIC"
	EnvPubSubProvisionSub    = "DVMM_PUBSUB_PROVISION_SUBSCRIPTION"
	EnvHypervisorProvider    = "DVMM_HYPERVISOR_PROVIDER"
	EnvVSphereEndpoint       = "DVMM_VSPHERE_ENDPOINT"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
