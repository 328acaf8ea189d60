package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/postqode/agentdeploy/pkg/conftools"
	"github.com/postqode/agentdeploy/pkg/orchestrator"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Builder struct {
	WorkDir         string `json:"work-dir"`
	PythonImage     string `json:"python-image"`
	DefaultRegistry string `json:"default-registry"`
}

type Docker struct {
	Host           string `json:"host"`
	PublicHost     string `json:"public-host"`
	MarketplaceURL string `json:"marketplace-url"`
}

type OCI struct {
	Registry  string `json:"registry"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	PlainHTTP bool   `json:"plain-http"`
}

type Azure struct {
	TenantID     string `json:"tenant-id"`
	ClientID     string `json:"client-id"`
	ClientSecret string `json:"client-secret"`
}

type NATS struct {
	URL            string        `json:"url"`
	SubjectPrefix  string        `json:"subject-prefix"`
	RequestTimeout time.Duration `json:"request-timeout"`
}

type Auth struct {
	JWKSURL    string `json:"jwks-url"`
	HMACSecret string `json:"hmac-secret"`
	Issuer     string `json:"issuer"`
	Disabled   bool   `json:"disabled"`
}

type Telemetry struct {
	OTLPEndpoint string `json:"otlp-endpoint"`
}

type Config struct {
	Auth                   Auth                 `json:"auth"`
	Azure                  Azure                `json:"azure"`
	Builder                Builder              `json:"builder"`
	DatabaseConnectTimeout time.Duration        `json:"database-connect-timeout"`
	DatabaseEncryptionKey  string               `json:"database-encryption-key"`
	DatabaseURL            string               `json:"database-url"`
	Docker                 Docker               `json:"docker"`
	ListenAddress          string               `json:"listen-address"`
	LogFormat              string               `json:"log-format"`
	LogLevel               string               `json:"log-level"`
	MetricsPath            string               `json:"metrics-path"`
	NATS                   NATS                 `json:"nats"`
	OCI                    OCI                  `json:"oci"`
	Orchestrator           orchestrator.Options `json:"orchestrator"`
	Telemetry              Telemetry            `json:"telemetry"`
}

// HasCredentials reports whether the daemon holds a service principal of its own.
// Without one, every Azure deployment must carry its credentials in the request.
func (a *Azure) HasCredentials() bool {
	return a.TenantID != "" &&
		a.ClientID != "" &&
		a.ClientSecret != ""
}

const (
	AuthDisabled                      = "auth.disabled"
	AuthHMACSecret                    = "auth.hmac-secret"
	AuthIssuer                        = "auth.issuer"
	AuthJWKSURL                       = "auth.jwks-url"
	AzureClientID                     = "azure.client-id"
	AzureClientSecret                 = "azure.client-secret"
	AzureTenantID                     = "azure.tenant-id"
	BuilderDefaultRegistry            = "builder.default-registry"
	BuilderPythonImage                = "builder.python-image"
	BuilderWorkDir                    = "builder.work-dir"
	DatabaseConnectTimeout            = "database-connect-timeout"
	DatabaseEncryptionKey             = "database-encryption-key"
	DatabaseURL                       = "database-url"
	DockerHost                        = "docker.host"
	DockerMarketplaceURL              = "docker.marketplace-url"
	DockerPublicHost                  = "docker.public-host"
	ListenAddress                     = "listen-address"
	LogFormat                         = "log-format"
	LogLevel                          = "log-level"
	MetricsPath                       = "metrics-path"
	NATSRequestTimeout                = "nats.request-timeout"
	NATSSubjectPrefix                 = "nats.subject-prefix"
	NATSURL                           = "nats.url"
	OCIPassword                       = "oci.password"
	OCIPlainHTTP                      = "oci.plain-http"
	OCIRegistry                       = "oci.registry"
	OCIUsername                       = "oci.username"
	OrchestratorAttemptTimeout        = "orchestrator.attempt-timeout"
	OrchestratorHealthInterval        = "orchestrator.health-interval"
	OrchestratorStepRetention         = "orchestrator.step-retention"
	OrchestratorSweepConcurrency      = "orchestrator.sweep-concurrency"
	OrchestratorSweepInterval         = "orchestrator.sweep-interval"
	OrchestratorVerifyInitialInterval = "orchestrator.verify-initial-interval"
	OrchestratorVerifyMaxInterval     = "orchestrator.verify-max-interval"
	OrchestratorVerifyTimeout         = "orchestrator.verify-timeout"
	TelemetryOTLPEndpoint             = "telemetry.otlp-endpoint"
)

// Masked lists the keys that are never printed.
var Masked = []string{
	AuthHMACSecret,
	AzureClientSecret,
	DatabaseEncryptionKey,
	DatabaseURL,
	OCIPassword,
}

// Bind environment variables commonly provided by the hosting platform
func bindEnv() {
	viper.BindEnv(DatabaseURL, "DATABASE_URL")
	viper.BindEnv(NATSURL, "NATS_URL")

	viper.BindEnv(AzureTenantID, "AZURE_TENANT_ID")
	viper.BindEnv(AzureClientID, "AZURE_CLIENT_ID")
	viper.BindEnv(AzureClientSecret, "AZURE_CLIENT_SECRET")

	viper.BindEnv(AuthJWKSURL, "JWT_JWKS_URL")
	viper.BindEnv(AuthHMACSecret, "JWT_SECRET")
	viper.BindEnv(AuthIssuer, "JWT_ISSUER")
}

func Initialize() *Config {
	conftools.Initialize("agentdeployd")
	bindEnv()

	defaults := orchestrator.DefaultOptions()

	flag.String(ListenAddress, "127.0.0.1:8080", "IP:PORT")
	flag.String(MetricsPath, "/metrics", "HTTP endpoint for exposed metrics.")
	flag.String(LogFormat, "text", "Log format, either 'json' or 'text'.")
	flag.String(LogLevel, "info", "Logging verbosity level.")

	flag.String(DatabaseURL, "", "PostgreSQL connection information. Deployments are kept in memory when empty.")
	flag.String(DatabaseEncryptionKey, "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff", "Key used to encrypt deployment secrets at rest in PostgreSQL database.")
	flag.Duration(DatabaseConnectTimeout, time.Minute*5, "How long to try the initial database connection.")

	flag.Duration(OrchestratorAttemptTimeout, defaults.AttemptTimeout, "Time budget for one deployment attempt, from validation to activation.")
	flag.Duration(OrchestratorVerifyTimeout, defaults.VerifyTimeout, "How long to wait for a deployed agent to settle.")
	flag.Duration(OrchestratorVerifyInitialInterval, defaults.VerifyInitialInterval, "First delay between status polls during verification.")
	flag.Duration(OrchestratorVerifyMaxInterval, defaults.VerifyMaxInterval, "Longest delay between status polls during verification.")
	flag.Duration(OrchestratorSweepInterval, defaults.SweepInterval, "How often to look for deployments stuck in flight.")
	flag.Duration(OrchestratorHealthInterval, defaults.HealthInterval, "How often to reconcile active deployments against their platform.")
	flag.Int(OrchestratorSweepConcurrency, defaults.SweepConcurrency, "Number of deployments checked concurrently by the watchdog.")
	flag.Duration(OrchestratorStepRetention, defaults.StepRetention, "How long progress steps are kept after an attempt finishes.")

	flag.String(BuilderWorkDir, filepath.Join(os.TempDir(), "agentdeploy"), "Scratch directory for build stages.")
	flag.String(BuilderPythonImage, "python:3.11-slim", "Base image for container builds.")
	flag.String(BuilderDefaultRegistry, "docker.io/postqode", "Registry images are pushed to when the request names none.")

	flag.String(DockerHost, "", "Docker daemon address. Uses DOCKER_HOST and friends when empty.")
	flag.String(DockerPublicHost, "localhost", "Host name in access URLs of Docker deployments.")
	flag.String(DockerMarketplaceURL, "http://host.docker.internal:8000", "Marketplace URL handed to containers.")

	flag.String(OCIRegistry, "", "Registry for tarballs, zip packages and edge payloads. Artifacts stay local when empty.")
	flag.String(OCIUsername, "", "Registry user name.")
	flag.String(OCIPassword, "", "Registry password.")
	flag.Bool(OCIPlainHTTP, false, "Talk to the registry over plain HTTP.")

	flag.String(AzureTenantID, "", "Azure tenant of the default service principal.")
	flag.String(AzureClientID, "", "Client ID of the default service principal.")
	flag.String(AzureClientSecret, "", "Client secret of the default service principal.")

	flag.String(NATSURL, "", "NATS server for edge devices. Edge deployments are disabled when empty.")
	flag.String(NATSSubjectPrefix, "postqode.edge", "Subject prefix of edge device commands.")
	flag.Duration(NATSRequestTimeout, time.Second*10, "How long to wait for an edge device to answer.")

	flag.String(AuthJWKSURL, "", "JWKS endpoint used to verify bearer tokens.")
	flag.String(AuthHMACSecret, "", "Shared secret used to verify HS256 bearer tokens.")
	flag.String(AuthIssuer, "", "Required token issuer. Any issuer is accepted when empty.")
	flag.Bool(AuthDisabled, false, "Trust the X-User-ID header instead of verifying tokens. Development only.")

	flag.String(TelemetryOTLPEndpoint, "", "OpenTelemetry collector endpoint. Tracing is disabled when empty.")

	return &Config{}
}
