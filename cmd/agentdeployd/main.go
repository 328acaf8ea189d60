package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docker/docker/client"
	"github.com/postqode/agentdeploy/pkg/api"
	"github.com/postqode/agentdeploy/pkg/artifact"
	"github.com/postqode/agentdeploy/pkg/builder"
	"github.com/postqode/agentdeploy/pkg/config"
	"github.com/postqode/agentdeploy/pkg/conftools"
	"github.com/postqode/agentdeploy/pkg/database"
	"github.com/postqode/agentdeploy/pkg/factory"
	"github.com/postqode/agentdeploy/pkg/logging"
	"github.com/postqode/agentdeploy/pkg/middleware"
	"github.com/postqode/agentdeploy/pkg/orchestrator"
	"github.com/postqode/agentdeploy/pkg/platform"
	"github.com/postqode/agentdeploy/pkg/platform/azure"
	"github.com/postqode/agentdeploy/pkg/platform/docker"
	"github.com/postqode/agentdeploy/pkg/platform/edge"
	"github.com/postqode/agentdeploy/pkg/platform/kubernetes"
	"github.com/postqode/agentdeploy/pkg/platform/vm"
	"github.com/postqode/agentdeploy/pkg/telemetry"
	"github.com/postqode/agentdeploy/pkg/version"
	log "github.com/sirupsen/logrus"
)

const (
	databaseConnectBackoffInterval = 3 * time.Second
	serverShutdownTimeout          = 30 * time.Second
	attemptGracePeriod             = 30 * time.Second
)

func run() error {
	cfg := config.Initialize()
	err := conftools.Load(cfg)
	if err != nil {
		return err
	}

	err = logging.Setup(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Fields: log.Fields{"component": "agentdeployd", "version": version.Version()},
	})
	if err != nil {
		return err
	}

	// Welcome
	log.Infof("agentdeployd %s", version.Version())
	ts, err := version.BuildTime()
	if err == nil {
		log.Infof("This version was built %s", ts.Local())
	}

	for _, line := range conftools.Format(config.Masked) {
		log.Info(line)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if len(cfg.Telemetry.OTLPEndpoint) > 0 {
		tracerProvider, err := telemetry.New(ctx, "agentdeployd", cfg.Telemetry.OTLPEndpoint)
		if err != nil {
			return fmt.Errorf("set up telemetry: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
				log.Errorf("Flush traces: %s", err)
			}
		}()
		log.Infof("Sending traces to %s", cfg.Telemetry.OTLPEndpoint)
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	dockerClient, err := newDockerClient(cfg.Docker)
	if err != nil {
		return err
	}
	defer dockerClient.Close()

	var artifacts *artifact.Store
	if len(cfg.OCI.Registry) > 0 {
		artifacts = artifact.New(artifact.Options{
			Registry:  cfg.OCI.Registry,
			Username:  cfg.OCI.Username,
			Password:  cfg.OCI.Password,
			PlainHTTP: cfg.OCI.PlainHTTP,
		})
		log.Infof("Pushing artifacts to %s", cfg.OCI.Registry)
	} else {
		log.Warnf("No artifact registry configured; tarballs and packages stay on local disk")
	}

	deployers := []platform.Deployer{
		docker.New(dockerClient, docker.Options{
			PublicHost:     cfg.Docker.PublicHost,
			MarketplaceURL: cfg.Docker.MarketplaceURL,
		}),
		kubernetes.New(nil),
		vm.New(nil, artifacts),
		azure.New(azure.Options{
			TenantID:     cfg.Azure.TenantID,
			ClientID:     cfg.Azure.ClientID,
			ClientSecret: cfg.Azure.ClientSecret,
		}, artifacts),
	}

	if len(cfg.NATS.URL) > 0 {
		messenger, err := edge.Connect(cfg.NATS.URL, cfg.NATS.RequestTimeout)
		if err != nil {
			return err
		}
		defer messenger.Close()
		deployers = append(deployers, edge.New(messenger, cfg.NATS.SubjectPrefix))
	} else {
		log.Warnf("No NATS server configured; edge deployments are disabled")
	}

	f := factory.New(deployers...)
	b := builder.New(builder.Options{
		WorkDir:         cfg.Builder.WorkDir,
		PythonImage:     cfg.Builder.PythonImage,
		DefaultRegistry: cfg.Builder.DefaultRegistry,
	}, dockerClient, artifacts)

	orch := orchestrator.New(store, f, b, cfg.Orchestrator)
	log.Infof("Orchestrator ready: %s", orch)

	authenticator, err := newAuthenticator(ctx, cfg.Auth)
	if err != nil {
		return err
	}

	router := api.New(api.Config{
		Orchestrator:  orch,
		MetricsPath:   cfg.MetricsPath,
		Authenticator: authenticator,
	})

	server := &http.Server{
		Addr:    cfg.ListenAddress,
		Handler: router,
	}

	watchdogCtx, stopWatchdog := context.WithCancel(context.Background())
	watchdogDone := make(chan struct{})
	go func() {
		defer close(watchdogDone)
		if err := orch.Run(watchdogCtx); err != nil {
			log.Errorf("Watchdog: %s", err)
		}
	}()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.ListenAndServe()
	}()

	log.Infof("Ready to accept connections on %s", cfg.ListenAddress)

	select {
	case <-ctx.Done():
		log.Infof("Received signal, exiting...")
	case err = <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("HTTP server: %s", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	err = server.Shutdown(shutdownCtx)
	cancel()
	if err != nil {
		log.Errorf("Shut down HTTP server: %s", err)
	}

	stopWatchdog()
	<-watchdogDone

	log.Infof("Waiting up to %s for running deployments", attemptGracePeriod)
	graceCtx, cancel := context.WithTimeout(context.Background(), attemptGracePeriod)
	orch.Shutdown(graceCtx)
	cancel()

	return nil
}

// openStore connects to PostgreSQL with retries, or falls back to the in-memory registry.
func openStore(ctx context.Context, cfg *config.Config) (database.DeploymentStore, func(), error) {
	if len(cfg.DatabaseURL) == 0 {
		log.Warnf("No database configured; deployments are kept in memory and lost on restart")
		return database.NewMemoryStore(), func() {}, nil
	}

	dbEncryptionKey, err := hex.DecodeString(cfg.DatabaseEncryptionKey)
	if err != nil {
		return nil, nil, fmt.Errorf("database encryption key must be a hex encoded string")
	}

	var db *database.Database

	connectCtx, cancel := context.WithTimeout(ctx, cfg.DatabaseConnectTimeout)
	for {
		log.Infof("Connecting to database...")
		db, err = database.New(connectCtx, cfg.DatabaseURL, dbEncryptionKey)
		if err == nil {
			log.Infof("Database connection established.")
			break
		} else if connectCtx.Err() != nil {
			break
		} else {
			log.Errorf("unable to connect to database: %s", err)
			time.Sleep(databaseConnectBackoffInterval)
		}
	}
	cancel()
	if err != nil {
		return nil, nil, fmt.Errorf("setup postgres connection: %s", err)
	}

	err = db.Migrate(ctx)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrating database: %s", err)
	}

	return db, db.Close, nil
}

func newDockerClient(cfg config.Docker) (*client.Client, error) {
	opts := []client.Opt{
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	}
	if len(cfg.Host) > 0 {
		opts = append(opts, client.WithHost(cfg.Host))
	}
	c, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("set up docker client: %w", err)
	}
	return c, nil
}

func newAuthenticator(ctx context.Context, cfg config.Auth) (func(http.Handler) http.Handler, error) {
	switch {
	case len(cfg.JWKSURL) > 0:
		validator, err := middleware.NewJWKSValidator(ctx, cfg.JWKSURL, cfg.Issuer)
		if err != nil {
			return nil, fmt.Errorf("set up token validator: %w", err)
		}
		log.Infof("Verifying bearer tokens against %s", cfg.JWKSURL)
		return validator.Middleware, nil
	case len(cfg.HMACSecret) > 0:
		log.Infof("Verifying HS256 bearer tokens")
		return middleware.NewHMACValidator([]byte(cfg.HMACSecret), cfg.Issuer).Middleware, nil
	case cfg.Disabled:
		log.Warnf("Authentication is disabled; callers are identified by the %s header", middleware.UserIDHeader)
		return middleware.HeaderUser, nil
	default:
		return nil, nil
	}
}

func main() {
	err := run()
	if err != nil {
		log.Errorf("Fatal error: %s", err)
		os.Exit(1)
	}
}
