// Package azure runs agents as Python function apps on Azure Functions,
// driven through the Resource Manager and Kudu REST APIs.
package azure

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/postqode/agentdeploy/pkg/artifact"
	"github.com/postqode/agentdeploy/pkg/deployment"
	"github.com/postqode/agentdeploy/pkg/platform"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

const (
	DefaultManagementURL = "https://management.azure.com"

	SitesAPIVersion     = "2022-03-01"
	GroupsAPIVersion    = "2021-04-01"
	StorageAPIVersion   = "2023-01-01"
	FunctionName        = "InvokeAgent"
	ExtensionVersion    = "~4"
	storageProvisioning = 5 * time.Minute
)

type Options struct {
	TenantID     string
	ClientID     string
	ClientSecret string

	// ManagementURL, AuthorityURL and SCMURL point at the Azure endpoints. Empty means public cloud.
	ManagementURL string
	AuthorityURL  string
	SCMURL        func(app string) string
	HTTPClient    *http.Client
}

type Deployer struct {
	opts      Options
	tokens    *tokens
	artifacts *artifact.Store
}

var _ platform.Deployer = &Deployer{}

func New(opts Options, artifacts *artifact.Store) *Deployer {
	if len(opts.ManagementURL) == 0 {
		opts.ManagementURL = DefaultManagementURL
	}
	opts.ManagementURL = strings.TrimSuffix(opts.ManagementURL, "/")
	if opts.SCMURL == nil {
		opts.SCMURL = func(app string) string {
			return fmt.Sprintf("https://%s.scm.azurewebsites.net", app)
		}
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Minute}
	}
	return &Deployer{
		opts:      opts,
		artifacts: artifacts,
		tokens: &tokens{
			authority: strings.TrimSuffix(opts.AuthorityURL, "/"),
			base:      opts.HTTPClient,
			sources:   make(map[credentials]oauth2.TokenSource),
		},
	}
}

var (
	appName        = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9-]{0,58}[a-zA-Z0-9]$`)
	storageName    = regexp.MustCompile(`^[a-z0-9]{3,24}$`)
	runtimeVersion = regexp.MustCompile(`^3\.[0-9]+$`)
	nonAlnum       = regexp.MustCompile(`[^a-z0-9]+`)
)

// StorageAccount returns the configured storage account, or one derived from the agent id.
func StorageAccount(settings *deployment.AzureFunctionsConfig, agentID string) string {
	if len(settings.StorageAccount) > 0 {
		return settings.StorageAccount
	}
	name := "postqode" + platform.Short(nonAlnum.ReplaceAllString(strings.ToLower(agentID), ""), 8)
	if len(name) > 24 {
		name = name[:24]
	}
	return name
}

func (d *Deployer) Platform() deployment.Platform {
	return deployment.PlatformAzureFunctions
}

func (d *Deployer) ArtifactKind() deployment.ArtifactKind {
	return deployment.ArtifactFunctionBundle
}

func (d *Deployer) Schema() deployment.Schema {
	return deployment.AzureFunctionsSchema()
}

func (d *Deployer) ValidateConfig(cfg deployment.Config) deployment.ValidationResult {
	result := deployment.ValidationResult{}

	settings, ok := cfg.Settings.(*deployment.AzureFunctionsConfig)
	if !ok {
		result.AddError("azure settings missing")
		return result
	}
	if len(settings.SubscriptionID) == 0 {
		result.AddError("subscription_id is required")
	}
	if len(settings.ResourceGroup) == 0 {
		result.AddError("resource_group is required")
	}
	if !appName.MatchString(settings.FunctionAppName) {
		result.AddError("function_app_name %q must be 2 to 60 letters, digits or hyphens", settings.FunctionAppName)
	}
	if !runtimeVersion.MatchString(settings.RuntimeVersion) {
		result.AddError("runtime_version %q is not a supported Python version", settings.RuntimeVersion)
	}
	if len(settings.StorageAccount) > 0 && !storageName.MatchString(settings.StorageAccount) {
		result.AddError("storage_account %q must be 3 to 24 lowercase letters or digits", settings.StorageAccount)
	}
	if len(settings.StorageAccount) == 0 {
		result.AddWarning("No storage_account specified, %s will be created", StorageAccount(settings, cfg.AgentID))
	}
	creds := d.credentials(settings)
	if len(creds.tenantID) == 0 || len(creds.clientID) == 0 || len(creds.clientSecret) == 0 {
		result.AddError("Azure credentials are not configured: set tenant_id, client_id and client_secret")
	}

	return result
}

func (d *Deployer) credentials(settings *deployment.AzureFunctionsConfig) credentials {
	if len(settings.ClientID) > 0 {
		tenant := settings.TenantID
		if len(tenant) == 0 {
			tenant = d.opts.TenantID
		}
		return credentials{tenantID: tenant, clientID: settings.ClientID, clientSecret: settings.ClientSecret.Reveal()}
	}
	return credentials{tenantID: d.opts.TenantID, clientID: d.opts.ClientID, clientSecret: d.opts.ClientSecret}
}

func (d *Deployer) request(ctx context.Context, target platform.Target) (*request, *deployment.AzureFunctionsConfig, error) {
	settings, err := platform.Settings[*deployment.AzureFunctionsConfig](target)
	if err != nil {
		return nil, nil, err
	}
	return &request{client: d.tokens.httpclient(ctx, d.credentials(settings))}, settings, nil
}

func (d *Deployer) groupURL(settings *deployment.AzureFunctionsConfig) string {
	return fmt.Sprintf("%s/subscriptions/%s/resourceGroups/%s", d.opts.ManagementURL, settings.SubscriptionID, settings.ResourceGroup)
}

func (d *Deployer) siteURL(settings *deployment.AzureFunctionsConfig, app, action string) string {
	url := fmt.Sprintf("%s/providers/Microsoft.Web/sites/%s", d.groupURL(settings), app)
	if len(action) > 0 {
		url += "/" + action
	}
	return url + "?api-version=" + SitesAPIVersion
}

func (d *Deployer) planURL(settings *deployment.AzureFunctionsConfig) string {
	return fmt.Sprintf("%s/providers/Microsoft.Web/serverfarms/%s-plan?api-version=%s", d.groupURL(settings), settings.FunctionAppName, SitesAPIVersion)
}

func (d *Deployer) storageURL(settings *deployment.AzureFunctionsConfig, account, action string) string {
	url := fmt.Sprintf("%s/providers/Microsoft.Storage/storageAccounts/%s", d.groupURL(settings), account)
	if len(action) > 0 {
		url += "/" + action
	}
	return url + "?api-version=" + StorageAPIVersion
}

func (d *Deployer) app(target platform.Target, settings *deployment.AzureFunctionsConfig) string {
	if len(target.ExternalID) > 0 {
		return target.ExternalID
	}
	return settings.FunctionAppName
}

func accessURL(app string) string {
	return fmt.Sprintf("https://%s.azurewebsites.net/api/%s", app, FunctionName)
}

type resource struct {
	ID         string                 `json:"id,omitempty"`
	Location   string                 `json:"location"`
	Kind       string                 `json:"kind,omitempty"`
	SKU        map[string]string      `json:"sku,omitempty"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}

type site struct {
	ID         string `json:"id"`
	Location   string `json:"location"`
	Properties struct {
		State             string `json:"state"`
		DefaultHostName   string `json:"defaultHostName"`
		AvailabilityState string `json:"availabilityState"`
	} `json:"properties"`
}

type storageAccount struct {
	Properties struct {
		ProvisioningState string `json:"provisioningState"`
	} `json:"properties"`
}

type storageKeys struct {
	Keys []struct {
		Value string `json:"value"`
	} `json:"keys"`
}

type appSetting struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func (d *Deployer) Deploy(ctx context.Context, target platform.Target, build deployment.BuildResult) (deployment.DeployResult, error) {
	start := time.Now()
	result := deployment.DeployResult{}

	r, settings, err := d.request(ctx, target)
	if err != nil {
		return result, err
	}
	bundle, err := artifact.Load(ctx, d.artifacts, build.ArtifactPath, build.ArtifactRef)
	if err != nil {
		return result, deployment.Errorf(deployment.KindDeploy, "load function bundle: %w", err)
	}

	app := settings.FunctionAppName
	result.ExternalID = app
	logger := log.WithFields(log.Fields{
		"deployment_id": target.DeploymentID,
		"function_app":  app,
	})
	buf := &bytes.Buffer{}

	location := settings.Location
	existing := site{}
	err = r.json(ctx, http.MethodGet, d.siteURL(settings, app, ""), nil, &existing)
	switch {
	case err == nil:
		fmt.Fprintf(buf, "using existing function app %s\n", app)
		logger.Infof("Function app exists, updating it")
		if len(existing.Location) > 0 {
			location = existing.Location
		}
	case platform.IsNotFound(err):
		err = r.json(ctx, http.MethodPut, d.groupURL(settings)+"?api-version="+GroupsAPIVersion, resource{Location: location}, nil)
		if err != nil {
			return result, err
		}
		fmt.Fprintf(buf, "resource group %s ready\n", settings.ResourceGroup)
	default:
		return result, err
	}

	storage, err := d.storageConnection(ctx, r, settings, target.Config.AgentID, location, buf)
	if err != nil {
		return result, err
	}

	plan := resource{}
	err = r.json(ctx, http.MethodPut, d.planURL(settings), resource{
		Location:   location,
		Kind:       "functionapp",
		SKU:        map[string]string{"name": "Y1", "tier": "Dynamic"},
		Properties: map[string]interface{}{"reserved": true},
	}, &plan)
	if err != nil {
		return result, err
	}
	fmt.Fprintf(buf, "consumption plan %s-plan ready\n", app)

	err = r.json(ctx, http.MethodPut, d.siteURL(settings, app, ""), resource{
		Location: location,
		Kind:     "functionapp,linux",
		Properties: map[string]interface{}{
			"reserved":     true,
			"serverFarmId": plan.ID,
			"siteConfig": map[string]interface{}{
				"linuxFxVersion": "Python|" + settings.RuntimeVersion,
				"appSettings":    appSettings(target, settings, storage),
			},
		},
	}, nil)
	if err != nil {
		return result, err
	}
	fmt.Fprintf(buf, "function app %s configured\n", app)

	err = r.do(ctx, http.MethodPost, d.opts.SCMURL(app)+"/api/zipdeploy?isAsync=false", bytes.NewReader(bundle), "application/zip", nil)
	if err != nil {
		return result, err
	}
	fmt.Fprintf(buf, "uploaded %d byte bundle to %s\n", len(bundle), app)
	logger.Infof("Function bundle deployed")

	result.State = "deployed"
	if target.Config.AutoStart && strings.EqualFold(existing.Properties.State, "stopped") {
		err = r.json(ctx, http.MethodPost, d.siteURL(settings, app, "start"), nil, nil)
		if err != nil {
			return result, err
		}
		result.State = "running"
		fmt.Fprintf(buf, "started function app %s\n", app)
		logger.Infof("Started stopped function app")
	}

	url := accessURL(app)
	result.AccessURL = url
	result.Endpoints = map[string]string{
		"invoke": url,
		"health": url + "/health",
		"logs":   fmt.Sprintf("az webapp log tail --name %s --resource-group %s", app, settings.ResourceGroup),
		"portal": fmt.Sprintf("https://portal.azure.com/#@/resource/subscriptions/%s/resourceGroups/%s/providers/Microsoft.Web/sites/%s", settings.SubscriptionID, settings.ResourceGroup, app),
		"note":   "Add ?code=<function_key> for authentication",
	}
	result.Log = buf.String()
	result.Duration = time.Since(start)

	return result, nil
}

func appSettings(target platform.Target, settings *deployment.AzureFunctionsConfig, storage string) []appSetting {
	out := []appSetting{
		{Name: "FUNCTIONS_WORKER_RUNTIME", Value: settings.Runtime},
		{Name: "FUNCTIONS_EXTENSION_VERSION", Value: ExtensionVersion},
		{Name: "AzureWebJobsStorage", Value: storage},
		{Name: "POSTQODE_DEPLOYMENT_ID", Value: target.DeploymentID},
		{Name: "POSTQODE_AGENT_ID", Value: target.Config.AgentID},
		{Name: "POSTQODE_ADAPTER", Value: target.Config.Adapter},
	}
	for _, e := range target.Config.EnvVars {
		out = append(out, appSetting{Name: e.Name, Value: e.Value})
	}
	return out
}

// storageConnection creates the storage account when needed, waits for it to be
// provisioned and returns its connection string.
func (d *Deployer) storageConnection(ctx context.Context, r *request, settings *deployment.AzureFunctionsConfig, agentID, location string, buf *bytes.Buffer) (string, error) {
	account := StorageAccount(settings, agentID)

	if len(settings.StorageAccount) == 0 {
		err := r.json(ctx, http.MethodPut, d.storageURL(settings, account, ""), resource{
			Location: location,
			Kind:     "StorageV2",
			SKU:      map[string]string{"name": "Standard_LRS"},
		}, nil)
		if err != nil {
			return "", err
		}

		policy := backoff.WithContext(backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(2*time.Second),
			backoff.WithMaxInterval(15*time.Second),
			backoff.WithMaxElapsedTime(storageProvisioning),
		), ctx)
		err = backoff.Retry(func() error {
			state := storageAccount{}
			err := r.json(ctx, http.MethodGet, d.storageURL(settings, account, ""), nil, &state)
			if err != nil && !platform.IsNotFound(err) {
				return backoff.Permanent(err)
			}
			if state.Properties.ProvisioningState != "Succeeded" {
				return fmt.Errorf("storage account %s is %q", account, state.Properties.ProvisioningState)
			}
			return nil
		}, policy)
		if err != nil {
			return "", deployment.Errorf(deployment.KindDeploy, "provision storage account: %w", err)
		}
		fmt.Fprintf(buf, "storage account %s ready\n", account)
	}

	keys := storageKeys{}
	err := r.json(ctx, http.MethodPost, d.storageURL(settings, account, "listKeys"), nil, &keys)
	if err != nil {
		return "", err
	}
	if len(keys.Keys) == 0 {
		return "", deployment.Errorf(deployment.KindDeploy, "storage account %s has no access keys", account)
	}

	return fmt.Sprintf("DefaultEndpointsProtocol=https;AccountName=%s;AccountKey=%s;EndpointSuffix=core.windows.net", account, keys.Keys[0].Value), nil
}

func (d *Deployer) Start(ctx context.Context, target platform.Target) (deployment.StatusResult, error) {
	r, settings, err := d.request(ctx, target)
	if err != nil {
		return deployment.StatusResult{}, err
	}
	err = r.json(ctx, http.MethodPost, d.siteURL(settings, d.app(target, settings), "start"), nil, nil)
	if err != nil {
		return deployment.StatusResult{}, err
	}
	return d.Status(ctx, target)
}

func (d *Deployer) Stop(ctx context.Context, target platform.Target) (deployment.StatusResult, error) {
	r, settings, err := d.request(ctx, target)
	if err != nil {
		return deployment.StatusResult{}, err
	}
	err = r.json(ctx, http.MethodPost, d.siteURL(settings, d.app(target, settings), "stop"), nil, nil)
	if err != nil && !platform.IsNotFound(err) {
		return deployment.StatusResult{}, err
	}
	return deployment.StatusResult{
		State:       "stopped",
		Health:      deployment.HealthUnknown,
		Settled:     true,
		Message:     "Function App stopped",
		LastUpdated: time.Now(),
	}, nil
}

func (d *Deployer) Status(ctx context.Context, target platform.Target) (deployment.StatusResult, error) {
	r, settings, err := d.request(ctx, target)
	if err != nil {
		return deployment.StatusResult{}, err
	}
	current := site{}
	err = r.json(ctx, http.MethodGet, d.siteURL(settings, d.app(target, settings), ""), nil, &current)
	if err != nil {
		return deployment.StatusResult{}, err
	}

	state := strings.ToLower(current.Properties.State)
	result := deployment.StatusResult{
		State:       state,
		Running:     state == "running",
		Settled:     state == "running" || state == "stopped",
		Health:      deployment.HealthUnknown,
		Message:     fmt.Sprintf("Function App is %s", state),
		LastUpdated: time.Now(),
	}
	if result.Running {
		result.Health = deployment.HealthHealthy
	}
	if strings.EqualFold(current.Properties.AvailabilityState, "DisasterRecoveryMode") {
		result.Health = deployment.HealthUnhealthy
	}
	return result, nil
}

func (d *Deployer) Logs(ctx context.Context, target platform.Target, lines int) (string, error) {
	settings, err := platform.Settings[*deployment.AzureFunctionsConfig](target)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Function App logs are collected by Application Insights.\n"+
		"Stream them with: az webapp log tail --name %s --resource-group %s", d.app(target, settings), settings.ResourceGroup), nil
}

func (d *Deployer) AccessURL(ctx context.Context, target platform.Target) (string, error) {
	settings, err := platform.Settings[*deployment.AzureFunctionsConfig](target)
	if err != nil {
		return "", err
	}
	return accessURL(d.app(target, settings)), nil
}

// Delete removes the function app and its consumption plan. The storage account is kept.
func (d *Deployer) Delete(ctx context.Context, target platform.Target) error {
	r, settings, err := d.request(ctx, target)
	if err != nil {
		return err
	}
	err = r.json(ctx, http.MethodDelete, d.siteURL(settings, d.app(target, settings), ""), nil, nil)
	if err != nil && !platform.IsNotFound(err) {
		return err
	}
	err = r.json(ctx, http.MethodDelete, d.planURL(settings), nil, nil)
	if err != nil && !platform.IsNotFound(err) {
		return err
	}
	return nil
}
