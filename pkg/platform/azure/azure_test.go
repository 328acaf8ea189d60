package azure_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi"
	"github.com/postqode/agentdeploy/pkg/deployment"
	"github.com/postqode/agentdeploy/pkg/platform"
	"github.com/postqode/agentdeploy/pkg/platform/azure"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	token     = "fake-arm-token"
	app       = "support-bot-prod"
	accessKey = "c3RvcmFnZS1rZXk="
)

type fakeAzure struct {
	lock     sync.Mutex
	sites    map[string]map[string]interface{}
	groups   []string
	storage  []string
	plans    []string
	zips     map[string][]byte
	requests []string
}

func (f *fakeAzure) router() http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			f.lock.Lock()
			f.requests = append(f.requests, req.Method+" "+req.URL.Path)
			f.lock.Unlock()
			next.ServeHTTP(w, req)
		})
	})

	r.Post("/{tenant}/oauth2/v2.0/token", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if chi.URLParam(req, "tenant") == "bad-tenant" {
			w.WriteHeader(http.StatusUnauthorized)
			io.WriteString(w, `{"error":"invalid_client","error_description":"AADSTS7000215: Invalid client secret provided."}`)
			return
		}
		io.WriteString(w, `{"access_token":"`+token+`","token_type":"Bearer","expires_in":3600}`)
	})

	r.Route("/subscriptions/{sub}/resourceGroups/{rg}", func(r chi.Router) {
		r.Use(f.authorized)
		r.Put("/", func(w http.ResponseWriter, req *http.Request) {
			f.lock.Lock()
			f.groups = append(f.groups, chi.URLParam(req, "rg"))
			f.lock.Unlock()
			io.WriteString(w, `{}`)
		})
		r.Put("/providers/Microsoft.Storage/storageAccounts/{account}", func(w http.ResponseWriter, req *http.Request) {
			f.lock.Lock()
			f.storage = append(f.storage, chi.URLParam(req, "account"))
			f.lock.Unlock()
			w.WriteHeader(http.StatusAccepted)
		})
		r.Get("/providers/Microsoft.Storage/storageAccounts/{account}", func(w http.ResponseWriter, req *http.Request) {
			io.WriteString(w, `{"properties":{"provisioningState":"Succeeded"}}`)
		})
		r.Post("/providers/Microsoft.Storage/storageAccounts/{account}/listKeys", func(w http.ResponseWriter, req *http.Request) {
			io.WriteString(w, `{"keys":[{"keyName":"key1","value":"`+accessKey+`"}]}`)
		})
		r.Put("/providers/Microsoft.Web/serverfarms/{plan}", func(w http.ResponseWriter, req *http.Request) {
			f.lock.Lock()
			f.plans = append(f.plans, chi.URLParam(req, "plan"))
			f.lock.Unlock()
			io.WriteString(w, `{"id":"/serverfarms/`+chi.URLParam(req, "plan")+`","location":"eastus"}`)
		})
		r.Delete("/providers/Microsoft.Web/serverfarms/{plan}", func(w http.ResponseWriter, req *http.Request) {
			f.lock.Lock()
			defer f.lock.Unlock()
			for i, p := range f.plans {
				if p == chi.URLParam(req, "plan") {
					f.plans = append(f.plans[:i], f.plans[i+1:]...)
					return
				}
			}
			w.WriteHeader(http.StatusNoContent)
		})
		r.Get("/providers/Microsoft.Web/sites/{app}", f.site(func(w http.ResponseWriter, site map[string]interface{}) {
			json.NewEncoder(w).Encode(site)
		}))
		r.Put("/providers/Microsoft.Web/sites/{app}", func(w http.ResponseWriter, req *http.Request) {
			site := make(map[string]interface{})
			json.NewDecoder(req.Body).Decode(&site)
			properties := site["properties"].(map[string]interface{})
			properties["state"] = "Running"
			f.lock.Lock()
			f.sites[chi.URLParam(req, "app")] = site
			f.lock.Unlock()
			json.NewEncoder(w).Encode(site)
		})
		r.Delete("/providers/Microsoft.Web/sites/{app}", f.site(func(w http.ResponseWriter, site map[string]interface{}) {
			delete(f.sites, app)
		}))
		r.Post("/providers/Microsoft.Web/sites/{app}/start", f.site(func(w http.ResponseWriter, site map[string]interface{}) {
			site["properties"].(map[string]interface{})["state"] = "Running"
		}))
		r.Post("/providers/Microsoft.Web/sites/{app}/stop", f.site(func(w http.ResponseWriter, site map[string]interface{}) {
			site["properties"].(map[string]interface{})["state"] = "Stopped"
		}))
	})

	r.With(f.authorized).Post("/scm/{app}/api/zipdeploy", func(w http.ResponseWriter, req *http.Request) {
		data, _ := io.ReadAll(req.Body)
		f.lock.Lock()
		f.zips[chi.URLParam(req, "app")] = data
		f.lock.Unlock()
		w.WriteHeader(http.StatusOK)
	})

	return r
}

func (f *fakeAzure) authorized(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Header.Get("Authorization") != "Bearer "+token {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, req)
	})
}

func (f *fakeAzure) site(fn func(w http.ResponseWriter, site map[string]interface{})) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		f.lock.Lock()
		defer f.lock.Unlock()
		site, ok := f.sites[chi.URLParam(req, "app")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"error":{"code":"ResourceNotFound","message":"The Resource 'Microsoft.Web/sites/`+chi.URLParam(req, "app")+`' was not found."}}`)
			return
		}
		fn(w, site)
	}
}

func setup(t *testing.T) (*azure.Deployer, *fakeAzure, *httptest.Server) {
	fake := &fakeAzure{
		sites: make(map[string]map[string]interface{}),
		zips:  make(map[string][]byte),
	}
	server := httptest.NewServer(fake.router())
	t.Cleanup(server.Close)

	d := azure.New(azure.Options{
		TenantID:      "tenant",
		ClientID:      "client",
		ClientSecret:  "secret",
		ManagementURL: server.URL,
		AuthorityURL:  server.URL,
		SCMURL: func(app string) string {
			return server.URL + "/scm/" + app
		},
	}, nil)
	return d, fake, server
}

func settings() *deployment.AzureFunctionsConfig {
	return &deployment.AzureFunctionsConfig{
		SubscriptionID:  "sub-1",
		ResourceGroup:   "agents",
		FunctionAppName: app,
		Location:        "eastus",
		Runtime:         "python",
		RuntimeVersion:  "3.11",
	}
}

func target(s *deployment.AzureFunctionsConfig) platform.Target {
	return platform.Target{
		DeploymentID: "3f2504e0-4f89-11d3-9a0c-0305e82c3301",
		Config: deployment.Config{
			Platform:        deployment.PlatformAzureFunctions,
			AgentID:         "agent-1",
			AgentName:       "Support Bot",
			Version:         "1.0.0",
			Adapter:         "langgraph",
			EnvironmentName: "production",
			Port:            8080,
			AutoStart:       true,
			EnvVars:         []deployment.EnvVar{{Name: "OPENAI_API_KEY", Value: "sk-test", Secret: true}},
			Settings:        s,
		},
	}
}

func bundle(t *testing.T) deployment.BuildResult {
	path := filepath.Join(t.TempDir(), "bundle.zip")
	require.NoError(t, os.WriteFile(path, []byte("PK\x03\x04 bundle"), 0o644))
	return deployment.BuildResult{Success: true, Kind: deployment.ArtifactFunctionBundle, ArtifactPath: path}
}

func appSettings(site map[string]interface{}) map[string]string {
	out := make(map[string]string)
	config := site["properties"].(map[string]interface{})["siteConfig"].(map[string]interface{})
	for _, s := range config["appSettings"].([]interface{}) {
		setting := s.(map[string]interface{})
		out[setting["name"].(string)] = setting["value"].(string)
	}
	return out
}

func TestDeployCreatesFunctionApp(t *testing.T) {
	d, fake, _ := setup(t)

	result, err := d.Deploy(context.Background(), target(settings()), bundle(t))
	require.NoError(t, err)

	assert.Equal(t, app, result.ExternalID)
	assert.Equal(t, "https://support-bot-prod.azurewebsites.net/api/InvokeAgent", result.AccessURL)
	assert.Equal(t, []string{"agents"}, fake.groups)
	assert.Equal(t, []string{"postqodeagent1"}, fake.storage)
	assert.Equal(t, []string{app + "-plan"}, fake.plans)
	assert.Equal(t, []byte("PK\x03\x04 bundle"), fake.zips[app])
	assert.NotContains(t, result.Log, accessKey)

	site := fake.sites[app]
	assert.Equal(t, "functionapp,linux", site["kind"])
	properties := site["properties"].(map[string]interface{})
	assert.Equal(t, "/serverfarms/"+app+"-plan", properties["serverFarmId"])
	assert.Equal(t, "Python|3.11", properties["siteConfig"].(map[string]interface{})["linuxFxVersion"])

	env := appSettings(site)
	assert.Equal(t, "python", env["FUNCTIONS_WORKER_RUNTIME"])
	assert.Equal(t, "~4", env["FUNCTIONS_EXTENSION_VERSION"])
	assert.Equal(t, "sk-test", env["OPENAI_API_KEY"])
	assert.Equal(t, "agent-1", env["POSTQODE_AGENT_ID"])
	assert.Contains(t, env["AzureWebJobsStorage"], "AccountName=postqodeagent1;AccountKey="+accessKey)
}

func TestDeployReusesExistingApp(t *testing.T) {
	d, fake, _ := setup(t)
	fake.sites[app] = map[string]interface{}{
		"location":   "westeurope",
		"properties": map[string]interface{}{"state": "Running"},
	}

	s := settings()
	s.StorageAccount = "sharedstorage"
	result, err := d.Deploy(context.Background(), target(s), bundle(t))
	require.NoError(t, err)

	assert.Contains(t, result.Log, "using existing function app")
	assert.Empty(t, fake.groups)
	assert.Empty(t, fake.storage)
	assert.Equal(t, "westeurope", fake.sites[app]["location"])
	assert.Contains(t, appSettings(fake.sites[app])["AzureWebJobsStorage"], "AccountName=sharedstorage;")
}

func TestDeployStartsStoppedApp(t *testing.T) {
	startPath := "POST /subscriptions/sub-1/resourceGroups/agents/providers/Microsoft.Web/sites/" + app + "/start"
	for _, autoStart := range []bool{true, false} {
		d, fake, _ := setup(t)
		fake.sites[app] = map[string]interface{}{
			"location":   "eastus",
			"properties": map[string]interface{}{"state": "Stopped"},
		}

		tgt := target(settings())
		tgt.Config.AutoStart = autoStart
		result, err := d.Deploy(context.Background(), tgt, bundle(t))
		require.NoError(t, err)

		if autoStart {
			assert.Equal(t, "running", result.State)
			assert.Contains(t, fake.requests, startPath)
			assert.Contains(t, result.Log, "started function app")
		} else {
			assert.Equal(t, "deployed", result.State)
			assert.NotContains(t, fake.requests, startPath)
		}
	}
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()
	d, fake, _ := setup(t)
	tgt := target(settings())

	result, err := d.Deploy(ctx, tgt, bundle(t))
	require.NoError(t, err)
	tgt.ExternalID = result.ExternalID

	status, err := d.Status(ctx, tgt)
	require.NoError(t, err)
	assert.True(t, status.Running)
	assert.True(t, status.Settled)
	assert.Equal(t, deployment.HealthHealthy, status.Health)

	status, err = d.Stop(ctx, tgt)
	require.NoError(t, err)
	assert.Equal(t, "stopped", status.State)

	status, err = d.Status(ctx, tgt)
	require.NoError(t, err)
	assert.Equal(t, "stopped", status.State)
	assert.False(t, status.Running)

	status, err = d.Start(ctx, tgt)
	require.NoError(t, err)
	assert.Equal(t, "running", status.State)

	require.NoError(t, d.Delete(ctx, tgt))
	assert.Empty(t, fake.sites)
	assert.Empty(t, fake.plans)

	require.NoError(t, d.Delete(ctx, tgt))
	_, err = d.Stop(ctx, tgt)
	assert.NoError(t, err)
	_, err = d.Status(ctx, tgt)
	assert.True(t, platform.IsNotFound(err))
}

func TestRejectedCredentials(t *testing.T) {
	d, _, _ := setup(t)
	s := settings()
	s.TenantID = "bad-tenant"
	s.ClientID = "someone"
	s.ClientSecret = "wrong"

	_, err := d.Deploy(context.Background(), target(s), bundle(t))
	assert.True(t, deployment.IsKind(err, deployment.KindValidation))
	assert.Contains(t, err.Error(), "Invalid client secret")
}

func TestUnreachable(t *testing.T) {
	d, _, server := setup(t)
	server.Close()

	_, err := d.Status(context.Background(), target(settings()))
	assert.True(t, deployment.IsKind(err, deployment.KindPlatformUnreachable))
}

func TestValidateConfig(t *testing.T) {
	d, _, _ := setup(t)
	result := d.ValidateConfig(target(settings()).Config)
	assert.True(t, result.Valid())
	assert.Len(t, result.Warnings, 1)

	s := settings()
	s.FunctionAppName = "-bad-"
	s.StorageAccount = "Has-Dashes"
	result = d.ValidateConfig(target(s).Config)
	assert.Len(t, result.Errors, 2)

	result = azure.New(azure.Options{}, nil).ValidateConfig(target(settings()).Config)
	assert.False(t, result.Valid())
	assert.True(t, strings.HasPrefix(result.Errors[0], "Azure credentials are not configured"))
}

func TestLogsPointToApplicationInsights(t *testing.T) {
	d, _, _ := setup(t)
	logs, err := d.Logs(context.Background(), target(settings()), 100)
	assert.NoError(t, err)
	assert.Contains(t, logs, "Application Insights")
	assert.Contains(t, logs, "--name "+app)
}
