package api_v1_platforms_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/postqode/agentdeploy/pkg/api"
	api_v1_platforms "github.com/postqode/agentdeploy/pkg/api/v1/platforms"
	"github.com/postqode/agentdeploy/pkg/deployment"
	"github.com/postqode/agentdeploy/pkg/middleware"
	"github.com/postqode/agentdeploy/pkg/orchestrator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, o *orchestrator.MockInterface, method, path string, body []byte) *httptest.ResponseRecorder {
	handler := api.New(api.Config{Orchestrator: o, MetricsPath: "/metrics", Authenticator: middleware.HeaderUser})
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(method, path, bytes.NewReader(body))
	request.Header.Set(middleware.UserIDHeader, "user-1")
	handler.ServeHTTP(recorder, request)
	return recorder
}

func TestList(t *testing.T) {
	o := orchestrator.NewMockInterface(t)
	o.On("Platforms").Return([]deployment.Platform{deployment.PlatformDocker, deployment.PlatformEdge}).Once()
	o.On("Schema", "docker").Return(deployment.DockerSchema(), nil).Once()
	o.On("Schema", "edge").Return(deployment.EdgeSchema(), nil).Once()

	recorder := serve(t, o, http.MethodGet, "/api/v1/platforms", nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	response := api_v1_platforms.PlatformsResponse{}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	require.Len(t, response.Platforms, 2)
	assert.Equal(t, deployment.PlatformDocker, response.Platforms[0].Platform)
	assert.NotEmpty(t, response.Platforms[1].Fields)
}

func TestSchemaUnsupported(t *testing.T) {
	o := orchestrator.NewMockInterface(t)
	o.On("Schema", "lambda").Return(deployment.Schema{}, deployment.Errorf(deployment.KindUnsupportedPlatform, "unsupported platform lambda")).Once()

	recorder := serve(t, o, http.MethodGet, "/api/v1/platforms/lambda/schema", nil)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "UnsupportedPlatform")
}

func TestValidate(t *testing.T) {
	o := orchestrator.NewMockInterface(t)
	o.On("Validate", mock.MatchedBy(func(req deployment.Request) bool {
		return req.Platform == "kubernetes" && req.UserID == "user-1" && req.PlatformConfig["namespace"] == "agents"
	})).Return(deployment.ValidationResult{
		Errors:   []string{"kubeconfig is required"},
		Warnings: []string{"no ingress"},
	}, nil).Once()

	body := []byte(`{"agent_id": "agent-1", "platform_config": {"namespace": "agents"}}`)
	recorder := serve(t, o, http.MethodPost, "/api/v1/platforms/kubernetes/validate", body)
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.JSONEq(t, `{"valid": false, "errors": ["kubeconfig is required"], "warnings": ["no ingress"]}`, recorder.Body.String())
}
