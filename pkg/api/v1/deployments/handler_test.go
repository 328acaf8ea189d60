package api_v1_deployments_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/postqode/agentdeploy/pkg/api"
	"github.com/postqode/agentdeploy/pkg/deployment"
	"github.com/postqode/agentdeploy/pkg/middleware"
	"github.com/postqode/agentdeploy/pkg/orchestrator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

const user = "user-1"

type request struct {
	Method string
	Path   string
	User   string
	Body   interface{}
}

type response struct {
	StatusCode int
	Body       map[string]interface{}
}

type testCase struct {
	Name     string
	Request  request
	Response response
	Setup    func(o *orchestrator.MockInterface)
}

var errGeneric = errors.New("connection reset by peer")

var timestamp = time.Now().UTC().Truncate(time.Microsecond)

func record(id, owner string, status deployment.Status) *deployment.Record {
	return &deployment.Record{
		ID:              id,
		UserID:          owner,
		LicenseID:       "license-1",
		AgentID:         "agent-1",
		Platform:        deployment.PlatformDocker,
		EnvironmentName: "production",
		Status:          status,
		Config:          map[string]interface{}{"api_key": deployment.Redacted},
		CreatedAt:       timestamp,
	}
}

var tests = []testCase{
	{
		Name: "Submit a deployment",
		Request: request{
			Method: http.MethodPost,
			Path:   "/api/v1/deployments",
			User:   user,
			Body: map[string]interface{}{
				"user_id":    "someone-else",
				"license_id": "license-1",
				"agent_id":   "agent-1",
				"version":    "1.0.0",
				"platform":   "docker",
				"port":       8080,
				"auto_start": true,
				"package":    map[string]string{"path": "/var/lib/agents/agent-1.zip"},
			},
		},
		Setup: func(o *orchestrator.MockInterface) {
			o.On("Submit", mock.Anything, mock.MatchedBy(func(req deployment.Request) bool {
				return req.UserID == user && req.Platform == "docker" && req.StartsAutomatically() && req.Package.Path == "/var/lib/agents/agent-1.zip"
			})).Return(orchestrator.Progress{
				ID:     "1",
				Status: deployment.StatusPending,
				Steps:  []deployment.Step{{Step: "pending", Status: deployment.StepCompleted, Message: "Deployment queued", Timestamp: timestamp}},
			}, nil).Once()
		},
		Response: response{
			StatusCode: http.StatusAccepted,
			Body: map[string]interface{}{
				"id":     "1",
				"status": "pending",
				"steps": []interface{}{map[string]interface{}{
					"step":      "pending",
					"status":    "completed",
					"message":   "Deployment queued",
					"timestamp": timestamp.Format(time.RFC3339Nano),
				}},
			},
		},
	},
	{
		Name: "Submit without auto_start starts the agent",
		Request: request{
			Method: http.MethodPost,
			Path:   "/api/v1/deployments",
			User:   user,
			Body: map[string]interface{}{
				"license_id": "license-1",
				"agent_id":   "agent-1",
				"version":    "1.0.0",
				"platform":   "docker",
				"package":    map[string]string{"path": "/var/lib/agents/agent-1.zip"},
			},
		},
		Setup: func(o *orchestrator.MockInterface) {
			o.On("Submit", mock.Anything, mock.MatchedBy(func(req deployment.Request) bool {
				return req.AutoStart == nil && req.StartsAutomatically()
			})).Return(orchestrator.Progress{ID: "2", Status: deployment.StatusPending}, nil).Once()
		},
		Response: response{
			StatusCode: http.StatusAccepted,
			Body: map[string]interface{}{
				"id":     "2",
				"status": "pending",
				"steps":  nil,
			},
		},
	},
	{
		Name: "Submit malformed JSON",
		Request: request{
			Method: http.MethodPost,
			Path:   "/api/v1/deployments",
			User:   user,
			Body:   "{",
		},
		Response: response{
			StatusCode: http.StatusBadRequest,
		},
	},
	{
		Name: "Submit to an environment that is being deployed",
		Request: request{
			Method: http.MethodPost,
			Path:   "/api/v1/deployments",
			User:   user,
			Body:   map[string]interface{}{"platform": "docker"},
		},
		Setup: func(o *orchestrator.MockInterface) {
			o.On("Submit", mock.Anything, mock.Anything).Return(orchestrator.Progress{},
				deployment.Errorf(deployment.KindDuplicateEnvironment, "license license-1 already has a deployment in environment \"production\"")).Once()
		},
		Response: response{
			StatusCode: http.StatusConflict,
			Body: map[string]interface{}{
				"status": "Conflict",
				"kind":   "DuplicateEnvironment",
				"error":  "license license-1 already has a deployment in environment \"production\"",
			},
		},
	},
	{
		Name: "Missing user",
		Request: request{
			Method: http.MethodGet,
			Path:   "/api/v1/deployments",
		},
		Response: response{
			StatusCode: http.StatusUnauthorized,
		},
	},
	{
		Name: "Get own deployment",
		Request: request{
			Method: http.MethodGet,
			Path:   "/api/v1/deployments/1",
			User:   user,
		},
		Setup: func(o *orchestrator.MockInterface) {
			o.On("Get", mock.Anything, "1").Return(record("1", user, deployment.StatusActive), nil).Once()
		},
		Response: response{
			StatusCode: http.StatusOK,
			Body: map[string]interface{}{
				"id":                "1",
				"user_id":           user,
				"license_id":        "license-1",
				"agent_id":          "agent-1",
				"deployment_type":   "docker",
				"adapter_used":      "",
				"environment_name":  "production",
				"runtime_version":   "",
				"deployment_config": map[string]interface{}{"api_key": deployment.Redacted},
				"status":            "active",
				"access_url":        nil,
				"created_at":        timestamp.Format(time.RFC3339Nano),
				"updated_at":        "0001-01-01T00:00:00Z",
				"deployed_at":       nil,
				"last_health_check": nil,
				"last_health_ok":    nil,
				"stopped_at":        nil,
				"total_invocations": float64(0),
				"last_invocation":   nil,
			},
		},
	},
	{
		Name: "Get someone else's deployment",
		Request: request{
			Method: http.MethodGet,
			Path:   "/api/v1/deployments/1",
			User:   "user-2",
		},
		Setup: func(o *orchestrator.MockInterface) {
			o.On("Get", mock.Anything, "1").Return(record("1", user, deployment.StatusActive), nil).Once()
		},
		Response: response{
			StatusCode: http.StatusNotFound,
			Body: map[string]interface{}{
				"status": "resource not found",
				"kind":   "NotFound",
			},
		},
	},
	{
		Name: "Get missing deployment",
		Request: request{
			Method: http.MethodGet,
			Path:   "/api/v1/deployments/2",
			User:   user,
		},
		Setup: func(o *orchestrator.MockInterface) {
			o.On("Get", mock.Anything, "2").Return(nil, deployment.Errorf(deployment.KindNotFound, "deployment 2 not found")).Once()
		},
		Response: response{
			StatusCode: http.StatusNotFound,
		},
	},
	{
		Name: "Status with platform down",
		Request: request{
			Method: http.MethodGet,
			Path:   "/api/v1/deployments/1/status",
			User:   user,
		},
		Setup: func(o *orchestrator.MockInterface) {
			o.On("Get", mock.Anything, "1").Return(record("1", user, deployment.StatusActive), nil).Once()
			o.On("Status", mock.Anything, "1").Return(deployment.StatusResult{}, deployment.Errorf(deployment.KindPlatformUnreachable, "docker daemon unreachable")).Once()
		},
		Response: response{
			StatusCode: http.StatusBadGateway,
		},
	},
	{
		Name: "Logs with a bad line count",
		Request: request{
			Method: http.MethodGet,
			Path:   "/api/v1/deployments/1/logs?lines=many",
			User:   user,
		},
		Response: response{
			StatusCode: http.StatusBadRequest,
		},
	},
	{
		Name: "Logs",
		Request: request{
			Method: http.MethodGet,
			Path:   "/api/v1/deployments/1/logs?lines=50",
			User:   user,
		},
		Setup: func(o *orchestrator.MockInterface) {
			o.On("Get", mock.Anything, "1").Return(record("1", user, deployment.StatusActive), nil).Once()
			o.On("Logs", mock.Anything, "1", 50).Return("ready\n", nil).Once()
		},
		Response: response{
			StatusCode: http.StatusOK,
			Body: map[string]interface{}{
				"id":    "1",
				"lines": float64(50),
				"logs":  "ready\n",
			},
		},
	},
	{
		Name: "Stop",
		Request: request{
			Method: http.MethodPost,
			Path:   "/api/v1/deployments/1/stop",
			User:   user,
		},
		Setup: func(o *orchestrator.MockInterface) {
			o.On("Get", mock.Anything, "1").Return(record("1", user, deployment.StatusActive), nil).Once()
			o.On("Stop", mock.Anything, "1").Return(record("1", user, deployment.StatusStopped), nil).Once()
		},
		Response: response{
			StatusCode: http.StatusOK,
		},
	},
	{
		Name: "Delete",
		Request: request{
			Method: http.MethodDelete,
			Path:   "/api/v1/deployments/1",
			User:   user,
		},
		Setup: func(o *orchestrator.MockInterface) {
			o.On("Get", mock.Anything, "1").Return(record("1", user, deployment.StatusActive), nil).Once()
			o.On("Delete", mock.Anything, "1").Return(nil).Once()
		},
		Response: response{
			StatusCode: http.StatusNoContent,
		},
	},
	{
		Name: "Record an invocation",
		Request: request{
			Method: http.MethodPost,
			Path:   "/api/v1/deployments/1/invocations",
			User:   user,
		},
		Setup: func(o *orchestrator.MockInterface) {
			o.On("Get", mock.Anything, "1").Return(record("1", user, deployment.StatusActive), nil).Once()
			o.On("RecordInvocation", mock.Anything, "1").Return(int64(7), nil).Once()
		},
		Response: response{
			StatusCode: http.StatusOK,
			Body: map[string]interface{}{
				"id":                "1",
				"total_invocations": float64(7),
			},
		},
	},
	{
		Name: "Summary",
		Request: request{
			Method: http.MethodGet,
			Path:   "/api/v1/deployments/summary",
			User:   user,
		},
		Setup: func(o *orchestrator.MockInterface) {
			o.On("Summary", mock.Anything, user).Return(deployment.Summary{Total: 3, Active: 1, Stopped: 1, Error: 1, TotalInvocations: 12}, nil).Once()
		},
		Response: response{
			StatusCode: http.StatusOK,
			Body: map[string]interface{}{
				"total":             float64(3),
				"active":            float64(1),
				"stopped":           float64(1),
				"error":             float64(1),
				"pending":           float64(0),
				"total_invocations": float64(12),
			},
		},
	},
	{
		Name: "Registry failure",
		Request: request{
			Method: http.MethodGet,
			Path:   "/api/v1/deployments/summary",
			User:   user,
		},
		Setup: func(o *orchestrator.MockInterface) {
			o.On("Summary", mock.Anything, user).Return(deployment.Summary{}, errGeneric).Once()
		},
		Response: response{
			StatusCode: http.StatusInternalServerError,
			Body: map[string]interface{}{
				"status": "Internal Server Error",
				"kind":   "InternalError",
				"error":  "internal error",
			},
		},
	},
}

func subTest(t *testing.T, test testCase) {
	var body *bytes.Buffer
	switch b := test.Request.Body.(type) {
	case nil:
		body = &bytes.Buffer{}
	case string:
		body = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		assert.NoError(t, err)
		body = bytes.NewBuffer(data)
	}

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(test.Request.Method, test.Request.Path, body)
	request.Header.Set("content-type", "application/json")
	if len(test.Request.User) > 0 {
		request.Header.Set(middleware.UserIDHeader, test.Request.User)
	}

	o := orchestrator.NewMockInterface(t)
	if test.Setup != nil {
		test.Setup(o)
	}

	handler := api.New(api.Config{
		Orchestrator:  o,
		MetricsPath:   "/metrics",
		Authenticator: middleware.HeaderUser,
	})
	handler.ServeHTTP(recorder, request)

	assert.Equal(t, test.Response.StatusCode, recorder.Code)
	if test.Response.Body != nil {
		decodedBody := map[string]interface{}{}
		assert.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &decodedBody))
		assert.Equal(t, test.Response.Body, decodedBody)
	}
}

// Deployment API tests using a mocked orchestrator; see table tests definitions above.
func TestDeploymentsHandler(t *testing.T) {
	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			subTest(t, test)
		})
	}
}

func TestListFiltersByStatus(t *testing.T) {
	o := orchestrator.NewMockInterface(t)
	o.On("List", mock.Anything, user, deployment.StatusError).Return([]*deployment.Record{
		record("1", user, deployment.StatusError),
	}, nil).Once()
	o.On("List", mock.Anything, user, deployment.Status("")).Return(nil, nil).Once()

	handler := api.New(api.Config{Orchestrator: o, MetricsPath: "/metrics", Authenticator: middleware.HeaderUser})

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/api/v1/deployments?status=error", nil)
	request.Header.Set(middleware.UserIDHeader, user)
	handler.ServeHTTP(recorder, request)

	records := make([]deployment.Record, 0)
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &records))
	assert.Len(t, records, 1)
	assert.Equal(t, deployment.StatusError, records[0].Status)

	recorder = httptest.NewRecorder()
	request = httptest.NewRequest(http.MethodGet, "/api/v1/deployments/", nil)
	request.Header.Set(middleware.UserIDHeader, user)
	handler.ServeHTTP(recorder, request)
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.JSONEq(t, "[]", recorder.Body.String())
}
