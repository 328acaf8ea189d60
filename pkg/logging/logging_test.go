package logging_test

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"

	"github.com/postqode/agentdeploy/pkg/deployment"
	"github.com/postqode/agentdeploy/pkg/logging"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup(t *testing.T) {
	assert.NoError(t, logging.Setup(logging.Options{Level: "debug", Format: logging.FormatJSON}))
	assert.Equal(t, log.DebugLevel, log.GetLevel())
	assert.IsType(t, &log.JSONFormatter{}, log.StandardLogger().Formatter)

	assert.NoError(t, logging.Setup(logging.Options{Level: "info", Format: logging.FormatText}))
	assert.Equal(t, log.InfoLevel, log.GetLevel())

	assert.Error(t, logging.Setup(logging.Options{Level: "info", Format: "xml"}))
	assert.Error(t, logging.Setup(logging.Options{Level: "loud", Format: logging.FormatText}))
}

func TestDeploymentEntries(t *testing.T) {
	buf := &bytes.Buffer{}
	log.SetOutput(buf)
	t.Cleanup(func() {
		log.SetOutput(os.Stderr)
		logging.Setup(logging.Options{Level: "info", Format: logging.FormatText})
	})

	require.NoError(t, logging.Setup(logging.Options{
		Level:  "info",
		Format: logging.FormatJSON,
		Fields: log.Fields{"component": "agentdeployd", "platform": "any"},
	}))

	logging.Deployment(&deployment.Record{
		ID:              "6f1c2d3e",
		Platform:        deployment.PlatformDocker,
		LicenseID:       "license-1",
		EnvironmentName: "production",
	}).Info("Deployment stopped")

	entry := map[string]interface{}{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "Deployment stopped", entry["message"])
	assert.Equal(t, "6f1c2d3e", entry["deployment_id"])
	assert.Equal(t, "docker", entry["platform"])
	assert.Equal(t, "production", entry["environment"])
	assert.Equal(t, "agentdeployd", entry["component"])
}
