package metrics

import (
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPlatformCall(t *testing.T) {
	PlatformCall("docker", "deploy", nil)
	PlatformCall("docker", "deploy", fmt.Errorf("boom"))
	PlatformCall("docker", "deploy", fmt.Errorf("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(platformCalls.WithLabelValues("docker", "deploy", StatusOK)))
	assert.Equal(t, 2.0, testutil.ToFloat64(platformCalls.WithLabelValues("docker", "deploy", StatusError)))
}

func TestBuild(t *testing.T) {
	Build("chart", false)
	assert.Equal(t, 1.0, testutil.ToFloat64(builds.WithLabelValues("chart", StatusError)))
}
