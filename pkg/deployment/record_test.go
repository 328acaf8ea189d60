package deployment_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/postqode/agentdeploy/pkg/deployment"
	"github.com/stretchr/testify/assert"
)

func TestSummaryAdd(t *testing.T) {
	summary := deployment.Summary{}
	for _, status := range []deployment.Status{
		deployment.StatusActive,
		deployment.StatusActive,
		deployment.StatusActive,
		deployment.StatusStopped,
		deployment.StatusError,
		deployment.StatusDeleted,
		deployment.StatusBuilding,
	} {
		summary.Add(status, 2)
	}

	assert.Equal(t, deployment.Summary{
		Total:            6,
		Active:           3,
		Stopped:          1,
		Error:            1,
		Pending:          1,
		TotalInvocations: 12,
	}, summary)
}

func TestStatusClasses(t *testing.T) {
	assert.True(t, deployment.StatusVerifying.InFlight())
	assert.True(t, deployment.StatusActive.Occupying())
	assert.False(t, deployment.StatusActive.InFlight())
	assert.False(t, deployment.StatusStopped.Occupying())
	assert.False(t, deployment.StatusError.Occupying())
	assert.False(t, deployment.Status("bogus").Valid())
}

func TestTruncateMessage(t *testing.T) {
	long := strings.Repeat("x", 600)
	assert.Len(t, deployment.TruncateMessage(long), deployment.MaxErrorMessageLength)
	assert.Equal(t, "short", deployment.TruncateMessage("short"))
}

func TestErrorKinds(t *testing.T) {
	err := fmt.Errorf("step failed: %w", deployment.Errorf(deployment.KindBuild, "no Dockerfile"))
	assert.Equal(t, deployment.KindBuild, deployment.KindOf(err))
	assert.True(t, deployment.IsKind(err, deployment.KindBuild))
	assert.Equal(t, deployment.KindInternal, deployment.KindOf(fmt.Errorf("plain")))
	assert.Equal(t, deployment.ErrorKind(""), deployment.KindOf(nil))

	result := deployment.ValidationResult{}
	assert.NoError(t, result.Err())
	result.AddError("kubeconfig is required")
	assert.True(t, deployment.IsKind(result.Err(), deployment.KindValidation))
	assert.Contains(t, result.Err().Error(), "kubeconfig")
}
