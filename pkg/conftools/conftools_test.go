package conftools_test

import (
	"testing"

	"github.com/postqode/agentdeploy/pkg/conftools"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestFormat(t *testing.T) {
	viper.Reset()
	viper.Set("database-url", "postgres://user:secret@db/agentdeploy")
	viper.Set("listen-address", "127.0.0.1:8080")

	lines := conftools.Format([]string{"database-url"})

	assert.Equal(t, []string{
		"database-url: ***REDACTED***",
		"listen-address: 127.0.0.1:8080",
	}, lines)
}
