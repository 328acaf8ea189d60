package version

import (
	"strconv"
	"time"
)

// Set at build time with -ldflags "-X github.com/postqode/agentdeploy/pkg/version.version=... -X ...buildTime=..."
var (
	version   = "unknown"
	buildTime = "0"
)

func Version() string {
	return version
}

// BuildTime returns the build timestamp, stored as unix seconds.
func BuildTime() (time.Time, error) {
	i, err := strconv.ParseInt(buildTime, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(i, 0), nil
}
