package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "agentdeploy"

	StatusOK    = "ok"
	StatusError = "error"

	LabelStatus    = "status"
	LabelPlatform  = "platform"
	LabelOperation = "operation"
	LabelResult    = "result"
	LabelArtifact  = "artifact"
	LabelMethod    = "method"
	LabelRoute     = "route"
	LabelCode      = "code"
)

func statusLabel(err error) string {
	if err == nil {
		return StatusOK
	}
	return StatusError
}

func DatabaseQuery(t time.Time, err error) {
	elapsed := time.Since(t)
	databaseQueries.With(prometheus.Labels{
		LabelStatus: statusLabel(err),
	}).Observe(elapsed.Seconds())
}

func StateTransition(platform, status string) {
	stateTransitions.With(prometheus.Labels{
		LabelPlatform: platform,
		LabelStatus:   status,
	}).Inc()
}

func AttemptStarted() {
	attemptsInFlight.Inc()
}

func AttemptFinished(platform, result string, started time.Time) {
	attemptsInFlight.Dec()
	attemptDuration.With(prometheus.Labels{
		LabelPlatform: platform,
		LabelResult:   result,
	}).Observe(time.Since(started).Seconds())
}

func PlatformCall(platform, operation string, err error) {
	platformCalls.With(prometheus.Labels{
		LabelPlatform:  platform,
		LabelOperation: operation,
		LabelStatus:    statusLabel(err),
	}).Inc()
}

func Build(artifact string, success bool) {
	status := StatusOK
	if !success {
		status = StatusError
	}
	builds.With(prometheus.Labels{
		LabelArtifact: artifact,
		LabelStatus:   status,
	}).Inc()
}

func HTTPRequest(method, route string, code int) {
	httpRequests.With(prometheus.Labels{
		LabelMethod: method,
		LabelRoute:  route,
		LabelCode:   strconv.Itoa(code),
	}).Inc()
}

func Sweep(result string) {
	sweeps.With(prometheus.Labels{
		LabelResult: result,
	}).Inc()
}

var (
	databaseQueries = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:      "database_queries",
		Help:      "time to execute database queries",
		Namespace: namespace,
		Buckets:   prometheus.LinearBuckets(0.005, 0.005, 20),
	},
		[]string{
			LabelStatus,
		},
	)

	stateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:      "state_transitions",
		Help:      "deployment state transitions",
		Namespace: namespace,
	},
		[]string{
			LabelPlatform,
			LabelStatus,
		},
	)

	attemptDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:      "attempt_duration_seconds",
		Help:      "wall clock time of deployment attempts",
		Namespace: namespace,
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	},
		[]string{
			LabelPlatform,
			LabelResult,
		},
	)

	attemptsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name:      "attempts_in_flight",
		Help:      "number of deployment attempts currently running",
		Namespace: namespace,
	})

	platformCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:      "platform_calls",
		Help:      "calls made to platform deployers",
		Namespace: namespace,
	},
		[]string{
			LabelPlatform,
			LabelOperation,
			LabelStatus,
		},
	)

	builds = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:      "builds",
		Help:      "artifact builds by artifact kind",
		Namespace: namespace,
	},
		[]string{
			LabelArtifact,
			LabelStatus,
		},
	)

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:      "http_requests",
		Help:      "HTTP requests served",
		Namespace: namespace,
	},
		[]string{
			LabelMethod,
			LabelRoute,
			LabelCode,
		},
	)

	sweeps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:      "sweeps",
		Help:      "records handled by the watchdog sweep",
		Namespace: namespace,
	},
		[]string{
			LabelResult,
		},
	)
)

func init() {
	prometheus.MustRegister(databaseQueries)
	prometheus.MustRegister(stateTransitions)
	prometheus.MustRegister(attemptDuration)
	prometheus.MustRegister(attemptsInFlight)
	prometheus.MustRegister(platformCalls)
	prometheus.MustRegister(builds)
	prometheus.MustRegister(httpRequests)
	prometheus.MustRegister(sweeps)
}
