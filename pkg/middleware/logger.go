package middleware

import (
	"net/http"
	"time"

	chi_middleware "github.com/go-chi/chi/middleware"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const CorrelationIDHeader = "X-Correlation-ID"

// RequestLogFields returns the log fields identifying a request.
func RequestLogFields(r *http.Request) log.Fields {
	fields := log.Fields{
		"correlation_id": GetCorrelationID(r.Context()),
		"method":         r.Method,
		"path":           r.URL.Path,
	}
	if user := GetUserID(r.Context()); len(user) > 0 {
		fields["user_id"] = user
	}
	return fields
}

// RequestLogger tags every request with a correlation id and logs it once it is served.
func RequestLogger() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			correlationID := r.Header.Get(CorrelationIDHeader)
			if len(correlationID) == 0 {
				correlationID = uuid.New().String()
			}
			w.Header().Set(CorrelationIDHeader, correlationID)
			r = r.WithContext(WithCorrelationID(r.Context(), correlationID))

			start := time.Now()
			ww := chi_middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger := log.WithFields(RequestLogFields(r)).WithFields(log.Fields{
				"status":   ww.Status(),
				"duration": time.Since(start).Round(time.Microsecond).String(),
			})
			switch {
			case ww.Status() >= http.StatusInternalServerError:
				logger.Warnf("Request failed")
			default:
				logger.Debugf("Request served")
			}
		}
		return http.HandlerFunc(fn)
	}
}
