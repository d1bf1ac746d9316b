package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/dray-io/dray-rest/internal/logging"
)

type routeKey struct{}

// statusRecorder remembers the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// instrument counts and logs each request under route. An empty route is
// taken from the matched mux route.
func (a *API) instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := route
		if route == "" {
			if cur := mux.CurrentRoute(r); cur != nil {
				route = cur.GetName()
			}
		}
		r = r.WithContext(context.WithValue(r.Context(), routeKey{}, route))

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		a.metrics.RequestStarted()
		defer func() {
			status := rec.status
			if status == 0 {
				status = http.StatusOK
			}
			a.metrics.RequestFinished(route, status)
			logging.ContextLogger(r.Context(), a.logger).Debugf("request served", map[string]any{
				"method":    r.Method,
				"path":      r.URL.Path,
				"route":     route,
				"status":    status,
				"elapsedMs": time.Since(start).Milliseconds(),
			})
		}()

		next.ServeHTTP(rec, r)
	})
}

func routeName(r *http.Request) string {
	if s, ok := r.Context().Value(routeKey{}).(string); ok {
		return s
	}
	return ""
}
