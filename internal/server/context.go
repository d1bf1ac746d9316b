package server

import (
	"net/http"
	"unicode"

	"github.com/google/uuid"

	"github.com/dray-io/dray-rest/internal/logging"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-Id"

// maxRequestIDLen bounds client-supplied request IDs.
const maxRequestIDLen = 128

// withRequestContext tags each request with an ID and the client address,
// and attaches both to the logging context. A usable X-Request-Id from the
// client is kept, anything else is replaced with a fresh UUID. The ID is
// echoed on the response.
func withRequestContext(logger *logging.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if !validRequestID(id) {
			id = uuid.New().String()
		}
		w.Header().Set(RequestIDHeader, id)

		ctx := logging.WithRequestIDCtx(r.Context(), id)
		ctx = logging.WithLoggerCtx(ctx, logger.With(map[string]any{"client": r.RemoteAddr}))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for _, c := range id {
		if c > unicode.MaxASCII || !unicode.IsPrint(c) || c == ' ' {
			return false
		}
	}
	return true
}
