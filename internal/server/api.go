package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/dray-io/dray-rest/internal/logging"
	"github.com/dray-io/dray-rest/internal/metrics"
	"github.com/dray-io/dray-rest/internal/produce"
)

// Route names, also used as the route label on HTTP metrics.
const (
	RouteProduceTopic     = "produce_topic"
	RouteProducePartition = "produce_partition"
	routeNotFound         = "not_found"
	routeMethodNotAllowed = "method_not_allowed"
)

// Error codes owned by the HTTP layer. Produce failures carry their own
// codes (see produce.Classify).
const (
	CodeNotFound             = 40400
	CodeMethodNotAllowed     = 40501
	CodeBodyTooLarge         = 41301
	CodeUnsupportedMediaType = 41501
	CodeUnsupportedEncoding  = 41502
)

// ResponseContentType is set on every API response.
const ResponseContentType = ContentTypeV1

// retryAfterSeconds is advertised on errors a client may retry as-is.
const retryAfterSeconds = "1"

// Producer is the produce surface the API serves.
type Producer interface {
	ProduceToTopic(ctx context.Context, topic string, req produce.Request) ([]produce.OffsetSummary, error)
	ProduceToPartition(ctx context.Context, topic string, partition int32, req produce.Request) (produce.OffsetSummary, error)
}

// PartitionOffset is the wire form of produce.OffsetSummary.
type PartitionOffset struct {
	Partition int32 `json:"partition"`
	Offset    int64 `json:"offset"`
}

// ProduceResponse is returned by the topic endpoint.
type ProduceResponse struct {
	Offsets []PartitionOffset `json:"offsets"`
}

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	ErrorCode int    `json:"error_code"`
	Message   string `json:"message"`
}

// API serves the produce endpoints.
type API struct {
	producer        Producer
	maxRequestBytes int64
	metrics         *metrics.HTTPMetrics
	logger          *logging.Logger
}

// NewAPI creates the produce API. maxRequestBytes bounds request bodies
// before and after decompression.
func NewAPI(p Producer, maxRequestBytes int64, logger *logging.Logger) *API {
	if logger == nil {
		logger = logging.Global()
	}
	return &API{
		producer:        p,
		maxRequestBytes: maxRequestBytes,
		logger:          logger,
	}
}

// WithMetrics sets the HTTP metrics for the API.
// Returns the API for method chaining.
func (a *API) WithMetrics(m *metrics.HTTPMetrics) *API {
	a.metrics = m
	return a
}

// Handler builds the router:
//
//	POST /topics/{topic}
//	POST /topics/{topic}/partitions/{partition}
func (a *API) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/topics/{topic}", a.produceToTopic).
		Methods(http.MethodPost).
		Name(RouteProduceTopic)
	r.HandleFunc("/topics/{topic}/partitions/{partition}", a.produceToPartition).
		Methods(http.MethodPost).
		Name(RouteProducePartition)

	r.NotFoundHandler = a.instrument(routeNotFound, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.writeError(w, r, http.StatusNotFound, CodeNotFound, "HTTP 404 Not Found")
	}))
	r.MethodNotAllowedHandler = a.instrument(routeMethodNotAllowed, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.writeError(w, r, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "HTTP 405 Method Not Allowed")
	}))
	r.Use(func(next http.Handler) http.Handler {
		return a.instrument("", next)
	})

	return withRequestContext(a.logger, r)
}

func (a *API) produceToTopic(w http.ResponseWriter, r *http.Request) {
	topic := mux.Vars(r)["topic"]

	req, err := readBody(w, r, a.maxRequestBytes)
	if err != nil {
		a.writeRequestError(w, r, err)
		return
	}

	offsets, err := a.producer.ProduceToTopic(r.Context(), topic, req)
	if err != nil {
		a.writeProduceError(w, r, err)
		return
	}

	resp := ProduceResponse{Offsets: make([]PartitionOffset, len(offsets))}
	for i, o := range offsets {
		resp.Offsets[i] = PartitionOffset{Partition: o.Partition, Offset: o.Offset}
	}
	a.writeJSON(w, r, http.StatusOK, resp)
}

func (a *API) produceToPartition(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	topic := vars["topic"]

	partition, err := parsePartition(vars["partition"])
	if err != nil {
		a.writeProduceError(w, r, produce.NewError(produce.KindPartitionNotFound, produce.CodePartitionNotFound, err))
		return
	}

	req, err := readBody(w, r, a.maxRequestBytes)
	if err != nil {
		a.writeRequestError(w, r, err)
		return
	}

	offset, err := a.producer.ProduceToPartition(r.Context(), topic, partition, req)
	if err != nil {
		a.writeProduceError(w, r, err)
		return
	}
	a.writeJSON(w, r, http.StatusOK, PartitionOffset{Partition: offset.Partition, Offset: offset.Offset})
}

var errInvalidPartition = errors.New("server: invalid partition")

func parsePartition(s string) (int32, error) {
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil || n < 0 {
		return 0, errInvalidPartition
	}
	return int32(n), nil
}

// StatusForKind maps a produce error kind onto an HTTP status.
func StatusForKind(k produce.Kind) int {
	switch k {
	case produce.KindTopicNotFound, produce.KindPartitionNotFound:
		return http.StatusNotFound
	case produce.KindSerializationFailure:
		return http.StatusUnprocessableEntity
	case produce.KindBrokerUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeRequestError answers body decoding failures. Malformed bodies are
// produce serialization failures; the rest are HTTP-level rejections.
func (a *API) writeRequestError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrUnsupportedMediaType):
		a.writeError(w, r, http.StatusUnsupportedMediaType, CodeUnsupportedMediaType, "Unsupported Content-Type.")
	case errors.Is(err, ErrUnsupportedEncoding):
		a.writeError(w, r, http.StatusUnsupportedMediaType, CodeUnsupportedEncoding, "Unsupported Content-Encoding.")
	case errors.Is(err, ErrBodyTooLarge):
		a.writeError(w, r, http.StatusRequestEntityTooLarge, CodeBodyTooLarge, "Request body too large.")
	default:
		a.writeProduceError(w, r, err)
	}
}

func (a *API) writeProduceError(w http.ResponseWriter, r *http.Request, err error) {
	perr := produce.Classify(err)
	if perr.Kind.Transient() {
		w.Header().Set("Retry-After", retryAfterSeconds)
	}
	a.writeError(w, r, StatusForKind(perr.Kind), perr.Code, perr.Message)
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, status, code int, message string) {
	a.metrics.RecordError(routeName(r), code)
	a.writeJSON(w, r, status, ErrorResponse{ErrorCode: code, Message: message})
}

func (a *API) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", ResponseContentType)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.ContextLogger(r.Context(), a.logger).Warnf("failed to write response", map[string]any{
			"error": err.Error(),
		})
	}
}
