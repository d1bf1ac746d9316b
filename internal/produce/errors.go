package produce

import (
	"context"
	"errors"
	"fmt"

	"github.com/dray-io/dray-rest/internal/broker"
	"github.com/dray-io/dray-rest/internal/topics"
)

// Validation errors raised by the produce path itself.
var (
	ErrRecordTooLarge       = errors.New("produce: record too large")
	ErrConflictingPartition = errors.New("produce: record partition conflicts with target partition")
	ErrEmptyRequest         = errors.New("produce: request contains no records")
	ErrMalformedRequest     = errors.New("produce: malformed request")
)

// Kind is the coarse category of a produce failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindTopicNotFound
	KindPartitionNotFound
	KindSerializationFailure
	KindBrokerUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindTopicNotFound:
		return "TopicNotFound"
	case KindPartitionNotFound:
		return "PartitionNotFound"
	case KindSerializationFailure:
		return "SerializationFailure"
	case KindBrokerUnavailable:
		return "BrokerUnavailable"
	default:
		return "Unknown"
	}
}

// Transient reports whether retrying the same request may succeed.
func (k Kind) Transient() bool {
	return k == KindBrokerUnavailable
}

// Error codes returned to clients.
const (
	CodeTopicNotFound        = 40401
	CodePartitionNotFound    = 40402
	CodeRecordTooLarge       = 42201
	CodeConflictingPartition = 42202
	CodeEmptyRequest         = 42203
	CodeMalformedRequest     = 42204
	CodeUnknown              = 50001
	CodeBrokerUnavailable    = 50301
)

var codeMessages = map[int]string{
	CodeTopicNotFound:        "Topic not found.",
	CodePartitionNotFound:    "Partition not found.",
	CodeRecordTooLarge:       "Record could not be serialized or exceeds the maximum record size.",
	CodeConflictingPartition: "Record partition does not match the target partition.",
	CodeEmptyRequest:         "Request must contain at least one record.",
	CodeMalformedRequest:     "Request body is malformed.",
	CodeUnknown:              "Internal server error.",
	CodeBrokerUnavailable:    "Broker unavailable or request timed out.",
}

// NoPartition marks an Error not tied to a single partition.
const NoPartition int32 = -1

// Error is a classified produce failure. Message is safe to show to clients
// and never carries the cause's text.
type Error struct {
	Kind      Kind
	Code      int
	Message   string
	Partition int32
	cause     error
}

// NewError builds an Error for code wrapping cause.
func NewError(kind Kind, code int, cause error) *Error {
	return &Error{
		Kind:      kind,
		Code:      code,
		Message:   codeMessages[code],
		Partition: NoPartition,
		cause:     cause,
	}
}

func (e *Error) Error() string {
	prefix := fmt.Sprintf("produce: %s (%d)", e.Kind, e.Code)
	if e.Partition != NoPartition {
		prefix = fmt.Sprintf("%s partition %d", prefix, e.Partition)
	}
	if e.cause == nil {
		return prefix
	}
	return prefix + ": " + e.cause.Error()
}

func (e *Error) Unwrap() error {
	return e.cause
}

// withPartition returns a copy of e tied to partition p.
func (e *Error) withPartition(p int32) *Error {
	cp := *e
	cp.Partition = p
	return &cp
}

// Classify maps err onto the produce error taxonomy. An *Error anywhere in
// the chain is returned as is.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}

	switch {
	case errors.Is(err, topics.ErrTopicNotFound),
		errors.Is(err, topics.ErrInvalidTopicName):
		return NewError(KindTopicNotFound, CodeTopicNotFound, err)
	case errors.Is(err, topics.ErrPartitionNotFound),
		errors.Is(err, broker.ErrUnknownPartition):
		return NewError(KindPartitionNotFound, CodePartitionNotFound, err)
	case errors.Is(err, ErrRecordTooLarge),
		errors.Is(err, broker.ErrRecordRejected):
		return NewError(KindSerializationFailure, CodeRecordTooLarge, err)
	case errors.Is(err, ErrConflictingPartition):
		return NewError(KindSerializationFailure, CodeConflictingPartition, err)
	case errors.Is(err, ErrEmptyRequest):
		return NewError(KindSerializationFailure, CodeEmptyRequest, err)
	case errors.Is(err, ErrMalformedRequest):
		return NewError(KindSerializationFailure, CodeMalformedRequest, err)
	case errors.Is(err, broker.ErrUnavailable),
		errors.Is(err, broker.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return NewError(KindBrokerUnavailable, CodeBrokerUnavailable, err)
	default:
		return NewError(KindUnknown, CodeUnknown, err)
	}
}
