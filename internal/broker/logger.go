package broker

import (
	"fmt"

	"github.com/dray-io/dray-rest/internal/logging"
	"github.com/twmb/franz-go/pkg/kgo"
)

// kgoLogger routes franz-go client logs into the gateway logger.
type kgoLogger struct {
	l *logging.Logger
}

func newKgoLogger(l *logging.Logger) *kgoLogger {
	return &kgoLogger{l: l.With(map[string]any{"component": "kafka-client"})}
}

func (k *kgoLogger) Level() kgo.LogLevel {
	switch k.l.Level() {
	case logging.LevelDebug:
		return kgo.LogLevelDebug
	case logging.LevelInfo:
		return kgo.LogLevelInfo
	case logging.LevelWarn:
		return kgo.LogLevelWarn
	default:
		return kgo.LogLevelError
	}
}

func (k *kgoLogger) Log(level kgo.LogLevel, msg string, keyvals ...any) {
	fields := make(map[string]any, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		v := keyvals[i+1]
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		fields[fmt.Sprint(keyvals[i])] = v
	}

	switch level {
	case kgo.LogLevelDebug:
		k.l.Debugf(msg, fields)
	case kgo.LogLevelInfo:
		k.l.Infof(msg, fields)
	case kgo.LogLevelWarn:
		k.l.Warnf(msg, fields)
	case kgo.LogLevelError:
		k.l.Errorf(msg, fields)
	}
}
