package logger

import (
	"maps"
	"slices"

	"go.uber.org/zap"
)

// zapFields merges the field maps and turns them into zap fields, the error
// first and the rest sorted by key. A key in a later map replaces the same
// key of an earlier one, so a caller can pass shared delivery fields and
// then override a single value.
func zapFields(err error, fields ...map[string]interface{}) []zap.Field {
	var merged map[string]interface{}
	switch len(fields) {
	case 0:
	case 1:
		merged = fields[0]
	default:
		merged = make(map[string]interface{})
		for _, m := range fields {
			maps.Copy(merged, m)
		}
	}

	out := make([]zap.Field, 0, len(merged)+1)
	if err != nil {
		out = append(out, zap.Error(err))
	}
	for _, key := range slices.Sorted(maps.Keys(merged)) {
		out = append(out, zap.Any(key, merged[key]))
	}
	return out
}

// Info logs progress such as a started consumer or an established
// connection.
//
//	log.Info("consumer started", nil, map[string]interface{}{
//	    "queue":     "emails",
//	    "max_tries": 3,
//	})
func (l *Logger) Info(msg string, err error, fields ...map[string]interface{}) {
	l.Zap.Info(msg, zapFields(err, fields...)...)
}

// Debug logs topology declarations and skipped dead letter writes.
func (l *Logger) Debug(msg string, err error, fields ...map[string]interface{}) {
	l.Zap.Debug(msg, zapFields(err, fields...)...)
}

// Warn logs failures the client recovers from on its own, like a lost
// channel before a reconnect.
func (l *Logger) Warn(msg string, err error, fields ...map[string]interface{}) {
	l.Zap.Warn(msg, zapFields(err, fields...)...)
}

// Error logs failed attempts, exhausted budgets and failed dead letter
// writes.
//
//	log.Error("Attempt #2 failed for consumer: mailer", err, map[string]interface{}{
//	    "queue": "emails",
//	})
func (l *Logger) Error(msg string, err error, fields ...map[string]interface{}) {
	l.Zap.Error(msg, zapFields(err, fields...)...)
}
