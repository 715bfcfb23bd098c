package deadletter

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Aleph-Alpha/smallrabbit/pkg/postgres"
	"github.com/Aleph-Alpha/smallrabbit/pkg/rabbit"
)

//go:generate mockgen -source=sink.go -destination=mock_sink.go -package=deadletter

// Store is the persistence the sink needs. *postgres.Postgres implements it.
type Store interface {
	Create(ctx context.Context, value interface{}) error
	Find(ctx context.Context, dest interface{}, order string, limit int, conditions ...interface{}) error
	Count(ctx context.Context, model interface{}, conditions ...interface{}) (int64, error)
	AutoMigrate(ctx context.Context, models ...interface{}) error
}

// Logger defines the logging operations used by the sink.
type Logger interface {
	Info(msg string, err error, fields ...map[string]interface{})
	Debug(msg string, err error, fields ...map[string]interface{})
	Warn(msg string, err error, fields ...map[string]interface{})
	Error(msg string, err error, fields ...map[string]interface{})
}

// Sink implements rabbit.DeadLetterSink on top of a Store.
type Sink struct {
	cfg    Config
	store  Store
	logger Logger
}

var _ rabbit.DeadLetterSink = (*Sink)(nil)

// NewSink returns a sink writing to store. store may be nil when cfg is
// disabled.
func NewSink(cfg Config, store Store, logger Logger) (*Sink, error) {
	if cfg.Enabled && store == nil {
		return nil, ErrNoStore
	}
	return &Sink{cfg: cfg, store: store, logger: logger}, nil
}

// Enabled reports whether records are persisted.
func (s *Sink) Enabled() bool {
	return s.cfg.Enabled
}

// Migrate creates the not_processed_messages table.
func (s *Sink) Migrate(ctx context.Context) error {
	if !s.cfg.Enabled {
		return nil
	}
	if err := s.store.AutoMigrate(ctx, &NotProcessedMessage{}); err != nil {
		return fmt.Errorf("%w: %w", ErrMigrate, err)
	}
	return nil
}

// Insert stores rec. It is a no-op when the sink is disabled.
func (s *Sink) Insert(ctx context.Context, rec rabbit.DeadLetterRecord) error {
	if !s.cfg.Enabled {
		s.logger.Debug("saving not processed messages is disabled, dropping record", nil, map[string]interface{}{
			"queue":          rec.Queue,
			"consumer_class": rec.ConsumerClass,
		})
		return nil
	}

	msg := ToModel(rec)
	if err := s.store.Create(ctx, msg); err != nil {
		if errors.Is(err, postgres.ErrSchemaMismatch) {
			s.logger.Warn("not_processed_messages is out of date, migrate it or set dead_letter.auto_migrate", err, nil)
		}
		return fmt.Errorf("%w: %w", ErrInsert, err)
	}

	s.logger.Info("not processed message saved", nil, map[string]interface{}{
		"id":             msg.ID,
		"queue":          rec.Queue,
		"consumer_class": rec.ConsumerClass,
	})
	return nil
}

// Recent returns up to limit records of queue, or of every queue when
// queue is empty, newest first.
func (s *Sink) Recent(ctx context.Context, queue string, limit int) ([]NotProcessedMessage, error) {
	if !s.cfg.Enabled {
		return nil, nil
	}
	var out []NotProcessedMessage
	var err error
	if queue == "" {
		err = s.store.Find(ctx, &out, "id desc", limit)
	} else {
		err = s.store.Find(ctx, &out, "id desc", limit, "queue = ?", queue)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Count returns how many records are stored for queue, or in total when
// queue is empty.
func (s *Sink) Count(ctx context.Context, queue string) (int64, error) {
	if !s.cfg.Enabled {
		return 0, nil
	}
	if queue == "" {
		return s.store.Count(ctx, &NotProcessedMessage{})
	}
	return s.store.Count(ctx, &NotProcessedMessage{}, "queue = ?", queue)
}

// ToModel converts a record into its row.
func ToModel(rec rabbit.DeadLetterRecord) *NotProcessedMessage {
	msg := &NotProcessedMessage{
		Queue:   rec.Queue,
		Payload: EncodePayload(rec.Payload),
	}
	if rec.Error != "" {
		e := Truncate(rec.Error, ErrorColumnSize)
		msg.Error = &e
	}
	if rec.ConsumerClass != "" {
		c := Truncate(rec.ConsumerClass, ErrorColumnSize)
		msg.ConsumerClass = &c
	}
	if !rec.CreatedAt.IsZero() {
		msg.CreatedAt = rec.CreatedAt
		msg.UpdatedAt = rec.CreatedAt
	} else {
		now := time.Now().UTC()
		msg.CreatedAt, msg.UpdatedAt = now, now
	}
	return msg
}

// EncodePayload keeps text payloads as they are. Payloads postgres can not
// store in a text column are base64 encoded behind a "base64:" prefix, and
// so are text payloads that already start with that prefix.
func EncodePayload(payload []byte) string {
	if utf8.Valid(payload) && bytes.IndexByte(payload, 0) < 0 && !bytes.HasPrefix(payload, []byte(base64Prefix)) {
		return string(payload)
	}
	return base64Prefix + base64.StdEncoding.EncodeToString(payload)
}

// DecodePayload reverses EncodePayload.
func DecodePayload(stored string) ([]byte, error) {
	if encoded, ok := strings.CutPrefix(stored, base64Prefix); ok {
		return base64.StdEncoding.DecodeString(encoded)
	}
	return []byte(stored), nil
}

// Truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
