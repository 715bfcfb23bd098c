package escalation

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Aleph-Alpha/smallrabbit/pkg/rabbit"
)

// Record is what crosses the process boundary when a worker could not write
// its own dead letter. Payload is arbitrary bytes; JSON carries it base64
// encoded.
type Record struct {
	Error   string `json:"error"`
	Payload []byte `json:"payload"`
	Class   string `json:"class"`
	Queue   string `json:"queue,omitempty"`
}

// Encode renders r as base64 of its JSON form, safe to pass as a single
// command line argument.
func Encode(r Record) (string, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrEncode, err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Decode reverses Encode. Surrounding whitespace is ignored.
func Decode(data string) (Record, error) {
	var r Record
	data = strings.TrimSpace(data)
	if data == "" {
		return r, ErrEmptyData
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return r, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if err := json.Unmarshal(raw, &r); err != nil {
		return r, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return r, nil
}

// FromAttempt builds the record for a delivery that was interrupted.
func FromAttempt(a rabbit.DeliveryAttempt, errText string) Record {
	return Record{
		Error:   errText,
		Payload: a.Payload,
		Class:   a.ConsumerClass,
		Queue:   a.Queue,
	}
}

// DeadLetter converts r for a rabbit.DeadLetterSink.
func (r Record) DeadLetter() rabbit.DeadLetterRecord {
	return rabbit.DeadLetterRecord{
		Queue:         r.Queue,
		Payload:       r.Payload,
		Error:         r.Error,
		ConsumerClass: r.Class,
	}
}
