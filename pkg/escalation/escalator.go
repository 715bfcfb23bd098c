package escalation

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/Aleph-Alpha/smallrabbit/pkg/rabbit"
)

// Escalator records a dead letter on behalf of a worker that died.
type Escalator interface {
	Escalate(ctx context.Context, r Record) error
}

// CommandEscalator runs an external command with --data=<encoded record>
// appended to Args, e.g. `smallrabbit deadletter`.
type CommandEscalator struct {
	Path string
	Args []string
}

// NewCommandEscalator splits command on whitespace into path and arguments.
func NewCommandEscalator(command string) (*CommandEscalator, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, ErrNoCommand
	}
	return &CommandEscalator{Path: fields[0], Args: fields[1:]}, nil
}

func (e *CommandEscalator) Escalate(ctx context.Context, r Record) error {
	data, err := Encode(r)
	if err != nil {
		return err
	}

	args := append(append([]string{}, e.Args...), "--data="+data)
	cmd := exec.CommandContext(ctx, e.Path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %s: %w: %s", ErrEscalate, e.Path, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// SinkEscalator writes straight into a sink. The watchdog uses it when it
// runs in a process that can reach the dead-letter store itself.
type SinkEscalator struct {
	Sink rabbit.DeadLetterSink
}

func (e SinkEscalator) Escalate(ctx context.Context, r Record) error {
	return e.Sink.Insert(ctx, r.DeadLetter())
}
