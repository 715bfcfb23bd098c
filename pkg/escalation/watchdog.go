package escalation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ExitHung is the exit code of a worker whose handler ignored its deadline.
const ExitHung = 124

// Logger defines the logging operations used by the watchdog.
type Logger interface {
	Info(msg string, err error, fields ...map[string]interface{})
	Debug(msg string, err error, fields ...map[string]interface{})
	Warn(msg string, err error, fields ...map[string]interface{})
	Error(msg string, err error, fields ...map[string]interface{})
}

// Pender is the read side of the journal the watchdog needs.
type Pender interface {
	Pending() (*Entry, error)
	Clear() error
}

// WatchdogConfig configures a Watchdog.
type WatchdogConfig struct {
	// Command is the worker command line, program first.
	Command []string

	// Env is appended to the watchdog's own environment for the worker.
	Env []string

	// StopTimeout is how long a worker gets after SIGTERM before it is killed.
	StopTimeout time.Duration

	// MaxRestartDelay caps the pause between restarts of a failing worker.
	MaxRestartDelay time.Duration
}

// Watchdog runs a worker process, restarts it when it exits, and records the
// delivery it was processing when it died abnormally.
type Watchdog struct {
	cfg       WatchdogConfig
	journal   Pender
	escalator Escalator
	logger    Logger

	newBackOff func() backoff.BackOff
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewWatchdog validates cfg and returns a watchdog.
func NewWatchdog(cfg WatchdogConfig, journal Pender, escalator Escalator, logger Logger) (*Watchdog, error) {
	if len(cfg.Command) == 0 {
		return nil, ErrNoCommand
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 30 * time.Second
	}
	if cfg.MaxRestartDelay <= 0 {
		cfg.MaxRestartDelay = time.Minute
	}

	w := &Watchdog{
		cfg:       cfg,
		journal:   journal,
		escalator: escalator,
		logger:    logger,
		sleep:     sleepContext,
	}
	w.newBackOff = func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = time.Second
		b.MaxInterval = cfg.MaxRestartDelay
		b.MaxElapsedTime = 0
		return b
	}
	return w, nil
}

// Run supervises the worker until ctx is cancelled. Before the first start
// it recovers an entry a previous worker left behind.
func (w *Watchdog) Run(ctx context.Context) error {
	w.Recover(ctx, "worker terminated before its delivery was recorded")

	b := w.newBackOff()
	for {
		started := time.Now()
		exit, err := w.runOnce(ctx)
		if ctx.Err() != nil {
			w.logger.Info("watchdog stopped", nil, nil)
			return nil
		}
		if err != nil {
			return err
		}

		reason := exit.reason()
		if exit.abnormal() {
			w.logger.Error("worker terminated abnormally", nil, map[string]interface{}{
				"exit_code": exit.code,
				"signal":    exit.signal,
			})
			w.Recover(ctx, reason)
		} else {
			w.logger.Warn("worker exited, restarting", nil, map[string]interface{}{"exit_code": exit.code})
		}

		if time.Since(started) > w.cfg.MaxRestartDelay {
			b.Reset()
		}
		delay := b.NextBackOff()
		if err := w.sleep(ctx, delay); err != nil {
			return nil
		}
	}
}

// Recover escalates the pending journal entry, if any, and clears it.
// A worker that marked its entry hung gets the deadline message; any other
// leftover entry gets reason.
func (w *Watchdog) Recover(ctx context.Context, reason string) {
	entry, err := w.journal.Pending()
	if err != nil {
		w.logger.Error("failed to read journal", err, nil)
		return
	}
	if entry == nil {
		return
	}

	errText := reason
	if entry.State == StateHung {
		errText = "Worker timeout limit exceeded for job processing: " + entry.Attempt.ConsumerClass
	}
	if entry.Attempt.LastError != "" {
		errText += ". Error: " + entry.Attempt.LastError
	}

	rec := FromAttempt(entry.Attempt, errText)
	if err := w.escalator.Escalate(context.WithoutCancel(ctx), rec); err != nil {
		// The entry stays so the next recovery can try again.
		w.logger.Error("Failed to save not processed message", err, map[string]interface{}{
			"queue":          entry.Attempt.Queue,
			"consumer_class": entry.Attempt.ConsumerClass,
		})
		return
	}
	if err := w.journal.Clear(); err != nil {
		w.logger.Warn("failed to clear journal", err, nil)
	}
	w.logger.Info("interrupted delivery recorded", nil, map[string]interface{}{
		"queue":          entry.Attempt.Queue,
		"consumer_class": entry.Attempt.ConsumerClass,
		"delivery_id":    entry.Attempt.ID,
	})
}

type exitStatus struct {
	code   int
	signal string
}

func (e exitStatus) abnormal() bool {
	return e.code != 0 || e.signal != ""
}

func (e exitStatus) reason() string {
	switch {
	case e.code == ExitHung:
		return "execution deadline exceeded"
	case e.signal != "":
		return "worker killed by signal " + e.signal
	default:
		return fmt.Sprintf("worker exited with code %d", e.code)
	}
}

func (w *Watchdog) runOnce(ctx context.Context) (exitStatus, error) {
	cmd := exec.CommandContext(ctx, w.cfg.Command[0], w.cfg.Command[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), w.cfg.Env...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = w.cfg.StopTimeout

	if err := cmd.Start(); err != nil {
		return exitStatus{}, fmt.Errorf("start worker: %w", err)
	}
	w.logger.Info("worker started", nil, map[string]interface{}{"pid": cmd.Process.Pid})

	err := cmd.Wait()
	if err == nil {
		return exitStatus{}, nil
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		if ctx.Err() != nil {
			return exitStatus{}, nil
		}
		return exitStatus{}, fmt.Errorf("wait for worker: %w", err)
	}

	st := exitStatus{code: exitErr.ExitCode()}
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		st.signal = ws.Signal().String()
	}
	return st, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
