package escalation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Aleph-Alpha/smallrabbit/pkg/rabbit"
)

// Entry states.
const (
	StateRunning = "running"
	StateHung    = "hung"
)

// Entry is the journal content while a delivery is in flight.
type Entry struct {
	State     string                 `json:"state"`
	Attempt   rabbit.DeliveryAttempt `json:"attempt"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// FileJournal keeps the in-flight delivery of one worker in a file. Every
// write replaces the file through a rename, so a reader sees either the old
// or the new entry.
type FileJournal struct {
	path string
	mu   sync.Mutex
}

var _ rabbit.Journal = (*FileJournal)(nil)

// NewFileJournal returns a journal stored at path. The directory must exist.
func NewFileJournal(path string) *FileJournal {
	return &FileJournal{path: path}
}

// Path returns the journal file location.
func (j *FileJournal) Path() string {
	return j.path
}

func (j *FileJournal) Begin(a rabbit.DeliveryAttempt) error {
	return j.write(Entry{State: StateRunning, Attempt: a, UpdatedAt: time.Now().UTC()})
}

func (j *FileJournal) Fail(a rabbit.DeliveryAttempt) error {
	return j.write(Entry{State: StateHung, Attempt: a, UpdatedAt: time.Now().UTC()})
}

// Clear removes the entry. Clearing an empty journal is not an error.
func (j *FileJournal) Clear() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := os.Remove(j.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clear journal: %w", err)
	}
	return nil
}

// Pending returns the entry left behind by a worker, or nil when the
// journal is empty.
func (j *FileJournal) Pending() (*Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	raw, err := os.ReadFile(j.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("%w: journal %s: %w", ErrDecode, j.path, err)
	}
	return &e, nil
}

func (j *FileJournal) write(e Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEncode, err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(j.path), filepath.Base(j.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("write journal: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write journal: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write journal: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write journal: %w", err)
	}
	if err := os.Rename(tmp.Name(), j.path); err != nil {
		return fmt.Errorf("write journal: %w", err)
	}
	return nil
}
