// internal/monitor/journal.go
package monitor

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/fpalencia/licencia-scraper/internal/classify"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Entry is one line of the outcome journal.
type Entry struct {
	Timestamp   time.Time `json:"timestamp"`
	Attempt     int       `json:"attempt"`
	Status      string    `json:"status"`
	Kind        string    `json:"kind,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	URL         string    `json:"url,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	RawMessages []string  `json:"raw_messages,omitempty"`
	Action      string    `json:"action"`
}

// Journal appends one JSON line per check cycle. It is write-only
// observability output; nothing in the program reads it back. A nil
// Journal is valid and records nothing.
type Journal struct {
	mu     sync.Mutex
	file   *os.File
	logger *zap.Logger
}

// OpenJournal opens (or creates) the append-only journal at path. An empty
// path disables journaling.
func OpenJournal(path string, logger *zap.Logger) (*Journal, error) {
	if path == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating journal dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	return &Journal{file: f, logger: logger}, nil
}

// Record writes the entry. Failures are logged and swallowed; the journal
// must never interfere with the run.
func (j *Journal) Record(outcome classify.Outcome, attempt int, action string) {
	if j == nil {
		return
	}
	entry := Entry{
		Timestamp:   outcome.ObservedAt,
		Attempt:     attempt,
		Status:      outcome.Status.String(),
		Reason:      outcome.Reason.String(),
		URL:         outcome.URL,
		Detail:      outcome.Detail,
		RawMessages: outcome.RawMessages,
		Action:      action,
	}
	if outcome.Status == classify.StatusError {
		entry.Kind = outcome.Kind.String()
	}
	if entry.Reason == "none" {
		entry.Reason = ""
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	line, err := json.Marshal(entry)
	if err != nil {
		j.logger.Warn("Could not marshal journal entry", zap.Error(err))
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if _, err := j.file.Write(append(line, '\n')); err != nil {
		j.logger.Warn("Could not write journal entry", zap.Error(err))
	}
}

func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Close()
}
