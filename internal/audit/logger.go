package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/flagsync/internal/log"
)

// DirName is the audit directory under the workspace's .flagsync directory.
const DirName = "audit"

// Sink accepts audit events. Record never fails from the caller's point of
// view.
type Sink interface {
	Record(e *Event)
}

// Logger appends audit events to a JSONL file.
type Logger struct {
	runID       string
	dir         string
	file        *os.File
	mu          sync.Mutex
	maxFileSize int64
	maxFiles    int
	enabled     bool
	events      []*Event
	logger      *log.Logger
}

// Config contains audit logger configuration
type Config struct {
	// RunID identifies the invocation. Empty means a fresh UUID.
	RunID string

	// Dir is the directory for audit files (default: <root>/.flagsync/audit)
	Dir string

	// MaxFileSize is the max size before rotation (default: 10MB)
	MaxFileSize int64

	// MaxFiles is the max number of rotated files (default: 5)
	MaxFiles int

	// Enabled controls whether events are written to disk
	Enabled bool
}

// DefaultConfig returns an enabled configuration rooted at the workspace.
func DefaultConfig(root string) Config {
	return Config{
		RunID:       uuid.NewString(),
		Dir:         filepath.Join(root, ".flagsync", DirName),
		MaxFileSize: 10 * 1024 * 1024,
		MaxFiles:    5,
		Enabled:     true,
	}
}

// New creates an audit logger. A disabled logger keeps events in memory only.
func New(cfg Config, logger *log.Logger) (*Logger, error) {
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	l := &Logger{
		runID:       cfg.RunID,
		dir:         cfg.Dir,
		maxFileSize: cfg.MaxFileSize,
		maxFiles:    cfg.MaxFiles,
		enabled:     cfg.Enabled,
		events:      []*Event{},
		logger:      log.OrDefault(logger).WithComponent("audit"),
	}
	if !cfg.Enabled {
		return l, nil
	}

	if l.maxFileSize <= 0 {
		l.maxFileSize = 10 * 1024 * 1024
	}
	if l.maxFiles <= 0 {
		l.maxFiles = 5
	}

	if err := os.MkdirAll(cfg.Dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	file, err := os.OpenFile(l.currentPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit file: %w", err)
	}
	l.file = file
	return l, nil
}

// Discard returns a logger that only keeps events in memory.
func Discard() *Logger {
	l, _ := New(Config{Enabled: false}, log.Discard()) // cannot fail when disabled
	return l
}

// Record stamps e with the run ID and appends it. Write failures are logged
// and otherwise ignored.
func (l *Logger) Record(e *Event) {
	if l == nil || e == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e.RunID = l.runID
	l.events = append(l.events, e)

	if !l.enabled {
		return
	}
	if err := l.write(e); err != nil {
		l.logger.WithError(err).Warn("failed to write audit event",
			"event_id", e.ID,
			"type", e.Type,
		)
	}
}

func (l *Logger) write(e *Event) error {
	if err := l.checkRotation(); err != nil {
		return fmt.Errorf("audit rotation failed: %w", err)
	}

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}

	if _, err := fmt.Fprintf(l.file, "%s\n", line); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}

func (l *Logger) currentPath() string {
	return filepath.Join(l.dir, fmt.Sprintf("audit_%s.jsonl", l.runID))
}

func (l *Logger) checkRotation() error {
	if l.file == nil {
		return fmt.Errorf("audit file is closed")
	}

	info, err := l.file.Stat()
	if err != nil {
		return err
	}
	if info.Size() < l.maxFileSize {
		return nil
	}
	return l.rotate()
}

func (l *Logger) rotate() error {
	if err := l.file.Close(); err != nil {
		return err
	}

	current := l.currentPath()
	rotated := filepath.Join(l.dir, fmt.Sprintf("audit_%s_%s.jsonl", l.runID, time.Now().Format("20060102_150405.000")))
	if err := os.Rename(current, rotated); err != nil {
		return err
	}

	if err := l.cleanupOldFiles(); err != nil {
		l.logger.WithError(err).Warn("failed to clean up rotated audit files")
	}

	file, err := os.OpenFile(current, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return err
	}
	l.file = file
	return nil
}

func (l *Logger) cleanupOldFiles() error {
	files, err := filepath.Glob(filepath.Join(l.dir, fmt.Sprintf("audit_%s_*.jsonl", l.runID)))
	if err != nil {
		return err
	}
	if len(files) <= l.maxFiles {
		return nil
	}

	sort.Strings(files)
	for _, f := range files[:len(files)-l.maxFiles] {
		if err := os.Remove(f); err != nil {
			return err
		}
	}
	return nil
}

// Close syncs and closes the audit file.
func (l *Logger) Close() error {
	if l == nil || !l.enabled {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	if err := l.file.Sync(); err != nil {
		return err
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Path returns the current audit file, or "" when disabled.
func (l *Logger) Path() string {
	if !l.enabled {
		return ""
	}
	return l.currentPath()
}

// RunID returns the run identifier stamped on every event.
func (l *Logger) RunID() string {
	return l.runID
}

// Events returns a copy of every recorded event.
func (l *Logger) Events() []*Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	events := make([]*Event, len(l.events))
	copy(events, l.events)
	return events
}
