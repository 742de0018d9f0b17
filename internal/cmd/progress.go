package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/progress"

	"github.com/felixgeelhaar/flagsync/internal/codebase"
)

// scanIndicator draws a single-line progress bar while batches complete.
// It stays silent in CI and when the writer is not a terminal.
type scanIndicator struct {
	mu      sync.Mutex
	w       io.Writer
	bar     progress.Model
	enabled bool
	drawn   bool
}

func newScanIndicator(w io.Writer) *scanIndicator {
	return &scanIndicator{
		w:       w,
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		enabled: isTerminal(w) && os.Getenv("CI") == "",
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}

// Update redraws the bar for p. Safe for concurrent batch callbacks.
func (s *scanIndicator) Update(p codebase.Progress) {
	if !s.enabled || p.TotalFiles == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	pct := float64(p.ProcessedFiles) / float64(p.TotalFiles)
	fmt.Fprintf(s.w, "\r%s %d/%d files", s.bar.ViewAs(pct), p.ProcessedFiles, p.TotalFiles)
	s.drawn = true
}

// Done clears the bar line.
func (s *scanIndicator) Done() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.drawn {
		fmt.Fprintf(s.w, "\r%s\r", strings.Repeat(" ", 80))
		s.drawn = false
	}
}
