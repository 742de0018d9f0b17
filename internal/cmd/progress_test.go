package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/felixgeelhaar/flagsync/internal/codebase"
)

func TestScanIndicatorSilentWithoutTerminal(t *testing.T) {
	var buf bytes.Buffer
	ind := newScanIndicator(&buf)

	ind.Update(codebase.Progress{Batch: 1, Batches: 2, ProcessedFiles: 5, TotalFiles: 10})
	ind.Done()

	assert.Empty(t, buf.String())
}

func TestScanIndicatorDrawsAndClears(t *testing.T) {
	var buf bytes.Buffer
	ind := newScanIndicator(&buf)
	ind.enabled = true

	ind.Update(codebase.Progress{Batch: 1, Batches: 2, ProcessedFiles: 5, TotalFiles: 10})
	assert.Contains(t, buf.String(), "5/10 files")

	buf.Reset()
	ind.Done()
	assert.Contains(t, buf.String(), "\r")

	buf.Reset()
	ind.Done()
	assert.Empty(t, buf.String(), "second Done has nothing to clear")
}

func TestScanIndicatorIgnoresEmptyScan(t *testing.T) {
	var buf bytes.Buffer
	ind := newScanIndicator(&buf)
	ind.enabled = true

	ind.Update(codebase.Progress{})
	assert.Empty(t, buf.String())
}
