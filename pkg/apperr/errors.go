// Package apperr holds the typed errors shared by the call orchestration
// packages. Callers match them with errors.As and decide whether a failure
// is fatal, recoverable, or only worth a log line.
package apperr

import (
	"fmt"
	"strings"
)

// ConfigurationError reports capabilities that are not configured.
// It is only fatal to streaming-mode selection.
type ConfigurationError struct {
	Missing []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: missing capabilities [%s]", strings.Join(e.Missing, ", "))
}

// TranscriptionError wraps a speech recognition failure.
type TranscriptionError struct {
	Err error
}

func (e *TranscriptionError) Error() string { return "transcription: " + e.Err.Error() }
func (e *TranscriptionError) Unwrap() error { return e.Err }

// ClassificationParseError is raised by the classification parse boundary
// when model output cannot be read. It never leaves the dialog package.
type ClassificationParseError struct {
	Raw string
	Err error
}

func (e *ClassificationParseError) Error() string {
	return fmt.Sprintf("classification parse: %v (raw=%q)", e.Err, truncate(e.Raw, 120))
}
func (e *ClassificationParseError) Unwrap() error { return e.Err }

// SynthesisError wraps a speech synthesis failure for one text chunk.
type SynthesisError struct {
	Text string
	Err  error
}

func (e *SynthesisError) Error() string { return "synthesis: " + e.Err.Error() }
func (e *SynthesisError) Unwrap() error { return e.Err }

// TranscodeError wraps a failure converting synthesized audio to line format.
type TranscodeError struct {
	Err error
}

func (e *TranscodeError) Error() string { return "transcode: " + e.Err.Error() }
func (e *TranscodeError) Unwrap() error { return e.Err }

// PersistenceError wraps a storage failure. Spoken responses are delivered
// regardless, so transcript history may be incomplete when this is logged.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("persistence %s: %v", e.Op, e.Err) }
func (e *PersistenceError) Unwrap() error { return e.Err }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
