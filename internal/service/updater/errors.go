package updater

import "fmt"

// DownloadError reports a failure fetching the artifact: network errors,
// non-200 statuses, filesystem errors while writing, or a download timeout.
type DownloadError struct {
	// URL is the artifact source that failed.
	URL string
	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *DownloadError) Error() string {
	return fmt.Sprintf("download %s: %v", e.URL, e.Err)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *DownloadError) Unwrap() error {
	return e.Err
}

// ExecutionError reports an update command that could not be started, exited
// non-zero, or timed out.
type ExecutionError struct {
	// Command is the command line that failed.
	Command string
	// ExitCode is the recorded exit code, -1 when the command never started.
	ExitCode int
	// Output is the captured combined stdout/stderr.
	Output string
	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execute update command (exit code %d): %v", e.ExitCode, e.Err)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *ExecutionError) Unwrap() error {
	return e.Err
}
