// Package updater implements the artifact update workflow triggered by update
// command messages: download the artifact into a fresh per-run working
// directory, execute the supplied command there, and remove the directory on
// every exit path.
//
// The workflow never terminates the process; all failures are returned as
// typed errors (DownloadError, ExecutionError) and logged with full cause.
package updater
