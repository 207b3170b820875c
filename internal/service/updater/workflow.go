package updater

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/oshokin/fleet-commander/internal/domain/command"
	"github.com/oshokin/fleet-commander/internal/logger"
)

const (
	// ArtifactPathEnvVar exposes the absolute artifact path to the executed command.
	ArtifactPathEnvVar = "UPDATE_ARTIFACT_PATH"

	// tempDirPattern names per-run working directories.
	tempDirPattern = "fleet-update-"

	// downloadChunkSize is the buffer size for streaming artifacts to disk.
	downloadChunkSize = 32 * 1024

	// DefaultDownloadTimeout bounds the artifact download.
	DefaultDownloadTimeout = 5 * time.Minute

	// DefaultCommandTimeout bounds the update command execution.
	DefaultCommandTimeout = 10 * time.Minute
)

var (
	// errNotUpdate is returned when a non-update message reaches the workflow.
	errNotUpdate = errors.New("message does not request an update")
	// errInvalidFilename is returned when the filename reduces to no base name.
	errInvalidFilename = errors.New("filename has no usable base name")
	// errBadHTTPStatus is returned when the artifact server answers non-200.
	errBadHTTPStatus = errors.New("unexpected http status")
)

// Workflow runs the download, execute, cleanup sequence for update messages.
// A single Workflow value is safe for sequential reuse across messages; every
// run allocates its own working directory.
type Workflow struct {
	// httpClient downloads artifacts.
	httpClient *http.Client
	// downloadTimeout bounds the artifact download per run.
	downloadTimeout time.Duration
	// commandTimeout bounds the update command execution per run.
	commandTimeout time.Duration
	// tempRoot is the parent for per-run directories, "" for the system default.
	tempRoot string
}

// Option configures workflow behaviour.
type Option func(*Workflow)

// WithHTTPClient replaces the artifact download client.
func WithHTTPClient(client *http.Client) Option {
	return func(w *Workflow) {
		if client != nil {
			w.httpClient = client
		}
	}
}

// WithDownloadTimeout bounds the artifact download.
func WithDownloadTimeout(timeout time.Duration) Option {
	return func(w *Workflow) {
		if timeout > 0 {
			w.downloadTimeout = timeout
		}
	}
}

// WithCommandTimeout bounds the update command execution.
func WithCommandTimeout(timeout time.Duration) Option {
	return func(w *Workflow) {
		if timeout > 0 {
			w.commandTimeout = timeout
		}
	}
}

// WithTempRoot places per-run directories under the provided parent.
func WithTempRoot(root string) Option {
	return func(w *Workflow) {
		w.tempRoot = root
	}
}

// NewWorkflow builds a workflow with default timeouts.
func NewWorkflow(opts ...Option) *Workflow {
	w := &Workflow{
		httpClient:      http.DefaultClient,
		downloadTimeout: DefaultDownloadTimeout,
		commandTimeout:  DefaultCommandTimeout,
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Run executes one update: create working directory, download the artifact,
// run the update command, remove the directory. The directory removal is
// unconditional; no working directory created here outlives the call.
func (w *Workflow) Run(ctx context.Context, msg *command.Message) error {
	if !msg.IsUpdate() {
		return errNotUpdate
	}

	if err := msg.Validate(); err != nil {
		return err
	}

	// Per-run correlation id for every log line the run produces.
	ctx = logger.WithKV(ctx, "run_id", uuid.NewString())

	fileName, err := sanitizeFilename(msg.Filename)
	if err != nil {
		return err
	}

	tempDir, err := os.MkdirTemp(w.tempRoot, tempDirPattern)
	if err != nil {
		return fmt.Errorf("create working directory: %w", err)
	}

	defer w.cleanup(ctx, tempDir)

	logger.InfoKV(ctx, "Starting update", "url", msg.URL, "filename", fileName, "work_dir", tempDir)

	artifactPath := filepath.Join(tempDir, fileName)

	if err = w.download(ctx, msg.URL, artifactPath); err != nil {
		logger.ErrorKV(ctx, "Artifact download failed", "url", msg.URL, "error", err)

		return &DownloadError{URL: msg.URL, Err: err}
	}

	logger.InfoKV(ctx, "Downloaded artifact", "path", artifactPath)

	if err = w.executeUpdateCommand(ctx, msg.Command, tempDir, artifactPath); err != nil {
		return err
	}

	logger.Info(ctx, "Update completed")

	return nil
}

// download streams the artifact to disk in fixed-size chunks so large
// artifacts never have to fit in memory.
func (w *Workflow) download(ctx context.Context, url, destination string) error {
	downloadCtx, cancel := context.WithTimeout(ctx, w.downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(downloadCtx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	response, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch artifact: %w", err)
	}

	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: %w", response.Status, errBadHTTPStatus)
	}

	outputFile, err := os.Create(destination)
	if err != nil {
		return fmt.Errorf("create artifact file: %w", err)
	}

	buffer := make([]byte, downloadChunkSize)

	if _, err = io.CopyBuffer(outputFile, response.Body, buffer); err != nil {
		_ = outputFile.Close()

		return fmt.Errorf("write artifact: %w", err)
	}

	if err = outputFile.Close(); err != nil {
		return fmt.Errorf("close artifact file: %w", err)
	}

	return nil
}

// executeUpdateCommand runs the operator-supplied command line through the
// platform shell. The working directory is passed on the command, never set
// process-wide, and the artifact path travels in the environment. This is the
// single place where remote input turns into local execution.
func (w *Workflow) executeUpdateCommand(ctx context.Context, commandLine, workDir, artifactPath string) error {
	commandCtx, cancel := context.WithTimeout(ctx, w.commandTimeout)
	defer cancel()

	shell, flag := platformShell()

	cmd := exec.CommandContext(commandCtx, shell, flag, commandLine)
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(), ArtifactPathEnvVar+"="+artifactPath)

	logger.InfoKV(ctx, "Executing update command", "command", commandLine)

	output, err := cmd.CombinedOutput()
	if err != nil {
		execErr := &ExecutionError{
			Command:  commandLine,
			ExitCode: exitCodeOf(err),
			Output:   string(output),
			Err:      err,
		}

		logger.ErrorKV(ctx, "Update command failed",
			"command", commandLine,
			"exit_code", execErr.ExitCode,
			"output", execErr.Output,
			"error", err)

		return execErr
	}

	logger.InfoKV(ctx, "Update command finished", "exit_code", 0, "output", string(output))

	return nil
}

// cleanup removes the per-run working directory. A removal failure is logged
// but never changes the already-determined run outcome.
func (w *Workflow) cleanup(ctx context.Context, tempDir string) {
	if err := os.RemoveAll(tempDir); err != nil {
		logger.ErrorKV(ctx, "Could not remove working directory", "work_dir", tempDir, "error", err)
		return
	}

	logger.DebugKV(ctx, "Removed working directory", "work_dir", tempDir)
}

// sanitizeFilename reduces the requested filename to its base name so the
// artifact always lands inside the working directory.
func sanitizeFilename(name string) (string, error) {
	base := filepath.Base(strings.TrimSpace(name))
	if base == "" || base == "." || base == ".." || base == string(filepath.Separator) {
		return "", fmt.Errorf("%q: %w", name, errInvalidFilename)
	}

	return base, nil
}

// platformShell returns the shell and its command flag for this platform.
func platformShell() (string, string) {
	if strings.Contains(strings.ToLower(runtime.GOOS), "windows") {
		return "cmd.exe", "/C"
	}

	return "sh", "-c"
}

// exitCodeOf extracts the exit code from a command error, -1 when the command
// never started.
func exitCodeOf(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}

	return -1
}
