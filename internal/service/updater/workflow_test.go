package updater

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/fleet-commander/internal/domain/command"
)

// newArtifactServer serves /ok.txt with 200 and everything else with 404.
func newArtifactServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/ok.txt", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("artifact-contents"))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return server
}

// requireEmptyDir asserts that no per-run directory survived under root.
func requireEmptyDir(t *testing.T, root string) {
	t.Helper()

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	require.Empty(t, entries, "working directories must not outlive the run")
}

// TestRun_Success downloads the artifact and executes the command with the
// artifact path exposed in the environment.
func TestRun_Success(t *testing.T) {
	t.Parallel()

	server := newArtifactServer(t)
	tempRoot := t.TempDir()
	resultFile := filepath.Join(t.TempDir(), "result.txt")

	workflow := NewWorkflow(WithTempRoot(tempRoot))
	msg := &command.Message{
		Action:   command.ActionUpdate,
		URL:      server.URL + "/ok.txt",
		Filename: "ok.txt",
		Command:  fmt.Sprintf(`echo "$UPDATE_ARTIFACT_PATH" > %q`, resultFile),
	}

	require.NoError(t, workflow.Run(context.Background(), msg))

	printed, err := os.ReadFile(resultFile)
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(strings.TrimSpace(string(printed)), "ok.txt"))

	requireEmptyDir(t, tempRoot)
}

// TestRun_DownloadFailure returns a DownloadError on 404, never executes the
// command, and still removes the working directory.
func TestRun_DownloadFailure(t *testing.T) {
	t.Parallel()

	server := newArtifactServer(t)
	tempRoot := t.TempDir()
	markerFile := filepath.Join(t.TempDir(), "executed.txt")

	workflow := NewWorkflow(WithTempRoot(tempRoot))
	msg := &command.Message{
		Action:   command.ActionUpdate,
		URL:      server.URL + "/missing.txt",
		Filename: "missing.txt",
		Command:  fmt.Sprintf("touch %q", markerFile),
	}

	err := workflow.Run(context.Background(), msg)

	var downloadErr *DownloadError
	require.ErrorAs(t, err, &downloadErr)
	require.Equal(t, msg.URL, downloadErr.URL)

	_, statErr := os.Stat(markerFile)
	require.True(t, os.IsNotExist(statErr), "command must not run after a failed download")

	requireEmptyDir(t, tempRoot)
}

// TestRun_CommandExitsNonZero records the exit code in an ExecutionError and
// removes the working directory.
func TestRun_CommandExitsNonZero(t *testing.T) {
	t.Parallel()

	server := newArtifactServer(t)
	tempRoot := t.TempDir()

	workflow := NewWorkflow(WithTempRoot(tempRoot))
	msg := &command.Message{
		Action:   command.ActionUpdate,
		URL:      server.URL + "/ok.txt",
		Filename: "ok.txt",
		Command:  "exit 7",
	}

	err := workflow.Run(context.Background(), msg)

	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	require.Equal(t, 7, execErr.ExitCode)

	requireEmptyDir(t, tempRoot)
}

// TestRun_CommandTimeout surfaces a hung command as an ExecutionError and
// removes the working directory.
func TestRun_CommandTimeout(t *testing.T) {
	t.Parallel()

	server := newArtifactServer(t)
	tempRoot := t.TempDir()

	workflow := NewWorkflow(
		WithTempRoot(tempRoot),
		WithCommandTimeout(100*time.Millisecond),
	)
	msg := &command.Message{
		Action:   command.ActionUpdate,
		URL:      server.URL + "/ok.txt",
		Filename: "ok.txt",
		Command:  "sleep 10",
	}

	err := workflow.Run(context.Background(), msg)

	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)

	requireEmptyDir(t, tempRoot)
}

// TestRun_DuplicateDelivery runs the same message twice; each run gets its own
// working directory and both succeed.
func TestRun_DuplicateDelivery(t *testing.T) {
	t.Parallel()

	server := newArtifactServer(t)
	tempRoot := t.TempDir()
	dirsFile := filepath.Join(t.TempDir(), "dirs.txt")

	workflow := NewWorkflow(WithTempRoot(tempRoot))
	msg := &command.Message{
		Action:   command.ActionUpdate,
		URL:      server.URL + "/ok.txt",
		Filename: "ok.txt",
		Command:  fmt.Sprintf("pwd >> %q", dirsFile),
	}

	require.NoError(t, workflow.Run(context.Background(), msg))
	require.NoError(t, workflow.Run(context.Background(), msg))

	contents, err := os.ReadFile(dirsFile)
	require.NoError(t, err)

	dirs := strings.Fields(string(contents))
	require.Len(t, dirs, 2)
	require.NotEqual(t, dirs[0], dirs[1], "runs must not share a working directory")

	requireEmptyDir(t, tempRoot)
}

// TestRun_RejectsIncompleteAndForeignMessages never creates a working
// directory for messages the workflow must not process.
func TestRun_RejectsIncompleteAndForeignMessages(t *testing.T) {
	t.Parallel()

	tempRoot := t.TempDir()
	workflow := NewWorkflow(WithTempRoot(tempRoot))

	// Not an update at all.
	err := workflow.Run(context.Background(), &command.Message{Action: command.ActionPing})
	require.Error(t, err)

	// Update with a missing field.
	err = workflow.Run(context.Background(), &command.Message{
		Action: command.ActionUpdate,
		URL:    "https://example.com/a",
	})
	require.ErrorIs(t, err, command.ErrIncompleteUpdate)

	requireEmptyDir(t, tempRoot)
}

// TestSanitizeFilename keeps artifacts inside the working directory.
func TestSanitizeFilename(t *testing.T) {
	t.Parallel()

	got, err := sanitizeFilename("../../etc/evil.txt")
	require.NoError(t, err)
	require.Equal(t, "evil.txt", got)

	got, err = sanitizeFilename("plain.bin")
	require.NoError(t, err)
	require.Equal(t, "plain.bin", got)

	for _, bad := range []string{"", " ", ".", "..", "/"} {
		_, err = sanitizeFilename(bad)
		require.Error(t, err, "filename %q", bad)
	}
}
