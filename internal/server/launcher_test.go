//go:build !windows

package server

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mined-project/mined/internal/logger"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func loggerConfigForDir(dir string) logger.Config {
	return logger.Config{Dir: dir}
}

func waitFor(t *testing.T, l *Launcher, id int, want Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		return l.QueryStatus(id) == want
	}, 5*time.Second, 50*time.Millisecond)
}

func TestLauncherStartStop(t *testing.T) {
	l := NewLauncher([]Spec{
		{Name: "sleeper", Command: "sleep 30", StopGrace: 2 * time.Second},
	}, discardLogger())
	defer l.Shutdown()

	require.Equal(t, StatusStopped, l.QueryStatus(0))
	require.NoError(t, l.BeginStart(0))
	waitFor(t, l, 0, StatusRunning)

	require.NoError(t, l.BeginStop(0))
	waitFor(t, l, 0, StatusStopped)
}

func TestLauncherStartIsIdempotent(t *testing.T) {
	l := NewLauncher([]Spec{
		{Name: "sleeper", Command: "sleep 30", StopGrace: 2 * time.Second},
	}, discardLogger())
	defer l.Shutdown()

	require.NoError(t, l.BeginStart(0))
	waitFor(t, l, 0, StatusRunning)
	// A second start on a live process must not spawn another child.
	require.NoError(t, l.BeginStart(0))
	waitFor(t, l, 0, StatusRunning)
	require.NoError(t, l.BeginStop(0))
	waitFor(t, l, 0, StatusStopped)
}

func TestLauncherStopDeadIsNoop(t *testing.T) {
	l := NewLauncher([]Spec{{Name: "sleeper", Command: "sleep 30"}}, discardLogger())
	require.NoError(t, l.BeginStop(0))
	require.Equal(t, StatusStopped, l.QueryStatus(0))
}

func TestLauncherDetectsExit(t *testing.T) {
	l := NewLauncher([]Spec{{Name: "oneshot", Command: "true"}}, discardLogger())
	require.NoError(t, l.BeginStart(0))
	waitFor(t, l, 0, StatusStopped)
}

func TestLauncherUnknownID(t *testing.T) {
	l := NewLauncher(nil, discardLogger())
	require.Error(t, l.BeginStart(0))
	require.Error(t, l.BeginStop(3))
	require.Equal(t, StatusStopped, l.QueryStatus(7))
}

func TestLauncherCapturesOutput(t *testing.T) {
	dir := t.TempDir()
	l := NewLauncher([]Spec{{
		Name:    "echoer",
		Command: "echo hello-from-server",
		Log:     loggerConfigForDir(dir),
	}}, discardLogger())

	require.NoError(t, l.BeginStart(0))
	waitFor(t, l, 0, StatusStopped)

	require.Eventually(t, func() bool {
		b, err := os.ReadFile(filepath.Join(dir, "echoer.stdout.log"))
		return err == nil && len(b) > 0
	}, 5*time.Second, 50*time.Millisecond)
	b, err := os.ReadFile(filepath.Join(dir, "echoer.stdout.log"))
	require.NoError(t, err)
	require.Contains(t, string(b), "hello-from-server")
}

func TestLauncherWorkDir(t *testing.T) {
	dir := t.TempDir()
	logDir := t.TempDir()
	l := NewLauncher([]Spec{{
		Name:    "pwd",
		Command: "pwd",
		WorkDir: dir,
		Log:     loggerConfigForDir(logDir),
	}}, discardLogger())

	require.NoError(t, l.BeginStart(0))
	waitFor(t, l, 0, StatusStopped)

	require.Eventually(t, func() bool {
		b, err := os.ReadFile(filepath.Join(logDir, "pwd.stdout.log"))
		return err == nil && len(b) > 0
	}, 5*time.Second, 50*time.Millisecond)
	b, err := os.ReadFile(filepath.Join(logDir, "pwd.stdout.log"))
	require.NoError(t, err)
	require.Contains(t, string(b), dir)
}
