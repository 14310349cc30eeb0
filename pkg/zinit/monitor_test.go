package zinit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// installStub writes an executable named zinit into a fresh directory and
// makes that directory the only entry on PATH.
func installStub(t *testing.T, script string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultBinary)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0755))
	t.Setenv("PATH", dir)
	return path
}

func TestMonitor_Success(t *testing.T) {
	installStub(t, `[ "$1" = monitor ] || exit 9
echo "monitoring $2"
exit 0`)

	err := Monitor(context.Background(), "redis")
	assert.NoError(t, err)
}

func TestMonitor_NonZeroExit(t *testing.T) {
	installStub(t, `echo "partial" ; echo "boom" >&2 ; exit 1`)

	err := Monitor(context.Background(), "redis")
	require.Error(t, err)

	assert.True(t, IsExitError(err))
	assert.False(t, IsLaunchError(err))
	assert.Contains(t, err.Error(), "redis")
	assert.Contains(t, err.Error(), "boom")
	assert.Contains(t, err.Error(), "partial")

	var zerr *Error
	require.True(t, errors.As(err, &zerr))
	assert.Equal(t, 1, zerr.ExitCode)
	assert.Equal(t, "monitor", zerr.Command)
	assert.Equal(t, "redis", zerr.Service)
	assert.Equal(t, "boom\n", string(zerr.Stderr))
	assert.Equal(t, "partial\n", string(zerr.Stdout))
	assert.Equal(t,
		`failed to monitor service 'redis': exit code 1, stdout: "partial\n", stderr: "boom\n"`,
		err.Error())
}

func TestMonitor_ExecutableMissing(t *testing.T) {
	t.Setenv("PATH", t.TempDir())

	err := Monitor(context.Background(), "redis")
	require.Error(t, err)

	assert.True(t, IsLaunchError(err))
	assert.ErrorIs(t, err, exec.ErrNotFound)
	assert.Contains(t, err.Error(), "redis")
	assert.Contains(t, err.Error(), "could not launch zinit")
}

func TestMonitor_NotExecutable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zinit")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0644))

	r := &Runner{Binary: path}
	err := r.Monitor(context.Background(), "redis")
	require.Error(t, err)
	assert.True(t, IsLaunchError(err))
}

func TestMonitor_EmptyNamePassedThrough(t *testing.T) {
	installStub(t, `[ $# -eq 2 ] || exit 7
[ "$1" = monitor ] || exit 8
[ -z "$2" ] || exit 9
exit 0`)

	assert.NoError(t, Monitor(context.Background(), ""))
}

func TestMonitor_ConcurrentCallsAreIndependent(t *testing.T) {
	installStub(t, `case "$2" in
  bad-*) echo "no such service $2" >&2 ; exit 2 ;;
  *) exit 0 ;;
esac`)

	names := []string{"ok-1", "bad-1", "ok-2", "bad-2", "ok-3", "ok-4"}
	errs := make([]error, len(names))

	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			errs[i] = Monitor(context.Background(), name)
		}(i, name)
	}
	wg.Wait()

	for i, name := range names {
		if name[:3] == "ok-" {
			assert.NoError(t, errs[i], name)
			continue
		}
		require.Error(t, errs[i], name)
		assert.Contains(t, errs[i].Error(), fmt.Sprintf("no such service %s", name))
	}
}

func TestRunner_TimeoutKillsChild(t *testing.T) {
	installStub(t, `exec /bin/sleep 30`)

	r := &Runner{Timeout: 100 * time.Millisecond}
	started := time.Now()
	err := r.Monitor(context.Background(), "hang")
	require.Error(t, err)

	assert.Less(t, time.Since(started), 10*time.Second)
	assert.True(t, IsCanceled(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "hang")
}

func TestRunner_ContextCancel(t *testing.T) {
	installStub(t, `exec /bin/sleep 30`)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	err := NewRunner().Monitor(ctx, "hang")
	require.Error(t, err)
	assert.True(t, IsCanceled(err))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunner_EnvAndObserver(t *testing.T) {
	installStub(t, `[ "$ZINIT_TEST_TOKEN" = secret ] || { echo "missing token" >&2 ; exit 4 ; }`)

	var (
		calls   int
		command string
		service string
		lastErr error
	)
	r := &Runner{
		Env: []string{"ZINIT_TEST_TOKEN=secret"},
		Observer: func(cmd, svc string, took time.Duration, err error) {
			calls++
			command, service, lastErr = cmd, svc, err
		},
	}

	require.NoError(t, r.Monitor(context.Background(), "ntp"))
	assert.Equal(t, 1, calls)
	assert.Equal(t, "monitor", command)
	assert.Equal(t, "ntp", service)
	assert.NoError(t, lastErr)

	r.Env = nil
	err := r.Monitor(context.Background(), "ntp")
	require.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, err, lastErr)
	assert.Contains(t, err.Error(), "missing token")
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(nil))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, KindExit, KindOf(fmt.Errorf("wrapped: %w", &Error{Kind: KindExit})))

	assert.Equal(t, "launch_error", KindLaunch.String())
	assert.Equal(t, "exit_error", KindExit.String())
	assert.Equal(t, "canceled", KindCanceled.String())
	assert.Equal(t, "unknown", KindUnknown.String())
}
