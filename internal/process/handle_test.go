//go:build !windows

package process

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stub.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestStartMissingBinaryIsLaunchError(t *testing.T) {
	_, err := Start(filepath.Join(t.TempDir(), "does-not-exist"), nil, Options{})
	if !errors.Is(err, ErrLaunch) {
		t.Fatalf("Start() error = %v, want ErrLaunch", err)
	}
}

func TestStartNonExecutableIsLaunchError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	_, err := Start(path, nil, Options{})
	if !errors.Is(err, ErrLaunch) {
		t.Fatalf("Start() error = %v, want ErrLaunch", err)
	}
}

func TestWaitCapturesExitCodeAndStderr(t *testing.T) {
	script := writeScript(t, "echo 'voice not found' >&2\nexit 3")
	h, err := Start(script, nil, Options{})
	require.NoError(t, err)

	exit := h.Wait()
	if exit.Success() {
		t.Fatalf("Success() = true, want false")
	}
	if exit.Code != 3 {
		t.Fatalf("Code = %d, want 3", exit.Code)
	}
	if exit.Stderr != "voice not found" {
		t.Fatalf("Stderr = %q, want %q", exit.Stderr, "voice not found")
	}
	if got := exit.Detail(); got != "exit status 3: voice not found" {
		t.Fatalf("Detail() = %q", got)
	}
}

func TestWaitSuccess(t *testing.T) {
	h, err := Start(writeScript(t, "exit 0"), nil, Options{})
	require.NoError(t, err)
	exit := h.Wait()
	if !exit.Success() {
		t.Fatalf("Success() = false, exit = %+v", exit)
	}
	// A second Wait observes the same outcome.
	if again := h.Wait(); again != exit {
		t.Fatalf("second Wait() = %+v, want %+v", again, exit)
	}
}

func TestTerminateStopsCooperativeProcess(t *testing.T) {
	h, err := Start(writeScript(t, "exec sleep 30"), nil, Options{Grace: 2 * time.Second})
	require.NoError(t, err)

	start := time.Now()
	h.Terminate()
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Terminate() took %v, want prompt exit on SIGTERM", elapsed)
	}

	select {
	case <-h.Done():
	default:
		t.Fatalf("process still running after Terminate()")
	}
	exit := h.Wait()
	if !exit.Signaled {
		t.Fatalf("Signaled = false, exit = %+v", exit)
	}
}

func TestTerminateEscalatesWhenSignalIgnored(t *testing.T) {
	h, err := Start(writeScript(t, "trap '' TERM\nsleep 30"), nil, Options{Grace: 150 * time.Millisecond})
	require.NoError(t, err)
	// Give the shell a moment to install the trap.
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	h.Terminate()
	elapsed := time.Since(start)
	if elapsed < 150*time.Millisecond {
		t.Fatalf("Terminate() returned after %v, before the grace period", elapsed)
	}
	require.Eventually(t, func() bool {
		select {
		case <-h.Done():
			return true
		default:
			return false
		}
	}, 3*time.Second, 20*time.Millisecond, "expected kill after grace period")
	if h.Wait().Success() {
		t.Fatalf("killed process reported success")
	}
}

func TestTerminateIsIdempotent(t *testing.T) {
	h, err := Start(writeScript(t, "exit 0"), nil, Options{})
	require.NoError(t, err)
	h.Wait()

	// Already exited: no-op, no panic.
	h.Terminate()
	h.Terminate()

	running, err := Start(writeScript(t, "exec sleep 30"), nil, Options{})
	require.NoError(t, err)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			running.Terminate()
		}()
	}
	wg.Wait()
	select {
	case <-running.Done():
	default:
		t.Fatalf("process still running after concurrent Terminate()")
	}
}

func TestTerminateReachesChildProcesses(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "child.pid")
	h, err := Start(writeScript(t, "sleep 30 &\necho $! > '"+pidFile+"'\nwait"), nil, Options{Grace: 200 * time.Millisecond})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		b, err := os.ReadFile(pidFile)
		return err == nil && len(b) > 0
	}, 2*time.Second, 20*time.Millisecond)

	// An orphaned sleep would hold stderr open until the pipe drain delay.
	start := time.Now()
	h.Terminate()
	h.Wait()
	if elapsed := time.Since(start); elapsed >= pipeDrainDelay {
		t.Fatalf("Terminate()+Wait() took %v, child kept the pipes open", elapsed)
	}
}

func TestTailBufferKeepsMostRecentBytes(t *testing.T) {
	buf := newTailBuffer(8)
	_, _ = buf.Write([]byte("0123456789"))
	_, _ = buf.Write([]byte("ab"))
	if got := buf.String(); got != "456789ab" {
		t.Fatalf("String() = %q, want %q", got, "456789ab")
	}
}
