package process

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// ErrLaunch is returned by Start when the executable cannot be spawned.
var ErrLaunch = errors.New("launch failed")

const (
	defaultGrace       = 500 * time.Millisecond
	defaultOutputLimit = 16 << 10
	killConfirmWindow  = 2 * time.Second
	pipeDrainDelay     = 2 * time.Second
)

// Options tunes a single invocation.
type Options struct {
	// Grace is how long Terminate waits after the soft signal before killing.
	Grace time.Duration
	Dir   string
	Env   []string
	// OutputLimit caps the stdout/stderr tail kept for diagnostics.
	OutputLimit int
}

// Exit describes how a process ended.
type Exit struct {
	Code     int
	Signaled bool
	Stderr   string
	Stdout   string
	// Err is set when waiting failed for a reason other than a non-zero exit.
	Err error
}

// Success reports a clean zero exit.
func (e Exit) Success() bool {
	return e.Err == nil && !e.Signaled && e.Code == 0
}

// Detail is a short human readable summary of a failed exit.
func (e Exit) Detail() string {
	var head string
	switch {
	case e.Err != nil:
		head = e.Err.Error()
	case e.Signaled:
		head = "terminated by signal"
	default:
		head = fmt.Sprintf("exit status %d", e.Code)
	}
	text := strings.TrimSpace(e.Stderr)
	if text == "" {
		text = strings.TrimSpace(e.Stdout)
	}
	if text == "" {
		return head
	}
	return head + ": " + text
}

// Handle wraps one running external process.
type Handle struct {
	cmd    *exec.Cmd
	grace  time.Duration
	stdout *tailBuffer
	stderr *tailBuffer

	done     chan struct{}
	exit     Exit
	termOnce sync.Once
}

// Start spawns path with args. The process runs in its own process group so
// Terminate reaches anything it forks.
func Start(path string, args []string, opts Options) (*Handle, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("%w: empty executable path", ErrLaunch)
	}
	grace := opts.Grace
	if grace <= 0 {
		grace = defaultGrace
	}
	limit := opts.OutputLimit
	if limit <= 0 {
		limit = defaultOutputLimit
	}

	cmd := exec.Command(path, args...)
	cmd.Dir = opts.Dir
	if len(opts.Env) > 0 {
		cmd.Env = opts.Env
	}
	stdout := newTailBuffer(limit)
	stderr := newTailBuffer(limit)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// A grandchild holding our pipes open must not pin Wait forever.
	cmd.WaitDelay = pipeDrainDelay
	prepareCommand(cmd)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLaunch, err)
	}

	h := &Handle{
		cmd:    cmd,
		grace:  grace,
		stdout: stdout,
		stderr: stderr,
		done:   make(chan struct{}),
	}
	go h.reap()
	return h, nil
}

// Pid returns the OS process id, for logs only.
func (h *Handle) Pid() int {
	if h == nil || h.cmd == nil || h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// Done is closed once the process has exited and its output is drained.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the process exits. Safe for concurrent use.
func (h *Handle) Wait() Exit {
	<-h.done
	return h.exit
}

// Terminate asks the process to stop, escalating to a kill when it outlives
// the grace period. Calling it on an exited or already terminated handle is a
// no-op. Concurrent callers all return once termination has settled.
func (h *Handle) Terminate() {
	if h == nil {
		return
	}
	h.termOnce.Do(h.terminate)
}

func (h *Handle) terminate() {
	select {
	case <-h.done:
		return
	default:
	}

	if err := softStop(h.cmd); err != nil {
		_ = hardStop(h.cmd)
	} else {
		timer := time.NewTimer(h.grace)
		select {
		case <-h.done:
			timer.Stop()
			return
		case <-timer.C:
		}
		_ = hardStop(h.cmd)
	}

	select {
	case <-h.done:
	case <-time.After(killConfirmWindow):
	}
}

func (h *Handle) reap() {
	err := h.cmd.Wait()
	h.exit = exitFrom(h.cmd, err)
	h.exit.Stdout = h.stdout.String()
	h.exit.Stderr = h.stderr.String()
	close(h.done)
}

func exitFrom(cmd *exec.Cmd, err error) Exit {
	var out Exit
	if state := cmd.ProcessState; state != nil {
		out.Code = state.ExitCode()
		// ExitCode reports -1 when the process was killed by a signal.
		out.Signaled = out.Code < 0
	}
	if err == nil {
		return out
	}
	var exitErr *exec.ExitError
	switch {
	case errors.As(err, &exitErr):
		out.Code = exitErr.ExitCode()
		out.Signaled = out.Code < 0
	case errors.Is(err, exec.ErrWaitDelay):
		// Exited normally but left its output pipes open; the status is still valid.
	default:
		out.Err = err
	}
	return out
}

type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func newTailBuffer(max int) *tailBuffer {
	if max <= 0 {
		max = defaultOutputLimit
	}
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}
