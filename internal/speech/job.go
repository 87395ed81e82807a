package speech

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"runtime/debug"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/voxbridge/internal/artifact"
	"github.com/ent0n29/voxbridge/internal/observability"
	"github.com/ent0n29/voxbridge/internal/policy"
	"github.com/ent0n29/voxbridge/internal/process"
)

const maxDetailBytes = 1024

var errInternal = errors.New("internal error")

type jobState int32

const (
	statePending jobState = iota
	stateRunning
	stateCompleted
	stateFailed
	stateCancelled
)

func (s jobState) String() string {
	switch s {
	case stateRunning:
		return "running"
	case stateCompleted:
		return "completed"
	case stateFailed:
		return "failed"
	case stateCancelled:
		return "cancelled"
	default:
		return "pending"
	}
}

func stateFor(r Result) jobState {
	switch r.Outcome {
	case OutcomeStarted, OutcomeAudio:
		return stateCompleted
	case OutcomeStopped:
		return stateCancelled
	default:
		return stateFailed
	}
}

type job struct {
	id      string
	req     Request
	created time.Time

	ctx       context.Context
	cancel    context.CancelCauseFunc
	stopTimer context.CancelFunc
	state     atomic.Int32

	// launched is closed once the process is running. done is closed after
	// result is set and every artifact is released.
	launched chan struct{}
	done     chan struct{}
	result   Result
}

func newJob(parent context.Context, req Request, timeout time.Duration) *job {
	ctx, cancel := context.WithCancelCause(parent)
	ctx, stopTimer := context.WithTimeoutCause(ctx, timeout, ErrTimeout)
	return &job{
		id:        uuid.NewString(),
		req:       req,
		created:   time.Now(),
		ctx:       ctx,
		cancel:    cancel,
		stopTimer: stopTimer,
		launched:  make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// startResult is what Start reports once the process launched. A job that
// already finished reports its real outcome.
func (j *job) startResult() Result {
	select {
	case <-j.done:
		return j.result
	default:
		return Result{Outcome: OutcomeStarted}
	}
}

func (j *job) setState(s jobState) { j.state.Store(int32(s)) }

func (j *job) release() {
	j.stopTimer()
	j.cancel(nil)
}

func (s *Supervisor) run(j *job) {
	defer s.wg.Done()
	s.metrics.JobStarted()
	defer s.finish(j)
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("speech job panicked", "job_id", j.id, "panic", r, "stack", string(debug.Stack()))
			j.result = errorResult(errInternal)
		}
	}()
	j.result = s.execute(j)
}

func (s *Supervisor) execute(j *job) Result {
	queued := time.Now()
	select {
	case s.exclusive <- struct{}{}:
	case <-j.ctx.Done():
		return s.interrupted(j)
	}
	defer func() { <-s.exclusive }()
	s.metrics.ObserveJobStage(observability.StageQueueWait, time.Since(queued))

	// Superseded while waiting for the previous process to exit.
	if j.ctx.Err() != nil {
		return s.interrupted(j)
	}

	textPath, err := s.store.AllocateTextFile(j.req.Text)
	if err != nil {
		s.log.Error("allocate text artifact", "job_id", j.id, "error", err)
		return errorResult(fmt.Errorf("%w: could not stage text", artifact.ErrIO))
	}
	var audioPath string
	if j.req.WantsAudio {
		audioPath = s.store.AllocateAudioPath()
	}
	defer func() {
		start := time.Now()
		s.store.Release(textPath)
		if audioPath != "" {
			s.store.Release(audioPath)
		}
		s.metrics.ObserveJobStage(observability.StageCleanup, time.Since(start))
	}()

	args := s.buildArgs(j.req, textPath, audioPath)
	if j.ctx.Err() != nil {
		return s.interrupted(j)
	}

	launchStart := time.Now()
	proc, err := s.launcher.Launch(s.cfg.Executable, args)
	if err != nil {
		s.log.Error("launch speech process", "job_id", j.id, "error", err)
		return errorResult(fmt.Errorf("%w: could not start %s", process.ErrLaunch, filepath.Base(s.cfg.Executable)))
	}
	s.metrics.ObserveJobStage(observability.StageLaunch, time.Since(launchStart))
	j.setState(stateRunning)
	close(j.launched)
	s.events.publish(Event{Kind: EventStarted, Audio: j.req.WantsAudio, At: time.Now()})
	s.log.Debug("speech process started", "job_id", j.id, "pid", proc.Pid(), "args", policy.RedactArgs(args))

	stopWatch := context.AfterFunc(j.ctx, proc.Terminate)
	synthStart := time.Now()
	exit := proc.Wait()
	terminated := !stopWatch()
	s.metrics.ObserveJobStage(observability.StageSynthesis, time.Since(synthStart))

	// Once Terminate fired, a clean exit (e.g. a SIGTERM handler that flushes
	// output) still counts as interrupted.
	if terminated {
		return s.interrupted(j)
	}
	if !exit.Success() {
		detail := s.scrub(exit.Detail(), j.req, textPath, audioPath)
		return errorResult(fmt.Errorf("%w: %s", ErrProcessExit, detail))
	}
	if !j.req.WantsAudio {
		return Result{Outcome: OutcomeStarted}
	}

	data, err := s.store.Read(audioPath)
	switch {
	case errors.Is(err, fs.ErrNotExist), err == nil && len(data) == 0:
		return errorResult(ErrMissingOutput)
	case err != nil:
		s.log.Error("read audio artifact", "job_id", j.id, "error", err)
		return errorResult(fmt.Errorf("%w: could not read audio output", artifact.ErrIO))
	}
	return Result{Outcome: OutcomeAudio, Audio: data}
}

// interrupted maps the job's cancellation cause onto a result.
func (s *Supervisor) interrupted(j *job) Result {
	cause := context.Cause(j.ctx)
	switch {
	case errors.Is(cause, ErrTimeout):
		return errorResult(ErrTimeout)
	case errors.Is(cause, ErrStopped):
		return Result{Outcome: OutcomeStopped, Err: cause}
	default:
		return Result{Outcome: OutcomeStopped, Err: fmt.Errorf("%w: %w", ErrStopped, cause)}
	}
}

func (s *Supervisor) buildArgs(req Request, textPath, audioPath string) []string {
	args := slices.Clone(s.cfg.PrefixArgs)
	args = append(args, "--mode", s.cfg.ModeValue, "--speak", textPath)
	if audioPath != "" {
		args = append(args, "--output", audioPath)
	}
	if voice := s.voiceFor(req); voice != "" {
		args = append(args, "--voice", voice)
	}
	if key := s.apiKeyFor(req); key != "" {
		args = append(args, "--api-key", key)
	}
	return args
}

// scrub strips artifact paths and the API key from process output before it
// reaches a client.
func (s *Supervisor) scrub(detail string, req Request, paths ...string) string {
	for _, p := range paths {
		if p != "" {
			detail = strings.ReplaceAll(detail, p, "<artifact>")
		}
	}
	detail = strings.ReplaceAll(detail, s.store.Dir(), "<artifacts>")
	detail = policy.ScrubSecret(detail, s.apiKeyFor(req))
	if len(detail) > maxDetailBytes {
		detail = "…" + strings.ToValidUTF8(detail[len(detail)-maxDetailBytes:], "")
	}
	return detail
}
