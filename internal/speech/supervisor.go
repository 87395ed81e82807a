package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ent0n29/voxbridge/internal/artifact"
	"github.com/ent0n29/voxbridge/internal/observability"
	"github.com/ent0n29/voxbridge/internal/policy"
)

const (
	defaultJobTimeout  = 2 * time.Minute
	defaultStopTimeout = 5 * time.Second
	defaultModeValue   = "none"
)

// Config controls how the external executable is invoked.
type Config struct {
	// Executable is run with PrefixArgs before the synthesis flags, e.g.
	// "python3" with ["screens/av.py"].
	Executable     string
	PrefixArgs     []string
	ModeValue      string
	DefaultVoice   string
	DefaultAPIKey  string
	JobTimeout     time.Duration
	TerminateGrace time.Duration
	// StopTimeout bounds how long Stop waits for artifacts to be released.
	StopTimeout time.Duration
}

type Option func(*Supervisor)

func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.log = l
		}
	}
}

func WithMetrics(m *observability.Metrics) Option {
	return func(s *Supervisor) { s.metrics = m }
}

func WithLauncher(l Launcher) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.launcher = l
		}
	}
}

// Supervisor owns at most one outstanding synthesis job. Submitting a new
// request cancels the previous one, and the previous process has exited
// before the next one starts.
type Supervisor struct {
	cfg      Config
	store    *artifact.Store
	launcher Launcher
	log      *slog.Logger
	metrics  *observability.Metrics

	baseCtx context.Context
	cancel  context.CancelCauseFunc

	mu      sync.Mutex
	current *job
	live    map[*job]struct{}
	since   time.Time
	closed  bool

	// exclusive is held from process start until exit and artifact release.
	exclusive chan struct{}
	events    *broker
	wg        sync.WaitGroup
}

func New(cfg Config, store *artifact.Store, opts ...Option) (*Supervisor, error) {
	cfg.Executable = strings.TrimSpace(cfg.Executable)
	if cfg.Executable == "" {
		return nil, errors.New("speech executable is required")
	}
	if store == nil {
		return nil, errors.New("artifact store is required")
	}
	if cfg.ModeValue == "" {
		cfg.ModeValue = defaultModeValue
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = defaultJobTimeout
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}

	baseCtx, cancel := context.WithCancelCause(context.Background())
	s := &Supervisor{
		cfg:       cfg,
		store:     store,
		launcher:  execLauncher{grace: cfg.TerminateGrace},
		log:       slog.Default(),
		baseCtx:   baseCtx,
		cancel:    cancel,
		live:      make(map[*job]struct{}),
		since:     time.Now(),
		exclusive: make(chan struct{}, 1),
		events:    newBroker(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Speak runs req to completion and returns its outcome. If ctx ends first the
// job is stopped and Speak returns once its artifacts are released.
func (s *Supervisor) Speak(ctx context.Context, req Request) Result {
	j, res, ok := s.submit(req)
	if !ok {
		return res
	}
	select {
	case <-j.done:
	case <-ctx.Done():
		j.cancel(errCallerGone)
		<-j.done
	}
	return j.result
}

// Start submits req and returns OutcomeStarted once its process is running,
// or the failure if it never got that far. The job keeps running after Start
// returns; its outcome is published to subscribers. Audio output is never
// requested.
func (s *Supervisor) Start(ctx context.Context, req Request) Result {
	req.WantsAudio = false
	j, res, ok := s.submit(req)
	if !ok {
		return res
	}
	select {
	case <-j.launched:
		return j.startResult()
	case <-j.done:
		return j.result
	case <-ctx.Done():
		return errorResult(ctx.Err())
	}
}

// Stop terminates the running job, if any, and waits for every in-flight job
// to release its artifacts. It is a no-op when idle.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.current != nil {
		s.current = nil
		s.since = time.Now()
	}
	pending := make([]*job, 0, len(s.live))
	for j := range s.live {
		pending = append(pending, j)
	}
	s.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StopTimeout)
	defer cancel()
	for _, j := range pending {
		j.cancel(errStopRequested)
	}
	for _, j := range pending {
		select {
		case <-j.done:
		case <-ctx.Done():
			return fmt.Errorf("wait for speech job to stop: %w", ctx.Err())
		}
	}
	return nil
}

func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{State: StateIdle, Since: s.since}
	if s.current != nil {
		st.State = StateSpeaking
	}
	return st
}

// Subscribe returns a feed of lifecycle events and a function to cancel it.
// Events are dropped for subscribers that fall behind.
func (s *Supervisor) Subscribe() (<-chan Event, func()) {
	return s.events.subscribe()
}

// Close stops the running job, waits for every job goroutine to finish and
// rejects further work with ErrClosed.
func (s *Supervisor) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.current = nil
	s.mu.Unlock()

	s.cancel(errShutdown)
	s.wg.Wait()
	s.events.close()
}

// submit installs a new job in the running slot and cancels the previous
// one. The swap is the only work done under the lock.
func (s *Supervisor) submit(req Request) (*job, Result, bool) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, errorResult(ErrValidation), false
	}
	j := newJob(s.baseCtx, req, s.cfg.JobTimeout)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		j.release()
		return nil, errorResult(ErrClosed), false
	}
	prev := s.current
	s.current = j
	s.since = j.created
	s.live[j] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	if prev != nil {
		prev.cancel(errSuperseded)
		s.metrics.ObserveSupersession()
	}
	s.log.Info("speech job submitted",
		"job_id", j.id,
		"text", policy.PreviewText(req.Text, 48),
		"chars", len(req.Text),
		"wants_audio", req.WantsAudio,
		"voice", s.voiceFor(req),
		"superseded", prev != nil,
	)
	go s.run(j)
	return j, Result{}, true
}

func (s *Supervisor) finish(j *job) {
	j.release()

	s.mu.Lock()
	if s.current == j {
		s.current = nil
		s.since = time.Now()
	}
	delete(s.live, j)
	s.mu.Unlock()

	elapsed := time.Since(j.created)
	j.setState(stateFor(j.result))
	s.metrics.JobFinished()
	s.metrics.ObserveJob(j.result.Outcome.String(), elapsed)
	s.events.publish(eventForResult(j.result, j.req.WantsAudio))

	attrs := []any{
		"job_id", j.id,
		"outcome", j.result.Outcome.String(),
		"duration_ms", elapsed.Milliseconds(),
	}
	if j.result.Err != nil {
		attrs = append(attrs, "error", j.result.Message())
	}
	if j.result.Outcome == OutcomeError {
		s.log.Warn("speech job failed", attrs...)
	} else {
		s.log.Info("speech job finished", attrs...)
	}
	close(j.done)
}

func (s *Supervisor) voiceFor(req Request) string {
	if v := strings.TrimSpace(req.VoiceName); v != "" {
		return v
	}
	return s.cfg.DefaultVoice
}

func (s *Supervisor) apiKeyFor(req Request) string {
	if k := strings.TrimSpace(req.APIKey); k != "" {
		return k
	}
	return s.cfg.DefaultAPIKey
}
