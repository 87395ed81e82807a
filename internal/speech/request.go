package speech

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrValidation    = errors.New("no text provided")
	ErrProcessExit   = errors.New("speech process failed")
	ErrMissingOutput = errors.New("speech process produced no audio")
	ErrStopped       = errors.New("speech stopped")
	ErrTimeout       = errors.New("timeout")
	ErrClosed        = errors.New("speech supervisor closed")

	errSuperseded    = fmt.Errorf("%w: superseded by a newer request", ErrStopped)
	errStopRequested = fmt.Errorf("%w: stop requested", ErrStopped)
	errCallerGone    = fmt.Errorf("%w: caller went away", ErrStopped)
	errShutdown      = fmt.Errorf("%w: %w", ErrStopped, ErrClosed)
)

// Request is one utterance to synthesize. APIKey is a secret and is never
// logged.
type Request struct {
	Text       string
	VoiceName  string
	APIKey     string
	WantsAudio bool
}

type Outcome int

const (
	OutcomeError Outcome = iota
	OutcomeStarted
	OutcomeAudio
	OutcomeStopped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeStarted:
		return "started"
	case OutcomeAudio:
		return "audio"
	case OutcomeStopped:
		return "stopped"
	default:
		return "error"
	}
}

// Result is the terminal outcome of a job. Audio is set only for OutcomeAudio;
// Err is set for OutcomeError and carries the stop reason for OutcomeStopped.
type Result struct {
	Outcome Outcome
	Audio   []byte
	Err     error
}

// Message is safe to return to clients: it never contains artifact paths or
// the API key.
func (r Result) Message() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

func errorResult(err error) Result {
	return Result{Outcome: OutcomeError, Err: err}
}

// Status reports whether a job currently holds the running slot.
type Status struct {
	State string    `json:"state"`
	Since time.Time `json:"since"`
}

const (
	StateIdle     = "idle"
	StateSpeaking = "speaking"
)
