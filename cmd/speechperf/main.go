package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/voxbridge/internal/audio"
	"github.com/ent0n29/voxbridge/internal/protocol"
	"github.com/ent0n29/voxbridge/internal/reliability"
)

type options struct {
	baseURL    string
	voiceName  string
	count      int
	audio      bool
	interval   time.Duration
	jobTimeout time.Duration
	texts      []string
	verbose    bool
}

type speakRequest struct {
	Text        string `json:"text"`
	VoiceName   string `json:"voiceName,omitempty"`
	ReturnAudio bool   `json:"returnAudio"`
}

// sample is one replayed request. respond is the time to the HTTP response;
// total is the time until the terminal event arrived.
type sample struct {
	text    string
	respond time.Duration
	total   time.Duration
	outcome string
	format  string
}

type summary struct {
	count int
	p50   time.Duration
	p95   time.Duration
	max   time.Duration
}

var startupRetry = reliability.Policy{Attempts: 6, Base: 250 * time.Millisecond, Cap: 2 * time.Second}

var defaultTexts = []string{
	"Good morning.",
	"The build finished without errors.",
	"Three new messages are waiting for you.",
	"Reminder: stand-up starts in five minutes.",
}

func main() {
	cfg, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "speechperf: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "speechperf: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(fs *flag.FlagSet, args []string) (options, error) {
	var cfg options
	var textsRaw string

	fs.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:5000", "voxbridge base URL")
	fs.StringVar(&cfg.voiceName, "voice", "", "optional voiceName sent with every request")
	fs.IntVar(&cfg.count, "count", 8, "number of requests to replay")
	fs.BoolVar(&cfg.audio, "audio", false, "request WAV bytes instead of local playback")
	fs.DurationVar(&cfg.interval, "interval", 250*time.Millisecond, "delay between requests")
	fs.DurationVar(&cfg.jobTimeout, "job-timeout", 2*time.Minute, "timeout waiting for each job to finish")
	fs.StringVar(&textsRaw, "texts", "", "utterances separated by '|' (optional)")
	fs.BoolVar(&cfg.verbose, "verbose", true, "print replay progress")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.count <= 0 {
		return options{}, fmt.Errorf("count must be > 0")
	}
	if cfg.interval < 0 {
		cfg.interval = 0
	}
	if cfg.jobTimeout < time.Second {
		cfg.jobTimeout = time.Second
	}
	texts, err := parseTexts(textsRaw)
	if err != nil {
		return options{}, err
	}
	cfg.texts = texts
	return cfg, nil
}

func parseTexts(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return slices.Clone(defaultTexts), nil
	}
	var out []string
	for _, part := range strings.Split(raw, "|") {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("texts produced no non-empty utterances")
	}
	return out, nil
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.count)*(cfg.jobTimeout+cfg.interval))
	defer cancel()

	wsURL, err := eventsURL(cfg.baseURL)
	if err != nil {
		return fmt.Errorf("build ws URL: %w", err)
	}
	// The bridge may still be starting; retry the dial briefly.
	var conn *websocket.Conn
	err = reliability.Do(ctx, startupRetry, func(ctx context.Context) error {
		c, res, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
		if err != nil {
			if res == nil || reliability.IsRetryableHTTPStatus(res.StatusCode) {
				return reliability.Retryable(err)
			}
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	terminal := make(chan protocol.SpeechEvent, 32)
	readErr := make(chan error, 1)
	go readLoop(conn, terminal, readErr, cfg.verbose)

	client := &http.Client{Timeout: cfg.jobTimeout + 5*time.Second}
	samples := make([]sample, 0, cfg.count)
	for i := 0; i < cfg.count; i++ {
		text := cfg.texts[i%len(cfg.texts)]
		s, err := replayOne(ctx, client, cfg, text, terminal, readErr)
		if err != nil {
			return fmt.Errorf("request %d: %w", i+1, err)
		}
		samples = append(samples, s)
		if cfg.verbose {
			fmt.Printf("speechperf: %d/%d outcome=%s respond=%s total=%s %s\n",
				i+1, cfg.count, s.outcome, s.respond.Round(time.Millisecond), s.total.Round(time.Millisecond), s.format)
		}
		if cfg.interval > 0 && i < cfg.count-1 {
			time.Sleep(cfg.interval)
		}
	}

	respond := make([]time.Duration, 0, len(samples))
	total := make([]time.Duration, 0, len(samples))
	for _, s := range samples {
		respond = append(respond, s.respond)
		total = append(total, s.total)
	}
	r, t := summarize(respond), summarize(total)
	fmt.Printf("speechperf: respond p50=%s p95=%s max=%s\n", r.p50, r.p95, r.max)
	fmt.Printf("speechperf: total   p50=%s p95=%s max=%s (n=%d)\n", t.p50, t.p95, t.max, t.count)
	return nil
}

func replayOne(ctx context.Context, client *http.Client, cfg options, text string, terminal <-chan protocol.SpeechEvent, readErr <-chan error) (sample, error) {
	// Drop terminal events left over from a previous job.
	for len(terminal) > 0 {
		<-terminal
	}

	payload, err := json.Marshal(speakRequest{Text: text, VoiceName: cfg.voiceName, ReturnAudio: cfg.audio})
	if err != nil {
		return sample{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.baseURL+"/speak", bytes.NewReader(payload))
	if err != nil {
		return sample{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	res, body, err := do(client, req)
	if err != nil {
		return sample{}, err
	}
	out := sample{text: text, respond: time.Since(start)}
	if res.StatusCode != http.StatusOK {
		return sample{}, fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	if strings.HasPrefix(res.Header.Get("Content-Type"), "audio/") {
		f, err := audio.ParseWAV(body)
		if err != nil {
			return sample{}, fmt.Errorf("decode response wav: %w", err)
		}
		out.format = fmt.Sprintf("%s %dms", f.Label(), f.DurationMS())
	}

	evt, err := awaitTerminal(terminal, readErr, cfg.jobTimeout)
	if err != nil {
		return sample{}, fmt.Errorf("await terminal event: %w", err)
	}
	out.total = time.Since(start)
	out.outcome = evt.Kind
	return out, nil
}

func do(client *http.Client, req *http.Request) (*http.Response, []byte, error) {
	res, err := client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 64<<20))
	if err != nil {
		return nil, nil, err
	}
	return res, body, nil
}

func eventsURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/speech/events"
	return u.String(), nil
}

func isTerminal(kind string) bool {
	switch kind {
	case "completed", "failed", "stopped":
		return true
	}
	return false
}

func readLoop(conn *websocket.Conn, terminal chan<- protocol.SpeechEvent, readErr chan<- error, verbose bool) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case readErr <- err:
			default:
			}
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		switch env.Type {
		case protocol.TypeSpeechEvent:
			var evt protocol.SpeechEvent
			if err := json.Unmarshal(data, &evt); err != nil || !isTerminal(evt.Kind) {
				continue
			}
			select {
			case terminal <- evt:
			default:
			}
		case protocol.TypeErrorEvent:
			if verbose {
				var evt protocol.ErrorEvent
				_ = json.Unmarshal(data, &evt)
				fmt.Fprintf(os.Stderr, "speechperf: error_event code=%s detail=%s\n", evt.Code, evt.Detail)
			}
		}
	}
}

var errTimeout = errors.New("timeout")

func awaitTerminal(terminal <-chan protocol.SpeechEvent, readErr <-chan error, timeout time.Duration) (protocol.SpeechEvent, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case evt := <-terminal:
		return evt, nil
	case err := <-readErr:
		return protocol.SpeechEvent{}, err
	case <-timer.C:
		return protocol.SpeechEvent{}, fmt.Errorf("%w after %s", errTimeout, timeout)
	}
}

// summarize reports nearest-rank percentiles.
func summarize(values []time.Duration) summary {
	if len(values) == 0 {
		return summary{}
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	rank := func(p float64) time.Duration {
		idx := int(p*float64(len(sorted))+0.999999) - 1
		idx = max(0, min(idx, len(sorted)-1))
		return sorted[idx]
	}
	return summary{
		count: len(sorted),
		p50:   rank(0.50),
		p95:   rank(0.95),
		max:   sorted[len(sorted)-1],
	}
}
