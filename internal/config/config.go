package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	SpeakModePlay  = "play"
	SpeakModeAudio = "audio"
)

// Config contains all runtime settings for the speech bridge.
type Config struct {
	BindAddr         string        `env:"APP_BIND_ADDR" envDefault:"127.0.0.1:5000"`
	ShutdownTimeout  time.Duration `env:"APP_SHUTDOWN_TIMEOUT" envDefault:"15s"`
	MetricsNamespace string        `env:"APP_METRICS_NAMESPACE" envDefault:"voxbridge"`
	// AllowAnyOrigin relaxes the same-origin check on the events websocket.
	AllowAnyOrigin bool     `env:"APP_ALLOW_ANY_ORIGIN" envDefault:"false"`
	CORSOrigins    []string `env:"APP_CORS_ORIGINS" envDefault:"*"`
	// SpeakMode is the /speak response shape when the request does not choose.
	SpeakMode string `env:"APP_SPEAK_MODE" envDefault:"play"`
	LogLevel  string `env:"APP_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"APP_LOG_FORMAT" envDefault:"text"`

	SpeechExecutable     string        `env:"SPEECH_EXECUTABLE" envDefault:"python3"`
	SpeechExecutableArgs []string      `env:"SPEECH_EXECUTABLE_ARGS" envDefault:"screens/av.py"`
	SpeechModeFlagValue  string        `env:"SPEECH_MODE_FLAG_VALUE" envDefault:"none"`
	SpeechDefaultVoice   string        `env:"SPEECH_DEFAULT_VOICE"`
	SpeechAPIKey         string        `env:"SPEECH_API_KEY"`
	SpeechJobTimeout     time.Duration `env:"SPEECH_JOB_TIMEOUT" envDefault:"2m"`
	SpeechTerminateGrace time.Duration `env:"SPEECH_TERMINATE_GRACE" envDefault:"500ms"`

	ArtifactDir     string        `env:"SPEECH_ARTIFACT_DIR"`
	ArtifactMaxAge  time.Duration `env:"SPEECH_ARTIFACT_MAX_AGE" envDefault:"10m"`
	JanitorInterval time.Duration `env:"SPEECH_JANITOR_INTERVAL" envDefault:"1m"`
}

// Load reads an optional env file, then the environment, and validates the
// result. Variables already set in the environment win over the file.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadEnvFile() error {
	path, explicit := os.LookupEnv("APP_ENV_FILE")
	path = strings.TrimSpace(path)
	if path == "" {
		path, explicit = ".env", false
	}
	err := godotenv.Load(path)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrNotExist) && !explicit:
		return nil
	default:
		return fmt.Errorf("APP_ENV_FILE %s: %w", path, err)
	}
}

func (c *Config) normalize() {
	c.SpeakMode = strings.ToLower(strings.TrimSpace(c.SpeakMode))
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	c.SpeechExecutable = strings.TrimSpace(c.SpeechExecutable)
	c.SpeechDefaultVoice = strings.TrimSpace(c.SpeechDefaultVoice)
	c.SpeechAPIKey = strings.TrimSpace(c.SpeechAPIKey)
	c.ArtifactDir = strings.TrimSpace(c.ArtifactDir)
	c.SpeechExecutableArgs = compact(c.SpeechExecutableArgs)
	c.CORSOrigins = compact(c.CORSOrigins)
}

func (c Config) Validate() error {
	switch {
	case c.SpeechExecutable == "":
		return fmt.Errorf("SPEECH_EXECUTABLE must not be empty")
	case c.SpeakMode != SpeakModePlay && c.SpeakMode != SpeakModeAudio:
		return fmt.Errorf("APP_SPEAK_MODE must be %q or %q, got %q", SpeakModePlay, SpeakModeAudio, c.SpeakMode)
	case c.LogFormat != "text" && c.LogFormat != "json":
		return fmt.Errorf("APP_LOG_FORMAT must be text or json, got %q", c.LogFormat)
	case c.ShutdownTimeout <= 0:
		return fmt.Errorf("APP_SHUTDOWN_TIMEOUT must be positive")
	case c.SpeechJobTimeout <= 0:
		return fmt.Errorf("SPEECH_JOB_TIMEOUT must be positive")
	case c.SpeechTerminateGrace < 50*time.Millisecond || c.SpeechTerminateGrace > 10*time.Second:
		return fmt.Errorf("SPEECH_TERMINATE_GRACE must be between 50ms and 10s")
	case c.JanitorInterval <= 0:
		return fmt.Errorf("SPEECH_JANITOR_INTERVAL must be positive")
	case c.ArtifactMaxAge <= c.SpeechJobTimeout:
		return fmt.Errorf("SPEECH_ARTIFACT_MAX_AGE (%s) must exceed SPEECH_JOB_TIMEOUT (%s)", c.ArtifactMaxAge, c.SpeechJobTimeout)
	}
	return nil
}

func compact(in []string) []string {
	out := in[:0]
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
