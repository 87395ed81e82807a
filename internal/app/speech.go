package app

import (
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/ent0n29/voxbridge/internal/artifact"
	"github.com/ent0n29/voxbridge/internal/config"
	"github.com/ent0n29/voxbridge/internal/speech"
)

type speechSetup struct {
	supervisor  speech.Config
	artifactDir string
	// resolved is the executable path found on PATH, empty when lookup failed.
	resolved string
	detail   string
}

func resolveSpeechSetup(cfg config.Config) speechSetup {
	dir := cfg.ArtifactDir
	if dir == "" {
		dir = artifact.DefaultDir()
	}
	setup := speechSetup{
		supervisor: speech.Config{
			Executable:     cfg.SpeechExecutable,
			PrefixArgs:     cfg.SpeechExecutableArgs,
			ModeValue:      cfg.SpeechModeFlagValue,
			DefaultVoice:   cfg.SpeechDefaultVoice,
			DefaultAPIKey:  cfg.SpeechAPIKey,
			JobTimeout:     cfg.SpeechJobTimeout,
			TerminateGrace: cfg.SpeechTerminateGrace,
		},
		artifactDir: dir,
	}

	// A missing executable is not fatal: it surfaces as a launch error per job.
	if path, err := exec.LookPath(cfg.SpeechExecutable); err == nil {
		setup.resolved = path
	}
	cmdline := append([]string{filepath.Base(cfg.SpeechExecutable)}, cfg.SpeechExecutableArgs...)
	setup.detail = strings.Join(cmdline, " ")
	if setup.resolved == "" {
		setup.detail += " (not found on PATH)"
	}
	return setup
}
