package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ent0n29/voxbridge/internal/artifact"
	"github.com/ent0n29/voxbridge/internal/config"
	"github.com/ent0n29/voxbridge/internal/httpapi"
	"github.com/ent0n29/voxbridge/internal/observability"
	"github.com/ent0n29/voxbridge/internal/speech"
)

type SpeechInfo struct {
	Command     string
	Resolved    bool
	ArtifactDir string
	DefaultMode string
}

type BuildResult struct {
	Config     config.Config
	API        *httpapi.Server
	Supervisor *speech.Supervisor
	Artifacts  *artifact.Store
	Metrics    *observability.Metrics
	Speech     SpeechInfo

	// Cleanup stops in-flight speech and releases its artifacts.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	setup := resolveSpeechSetup(cfg)

	store, err := artifact.NewStore(setup.artifactDir,
		artifact.WithLogger(logger.With("component", "artifacts")),
		artifact.WithReleaseFailureHook(func(string, error) {
			metrics.ObserveReleaseFailure()
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("artifact store init failed: %w", err)
	}

	supervisor, err := speech.New(setup.supervisor, store,
		speech.WithLogger(logger.With("component", "speech")),
		speech.WithMetrics(metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("speech supervisor init failed: %w", err)
	}

	api := httpapi.New(cfg, supervisor, metrics, logger.With("component", "http"))

	cleanup := func() error {
		supervisor.Close()
		// Only this instance's artifacts; the directory may be shared.
		if left := store.ReleaseAll(); left > 0 {
			return fmt.Errorf("%d artifacts could not be released from %s", left, store.Dir())
		}
		return nil
	}

	return &BuildResult{
		Config:     cfg,
		API:        api,
		Supervisor: supervisor,
		Artifacts:  store,
		Metrics:    metrics,
		Speech: SpeechInfo{
			Command:     setup.detail,
			Resolved:    setup.resolved != "",
			ArtifactDir: store.Dir(),
			DefaultMode: cfg.SpeakMode,
		},
		Cleanup: cleanup,
	}, nil
}
