// Package app assembles the guardian daemon: audio capture, the
// detection pipeline, the monitoring loop, the emergency orchestrator
// and the HTTP surface, wired per the loaded configuration.
package app

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"aegis-server/pkg/actuator"
	"aegis-server/pkg/alerting"
	"aegis-server/pkg/audio"
	"aegis-server/pkg/audit"
	"aegis-server/pkg/config"
	"aegis-server/pkg/detection"
	"aegis-server/pkg/emergency"
	"aegis-server/pkg/errors"
	"aegis-server/pkg/evidence"
	httpserver "aegis-server/pkg/http"
	"aegis-server/pkg/metrics"
	"aegis-server/pkg/monitor"
	"aegis-server/pkg/state"
)

// App owns the assembled component graph.
type App struct {
	logger *logrus.Logger
	cfg    *config.Config

	states   *state.Container
	engine   detection.Engine
	spotter  *detection.KeywordSpotter
	source   audio.Source
	recorder *evidence.Recorder
	peers    *alerting.AMQPPeerAlerter
	loop     *monitor.Loop
	orch     *emergency.Orchestrator
	server   *httpserver.Server
}

// New builds the full component graph from the configuration. A missing
// model or broker degrades the relevant capability; a malformed tuning
// file is a hard error since it would silently change detection behavior.
func New(logger *logrus.Logger, cfg *config.Config) (*App, error) {
	metrics.Init(logger)

	a := &App{
		logger: logger,
		cfg:    cfg,
		states: state.NewContainer(),
	}

	tuning, err := detection.LoadTuning(cfg.Detection.TuningPath)
	if err != nil {
		return nil, errors.Wrap(err, "load detection tuning")
	}
	a.spotter = detection.NewKeywordSpotter(tuning.Keywords)

	a.engine = detection.NewDisabledEngine()
	if cfg.Detection.ModelPath != "" {
		engine, err := detection.LoadONNXEngine(cfg.Detection.ModelPath, audio.FeatureLength)
		if err != nil {
			logger.WithError(err).WithField("model", cfg.Detection.ModelPath).
				Warn("Inference model unavailable, falling back to volume-based detection")
		} else {
			a.engine = engine
			logger.WithField("model", cfg.Detection.ModelPath).Info("Threat classification model loaded")
		}
	}
	classifier := detection.NewClassifier(logger, a.engine)
	policy := detection.NewPolicy(tuning.Thresholds)

	switch cfg.Audio.Backend {
	case "pulse":
		a.source = audio.NewPulseSource(logger, cfg.Audio.Device)
	default:
		// Capture disabled: monitoring sessions run against an empty
		// source and only manual and keyword triggers escalate.
		a.source = audio.NewMemorySource()
		logger.Info("Live audio capture disabled")
	}

	format := audio.Format{
		SampleRate: cfg.Audio.SampleRate,
		Channels:   cfg.Audio.Channels,
		BitDepth:   16,
	}
	a.recorder = evidence.NewRecorder(logger, cfg.Recording.Dir, cfg.Recording.MaxDuration, format)

	var ledger audit.LedgerWriter
	if cfg.Audit.LedgerPath != "" {
		ledger = audit.NewFileLedger(cfg.Audit.LedgerPath)
	}
	auditor := audit.NewLogClient(logger, ledger, cfg.Audit.Timeout)

	a.peers = alerting.NewAMQPPeerAlerter(logger, alerting.AMQPConfig{
		URL:      cfg.Messaging.AMQPUrl,
		Exchange: cfg.Messaging.Exchange,
		PeerKeys: cfg.Messaging.PeerKeys,
	})

	notifier := alerting.NewWebhookNotifier(logger, cfg.Notification.GatewayURL, cfg.Notification.Timeout)
	actuators := actuator.NewController(logger, &actuator.LogDevice{Logger: logger}, cfg.Emergency.ActionTimeout)

	var locator alerting.LocationProvider = alerting.NoLocation{}
	if cfg.Location.Enabled {
		locator = alerting.StaticLocation{
			Position: alerting.Location{Lat: cfg.Location.Lat, Lon: cfg.Location.Lon},
		}
	}

	a.orch = emergency.New(logger, auditor, a.peers, notifier, actuators,
		a.recorder, locator, a.states,
		func() {
			if a.loop != nil {
				a.loop.ClearLatch()
			}
		},
		emergency.Config{
			ActionTimeout:   cfg.Emergency.ActionTimeout,
			StrobeDuration:  cfg.Emergency.StrobeDuration,
			StrobeDuty:      cfg.Emergency.StrobeDuty,
			EmergencyNumber: cfg.Emergency.Number,
			Contacts:        cfg.Emergency.Contacts,
			MessageTemplate: cfg.Emergency.MessageTemplate,
		})

	a.loop = monitor.New(logger, a.source, classifier, policy, a.states,
		func(result detection.Result) {
			a.orch.TriggerDetected(result)
		},
		a.recorder,
		monitor.Config{
			Format:         format,
			WindowMs:       cfg.Monitoring.WindowMs,
			ThreatInterval: cfg.Monitoring.ThreatInterval,
			LevelInterval:  cfg.Monitoring.LevelInterval,
			FailureBackoff: cfg.Monitoring.FailureBackoff,
		})

	if cfg.HTTP.Enabled {
		a.server = httpserver.NewServer(logger, cfg.HTTP, a.states, a.loop, a.orch, a)
	}

	return a, nil
}

// AnalyzeTranscript runs the keyword spotter over transcribed speech and
// escalates on a match. Keyword detection is OR'd with the audio
// pipeline; both converge on the same episode guard.
func (a *App) AnalyzeTranscript(text string) (string, bool) {
	result := a.spotter.Spot(text)
	if !result.IsThreat {
		return "", false
	}

	metrics.RecordDetection(result.Category.String())
	a.states.SetDetection(result)
	a.logger.Warn("Emergency keyword detected in transcript")
	return a.orch.TriggerDetected(result)
}

// States exposes the observable state container.
func (a *App) States() *state.Container {
	return a.states
}

// Monitor exposes the monitoring loop.
func (a *App) Monitor() *monitor.Loop {
	return a.loop
}

// Orchestrator exposes the emergency orchestrator.
func (a *App) Orchestrator() *emergency.Orchestrator {
	return a.orch
}

// Run starts the daemon and blocks until ctx is cancelled, then shuts
// everything down in dependency order.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.Messaging.AMQPUrl != "" {
		if err := a.peers.Connect(); err != nil {
			// Peer alerting degrades instead of blocking startup; the
			// episode fan-out reports the failed action.
			a.logger.WithError(err).Warn("Peer alert broker unavailable")
		}
	}

	if a.server != nil {
		a.server.Start(ctx)
	}

	if a.cfg.Monitoring.AutoStart {
		if !a.loop.Start() {
			a.logger.Warn("Automatic monitoring start failed, waiting for manual start")
		}
	}

	g.Go(func() error {
		<-ctx.Done()
		a.shutdown()
		return nil
	})

	a.logger.WithField("http_enabled", a.cfg.HTTP.Enabled).Info("Guardian daemon running")
	return g.Wait()
}

// shutdown releases everything in dependency order: sources first, the
// HTTP surface last so status stays observable during teardown.
func (a *App) shutdown() {
	a.logger.Info("Shutting down guardian daemon")

	a.loop.Stop()

	if err := a.recorder.Stop(); err != nil {
		a.logger.WithError(err).Warn("Failed to finalize evidence recording on shutdown")
	}

	if a.orch.Active() {
		// Shutdown is not an "I'm safe" signal, but actuators must not
		// outlive the process.
		a.logger.Warn("Shutting down with an active emergency episode")
		a.orch.Cancel()
	}

	a.peers.Disconnect()

	if err := a.engine.Close(); err != nil {
		a.logger.WithError(err).Warn("Failed to release inference engine")
	}

	if a.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.logger.WithError(err).Warn("HTTP server shutdown incomplete")
		}
	}
}
