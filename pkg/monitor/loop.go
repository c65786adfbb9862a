// Package monitor runs the ambient monitoring session: periodic threat
// checks over the audio source plus a faster level meter for UI feedback.
package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"aegis-server/pkg/audio"
	"aegis-server/pkg/detection"
	"aegis-server/pkg/metrics"
	"aegis-server/pkg/state"
	"aegis-server/pkg/util"
)

// Status is the session lifecycle state.
type Status int32

const (
	StatusStopped Status = iota
	StatusStarting
	StatusActive
)

// Tap receives a copy of every captured window. The evidence recorder
// implements it; while no recording is active the tap is a no-op.
type Tap interface {
	Append(pcm []byte)
}

// Config holds loop timing. The two intervals are independent: the level
// task never blocks on the threat task and never escalates by itself.
type Config struct {
	Format         audio.Format
	WindowMs       int
	ThreatInterval time.Duration
	LevelInterval  time.Duration
	FailureBackoff time.Duration
}

// DefaultConfig returns the shipped cadence.
func DefaultConfig() Config {
	return Config{
		Format:         audio.DefaultFormat(),
		WindowMs:       100,
		ThreatInterval: 100 * time.Millisecond,
		LevelInterval:  50 * time.Millisecond,
		FailureBackoff: time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Format.SampleRate == 0 {
		c.Format = d.Format
	}
	if c.WindowMs <= 0 {
		c.WindowMs = d.WindowMs
	}
	if c.ThreatInterval <= 0 {
		c.ThreatInterval = d.ThreatInterval
	}
	if c.LevelInterval <= 0 {
		c.LevelInterval = d.LevelInterval
	}
	if c.FailureBackoff <= 0 {
		c.FailureBackoff = d.FailureBackoff
	}
	return c
}

// Loop owns the audio source for the lifetime of a session and drives the
// classification pipeline. On the first positive detection it latches and
// invokes the trigger exactly once; later positives are counted but
// suppressed until the latch is cleared.
type Loop struct {
	logger     *logrus.Logger
	panics     *util.PanicHandler
	source     audio.Source
	classifier *detection.Classifier
	policy     *detection.Policy
	states     *state.Container
	trigger    func(detection.Result)
	tap        Tap
	cfg        Config

	status     atomic.Int32
	latched    atomic.Bool
	suppressed atomic.Int64

	// window is the threat task's last captured buffer; the level task
	// derives its meter from this shared cursor instead of performing a
	// second device read.
	windowMu sync.RWMutex
	window   []byte

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a monitoring loop. trigger is invoked at most once per
// session (until ClearLatch); tap may be nil.
func New(logger *logrus.Logger, source audio.Source, classifier *detection.Classifier,
	policy *detection.Policy, states *state.Container, trigger func(detection.Result),
	tap Tap, cfg Config) *Loop {

	return &Loop{
		logger:     logger,
		panics:     util.NewPanicHandler(logger),
		source:     source,
		classifier: classifier,
		policy:     policy,
		states:     states,
		trigger:    trigger,
		tap:        tap,
		cfg:        cfg.withDefaults(),
	}
}

// Start acquires the audio source and begins both periodic tasks. Returns
// false when a session is already running or the device is unavailable;
// both are expected races, not errors.
func (l *Loop) Start() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.status.CompareAndSwap(int32(StatusStopped), int32(StatusStarting)) {
		l.logger.Debug("Monitoring session already active, start rejected")
		return false
	}

	if !l.source.Start(l.cfg.Format) {
		l.status.Store(int32(StatusStopped))
		l.logger.Warn("Audio source unavailable, monitoring not started")
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.status.Store(int32(StatusActive))

	l.wg.Add(2)
	go func() {
		defer l.wg.Done()
		defer l.panics.Recover("monitor.threat-task")
		l.threatTask(ctx)
	}()
	go func() {
		defer l.wg.Done()
		defer l.panics.Recover("monitor.level-task")
		l.levelTask(ctx)
	}()

	l.states.SetMonitoring(true)
	l.logger.WithFields(logrus.Fields{
		"threat_interval": l.cfg.ThreatInterval,
		"level_interval":  l.cfg.LevelInterval,
	}).Info("Ambient monitoring started")
	return true
}

// Stop cancels both tasks, releases the audio source and clears the
// latch. Latch readiness is session-scoped. Idempotent.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if Status(l.status.Load()) == StatusStopped {
		return
	}

	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	l.wg.Wait()

	l.source.Stop()
	l.status.Store(int32(StatusStopped))
	l.latched.Store(false)
	l.suppressed.Store(0)

	l.windowMu.Lock()
	l.window = nil
	l.windowMu.Unlock()

	l.states.SetMonitoring(false)
	l.logger.Info("Ambient monitoring stopped")
}

// Status returns the session lifecycle state.
func (l *Loop) Status() Status {
	return Status(l.status.Load())
}

// Latched reports whether a threat has already been surfaced this session.
func (l *Loop) Latched() bool {
	return l.latched.Load()
}

// ClearLatch re-arms detection after an episode is cancelled.
func (l *Loop) ClearLatch() {
	l.latched.Store(false)
	l.suppressed.Store(0)
	l.logger.Debug("Detection latch cleared")
}

// SuppressedDetections returns how many positive ticks were absorbed by
// the latch, for telemetry.
func (l *Loop) SuppressedDetections() int64 {
	return l.suppressed.Load()
}

// threatTask runs the classification pipeline at the configured cadence.
// A failed iteration is logged and followed by a fixed backoff; it never
// terminates the loop.
func (l *Loop) threatTask(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.ThreatInterval)
	defer ticker.Stop()

	windowBytes := l.cfg.Format.WindowBytes(l.cfg.WindowMs)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.panics.SafeCall("monitor.threat-check", func() error {
				l.checkOnce(windowBytes)
				return nil
			}); err != nil {
				metrics.RecordIterationError()
				l.logger.WithError(err).Warn("Threat-check iteration failed, backing off")
				select {
				case <-ctx.Done():
					return
				case <-time.After(l.cfg.FailureBackoff):
				}
			}
		}
	}
}

// checkOnce performs one pull-classify-decide iteration.
func (l *Loop) checkOnce(windowBytes int) {
	metrics.RecordMonitorTick()

	buf := make([]byte, windowBytes)
	n := l.source.Read(buf)
	window := buf[:n]

	l.windowMu.Lock()
	l.window = window
	l.windowMu.Unlock()

	if l.tap != nil {
		l.tap.Append(window)
	}

	features := audio.ExtractFeatures(window)
	scores := l.classifier.Classify(features)
	result := l.policy.Decide(scores, features[0], time.Now().UnixMilli())

	l.states.SetDetection(result)

	if !result.IsThreat {
		return
	}

	metrics.RecordDetection(result.Category.String())

	if l.latched.CompareAndSwap(false, true) {
		l.logger.WithFields(logrus.Fields{
			"category":   result.Category.String(),
			"confidence": result.Confidence,
		}).Warn("Threat detected, escalating")
		if l.trigger != nil {
			l.trigger(result)
		}
	} else {
		l.suppressed.Add(1)
	}
}

// levelTask feeds the UI level meter from the shared window buffer.
func (l *Loop) levelTask(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.LevelInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.windowMu.RLock()
			window := l.window
			l.windowMu.RUnlock()

			rms := audio.RMS(window)
			l.states.SetLevel(rms)
			metrics.SetAudioLevel(float64(rms))
		}
	}
}
