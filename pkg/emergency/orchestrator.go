// Package emergency orchestrates the multi-action response to a confirmed
// or manually raised threat.
package emergency

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"aegis-server/pkg/actuator"
	"aegis-server/pkg/alerting"
	"aegis-server/pkg/audit"
	"aegis-server/pkg/detection"
	"aegis-server/pkg/evidence"
	"aegis-server/pkg/metrics"
	"aegis-server/pkg/state"
	"aegis-server/pkg/util"
)

// Config holds response parameters.
type Config struct {
	// ActionTimeout bounds each network-facing action so a slow
	// collaborator cannot stall the overall respond signal.
	ActionTimeout time.Duration

	// Strobe pattern: total duration and duty cycle (on/off period).
	StrobeDuration time.Duration
	StrobeDuty     time.Duration

	EmergencyNumber string
	Contacts        []string
	MessageTemplate string
}

// DefaultConfig returns the shipped response parameters: a 30 second
// strobe at 250 ms duty and 10 second action timeouts.
func DefaultConfig() Config {
	return Config{
		ActionTimeout:   10 * time.Second,
		StrobeDuration:  30 * time.Second,
		StrobeDuty:      250 * time.Millisecond,
		EmergencyNumber: "112",
		MessageTemplate: "EMERGENCY: threat detected (%s), please check on me immediately.",
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = d.ActionTimeout
	}
	if c.StrobeDuration <= 0 {
		c.StrobeDuration = d.StrobeDuration
	}
	if c.StrobeDuty <= 0 {
		c.StrobeDuty = d.StrobeDuty
	}
	if c.EmergencyNumber == "" {
		c.EmergencyNumber = d.EmergencyNumber
	}
	if c.MessageTemplate == "" {
		c.MessageTemplate = d.MessageTemplate
	}
	return c
}

// Orchestrator runs the emergency state machine: Idle -> Activating ->
// Active, with explicit cancellation as the only path back to Idle. The
// automatic detection path and the manual panic path share one activation
// routine, so both triggers are indistinguishable downstream.
type Orchestrator struct {
	logger    *logrus.Logger
	panics    *util.PanicHandler
	auditor   audit.Client
	peers     alerting.PeerAlerter
	notifier  alerting.Notifier
	actuators actuator.Client
	recorder  *evidence.Recorder
	locator   alerting.LocationProvider
	states    *state.Container

	// releaseLatch re-arms the monitoring loop on cancel.
	releaseLatch func()

	cfg Config

	// active is the atomic episode guard; checked-and-set before any side
	// effect runs so concurrent triggers cannot double-activate.
	active atomic.Bool

	mu      sync.Mutex
	episode *Episode
}

// New creates an orchestrator. releaseLatch may be nil when no monitoring
// loop is wired (manual-only installs).
func New(logger *logrus.Logger, auditor audit.Client, peers alerting.PeerAlerter,
	notifier alerting.Notifier, actuators actuator.Client, recorder *evidence.Recorder,
	locator alerting.LocationProvider, states *state.Container, releaseLatch func(),
	cfg Config) *Orchestrator {

	if locator == nil {
		locator = alerting.NoLocation{}
	}
	return &Orchestrator{
		logger:       logger,
		panics:       util.NewPanicHandler(logger),
		auditor:      auditor,
		peers:        peers,
		notifier:     notifier,
		actuators:    actuators,
		recorder:     recorder,
		locator:      locator,
		states:       states,
		releaseLatch: releaseLatch,
		cfg:          cfg.withDefaults(),
	}
}

// TriggerDetected activates an episode from a latched detection. Returns
// the episode id and true, or "" and false when an episode is already
// active; the rejection is an expected race, not an error.
func (o *Orchestrator) TriggerDetected(result detection.Result) (string, bool) {
	return o.activate(result, false)
}

// TriggerManual is the panic-button entry point. It synthesizes a
// maximum-confidence distress result and runs the same activation path as
// automatic detection.
func (o *Orchestrator) TriggerManual() (string, bool) {
	return o.activate(detection.Result{
		IsThreat:   true,
		Category:   detection.CategoryDistressCall,
		Confidence: 1.0,
		Timestamp:  time.Now().UnixMilli(),
	}, true)
}

func (o *Orchestrator) activate(result detection.Result, manual bool) (string, bool) {
	if !o.active.CompareAndSwap(false, true) {
		o.logger.Debug("Episode already active, trigger ignored")
		return "", false
	}

	ep := newEpisode(result, manual)
	o.mu.Lock()
	o.episode = ep
	o.mu.Unlock()

	metrics.RecordEpisode(true)
	o.states.SetEmergency(true, ep.ID)

	o.logger.WithFields(logrus.Fields{
		"episode_id": ep.ID,
		"category":   result.Category.String(),
		"confidence": result.Confidence,
		"manual":     manual,
	}).Warn("Emergency episode activated")

	go o.runActions(ep)
	return ep.ID, true
}

// runActions fans out the six response actions concurrently, each in its
// own failure boundary. No action may block or fail another.
func (o *Orchestrator) runActions(ep *Episode) {
	var wg sync.WaitGroup

	run := func(kind ActionKind, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := o.panics.SafeCall("emergency."+string(kind), fn)
			if err != nil {
				ep.markFailed(kind, err)
				metrics.RecordActionOutcome(string(kind), true)
				o.logger.WithError(err).WithFields(logrus.Fields{
					"episode_id": ep.ID,
					"action":     kind,
				}).Error("Emergency action failed")
				return
			}
			ep.markCompleted(kind)
			metrics.RecordActionOutcome(string(kind), false)
		}()
	}

	run(ActionAudit, func() error { return o.submitAudit(ep) })
	run(ActionPeerAlert, func() error { return o.alertPeers(ep) })
	run(ActionRecord, func() error { return o.startRecording(ep) })
	run(ActionStrobe, func() error { return o.runStrobe(ep) })
	run(ActionNotify, func() error { return o.notifyContacts(ep) })
	run(ActionDial, func() error { return o.dialEmergency() })

	wg.Wait()
	close(ep.done)

	o.states.SetActionOutcomes(ep.Completed(), ep.Failed())
	o.logger.WithFields(logrus.Fields{
		"episode_id": ep.ID,
		"completed":  ep.Completed(),
		"failed":     ep.Failed(),
	}).Info("Emergency response fan-out finished")
}

func (o *Orchestrator) submitAudit(ep *Episode) error {
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.ActionTimeout)
	defer cancel()

	_, err := o.auditor.Submit(ctx, "episode_activated", map[string]interface{}{
		"episode_id": ep.ID,
		"category":   ep.Trigger.Category.String(),
		"confidence": ep.Trigger.Confidence,
		"manual":     ep.Manual,
	}, true)
	return err
}

func (o *Orchestrator) alertPeers(ep *Episode) error {
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.ActionTimeout)
	defer cancel()

	count, err := o.peers.AlertNearby(ctx, ep.ID)
	if err != nil {
		return err
	}
	o.states.SetAlertsSent(count)
	return nil
}

func (o *Orchestrator) startRecording(ep *Episode) error {
	if ep.Cancelled() {
		return nil
	}
	_, err := o.recorder.Start(ep.ID)
	return err
}

func (o *Orchestrator) runStrobe(ep *Episode) error {
	if ep.Cancelled() {
		return nil
	}
	return o.actuators.Strobe(context.Background(), o.cfg.StrobeDuration, o.cfg.StrobeDuty)
}

func (o *Orchestrator) notifyContacts(ep *Episode) error {
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.ActionTimeout)
	defer cancel()

	var location *alerting.Location
	if loc, ok := o.locator.Locate(ctx); ok {
		location = &loc
	}

	message := fmt.Sprintf(o.cfg.MessageTemplate, ep.Trigger.Category.String())
	if !o.notifier.Notify(ctx, o.cfg.Contacts, message, location) {
		return fmt.Errorf("notification delivery incomplete")
	}
	return nil
}

func (o *Orchestrator) dialEmergency() error {
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.ActionTimeout)
	defer cancel()
	return o.actuators.Dial(ctx, o.cfg.EmergencyNumber)
}

// Active reports whether an episode is in progress.
func (o *Orchestrator) Active() bool {
	return o.active.Load()
}

// Episode returns the current episode, or nil when idle.
func (o *Orchestrator) Episode() *Episode {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.episode
}

// Cancel is the explicit "I'm safe now" path and the only way back to
// Idle. It stops the evidence recording and the strobe, waits for
// in-flight actions (bounded, then abandons them), clears the monitoring
// latch, and resets the episode guard. Already-sent alerts and audit
// entries are fire-once and are not retracted.
func (o *Orchestrator) Cancel() bool {
	o.mu.Lock()
	ep := o.episode
	o.mu.Unlock()

	if !o.active.Load() || ep == nil {
		return false
	}

	// Mark first: record and strobe actions that have not started yet
	// must see the cancellation instead of racing the stops below.
	ep.markCancelled()

	o.actuators.StopStrobe()
	if err := o.recorder.Stop(); err != nil {
		o.logger.WithError(err).Warn("Failed to stop evidence recording on cancel")
	}

	select {
	case <-ep.Done():
	case <-time.After(o.cfg.ActionTimeout):
		o.logger.WithField("episode_id", ep.ID).
			Warn("Abandoning in-flight emergency actions on cancel")
	}

	// An action that started before the cancelled mark landed may have
	// restarted the recording or strobe; stop again now that the fan-out
	// has settled.
	o.actuators.StopStrobe()
	if err := o.recorder.Stop(); err != nil {
		o.logger.WithError(err).Warn("Failed to stop evidence recording on cancel")
	}

	if o.releaseLatch != nil {
		o.releaseLatch()
	}

	o.mu.Lock()
	o.episode = nil
	o.mu.Unlock()

	metrics.RecordEpisode(false)
	o.states.SetEmergency(false, "")
	o.active.Store(false)

	o.logger.WithField("episode_id", ep.ID).Info("Emergency episode cancelled")
	return true
}
