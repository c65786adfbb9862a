// Package actuator drives physical device capabilities used during an
// emergency: the camera torch strobe and the telephony dialer.
package actuator

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"aegis-server/pkg/errors"
)

// Device is the hardware boundary. Implementations wrap platform APIs;
// the LogDevice stands in when no hardware is present so actuator calls
// stay best-effort instead of failing the episode.
type Device interface {
	// SetTorch switches the camera torch on or off.
	SetTorch(on bool) error

	// Dial places a call to the given number.
	Dial(number string) error
}

// LogDevice records actuator commands in the log without hardware.
type LogDevice struct {
	Logger *logrus.Logger
}

// SetTorch implements Device.
func (d *LogDevice) SetTorch(on bool) error {
	d.Logger.WithField("torch", on).Debug("Torch state change")
	return nil
}

// Dial implements Device.
func (d *LogDevice) Dial(number string) error {
	d.Logger.WithField("number", number).Info("Dial requested")
	return nil
}

// Client is the orchestrator-facing actuator contract.
type Client interface {
	// Strobe runs the visual signal pattern for the full duration unless
	// StopStrobe is called. Blocks until the pattern ends.
	Strobe(ctx context.Context, duration, dutyCycle time.Duration) error

	// StopStrobe halts a running pattern and turns the torch off.
	StopStrobe()

	// Dial initiates an emergency call, guarded by a timeout since
	// platform telephony calls can hang.
	Dial(ctx context.Context, number string) error
}

// Controller drives a Device with the strobe pattern and dial guard.
type Controller struct {
	logger      *logrus.Logger
	device      Device
	dialTimeout time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewController creates an actuator controller.
func NewController(logger *logrus.Logger, device Device, dialTimeout time.Duration) *Controller {
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	return &Controller{
		logger:      logger,
		device:      device,
		dialTimeout: dialTimeout,
	}
}

// Strobe implements Client: torch on/off at the duty cycle until the
// duration elapses, the context is canceled, or StopStrobe is called.
// Individual torch failures are logged and skipped so a flaky camera does
// not end the signal early.
func (c *Controller) Strobe(ctx context.Context, duration, dutyCycle time.Duration) error {
	if dutyCycle <= 0 {
		dutyCycle = 250 * time.Millisecond
	}
	if duration <= 0 {
		duration = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	if c.cancel != nil {
		// A pattern is already running; a second strobe joins it rather
		// than fighting over the torch.
		c.mu.Unlock()
		cancel()
		return nil
	}
	c.cancel = cancel
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.cancel = nil
		c.mu.Unlock()
		cancel()
		if err := c.device.SetTorch(false); err != nil {
			c.logger.WithError(err).Debug("Failed to turn torch off after strobe")
		}
	}()

	deadline := time.NewTimer(duration)
	defer deadline.Stop()
	ticker := time.NewTicker(dutyCycle)
	defer ticker.Stop()

	on := true
	if err := c.device.SetTorch(true); err != nil {
		c.logger.WithError(err).Warn("Torch unavailable for strobe start")
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-deadline.C:
			return nil
		case <-ticker.C:
			on = !on
			if err := c.device.SetTorch(on); err != nil {
				c.logger.WithError(err).Debug("Torch toggle failed")
			}
		}
	}
}

// StopStrobe implements Client.
func (c *Controller) StopStrobe() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Dial implements Client.
func (c *Controller) Dial(ctx context.Context, number string) error {
	if number == "" {
		return errors.Wrap(errors.ErrInvalidInput, "no emergency number configured")
	}

	ctx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- c.device.Dial(number)
	}()

	select {
	case err := <-done:
		if err != nil {
			return errors.Wrap(errors.ErrActuatorFailure, "dial failed",
				map[string]interface{}{"cause": err.Error()})
		}
		c.logger.WithField("number", number).Info("Emergency call initiated")
		return nil
	case <-ctx.Done():
		return errors.Wrap(errors.ErrTimeout, "dial timed out",
			map[string]interface{}{"number": number})
	}
}
