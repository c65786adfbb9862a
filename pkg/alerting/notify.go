package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// Location is a best-effort last-known position included in outbound
// messages when available.
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// LocationProvider yields the device's last known position. Providers are
// best-effort: ok=false means no fix is available, which is a valid state.
type LocationProvider interface {
	Locate(ctx context.Context) (Location, bool)
}

// NoLocation is the provider used when no positioning source exists.
type NoLocation struct{}

// Locate implements LocationProvider.
func (NoLocation) Locate(context.Context) (Location, bool) {
	return Location{}, false
}

// StaticLocation always reports a fixed position, used for stationary
// installations and tests.
type StaticLocation struct {
	Position Location
}

// Locate implements LocationProvider.
func (s StaticLocation) Locate(context.Context) (Location, bool) {
	return s.Position, true
}

// Notifier sends outbound emergency messages (SMS-equivalent) to a
// contact list. Returns true only if every contact was accepted.
type Notifier interface {
	Notify(ctx context.Context, contacts []string, message string, location *Location) bool
}

// smsRequest is the gateway wire format.
type smsRequest struct {
	To       string    `json:"to"`
	Message  string    `json:"message"`
	Location *Location `json:"location,omitempty"`
}

// WebhookNotifier delivers messages through an HTTP SMS gateway, one POST
// per contact. Failures are logged and reflected in the boolean result,
// never raised.
type WebhookNotifier struct {
	logger     *logrus.Logger
	gatewayURL string
	client     *http.Client
}

// NewWebhookNotifier creates a notifier posting to gatewayURL.
func NewWebhookNotifier(logger *logrus.Logger, gatewayURL string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		logger:     logger,
		gatewayURL: gatewayURL,
		client:     &http.Client{Timeout: timeout},
	}
}

// Notify implements Notifier.
func (n *WebhookNotifier) Notify(ctx context.Context, contacts []string, message string, location *Location) bool {
	if n.gatewayURL == "" {
		n.logger.Warn("SMS gateway not configured, notifications disabled")
		return false
	}
	if len(contacts) == 0 {
		n.logger.Warn("No emergency contacts configured")
		return false
	}

	allSent := true
	for _, contact := range contacts {
		if !n.send(ctx, contact, message, location) {
			allSent = false
		}
	}
	return allSent
}

func (n *WebhookNotifier) send(ctx context.Context, contact, message string, location *Location) bool {
	payload, err := json.Marshal(smsRequest{
		To:       contact,
		Message:  message,
		Location: location,
	})
	if err != nil {
		n.logger.WithError(err).Error("Failed to marshal notification")
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.gatewayURL, bytes.NewReader(payload))
	if err != nil {
		n.logger.WithError(err).Error("Failed to build notification request")
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.WithError(err).WithField("contact", contact).Warn("Notification send failed")
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		n.logger.WithFields(logrus.Fields{
			"contact": contact,
			"status":  resp.StatusCode,
		}).Warn("SMS gateway rejected notification")
		return false
	}

	n.logger.WithField("contact", contact).Info("Emergency notification sent")
	return true
}
