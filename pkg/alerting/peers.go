// Package alerting carries the outbound emergency channels: peer alerts
// over the message broker and contact notifications through the SMS
// gateway.
package alerting

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"aegis-server/pkg/errors"
	"aegis-server/pkg/metrics"
)

// PeerAlerter notifies nearby peers of an active episode and reports how
// many peers were reached.
type PeerAlerter interface {
	AlertNearby(ctx context.Context, episodeID string) (int, error)
}

// PeerAlert is the message published per peer.
type PeerAlert struct {
	EpisodeID string    `json:"episode_id"`
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
}

// AMQPConfig holds broker settings for peer alerting.
type AMQPConfig struct {
	URL      string
	Exchange string
	// PeerKeys are the routing keys of registered nearby peers. Peer
	// discovery itself is out of scope; the registry arrives via config.
	PeerKeys []string
}

// amqpChannel is the slice of the AMQP channel API the alerter uses,
// narrowed for testability.
type amqpChannel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPeerAlerter publishes alerts to each registered peer's routing key.
type AMQPPeerAlerter struct {
	logger *logrus.Logger
	config AMQPConfig

	connMutex sync.RWMutex
	conn      *amqp.Connection
	channel   amqpChannel
	connected bool
}

// NewAMQPPeerAlerter creates a peer alerter. Connect must be called before
// the first alert; a disconnected alerter reports zero peers notified.
func NewAMQPPeerAlerter(logger *logrus.Logger, config AMQPConfig) *AMQPPeerAlerter {
	return &AMQPPeerAlerter{
		logger: logger,
		config: config,
	}
}

// Connect establishes the broker connection and declares the exchange.
func (a *AMQPPeerAlerter) Connect() error {
	a.connMutex.Lock()
	defer a.connMutex.Unlock()

	if a.config.URL == "" {
		return errors.New("AMQP URL not configured")
	}

	conn, err := amqp.Dial(a.config.URL)
	if err != nil {
		return errors.Wrap(errors.ErrBrokerFailure, "dial AMQP broker",
			map[string]interface{}{"cause": err.Error()})
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return errors.Wrap(errors.ErrBrokerFailure, "open AMQP channel",
			map[string]interface{}{"cause": err.Error()})
	}

	if a.config.Exchange != "" {
		if err := channel.ExchangeDeclare(a.config.Exchange, "direct", true, false, false, false, nil); err != nil {
			channel.Close()
			conn.Close()
			return errors.Wrap(errors.ErrBrokerFailure, "declare peer exchange",
				map[string]interface{}{"exchange": a.config.Exchange, "cause": err.Error()})
		}
	}

	a.conn = conn
	a.channel = channel
	a.connected = true

	a.logger.WithFields(logrus.Fields{
		"exchange": a.config.Exchange,
		"peers":    len(a.config.PeerKeys),
	}).Info("Peer alert broker connected")
	return nil
}

// IsConnected reports broker connectivity.
func (a *AMQPPeerAlerter) IsConnected() bool {
	a.connMutex.RLock()
	defer a.connMutex.RUnlock()
	return a.connected
}

// Disconnect closes the broker connection.
func (a *AMQPPeerAlerter) Disconnect() {
	a.connMutex.Lock()
	defer a.connMutex.Unlock()

	if a.channel != nil {
		a.channel.Close()
		a.channel = nil
	}
	if a.conn != nil {
		a.conn.Close()
		a.conn = nil
	}
	a.connected = false
}

// AlertNearby implements PeerAlerter. Each registered peer gets its own
// publish; one peer's failure does not stop the rest. The returned count
// is the number of publishes the broker accepted.
func (a *AMQPPeerAlerter) AlertNearby(ctx context.Context, episodeID string) (int, error) {
	a.connMutex.RLock()
	channel := a.channel
	connected := a.connected
	a.connMutex.RUnlock()

	if !connected || channel == nil {
		return 0, errors.Wrap(errors.ErrBrokerFailure, "peer alert broker not connected")
	}
	if len(a.config.PeerKeys) == 0 {
		a.logger.Debug("No peers registered, nothing to alert")
		return 0, nil
	}

	body, err := json.Marshal(PeerAlert{
		EpisodeID: episodeID,
		Kind:      "emergency",
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return 0, errors.Wrap(err, "marshal peer alert")
	}

	notified := 0
	var lastErr error
	for _, key := range a.config.PeerKeys {
		if ctx.Err() != nil {
			lastErr = errors.Wrap(errors.ErrTimeout, "peer alert canceled")
			break
		}

		err := channel.Publish(a.config.Exchange, key, false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		})
		if err != nil {
			lastErr = err
			a.logger.WithError(err).WithField("peer", key).Warn("Failed to alert peer")
			continue
		}
		notified++
	}

	if notified > 0 {
		metrics.RecordPeerAlerts(notified)
	}

	a.logger.WithFields(logrus.Fields{
		"episode_id": episodeID,
		"notified":   notified,
		"peers":      len(a.config.PeerKeys),
	}).Info("Peer alerts published")

	if notified == 0 && lastErr != nil {
		return 0, errors.Wrap(errors.ErrBrokerFailure, "all peer alerts failed",
			map[string]interface{}{"cause": lastErr.Error()})
	}
	return notified, nil
}
