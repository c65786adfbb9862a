package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// fakeChannel records publishes and can fail selected routing keys.
type fakeChannel struct {
	mu        sync.Mutex
	published []string
	bodies    [][]byte
	failKeys  map[string]bool
}

func (f *fakeChannel) Publish(_, key string, _, _ bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failKeys[key] {
		return errors.New("broker refused")
	}
	f.published = append(f.published, key)
	f.bodies = append(f.bodies, msg.Body)
	return nil
}

func (f *fakeChannel) Close() error { return nil }

func newTestAlerter(peers []string, ch amqpChannel) *AMQPPeerAlerter {
	a := NewAMQPPeerAlerter(testLogger(), AMQPConfig{
		URL:      "amqp://test",
		Exchange: "aegis.peers",
		PeerKeys: peers,
	})
	a.channel = ch
	a.connected = true
	return a
}

func TestAlertNearbyNotifiesEachPeer(t *testing.T) {
	ch := &fakeChannel{}
	alerter := newTestAlerter([]string{"peer.a", "peer.b", "peer.c"}, ch)

	count, err := alerter.AlertNearby(context.Background(), "ep-1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.Equal(t, []string{"peer.a", "peer.b", "peer.c"}, ch.published)

	var alert PeerAlert
	require.NoError(t, json.Unmarshal(ch.bodies[0], &alert))
	assert.Equal(t, "ep-1", alert.EpisodeID)
	assert.Equal(t, "emergency", alert.Kind)
}

func TestAlertNearbyPartialFailure(t *testing.T) {
	ch := &fakeChannel{failKeys: map[string]bool{"peer.b": true}}
	alerter := newTestAlerter([]string{"peer.a", "peer.b", "peer.c"}, ch)

	count, err := alerter.AlertNearby(context.Background(), "ep-1")
	require.NoError(t, err, "partial failure still counts the successes")
	assert.Equal(t, 2, count)
}

func TestAlertNearbyDisconnected(t *testing.T) {
	alerter := NewAMQPPeerAlerter(testLogger(), AMQPConfig{PeerKeys: []string{"peer.a"}})

	count, err := alerter.AlertNearby(context.Background(), "ep-1")
	assert.Zero(t, count)
	assert.Error(t, err)
	assert.False(t, alerter.IsConnected())
}

func TestAlertNearbyNoPeers(t *testing.T) {
	alerter := newTestAlerter(nil, &fakeChannel{})

	count, err := alerter.AlertNearby(context.Background(), "ep-1")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestNotifyPostsToGateway(t *testing.T) {
	var mu sync.Mutex
	var requests []smsRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req smsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		mu.Lock()
		requests = append(requests, req)
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	notifier := NewWebhookNotifier(testLogger(), server.URL, time.Second)
	loc := &Location{Lat: 48.85, Lon: 2.35}
	ok := notifier.Notify(context.Background(), []string{"+15550001", "+15550002"}, "EMERGENCY", loc)

	assert.True(t, ok)
	require.Len(t, requests, 2)
	assert.Equal(t, "+15550001", requests[0].To)
	assert.Equal(t, "EMERGENCY", requests[0].Message)
	require.NotNil(t, requests[0].Location)
	assert.Equal(t, 48.85, requests[0].Location.Lat)
}

func TestNotifyGatewayRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	notifier := NewWebhookNotifier(testLogger(), server.URL, time.Second)
	ok := notifier.Notify(context.Background(), []string{"+15550001"}, "EMERGENCY", nil)
	assert.False(t, ok)
}

func TestNotifyUnconfiguredGateway(t *testing.T) {
	notifier := NewWebhookNotifier(testLogger(), "", time.Second)
	assert.False(t, notifier.Notify(context.Background(), []string{"+15550001"}, "x", nil))

	withURL := NewWebhookNotifier(testLogger(), "http://localhost:1", time.Second)
	assert.False(t, withURL.Notify(context.Background(), nil, "x", nil), "empty contact list sends nothing")
}

func TestLocationProviders(t *testing.T) {
	_, ok := NoLocation{}.Locate(context.Background())
	assert.False(t, ok)

	loc, ok := StaticLocation{Position: Location{Lat: 1, Lon: 2}}.Locate(context.Background())
	assert.True(t, ok)
	assert.Equal(t, Location{Lat: 1, Lon: 2}, loc)
}
