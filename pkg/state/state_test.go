package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aegis-server/pkg/detection"
)

func TestSnapshotCopyIsolation(t *testing.T) {
	c := NewContainer()
	c.SetMonitoring(true)

	snap := c.Snapshot()
	snap.Monitoring = false

	assert.True(t, c.Snapshot().Monitoring, "returned snapshot is a copy")
}

func TestSubscribeReceivesChanges(t *testing.T) {
	c := NewContainer()
	ch, cancel := c.Subscribe()
	defer cancel()

	c.SetLevel(0.42)

	snap := <-ch
	assert.Equal(t, float32(0.42), snap.LevelRMS)
	assert.False(t, snap.UpdatedAt.IsZero())
}

func TestDetectionLatchesThreatFlag(t *testing.T) {
	c := NewContainer()

	c.SetDetection(detection.Result{IsThreat: true, Category: detection.CategoryScream, Confidence: 0.9})
	assert.True(t, c.Snapshot().ThreatDetected)

	// A later quiet tick keeps the flag; only episode reset clears it.
	c.SetDetection(detection.Result{IsThreat: false})
	assert.True(t, c.Snapshot().ThreatDetected)
	require.NotNil(t, c.Snapshot().LastDetection)
	assert.False(t, c.Snapshot().LastDetection.IsThreat)
}

func TestEmergencyResetClearsEpisodeFields(t *testing.T) {
	c := NewContainer()
	c.SetDetection(detection.Result{IsThreat: true})
	c.SetEmergency(true, "ep-1")
	c.SetAlertsSent(3)
	c.SetActionOutcomes([]string{"audit"}, []string{"dial"})

	c.SetEmergency(false, "")

	snap := c.Snapshot()
	assert.False(t, snap.EmergencyActive)
	assert.False(t, snap.ThreatDetected)
	assert.Zero(t, snap.AlertsSent)
	assert.Empty(t, snap.ActionsCompleted)
	assert.Empty(t, snap.ActionsFailed)
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	c := NewContainer()
	_, cancel := c.Subscribe()
	defer cancel()

	// Fill the subscriber buffer well past capacity; updates must not block.
	for i := 0; i < 100; i++ {
		c.SetLevel(float32(i) / 100)
	}
	assert.Equal(t, float32(0.99), c.Snapshot().LevelRMS)
}

func TestCancelClosesChannel(t *testing.T) {
	c := NewContainer()
	ch, cancel := c.Subscribe()
	cancel()

	_, open := <-ch
	assert.False(t, open)

	// Updates after cancellation must not panic.
	c.SetMonitoring(true)
}
