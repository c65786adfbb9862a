// Package state holds the observable status snapshot consumed by the
// presentation layer. The container replaces UI-framework state flows with
// a framework-independent, concurrency-safe struct plus change
// notification.
package state

import (
	"sync"
	"time"

	"aegis-server/pkg/detection"
)

// Snapshot is one immutable view of the system status. The UI is driven
// entirely by these signals, never by errors propagated out of the core.
type Snapshot struct {
	Monitoring       bool              `json:"monitoring"`
	LevelRMS         float32           `json:"level_rms"`
	ThreatDetected   bool              `json:"threat_detected"`
	LastDetection    *detection.Result `json:"last_detection,omitempty"`
	EmergencyActive  bool              `json:"emergency_active"`
	EpisodeID        string            `json:"episode_id,omitempty"`
	AlertsSent       int               `json:"alerts_sent"`
	ActionsCompleted []string          `json:"actions_completed,omitempty"`
	ActionsFailed    []string          `json:"actions_failed,omitempty"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// Container is the mutable holder. All writes go through the setters,
// which publish the new snapshot to subscribers without blocking on slow
// consumers.
type Container struct {
	mu     sync.RWMutex
	snap   Snapshot
	subs   map[int]chan Snapshot
	nextID int
}

// NewContainer creates an empty state container.
func NewContainer() *Container {
	return &Container{
		subs: make(map[int]chan Snapshot),
	}
}

// Snapshot returns a copy of the current state.
func (c *Container) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// Subscribe registers a listener for state changes. The returned cancel
// function must be called to release the subscription.
func (c *Container) Subscribe() (<-chan Snapshot, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	ch := make(chan Snapshot, 8)
	c.subs[id] = ch

	cancel := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if sub, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// SetMonitoring records the monitoring session state.
func (c *Container) SetMonitoring(active bool) {
	c.update(func(s *Snapshot) {
		s.Monitoring = active
		if !active {
			s.LevelRMS = 0
		}
	})
}

// SetLevel records the UI level meter value.
func (c *Container) SetLevel(rms float32) {
	c.update(func(s *Snapshot) {
		s.LevelRMS = rms
	})
}

// SetDetection records the latest classification result. Non-threat
// results update LastDetection without flipping ThreatDetected.
func (c *Container) SetDetection(result detection.Result) {
	c.update(func(s *Snapshot) {
		r := result
		s.LastDetection = &r
		if result.IsThreat {
			s.ThreatDetected = true
		}
	})
}

// SetEmergency records episode activation or reset. Reset also clears the
// per-episode fields so the next episode starts clean.
func (c *Container) SetEmergency(active bool, episodeID string) {
	c.update(func(s *Snapshot) {
		s.EmergencyActive = active
		s.EpisodeID = episodeID
		if !active {
			s.ThreatDetected = false
			s.AlertsSent = 0
			s.ActionsCompleted = nil
			s.ActionsFailed = nil
		}
	})
}

// SetAlertsSent records the peer alert count.
func (c *Container) SetAlertsSent(count int) {
	c.update(func(s *Snapshot) {
		s.AlertsSent = count
	})
}

// SetActionOutcomes records the fan-out results for the active episode.
func (c *Container) SetActionOutcomes(completed, failed []string) {
	c.update(func(s *Snapshot) {
		s.ActionsCompleted = completed
		s.ActionsFailed = failed
	})
}

func (c *Container) update(mutate func(*Snapshot)) {
	c.mu.Lock()
	mutate(&c.snap)
	c.snap.UpdatedAt = time.Now()
	snap := c.snap
	subs := make([]chan Snapshot, 0, len(c.subs))
	for _, ch := range c.subs {
		subs = append(subs, ch)
	}
	c.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- snap:
		default:
			// Slow subscriber, drop the update. The next change delivers
			// a fresh snapshot.
		}
	}
}
