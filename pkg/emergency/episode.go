package emergency

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"aegis-server/pkg/detection"
)

// ActionKind names one of the fan-out response actions.
type ActionKind string

const (
	ActionAudit     ActionKind = "audit"
	ActionPeerAlert ActionKind = "peer_alert"
	ActionRecord    ActionKind = "record"
	ActionStrobe    ActionKind = "strobe"
	ActionNotify    ActionKind = "notify"
	ActionDial      ActionKind = "dial"
)

// allActions is the fixed fan-out set.
var allActions = []ActionKind{
	ActionAudit,
	ActionPeerAlert,
	ActionRecord,
	ActionStrobe,
	ActionNotify,
	ActionDial,
}

// Episode is one emergency-response lifecycle, from activation to explicit
// cancellation. It never expires on its own.
type Episode struct {
	ID        string
	StartedAt time.Time
	Trigger   detection.Result
	Manual    bool

	mu        sync.Mutex
	completed map[ActionKind]struct{}
	failed    map[ActionKind]error

	// cancelled is set before Cancel stops the recorder and strobe, so
	// those actions become no-ops if they have not started yet.
	cancelled atomic.Bool

	// done closes once all six actions have finished, success or failure.
	done chan struct{}
}

func newEpisode(trigger detection.Result, manual bool) *Episode {
	return &Episode{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
		Trigger:   trigger,
		Manual:    manual,
		completed: make(map[ActionKind]struct{}, len(allActions)),
		failed:    make(map[ActionKind]error, len(allActions)),
		done:      make(chan struct{}),
	}
}

func (e *Episode) markCompleted(kind ActionKind) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.completed[kind] = struct{}{}
}

func (e *Episode) markFailed(kind ActionKind, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failed[kind] = err
}

// Completed returns the successfully finished action names, sorted.
func (e *Episode) Completed() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return sortedKinds(e.completed)
}

// Failed returns the failed action names, sorted.
func (e *Episode) Failed() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, 0, len(e.failed))
	for kind := range e.failed {
		names = append(names, string(kind))
	}
	sort.Strings(names)
	return names
}

func (e *Episode) markCancelled() {
	e.cancelled.Store(true)
}

// Cancelled reports whether cancellation has begun for this episode.
func (e *Episode) Cancelled() bool {
	return e.cancelled.Load()
}

// FailedError returns the recorded error for an action, if any.
func (e *Episode) FailedError(kind ActionKind) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failed[kind]
}

// Done closes once every action has completed or failed. The episode
// itself stays active until the user cancels.
func (e *Episode) Done() <-chan struct{} {
	return e.done
}

// Responded reports whether the full fan-out has finished.
func (e *Episode) Responded() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

func sortedKinds(set map[ActionKind]struct{}) []string {
	names := make([]string, 0, len(set))
	for kind := range set {
		names = append(names, string(kind))
	}
	sort.Strings(names)
	return names
}
