// Package evidence captures bounded-duration audio recordings during an
// emergency episode.
package evidence

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"aegis-server/pkg/audio"
	"aegis-server/pkg/errors"
	"aegis-server/pkg/metrics"
)

// RecordingState tracks one capture session's lifecycle.
type RecordingState int

const (
	StateIdle RecordingState = iota
	StateRecording
	StateStopped
)

// Recording describes one evidence capture.
type Recording struct {
	ID        string         `json:"id"`
	EpisodeID string         `json:"episode_id"`
	FilePath  string         `json:"file_path"`
	StartedAt time.Time      `json:"started_at"`
	State     RecordingState `json:"state"`
}

// Recorder owns evidence capture: at most one recording at a time,
// idempotent start/stop, and a hard duration cap enforced by an internal
// timer regardless of external state.
type Recorder struct {
	logger      *logrus.Logger
	dir         string
	maxDuration time.Duration
	format      audio.Format

	mu      sync.Mutex
	current *session
}

type session struct {
	info  Recording
	wav   *wavFile
	timer *time.Timer
}

// NewRecorder creates a recorder writing WAV files under dir.
func NewRecorder(logger *logrus.Logger, dir string, maxDuration time.Duration, format audio.Format) *Recorder {
	if maxDuration <= 0 {
		maxDuration = 5 * time.Minute
	}
	return &Recorder{
		logger:      logger,
		dir:         dir,
		maxDuration: maxDuration,
		format:      format,
	}
}

// Start begins a recording for the given episode. If a recording is
// already running its handle is returned unchanged, so concurrent starts
// collapse to one capture.
func (r *Recorder) Start(episodeID string) (Recording, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current != nil {
		return r.current.info, nil
	}

	if err := os.MkdirAll(r.dir, 0o750); err != nil {
		return Recording{}, errors.Wrap(err, "create evidence directory",
			map[string]interface{}{"dir": r.dir})
	}

	id := uuid.NewString()
	name := evidenceFileName(episodeID, id, time.Now())
	path := filepath.Join(r.dir, name)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o640)
	if err != nil {
		return Recording{}, errors.Wrap(err, "create evidence file",
			map[string]interface{}{"path": path})
	}

	wav, err := newWAVFile(file, r.format.SampleRate, r.format.Channels)
	if err != nil {
		file.Close()
		os.Remove(path)
		return Recording{}, errors.Wrap(err, "initialize evidence file")
	}

	info := Recording{
		ID:        id,
		EpisodeID: episodeID,
		FilePath:  path,
		StartedAt: time.Now(),
		State:     StateRecording,
	}

	sess := &session{info: info, wav: wav}
	// The cap timer force-stops even if nobody ever calls Stop.
	sess.timer = time.AfterFunc(r.maxDuration, func() {
		r.logger.WithFields(logrus.Fields{
			"recording_id": id,
			"cap":          r.maxDuration,
		}).Info("Evidence recording reached duration cap")
		r.stopSession(sess)
	})
	r.current = sess

	metrics.RecordRecordingStarted()
	r.logger.WithFields(logrus.Fields{
		"recording_id": id,
		"episode_id":   episodeID,
		"path":         path,
	}).Info("Evidence recording started")

	return info, nil
}

// Append writes a PCM window into the active recording. A no-op while
// idle, so the monitoring loop can tap every window unconditionally.
func (r *Recorder) Append(pcm []byte) {
	r.mu.Lock()
	sess := r.current
	r.mu.Unlock()

	if sess == nil || len(pcm) == 0 {
		return
	}

	if _, err := sess.wav.Write(pcm); err != nil {
		r.logger.WithError(err).WithField("recording_id", sess.info.ID).
			Warn("Failed to append evidence frame")
	}
}

// Stop finalizes the active recording. Safe to call when not recording
// and safe to call repeatedly; a finalize failure is returned for the
// caller to log but leaves the recorder ready for a new session.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	sess := r.current
	r.current = nil
	r.mu.Unlock()
	return r.finalize(sess)
}

// stopSession stops sess only while it is still the active session. The
// cap timer goes through here so an expired timer whose recording was
// already replaced cannot cut short the newer one.
func (r *Recorder) stopSession(sess *session) {
	r.mu.Lock()
	if r.current != sess {
		r.mu.Unlock()
		return
	}
	r.current = nil
	r.mu.Unlock()

	if err := r.finalize(sess); err != nil {
		r.logger.WithError(err).Warn("Cap-triggered stop failed")
	}
}

func (r *Recorder) finalize(sess *session) error {
	if sess == nil {
		return nil
	}

	sess.timer.Stop()
	duration := time.Since(sess.info.StartedAt)
	metrics.ObserveRecordingDuration(duration.Seconds())

	if err := sess.wav.Finalize(); err != nil {
		r.logger.WithError(err).WithField("recording_id", sess.info.ID).
			Warn("Failed to finalize evidence file")
		return errors.Wrap(err, "finalize evidence file",
			map[string]interface{}{"recording_id": sess.info.ID})
	}

	r.logger.WithFields(logrus.Fields{
		"recording_id": sess.info.ID,
		"duration":     duration,
		"path":         sess.info.FilePath,
	}).Info("Evidence recording stopped")
	return nil
}

// Recording returns the active recording, if any.
func (r *Recorder) Recording() (Recording, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return Recording{}, false
	}
	return r.current.info, true
}

// ListByEpisode returns evidence files recorded for an episode, sorted by
// name (and therefore by start time, given the timestamped naming).
func (r *Recorder) ListByEpisode(episodeID string) ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "read evidence directory")
	}

	prefix := "evidence-" + sanitizeID(episodeID) + "-"
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.HasPrefix(entry.Name(), prefix) && strings.HasSuffix(entry.Name(), ".wav") {
			files = append(files, filepath.Join(r.dir, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// evidenceFileName builds a collision-resistant, episode-retrievable name:
// evidence-<episode>-<timestamp>-<uuid fragment>.wav
func evidenceFileName(episodeID, recordingID string, now time.Time) string {
	short := recordingID
	if len(short) > 8 {
		short = short[:8]
	}
	return "evidence-" + sanitizeID(episodeID) + "-" +
		now.UTC().Format("20060102-150405") + "-" + short + ".wav"
}

func sanitizeID(id string) string {
	if id == "" {
		return "manual"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		default:
			return '_'
		}
	}, id)
}
