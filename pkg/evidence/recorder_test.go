package evidence

import (
	"encoding/binary"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aegis-server/pkg/audio"
)

func newTestRecorder(t *testing.T, cap time.Duration) *Recorder {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewRecorder(logger, t.TempDir(), cap, audio.DefaultFormat())
}

func TestStartIsIdempotent(t *testing.T) {
	r := newTestRecorder(t, time.Minute)

	first, err := r.Start("ep-1")
	require.NoError(t, err)

	second, err := r.Start("ep-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "second start returns the existing handle")
	assert.Equal(t, first.FilePath, second.FilePath)

	require.NoError(t, r.Stop())
}

func TestStopIsIdempotent(t *testing.T) {
	r := newTestRecorder(t, time.Minute)

	assert.NoError(t, r.Stop(), "stop while idle is a no-op")

	_, err := r.Start("ep-1")
	require.NoError(t, err)
	assert.NoError(t, r.Stop())
	assert.NoError(t, r.Stop(), "repeated stop is safe")
}

func TestRecordingProducesValidWAV(t *testing.T) {
	r := newTestRecorder(t, time.Minute)

	rec, err := r.Start("ep-wav")
	require.NoError(t, err)

	pcm := make([]byte, 640)
	for i := range pcm {
		pcm[i] = byte(i)
	}
	r.Append(pcm)
	require.NoError(t, r.Stop())

	data, err := os.ReadFile(rec.FilePath)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(data), 44+640)

	assert.Equal(t, "RIFF", string(data[0:4]))
	assert.Equal(t, "WAVE", string(data[8:12]))
	assert.Equal(t, uint32(640), binary.LittleEndian.Uint32(data[40:44]), "data chunk size patched on finalize")
	assert.Equal(t, uint32(16000), binary.LittleEndian.Uint32(data[24:28]), "sample rate in header")
}

func TestDurationCapForcesStop(t *testing.T) {
	r := newTestRecorder(t, 50*time.Millisecond)

	_, err := r.Start("ep-cap")
	require.NoError(t, err)

	_, active := r.Recording()
	assert.True(t, active)

	// Never call Stop; the internal timer must fire.
	require.Eventually(t, func() bool {
		_, active := r.Recording()
		return !active
	}, time.Second, 5*time.Millisecond, "recording should auto-stop at the cap")
}

func TestStaleCapTimerDoesNotStopNewRecording(t *testing.T) {
	r := newTestRecorder(t, time.Minute)

	first, err := r.Start("ep-1")
	require.NoError(t, err)
	r.mu.Lock()
	firstSess := r.current
	r.mu.Unlock()
	require.NoError(t, r.Stop())

	second, err := r.Start("ep-2")
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	// The first session's cap timer fires after its recording was
	// replaced; it must leave the new recording untouched.
	r.stopSession(firstSess)

	rec, active := r.Recording()
	require.True(t, active, "the newer recording keeps running")
	assert.Equal(t, second.ID, rec.ID)

	require.NoError(t, r.Stop())
}

func TestAppendWhileIdleIsNoop(t *testing.T) {
	r := newTestRecorder(t, time.Minute)
	r.Append([]byte{1, 2, 3, 4}) // must not panic
}

func TestAtMostOneRecordingPerEpisode(t *testing.T) {
	r := newTestRecorder(t, time.Minute)

	first, err := r.Start("ep-1")
	require.NoError(t, err)

	// A concurrent trigger for another episode still collapses into the
	// running capture; the recorder owns a single device.
	other, err := r.Start("ep-2")
	require.NoError(t, err)
	assert.Equal(t, first.ID, other.ID)

	require.NoError(t, r.Stop())
}

func TestListByEpisode(t *testing.T) {
	r := newTestRecorder(t, time.Minute)

	rec, err := r.Start("ep-list")
	require.NoError(t, err)
	require.NoError(t, r.Stop())

	files, err := r.ListByEpisode("ep-list")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, rec.FilePath, files[0])

	none, err := r.ListByEpisode("ep-other")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestEvidenceFileName(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	name := evidenceFileName("ep/1", "0123456789abcdef", ts)
	assert.Equal(t, "evidence-ep_1-20260314-092653-01234567.wav", name)

	manual := evidenceFileName("", "abcdefabcdef", ts)
	assert.Contains(t, manual, "evidence-manual-")
}
