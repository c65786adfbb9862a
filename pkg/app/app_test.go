package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aegis-server/pkg/config"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		HTTP: config.HTTPConfig{Port: 8080, Enabled: false},
		Audio: config.AudioConfig{
			Backend:    "none",
			SampleRate: 16000,
			Channels:   1,
		},
		Monitoring: config.MonitoringConfig{
			WindowMs:       10,
			ThreatInterval: 5 * time.Millisecond,
			LevelInterval:  2 * time.Millisecond,
			FailureBackoff: 10 * time.Millisecond,
		},
		Emergency: config.EmergencyConfig{
			Number:         "112",
			ActionTimeout:  200 * time.Millisecond,
			StrobeDuration: 20 * time.Millisecond,
			StrobeDuty:     5 * time.Millisecond,
		},
		Recording: config.RecordingConfig{
			Dir:         t.TempDir(),
			MaxDuration: time.Minute,
		},
		Audit: config.AuditConfig{
			LedgerPath: filepath.Join(t.TempDir(), "audit.jsonl"),
			Timeout:    time.Second,
		},
	}
}

func TestNewAssemblesGraph(t *testing.T) {
	a, err := New(testLogger(), testConfig(t))
	require.NoError(t, err)
	require.NotNil(t, a.Monitor())
	require.NotNil(t, a.Orchestrator())
	require.NotNil(t, a.States())
}

func TestNewRejectsMalformedTuning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	require.NoError(t, os.WriteFile(path, []byte("thresholds: [not, a, map]"), 0o640))

	cfg := testConfig(t)
	cfg.Detection.TuningPath = path

	_, err := New(testLogger(), cfg)
	assert.Error(t, err)
}

func TestNewToleratesMissingModel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Detection.ModelPath = filepath.Join(t.TempDir(), "missing.onnx")

	a, err := New(testLogger(), cfg)
	require.NoError(t, err, "a missing model degrades, it does not fail startup")
	require.NotNil(t, a)
}

func TestKeywordTranscriptTriggersEpisode(t *testing.T) {
	a, err := New(testLogger(), testConfig(t))
	require.NoError(t, err)

	_, triggered := a.AnalyzeTranscript("just passing by")
	assert.False(t, triggered)

	id, triggered := a.AnalyzeTranscript("someone HELP me please")
	require.True(t, triggered)
	require.NotEmpty(t, id)

	ep := a.Orchestrator().Episode()
	require.NotNil(t, ep)
	select {
	case <-ep.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("episode fan-out did not finish")
	}

	// The episode guard holds until cancel.
	_, triggered = a.AnalyzeTranscript("help again")
	assert.False(t, triggered)

	require.True(t, a.Orchestrator().Cancel())

	_, triggered = a.AnalyzeTranscript("help once more")
	assert.True(t, triggered, "a fresh keyword detection escalates after cancel")
	<-a.Orchestrator().Episode().Done()
	require.True(t, a.Orchestrator().Cancel())
}

func TestRunStopsOnContextCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Monitoring.AutoStart = true

	a, err := New(testLogger(), cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after context cancel")
	}

	snap := a.States().Snapshot()
	assert.False(t, snap.Monitoring, "shutdown stops monitoring")
}
