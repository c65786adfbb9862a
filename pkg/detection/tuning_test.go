package detection

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadTuningMissingPathUsesDefaults(t *testing.T) {
	tuning, err := LoadTuning("")
	require.NoError(t, err)
	assert.Equal(t, DefaultThresholds(), tuning.Thresholds)
	assert.Equal(t, DefaultKeywords, tuning.Keywords)

	tuning, err = LoadTuning(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultThresholds(), tuning.Thresholds)
}

func TestLoadTuningOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	content := []byte(`
thresholds:
  volume: 0.5
  scream: 0.9
keywords:
  - mayday
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	tuning, err := LoadTuning(path)
	require.NoError(t, err)
	assert.Equal(t, float32(0.5), tuning.Thresholds.Volume)
	assert.Equal(t, float32(0.9), tuning.Thresholds.Scream)
	assert.Equal(t, float32(0.70), tuning.Thresholds.DistressCall, "unset fields keep defaults")
	assert.Equal(t, []string{"mayday"}, tuning.Keywords)
}

func TestLoadTuningMalformedFileIsAnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	require.NoError(t, os.WriteFile(path, []byte("thresholds: ["), 0o644))

	_, err := LoadTuning(path)
	assert.Error(t, err)
}
