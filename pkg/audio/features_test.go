package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// pcmConstant builds a PCM16-LE buffer where every sample has the given value.
func pcmConstant(samples int, value int16) []byte {
	buf := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		buf[i*2] = byte(value & 0xFF)
		buf[i*2+1] = byte(value >> 8)
	}
	return buf
}

func TestRMSOfSilence(t *testing.T) {
	silence := make([]byte, 320)
	assert.Equal(t, float32(0), RMS(silence), "RMS of silence should be 0")
}

func TestRMSOfMaxAmplitude(t *testing.T) {
	loud := pcmConstant(160, 32767)
	rms := RMS(loud)
	assert.Greater(t, rms, float32(0.99), "RMS of max amplitude should be close to 1.0")
	assert.LessOrEqual(t, rms, float32(1.0))
}

func TestRMSOfHalfAmplitude(t *testing.T) {
	half := pcmConstant(160, 16384)
	rms := RMS(half)
	assert.InDelta(t, 0.5, float64(rms), 0.01, "constant half-scale signal should have RMS ~0.5")
}

func TestRMSEmptyBuffer(t *testing.T) {
	assert.Equal(t, float32(0), RMS(nil))
	assert.Equal(t, float32(0), RMS([]byte{0x01}), "a single byte is not a full sample")
}

func TestExtractFeaturesShape(t *testing.T) {
	features := ExtractFeatures(pcmConstant(320, 8192))
	assert.Len(t, features, FeatureLength)
	assert.Greater(t, features[0], float32(0), "first feature is overall RMS")

	for band := 1; band < FeatureLength; band++ {
		assert.InDelta(t, float64(features[0]), float64(features[band]), 0.01,
			"constant signal should have uniform band energy")
	}
}

func TestExtractFeaturesEmptyWindow(t *testing.T) {
	features := ExtractFeatures(nil)
	assert.Len(t, features, FeatureLength)
	for _, f := range features {
		assert.Equal(t, float32(0), f)
	}
}

func TestMemorySourceLifecycle(t *testing.T) {
	src := NewMemorySource()
	assert.True(t, src.Start(DefaultFormat()))
	assert.False(t, src.Start(DefaultFormat()), "source is single-owner, second Start must fail")

	src.Feed(pcmConstant(4, 100))
	buf := make([]byte, 16)
	assert.Equal(t, 8, src.Read(buf))
	assert.Equal(t, 0, src.Read(buf), "empty queue yields a zero read")

	src.Stop()
	assert.False(t, src.Started())
	assert.True(t, src.Start(DefaultFormat()), "source can be reacquired after Stop")
}

func TestMemorySourceFailOpen(t *testing.T) {
	src := NewMemorySource()
	src.FailOpen(true)
	assert.False(t, src.Start(DefaultFormat()), "unavailable device reports false, not an error")
}

func TestWindowBytes(t *testing.T) {
	f := DefaultFormat()
	assert.Equal(t, 32000, f.BytesPerSecond())
	assert.Equal(t, 3200, f.WindowBytes(100))
}
