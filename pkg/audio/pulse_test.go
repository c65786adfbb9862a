package audio

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func pulseTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestPulseSourceKeepsConfiguredDevice(t *testing.T) {
	p := NewPulseSource(pulseTestLogger(), "alsa_input.usb-mic")
	assert.Equal(t, "alsa_input.usb-mic", p.device,
		"capture opens the configured device, not the server default")
}

func TestPulseSourceRejectsUnsupportedFormats(t *testing.T) {
	p := NewPulseSource(pulseTestLogger(), "")

	assert.False(t, p.Start(Format{SampleRate: 16000, Channels: 2, BitDepth: 16}),
		"stereo capture is unsupported")
	assert.False(t, p.Start(Format{SampleRate: 16000, Channels: 1, BitDepth: 8}),
		"only PCM16 is supported")
}

func TestPulseSourceStopBeforeStart(t *testing.T) {
	p := NewPulseSource(pulseTestLogger(), "")
	p.Stop() // must not panic

	assert.Equal(t, 0, p.Read(make([]byte, 64)), "read while stopped yields nothing")
}
