package audio

import (
	"io"
	"sync"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
	"github.com/sirupsen/logrus"
)

// PulseSource captures PCM from the default PulseAudio input device. It
// satisfies the Source contract: Start reports false instead of erroring
// when no Pulse server or input device is reachable, so a missing
// microphone degrades the session rather than failing it.
type PulseSource struct {
	logger *logrus.Logger
	device string

	mu      sync.Mutex
	client  *pulse.Client
	stream  *pulse.RecordStream
	pending []byte
	started bool
	stopped bool
}

// NewPulseSource creates a PulseAudio capture source. device selects the
// Pulse source by ID; empty means the server's default input.
func NewPulseSource(logger *logrus.Logger, device string) *PulseSource {
	return &PulseSource{logger: logger, device: device}
}

// Start implements Source. Only mono PCM16 formats are supported.
func (p *PulseSource) Start(format Format) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return false
	}
	if format.BitDepth != 16 || format.Channels != 1 {
		p.logger.WithFields(logrus.Fields{
			"bit_depth": format.BitDepth,
			"channels":  format.Channels,
		}).Warn("Unsupported capture format requested")
		return false
	}

	client, err := pulse.NewClient(
		pulse.ClientApplicationName("aegis"),
		pulse.ClientApplicationIconName("audio-input-microphone"),
	)
	if err != nil {
		p.logger.WithError(err).Warn("Pulse server unavailable, audio capture disabled")
		return false
	}

	var source *pulse.Source
	if p.device != "" {
		source, err = client.SourceByID(p.device)
		if err != nil {
			client.Close()
			p.logger.WithError(err).WithField("device", p.device).
				Warn("Configured audio input device unavailable")
			return false
		}
	} else {
		source, err = client.DefaultSource()
		if err != nil {
			client.Close()
			p.logger.WithError(err).Warn("No default audio input device")
			return false
		}
	}

	writer := pulse.NewWriter(pcmWriterFunc(p.onPCM), pulseproto.FormatInt16LE)
	stream, err := client.NewRecord(
		writer,
		pulse.RecordSource(source),
		pulse.RecordMono,
		pulse.RecordSampleRate(format.SampleRate),
		pulse.RecordMediaName("aegis ambient monitor"),
	)
	if err != nil {
		client.Close()
		p.logger.WithError(err).Warn("Failed to open record stream")
		return false
	}

	p.client = client
	p.stream = stream
	p.pending = nil
	p.started = true
	p.stopped = false
	stream.Start()

	p.logger.WithField("sample_rate", format.SampleRate).Info("Audio capture started")
	return true
}

// Read implements Source. Returns whatever buffered PCM is available, up to
// len(buf); never blocks on the device.
func (p *PulseSource) Read(buf []byte) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started || len(p.pending) == 0 {
		return 0
	}

	n := copy(buf, p.pending)
	p.pending = p.pending[n:]
	return n
}

// Stop implements Source. Idempotent.
func (p *PulseSource) Stop() {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	stream := p.stream
	client := p.client
	p.stream = nil
	p.client = nil
	p.started = false
	p.mu.Unlock()

	if stream != nil {
		stream.Stop()
		stream.Close()
	}
	if client != nil {
		client.Close()
	}

	p.logger.Info("Audio capture stopped")
}

// onPCM receives raw frames from the Pulse callback thread.
func (p *PulseSource) onPCM(buffer []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return 0, io.EOF
	}

	p.pending = append(p.pending, buffer...)

	// Cap buffered audio at roughly one second so a stalled reader does
	// not grow the buffer without bound; old samples are dropped first.
	const maxPending = 32 * 1024
	if len(p.pending) > maxPending {
		p.pending = p.pending[len(p.pending)-maxPending:]
	}

	return len(buffer), nil
}

// pcmWriterFunc adapts a function to io.Writer for pulse.NewWriter.
type pcmWriterFunc func([]byte) (int, error)

func (f pcmWriterFunc) Write(b []byte) (int, error) {
	return f(b)
}
