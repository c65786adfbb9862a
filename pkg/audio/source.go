// Package audio provides microphone capture sources and the feature
// extraction used by the threat detection pipeline.
package audio

import (
	"sync"
)

// Format describes the PCM stream a source produces.
type Format struct {
	SampleRate int // samples per second
	Channels   int // 1 = mono
	BitDepth   int // bits per sample, 16 for PCM16
}

// DefaultFormat is 16kHz mono PCM16, the format the classifier is trained on.
func DefaultFormat() Format {
	return Format{
		SampleRate: 16000,
		Channels:   1,
		BitDepth:   16,
	}
}

// BytesPerSecond returns the raw byte rate of the format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * f.BitDepth / 8
}

// WindowBytes returns the buffer size for a window of the given milliseconds.
func (f Format) WindowBytes(windowMs int) int {
	n := f.BytesPerSecond() * windowMs / 1000
	// Keep sample alignment so PCM16 frames never split mid-sample.
	align := f.Channels * f.BitDepth / 8
	if align > 0 && n%align != 0 {
		n -= n % align
	}
	return n
}

// Source yields PCM audio from a capture device. A source is single-owner:
// it is acquired by MonitoringLoop.Start and released by Stop, and is not
// reentrant. Start reports false rather than returning an error when the
// device or permission is unavailable.
type Source interface {
	// Start acquires the device. Returns false if the device cannot be
	// opened; the caller treats this as a soft condition.
	Start(format Format) bool

	// Read fills buf with captured PCM bytes and returns the count read.
	// A short or zero read is valid when the device buffer is empty.
	Read(buf []byte) int

	// Stop releases the device. Idempotent.
	Stop()
}

// MemorySource is an in-process Source fed by test code or replayed
// captures. Reads consume queued frames in order; an empty queue yields a
// zero-length read.
type MemorySource struct {
	mu       sync.Mutex
	frames   [][]byte
	started  bool
	failOpen bool
}

// NewMemorySource creates an empty in-memory source.
func NewMemorySource() *MemorySource {
	return &MemorySource{}
}

// FailOpen makes subsequent Start calls report device unavailability.
func (m *MemorySource) FailOpen(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOpen = fail
}

// Feed queues a PCM frame for a later Read.
func (m *MemorySource) Feed(frame []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := make([]byte, len(frame))
	copy(buf, frame)
	m.frames = append(m.frames, buf)
}

// Start implements Source.
func (m *MemorySource) Start(Format) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOpen || m.started {
		return false
	}
	m.started = true
	return true
}

// Read implements Source.
func (m *MemorySource) Read(buf []byte) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started || len(m.frames) == 0 {
		return 0
	}

	frame := m.frames[0]
	n := copy(buf, frame)
	if n < len(frame) {
		m.frames[0] = frame[n:]
	} else {
		m.frames = m.frames[1:]
	}
	return n
}

// Stop implements Source.
func (m *MemorySource) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = false
}

// Started reports whether the source is currently acquired.
func (m *MemorySource) Started() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}

// Pending returns the number of queued frames, for test assertions.
func (m *MemorySource) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.frames)
}
