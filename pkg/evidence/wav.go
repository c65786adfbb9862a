package evidence

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
)

// wavFile writes PCM16 samples into a WAV container. The header is
// written up front with zero sizes and patched on finalize.
type wavFile struct {
	file          *os.File
	sampleRate    int
	channels      int
	bytesWritten  uint32
	headerWritten bool
	finalized     bool
	mu            sync.Mutex
}

func newWAVFile(file *os.File, sampleRate, channels int) (*wavFile, error) {
	if file == nil {
		return nil, fmt.Errorf("nil file provided for WAV writer")
	}
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if channels <= 0 {
		channels = 1
	}

	w := &wavFile{
		file:       file,
		sampleRate: sampleRate,
		channels:   channels,
	}
	if err := w.writeHeader(); err != nil {
		return nil, err
	}
	return w, nil
}

// Write appends PCM samples to the WAV file.
func (w *wavFile) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.finalized {
		return 0, fmt.Errorf("write to finalized WAV file")
	}

	n, err := w.file.Write(p)
	w.bytesWritten += uint32(n)
	return n, err
}

// Finalize patches the header sizes and closes the file. Idempotent.
func (w *wavFile) Finalize() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.finalized {
		return nil
	}
	w.finalized = true

	if err := w.updateSizes(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

func (w *wavFile) writeHeader() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	const bitsPerSample = 16
	byteRate := w.sampleRate * w.channels * bitsPerSample / 8
	blockAlign := w.channels * bitsPerSample / 8

	header := make([]byte, 44)
	copy(header[0:4], "RIFF")
	// Sizes at offsets 4 and 40 stay zero until finalize.
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(header[22:24], uint16(w.channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(w.sampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(header[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(header[34:36], bitsPerSample)
	copy(header[36:40], "data")

	if _, err := w.file.Write(header); err != nil {
		return fmt.Errorf("write WAV header: %w", err)
	}
	w.headerWritten = true
	return nil
}

func (w *wavFile) updateSizes() error {
	riffSize := make([]byte, 4)
	binary.LittleEndian.PutUint32(riffSize, 36+w.bytesWritten)
	if _, err := w.file.WriteAt(riffSize, 4); err != nil {
		return fmt.Errorf("patch RIFF size: %w", err)
	}

	dataSize := make([]byte, 4)
	binary.LittleEndian.PutUint32(dataSize, w.bytesWritten)
	if _, err := w.file.WriteAt(dataSize, 40); err != nil {
		return fmt.Errorf("patch data size: %w", err)
	}
	return nil
}
