package audio

import (
	"math"
)

// SpectralBands is the number of coarse band-energy slots appended to the
// feature vector after the RMS value. The band energies are a placeholder
// for a real spectral transform; the classifier contract only requires a
// fixed-length normalized vector.
const SpectralBands = 8

// FeatureLength is the length of the vector ExtractFeatures produces.
const FeatureLength = 1 + SpectralBands

// RMS computes the root-mean-square amplitude of a PCM16 little-endian
// buffer, normalized to [0, 1]. Used both as the loudness feature and as
// the UI level meter.
func RMS(pcm []byte) float32 {
	if len(pcm) < 2 {
		return 0
	}

	total := 0.0
	samples := len(pcm) / 2

	for i := 0; i < samples; i++ {
		// Two bytes to a 16-bit sample, little endian.
		sample := int16(pcm[i*2]) | (int16(pcm[i*2+1]) << 8)
		normalized := float64(sample) / 32768.0
		total += normalized * normalized
	}

	return float32(math.Sqrt(total / float64(samples)))
}

// ExtractFeatures converts one PCM16 window into the normalized feature
// vector consumed by the classifier: overall RMS first, then SpectralBands
// per-segment energies. Stateless and pure.
func ExtractFeatures(pcm []byte) []float32 {
	features := make([]float32, FeatureLength)
	features[0] = RMS(pcm)

	samples := len(pcm) / 2
	if samples == 0 {
		return features
	}

	// Placeholder spectral vector: RMS of equal time slices. A real
	// implementation would substitute filter-bank energies here without
	// changing the vector shape.
	segment := samples / SpectralBands
	if segment == 0 {
		segment = samples
	}

	for band := 0; band < SpectralBands; band++ {
		start := band * segment
		end := start + segment
		if start >= samples {
			break
		}
		if end > samples {
			end = samples
		}
		features[1+band] = RMS(pcm[start*2 : end*2])
	}

	return features
}
