package detection

// Thresholds holds the decision cutoffs. VolumeThreshold applies to the
// raw RMS short-circuit; the remaining values are per-category cutoffs for
// the model path. The per-category design (rather than one global cutoff)
// mirrors the tuned model's behavior and is covered by tests.
type Thresholds struct {
	Volume           float32 `yaml:"volume"`
	Scream           float32 `yaml:"scream"`
	DistressCall     float32 `yaml:"distress_call"`
	ThreateningVoice float32 `yaml:"threatening_voice"`
	LoudNoise        float32 `yaml:"loud_noise"`
}

// DefaultThresholds returns the shipped tuning.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Volume:           0.6,
		Scream:           0.85,
		DistressCall:     0.70,
		ThreateningVoice: 0.70,
		LoudNoise:        0.70,
	}
}

// forCategory returns the cutoff for a model-path category.
func (t Thresholds) forCategory(c Category) float32 {
	switch c {
	case CategoryScream:
		return t.Scream
	case CategoryDistressCall:
		return t.DistressCall
	case CategoryThreateningVoice:
		return t.ThreateningVoice
	case CategoryLoudNoise:
		return t.LoudNoise
	default:
		return 1.0
	}
}

// Policy turns a score vector plus the raw volume into a single Result.
type Policy struct {
	thresholds Thresholds
}

// NewPolicy creates a decision policy with the given thresholds.
func NewPolicy(thresholds Thresholds) *Policy {
	return &Policy{thresholds: thresholds}
}

// Decide evaluates in fixed order with first-match-wins semantics:
//
//  1. Volume short-circuit: RMS at or above the volume threshold is an
//     immediate LoudNoise detection with confidence = volume, independent
//     of model health. Loud observable noise deliberately dominates
//     subtler classifier signals.
//  2. Model path: argmax over indices 1..4 (index 0 is "normal"), accepted
//     only if the winning category clears its own cutoff. Ties resolve to
//     the lowest index.
//
// A rejected or empty vector yields a non-threat result whose confidence
// carries the rejected top score for diagnostics only.
func (p *Policy) Decide(scores []float32, volume float32, timestampMs int64) Result {
	if volume >= p.thresholds.Volume {
		return Result{
			IsThreat:   true,
			Category:   CategoryLoudNoise,
			Confidence: volume,
			Timestamp:  timestampMs,
		}
	}

	best := -1
	var bestScore float32
	for i := 1; i < len(scores) && i < NumScores; i++ {
		if best == -1 || scores[i] > bestScore {
			best = i
			bestScore = scores[i]
		}
	}

	if best == -1 {
		return Result{Category: CategoryNone, Timestamp: timestampMs}
	}

	category := scoreIndexCategory[best]
	if bestScore >= p.thresholds.forCategory(category) {
		return Result{
			IsThreat:   true,
			Category:   category,
			Confidence: bestScore,
			Timestamp:  timestampMs,
		}
	}

	return Result{
		IsThreat:   false,
		Category:   CategoryNone,
		Confidence: bestScore,
		Timestamp:  timestampMs,
	}
}
