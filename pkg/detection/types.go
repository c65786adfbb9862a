// Package detection implements the ambient-threat classification pipeline:
// an inference engine wrapper, the decision policy that turns scores into
// detections, and the keyword-spotting fallback over transcribed text.
package detection

// Category identifies one class in the threat taxonomy. Ordinal values
// match the classifier's output vector indices where applicable; beyond
// identity the ordinal carries no meaning.
type Category int

const (
	CategoryNone Category = iota
	CategoryScream
	CategoryDistressCall
	CategoryThreateningVoice
	CategoryLoudNoise
	CategoryEmergencyKeyword
)

// NumScores is the length of the classifier score vector. Index 0 is
// "normal"; indices 1..4 map to the audio-derived threat categories.
const NumScores = 5

func (c Category) String() string {
	switch c {
	case CategoryNone:
		return "none"
	case CategoryScream:
		return "scream"
	case CategoryDistressCall:
		return "distress_call"
	case CategoryThreateningVoice:
		return "threatening_voice"
	case CategoryLoudNoise:
		return "loud_noise"
	case CategoryEmergencyKeyword:
		return "emergency_keyword"
	default:
		return "unknown"
	}
}

// scoreIndexCategory maps a score vector index to its category.
var scoreIndexCategory = [NumScores]Category{
	CategoryNone,
	CategoryScream,
	CategoryDistressCall,
	CategoryThreateningVoice,
	CategoryLoudNoise,
}

// Result is the immutable outcome of one classification tick. Confidence
// is only meaningful when IsThreat is true; for non-threat results it
// carries the rejected top score for diagnostics and must not drive UI.
type Result struct {
	IsThreat   bool     `json:"is_threat"`
	Category   Category `json:"category"`
	Confidence float32  `json:"confidence"`
	Timestamp  int64    `json:"timestamp_ms"`
}
