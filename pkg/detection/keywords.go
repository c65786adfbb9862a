package detection

import (
	"strings"
	"time"
	"unicode"
)

// DefaultKeywords is the shipped emergency keyword set. The list is
// intentionally multilingual; operators extend it through the tuning file.
var DefaultKeywords = []string{
	"help",
	"help me",
	"emergency",
	"call the police",
	"socorro",
	"ayuda",
	"au secours",
	"救命",
	"तत्काल मदद",
}

// KeywordSpotter is the text-only fallback path. It operates on already
// transcribed text, never on audio, and is logically OR'd with the audio
// pipeline for text-originated input.
type KeywordSpotter struct {
	keywords []string
}

// NewKeywordSpotter creates a spotter over the given keyword set; an empty
// set falls back to DefaultKeywords.
func NewKeywordSpotter(keywords []string) *KeywordSpotter {
	if len(keywords) == 0 {
		keywords = DefaultKeywords
	}
	kws := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			kws = append(kws, kw)
		}
	}
	return &KeywordSpotter{keywords: kws}
}

// Spot scans transcribed text for emergency keywords. Matching is plain
// substring containment: case-insensitive for Latin-script keywords and
// case-sensitive for everything else. The split matching is carried over
// from the original tuning and is intentionally not unified.
func (s *KeywordSpotter) Spot(text string) Result {
	now := time.Now().UnixMilli()
	if text == "" {
		return Result{Category: CategoryNone, Timestamp: now}
	}

	var lowered string
	for _, kw := range s.keywords {
		if isLatinScript(kw) {
			if lowered == "" {
				lowered = strings.ToLower(text)
			}
			if strings.Contains(lowered, strings.ToLower(kw)) {
				return Result{
					IsThreat:   true,
					Category:   CategoryEmergencyKeyword,
					Confidence: 1.0,
					Timestamp:  now,
				}
			}
		} else if strings.Contains(text, kw) {
			return Result{
				IsThreat:   true,
				Category:   CategoryEmergencyKeyword,
				Confidence: 1.0,
				Timestamp:  now,
			}
		}
	}

	return Result{Category: CategoryNone, Timestamp: now}
}

// Keywords returns the active keyword set.
func (s *KeywordSpotter) Keywords() []string {
	return s.keywords
}

// isLatinScript reports whether every letter in the keyword belongs to the
// Latin script.
func isLatinScript(kw string) bool {
	for _, r := range kw {
		if unicode.IsLetter(r) && !unicode.Is(unicode.Latin, r) {
			return false
		}
	}
	return true
}
