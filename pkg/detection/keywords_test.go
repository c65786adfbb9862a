package detection

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSpotLatinKeywordIsCaseInsensitive(t *testing.T) {
	spotter := NewKeywordSpotter([]string{"help me"})

	result := spotter.Spot("someone please HELP ME now")
	assert.True(t, result.IsThreat)
	assert.Equal(t, CategoryEmergencyKeyword, result.Category)
	assert.Equal(t, float32(1.0), result.Confidence)
}

func TestSpotNonLatinKeywordIsCaseSensitive(t *testing.T) {
	spotter := NewKeywordSpotter([]string{"救命"})

	assert.True(t, spotter.Spot("有人在喊救命啊").IsThreat)
	assert.False(t, spotter.Spot("everything is fine").IsThreat)
}

func TestSpotNoMatch(t *testing.T) {
	spotter := NewKeywordSpotter([]string{"emergency"})

	result := spotter.Spot("just ordering a pizza")
	assert.False(t, result.IsThreat)
	assert.Equal(t, CategoryNone, result.Category)
}

func TestSpotEmptyText(t *testing.T) {
	spotter := NewKeywordSpotter(nil)
	assert.False(t, spotter.Spot("").IsThreat)
}

func TestSpotterDefaultsWhenEmpty(t *testing.T) {
	spotter := NewKeywordSpotter(nil)
	assert.NotEmpty(t, spotter.Keywords())
	assert.True(t, spotter.Spot("please send help").IsThreat)
}

func TestSpotterDropsBlankKeywords(t *testing.T) {
	spotter := NewKeywordSpotter([]string{" ", "ayuda", ""})
	assert.Len(t, spotter.Keywords(), 1)
	assert.True(t, spotter.Spot("AYUDA por favor").IsThreat, "Latin keyword matches case-insensitively")
}

func TestIsLatinScript(t *testing.T) {
	assert.True(t, isLatinScript("au secours"))
	assert.True(t, isLatinScript("socorro!"))
	assert.False(t, isLatinScript("救命"))
	assert.False(t, isLatinScript("тревога"))
}
