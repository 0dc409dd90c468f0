package analytics

import "math"

// Engagement score weights. They sum to 1.0; each sub-score saturates at its
// cap so no single behavior can dominate the composite.
const (
	weightDuration     = 0.30
	weightScrollDepth  = 0.20
	weightInteractions = 0.25
	weightSections     = 0.15
	weightChat         = 0.10

	durationCapSeconds = 600
	interactionsCap    = 10
	sectionsCap        = 5
	chatMessagesCap    = 5
)

// Score maps a session snapshot to a 0-100 engagement score. It is a pure
// function: the same snapshot always yields the same value.
func Score(s Snapshot) int {
	duration := capRatio(s.Duration(), durationCapSeconds)
	scroll := capRatio(float64(s.Scroll.MaxPercentage), 100)
	interactions := capRatio(float64(s.TotalInteractions()), interactionsCap)
	sections := capRatio(float64(len(s.Sections)), sectionsCap)

	chat := 0.0
	if s.Chat.TotalMessages > 0 {
		chat = capRatio(float64(s.Chat.TotalMessages), chatMessagesCap)
	}

	total := weightDuration*duration +
		weightScrollDepth*scroll +
		weightInteractions*interactions +
		weightSections*sections +
		weightChat*chat

	score := int(math.Round(total * 100))
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func capRatio(value, cap float64) float64 {
	if value <= 0 {
		return 0
	}
	if value >= cap {
		return 1
	}
	return value / cap
}
