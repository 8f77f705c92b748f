package domain

// Indicator is the derived health classification of a board item. It is
// recomputed on every read and never persisted.
type Indicator string

const (
	IndicatorOnTrack      Indicator = "on_track"
	IndicatorSlow         Indicator = "slow"
	IndicatorStagnant     Indicator = "stagnant"
	IndicatorActionNeeded Indicator = "action_needed"
)

const (
	slowAfterDays     = 7
	stagnantAfterDays = 14
)

// Classify derives an item's health indicator from its age in the current
// stage and its explicit urgency flag. The rules are a strict priority
// cascade, first match wins: staleness dominates the urgency flag because
// an item untouched for two weeks is a bigger operational risk than one
// merely flagged urgent. Both thresholds are exclusive: day 7 is still on
// track, day 15 is the first stagnant day.
func Classify(ageInStageDays int, urgent bool) Indicator {
	switch {
	case ageInStageDays > stagnantAfterDays:
		return IndicatorStagnant
	case ageInStageDays > slowAfterDays:
		return IndicatorSlow
	case urgent:
		return IndicatorActionNeeded
	default:
		return IndicatorOnTrack
	}
}
