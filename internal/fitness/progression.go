package fitness

import "fmt"

const (
	// XPPerLevel is the xp step between level thresholds: level N ends at N*XPPerLevel.
	XPPerLevel = 500

	WorkoutXP  = 100
	AnalysisXP = 50
)

// ApplyXP adds amount to the profile xp and checks the level threshold.
//
// The threshold is checked once per call: a gain that crosses several
// thresholds still records a single level-up (and a single badge). The
// next call picks up where this one stopped.
func ApplyXP(profile UserProfile, amount int) UserProfile {
	updated := profile.clone()
	updated.XP += amount

	if updated.XP >= updated.Level*XPPerLevel {
		updated.Level++
		updated.Badges = append(updated.Badges, LevelBadge(updated.Level))
	}

	return updated
}

// LevelBadge is the badge unlocked when reaching the given level.
func LevelBadge(level int) string {
	return fmt.Sprintf("Level %d Warrior", level)
}

// LeveledUp reports whether after has a higher level than before.
func LeveledUp(before, after UserProfile) bool {
	return after.Level > before.Level
}
