package fitness

import "time"

// Goal can be one of:
//   - fat_loss
//   - muscle_gain
//   - maintenance
type Goal string

const (
	GoalFatLoss     Goal = "fat_loss"
	GoalMuscleGain  Goal = "muscle_gain"
	GoalMaintenance Goal = "maintenance"
)

func (g Goal) String() string {
	return string(g)
}

func (g Goal) IsValid() bool {
	switch g {
	case GoalFatLoss,
		GoalMuscleGain,
		GoalMaintenance:
		return true
	default:
		return false
	}
}

// UserProfile holds identity, goal and the progression counters.
// Level is stored, not derived from XP on read.
type UserProfile struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Email    string    `json:"email"`
	Age      int       `json:"age"`
	Goal     Goal      `json:"goal"`
	XP       int       `json:"xp"`
	Level    int       `json:"level"`
	Streak   int       `json:"streak"`
	Badges   []string  `json:"badges"`
	JoinDate time.Time `json:"joinDate"`
}

// clone returns a copy that shares no slices with p
func (p UserProfile) clone() UserProfile {
	badges := make([]string, len(p.Badges))
	copy(badges, p.Badges)
	p.Badges = badges
	return p
}
