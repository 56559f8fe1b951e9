package fitness

import "time"

const (
	recentWorkoutsWindow = 7
	progressDays         = 7
)

type Dashboard struct {
	XP                 int      `json:"xp"`
	Level              int      `json:"level"`
	Streak             int      `json:"streak"`
	NextLevelThreshold int      `json:"nextLevelThreshold"`
	LevelProgress      float64  `json:"levelProgress"` // percent of the current 500xp step
	XPRemaining        int      `json:"xpRemaining"`
	WeeklyVolume       int      `json:"weeklyVolume"`
	WorkoutsLogged     int      `json:"workoutsLogged"`
	DailyCalories      int      `json:"dailyCalories,omitempty"`
	DailyProtein       int      `json:"dailyProtein,omitempty"`
	Badges             []string `json:"badges"`
}

// Summarize builds the dashboard view. plan may be nil.
//
// Weekly volume covers the last 7 logged workouts, whatever their dates.
func Summarize(profile UserProfile, history []WorkoutEntry, plan *MealPlan) Dashboard {
	recent := history
	if len(recent) > recentWorkoutsWindow {
		recent = recent[len(recent)-recentWorkoutsWindow:]
	}
	weeklyVolume := 0
	for _, w := range recent {
		weeklyVolume += w.TotalVolume
	}

	stepXP := profile.XP % XPPerLevel
	dash := Dashboard{
		XP:                 profile.XP,
		Level:              profile.Level,
		Streak:             profile.Streak,
		NextLevelThreshold: profile.Level * XPPerLevel,
		LevelProgress:      float64(stepXP) / XPPerLevel * 100,
		XPRemaining:        XPPerLevel - stepXP,
		WeeklyVolume:       weeklyVolume,
		WorkoutsLogged:     len(history),
		Badges:             copyStrings(profile.Badges),
	}
	if plan != nil {
		dash.DailyCalories = plan.DailyCalories
		dash.DailyProtein = plan.Macros.Protein
	}

	return dash
}

type DayVolume struct {
	Date   time.Time `json:"date"`
	Day    string    `json:"day"`
	Volume int       `json:"volume"`
}

type WeeklyProgressReport struct {
	Days []DayVolume `json:"days"`
	// MaxVolume is the largest day volume, at least 1, for chart scaling
	MaxVolume int `json:"maxVolume"`
}

// WeeklyProgress sums workout volume per UTC calendar day for the 7 days ending at now.
func WeeklyProgress(history []WorkoutEntry, now time.Time) WeeklyProgressReport {
	nowUTC := now.UTC()
	today := time.Date(nowUTC.Year(), nowUTC.Month(), nowUTC.Day(), 0, 0, 0, 0, time.UTC)

	report := WeeklyProgressReport{
		Days:      make([]DayVolume, 0, progressDays),
		MaxVolume: 1,
	}
	for i := 0; i < progressDays; i++ {
		day := today.AddDate(0, 0, -(progressDays - 1 - i))
		dv := DayVolume{
			Date: day,
			Day:  day.Weekday().String()[:3],
		}
		for _, w := range history {
			if sameDay(w.Date.UTC(), day) {
				dv.Volume += w.TotalVolume
			}
		}
		if dv.Volume > report.MaxVolume {
			report.MaxVolume = dv.Volume
		}
		report.Days = append(report.Days, dv)
	}

	return report
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
