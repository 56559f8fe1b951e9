package fitness

import "math"

type Macros struct {
	Calories int `json:"calories"`
	Protein  int `json:"protein"`
	Carbs    int `json:"carbs"`
	Fats     int `json:"fats"`
}

type Meal struct {
	Name     string   `json:"name"`
	Time     string   `json:"time"`
	Foods    []string `json:"foods"`
	Calories int      `json:"calories"`
}

type MealPlan struct {
	DailyCalories int      `json:"dailyCalories"`
	Macros        Macros   `json:"macros"`
	Meals         []Meal   `json:"meals"`
	GroceryList   []string `json:"groceryList"`
}

type mealTemplate struct {
	name  string
	time  string
	foods []string
	share float64
}

var goalMacros = map[Goal]Macros{
	GoalFatLoss:     {Calories: 1800, Protein: 150, Carbs: 150, Fats: 60},
	GoalMuscleGain:  {Calories: 2800, Protein: 200, Carbs: 320, Fats: 80},
	GoalMaintenance: {Calories: 2300, Protein: 170, Carbs: 230, Fats: 75},
}

var mealTemplates = []mealTemplate{
	{
		name:  "Breakfast",
		time:  "8:00 AM",
		foods: []string{"Oatmeal with berries", "Greek yogurt", "Banana", "Almonds"},
		share: 0.25,
	},
	{
		name:  "Lunch",
		time:  "12:30 PM",
		foods: []string{"Grilled chicken breast", "Brown rice", "Steamed broccoli", "Olive oil"},
		share: 0.35,
	},
	{
		name:  "Snack",
		time:  "3:30 PM",
		foods: []string{"Protein shake", "Apple", "Peanut butter"},
		share: 0.15,
	},
	{
		name:  "Dinner",
		time:  "7:00 PM",
		foods: []string{"Salmon fillet", "Sweet potato", "Mixed vegetables", "Avocado"},
		share: 0.25,
	},
}

var groceryList = []string{
	"Oats",
	"Greek yogurt",
	"Berries",
	"Bananas",
	"Almonds",
	"Chicken breast",
	"Brown rice",
	"Broccoli",
	"Olive oil",
	"Protein powder",
	"Apples",
	"Peanut butter",
	"Salmon",
	"Sweet potatoes",
	"Mixed vegetables",
	"Avocado",
}

// MacrosFor returns the macro targets for the goal, falling back to maintenance.
func MacrosFor(goal Goal) Macros {
	if m, ok := goalMacros[goal]; ok {
		return m
	}
	return goalMacros[GoalMaintenance]
}

// GenerateMealPlan builds the daily plan for the goal. Meal calories are
// rounded independently, so their sum may be off dailyCalories by a few kcal.
func GenerateMealPlan(goal Goal) MealPlan {
	macros := MacrosFor(goal)

	meals := make([]Meal, 0, len(mealTemplates))
	for _, tmpl := range mealTemplates {
		foods := make([]string, len(tmpl.foods))
		copy(foods, tmpl.foods)
		meals = append(meals, Meal{
			Name:     tmpl.name,
			Time:     tmpl.time,
			Foods:    foods,
			Calories: int(math.Round(float64(macros.Calories) * tmpl.share)),
		})
	}

	groceries := make([]string, len(groceryList))
	copy(groceries, groceryList)

	return MealPlan{
		DailyCalories: macros.Calories,
		Macros:        macros,
		Meals:         meals,
		GroceryList:   groceries,
	}
}
