// Package achievements evaluates the versioned achievement catalog against
// habit snapshots and records unlocks in an idempotent ledger.
package achievements

import (
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/habitnest/internal/progress"
	"github.com/gosimple/unidecode"
)

// Key identifies an achievement. Keys are never reused once shipped.
type Key string

// String returns the raw key.
func (k Key) String() string {
	return string(k)
}

// Shipped achievement keys.
const (
	KeyFirstHabit    Key = "first_habit"
	KeyStreakMaster  Key = "streak_master"
	KeyHabitBuilder  Key = "habit_builder"
	KeyConsistency   Key = "consistency"
	KeySuperStreak   Key = "super_streak"
	KeyEarlyBird     Key = "early_bird"
	KeyNightOwl      Key = "night_owl"
	KeyChampion      Key = "champion"
	KeyMindful       Key = "mindful"
	KeyStepUp        Key = "step_up"
	KeyHealthyChoice Key = "healthy_choice"
	KeyCalendarPro   Key = "calendar_pro"
	KeyPerfectWeek   Key = "perfect_week"
	KeyPerfectMonth  Key = "perfect_month"
)

// CurrentCatalogVersion is the version of DefaultCatalog.
const CurrentCatalogVersion = 2

const (
	earlyBirdHourLimit = 8
	nightOwlHourStart  = 22
)

// Predicate reports whether a snapshot satisfies an achievement.
type Predicate func(Snapshot) bool

// Definition describes one achievement. Since is the catalog version that introduced the key.
type Definition struct {
	Key         Key
	Title       string
	Description string
	Icon        string
	Since       int
	Predicate   Predicate
}

// Catalog is an ordered, versioned set of definitions.
type Catalog struct {
	version     int
	definitions []Definition
	index       map[Key]int
}

// NewCatalog builds a catalog. Definitions keep their given order; a repeated key keeps the first definition.
func NewCatalog(version int, definitions ...Definition) Catalog {
	catalog := Catalog{
		version:     version,
		definitions: make([]Definition, 0, len(definitions)),
		index:       make(map[Key]int, len(definitions)),
	}
	for _, definition := range definitions {
		if _, exists := catalog.index[definition.Key]; exists || definition.Predicate == nil {
			continue
		}
		catalog.index[definition.Key] = len(catalog.definitions)
		catalog.definitions = append(catalog.definitions, definition)
	}
	return catalog
}

// Version returns the catalog version.
func (c Catalog) Version() int {
	return c.version
}

// Definitions returns a copy of the definitions in catalog order.
func (c Catalog) Definitions() []Definition {
	out := make([]Definition, len(c.definitions))
	copy(out, c.definitions)
	return out
}

// Lookup returns the definition for key.
func (c Catalog) Lookup(key Key) (Definition, bool) {
	position, ok := c.index[key]
	if !ok {
		return Definition{}, false
	}
	return c.definitions[position], true
}

// Keys returns every key in catalog order.
func (c Catalog) Keys() []Key {
	keys := make([]Key, 0, len(c.definitions))
	for _, definition := range c.definitions {
		keys = append(keys, definition.Key)
	}
	return keys
}

// DefaultCatalog returns the shipped achievement catalog.
func DefaultCatalog() Catalog {
	return NewCatalog(CurrentCatalogVersion,
		Definition{Key: KeyFirstHabit, Icon: "🎯", Title: "First Habit", Description: "Create your first habit", Since: 1,
			Predicate: habitCountAtLeast(1)},
		Definition{Key: KeyStreakMaster, Icon: "🔥", Title: "Streak Master", Description: "Complete habits 7 times", Since: 1,
			Predicate: completionCountAtLeast(7)},
		Definition{Key: KeyHabitBuilder, Icon: "📚", Title: "Habit Builder", Description: "Create 5 different habits", Since: 1,
			Predicate: habitCountAtLeast(5)},
		Definition{Key: KeyConsistency, Icon: "💪", Title: "Consistency", Description: "Complete 10 habits", Since: 1,
			Predicate: completionCountAtLeast(10)},
		Definition{Key: KeySuperStreak, Icon: "🌟", Title: "Super Streak", Description: "Complete habits 30 times", Since: 1,
			Predicate: completionCountAtLeast(30)},
		Definition{Key: KeyEarlyBird, Icon: "🕒", Title: "Early Bird", Description: "Complete a habit before 8am", Since: 1,
			Predicate: anyCompletionHour(func(hour int) bool { return hour < earlyBirdHourLimit })},
		Definition{Key: KeyNightOwl, Icon: "🌙", Title: "Night Owl", Description: "Complete a habit after 10pm", Since: 1,
			Predicate: anyCompletionHour(func(hour int) bool { return hour >= nightOwlHourStart })},
		Definition{Key: KeyChampion, Icon: "🏆", Title: "Champion", Description: "Complete 100 habits", Since: 1,
			Predicate: completionCountAtLeast(100)},
		Definition{Key: KeyMindful, Icon: "🧘", Title: "Mindful", Description: "Create a meditation habit", Since: 1,
			Predicate: anyHabitNameContains("meditat")},
		Definition{Key: KeyStepUp, Icon: "🚶", Title: "Step Up", Description: "Create a walking habit", Since: 1,
			Predicate: anyHabitNameContains("walk")},
		Definition{Key: KeyHealthyChoice, Icon: "🥗", Title: "Healthy Choice", Description: "Create a healthy eating habit", Since: 1,
			Predicate: anyHabitNameContains("eat")},
		Definition{Key: KeyCalendarPro, Icon: "📅", Title: "Calendar Pro", Description: "Log 7 completions", Since: 1,
			Predicate: completionCountAtLeast(7)},
		Definition{Key: KeyPerfectWeek, Icon: "🗓️", Title: "Perfect Week", Description: "Complete a habit 7 days in a row", Since: 2,
			Predicate: longestHabitStreakAtLeast(7)},
		Definition{Key: KeyPerfectMonth, Icon: "👑", Title: "Perfect Month", Description: "Complete a habit 30 days in a row", Since: 2,
			Predicate: longestHabitStreakAtLeast(30)},
	)
}

func habitCountAtLeast(threshold int) Predicate {
	return func(snapshot Snapshot) bool {
		return len(snapshot.Habits) >= threshold
	}
}

func completionCountAtLeast(threshold int) Predicate {
	return func(snapshot Snapshot) bool {
		return len(snapshot.Completions) >= threshold
	}
}

// anyCompletionHour checks the local wall-clock hour of recorded completion instants.
// Completions without a recorded instant never match.
func anyCompletionHour(match func(hour int) bool) Predicate {
	return func(snapshot Snapshot) bool {
		for _, completion := range snapshot.Completions {
			if completion.CompletedAtSeconds <= 0 {
				continue
			}
			instant := time.Unix(completion.CompletedAtSeconds, 0).In(snapshot.location())
			if match(instant.Hour()) {
				return true
			}
		}
		return false
	}
}

func anyHabitNameContains(fragment string) Predicate {
	return func(snapshot Snapshot) bool {
		for _, habit := range snapshot.Habits {
			if strings.Contains(foldName(habit.Name), fragment) {
				return true
			}
		}
		return false
	}
}

func longestHabitStreakAtLeast(threshold int) Predicate {
	return func(snapshot Snapshot) bool {
		for _, habit := range snapshot.Habits {
			if progress.LongestStreak(progress.HabitDays(habit.ID, snapshot.Completions)) >= threshold {
				return true
			}
		}
		return false
	}
}

func foldName(name string) string {
	return strings.ToLower(unidecode.Unidecode(name))
}
