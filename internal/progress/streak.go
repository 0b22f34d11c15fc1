// Package progress derives streaks and display aggregates from completion
// snapshots. Every function is pure and tolerant of empty input.
package progress

import (
	"sort"

	"github.com/MarcoPoloResearchLab/habitnest/internal/calendar"
	"github.com/MarcoPoloResearchLab/habitnest/internal/habits"
)

type completionKey struct {
	habitID string
	date    calendar.Day
}

// Dedupe drops repeated (habit_id, date) completions, keeping the first seen.
func Dedupe(completions []habits.Completion) []habits.Completion {
	if len(completions) == 0 {
		return nil
	}
	seen := make(map[completionKey]struct{}, len(completions))
	unique := make([]habits.Completion, 0, len(completions))
	for _, completion := range completions {
		key := completionKey{habitID: completion.HabitID, date: completion.Date}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, completion)
	}
	return unique
}

// ComputeStreak counts consecutive days ending at the most recent day in days.
// The streak is not anchored to today.
func ComputeStreak(days []calendar.Day) int {
	sorted := distinctDescending(days)
	if len(sorted) == 0 {
		return 0
	}
	streak := 1
	for index := 1; index < len(sorted); index++ {
		if sorted[index].DaysUntil(sorted[index-1]) != 1 {
			break
		}
		streak++
	}
	return streak
}

// LongestStreak returns the longest run of consecutive days anywhere in days.
func LongestStreak(days []calendar.Day) int {
	sorted := distinctDescending(days)
	if len(sorted) == 0 {
		return 0
	}
	longest, current := 1, 1
	for index := 1; index < len(sorted); index++ {
		if sorted[index].DaysUntil(sorted[index-1]) == 1 {
			current++
		} else {
			current = 1
		}
		if current > longest {
			longest = current
		}
	}
	return longest
}

// HabitStreak computes the current streak of one habit from a mixed completion list.
func HabitStreak(habitID string, completions []habits.Completion) int {
	return ComputeStreak(HabitDays(habitID, completions))
}

// HabitDays collects the completion days of one habit.
func HabitDays(habitID string, completions []habits.Completion) []calendar.Day {
	days := make([]calendar.Day, 0, len(completions))
	for _, completion := range completions {
		if completion.HabitID == habitID && !completion.Date.IsZero() {
			days = append(days, completion.Date)
		}
	}
	return days
}

func distinctDescending(days []calendar.Day) []calendar.Day {
	if len(days) == 0 {
		return nil
	}
	seen := make(map[calendar.Day]struct{}, len(days))
	distinct := make([]calendar.Day, 0, len(days))
	for _, day := range days {
		if day.IsZero() {
			continue
		}
		if _, ok := seen[day]; ok {
			continue
		}
		seen[day] = struct{}{}
		distinct = append(distinct, day)
	}
	sort.Slice(distinct, func(i, j int) bool {
		return distinct[i].After(distinct[j])
	})
	return distinct
}
