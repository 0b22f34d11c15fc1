package progress

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/MarcoPoloResearchLab/habitnest/internal/calendar"
	"github.com/MarcoPoloResearchLab/habitnest/internal/habits"
)

const (
	daysPerWeek   = 7
	gridRows      = 6
	allHabits     = "all"
	maxPercentage = 100
)

// ErrInvalidMonth indicates a month outside 1..12.
var ErrInvalidMonth = errors.New("progress: invalid month")

// HabitSummary carries the dashboard statistics of one habit.
type HabitSummary struct {
	HabitID       string
	Streak        int
	LongestStreak int
	Total         int
	LastCompleted calendar.Day
}

// Summaries computes per-habit statistics in the order habits are given.
func Summaries(habitList []habits.Habit, completions []habits.Completion) []HabitSummary {
	unique := Dedupe(completions)
	summaries := make([]HabitSummary, 0, len(habitList))
	for _, habit := range habitList {
		days := HabitDays(habit.ID, unique)
		summary := HabitSummary{
			HabitID:       habit.ID,
			Streak:        ComputeStreak(days),
			LongestStreak: LongestStreak(days),
			Total:         len(days),
		}
		for _, day := range days {
			if day.After(summary.LastCompleted) {
				summary.LastCompleted = day
			}
		}
		summaries = append(summaries, summary)
	}
	return summaries
}

// WeekdayHistogram counts completions per day of week, Sunday first.
// An empty or "all" filter counts every habit.
func WeekdayHistogram(completions []habits.Completion, habitFilter string) [daysPerWeek]int {
	var histogram [daysPerWeek]int
	for _, completion := range Dedupe(completions) {
		if habitFilter != "" && habitFilter != allHabits && completion.HabitID != habitFilter {
			continue
		}
		if completion.Date.IsZero() {
			continue
		}
		histogram[completion.Date.Weekday()]++
	}
	return histogram
}

// WeeklyCount counts completions of known habits from the start of today's week through today.
func WeeklyCount(habitList []habits.Habit, completions []habits.Completion, today calendar.Day) int {
	known := make(map[string]struct{}, len(habitList))
	for _, habit := range habitList {
		known[habit.ID] = struct{}{}
	}

	start := today.StartOfWeek()
	count := 0
	for _, completion := range Dedupe(completions) {
		if _, ok := known[completion.HabitID]; !ok {
			continue
		}
		if completion.Date.Before(start) || completion.Date.After(today) {
			continue
		}
		count++
	}
	return count
}

// WeeklyCompletionRate returns the percentage of habit-days completed this week,
// treating every habit as a daily target. It is 0 when there are no habits.
func WeeklyCompletionRate(habitList []habits.Habit, completions []habits.Completion, today calendar.Day) int {
	expected := len(habitList) * daysPerWeek
	if expected == 0 {
		return 0
	}
	rate := int(math.Round(float64(WeeklyCount(habitList, completions, today)) / float64(expected) * 100))
	if rate > maxPercentage {
		return maxPercentage
	}
	return rate
}

// MonthCell is one slot of a month grid. DayOfMonth is 0 for padding cells.
type MonthCell struct {
	DayOfMonth  int
	Completions []habits.Completion
}

// Empty reports whether the cell lies outside the displayed month.
func (c MonthCell) Empty() bool {
	return c.DayOfMonth == 0
}

// MonthGrid is a Sunday-first 6x7 calendar of one month.
type MonthGrid struct {
	Year  int
	Month time.Month
	Cells [gridRows][daysPerWeek]MonthCell
}

// BuildMonthGrid lays out the month and buckets completions into their day's cell.
// Completions from other months are excluded.
func BuildMonthGrid(year int, month time.Month, completions []habits.Completion) (MonthGrid, error) {
	if month < time.January || month > time.December {
		return MonthGrid{}, fmt.Errorf("%w: %d", ErrInvalidMonth, int(month))
	}

	grid := MonthGrid{Year: year, Month: month}
	offset := int(calendar.Date(year, month, 1).Weekday())
	length := calendar.DaysIn(year, month)

	for row := 0; row < gridRows; row++ {
		for column := 0; column < daysPerWeek; column++ {
			dayOfMonth := row*daysPerWeek + column - offset + 1
			if dayOfMonth >= 1 && dayOfMonth <= length {
				grid.Cells[row][column].DayOfMonth = dayOfMonth
			}
		}
	}

	for _, completion := range Dedupe(completions) {
		if !completion.Date.InMonth(year, month) {
			continue
		}
		index := completion.Date.Day - 1 + offset
		cell := &grid.Cells[index/daysPerWeek][index%daysPerWeek]
		cell.Completions = append(cell.Completions, completion)
	}
	return grid, nil
}

// Cell returns the cell holding dayOfMonth, or false when the day is not in the month.
func (g MonthGrid) Cell(dayOfMonth int) (MonthCell, bool) {
	for _, row := range g.Cells {
		for _, cell := range row {
			if !cell.Empty() && cell.DayOfMonth == dayOfMonth {
				return cell, true
			}
		}
	}
	return MonthCell{}, false
}
