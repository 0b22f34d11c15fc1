package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/habitnest/internal/achievements"
	"github.com/MarcoPoloResearchLab/habitnest/internal/calendar"
	"github.com/MarcoPoloResearchLab/habitnest/internal/progress"
	"github.com/gin-gonic/gin"
)

const (
	errorInvalidYear  = "invalid_year"
	errorInvalidMonth = "invalid_month"
	allHabitsFilter   = "all"
)

type habitSummaryPayload struct {
	HabitID       string       `json:"habit_id"`
	Name          string       `json:"name"`
	Color         string       `json:"color"`
	Streak        int          `json:"streak"`
	LongestStreak int          `json:"longest_streak"`
	Total         int          `json:"total"`
	LastCompleted calendar.Day `json:"last_completed"`
}

type progressSummaryPayload struct {
	Today                calendar.Day          `json:"today"`
	Habits               []habitSummaryPayload `json:"habits"`
	TotalCompletions     int                   `json:"total_completions"`
	WeeklyCount          int                   `json:"weekly_count"`
	WeeklyCompletionRate int                   `json:"weekly_completion_rate"`
}

type weekdayHistogramPayload struct {
	Habit    string   `json:"habit"`
	Weekdays []string `json:"weekdays"`
	Counts   []int    `json:"counts"`
}

type calendarCellPayload struct {
	Day         *int                `json:"day"`
	Completions []completionPayload `json:"completions"`
}

type monthCalendarPayload struct {
	Year  int                     `json:"year"`
	Month int                     `json:"month"`
	Weeks [][]calendarCellPayload `json:"weeks"`
}

type achievementsPayload struct {
	CatalogVersion int                   `json:"catalog_version"`
	UnlockedCount  int                   `json:"unlocked_count"`
	Achievements   []achievements.Status `json:"achievements"`
}

func (h *httpHandler) handleProgressSummary(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	snapshot, err := h.habits.Snapshot(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	today := h.today()
	summaries := progress.Summaries(snapshot.Habits, snapshot.Completions)
	response := progressSummaryPayload{
		Today:                today,
		Habits:               make([]habitSummaryPayload, 0, len(summaries)),
		TotalCompletions:     len(progress.Dedupe(snapshot.Completions)),
		WeeklyCount:          progress.WeeklyCount(snapshot.Habits, snapshot.Completions, today),
		WeeklyCompletionRate: progress.WeeklyCompletionRate(snapshot.Habits, snapshot.Completions, today),
	}
	for index, summary := range summaries {
		habit := snapshot.Habits[index]
		response.Habits = append(response.Habits, habitSummaryPayload{
			HabitID:       summary.HabitID,
			Name:          habit.Name,
			Color:         habit.Color,
			Streak:        summary.Streak,
			LongestStreak: summary.LongestStreak,
			Total:         summary.Total,
			LastCompleted: summary.LastCompleted,
		})
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleWeekdayHistogram(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	completions, err := h.habits.ListCompletions(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	filter := strings.TrimSpace(c.Query("habit"))
	if filter == "" {
		filter = allHabitsFilter
	}
	histogram := progress.WeekdayHistogram(completions, filter)
	response := weekdayHistogramPayload{
		Habit:    filter,
		Weekdays: make([]string, 0, len(histogram)),
		Counts:   histogram[:],
	}
	for weekday := time.Sunday; weekday <= time.Saturday; weekday++ {
		response.Weekdays = append(response.Weekdays, weekday.String())
	}
	c.JSON(http.StatusOK, response)
}

// handleMonthCalendar serves the 6x7 grid for ?year=&month=, where month is 1..12 (January is 1).
func (h *httpHandler) handleMonthCalendar(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}

	today := h.today()
	year, month := today.Year, today.Month
	if raw := strings.TrimSpace(c.Query("year")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": errorInvalidYear})
			return
		}
		year = parsed
	}
	if raw := strings.TrimSpace(c.Query("month")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": errorInvalidMonth})
			return
		}
		month = time.Month(parsed)
	}

	completions, err := h.habits.ListCompletions(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	grid, err := progress.BuildMonthGrid(year, month, completions)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errorInvalidMonth})
		return
	}

	response := monthCalendarPayload{
		Year:  grid.Year,
		Month: int(grid.Month),
		Weeks: make([][]calendarCellPayload, 0, len(grid.Cells)),
	}
	for _, row := range grid.Cells {
		week := make([]calendarCellPayload, 0, len(row))
		for _, cell := range row {
			payload := calendarCellPayload{Completions: newCompletionPayloads(cell.Completions)}
			if !cell.Empty() {
				dayOfMonth := cell.DayOfMonth
				payload.Day = &dayOfMonth
			}
			week = append(week, payload)
		}
		response.Weeks = append(response.Weeks, week)
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleListAchievements(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	statuses, err := h.achievements.Statuses(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	response := achievementsPayload{
		CatalogVersion: h.achievements.Catalog().Version(),
		Achievements:   statuses,
	}
	for _, status := range statuses {
		if status.Unlocked {
			response.UnlockedCount++
		}
	}
	c.JSON(http.StatusOK, response)
}
