package server

import (
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/habitnest/internal/calendar"
	"github.com/MarcoPoloResearchLab/habitnest/internal/habits"
	"github.com/gin-gonic/gin"
)

const (
	defaultHistoryDays = 30
	errorInvalidHabit  = "invalid_habit_id"
	errorInvalidDate   = "invalid_date"
)

type habitPayload struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Category         string `json:"category"`
	Description      string `json:"description"`
	Frequency        string `json:"frequency"`
	Color            string `json:"color"`
	CreatedAtSeconds int64  `json:"created_at_s"`
}

func newHabitPayload(habit habits.Habit) habitPayload {
	return habitPayload{
		ID:               habit.ID,
		Name:             habit.Name,
		Category:         habit.Category,
		Description:      habit.Description,
		Frequency:        habit.Frequency,
		Color:            habit.Color,
		CreatedAtSeconds: habit.CreatedAtSeconds,
	}
}

type createHabitRequestPayload struct {
	Name        string `json:"name"`
	Category    string `json:"category"`
	Description string `json:"description"`
	Frequency   string `json:"frequency"`
	Color       string `json:"color"`
}

type updateHabitRequestPayload struct {
	Name  *string `json:"name"`
	Color *string `json:"color"`
}

type completionPayload struct {
	ID                 string       `json:"id"`
	HabitID            string       `json:"habit_id"`
	Date               calendar.Day `json:"date"`
	CompletedAtSeconds int64        `json:"completed_at_s"`
}

func newCompletionPayloads(completions []habits.Completion) []completionPayload {
	payloads := make([]completionPayload, 0, len(completions))
	for _, completion := range completions {
		payloads = append(payloads, completionPayload{
			ID:                 completion.ID,
			HabitID:            completion.HabitID,
			Date:               completion.Date,
			CompletedAtSeconds: completion.CompletedAtSeconds,
		})
	}
	return payloads
}

type createCompletionRequestPayload struct {
	HabitID string `json:"habit_id"`
	Date    string `json:"date"`
}

type historyEntryPayload struct {
	Date      calendar.Day `json:"date"`
	Completed bool         `json:"completed"`
}

func (h *httpHandler) handleListHabits(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	habitList, err := h.habits.ListHabits(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	payloads := make([]habitPayload, 0, len(habitList))
	for _, habit := range habitList {
		payloads = append(payloads, newHabitPayload(habit))
	}
	c.JSON(http.StatusOK, gin.H{"habits": payloads})
}

func (h *httpHandler) handleCreateHabit(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	var request createHabitRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondInvalidRequest(c)
		return
	}

	habit, err := h.habits.CreateHabit(c.Request.Context(), userID, habits.HabitInput{
		Name:        request.Name,
		Category:    request.Category,
		Description: request.Description,
		Frequency:   request.Frequency,
		Color:       request.Color,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, newHabitPayload(habit))
	h.fireTrigger(c.Request.Context(), userID)
}

func (h *httpHandler) handleUpdateHabit(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	habitID, ok := habitIDParam(c)
	if !ok {
		return
	}
	var request updateHabitRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondInvalidRequest(c)
		return
	}

	habit, err := h.habits.UpdateHabit(c.Request.Context(), userID, habitID, habits.HabitUpdate{
		Name:  request.Name,
		Color: request.Color,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newHabitPayload(habit))
	h.fireTrigger(c.Request.Context(), userID)
}

func (h *httpHandler) handleDeleteHabit(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	habitID, ok := habitIDParam(c)
	if !ok {
		return
	}
	if err := h.habits.DeleteHabit(c.Request.Context(), userID, habitID); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
	h.fireTrigger(c.Request.Context(), userID)
}

func (h *httpHandler) handleHabitHistory(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	habitID, ok := habitIDParam(c)
	if !ok {
		return
	}

	to := h.today()
	if raw := strings.TrimSpace(c.Query("to")); raw != "" {
		parsed, err := calendar.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": errorInvalidDate})
			return
		}
		to = parsed
	}
	from := to.AddDays(1 - defaultHistoryDays)
	if raw := strings.TrimSpace(c.Query("from")); raw != "" {
		parsed, err := calendar.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": errorInvalidDate})
			return
		}
		from = parsed
	}

	entries, err := h.habits.History(c.Request.Context(), userID, habitID, from, to)
	if err != nil {
		h.respondError(c, err)
		return
	}
	payloads := make([]historyEntryPayload, 0, len(entries))
	for _, entry := range entries {
		payloads = append(payloads, historyEntryPayload{Date: entry.Date, Completed: entry.Completed})
	}
	c.JSON(http.StatusOK, gin.H{
		"habit_id": habitID.String(),
		"from":     from,
		"to":       to,
		"entries":  payloads,
	})
}

func (h *httpHandler) handleListCompletions(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}

	var (
		completions []habits.Completion
		err         error
	)
	if raw := strings.TrimSpace(c.Query("habit_id")); raw != "" {
		habitID, idErr := habits.NewHabitID(raw)
		if idErr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": errorInvalidHabit})
			return
		}
		completions, err = h.habits.ListHabitCompletions(c.Request.Context(), userID, habitID)
	} else {
		completions, err = h.habits.ListCompletions(c.Request.Context(), userID)
	}
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"completions": newCompletionPayloads(completions)})
}

func (h *httpHandler) handleCreateCompletion(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	var request createCompletionRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondInvalidRequest(c)
		return
	}
	habitID, err := habits.NewHabitID(request.HabitID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errorInvalidHabit})
		return
	}
	day := h.today()
	if raw := strings.TrimSpace(request.Date); raw != "" {
		parsed, parseErr := calendar.Parse(raw)
		if parseErr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": errorInvalidDate})
			return
		}
		day = parsed
	}

	completion, err := h.habits.AppendCompletion(c.Request.Context(), userID, habitID, day)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, newCompletionPayloads([]habits.Completion{completion})[0])
	h.fireTrigger(c.Request.Context(), userID)
}

func (h *httpHandler) handleDeleteCompletion(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	if err := h.habits.DeleteCompletion(c.Request.Context(), userID, c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
	h.fireTrigger(c.Request.Context(), userID)
}

func habitIDParam(c *gin.Context) (habits.HabitID, bool) {
	habitID, err := habits.NewHabitID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errorInvalidHabit})
		return "", false
	}
	return habitID, true
}
