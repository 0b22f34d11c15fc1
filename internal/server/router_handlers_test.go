package server

import (
	"net/http"
	"testing"
)

type habitResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

type completionResponse struct {
	ID      string `json:"id"`
	HabitID string `json:"habit_id"`
	Date    string `json:"date"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type achievementsResponse struct {
	CatalogVersion int `json:"catalog_version"`
	UnlockedCount  int `json:"unlocked_count"`
	Achievements   []struct {
		Key      string `json:"key"`
		Unlocked bool   `json:"unlocked"`
	} `json:"achievements"`
}

func (r achievementsResponse) unlocked() map[string]bool {
	keys := map[string]bool{}
	for _, achievement := range r.Achievements {
		if achievement.Unlocked {
			keys[achievement.Key] = true
		}
	}
	return keys
}

func TestRegisterLoginAndAccessProtectedRoute(t *testing.T) {
	stack := newTestStack(t, nil)
	credentials := map[string]string{"username": "alice", "email": "alice@example.com", "password": "correct horse"}

	var account struct {
		UserID   string `json:"user_id"`
		Username string `json:"username"`
	}
	if status := stack.do(t, http.MethodPost, "/auth/register", "", credentials, &account); status != http.StatusCreated {
		t.Fatalf("expected 201 from register, got %d", status)
	}
	if account.UserID == "" || account.Username != "alice" {
		t.Fatalf("unexpected account: %+v", account)
	}

	var conflict errorResponse
	duplicate := map[string]string{"username": "alice", "email": "alice.two@example.com", "password": "correct horse"}
	if status := stack.do(t, http.MethodPost, "/auth/register", "", duplicate, &conflict); status != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate registration, got %d", status)
	}
	if conflict.Error != "username_taken" {
		t.Fatalf("expected username_taken, got %+v", conflict)
	}

	if status := stack.do(t, http.MethodPost, "/auth/login", "", map[string]string{"username": "alice", "password": "wrong password"}, nil); status != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong password, got %d", status)
	}

	var login struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int64  `json:"expires_in"`
		UserID      string `json:"user_id"`
	}
	if status := stack.do(t, http.MethodPost, "/auth/login", "", map[string]string{"username": "alice", "password": "correct horse"}, &login); status != http.StatusOK {
		t.Fatalf("expected 200 from login, got %d", status)
	}
	if login.AccessToken == "" || login.TokenType != "Bearer" || login.ExpiresIn != 3600 || login.UserID != account.UserID {
		t.Fatalf("unexpected login response: %+v", login)
	}

	var habitList struct {
		Habits []habitResponse `json:"habits"`
	}
	if status := stack.do(t, http.MethodGet, "/habits", login.AccessToken, nil, &habitList); status != http.StatusOK {
		t.Fatalf("expected 200 from habits, got %d", status)
	}
	if len(habitList.Habits) != 0 {
		t.Fatalf("expected no habits for a new account, got %d", len(habitList.Habits))
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	stack := newTestStack(t, nil)
	for _, path := range []string{"/habits", "/completions", "/achievements", "/progress/summary"} {
		if status := stack.do(t, http.MethodGet, path, "", nil, nil); status != http.StatusUnauthorized {
			t.Fatalf("expected 401 for %s without token, got %d", path, status)
		}
	}
	if status := stack.do(t, http.MethodGet, "/healthz", "", nil, nil); status != http.StatusOK {
		t.Fatalf("expected healthz to be public, got %d", status)
	}
}

func TestCreatingHabitUnlocksAchievements(t *testing.T) {
	stack := newTestStack(t, nil)
	token := stack.tokenFor(t, "user-1")

	var created habitResponse
	if status := stack.do(t, http.MethodPost, "/habits", token, map[string]string{"name": "Morning Meditation"}, &created); status != http.StatusCreated {
		t.Fatalf("expected 201, got %d", status)
	}
	if created.ID == "" || created.Color == "" {
		t.Fatalf("unexpected habit: %+v", created)
	}

	var result achievementsResponse
	if status := stack.do(t, http.MethodGet, "/achievements", token, nil, &result); status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	unlocked := result.unlocked()
	if !unlocked["first_habit"] || !unlocked["mindful"] || result.UnlockedCount != 2 {
		t.Fatalf("expected first_habit and mindful, got %+v", result)
	}
	if result.CatalogVersion != 2 || len(result.Achievements) != 14 {
		t.Fatalf("expected the full catalog, got version %d with %d entries", result.CatalogVersion, len(result.Achievements))
	}

	var other achievementsResponse
	stack.do(t, http.MethodGet, "/achievements", stack.tokenFor(t, "user-2"), nil, &other)
	if other.UnlockedCount != 0 {
		t.Fatalf("expected unlocks to be per user, got %+v", other.unlocked())
	}
}

func TestRenamingHabitUnlocksNameAchievements(t *testing.T) {
	stack := newTestStack(t, nil)
	token := stack.tokenFor(t, "user-1")

	var habit habitResponse
	if status := stack.do(t, http.MethodPost, "/habits", token, map[string]string{"name": "Reading"}, &habit); status != http.StatusCreated {
		t.Fatalf("expected 201, got %d", status)
	}
	var before achievementsResponse
	stack.do(t, http.MethodGet, "/achievements", token, nil, &before)
	if before.unlocked()["step_up"] {
		t.Fatalf("did not expect step_up before the rename: %v", before.unlocked())
	}

	var renamed habitResponse
	if status := stack.do(t, http.MethodPatch, "/habits/"+habit.ID, token, map[string]string{"name": "Morning walk"}, &renamed); status != http.StatusOK {
		t.Fatalf("expected 200 from rename, got %d", status)
	}
	if renamed.Name != "Morning walk" {
		t.Fatalf("unexpected renamed habit: %+v", renamed)
	}

	var after achievementsResponse
	stack.do(t, http.MethodGet, "/achievements", token, nil, &after)
	if unlocked := after.unlocked(); !unlocked["first_habit"] || !unlocked["step_up"] {
		t.Fatalf("expected step_up after renaming to a walking habit, got %v", unlocked)
	}
}

func TestProgressEndpoints(t *testing.T) {
	stack := newTestStack(t, nil)
	token := stack.tokenFor(t, "user-1")

	var habit habitResponse
	stack.do(t, http.MethodPost, "/habits", token, map[string]string{"name": "Read"}, &habit)
	for _, date := range []string{"2024-03-11", "2024-03-12", "2024-03-12", ""} {
		var completion completionResponse
		status := stack.do(t, http.MethodPost, "/completions", token, map[string]string{"habit_id": habit.ID, "date": date}, &completion)
		if status != http.StatusCreated {
			t.Fatalf("expected 201 for completion %q, got %d", date, status)
		}
		if date == "" && completion.Date != "2024-03-13" {
			t.Fatalf("expected completion to default to today, got %s", completion.Date)
		}
	}

	var summary struct {
		Today  string `json:"today"`
		Habits []struct {
			HabitID       string `json:"habit_id"`
			Name          string `json:"name"`
			Streak        int    `json:"streak"`
			LongestStreak int    `json:"longest_streak"`
			Total         int    `json:"total"`
			LastCompleted string `json:"last_completed"`
		} `json:"habits"`
		TotalCompletions     int `json:"total_completions"`
		WeeklyCount          int `json:"weekly_count"`
		WeeklyCompletionRate int `json:"weekly_completion_rate"`
	}
	if status := stack.do(t, http.MethodGet, "/progress/summary", token, nil, &summary); status != http.StatusOK {
		t.Fatalf("expected 200 from summary, got %d", status)
	}
	if summary.Today != "2024-03-13" || len(summary.Habits) != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	stats := summary.Habits[0]
	if stats.Name != "Read" || stats.Streak != 3 || stats.LongestStreak != 3 || stats.Total != 3 || stats.LastCompleted != "2024-03-13" {
		t.Fatalf("unexpected habit statistics: %+v", stats)
	}
	if summary.TotalCompletions != 3 || summary.WeeklyCount != 3 || summary.WeeklyCompletionRate != 43 {
		t.Fatalf("unexpected totals: %+v", summary)
	}

	var weekdays struct {
		Habit    string   `json:"habit"`
		Weekdays []string `json:"weekdays"`
		Counts   []int    `json:"counts"`
	}
	if status := stack.do(t, http.MethodGet, "/progress/weekdays", token, nil, &weekdays); status != http.StatusOK {
		t.Fatalf("expected 200 from weekdays, got %d", status)
	}
	if weekdays.Habit != "all" || len(weekdays.Counts) != 7 || weekdays.Weekdays[0] != "Sunday" {
		t.Fatalf("unexpected histogram: %+v", weekdays)
	}
	if weekdays.Counts[1] != 1 || weekdays.Counts[2] != 1 || weekdays.Counts[3] != 1 || weekdays.Counts[0] != 0 {
		t.Fatalf("expected one completion on Monday through Wednesday, got %v", weekdays.Counts)
	}
	stack.do(t, http.MethodGet, "/progress/weekdays?habit=other", token, nil, &weekdays)
	if weekdays.Counts[1] != 0 {
		t.Fatalf("expected filter to exclude other habits, got %v", weekdays.Counts)
	}

	var month struct {
		Year  int `json:"year"`
		Month int `json:"month"`
		Weeks [][]struct {
			Day         *int                 `json:"day"`
			Completions []completionResponse `json:"completions"`
		} `json:"weeks"`
	}
	if status := stack.do(t, http.MethodGet, "/progress/calendar?year=2024&month=3", token, nil, &month); status != http.StatusOK {
		t.Fatalf("expected 200 from calendar, got %d", status)
	}
	if month.Year != 2024 || month.Month != 3 || len(month.Weeks) != 6 {
		t.Fatalf("unexpected grid header: %d-%d with %d weeks", month.Year, month.Month, len(month.Weeks))
	}
	if month.Weeks[0][4].Day != nil || month.Weeks[0][5].Day == nil || *month.Weeks[0][5].Day != 1 {
		t.Fatalf("expected March 2024 to start on Friday")
	}
	if cell := month.Weeks[2][2]; cell.Day == nil || *cell.Day != 12 || len(cell.Completions) != 1 {
		t.Fatalf("expected one deduplicated completion on the 12th, got %+v", cell)
	}
	if status := stack.do(t, http.MethodGet, "/progress/calendar?year=2024&month=13", token, nil, nil); status != http.StatusBadRequest {
		t.Fatalf("expected 400 for month 13, got %d", status)
	}

	var history struct {
		Entries []struct {
			Date      string `json:"date"`
			Completed bool   `json:"completed"`
		} `json:"entries"`
	}
	path := "/habits/" + habit.ID + "/history?from=2024-03-10&to=2024-03-13"
	if status := stack.do(t, http.MethodGet, path, token, nil, &history); status != http.StatusOK {
		t.Fatalf("expected 200 from history, got %d", status)
	}
	if len(history.Entries) != 4 || history.Entries[0].Completed || !history.Entries[1].Completed || !history.Entries[3].Completed {
		t.Fatalf("unexpected history: %+v", history.Entries)
	}
}

func TestErrorKindsMapToStatusCodes(t *testing.T) {
	stack := newTestStack(t, nil)
	token := stack.tokenFor(t, "user-1")

	var missing errorResponse
	status := stack.do(t, http.MethodPost, "/completions", token, map[string]string{"habit_id": "missing", "date": "2024-03-13"}, &missing)
	if status != http.StatusNotFound || missing.Code == "" {
		t.Fatalf("expected 404 with a code for an unknown habit, got %d %+v", status, missing)
	}

	var invalid errorResponse
	if status := stack.do(t, http.MethodPost, "/habits", token, map[string]string{"name": "   "}, &invalid); status != http.StatusBadRequest {
		t.Fatalf("expected 400 for a blank name, got %d", status)
	}
	if invalid.Error != "invalid_name" {
		t.Fatalf("expected invalid_name, got %+v", invalid)
	}

	if status := stack.do(t, http.MethodPost, "/completions", token, map[string]string{"habit_id": "h", "date": "2024-02-30"}, nil); status != http.StatusBadRequest {
		t.Fatalf("expected 400 for an impossible date, got %d", status)
	}
	if status := stack.do(t, http.MethodDelete, "/completions/missing", token, nil, nil); status != http.StatusNotFound {
		t.Fatalf("expected 404 for an unknown completion, got %d", status)
	}
}

func TestHabitsAreScopedToTheirOwner(t *testing.T) {
	stack := newTestStack(t, nil)
	owner := stack.tokenFor(t, "user-1")
	intruder := stack.tokenFor(t, "user-2")

	var habit habitResponse
	stack.do(t, http.MethodPost, "/habits", owner, map[string]string{"name": "Walk"}, &habit)

	if status := stack.do(t, http.MethodPatch, "/habits/"+habit.ID, intruder, map[string]string{"name": "Mine"}, nil); status != http.StatusNotFound {
		t.Fatalf("expected 404 when editing another user's habit, got %d", status)
	}
	if status := stack.do(t, http.MethodDelete, "/habits/"+habit.ID, intruder, nil, nil); status != http.StatusNotFound {
		t.Fatalf("expected 404 when deleting another user's habit, got %d", status)
	}

	var renamed habitResponse
	if status := stack.do(t, http.MethodPatch, "/habits/"+habit.ID, owner, map[string]string{"name": "Evening walk", "color": "#000000"}, &renamed); status != http.StatusOK {
		t.Fatalf("expected 200 when editing own habit, got %d", status)
	}
	if renamed.Name != "Evening walk" || renamed.Color != "#000000" {
		t.Fatalf("unexpected renamed habit: %+v", renamed)
	}
	if status := stack.do(t, http.MethodDelete, "/habits/"+habit.ID, owner, nil, nil); status != http.StatusNoContent {
		t.Fatalf("expected 204 when deleting own habit, got %d", status)
	}
}
