package habits

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/habitnest/internal/calendar"
)

const (
	maxIdentifierLength = 190
	maxNameLength       = 190
	maxColorLength      = 32
	// DefaultColor is applied to habits created without a color.
	DefaultColor = "#22c55e"
)

var (
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("habits: invalid user id")
	// ErrInvalidHabitID indicates that a habit identifier is empty or exceeds storage bounds.
	ErrInvalidHabitID = errors.New("habits: invalid habit id")
	// ErrInvalidName indicates that a habit name is empty or too long.
	ErrInvalidName = errors.New("habits: invalid habit name")
)

// UserID represents a validated user identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed, err := validateIdentifier(rawInput)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidUserID, err)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// HabitID represents a validated habit identifier.
type HabitID string

// NewHabitID validates raw input and returns a HabitID.
func NewHabitID(rawInput string) (HabitID, error) {
	trimmed, err := validateIdentifier(rawInput)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidHabitID, err)
	}
	return HabitID(trimmed), nil
}

// String returns the underlying string identifier.
func (id HabitID) String() string {
	return string(id)
}

func validateIdentifier(rawInput string) (string, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", errors.New("empty")
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("exceeds %d characters", maxIdentifierLength)
	}
	return trimmed, nil
}

// Habit is a user-owned activity that completions are recorded against.
type Habit struct {
	ID               string `gorm:"column:id;primaryKey;size:64;not null"`
	UserID           string `gorm:"column:user_id;size:190;not null;index:idx_habits_user_created,priority:1"`
	Name             string `gorm:"column:name;size:190;not null"`
	Category         string `gorm:"column:category;size:190;not null;default:''"`
	Description      string `gorm:"column:description;type:text;not null;default:''"`
	Frequency        string `gorm:"column:frequency;size:64;not null;default:''"`
	Color            string `gorm:"column:color;size:32;not null;default:'#22c55e'"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null;index:idx_habits_user_created,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Habit) TableName() string {
	return "habits"
}

// Completion records that a habit was performed on a calendar day.
// Uniqueness of (habit_id, date) is not enforced here; readers deduplicate.
type Completion struct {
	ID                 string       `gorm:"column:id;primaryKey;size:64;not null"`
	UserID             string       `gorm:"column:user_id;size:190;not null;index:idx_completions_user_habit,priority:1"`
	HabitID            string       `gorm:"column:habit_id;size:64;not null;index:idx_completions_user_habit,priority:2"`
	Date               calendar.Day `gorm:"column:date;type:varchar(10);not null;index:idx_completions_user_habit,priority:3"`
	CompletedAtSeconds int64        `gorm:"column:completed_at_s;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (Completion) TableName() string {
	return "completions"
}

// HabitInput describes a habit to create.
type HabitInput struct {
	Name        string
	Category    string
	Description string
	Frequency   string
	Color       string
}

// HabitUpdate describes the editable fields of a habit. Nil fields are left unchanged.
type HabitUpdate struct {
	Name  *string
	Color *string
}

// Snapshot is the full habit and completion state of one user at a point in time.
type Snapshot struct {
	Habits      []Habit
	Completions []Completion
}

// HistoryEntry reports whether a habit was completed on a day.
type HistoryEntry struct {
	Date      calendar.Day
	Completed bool
}

func normalizeName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	return name, nil
}

func normalizeColor(raw string) string {
	color := strings.TrimSpace(raw)
	if color == "" || len(color) > maxColorLength {
		return DefaultColor
	}
	return color
}
