package achievements

import (
	"time"

	"github.com/MarcoPoloResearchLab/habitnest/internal/habits"
	"github.com/MarcoPoloResearchLab/habitnest/internal/progress"
)

// Snapshot is the state predicates are evaluated against.
// Location converts completion instants to local hours; nil means UTC.
type Snapshot struct {
	Habits      []habits.Habit
	Completions []habits.Completion
	Location    *time.Location
}

// NewSnapshot builds a snapshot with completions deduplicated on (habit, date).
func NewSnapshot(habitList []habits.Habit, completions []habits.Completion, location *time.Location) Snapshot {
	return Snapshot{
		Habits:      habitList,
		Completions: progress.Dedupe(completions),
		Location:    location,
	}
}

func (s Snapshot) location() *time.Location {
	if s.Location == nil {
		return time.UTC
	}
	return s.Location
}

// Evaluate returns, in catalog order, every key whose predicate holds and
// which is not already unlocked.
func Evaluate(catalog Catalog, snapshot Snapshot, alreadyUnlocked map[Key]struct{}) []Key {
	var satisfied []Key
	for _, definition := range catalog.definitions {
		if _, unlocked := alreadyUnlocked[definition.Key]; unlocked {
			continue
		}
		if definition.Predicate(snapshot) {
			satisfied = append(satisfied, definition.Key)
		}
	}
	return satisfied
}

// KeySet builds a lookup set from keys.
func KeySet(keys ...Key) map[Key]struct{} {
	set := make(map[Key]struct{}, len(keys))
	for _, key := range keys {
		set[key] = struct{}{}
	}
	return set
}
