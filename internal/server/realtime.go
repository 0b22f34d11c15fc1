package server

import (
	"context"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/habitnest/internal/achievements"
	"github.com/MarcoPoloResearchLab/habitnest/internal/habits"
)

const (
	// RealtimeEventAchievementUnlocked announces achievements that were just unlocked.
	RealtimeEventAchievementUnlocked = "achievement-unlocked"
	realtimeEventHeartbeat           = "heartbeat"
	realtimeSourceBackend            = "habitnest-backend"
	defaultSubscriberBuffer          = 16
)

// RealtimeMessage is one event delivered to a user's open streams.
type RealtimeMessage struct {
	UserID       string
	EventType    string
	Achievements []achievements.Definition
	Timestamp    time.Time
}

// RealtimeDispatcher fans events out to per-user subscribers. Slow subscribers drop messages.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
	now         func() time.Time
}

type realtimeSubscriber struct {
	id     int64
	stream chan RealtimeMessage
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[string]map[int64]*realtimeSubscriber),
		bufferSize:  defaultSubscriberBuffer,
		now:         time.Now,
	}
}

// Subscribe registers a stream for userID. The subscription ends when ctx is done or cleanup is called.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context, userID string) (<-chan RealtimeMessage, func()) {
	if userID == "" {
		ch := make(chan RealtimeMessage)
		close(ch)
		return ch, func() {}
	}
	subscriber := &realtimeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan RealtimeMessage, d.bufferSize),
	}
	d.registerSubscriber(userID, subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregisterSubscriber(userID, subscriber.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

func (d *RealtimeDispatcher) Publish(message RealtimeMessage) {
	if message.UserID == "" || message.EventType == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[message.UserID]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*realtimeSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

// PublishUnlocked delivers an achievement-unlocked event to the user's streams.
func (d *RealtimeDispatcher) PublishUnlocked(userID habits.UserID, unlocked []achievements.Definition) {
	if len(unlocked) == 0 {
		return
	}
	d.Publish(RealtimeMessage{
		UserID:       userID.String(),
		EventType:    RealtimeEventAchievementUnlocked,
		Achievements: unlocked,
		Timestamp:    d.now().UTC(),
	})
}

// SubscriberCount reports the open streams of userID.
func (d *RealtimeDispatcher) SubscriberCount(userID string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[userID])
}

func (d *RealtimeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *RealtimeDispatcher) registerSubscriber(userID string, subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[userID]; !ok {
		d.subscribers[userID] = make(map[int64]*realtimeSubscriber)
	}
	d.subscribers[userID][subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(userID string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[userID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, userID)
		}
	}
	d.mu.Unlock()
}

type achievementEventPayload struct {
	Key         achievements.Key `json:"key"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Icon        string           `json:"icon"`
}

type realtimeEventPayload struct {
	Source       string                    `json:"source"`
	Timestamp    int64                     `json:"timestamp_s"`
	Achievements []achievementEventPayload `json:"achievements,omitempty"`
}

func newRealtimeEventPayload(message RealtimeMessage) realtimeEventPayload {
	payload := realtimeEventPayload{
		Source:    realtimeSourceBackend,
		Timestamp: message.Timestamp.Unix(),
	}
	for _, definition := range message.Achievements {
		payload.Achievements = append(payload.Achievements, achievementEventPayload{
			Key:         definition.Key,
			Title:       definition.Title,
			Description: definition.Description,
			Icon:        definition.Icon,
		})
	}
	return payload
}
