package server

import (
	"context"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/habitnest/internal/achievements"
)

func definitionsFor(t *testing.T, keys ...achievements.Key) []achievements.Definition {
	t.Helper()
	catalog := achievements.DefaultCatalog()
	definitions := make([]achievements.Definition, 0, len(keys))
	for _, key := range keys {
		definition, ok := catalog.Lookup(key)
		if !ok {
			t.Fatalf("unknown key %s", key)
		}
		definitions = append(definitions, definition)
	}
	return definitions
}

func TestRealtimeDispatcherPublishesToSubscriber(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, "user-1")
	defer cleanup()

	dispatcher.PublishUnlocked("user-1", definitionsFor(t, achievements.KeyFirstHabit, achievements.KeyMindful))

	select {
	case received := <-stream:
		if received.EventType != RealtimeEventAchievementUnlocked {
			t.Fatalf("expected event type %s, got %s", RealtimeEventAchievementUnlocked, received.EventType)
		}
		if len(received.Achievements) != 2 || received.Achievements[1].Key != achievements.KeyMindful {
			t.Fatalf("unexpected achievements: %+v", received.Achievements)
		}
		if received.Timestamp.IsZero() {
			t.Fatalf("expected timestamp to be set")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected realtime message within deadline")
	}
}

func TestRealtimeDispatcherIsolatedByUser(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	otherCtx, otherCancel := context.WithCancel(context.Background())
	defer otherCancel()

	userStream, cleanup := dispatcher.Subscribe(ctx, "user-2")
	defer cleanup()

	otherStream, otherCleanup := dispatcher.Subscribe(otherCtx, "user-3")
	defer otherCleanup()

	dispatcher.PublishUnlocked("user-3", definitionsFor(t, achievements.KeyStepUp))

	select {
	case <-userStream:
		t.Fatal("did not expect realtime message for unrelated user")
	case <-time.After(200 * time.Millisecond):
	}

	select {
	case msg := <-otherStream:
		if msg.UserID != "user-3" {
			t.Fatalf("expected user-3, received %s", msg.UserID)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected realtime message for subscribed user")
	}
}

func TestRealtimeDispatcherSkipsEmptyUnlocks(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, "user-1")
	defer cleanup()

	dispatcher.PublishUnlocked("user-1", nil)

	select {
	case <-stream:
		t.Fatal("did not expect an event without unlocks")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRealtimeDispatcherUnsubscribesOnCancel(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())

	_, cleanup := dispatcher.Subscribe(ctx, "user-1")
	if dispatcher.SubscriberCount("user-1") != 1 {
		t.Fatalf("expected one subscriber")
	}
	cancel()

	deadline := time.Now().Add(time.Second)
	for dispatcher.SubscriberCount("user-1") != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if dispatcher.SubscriberCount("user-1") != 0 {
		t.Fatalf("expected subscriber to be removed after cancel")
	}
	cleanup()
}
