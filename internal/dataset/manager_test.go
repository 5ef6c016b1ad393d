package dataset

import (
	"context"
	"errors"
	"testing"

	"github.com/ai-benchmarks/aiperf/internal/aiperf/model"
	"github.com/ai-benchmarks/aiperf/internal/bus"
)

func fixtureLoader(conversations []model.Conversation, schedule []model.ScheduleEntry, err error) Loader {
	return func(ctx context.Context) ([]model.Conversation, []model.ScheduleEntry, error) {
		return conversations, schedule, err
	}
}

func newStartedManager(t *testing.T, load Loader) *Manager {
	t.Helper()
	m := New("dataset-manager", load)
	if err := m.Init(context.Background(), bus.Deps{Events: bus.NewEventBus()}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return m
}

func TestManagerStartPublishesConfiguredAndLoadsConversations(t *testing.T) {
	conv := model.Conversation{ID: "conv-1", Turns: []model.Turn{{Index: 0, Role: "user"}}}
	m := New("dataset-manager", fixtureLoader([]model.Conversation{conv}, nil, nil))

	events := bus.NewEventBus()
	received := make(chan bus.Message, 1)
	events.Subscribe(bus.TypeDatasetConfigured, "", func(msg bus.Message) { received <- msg })

	if err := m.Init(context.Background(), bus.Deps{Events: events}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case <-received:
	default:
		t.Fatal("expected DatasetConfigured to be published")
	}

	if !m.Configured() {
		t.Fatal("expected Configured() to be true after Start")
	}
	got, err := m.GetConversation("conv-1")
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got.ID != "conv-1" {
		t.Fatalf("unexpected conversation: %+v", got)
	}
}

func TestManagerStartFailsOnLoaderError(t *testing.T) {
	m := New("dataset-manager", fixtureLoader(nil, nil, errors.New("boom")))
	if err := m.Init(context.Background(), bus.Deps{Events: bus.NewEventBus()}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := m.Start(context.Background()); err == nil {
		t.Fatal("expected Start to fail when the loader errors")
	}
	if m.Configured() {
		t.Fatal("expected Configured() to remain false after a failed load")
	}
}

func TestGetConversationUnknownID(t *testing.T) {
	m := newStartedManager(t, fixtureLoader(nil, nil, nil))
	if _, err := m.GetConversation("missing"); !errors.Is(err, ErrUnknownConversation) {
		t.Fatalf("expected ErrUnknownConversation, got %v", err)
	}
}

func TestGetTurnBoundsChecking(t *testing.T) {
	conv := model.Conversation{ID: "conv-1", Turns: []model.Turn{{Index: 0}, {Index: 1}}}
	m := newStartedManager(t, fixtureLoader([]model.Conversation{conv}, nil, nil))

	if _, err := m.GetTurn("conv-1", 1); err != nil {
		t.Fatalf("unexpected error for a valid index: %v", err)
	}
	if _, err := m.GetTurn("conv-1", 2); !errors.Is(err, ErrTurnIndexOutOfRange) {
		t.Fatalf("expected ErrTurnIndexOutOfRange, got %v", err)
	}
	if _, err := m.GetTurn("conv-1", -1); !errors.Is(err, ErrTurnIndexOutOfRange) {
		t.Fatalf("expected ErrTurnIndexOutOfRange for a negative index, got %v", err)
	}
	if _, err := m.GetTurn("missing", 0); !errors.Is(err, ErrUnknownConversation) {
		t.Fatalf("expected ErrUnknownConversation, got %v", err)
	}
}

func TestGetTimingScheduleReturnsACopy(t *testing.T) {
	schedule := []model.ScheduleEntry{{TimestampMs: 100, ConversationID: "conv-1"}}
	m := newStartedManager(t, fixtureLoader(nil, schedule, nil))

	got := m.GetTimingSchedule()
	got[0].TimestampMs = 999

	again := m.GetTimingSchedule()
	if again[0].TimestampMs != 100 {
		t.Fatal("expected GetTimingSchedule to return a defensive copy")
	}
}

func TestConversationIDsReturnsEveryLoadedID(t *testing.T) {
	convs := []model.Conversation{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	m := newStartedManager(t, fixtureLoader(convs, nil, nil))

	ids := m.ConversationIDs()
	if len(ids) != 3 {
		t.Fatalf("expected 3 ids, got %d", len(ids))
	}
	seen := map[string]bool{}
	for _, id := range ids {
		seen[id] = true
	}
	for _, want := range []string{"a", "b", "c"} {
		if !seen[want] {
			t.Fatalf("missing expected id %q in %v", want, ids)
		}
	}
}
