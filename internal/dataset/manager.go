// Package dataset implements the Dataset Manager: a write-once store of
// Conversations and an optional fixed-dispatch timing schedule, published
// once at startup and looked up by Turn index thereafter.
//
// Grounded on internal/session.Manager's guarded-map lifecycle
// (internal/session/manager.go), generalized from live session entities
// to immutable conversation records.
package dataset

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ai-benchmarks/aiperf/internal/aiperf/model"
	"github.com/ai-benchmarks/aiperf/internal/bus"
)

// Loader builds the full in-memory dataset. File/YAML parsing is out of
// scope for the core; callers supply a Loader that already knows how to
// produce Conversations (from a corpus, a synthetic generator, or a
// fixed-schedule trace).
type Loader func(ctx context.Context) ([]model.Conversation, []model.ScheduleEntry, error)

// Manager is the Dataset Manager service.
type Manager struct {
	serviceID string
	load      Loader

	mu            sync.RWMutex
	conversations map[string]model.Conversation
	schedule      []model.ScheduleEntry
	configured    bool

	deps    bus.Deps
	cleanup bus.CleanupStack
}

// New constructs a Manager that will invoke load on Start.
func New(serviceID string, load Loader) *Manager {
	return &Manager{
		serviceID:     serviceID,
		load:          load,
		conversations: make(map[string]model.Conversation),
	}
}

func (m *Manager) Init(_ context.Context, deps bus.Deps) error {
	m.deps = deps
	return nil
}

// Start loads the dataset synchronously (load failures are fatal
// configuration errors, per §4.2) and then broadcasts DatasetConfigured.
func (m *Manager) Start(ctx context.Context) error {
	conversations, schedule, err := m.load(ctx)
	if err != nil {
		return fmt.Errorf("dataset: load failed: %w", err)
	}

	m.mu.Lock()
	for _, c := range conversations {
		m.conversations[c.ID] = c
	}
	m.schedule = schedule
	m.configured = true
	m.mu.Unlock()

	m.deps.Events.Publish(bus.Message{
		Envelope: bus.NewEnvelope(bus.TypeDatasetConfigured, m.serviceID),
		Payload:  struct{ Count int }{Count: len(conversations)},
	})
	return nil
}

func (m *Manager) Stop(ctx context.Context) error {
	return m.cleanup.Unwind(ctx)
}

// ErrUnknownConversation is returned by GetConversation/GetTurn for an
// unrecognized ID.
var ErrUnknownConversation = fmt.Errorf("dataset: unknown conversation id")

// ErrTurnIndexOutOfRange is returned by GetTurn when turnIndex does not
// satisfy 0 <= turnIndex < len(turns).
var ErrTurnIndexOutOfRange = fmt.Errorf("dataset: turn index out of range")

// GetConversation returns the full Conversation for id.
func (m *Manager) GetConversation(id string) (model.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conversations[id]
	if !ok {
		return model.Conversation{}, ErrUnknownConversation
	}
	return c, nil
}

// GetTurn returns one Turn of a Conversation, enforcing the bounds
// invariant named in §4.2.
func (m *Manager) GetTurn(conversationID string, turnIndex int) (model.Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conversations[conversationID]
	if !ok {
		return model.Turn{}, ErrUnknownConversation
	}
	if turnIndex < 0 || turnIndex >= len(c.Turns) {
		return model.Turn{}, ErrTurnIndexOutOfRange
	}
	return c.Turns[turnIndex], nil
}

// GetTimingSchedule returns the fixed-schedule dispatch trace, if any.
func (m *Manager) GetTimingSchedule() []model.ScheduleEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.ScheduleEntry, len(m.schedule))
	copy(out, m.schedule)
	return out
}

// ConversationIDs returns every loaded conversation ID in sorted order,
// the base list the Timing Manager's samplers draw from.
func (m *Manager) ConversationIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.conversations))
	for id := range m.conversations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Configured reports whether Start has completed successfully.
func (m *Manager) Configured() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.configured
}
