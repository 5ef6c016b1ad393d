package timing

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/ai-benchmarks/aiperf/internal/aiperf/model"
	"github.com/ai-benchmarks/aiperf/internal/bus"
)

func newTestRNG() *rand.Rand { return rand.New(rand.NewPCG(1, 2)) }

type fakeDataset struct {
	ids      []string
	schedule []model.ScheduleEntry
}

func (f fakeDataset) ConversationIDs() []string { return f.ids }
func (f fakeDataset) GetConversation(id string) (model.Conversation, error) {
	return model.Conversation{ID: id}, nil
}
func (f fakeDataset) GetTimingSchedule() []model.ScheduleEntry { return f.schedule }

func newTestManager(t *testing.T, ids []string) (*Manager, bus.Deps) {
	t.Helper()
	deps := bus.Deps{
		Events:  bus.NewEventBus(),
		Command: bus.NewCommandBus(),
		Credits: bus.NewWorkQueue(),
		Records: bus.NewWorkQueue(),
	}
	m := New("timing-manager", fakeDataset{ids: ids}, 42)
	if err := m.Init(context.Background(), deps); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return m, deps
}

// drainCredits services TotalCredits from the queue, returning each
// credit to the bus as completed, simulating a worker pool without
// pulling in the worker package.
func drainCredits(deps bus.Deps, phase model.Phase, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		msg, ok := deps.Credits.TryPop()
		if !ok {
			time.Sleep(time.Millisecond)
			continue
		}
		credit := msg.Payload.(model.Credit)
		deps.Events.Publish(bus.Message{
			Envelope: bus.NewEnvelope(bus.TypeCreditReturn, "worker-0"),
			Payload: model.CreditReturn{
				Phase:          credit.Phase,
				ConversationID: credit.ConversationID,
				Outcome:        "completed",
			},
		})
	}
}

func TestRunPhaseConcurrencyModeRespectsTotalCredits(t *testing.T) {
	m, deps := newTestManager(t, []string{"conv-1", "conv-2"})
	stop := make(chan struct{})
	go drainCredits(deps, model.PhaseWarmup, stop)
	defer close(stop)

	cfg := PhaseConfig{
		Phase:        model.PhaseWarmup,
		Mode:         ModeConcurrency,
		Concurrency:  2,
		TotalCredits: 5,
		SamplerKind:  SamplerSequential,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.RunPhase(ctx, cfg); err != nil {
		t.Fatalf("RunPhase: %v", err)
	}

	snap := m.Snapshot(model.PhaseWarmup)
	if snap.Sent != 5 {
		t.Fatalf("expected 5 credits sent, got %d", snap.Sent)
	}
	if snap.Outstanding != 0 {
		t.Fatalf("expected 0 outstanding after drain, got %d", snap.Outstanding)
	}
}

func TestRunPhasePublishesLifecycleEvents(t *testing.T) {
	m, deps := newTestManager(t, []string{"conv-1"})
	stop := make(chan struct{})
	go drainCredits(deps, model.PhaseProfiling, stop)
	defer close(stop)

	var seen []bus.MessageType
	for _, mt := range []bus.MessageType{bus.TypeCreditPhaseStart, bus.TypeCreditSendingComplete, bus.TypeCreditPhaseComplete} {
		mt := mt
		deps.Events.Subscribe(mt, "", func(msg bus.Message) { seen = append(seen, mt) })
	}

	cfg := PhaseConfig{
		Phase:        model.PhaseProfiling,
		Mode:         ModeConcurrency,
		Concurrency:  1,
		TotalCredits: 1,
		SamplerKind:  SamplerSequential,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.RunPhase(ctx, cfg); err != nil {
		t.Fatalf("RunPhase: %v", err)
	}

	time.Sleep(20 * time.Millisecond) // let async handler goroutines land
	if len(seen) != 3 {
		t.Fatalf("expected 3 lifecycle events published, got %d: %v", len(seen), seen)
	}
}

func TestRunPhasePublishesProgressEvents(t *testing.T) {
	m, deps := newTestManager(t, []string{"conv-1", "conv-2"})
	stop := make(chan struct{})
	// Sleeping a bit per credit stretches the phase past the 500ms
	// progress tick so at least one CreditPhaseProgress lands before
	// SendingComplete.
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			msg, ok := deps.Credits.TryPop()
			if !ok {
				time.Sleep(time.Millisecond)
				continue
			}
			time.Sleep(100 * time.Millisecond)
			credit := msg.Payload.(model.Credit)
			deps.Events.Publish(bus.Message{
				Envelope: bus.NewEnvelope(bus.TypeCreditReturn, "worker-0"),
				Payload: model.CreditReturn{
					Phase:          credit.Phase,
					ConversationID: credit.ConversationID,
					Outcome:        "completed",
				},
			})
		}
	}()
	defer close(stop)

	var progressCount int
	deps.Events.Subscribe(bus.TypeCreditPhaseProgress, "", func(msg bus.Message) { progressCount++ })

	cfg := PhaseConfig{
		Phase:        model.PhaseWarmup,
		Mode:         ModeConcurrency,
		Concurrency:  1,
		TotalCredits: 7,
		SamplerKind:  SamplerSequential,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.RunPhase(ctx, cfg); err != nil {
		t.Fatalf("RunPhase: %v", err)
	}

	if progressCount == 0 {
		t.Fatal("expected at least one CreditPhaseProgress message during a phase running longer than the progress tick")
	}
}

func TestOnCreditReturnTracksErrorsDistinctFromCompleted(t *testing.T) {
	m, deps := newTestManager(t, []string{"conv-1"})

	deps.Events.Publish(bus.Message{
		Envelope: bus.NewEnvelope(bus.TypeCreditReturn, "worker-0"),
		Payload:  model.CreditReturn{Phase: model.PhaseWarmup, Outcome: "failed"},
	})
	deps.Events.Publish(bus.Message{
		Envelope: bus.NewEnvelope(bus.TypeCreditReturn, "worker-0"),
		Payload:  model.CreditReturn{Phase: model.PhaseWarmup, Outcome: "completed"},
	})

	deadline := time.Now().Add(time.Second)
	for {
		snap := m.Snapshot(model.PhaseWarmup)
		if snap.Errors == 1 && snap.Completed == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected Errors=1, Completed=1, got %+v", snap)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestNextInterArrivalZeroRateReturnsZero(t *testing.T) {
	rng := newTestRNG()
	if d := nextInterArrival(ArrivalPoisson, 0, rng); d != 0 {
		t.Fatalf("expected zero duration for zero rate, got %v", d)
	}
}

func TestNextInterArrivalUniformIsDeterministicForFixedRate(t *testing.T) {
	rng := newTestRNG()
	d := nextInterArrival(ArrivalUniform, 10, rng)
	if d != 100*time.Millisecond {
		t.Fatalf("expected 100ms mean interval at 10rps, got %v", d)
	}
}
