package timing

import (
	"context"
	"math"
	"math/rand/v2"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ai-benchmarks/aiperf/internal/aiperf/model"
	"github.com/ai-benchmarks/aiperf/internal/bus"
	"github.com/ai-benchmarks/aiperf/internal/config"
	"github.com/ai-benchmarks/aiperf/internal/randseed"
)

// Mode selects the timing strategy for a phase.
type Mode string

const (
	ModeConcurrency    Mode = "concurrency"
	ModeRequestRate    Mode = "request_rate"
	ModeFixedSchedule  Mode = "fixed_schedule"
)

// ArrivalDistribution selects the inter-arrival model for request-rate
// mode.
type ArrivalDistribution string

const (
	ArrivalPoisson ArrivalDistribution = "poisson"
	ArrivalUniform ArrivalDistribution = "uniform"
)

// PhaseConfig describes one phase's (warmup or profiling) timing
// parameters.
type PhaseConfig struct {
	Phase               model.Phase
	Mode                Mode
	Concurrency         int
	RequestsPerSecond   float64
	Arrival             ArrivalDistribution
	TotalCredits        int64 // 0 = unbounded, run until externally stopped
	CancelRatePercent   float64
	CancelAfterNS       int64
	SamplerKind         SamplerKind
	FixedScheduleOffset string // "auto" or "manual"
}

// DatasetSource is the subset of the Dataset Manager the Timing Manager
// depends on.
type DatasetSource interface {
	ConversationIDs() []string
	GetConversation(id string) (model.Conversation, error)
	GetTimingSchedule() []model.ScheduleEntry
}

// Manager is the Timing Manager service.
type Manager struct {
	serviceID string
	dataset   DatasetSource
	root      *randseed.Root

	deps    bus.Deps
	cleanup bus.CleanupStack

	mu    sync.Mutex
	stats map[model.Phase]*model.CreditPhaseStats

	stopPhase atomic.Bool
}

// New constructs a Manager seeded from seed so every sampler and
// scheduling decision it makes is reproducible.
func New(serviceID string, dataset DatasetSource, seed uint64) *Manager {
	return &Manager{
		serviceID: serviceID,
		dataset:   dataset,
		root:      randseed.NewRoot(seed),
		stats:     make(map[model.Phase]*model.CreditPhaseStats),
	}
}

func (m *Manager) Init(_ context.Context, deps bus.Deps) error {
	m.deps = deps
	return nil
}

func (m *Manager) Start(ctx context.Context) error {
	m.deps.Events.Subscribe(bus.TypeCreditReturn, "", m.onCreditReturn)
	return nil
}

func (m *Manager) Stop(ctx context.Context) error {
	m.stopPhase.Store(true)
	return m.cleanup.Unwind(ctx)
}

func (m *Manager) phaseStats(phase model.Phase) *model.CreditPhaseStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stats[phase]
	if !ok {
		s = &model.CreditPhaseStats{}
		m.stats[phase] = s
	}
	return s
}

func (m *Manager) onCreditReturn(msg bus.Message) {
	cr, ok := msg.Payload.(model.CreditReturn)
	if !ok {
		return
	}
	s := m.phaseStats(cr.Phase)
	atomic.AddInt64(&s.Outstanding, -1)
	switch cr.Outcome {
	case "cancelled":
		atomic.AddInt64(&s.Cancelled, 1)
	case "failed":
		atomic.AddInt64(&s.Errors, 1)
	default:
		atomic.AddInt64(&s.Completed, 1)
	}
}

// RunPhase drives cfg to completion (bounded TotalCredits) or until ctx
// is cancelled (unbounded phases, stopped externally). It publishes the
// totally-ordered Start -> Progress* -> SendingComplete -> Complete
// sequence required by §4.3.
func (m *Manager) RunPhase(ctx context.Context, cfg PhaseConfig) error {
	m.stopPhase.Store(false)
	stats := m.phaseStats(cfg.Phase)
	atomic.StoreInt64(&stats.TotalExpected, cfg.TotalCredits)
	atomic.StoreInt64(&stats.StartNS, time.Now().UnixNano())

	m.publish(bus.TypeCreditPhaseStart, cfg.Phase)

	ids := m.dataset.ConversationIDs()
	sort.Strings(ids) // deterministic base ordering before sampling
	sampler := NewSampler(cfg.SamplerKind, ids, m.root.Child(string(cfg.Phase)+"/sampler"))
	cancelRNG := m.root.Child(string(cfg.Phase) + "/cancel")

	progressDone := make(chan struct{})
	go m.reportProgress(cfg.Phase, stats, progressDone)

	var err error
	switch cfg.Mode {
	case ModeConcurrency:
		err = m.runConcurrency(ctx, cfg, sampler, cancelRNG, stats)
	case ModeRequestRate:
		err = m.runRequestRate(ctx, cfg, sampler, cancelRNG, stats)
	case ModeFixedSchedule:
		err = m.runFixedSchedule(ctx, cfg, cancelRNG, stats)
	}
	close(progressDone)
	if err != nil {
		return err
	}

	atomic.StoreInt64(&stats.SentEndNS, time.Now().UnixNano())
	m.publish(bus.TypeCreditSendingComplete, cfg.Phase)

	m.waitForDrain(ctx, stats)
	atomic.StoreInt64(&stats.EndNS, time.Now().UnixNano())
	m.publish(bus.TypeCreditPhaseComplete, cfg.Phase)
	return nil
}

func (m *Manager) waitForDrain(ctx context.Context, stats *model.CreditPhaseStats) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if atomic.LoadInt64(&stats.Outstanding) <= 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Manager) publish(msgType bus.MessageType, phase model.Phase) {
	m.deps.Events.Publish(bus.Message{
		Envelope: bus.NewEnvelope(msgType, m.serviceID),
		Payload:  phase,
	})
}

// reportProgress publishes a CreditPhaseStats snapshot on a fixed tick
// for as long as a phase is sending credits, regardless of which mode
// loop (concurrency/request-rate/fixed-schedule) is driving it. It
// stops as soon as done is closed, which RunPhase does right after its
// mode dispatch returns.
func (m *Manager) reportProgress(phase model.Phase, stats *model.CreditPhaseStats, done <-chan struct{}) {
	ticker := time.NewTicker(time.Duration(config.DefaultCreditProgressIntervalMs) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			m.deps.Events.Publish(bus.Message{
				Envelope: bus.NewEnvelope(bus.TypeCreditPhaseProgress, m.serviceID),
				Payload:  snapshotOf(stats),
			})
		}
	}
}

func snapshotOf(s *model.CreditPhaseStats) model.CreditPhaseStats {
	return model.CreditPhaseStats{
		TotalExpected: atomic.LoadInt64(&s.TotalExpected),
		Sent:          atomic.LoadInt64(&s.Sent),
		Completed:     atomic.LoadInt64(&s.Completed),
		Errors:        atomic.LoadInt64(&s.Errors),
		Outstanding:   atomic.LoadInt64(&s.Outstanding),
		Cancelled:     atomic.LoadInt64(&s.Cancelled),
		StartNS:       atomic.LoadInt64(&s.StartNS),
		SentEndNS:     atomic.LoadInt64(&s.SentEndNS),
		EndNS:         atomic.LoadInt64(&s.EndNS),
	}
}

func (m *Manager) issueCredit(phase model.Phase, convID string, stats *model.CreditPhaseStats, cancelRNG *rand.Rand, cfg PhaseConfig) {
	forceCancel := cfg.CancelRatePercent > 0 && cancelRNG.Float64()*100 < cfg.CancelRatePercent
	credit := model.Credit{
		Phase:          phase,
		ConversationID: convID,
		TurnIndex:      0,
		CreditDropNS:   time.Now().UnixNano(),
		ForceCancel:    forceCancel,
		CancelAfterNS:  cfg.CancelAfterNS,
	}
	atomic.AddInt64(&stats.Sent, 1)
	atomic.AddInt64(&stats.Outstanding, 1)
	m.deps.Credits.Push(bus.Message{
		Envelope: bus.NewEnvelope(bus.TypeCreditDrop, m.serviceID),
		Payload:  credit,
	})
}

func (m *Manager) runConcurrency(ctx context.Context, cfg PhaseConfig, sampler Sampler, cancelRNG *rand.Rand, stats *model.CreditPhaseStats) error {
	gate := NewInFlightGate(cfg.Concurrency)
	returns := make(chan struct{}, cfg.Concurrency*2+1)
	m.deps.Events.Subscribe(bus.TypeCreditReturn, "", func(msg bus.Message) {
		if cr, ok := msg.Payload.(model.CreditReturn); ok && cr.Phase == cfg.Phase {
			select {
			case returns <- struct{}{}:
			default:
			}
		}
	})

	// Each return frees one gate slot, so up to cfg.Concurrency credits
	// stay in flight while the loop below keeps issuing.
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-done:
				return
			case <-returns:
				gate.Release()
			}
		}
	}()

	var sentCount int64
	for {
		if cfg.TotalCredits > 0 && sentCount >= cfg.TotalCredits {
			return nil
		}
		if m.stopPhase.Load() {
			return nil
		}
		if err := gate.Acquire(ctx); err != nil {
			return nil
		}
		m.issueCredit(cfg.Phase, sampler.Next(), stats, cancelRNG, cfg)
		sentCount++
	}
}

func (m *Manager) runRequestRate(ctx context.Context, cfg PhaseConfig, sampler Sampler, cancelRNG *rand.Rand, stats *model.CreditPhaseStats) error {
	arrivalRNG := m.root.Child(string(cfg.Phase) + "/arrival")
	var sentCount int64
	next := time.Now()
	for {
		if cfg.TotalCredits > 0 && sentCount >= cfg.TotalCredits {
			return nil
		}
		if m.stopPhase.Load() {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Until(next)):
		}
		m.issueCredit(cfg.Phase, sampler.Next(), stats, cancelRNG, cfg)
		sentCount++
		next = next.Add(nextInterArrival(cfg.Arrival, cfg.RequestsPerSecond, arrivalRNG))
	}
}

func nextInterArrival(dist ArrivalDistribution, rps float64, rng *rand.Rand) time.Duration {
	if rps <= 0 {
		return 0
	}
	meanInterval := 1.0 / rps
	switch dist {
	case ArrivalUniform:
		return time.Duration(meanInterval * float64(time.Second))
	default: // Poisson
		u := rng.Float64()
		if u <= 0 {
			u = 1e-9
		}
		return time.Duration(-math.Log(u) * meanInterval * float64(time.Second))
	}
}

func (m *Manager) runFixedSchedule(ctx context.Context, cfg PhaseConfig, cancelRNG *rand.Rand, stats *model.CreditPhaseStats) error {
	entries := m.dataset.GetTimingSchedule()
	if len(entries) == 0 {
		return nil
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].TimestampMs < entries[j].TimestampMs })

	var offset time.Duration
	if cfg.FixedScheduleOffset != "manual" {
		offset = time.Duration(time.Now().UnixMilli()-entries[0].TimestampMs) * time.Millisecond
	}

	// Group entries sharing a timestamp into one dispatch burst, the
	// fixed-schedule analogue of internal/vu/engine.go's swarm-mode
	// ticker-driven batch spawn.
	i := 0
	for i < len(entries) {
		if m.stopPhase.Load() {
			return nil
		}
		j := i
		ts := entries[i].TimestampMs
		for j < len(entries) && entries[j].TimestampMs == ts {
			j++
		}
		target := time.UnixMilli(ts).Add(offset)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Until(target)):
		}
		for _, e := range entries[i:j] {
			m.issueCredit(cfg.Phase, e.ConversationID, stats, cancelRNG, cfg)
		}
		i = j
	}
	return nil
}

// Snapshot returns a copy of phase's current counters.
func (m *Manager) Snapshot(phase model.Phase) model.CreditPhaseStats {
	return snapshotOf(m.phaseStats(phase))
}
