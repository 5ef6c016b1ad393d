package records

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ai-benchmarks/aiperf/internal/aiperf/model"
	"github.com/ai-benchmarks/aiperf/internal/bus"
	"github.com/ai-benchmarks/aiperf/internal/config"
	"github.com/ai-benchmarks/aiperf/internal/events"
)

// ProcessingStats is the periodic broadcast named in §4.5.
type ProcessingStats struct {
	Phase     model.Phase
	Completed int64
	Failed    int64
}

// Manager is the Records Manager service: raw writer -> parser ->
// aggregator -> exporter, fed by the bus's record sink.
type Manager struct {
	serviceID  string
	artifactDir string

	writers    map[string]*Writer // keyed by worker ID, one file per worker
	writersMu  sync.Mutex
	aggregator *Aggregator
	promMetrics *PromMetrics
	exporter   *Exporter

	startNS   int64
	cancelled atomic.Bool
	configEchoMu sync.Mutex
	configEcho   any

	deps    bus.Deps
	cleanup bus.CleanupStack
	wg      sync.WaitGroup
}

// New constructs a Manager that writes raw records under artifactDir.
func New(serviceID, artifactDir string) *Manager {
	agg := NewAggregator()
	return &Manager{
		serviceID:   serviceID,
		artifactDir: artifactDir,
		writers:     make(map[string]*Writer),
		aggregator:  agg,
		promMetrics: NewPromMetrics(agg),
		exporter:    NewExporter(agg),
	}
}

func (m *Manager) Init(_ context.Context, deps bus.Deps) error {
	m.deps = deps
	return nil
}

// Start launches the intake loop draining deps.Records and a periodic
// ProcessingStats broadcaster.
func (m *Manager) Start(ctx context.Context) error {
	atomic.StoreInt64(&m.startNS, time.Now().UnixNano())

	loopCtx, cancel := context.WithCancel(ctx)
	m.cleanup.Push(func(context.Context) error { cancel(); return nil })

	// The intake loop ends once the closed record queue is drained; the
	// stats ticker ends only on cancellation, so it is cancelled first.
	statsCtx, cancelStats := context.WithCancel(loopCtx)
	m.wg.Add(2)
	go m.intakeLoop(loopCtx)
	go m.statsLoop(statsCtx)

	m.cleanup.Push(func(context.Context) error { m.wg.Wait(); return nil })
	m.cleanup.Push(func(context.Context) error { cancelStats(); return nil })
	return nil
}

// Stop drains remaining queued records (the WorkQueue is closed by the
// controller before Stop is called, so Pop returns ok=false once empty),
// flushes every raw writer, and runs the final CSV/JSON export.
func (m *Manager) Stop(ctx context.Context) error {
	if err := m.cleanup.Unwind(ctx); err != nil {
		return err
	}

	m.writersMu.Lock()
	for _, w := range m.writers {
		w.Close()
	}
	m.writersMu.Unlock()

	return m.Export(ctx)
}

func (m *Manager) intakeLoop(ctx context.Context) {
	defer m.wg.Done()
	for {
		if ctx.Err() != nil {
			m.drainRemaining()
			return
		}
		msg, ok := m.deps.Records.Pop()
		if !ok {
			return
		}
		record, ok := msg.Payload.(model.RequestRecord)
		if !ok {
			continue
		}
		m.ingest(record)
	}
}

func (m *Manager) drainRemaining() {
	for {
		msg, ok := m.deps.Records.TryPop()
		if !ok {
			return
		}
		if record, ok := msg.Payload.(model.RequestRecord); ok {
			m.ingest(record)
		}
	}
}

func (m *Manager) ingest(record model.RequestRecord) {
	w := m.writerFor(record.WorkerID)
	w.Write(record) // raw records are never dropped: invariant records_written = completed+failed

	parsed := Parse(record)
	m.aggregator.Add(parsed)
	m.promMetrics.Observe(parsed)
}

func (m *Manager) writerFor(workerID string) *Writer {
	m.writersMu.Lock()
	defer m.writersMu.Unlock()
	w, ok := m.writers[workerID]
	if !ok {
		path := filepath.Join(m.artifactDir, "raw_records", fmt.Sprintf("raw_records_%s.jsonl", sanitize(workerID)))
		var err error
		w, err = NewWriter(path)
		if err != nil {
			// Fall back to an in-memory-only writer so ingestion never
			// panics on a misconfigured artifact directory; the error is
			// surfaced once via the event bus instead.
			m.deps.Events.Publish(bus.Message{
				Envelope: bus.NewEnvelope(bus.TypeServiceError, m.serviceID),
				Payload:  fmt.Sprintf("records: failed to open raw writer for %s: %v", workerID, err),
			})
			w = NewDiscardWriter()
		}
		m.writers[workerID] = w
	}
	return w
}

func sanitize(id string) string {
	out := make([]rune, 0, len(id))
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

func (m *Manager) statsLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(time.Duration(config.DefaultStatsBroadcastIntervalMs) * time.Millisecond)
	defer ticker.Stop()
	phases := []model.Phase{model.PhaseWarmup, model.PhaseProfiling}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, phase := range phases {
				completed, failed := m.aggregator.Counts(phase)
				if completed == 0 && failed == 0 {
					continue
				}
				m.deps.Events.Publish(bus.Message{
					Envelope: bus.NewEnvelope(bus.TypeProcessingStats, m.serviceID),
					Payload:  ProcessingStats{Phase: phase, Completed: completed, Failed: failed},
				})
			}
		}
	}
}

// SetCancelled records whether the run was aborted before reaching
// StateCompleted, surfaced as ProfileResults.WasCancelled.
func (m *Manager) SetCancelled(v bool) {
	m.cancelled.Store(v)
}

// SetConfigEcho attaches the input configuration to echo back in
// profile_export_aiperf.json, per §6's "input-config echo" requirement.
func (m *Manager) SetConfigEcho(v any) {
	m.configEchoMu.Lock()
	defer m.configEchoMu.Unlock()
	m.configEcho = v
}

// Results assembles ProfileResults from the aggregator's profiling-phase
// state. Warmup records are excluded: ProfileResults describes the
// profiling run only, per §8 scenario 4.
func (m *Manager) Results() ProfileResults {
	return m.buildProfileResults(time.Now().UnixNano())
}

func (m *Manager) buildProfileResults(endNS int64) ProfileResults {
	completed, failed := m.aggregator.Counts(model.PhaseProfiling)
	return ProfileResults{
		Records:      m.aggregator.Records(model.PhaseProfiling),
		StartNS:      atomic.LoadInt64(&m.startNS),
		EndNS:        endNS,
		Completed:    completed,
		Errors:       failed,
		WasCancelled: m.cancelled.Load(),
		ErrorsByType: m.aggregator.ErrorsByType(model.PhaseProfiling),
	}
}

// Export writes the final CSV/JSON summaries under artifactDir.
func (m *Manager) Export(ctx context.Context) error {
	start := time.Now()
	phases := []model.Phase{model.PhaseWarmup, model.PhaseProfiling}
	results := m.buildProfileResults(start.UnixNano())

	m.configEchoMu.Lock()
	configEcho := m.configEcho
	m.configEchoMu.Unlock()

	csvPath := filepath.Join(m.artifactDir, "profile_export_aiperf.csv")
	if err := m.exporter.ExportCSV(csvPath, phases, results); err != nil {
		return err
	}
	jsonPath := filepath.Join(m.artifactDir, "profile_export_aiperf.json")
	if err := m.exporter.ExportJSON(jsonPath, phases, results, configEcho); err != nil {
		return err
	}

	var total int64
	for _, phase := range phases {
		completed, failed := m.aggregator.Counts(phase)
		total += completed + failed
	}
	events.GetGlobalEventLogger().LogExportComplete(csvPath, total, float64(time.Since(start).Microseconds())/1000.0)
	return nil
}

// MetricsHandler exposes the /metrics HTTP handler for an embedded mux,
// the same "small embedded net/http handler inside a service" shape
// internal/web/embed.go uses for its own asset handler.
func (m *Manager) MetricsHandler() http.Handler {
	return m.promMetrics.Handler()
}
