package events

import (
	"io"
	"log/slog"
	"os"
	"sync"
)

// EventLogger provides structured logging for key events in an AIPerf
// benchmark run.
type EventLogger struct {
	logger   *slog.Logger
	runID    string
	workerID string
}

// NewEventLogger creates a new EventLogger with JSON output to stdout.
// It includes base attributes: run_id and worker_id.
func NewEventLogger(runID, workerID string) *EventLogger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	logger := slog.New(handler).With(
		"run_id", runID,
		"worker_id", workerID,
	)
	return &EventLogger{
		logger:   logger,
		runID:    runID,
		workerID: workerID,
	}
}

// NewEventLoggerWithWriter creates a new EventLogger with JSON output to a custom writer.
// Useful for testing or redirecting output.
func NewEventLoggerWithWriter(runID, workerID string, w io.Writer) *EventLogger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	logger := slog.New(handler).With(
		"run_id", runID,
		"worker_id", workerID,
	)
	return &EventLogger{
		logger:   logger,
		runID:    runID,
		workerID: workerID,
	}
}

// LogCreditDrop logs a credit being handed to a worker.
// event: "credit_drop"
// Attributes: worker_id, op_id, delayed_ns
func (el *EventLogger) LogCreditDrop(workerID, opID string, delayedNS int64) {
	el.logger.Info("credit_drop",
		"worker_id", workerID,
		"op_id", opID,
		"delayed_ns", delayedNS,
	)
}

// LogCreditReturn logs a completed or failed credit returning to the
// Timing Manager.
// event: "credit_return"
// Attributes: worker_id, op_id, status, duration_ms
func (el *EventLogger) LogCreditReturn(workerID, opID, status string, durationMs float64) {
	el.logger.Info("credit_return",
		"worker_id", workerID,
		"op_id", opID,
		"status", status,
		"duration_ms", durationMs,
	)
}

// LogWorkerStale logs when a worker's health status is derived as STALE
// by the observer's clock (the worker itself stopped reporting).
// event: "worker_stale"
// Attributes: worker_id, last_seen_ms_ago
func (el *EventLogger) LogWorkerStale(workerID string, lastSeenMsAgo int64) {
	el.logger.Warn("worker_stale",
		"worker_id", workerID,
		"last_seen_ms_ago", lastSeenMsAgo,
	)
}

// LogPhaseTransition logs a transition between run phases.
// event: "phase_transition"
// Attributes: from_phase, to_phase, reason
func (el *EventLogger) LogPhaseTransition(fromPhase, toPhase, reason string) {
	el.logger.Info("phase_transition",
		"from_phase", fromPhase,
		"to_phase", toPhase,
		"reason", reason,
	)
}

// LogWorkerLost logs a worker being removed from the pool, either
// because it exited or because its health crossed into ERROR.
// event: "worker_lost"
// Attributes: worker_id, reason
func (el *EventLogger) LogWorkerLost(workerID, reason string) {
	el.logger.Warn("worker_lost",
		"worker_id", workerID,
		"reason", reason,
	)
}

// LogExportComplete logs the Records Manager finishing its final
// CSV/JSON export.
// event: "export_complete"
// Attributes: path, record_count, duration_ms
func (el *EventLogger) LogExportComplete(path string, recordCount int64, durationMs float64) {
	el.logger.Info("export_complete",
		"path", path,
		"record_count", recordCount,
		"duration_ms", durationMs,
	)
}

// Global logger management
var (
	globalLogger *EventLogger
	globalMu     sync.RWMutex
)

// SetGlobalEventLogger sets the global event logger instance.
func SetGlobalEventLogger(l *EventLogger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = l
}

// GetGlobalEventLogger returns the global event logger instance.
// If no logger is set, returns a no-op logger.
func GetGlobalEventLogger() *EventLogger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalLogger != nil {
		return globalLogger
	}
	return NoopEventLogger()
}

// NoopEventLogger returns an event logger that discards all events.
// Useful for testing or when event logging is disabled.
func NoopEventLogger() *EventLogger {
	handler := slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	logger := slog.New(handler)
	return &EventLogger{
		logger:   logger,
		runID:    "",
		workerID: "",
	}
}
