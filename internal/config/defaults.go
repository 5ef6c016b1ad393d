// Package config holds default tunables shared across the Controller,
// Timing Manager, Worker pool, and Records Manager. It is not a
// flag/YAML parser: loading those defaults into a running profile is
// the excluded CLI/config-parsing layer.
package config

const (
	// DefaultMaxWorkers bounds the WorkerManager sizing formula
	// regardless of CPU count.
	DefaultMaxWorkers = 32

	// DefaultEventBufferSize is a buffer depth for event delivery. The
	// EventBus does not read it: it starts one goroutine per handler
	// invocation and has no buffered channel.
	DefaultEventBufferSize = 10000

	// DefaultSSEStallTimeoutMs is how long a worker waits for the next
	// SSE line before treating the stream as stalled.
	DefaultSSEStallTimeoutMs = 30000

	// DefaultStatsBroadcastIntervalMs is how often the Records Manager
	// publishes a ProcessingStats snapshot.
	DefaultStatsBroadcastIntervalMs = 2000

	// DefaultCreditProgressIntervalMs is how often the Timing Manager
	// publishes a CreditPhaseStats progress snapshot while a phase runs.
	DefaultCreditProgressIntervalMs = 500
)
