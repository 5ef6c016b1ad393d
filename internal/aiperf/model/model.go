// Package model defines the wire and in-memory data types shared by every
// AIPerf service: conversations, credits, request records, and worker
// health/status.
package model

import "time"

// Phase identifies a scheduling phase of a benchmark run.
type Phase string

const (
	PhaseWarmup    Phase = "warmup"
	PhaseProfiling Phase = "profiling"
)

// Turn is a single request/response exchange within a Conversation.
type Turn struct {
	Index         int                    `json:"index"`
	Role          string                 `json:"role"`
	InputLength   int                    `json:"input_length,omitempty"`
	OutputLength  int                    `json:"output_length,omitempty"`
	Payload       map[string]interface{} `json:"payload,omitempty"`
	DelayMs       int64                  `json:"delay_ms,omitempty"`
}

// Conversation is a write-once sequence of Turns identified by
// ConversationID. The Dataset Manager is the sole writer; every other
// service only ever reads it.
type Conversation struct {
	ID    string `json:"conversation_id"`
	Turns []Turn `json:"turns"`
}

// ScheduleEntry binds a conversation to an absolute dispatch timestamp for
// fixed-schedule timing mode.
type ScheduleEntry struct {
	TimestampMs    int64  `json:"timestamp_ms"`
	ConversationID string `json:"conversation_id"`
}

// Credit is a one-shot permission to issue a single request, produced by
// the Timing Manager and consumed by exactly one Worker.
type Credit struct {
	Phase          Phase  `json:"phase"`
	ConversationID string `json:"conversation_id"`
	TurnIndex      int    `json:"turn_index"`
	CreditDropNS   int64  `json:"credit_drop_ns"`
	ForceCancel    bool   `json:"force_cancel"`
	CancelAfterNS  int64  `json:"cancel_after_ns,omitempty"`
}

// CreditReturn is sent by a Worker after it has finished servicing a
// Credit, regardless of outcome, so the Timing Manager's in-flight
// accounting stays exact.
type CreditReturn struct {
	Phase          Phase  `json:"phase"`
	ConversationID string `json:"conversation_id"`
	TurnIndex      int    `json:"turn_index"`
	WorkerID       string `json:"worker_id"`
	Outcome        string `json:"outcome"` // completed, failed, cancelled
}

// ErrorCategory classifies a RequestRecord's failure, if any.
type ErrorCategory string

const (
	ErrorNone            ErrorCategory = ""
	ErrorDNS             ErrorCategory = "dns"
	ErrorConnect         ErrorCategory = "connect"
	ErrorTLS             ErrorCategory = "tls"
	ErrorTimeout         ErrorCategory = "timeout"
	ErrorHTTPStatus      ErrorCategory = "http_status"
	ErrorProtocol        ErrorCategory = "protocol"
	ErrorSSEStreamError  ErrorCategory = "sse_stream_error"
	ErrorCancelled       ErrorCategory = "cancelled"
	ErrorInternal        ErrorCategory = "internal"
)

// ErrorDetails describes a failed or cancelled request.
type ErrorDetails struct {
	Category ErrorCategory `json:"category"`
	Message  string        `json:"message"`
	HTTPCode int           `json:"http_code,omitempty"`
}

// Response is one SSE event or one complete non-streaming body captured
// from the target endpoint.
type Response struct {
	RecvPerfNS int64  `json:"recv_perf_ns"`
	Data       []byte `json:"data"`
}

// RequestRecord is the raw, unparsed observation of a single HTTP
// exchange performed by a Worker in service of one Credit.
type RequestRecord struct {
	OpID           string         `json:"op_id"`
	Phase          Phase          `json:"phase"`
	ConversationID string         `json:"conversation_id"`
	TurnIndex      int            `json:"turn_index"`
	WorkerID       string         `json:"worker_id"`
	EndpointType   string         `json:"endpoint_type"`
	CreditDropNS   int64          `json:"credit_drop_ns"`
	DelayedNS      int64          `json:"delayed_ns"`
	StartPerfNS    int64          `json:"start_perf_ns"`
	RecvStartPerfNS int64         `json:"recv_start_perf_ns,omitempty"`
	EndPerfNS      int64          `json:"end_perf_ns"`
	Status         int            `json:"status"`
	Responses      []Response     `json:"responses,omitempty"`
	Error          *ErrorDetails  `json:"error,omitempty"`
	RequestHeaders map[string]string `json:"request_headers,omitempty"`
}

// ParsedResponseRecord is the endpoint-specific interpretation of a
// RequestRecord: token counts, usage passthrough, and per-metric samples
// ready for aggregation.
type ParsedResponseRecord struct {
	ConversationID  string             `json:"conversation_id"`
	TurnIndex       int                `json:"turn_index"`
	Phase           Phase              `json:"phase"`
	InputTokens     int                `json:"input_tokens,omitempty"`
	OutputTokens    int                `json:"output_tokens,omitempty"`
	TTFTNS          int64              `json:"ttft_ns,omitempty"`
	E2ENS           int64              `json:"e2e_ns"`
	InterTokenNS    []int64            `json:"inter_token_ns,omitempty"`
	Usage           map[string]any     `json:"usage,omitempty"`
	Failed          bool               `json:"failed"`
	ErrorCategory   ErrorCategory      `json:"error_category,omitempty"`
}

// CreditPhaseStats accumulates running counters for one phase, updated
// atomically by the Timing Manager as credits are dropped and returned.
type CreditPhaseStats struct {
	TotalExpected int64
	Sent          int64
	Completed     int64
	Errors        int64
	Outstanding   int64
	Cancelled     int64
	StartNS       int64
	SentEndNS     int64
	EndNS         int64
}

// WorkerStatus classifies a Worker's current operating condition.
type WorkerStatus string

const (
	WorkerHealthy  WorkerStatus = "healthy"
	WorkerHighLoad WorkerStatus = "high_load"
	WorkerError    WorkerStatus = "error"
	WorkerIdle     WorkerStatus = "idle"
	WorkerStale    WorkerStatus = "stale"
)

// WorkerHealth is the periodic self-report a Worker publishes to the
// event bus.
type WorkerHealth struct {
	WorkerID       string       `json:"worker_id"`
	Timestamp      time.Time    `json:"timestamp"`
	CPUPercent     float64      `json:"cpu_percent"`
	MemBytes       int64        `json:"mem_bytes"`
	InFlight       int          `json:"in_flight"`
	TasksServiced  int64        `json:"tasks_serviced"`
	RecentFailures int          `json:"recent_failures"`
	LastFailureAt  time.Time    `json:"last_failure_at,omitempty"`
	Status         WorkerStatus `json:"status"`
}

// TelemetrySample is one point of an opaque external telemetry series
// (e.g. GPU utilization), passed through the core untouched.
type TelemetrySample struct {
	TimestampMs int64   `json:"timestamp_ms"`
	Value       float64 `json:"value"`
}

// TelemetryHierarchy groups opaque telemetry series by endpoint URL, then
// device UUID, then metric name. The core never interprets the contents.
type TelemetryHierarchy map[string]map[string]map[string][]TelemetrySample

// MetricFlag marks a metric definition's export visibility.
type MetricFlag string

const (
	MetricStable       MetricFlag = "stable"
	MetricExperimental MetricFlag = "experimental"
	MetricInternal     MetricFlag = "internal"
)
