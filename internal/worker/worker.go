package worker

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ai-benchmarks/aiperf/internal/aiperf/model"
	"github.com/ai-benchmarks/aiperf/internal/bus"
	"github.com/ai-benchmarks/aiperf/internal/config"
	"github.com/ai-benchmarks/aiperf/internal/events"
	"github.com/ai-benchmarks/aiperf/internal/otel"
)

// Converter builds an endpoint-specific request body for a dataset turn
// and reports whether its response is to be read as a stream.
type Converter interface {
	BuildRequest(turn model.Turn) (endpoint EndpointType, body map[string]any, stream bool)
}

// Worker is the Worker service: one HTTP Client, one credit serviced at
// a time, publishing RequestRecords and periodic WorkerHealth.
type Worker struct {
	id        string
	client    *Client
	converter Converter
	dataset   interface {
		GetTurn(conversationID string, turnIndex int) (model.Turn, error)
	}

	deps    bus.Deps
	cleanup bus.CleanupStack

	health healthTracker

	stopped atomic.Bool
	wg      sync.WaitGroup
}

// New constructs a Worker identified by id.
func New(id string, client *Client, converter Converter, dataset interface {
	GetTurn(conversationID string, turnIndex int) (model.Turn, error)
}) *Worker {
	return &Worker{id: id, client: client, converter: converter, dataset: dataset}
}

func (w *Worker) Init(_ context.Context, deps bus.Deps) error {
	w.deps = deps
	return nil
}

// Start launches the credit-consumption loop and the periodic health
// reporter, each as its own goroutine, registered for LIFO cleanup.
func (w *Worker) Start(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(ctx)
	w.cleanup.Push(func(context.Context) error { cancel(); return nil })

	// The credit loop ends once the closed credit queue is drained, so
	// in-flight requests finish; the health ticker ends only on
	// cancellation, so it is cancelled first.
	healthCtx, cancelHealth := context.WithCancel(loopCtx)
	w.wg.Add(2)
	go w.creditLoop(loopCtx)
	go w.healthLoop(healthCtx)

	w.cleanup.Push(func(context.Context) error { w.wg.Wait(); return nil })
	w.cleanup.Push(func(context.Context) error { cancelHealth(); return nil })
	return nil
}

func (w *Worker) Stop(ctx context.Context) error {
	w.stopped.Store(true)
	return w.cleanup.Unwind(ctx)
}

func (w *Worker) creditLoop(ctx context.Context) {
	defer w.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		msg, ok := w.deps.Credits.Pop()
		if !ok {
			return
		}
		credit, ok := msg.Payload.(model.Credit)
		if !ok {
			continue
		}
		w.service(ctx, credit)
	}
}

// service runs the seven-step per-credit procedure named in §4.4: look
// up the turn, build the endpoint request, dial, read (streaming or
// not), build the RequestRecord, publish it, and return the credit.
func (w *Worker) service(ctx context.Context, credit model.Credit) {
	w.health.beginTask()
	defer w.health.endTask()

	opID := generateOpID(time.Now())
	record := model.RequestRecord{
		OpID:           opID,
		Phase:          credit.Phase,
		ConversationID: credit.ConversationID,
		TurnIndex:      credit.TurnIndex,
		WorkerID:       w.id,
		CreditDropNS:   credit.CreditDropNS,
		StartPerfNS:    time.Now().UnixNano(),
	}
	record.DelayedNS = record.StartPerfNS - credit.CreditDropNS

	events.GetGlobalEventLogger().LogCreditDrop(w.id, opID, record.DelayedNS)
	metrics := otel.GetGlobalMetrics()
	metrics.IncrementInFlight(ctx)
	defer metrics.DecrementInFlight(ctx)

	reqCtx := ctx
	var cancel context.CancelFunc
	if credit.ForceCancel && credit.CancelAfterNS > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, time.Duration(credit.CancelAfterNS))
		defer cancel()
	}

	outcome := "completed"
	turn, err := w.dataset.GetTurn(credit.ConversationID, credit.TurnIndex)
	if err != nil {
		record.Error = &model.ErrorDetails{Category: model.ErrorInternal, Message: err.Error()}
		outcome = "failed"
	} else {
		endpoint, body, stream := w.converter.BuildRequest(turn)
		record.EndpointType = string(endpoint)

		spanCtx, span := otel.GetGlobalTracer().StartOperationSpan(reqCtx, otel.OperationSpanOptions{
			Phase:        string(credit.Phase),
			WorkerID:     w.id,
			OpID:         opID,
			EndpointType: string(endpoint),
		})
		w.execute(spanCtx, endpoint, body, stream, &record)
		if record.Error != nil {
			otel.RecordError(span, errors.New(record.Error.Message), string(record.Error.Category), false)
			if record.Error.Category == model.ErrorCancelled {
				outcome = "cancelled"
			} else {
				outcome = "failed"
				w.health.recordFailure()
			}
		}
		span.End()
	}
	record.EndPerfNS = time.Now().UnixNano()
	durationMs := float64(record.EndPerfNS-record.StartPerfNS) / 1e6
	metrics.RecordCreditLatency(ctx, record.EndpointType, durationMs, record.Error == nil)
	if record.Error != nil {
		metrics.RecordError(ctx, string(record.Error.Category))
	}
	events.GetGlobalEventLogger().LogCreditReturn(w.id, opID, outcome, durationMs)

	w.deps.Records.Push(bus.Message{
		Envelope: bus.NewEnvelope(bus.TypeInferenceResults, w.id),
		Payload:  record,
	})
	w.deps.Events.Publish(bus.Message{
		Envelope: bus.NewEnvelope(bus.TypeCreditReturn, w.id),
		Payload: model.CreditReturn{
			Phase:          credit.Phase,
			ConversationID: credit.ConversationID,
			TurnIndex:      credit.TurnIndex,
			WorkerID:       w.id,
			Outcome:        outcome,
		},
	})
	w.health.taskServiced()
}

func (w *Worker) execute(ctx context.Context, endpoint EndpointType, body map[string]any, stream bool, record *model.RequestRecord) {
	resp, err := w.client.Do(ctx, endpoint, body, stream)
	if err != nil {
		record.Error = classifyTransportError(ctx, err)
		return
	}
	defer resp.Body.Close()
	record.Status = resp.StatusCode

	if resp.StatusCode >= 400 {
		data, _ := drainAndClose(resp.Body)
		record.Error = &model.ErrorDetails{Category: model.ErrorHTTPStatus, Message: string(data), HTTPCode: resp.StatusCode}
		return
	}

	if stream {
		w.readSSE(resp.Body, record)
		return
	}

	data, err := drainAndClose(resp.Body)
	if err != nil {
		record.Error = classifyTransportError(ctx, err)
		return
	}
	record.RecvStartPerfNS = time.Now().UnixNano()
	record.Responses = []model.Response{{RecvPerfNS: record.RecvStartPerfNS, Data: data}}
}

func (w *Worker) readSSE(body io.ReadCloser, record *model.RequestRecord) {
	dec := NewDecoder(body, time.Duration(config.DefaultSSEStallTimeoutMs)*time.Millisecond)
	defer dec.Close()

	first := true
	for {
		ev, err := dec.ReadEvent()
		if err != nil {
			var sseErr *SSEResponseError
			if errors.As(err, &sseErr) {
				record.Error = &model.ErrorDetails{Category: model.ErrorSSEStreamError, Message: sseErr.Data}
				return
			}
			if errors.Is(err, io.EOF) {
				return
			}
			if errors.Is(err, ErrSSEStall) {
				otel.GetGlobalMetrics().RecordSSEStall(context.Background())
			}
			record.Error = &model.ErrorDetails{Category: model.ErrorProtocol, Message: err.Error()}
			return
		}
		now := time.Now().UnixNano()
		if first {
			record.RecvStartPerfNS = now
			first = false
		}
		record.Responses = append(record.Responses, model.Response{RecvPerfNS: now, Data: []byte(ev.Data)})
	}
}

func classifyTransportError(ctx context.Context, err error) *model.ErrorDetails {
	if ctx.Err() != nil {
		return &model.ErrorDetails{Category: model.ErrorCancelled, Message: err.Error()}
	}
	return &model.ErrorDetails{Category: model.ErrorConnect, Message: err.Error()}
}
