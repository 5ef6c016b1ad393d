package worker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ai-benchmarks/aiperf/internal/aiperf/model"
	"github.com/ai-benchmarks/aiperf/internal/bus"
)

type fakeDatasetSource struct {
	turn model.Turn
	err  error
}

func (f fakeDatasetSource) GetTurn(conversationID string, turnIndex int) (model.Turn, error) {
	return f.turn, f.err
}

func newTestWorker(t *testing.T, baseURL string, dataset fakeDatasetSource) (*Worker, bus.Deps) {
	t.Helper()
	deps := bus.Deps{
		Events:  bus.NewEventBus(),
		Credits: bus.NewWorkQueue(),
		Records: bus.NewWorkQueue(),
	}
	client := NewClient(baseURL, nil, DefaultTransportConfig())
	conv := DefaultConverter{Model: "test-model"}
	w := New("worker-0", client, conv, dataset)
	if err := w.Init(context.Background(), deps); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return w, deps
}

func TestWorkerServiceSuccessfulNonStreamingRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"hi"}}]}`))
	}))
	defer srv.Close()

	turn := model.Turn{Payload: map[string]interface{}{
		"endpoint": string(EndpointEmbeddings), // never streams, simplest success path
		"input":    "hello",
	}}
	w, deps := newTestWorker(t, srv.URL, fakeDatasetSource{turn: turn})

	recordCh := make(chan model.RequestRecord, 1)
	go func() {
		msg, _ := deps.Records.Pop()
		recordCh <- msg.Payload.(model.RequestRecord)
	}()
	returnCh := make(chan model.CreditReturn, 1)
	deps.Events.Subscribe(bus.TypeCreditReturn, "", func(msg bus.Message) {
		returnCh <- msg.Payload.(model.CreditReturn)
	})

	credit := model.Credit{Phase: model.PhaseProfiling, ConversationID: "conv-1", CreditDropNS: time.Now().UnixNano()}
	w.service(context.Background(), credit)

	select {
	case rec := <-recordCh:
		if rec.Error != nil {
			t.Fatalf("unexpected error in record: %+v", rec.Error)
		}
		if rec.EndpointType != string(EndpointEmbeddings) {
			t.Fatalf("unexpected endpoint type: %q", rec.EndpointType)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a record to be pushed")
	}

	select {
	case ret := <-returnCh:
		if ret.Outcome != "completed" {
			t.Fatalf("expected outcome completed, got %q", ret.Outcome)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a CreditReturn to be published")
	}
}

func TestWorkerServiceUnknownTurnFailsWithoutDialing(t *testing.T) {
	dialed := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dialed = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w, deps := newTestWorker(t, srv.URL, fakeDatasetSource{err: errTurnNotFound})

	recordCh := make(chan model.RequestRecord, 1)
	go func() {
		msg, _ := deps.Records.Pop()
		recordCh <- msg.Payload.(model.RequestRecord)
	}()

	credit := model.Credit{Phase: model.PhaseWarmup, ConversationID: "conv-missing"}
	w.service(context.Background(), credit)

	select {
	case rec := <-recordCh:
		if rec.Error == nil || rec.Error.Category != model.ErrorInternal {
			t.Fatalf("expected an internal error record, got %+v", rec.Error)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a record to be pushed even on turn lookup failure")
	}
	if dialed {
		t.Fatal("expected no HTTP dial when the turn lookup fails")
	}
}

func TestWorkerServiceHTTPStatusErrorRecorded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	turn := model.Turn{Payload: map[string]interface{}{"endpoint": string(EndpointEmbeddings)}}
	w, deps := newTestWorker(t, srv.URL, fakeDatasetSource{turn: turn})

	recordCh := make(chan model.RequestRecord, 1)
	go func() {
		msg, _ := deps.Records.Pop()
		recordCh <- msg.Payload.(model.RequestRecord)
	}()

	w.service(context.Background(), model.Credit{Phase: model.PhaseProfiling, ConversationID: "conv-1"})

	select {
	case rec := <-recordCh:
		if rec.Error == nil || rec.Error.Category != model.ErrorHTTPStatus {
			t.Fatalf("expected an http_status error, got %+v", rec.Error)
		}
		if rec.Error.HTTPCode != http.StatusInternalServerError {
			t.Fatalf("unexpected http code: %d", rec.Error.HTTPCode)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a record to be pushed")
	}
}

var errTurnNotFound = errTurnNotFoundError{}

type errTurnNotFoundError struct{}

func (errTurnNotFoundError) Error() string { return "turn not found" }
