package model

import (
	"encoding/json"
	"testing"
)

func TestCreditJSONRoundTrip(t *testing.T) {
	c := Credit{
		Phase:          PhaseProfiling,
		ConversationID: "conv-1",
		TurnIndex:      2,
		CreditDropNS:   123456,
	}

	b, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var out Credit
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out != c {
		t.Fatalf("round trip mismatch: got %+v, want %+v", out, c)
	}
}

func TestRequestRecordOmitsNilError(t *testing.T) {
	rec := RequestRecord{OpID: "op-1", Phase: PhaseWarmup}

	b, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, present := raw["error"]; present {
		t.Fatal("expected omitempty error field to be absent when nil")
	}
}

func TestWorkerStatusConstantsAreDistinct(t *testing.T) {
	seen := map[WorkerStatus]bool{}
	for _, s := range []WorkerStatus{WorkerHealthy, WorkerHighLoad, WorkerError, WorkerIdle, WorkerStale} {
		if seen[s] {
			t.Fatalf("duplicate WorkerStatus value %q", s)
		}
		seen[s] = true
	}
}

func TestTelemetryHierarchyNesting(t *testing.T) {
	h := TelemetryHierarchy{
		"http://endpoint": {
			"gpu-0": {
				"utilization": {{TimestampMs: 1000, Value: 42.5}},
			},
		},
	}
	samples := h["http://endpoint"]["gpu-0"]["utilization"]
	if len(samples) != 1 || samples[0].Value != 42.5 {
		t.Fatalf("unexpected samples: %+v", samples)
	}
}
