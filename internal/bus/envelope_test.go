package bus

import "testing"

func TestNewEnvelopeStampsIdentifiers(t *testing.T) {
	a := NewEnvelope(TypeCreditDrop, "worker-1")
	b := NewEnvelope(TypeCreditDrop, "worker-1")

	if a.RequestID == "" {
		t.Fatal("expected a non-empty RequestID")
	}
	if a.RequestID == b.RequestID {
		t.Fatal("expected distinct RequestIDs across envelopes")
	}
	if a.RequestNS == 0 {
		t.Fatal("expected a non-zero RequestNS")
	}
	if a.MessageType != TypeCreditDrop || a.ServiceID != "worker-1" {
		t.Fatalf("unexpected envelope: %+v", a)
	}
}

func TestTopicKeyDisambiguatesPrefixes(t *testing.T) {
	if topicKey(TypeCommand, "") == topicKey(TypeCommandResponse, "") {
		t.Fatal("expected distinct topic keys for distinct message types")
	}
}
