package bus

import (
	"time"

	"github.com/google/uuid"
)

// MessageType discriminates every payload carried on the bus.
type MessageType string

const (
	TypeDatasetConfigured    MessageType = "dataset_configured"
	TypeProfileConfigure     MessageType = "profile_configure"
	TypeProfileStart         MessageType = "profile_start"
	TypeProfileStop          MessageType = "profile_stop"
	TypeCreditPhaseStart     MessageType = "credit_phase_start"
	TypeCreditPhaseProgress  MessageType = "credit_phase_progress"
	TypeCreditSendingComplete MessageType = "credit_phase_sending_complete"
	TypeCreditPhaseComplete  MessageType = "credit_phase_complete"
	TypeCreditDrop           MessageType = "credit_drop"
	TypeCreditReturn         MessageType = "credit_return"
	TypeInferenceResults     MessageType = "inference_results"
	TypeWorkerHealth         MessageType = "worker_health"
	TypeProcessingStats      MessageType = "processing_stats"
	TypeServiceError         MessageType = "service_error"
	TypeCreditsComplete      MessageType = "credits_complete"
	TypeCommand              MessageType = "command"
	TypeCommandResponse      MessageType = "command_response"
)

// Envelope is embedded in every message exchanged on the bus.
type Envelope struct {
	MessageType         MessageType `json:"message_type"`
	ServiceID           string      `json:"service_id"`
	RequestID           string      `json:"request_id"`
	RequestNS           int64       `json:"request_ns"`
	TargetServiceID     string      `json:"target_service_id,omitempty"`
	TargetServiceType   string      `json:"target_service_type,omitempty"`
}

// NewEnvelope stamps a fresh RequestID and RequestNS.
func NewEnvelope(msgType MessageType, serviceID string) Envelope {
	return Envelope{
		MessageType: msgType,
		ServiceID:   serviceID,
		RequestID:   uuid.NewString(),
		RequestNS:   time.Now().UnixNano(),
	}
}

// Message is anything that carries an Envelope and an opaque payload.
type Message struct {
	Envelope
	Payload any
}
