package worker

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/ai-benchmarks/aiperf/internal/aiperf/model"
)

// DefaultConverter maps a dataset Turn to one of the four endpoint
// shapes named in §4.4, reading the endpoint type and any extra request
// fields from Turn.Payload. It is the explicit, compile-time-known
// endpoint dispatch the Design Notes require in place of a runtime
// plugin registry — adapted from this package's original MCP
// operation-outcome converter, which performed the same "turn a sampled
// unit of work into an HTTP payload" job for the MCP tool-call domain.
type DefaultConverter struct {
	Model  string
	Stream bool
}

// BuildRequest implements the Converter interface used by Worker.
func (c DefaultConverter) BuildRequest(turn model.Turn) (EndpointType, map[string]any, bool) {
	endpoint := EndpointChatCompletions
	if v, ok := turn.Payload["endpoint"].(string); ok {
		endpoint = EndpointType(v)
	}

	body := map[string]any{"model": c.Model}
	for k, v := range turn.Payload {
		if k == "endpoint" {
			continue
		}
		body[k] = v
	}

	switch endpoint {
	case EndpointEmbeddings, EndpointRankings:
		return endpoint, body, false
	default:
		body["stream"] = c.Stream
		return endpoint, body, c.Stream
	}
}

func generateOpID(t time.Time) string {
	return "op_" + t.Format("20060102150405") + "_" + randomHex(8)
}

func randomHex(n int) string {
	b := make([]byte, n/2)
	if _, err := rand.Read(b); err != nil {
		return time.Now().Format("20060102150405")[:n]
	}
	return hex.EncodeToString(b)[:n]
}
