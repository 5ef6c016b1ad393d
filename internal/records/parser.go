package records

import (
	"encoding/json"

	"github.com/ai-benchmarks/aiperf/internal/aiperf/model"
	"github.com/ai-benchmarks/aiperf/internal/worker"
)

// ResponseParser turns a raw RequestRecord into a ParsedResponseRecord
// for one endpoint shape.
type ResponseParser func(model.RequestRecord) model.ParsedResponseRecord

// parserTable is the explicit, compile-time-populated endpoint dispatch
// table the Design Notes require in place of a runtime plugin registry,
// grounded on internal/transport/mcp_operations.go's per-operation
// dispatch.
var parserTable = map[worker.EndpointType]ResponseParser{
	worker.EndpointChatCompletions: parseChatCompletion,
	worker.EndpointCompletions:     parseChatCompletion,
	worker.EndpointEmbeddings:      parseEmbeddings,
	worker.EndpointRankings:        parseRankings,
}

// Parse dispatches r to the parser registered for its endpoint type.
func Parse(r model.RequestRecord) model.ParsedResponseRecord {
	if r.Error != nil {
		return model.ParsedResponseRecord{
			ConversationID: r.ConversationID,
			TurnIndex:      r.TurnIndex,
			Phase:          r.Phase,
			Failed:         true,
			ErrorCategory:  r.Error.Category,
			E2ENS:          r.EndPerfNS - r.StartPerfNS,
			// input_token_count is still computed when possible: a stream
			// that fails partway through may already carry a usage body
			// on an earlier response.
			InputTokens: inputTokensFrom(r),
		}
	}
	p, ok := parserTable[worker.EndpointType(r.EndpointType)]
	if !ok {
		p = parseChatCompletion
	}
	return p(r)
}

// inputTokensFrom best-effort extracts prompt_tokens from whichever
// response carries the usage block for r's endpoint shape (the first
// body for embeddings, the last response for every other endpoint).
// Only the error path above calls it; the per-endpoint parsers below
// do their own usage lookup.
func inputTokensFrom(r model.RequestRecord) int {
	if len(r.Responses) == 0 {
		return 0
	}
	idx := len(r.Responses) - 1
	if worker.EndpointType(r.EndpointType) == worker.EndpointEmbeddings {
		idx = 0
	}
	var body usageBody
	if err := json.Unmarshal(r.Responses[idx].Data, &body); err != nil {
		return 0
	}
	if v, ok := body.Usage["prompt_tokens"].(float64); ok {
		return int(v)
	}
	return 0
}

type usageBody struct {
	Usage map[string]any `json:"usage"`
	Model string         `json:"model"`
}

func parseChatCompletion(r model.RequestRecord) model.ParsedResponseRecord {
	out := model.ParsedResponseRecord{
		ConversationID: r.ConversationID,
		TurnIndex:      r.TurnIndex,
		Phase:          r.Phase,
		E2ENS:          r.EndPerfNS - r.StartPerfNS,
	}
	if r.RecvStartPerfNS > 0 {
		out.TTFTNS = r.RecvStartPerfNS - r.StartPerfNS
	}
	if len(r.Responses) > 1 {
		out.InterTokenNS = make([]int64, 0, len(r.Responses)-1)
		for i := 1; i < len(r.Responses); i++ {
			out.InterTokenNS = append(out.InterTokenNS, r.Responses[i].RecvPerfNS-r.Responses[i-1].RecvPerfNS)
		}
		out.OutputTokens = len(r.Responses)
	}

	if len(r.Responses) > 0 {
		var body usageBody
		// The final streamed chunk (or the sole non-streaming body) most
		// commonly carries the usage block; parse errors are not fatal —
		// usage is a best-effort passthrough, not a correctness invariant.
		if err := json.Unmarshal(r.Responses[len(r.Responses)-1].Data, &body); err == nil {
			out.Usage = body.Usage
			if v, ok := body.Usage["prompt_tokens"].(float64); ok {
				out.InputTokens = int(v)
			}
			if v, ok := body.Usage["completion_tokens"].(float64); ok {
				out.OutputTokens = int(v)
			}
		}
	}
	return out
}

func parseEmbeddings(r model.RequestRecord) model.ParsedResponseRecord {
	out := model.ParsedResponseRecord{
		ConversationID: r.ConversationID,
		TurnIndex:      r.TurnIndex,
		Phase:          r.Phase,
		E2ENS:          r.EndPerfNS - r.StartPerfNS,
	}
	if len(r.Responses) > 0 {
		var body usageBody
		if err := json.Unmarshal(r.Responses[0].Data, &body); err == nil {
			out.Usage = body.Usage
			if v, ok := body.Usage["prompt_tokens"].(float64); ok {
				out.InputTokens = int(v)
			}
		}
	}
	return out
}

func parseRankings(r model.RequestRecord) model.ParsedResponseRecord {
	return model.ParsedResponseRecord{
		ConversationID: r.ConversationID,
		TurnIndex:      r.TurnIndex,
		Phase:          r.Phase,
		E2ENS:          r.EndPerfNS - r.StartPerfNS,
	}
}
