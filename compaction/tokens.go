package compaction

import "github.com/rocisdk/agentcore/message"

// EstimateTokens approximates the token count of messages using a
// characters-per-token heuristic. Exact tokenization is provider- and
// model-specific and is explicitly out of this core's scope (spec.md §1
// places provider wire codecs, which is where real tokenizers live,
// outside the core); this estimate is only used to decide *whether* to
// trigger compaction and to choose a cut point, not to bill usage.
func EstimateTokens(messages []message.Message) int {
	total := 0
	for _, m := range messages {
		total += estimateMessageTokens(m)
	}
	return total
}

const charsPerToken = 4

func estimateMessageTokens(m message.Message) int {
	chars := 0
	for _, part := range m.Parts {
		switch p := part.(type) {
		case message.TextPart:
			chars += len(p.Text)
		case message.ToolCallPart:
			chars += len(p.Name) + len(p.Arguments)
		case message.ToolResultPart:
			chars += len(p.Result)
		case message.ImagePart:
			chars += (len(p.Bytes) + len(p.Base64Data)) / 8 // images amortize far cheaper than their byte length
		case message.CompactionSummaryPart:
			chars += len(p.Envelope)
		}
	}
	tokens := chars / charsPerToken
	if tokens == 0 && chars > 0 {
		tokens = 1
	}
	return tokens
}
