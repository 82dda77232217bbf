// Package compaction implements spec.md §4.5: summarising older turns to
// keep a run's history within its token budget while preserving the
// leading system prefix verbatim and never splitting an assistant
// ToolCall message from its matching Tool result messages.
package compaction

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rocisdk/agentcore/errs"
	"github.com/rocisdk/agentcore/message"
	"github.com/rocisdk/agentcore/provider"
)

// summaryPrompt is the fixed system prompt used for every compaction call,
// per spec.md §4.5 step 4.
const summaryPrompt = "You create precise conversation compaction summaries"

// Settings configures one run's automatic and manual compaction behavior.
type Settings struct {
	Enabled          bool
	ReserveTokens    int
	KeepRecentTokens int
	// ProviderKey/ModelID name the summary model. Empty means "use the run
	// model" (the provider/model the turn loop is otherwise calling).
	ProviderKey string
	ModelID     string
}

// Envelope is the structured payload carried by a CompactionSummaryPart.
type Envelope struct {
	Summary       string   `json:"summary"`
	FilesRead     []string `json:"files_read,omitempty"`
	FilesModified []string `json:"files_modified,omitempty"`
	TurnSplit     bool     `json:"turn_split"`
}

// Result is the outcome of one Compact call.
type Result struct {
	History         []message.Message
	RemovedMessages int
	TurnSplit       bool
}

// ShouldTrigger reports whether the projected token count of messages plus
// reserveTokens exceeds contextWindow, per spec.md §4.2 step 3's automatic
// trigger condition.
func ShouldTrigger(messages []message.Message, reserveTokens, contextWindow int) bool {
	if contextWindow <= 0 {
		return false
	}
	return EstimateTokens(messages)+reserveTokens > contextWindow
}

// Compact summarises history's older messages per spec.md §4.5. runProvider
// is used as the summary model when settings names no explicit one.
func Compact(ctx context.Context, history []message.Message, settings Settings, registry *provider.Registry, runProvider provider.ModelProvider, cfg map[string]string) (Result, error) {
	systemPrefix, rest := splitSystemPrefix(history)
	if len(rest) < 2 {
		return Result{History: history, RemovedMessages: 0}, nil
	}

	cutIndex, turnSplit := findCutPoint(rest, settings.KeepRecentTokens)
	toSummarize := rest[:cutIndex]
	turnPrefix, kept := splitTurnPrefix(rest[cutIndex:])

	if len(toSummarize) == 0 {
		return Result{History: history, RemovedMessages: 0}, nil
	}

	summarizer := runProvider
	if settings.ProviderKey != "" {
		if registry == nil || !registry.Has(settings.ProviderKey) {
			return Result{}, errs.New(errs.KindModelNotFound,
				"compaction: configured model "+settings.ProviderKey+"/"+settings.ModelID+" is not registered")
		}
		p, err := registry.CreateProvider(settings.ProviderKey, settings.ModelID, cfg)
		if err != nil {
			return Result{}, err
		}
		summarizer = p
	}
	if summarizer == nil {
		return Result{}, errs.New(errs.KindConfiguration, "compaction: no summary model available")
	}

	serialized := serializeForSummary(toSummarize)
	resp, err := summarizer.GenerateText(ctx, provider.Request{
		Messages: []message.Message{
			message.NewSystem(summaryPrompt),
			message.NewUser(serialized),
		},
	})
	if err != nil {
		return Result{}, errs.Wrap(errs.KindServer, "compaction: summary model call failed", err)
	}
	summaryText := strings.TrimSpace(resp.Text)
	if summaryText == "" {
		return Result{}, errs.New(errs.KindServer, "compaction: summary model returned empty output")
	}

	envelope := Envelope{
		Summary:       summaryText,
		FilesRead:     extractFileOps(toSummarize, readToolNames),
		FilesModified: extractFileOps(toSummarize, writeToolNames),
		TurnSplit:     turnSplit,
	}
	envelopeJSON, err := json.Marshal(envelope)
	if err != nil {
		return Result{}, errs.Wrap(errs.KindServer, "compaction: encode summary envelope", err)
	}

	summaryMessage := message.Message{
		Role:  message.RoleAssistant,
		Parts: []message.Part{message.CompactionSummaryPart{Envelope: envelopeJSON}},
	}

	newHistory := make([]message.Message, 0, len(systemPrefix)+1+len(turnPrefix)+len(kept))
	newHistory = append(newHistory, systemPrefix...)
	newHistory = append(newHistory, summaryMessage)
	newHistory = append(newHistory, turnPrefix...)
	newHistory = append(newHistory, kept...)

	return Result{
		History:         newHistory,
		RemovedMessages: len(toSummarize),
		TurnSplit:       turnSplit,
	}, nil
}

// splitSystemPrefix returns the leading run of System-role messages
// verbatim, and the remainder.
func splitSystemPrefix(history []message.Message) (prefix, rest []message.Message) {
	i := 0
	for i < len(history) && history[i].Role == message.RoleSystem {
		i++
	}
	return history[:i], history[i:]
}

// findCutPoint walks rest from the newest message backwards, accumulating
// an estimated token count until it would exceed keepRecentTokens, then
// returns the index at which the older segment to summarize ends. The cut
// point is adjusted backwards (toward older messages, i.e. cutIndex
// decreases) so it never falls between an assistant ToolCall message and
// its matching Tool result messages.
func findCutPoint(rest []message.Message, keepRecentTokens int) (cutIndex int, turnSplit bool) {
	accumulated := 0
	i := len(rest)
	for i > 0 {
		next := estimateMessageTokens(rest[i-1])
		if accumulated+next > keepRecentTokens {
			break
		}
		accumulated += next
		i--
	}
	cut := i

	if cut > 0 && cut < len(rest) && rest[cut].Role == message.RoleTool {
		// The message being kept first is a Tool result; its ToolCall message
		// precedes it, possibly behind other Tool results of the same batch.
		// Walk backwards until we are not splitting a pair.
		for cut > 0 && (rest[cut].Role == message.RoleTool || splitsToolPair(rest, cut)) {
			cut--
			turnSplit = true
		}
	}
	return cut, turnSplit
}

// splitsToolPair reports whether cutting rest at index cut would separate
// an assistant ToolCall at or before cut-1 from a Tool result at or after
// cut that answers it.
func splitsToolPair(rest []message.Message, cut int) bool {
	if cut == 0 || cut >= len(rest) {
		return false
	}
	pending := map[string]bool{}
	for _, tc := range rest[cut-1].ToolCalls() {
		pending[tc.ID] = true
	}
	if len(pending) == 0 {
		return false
	}
	if rest[cut].Role != message.RoleTool {
		return true
	}
	for _, p := range rest[cut].Parts {
		if tr, ok := p.(message.ToolResultPart); ok {
			delete(pending, tr.ToolCallID)
		}
	}
	return len(pending) > 0
}

// splitTurnPrefix peels off a leading assistant-ToolCall/Tool-result pair
// from kept, if the cut point landed in the middle of one, so it can be
// preserved intact ahead of the rest of the kept tail (spec.md §4.5 step 6:
// "[turn_prefix_messages] + [kept_messages]").
func splitTurnPrefix(kept []message.Message) (turnPrefix, rest []message.Message) {
	if len(kept) == 0 || len(kept[0].ToolCalls()) == 0 {
		return nil, kept
	}
	i := 1
	for i < len(kept) && kept[i].Role == message.RoleTool {
		i++
	}
	return kept[:i], kept[i:]
}

func serializeForSummary(messages []message.Message) string {
	var sb strings.Builder
	for _, m := range messages {
		sb.WriteString(string(m.Role))
		sb.WriteString(": ")
		sb.WriteString(m.Text())
		for _, tc := range m.ToolCalls() {
			sb.WriteString(" [tool_call ")
			sb.WriteString(tc.Name)
			sb.WriteString("]")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

var readToolNames = map[string]bool{"read_file": true, "view": true, "cat": true}
var writeToolNames = map[string]bool{"write_file": true, "edit_file": true, "str_replace_editor": true}

// extractFileOps pattern-matches tool calls in messages against the given
// name set and extracts a "path" argument from each matching call, per
// spec.md §4.5 step 5. Built-in file tools are out of this core's scope
// (spec.md §1); this matches on tool name and a conventional "path"
// argument only, which is the shape the built-in tools this spec expects a
// host to register actually use.
func extractFileOps(messages []message.Message, names map[string]bool) []string {
	var paths []string
	seen := map[string]bool{}
	for _, m := range messages {
		for _, tc := range m.ToolCalls() {
			if !names[tc.Name] {
				continue
			}
			var args struct {
				Path string `json:"path"`
			}
			if err := json.Unmarshal(tc.Arguments, &args); err != nil || args.Path == "" {
				continue
			}
			if !seen[args.Path] {
				seen[args.Path] = true
				paths = append(paths, args.Path)
			}
		}
	}
	return paths
}
