package anthropic

import (
	"context"
	"io"
	"strings"
	"sync"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/rocisdk/agentcore/message"
	"github.com/rocisdk/agentcore/provider"
)

// streamer adapts an Anthropic Messages SSE stream to provider.Stream,
// running the SDK's blocking Next()/Current() loop on a background
// goroutine and handing chunks to Recv over a channel so the turn loop's
// ctx-aware Recv can return promptly on cancellation.
type streamer struct {
	cancel context.CancelFunc
	sdk    *ssestream.Stream[sdk.MessageStreamEventUnion]
	chunks chan provider.Chunk

	mu       sync.Mutex
	finalErr error
}

func newStreamer(ctx context.Context, sdkStream *ssestream.Stream[sdk.MessageStreamEventUnion], nameMap map[string]string) provider.Stream {
	cctx, cancel := context.WithCancel(ctx)
	s := &streamer{cancel: cancel, sdk: sdkStream, chunks: make(chan provider.Chunk, 32)}
	go s.run(cctx, nameMap)
	return s
}

func (s *streamer) Recv(ctx context.Context) (provider.Chunk, bool, error) {
	select {
	case chunk, ok := <-s.chunks:
		if !ok {
			s.mu.Lock()
			err := s.finalErr
			s.mu.Unlock()
			if err != nil && err != io.EOF {
				return provider.Chunk{}, false, err
			}
			return provider.Chunk{}, false, nil
		}
		return chunk, true, nil
	case <-ctx.Done():
		return provider.Chunk{}, false, ctx.Err()
	}
}

func (s *streamer) Close() error {
	s.cancel()
	if s.sdk == nil {
		return nil
	}
	return s.sdk.Close()
}

func (s *streamer) run(ctx context.Context, nameMap map[string]string) {
	defer close(s.chunks)

	toolNames := map[int64]string{}
	toolIDs := map[int64]string{}
	var textBuf strings.Builder
	var stopReason string

	emit := func(c provider.Chunk) bool {
		select {
		case s.chunks <- c:
			return true
		case <-ctx.Done():
			s.setErr(ctx.Err())
			return false
		}
	}

	for s.sdk.Next() {
		event := s.sdk.Current()
		switch ev := event.AsAny().(type) {
		case sdk.ContentBlockStartEvent:
			if toolUse, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
				name := toolUse.Name
				if canonical, ok := nameMap[name]; ok {
					name = canonical
				}
				toolNames[ev.Index] = name
				toolIDs[ev.Index] = toolUse.ID
			}
		case sdk.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case sdk.TextDelta:
				if delta.Text == "" {
					continue
				}
				textBuf.WriteString(delta.Text)
				if !emit(provider.Chunk{Type: provider.ChunkText, TextDelta: delta.Text}) {
					return
				}
			case sdk.InputJSONDelta:
				if delta.PartialJSON == "" {
					continue
				}
				if !emit(provider.Chunk{
					Type:         provider.ChunkToolCall,
					ToolCallID:   toolIDs[ev.Index],
					ToolCallName: toolNames[ev.Index],
					ArgsDelta:    delta.PartialJSON,
				}) {
					return
				}
			}
		case sdk.MessageDeltaEvent:
			stopReason = translateStopReasonString(string(ev.Delta.StopReason))
			usage := message.Usage{
				InputTokens:   int(ev.Usage.InputTokens),
				OutputTokens:  int(ev.Usage.OutputTokens),
				TotalTokens:   int(ev.Usage.InputTokens + ev.Usage.OutputTokens),
				CacheRead:     int(ev.Usage.CacheReadInputTokens),
				CacheCreation: int(ev.Usage.CacheCreationInputTokens),
			}
			if !emit(provider.Chunk{Type: provider.ChunkUsage, Usage: &usage}) {
				return
			}
		case sdk.MessageStopEvent:
			if !emit(provider.Chunk{Type: provider.ChunkDone, FinishReason: provider.FinishReason(stopReason)}) {
				return
			}
		}
	}
	if err := s.sdk.Err(); err != nil {
		s.setErr(classifyError(err))
		return
	}
	s.setErr(nil)
}

func (s *streamer) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalErr == nil {
		s.finalErr = err
	}
}

func translateStopReasonString(reason string) string {
	switch reason {
	case "tool_use":
		return string(provider.FinishToolCalls)
	case "max_tokens":
		return string(provider.FinishLength)
	default:
		return string(provider.FinishStop)
	}
}
