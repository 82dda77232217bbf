package bedrock

import (
	"context"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/rocisdk/agentcore/message"
	"github.com/rocisdk/agentcore/provider"
)

// streamer adapts a Bedrock ConverseStream event stream to provider.Stream,
// draining the SDK's event channel on a background goroutine so Recv can
// honor ctx cancellation promptly.
type streamer struct {
	cancel context.CancelFunc
	sdk    *bedrockruntime.ConverseStreamEventStream
	chunks chan provider.Chunk

	mu       sync.Mutex
	finalErr error
}

func newStreamer(ctx context.Context, sdkStream *bedrockruntime.ConverseStreamEventStream, nameMap map[string]string) provider.Stream {
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
			if err != nil {
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

// toolBuffer tracks a tool_use content block's id/name between its start
// event and its JSON-delta events, mirroring the teacher's bedrock chunk
// processor.
type toolBuffer struct {
	id   string
	name string
}

func (s *streamer) run(ctx context.Context, nameMap map[string]string) {
	defer close(s.chunks)
	defer s.sdk.Close()

	toolBlocks := map[int32]*toolBuffer{}
	var stopReason provider.FinishReason

	emit := func(c provider.Chunk) bool {
		select {
		case s.chunks <- c:
			return true
		case <-ctx.Done():
			s.setErr(ctx.Err())
			return false
		}
	}

	events := s.sdk.Events()
	for {
		select {
		case <-ctx.Done():
			s.setErr(ctx.Err())
			return
		case event, ok := <-events:
			if !ok {
				if err := s.sdk.Err(); err != nil {
					s.setErr(classifyError(err))
				} else {
					s.setErr(nil)
				}
				return
			}
			switch ev := event.(type) {
			case *brtypes.ConverseStreamOutputMemberContentBlockStart:
				idx := indexValue(ev.Value.ContentBlockIndex)
				if start, ok := ev.Value.Start.(*brtypes.ContentBlockStartMemberToolUse); ok {
					name := stringValue(start.Value.Name)
					canonical := name
					if mapped, ok := nameMap[name]; ok {
						canonical = mapped
					}
					toolBlocks[idx] = &toolBuffer{id: stringValue(start.Value.ToolUseId), name: canonical}
				}
			case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
				idx := indexValue(ev.Value.ContentBlockIndex)
				switch delta := ev.Value.Delta.(type) {
				case *brtypes.ContentBlockDeltaMemberText:
					if delta.Value == "" {
						continue
					}
					if !emit(provider.Chunk{Type: provider.ChunkText, TextDelta: delta.Value}) {
						return
					}
				case *brtypes.ContentBlockDeltaMemberToolUse:
					tb := toolBlocks[idx]
					if tb == nil || delta.Value.Input == nil {
						continue
					}
					fragment := *delta.Value.Input
					if !emit(provider.Chunk{
						Type:         provider.ChunkToolCall,
						ToolCallID:   tb.id,
						ToolCallName: tb.name,
						ArgsDelta:    fragment,
					}) {
						return
					}
				}
			case *brtypes.ConverseStreamOutputMemberContentBlockStop:
				idx := indexValue(ev.Value.ContentBlockIndex)
				delete(toolBlocks, idx)
			case *brtypes.ConverseStreamOutputMemberMessageStop:
				stopReason = translateStopReason(ev.Value.StopReason)
				if !emit(provider.Chunk{Type: provider.ChunkDone, FinishReason: stopReason}) {
					return
				}
			case *brtypes.ConverseStreamOutputMemberMetadata:
				if ev.Value.Usage == nil {
					continue
				}
				usage := message.Usage{
					InputTokens:   int32Value(ev.Value.Usage.InputTokens),
					OutputTokens:  int32Value(ev.Value.Usage.OutputTokens),
					TotalTokens:   int32Value(ev.Value.Usage.TotalTokens),
					CacheRead:     int32Value(ev.Value.Usage.CacheReadInputTokens),
					CacheCreation: int32Value(ev.Value.Usage.CacheWriteInputTokens),
				}
				if !emit(provider.Chunk{Type: provider.ChunkUsage, Usage: &usage}) {
					return
				}
			}
		}
	}
}

func (s *streamer) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalErr == nil {
		s.finalErr = err
	}
}

func indexValue(ptr *int32) int32 {
	if ptr == nil {
		return 0
	}
	return *ptr
}

func int32Value(ptr *int32) int {
	if ptr == nil {
		return 0
	}
	return int(*ptr)
}

func stringValue(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
