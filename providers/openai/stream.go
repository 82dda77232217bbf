package openai

import (
	"context"
	"io"
	"sync"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/rocisdk/agentcore/message"
	"github.com/rocisdk/agentcore/provider"
)

// streamer adapts an openai-go chat completion SSE stream to
// provider.Stream, running the SDK's blocking Next()/Current() loop on a
// background goroutine so Recv can honor ctx cancellation promptly.
type streamer struct {
	cancel context.CancelFunc
	sdk    *ssestream.Stream[openai.ChatCompletionChunk]
	chunks chan provider.Chunk

	mu       sync.Mutex
	finalErr error
}

func newStreamer(ctx context.Context, sdkStream *ssestream.Stream[openai.ChatCompletionChunk]) provider.Stream {
	cctx, cancel := context.WithCancel(ctx)
	s := &streamer{cancel: cancel, sdk: sdkStream, chunks: make(chan provider.Chunk, 32)}
	go s.run(cctx)
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

func (s *streamer) run(ctx context.Context) {
	defer close(s.chunks)

	toolNames := map[int64]string{}
	toolIDs := map[int64]string{}

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
		chunk := s.sdk.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		if choice.Delta.Content != "" {
			if !emit(provider.Chunk{Type: provider.ChunkText, TextDelta: choice.Delta.Content}) {
				return
			}
		}
		for _, tc := range choice.Delta.ToolCalls {
			idx := tc.Index
			if tc.ID != "" {
				toolIDs[idx] = tc.ID
			}
			if tc.Function.Name != "" {
				toolNames[idx] = tc.Function.Name
			}
			if tc.Function.Arguments == "" {
				continue
			}
			if !emit(provider.Chunk{
				Type:         provider.ChunkToolCall,
				ToolCallID:   toolIDs[idx],
				ToolCallName: toolNames[idx],
				ArgsDelta:    tc.Function.Arguments,
			}) {
				return
			}
		}
		if chunk.Usage.TotalTokens > 0 {
			usage := message.Usage{
				InputTokens:  int(chunk.Usage.PromptTokens),
				OutputTokens: int(chunk.Usage.CompletionTokens),
				TotalTokens:  int(chunk.Usage.TotalTokens),
			}
			if !emit(provider.Chunk{Type: provider.ChunkUsage, Usage: &usage}) {
				return
			}
		}
		if choice.FinishReason != "" {
			if !emit(provider.Chunk{Type: provider.ChunkDone, FinishReason: translateFinishReason(choice.FinishReason)}) {
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
