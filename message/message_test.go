package message_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rocisdk/agentcore/message"
)

func TestMessageValidate(t *testing.T) {
	t.Run("tool result requires tool role", func(t *testing.T) {
		m := message.Message{
			Role:  message.RoleAssistant,
			Parts: []message.Part{message.ToolResultPart{ToolCallID: "t1"}},
		}
		require.ErrorIs(t, m.Validate(), message.ErrInvalidMessage)
	})

	t.Run("tool call requires assistant role", func(t *testing.T) {
		m := message.Message{
			Role:  message.RoleUser,
			Parts: []message.Part{message.ToolCallPart{ID: "c1", Name: "echo"}},
		}
		require.ErrorIs(t, m.Validate(), message.ErrInvalidMessage)
	})

	t.Run("valid assistant tool call message", func(t *testing.T) {
		m := message.Message{
			Role: message.RoleAssistant,
			Parts: []message.Part{
				message.TextPart{Text: "calling echo"},
				message.ToolCallPart{ID: "c1", Name: "echo"},
			},
		}
		require.NoError(t, m.Validate())
	})
}

func TestUsageMergeIsFieldwise(t *testing.T) {
	a := message.Usage{InputTokens: 1, OutputTokens: 2, TotalTokens: 3, CacheRead: 4, CacheCreation: 5, ReasoningTokens: 6}
	b := message.Usage{InputTokens: 10, OutputTokens: 20, TotalTokens: 30, CacheRead: 40, CacheCreation: 50, ReasoningTokens: 60}
	got := a.Merge(b)
	assert.Equal(t, message.Usage{
		InputTokens: 11, OutputTokens: 22, TotalTokens: 33, CacheRead: 44, CacheCreation: 55, ReasoningTokens: 66,
	}, got)
}

func TestMessageTextConcatenation(t *testing.T) {
	m := message.Message{Role: message.RoleUser, Parts: []message.Part{
		message.TextPart{Text: "hello"},
		message.TextPart{Text: "world"},
	}}
	assert.Equal(t, "hello\nworld", m.Text())
}

func TestToolCallsExtraction(t *testing.T) {
	m := message.Message{Role: message.RoleAssistant, Parts: []message.Part{
		message.TextPart{Text: "thinking"},
		message.ToolCallPart{ID: "a", Name: "x"},
		message.ToolCallPart{ID: "b", Name: "y"},
	}}
	calls := m.ToolCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, "a", calls[0].ID)
	assert.Equal(t, "b", calls[1].ID)
}
