package providers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/BaSui01/nodeflow/llm"
	"github.com/stretchr/testify/assert"
)

func TestMapHTTPError(t *testing.T) {
	tests := []struct {
		status    int
		msg       string
		want      llm.ErrorCode
		retryable bool
	}{
		{http.StatusUnauthorized, "bad key", llm.ErrUnauthorized, false},
		{http.StatusForbidden, "denied", llm.ErrForbidden, false},
		{http.StatusNotFound, "no model", llm.ErrModelNotFound, false},
		{http.StatusTooManyRequests, "slow", llm.ErrRateLimited, true},
		{http.StatusBadRequest, "Credit balance too low", llm.ErrQuotaExceeded, false},
		{http.StatusBadRequest, "bad field", llm.ErrInvalidRequest, false},
		{http.StatusRequestTimeout, "timeout", llm.ErrUpstreamTimeout, true},
		{529, "overloaded", llm.ErrModelOverloaded, true},
		{http.StatusBadGateway, "bad gateway", llm.ErrUpstreamError, true},
		{http.StatusConflict, "conflict", llm.ErrUpstreamError, false},
	}
	for _, tt := range tests {
		err := MapHTTPError(tt.status, tt.msg, "p")
		assert.Equal(t, tt.want, err.Code, "status %d", tt.status)
		assert.Equal(t, tt.retryable, err.Retryable, "status %d", tt.status)
		assert.Equal(t, "p", err.Provider)
		assert.Contains(t, err.Error(), tt.msg)
	}

	up := UpstreamError(errors.New("connection refused"), "p")
	assert.Equal(t, http.StatusBadGateway, up.HTTPStatus)
	assert.True(t, up.Retryable)
}

func TestReadErrorMessage(t *testing.T) {
	assert.Equal(t, "invalid key (type: auth)",
		ReadErrorMessage(strings.NewReader(`{"error":{"message":"invalid key","type":"auth"}}`)))
	assert.Equal(t, "plain", ReadErrorMessage(strings.NewReader(`{"error":{"message":"plain"}}`)))
	assert.Equal(t, "upstream exploded", ReadErrorMessage(strings.NewReader("upstream exploded\n")))
}

func TestConvertMessagesToOpenAI(t *testing.T) {
	msgs := []llm.Message{
		{Role: llm.RoleSystem, Content: "be brief"},
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "c1", Name: "search", Arguments: json.RawMessage(`{"q":"x"}`)}}},
		{Role: llm.RoleTool, ToolCallID: "c1", Content: "result"},
	}

	out := ConvertMessagesToOpenAI(msgs)

	assert.Len(t, out, 3)
	assert.Equal(t, "system", out[0].Role)
	assert.Equal(t, OpenAICompatToolCall{ID: "c1", Type: "function", Function: OpenAICompatCall{Name: "search", Arguments: `{"q":"x"}`}}, out[1].ToolCalls[0])
	assert.Equal(t, "c1", out[2].ToolCallID)
}

func TestConvertToolsToOpenAI(t *testing.T) {
	assert.Nil(t, ConvertToolsToOpenAI(nil))

	out := ConvertToolsToOpenAI([]llm.ToolSchema{
		{Name: "search", Parameters: json.RawMessage(`{"type":"object","properties":{"q":{"type":"string"}}}`)},
	})
	assert.Equal(t, "function", out[0].Type)
	assert.JSONEq(t, `{"type":"object","properties":{"q":{"type":"string"}}}`, string(out[0].Function.Parameters))
}

func TestToLLMChatResponse_ToolArguments(t *testing.T) {
	resp := ToLLMChatResponse(OpenAICompatResponse{
		ID: "r",
		Choices: []OpenAICompatChoice{{Message: OpenAICompatMessage{ToolCalls: []OpenAICompatToolCall{
			{ID: "a", Function: OpenAICompatCall{Name: "json", Arguments: `{"k":1}`}},
			{ID: "b", Function: OpenAICompatCall{Name: "text", Arguments: "not json"}},
		}}}},
		Usage: &OpenAICompatUsage{TotalTokens: 3},
	}, "p")

	calls := resp.Choices[0].Message.ToolCalls
	assert.JSONEq(t, `{"k":1}`, string(calls[0].Arguments))
	assert.Equal(t, `"not json"`, string(calls[1].Arguments))
	assert.Equal(t, 3, resp.Usage.TotalTokens)
	assert.Equal(t, llm.RoleAssistant, resp.Choices[0].Message.Role)
}

func TestChooseModel(t *testing.T) {
	assert.Equal(t, "req", ChooseModel(&llm.ChatRequest{Model: "req"}, "def", "fb"))
	assert.Equal(t, "def", ChooseModel(&llm.ChatRequest{}, "def", "fb"))
	assert.Equal(t, "fb", ChooseModel(nil, "", "fb"))
}
