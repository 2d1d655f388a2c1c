package nodes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/nodeflow/llm"
	"github.com/BaSui01/nodeflow/types"
	"github.com/BaSui01/nodeflow/workflow"
	"go.uber.org/zap"
)

// Tool is a function the model may call, declared as a dynamic handle on a
// generate-text node. Its ID is the source handle that carries the call's
// arguments downstream.
type Tool struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// GenerateTextRequest is the input of one text generation.
type GenerateTextRequest struct {
	Prompt string `json:"prompt"`
	System string `json:"system,omitempty"`
	Model  string `json:"model,omitempty"`
	Tools  []Tool `json:"tools,omitempty"`
}

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID        string          `json:"id"`
	ToolID    string          `json:"toolId"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// GenerateTextResult is the parsed result of a generate-text node.
type GenerateTextResult struct {
	Text      string     `json:"text"`
	ToolCalls []ToolCall `json:"toolCalls,omitempty"`
}

// HandleValue routes the output handle to the generated text and each tool
// handle to the arguments of that tool's first call, or nil when the model
// did not call it.
func (r *GenerateTextResult) HandleValue(sourceHandle string) (any, bool) {
	if r == nil {
		return nil, false
	}
	if sourceHandle == workflow.HandleOutput {
		return r.Text, true
	}
	for _, call := range r.ToolCalls {
		if call.ToolID == sourceHandle {
			var args any
			if err := json.Unmarshal(call.Arguments, &args); err != nil {
				return string(call.Arguments), true
			}
			return args, true
		}
	}
	return nil, true
}

// TextGenerator produces text for a generate-text node.
type TextGenerator interface {
	GenerateText(ctx context.Context, req GenerateTextRequest) (*GenerateTextResult, error)
}

// TextGeneratorFunc adapts a function to TextGenerator.
type TextGeneratorFunc func(ctx context.Context, req GenerateTextRequest) (*GenerateTextResult, error)

// GenerateText implements TextGenerator.
func (f TextGeneratorFunc) GenerateText(ctx context.Context, req GenerateTextRequest) (*GenerateTextResult, error) {
	return f(ctx, req)
}

// EchoGenerator returns the prompt as the generated text without calling a
// model. Preview runs use it.
type EchoGenerator struct{}

// GenerateText implements TextGenerator.
func (EchoGenerator) GenerateText(_ context.Context, req GenerateTextRequest) (*GenerateTextResult, error) {
	return &GenerateTextResult{Text: req.Prompt}, nil
}

// GenerationObserver receives the outcome of each completion request.
type GenerationObserver interface {
	ObserveGeneration(provider, model, status string, duration time.Duration, usage llm.ChatUsage)
}

// LLMGenerator implements TextGenerator on top of an llm.Provider.
type LLMGenerator struct {
	provider     llm.Provider
	defaultModel string
	timeout      time.Duration
	observer     GenerationObserver
	logger       *zap.Logger
}

// LLMGeneratorOption configures an LLMGenerator.
type LLMGeneratorOption func(*LLMGenerator)

// WithDefaultModel sets the model used when a node configures none.
func WithDefaultModel(model string) LLMGeneratorOption {
	return func(g *LLMGenerator) { g.defaultModel = model }
}

// WithRequestTimeout bounds each completion request.
func WithRequestTimeout(d time.Duration) LLMGeneratorOption {
	return func(g *LLMGenerator) { g.timeout = d }
}

// WithGenerationObserver attaches an observer, e.g. for metrics.
func WithGenerationObserver(o GenerationObserver) LLMGeneratorOption {
	return func(g *LLMGenerator) { g.observer = o }
}

// WithGeneratorLogger sets the logger.
func WithGeneratorLogger(logger *zap.Logger) LLMGeneratorOption {
	return func(g *LLMGenerator) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewLLMGenerator adapts provider to TextGenerator.
func NewLLMGenerator(provider llm.Provider, opts ...LLMGeneratorOption) *LLMGenerator {
	g := &LLMGenerator{provider: provider, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With(zap.String("component", "text_generator"))
	return g
}

// GenerateText sends the prompt and optional system message to the provider.
// Tool calls are mapped back to the tool handle ids by name.
func (g *LLMGenerator) GenerateText(ctx context.Context, req GenerateTextRequest) (*GenerateTextResult, error) {
	if g.provider == nil {
		return nil, types.NewError(types.ErrServiceUnavailable, "no LLM provider configured")
	}

	chat := &llm.ChatRequest{
		Model:   req.Model,
		Timeout: g.timeout,
	}
	if chat.Model == "" {
		chat.Model = g.defaultModel
	}
	if traceID, ok := types.TraceID(ctx); ok {
		chat.TraceID = traceID
	}
	if req.System != "" {
		chat.Messages = append(chat.Messages, llm.Message{Role: llm.RoleSystem, Content: req.System})
	}
	chat.Messages = append(chat.Messages, llm.Message{Role: llm.RoleUser, Content: req.Prompt})

	toolIDs := make(map[string]string, len(req.Tools))
	for _, t := range req.Tools {
		chat.Tools = append(chat.Tools, llm.ToolSchema{Name: t.Name, Description: t.Description})
		toolIDs[t.Name] = t.ID
	}
	if len(chat.Tools) > 0 {
		chat.ToolChoice = "auto"
	}

	start := time.Now()
	resp, err := g.provider.Completion(ctx, chat)
	if err != nil {
		g.observe(chat.Model, "error", time.Since(start), llm.ChatUsage{})
		return nil, toTypesError(err, g.provider.Name())
	}
	g.observe(chat.Model, "success", time.Since(start), resp.Usage)
	choice, err := llm.FirstChoice(resp)
	if err != nil {
		return nil, types.NewError(types.ErrUpstreamError, "text generation returned no result").
			WithCause(err).WithProvider(g.provider.Name())
	}

	result := &GenerateTextResult{Text: choice.Message.Content}
	for _, call := range choice.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, ToolCall{
			ID:        call.ID,
			ToolID:    toolIDs[call.Name],
			Name:      call.Name,
			Arguments: call.Arguments,
		})
	}

	g.logger.Debug("text generated",
		zap.String("provider", g.provider.Name()),
		zap.String("model", resp.Model),
		zap.Int("tool_calls", len(result.ToolCalls)),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
		zap.Duration("latency", time.Since(start)))
	return result, nil
}

func (g *LLMGenerator) observe(model, status string, d time.Duration, usage llm.ChatUsage) {
	if g.observer != nil {
		g.observer.ObserveGeneration(g.provider.Name(), model, status, d, usage)
	}
}

var llmCodes = map[llm.ErrorCode]types.ErrorCode{
	llm.ErrInvalidRequest:      types.ErrInvalidRequest,
	llm.ErrUnauthorized:        types.ErrUnauthorized,
	llm.ErrForbidden:           types.ErrForbidden,
	llm.ErrRateLimited:         types.ErrRateLimit,
	llm.ErrQuotaExceeded:       types.ErrQuotaExceeded,
	llm.ErrModelNotFound:       types.ErrModelNotFound,
	llm.ErrModelOverloaded:     types.ErrModelOverloaded,
	llm.ErrUpstreamTimeout:     types.ErrUpstreamTimeout,
	llm.ErrUpstreamError:       types.ErrUpstreamError,
	llm.ErrProviderUnavailable: types.ErrServiceUnavailable,
}

// toTypesError keeps the provider's failure category visible on the node.
func toTypesError(err error, provider string) error {
	var llmErr *llm.Error
	if !errors.As(err, &llmErr) {
		if errors.Is(err, context.DeadlineExceeded) {
			return types.NewError(types.ErrTimeout, "text generation timed out").WithCause(err).WithProvider(provider)
		}
		return fmt.Errorf("text generation failed: %w", err)
	}
	code, ok := llmCodes[llmErr.Code]
	if !ok {
		code = types.ErrUpstreamError
	}
	return types.NewError(code, "text generation failed").
		WithCause(err).
		WithHTTPStatus(llmErr.HTTPStatus).
		WithRetryable(llmErr.Retryable).
		WithProvider(provider)
}
