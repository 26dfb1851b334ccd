package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/haasonsaas/nexus/internal/agent"
	"github.com/haasonsaas/nexus/pkg/models"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider implements agent.LLMProvider against any OpenAI-compatible
// chat completions endpoint (OpenAI itself, or a compatible gateway reached
// by overriding the client's base URL upstream of this type).
type OpenAIProvider struct {
	client *openai.Client
	apiKey string
	base   BaseProvider
}

// NewOpenAIProvider creates an OpenAI provider. An empty apiKey yields an
// unconfigured provider that Complete rejects immediately, rather than
// failing at construction time, matching the router's model of trying the
// next candidate on error instead of refusing to build.
func NewOpenAIProvider(apiKey string) *OpenAIProvider {
	p := &OpenAIProvider{
		apiKey: apiKey,
		base:   NewBaseProvider("openai", 3, time.Second),
	}
	if apiKey != "" {
		p.client = openai.NewClient(apiKey)
	}
	return p
}

// Name identifies this provider to the router (spec §4.2 Response.provider).
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Models lists the chat models available for the router's selection
// algorithm to resolve a default_model entry against.
func (p *OpenAIProvider) Models() []agent.Model {
	return []agent.Model{
		{ID: "gpt-4o", Name: "GPT-4o", ContextSize: 128000, SupportsVision: true},
		{ID: "gpt-4-turbo", Name: "GPT-4 Turbo", ContextSize: 128000, SupportsVision: true},
		{ID: "gpt-3.5-turbo", Name: "GPT-3.5 Turbo", ContextSize: 16385, SupportsVision: false},
		{ID: "gpt-4", Name: "GPT-4", ContextSize: 8192, SupportsVision: false},
	}
}

// SupportsTools reports OpenAI's function-calling support.
func (p *OpenAIProvider) SupportsTools() bool {
	return true
}

// Complete opens a streaming chat completion, retrying stream
// establishment through BaseProvider on transient failures. Usage is
// requested inline (StreamOptions.IncludeUsage) so the final chunk carries
// the input/output token counts the router's cost ledger needs.
func (p *OpenAIProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	if p.client == nil {
		return nil, errors.New("openai: API key not configured")
	}

	messages, err := p.convertToOpenAIMessages(req.Messages, req.System)
	if err != nil {
		return nil, fmt.Errorf("openai: failed to convert messages: %w", err)
	}

	chatReq := openai.ChatCompletionRequest{
		Model:         req.Model,
		Messages:      messages,
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = p.convertToOpenAITools(req.Tools)
	}

	var stream *openai.ChatCompletionStream
	err = p.base.Retry(ctx, p.isRetryableError, func() error {
		var streamErr error
		stream, streamErr = p.client.CreateChatCompletionStream(ctx, chatReq)
		return streamErr
	})
	if err != nil {
		return nil, fmt.Errorf("openai: max retries exceeded: %w", err)
	}

	chunks := make(chan *agent.CompletionChunk)
	go p.processStream(ctx, stream, chunks)
	return chunks, nil
}

// processStream converts OpenAI's chat completion stream into
// CompletionChunks, assembling function-call arguments across deltas and
// emitting the completed tool call once its index's finish_reason arrives.
func (p *OpenAIProvider) processStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- *agent.CompletionChunk) {
	defer close(chunks)
	defer stream.Close()

	toolCalls := make(map[int]*models.ToolCall)
	var inputTokens, outputTokens int

	flushToolCalls := func() {
		for _, tc := range toolCalls {
			if tc.ID != "" && tc.Name != "" {
				chunks <- &agent.CompletionChunk{ToolCall: tc}
			}
		}
		toolCalls = make(map[int]*models.ToolCall)
	}

	for {
		select {
		case <-ctx.Done():
			chunks <- &agent.CompletionChunk{Error: ctx.Err(), Done: true}
			return
		default:
		}

		response, err := stream.Recv()
		if err != nil {
			if err == io.EOF {
				flushToolCalls()
				chunks <- &agent.CompletionChunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens}
				return
			}
			chunks <- &agent.CompletionChunk{Error: err, Done: true}
			return
		}

		if response.Usage != nil {
			inputTokens = response.Usage.PromptTokens
			outputTokens = response.Usage.CompletionTokens
		}

		if len(response.Choices) == 0 {
			continue
		}

		delta := response.Choices[0].Delta
		if delta.Content != "" {
			chunks <- &agent.CompletionChunk{Text: delta.Content}
		}

		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			if toolCalls[index] == nil {
				toolCalls[index] = &models.ToolCall{}
			}
			if tc.ID != "" {
				toolCalls[index].ID = tc.ID
			}
			if tc.Function.Name != "" {
				toolCalls[index].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				var currentArgs string
				if toolCalls[index].Input != nil {
					currentArgs = string(toolCalls[index].Input)
				}
				toolCalls[index].Input = json.RawMessage(currentArgs + tc.Function.Arguments)
			}
		}

		if response.Choices[0].FinishReason == "tool_calls" {
			flushToolCalls()
		}
	}
}

// convertToOpenAIMessages maps CompletionMessage onto OpenAI's chat message
// shape, splitting into multi-part content when image attachments are
// present and expanding each tool result into its own "tool" message.
func (p *OpenAIProvider) convertToOpenAIMessages(messages []agent.CompletionMessage, system string) ([]openai.ChatCompletionMessage, error) {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)

	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		oaiMsg := openai.ChatCompletionMessage{Role: msg.Role}

		switch msg.Role {
		case "user", "system":
			hasImages := false
			for _, att := range msg.Attachments {
				if att.Type == "image" {
					hasImages = true
					break
				}
			}
			if hasImages {
				var parts []openai.ChatMessagePart
				if msg.Content != "" {
					parts = append(parts, openai.ChatMessagePart{
						Type: openai.ChatMessagePartTypeText,
						Text: msg.Content,
					})
				}
				for _, att := range msg.Attachments {
					if att.Type != "image" {
						continue
					}
					parts = append(parts, openai.ChatMessagePart{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    att.URL,
							Detail: openai.ImageURLDetailAuto,
						},
					})
				}
				oaiMsg.MultiContent = parts
			} else {
				oaiMsg.Content = msg.Content
			}

		case "assistant":
			oaiMsg.Content = msg.Content
			if len(msg.ToolCalls) > 0 {
				oaiMsg.ToolCalls = make([]openai.ToolCall, len(msg.ToolCalls))
				for i, tc := range msg.ToolCalls {
					oaiMsg.ToolCalls[i] = openai.ToolCall{
						ID:   tc.ID,
						Type: openai.ToolTypeFunction,
						Function: openai.FunctionCall{
							Name:      tc.Name,
							Arguments: string(tc.Input),
						},
					}
				}
			}

		case "tool":
			for _, tr := range msg.ToolResults {
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    tr.Content,
					ToolCallID: tr.ToolCallID,
				})
			}
			continue
		}

		result = append(result, oaiMsg)
	}

	return result, nil
}

// convertToOpenAITools maps agent.Tool definitions onto OpenAI's function
// tool schema, falling back to an empty object schema if a tool's schema
// JSON fails to parse rather than dropping the tool entirely.
func (p *OpenAIProvider) convertToOpenAITools(tools []agent.Tool) []openai.Tool {
	result := make([]openai.Tool, len(tools))

	for i, tool := range tools {
		var schemaMap map[string]any
		if err := json.Unmarshal(tool.Schema(), &schemaMap); err != nil {
			schemaMap = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name(),
				Description: tool.Description(),
				Parameters:  schemaMap,
			},
		}
	}

	return result
}

// isRetryableError treats rate limits, 5xx, and timeouts as retryable.
func (p *OpenAIProvider) isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	errMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errMsg, "rate limit"), strings.Contains(errMsg, "429"):
		return true
	case strings.Contains(errMsg, "500"), strings.Contains(errMsg, "502"),
		strings.Contains(errMsg, "503"), strings.Contains(errMsg, "504"):
		return true
	case strings.Contains(errMsg, "timeout"), strings.Contains(errMsg, "deadline exceeded"):
		return true
	default:
		return false
	}
}
