package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/nexus/internal/authority"
	"github.com/haasonsaas/nexus/pkg/models"
)

// DefaultMaxSteps bounds the number of plan-execute-observe iterations a
// single Run performs before surfacing ErrMaxIterations (spec §4.1).
const DefaultMaxSteps = 10

// DefaultMaxToolDenials is how many times the same tool name may be denied
// (authority, protected-path, approval, or payment gate) within one Run
// before the loop gives up instead of looping on a tool the model keeps
// retrying (spec §4.1 "repeated denial of the same tool aborts the turn").
const DefaultMaxToolDenials = 3

// LoopConfig are the per-run parameters the Agent Loop needs beyond the
// conversation and tool state (spec §4.1, §4.2's routing inputs).
type LoopConfig struct {
	SystemPrompt string
	Model        string
	TaskType     string
	Temperature  float64
	MaxTokens    int

	MaxSteps       int
	MaxDuration    time.Duration // 0 disables the time cap
	MaxToolDenials int
}

func (c LoopConfig) withDefaults() LoopConfig {
	if c.MaxSteps <= 0 {
		c.MaxSteps = DefaultMaxSteps
	}
	if c.MaxToolDenials <= 0 {
		c.MaxToolDenials = DefaultMaxToolDenials
	}
	return c
}

// RunResult is the Agent Loop's contract return value: `run(user_message) ->
// {content, steps_taken, tool_calls_made}` (spec §4.1).
type RunResult struct {
	Content       string
	StepsTaken    int
	ToolCallsMade int
}

// Loop drives one conversation's plan-execute-observe cycle: it calls the
// router for a completion, dispatches any requested tool calls through the
// Executor, appends the replies, and iterates until the model returns plain
// text or a termination condition trips.
type Loop struct {
	router   LLMProvider
	executor *Executor
	registry *ToolRegistry
	conv     *Conversation
	tier     authority.Tier
	cfg      LoopConfig
}

// NewLoop builds a Loop over an existing conversation (pass a fresh
// NewConversation(0) for a new session; conversations persist across Run
// calls up to the message cap, spec §4.1 "history persists across calls").
func NewLoop(router LLMProvider, executor *Executor, registry *ToolRegistry, conv *Conversation, tier authority.Tier, cfg LoopConfig) *Loop {
	return &Loop{
		router:   router,
		executor: executor,
		registry: registry,
		conv:     conv,
		tier:     tier,
		cfg:      cfg.withDefaults(),
	}
}

// ClearConversation implements the `clear_conversation` operation (spec
// §4.1), dropping all history including the system prompt.
func (l *Loop) ClearConversation() {
	l.conv.Clear()
}

// SetTier updates the authority tier Run filters tools against, without
// discarding the underlying conversation. A session's tier can change
// between turns (e.g. a tier table edit via the recovery channel); the
// conversation itself is unaffected.
func (l *Loop) SetTier(tier authority.Tier) {
	l.tier = tier
}

// Run executes the loop for one inbound user message.
func (l *Loop) Run(ctx context.Context, userMessage string) (*RunResult, error) {
	if l.cfg.SystemPrompt != "" {
		l.conv.SetSystem(l.cfg.SystemPrompt)
	}
	l.conv.Append(NewUserMessage(userMessage))

	var deadline time.Time
	if l.cfg.MaxDuration > 0 {
		deadline = time.Now().Add(l.cfg.MaxDuration)
	}
	denials := make(map[string]int)

	result := &RunResult{}
	for step := 0; step < l.cfg.MaxSteps; step++ {
		if !deadline.IsZero() && time.Now().After(deadline) {
			result.Content = "error: time budget exceeded"
			l.conv.Append(NewAssistantTextMessage(result.Content))
			return result, nil
		}

		text, toolCalls, err := l.completeOnce(ctx)
		result.StepsTaken++
		if err != nil {
			result.Content = fmt.Sprintf("error: %v", err)
			l.conv.Append(NewAssistantTextMessage(result.Content))
			return result, nil
		}

		if len(toolCalls) == 0 {
			result.Content = text
			l.conv.Append(NewAssistantTextMessage(text))
			return result, nil
		}

		l.conv.Append(NewAssistantToolCallMessage(toolCalls))
		result.ToolCallsMade += len(toolCalls)

		for _, call := range toolCalls {
			toolResult := l.executor.Execute(ctx, call, l.tier)
			if toolResult.IsError && isDenial(toolResult.Content) {
				denials[call.Name]++
				if denials[call.Name] >= l.cfg.MaxToolDenials {
					result.Content = fmt.Sprintf("error: tool %q denied %d times, aborting", call.Name, denials[call.Name])
					l.conv.Append(NewToolMessage(call.ID, toolResult))
					l.conv.Append(NewAssistantTextMessage(result.Content))
					return result, nil
				}
			}
			l.conv.Append(NewToolMessage(call.ID, toolResult))
		}
	}

	result.Content = "error: max steps exceeded"
	l.conv.Append(NewAssistantTextMessage(result.Content))
	return result, ErrMaxIterations
}

// completeOnce calls the router once and drains its stream into a final
// text response or a set of requested tool calls.
func (l *Loop) completeOnce(ctx context.Context) (string, []models.ToolCall, error) {
	req := l.buildRequest()
	chunks, err := l.router.Complete(ctx, req)
	if err != nil {
		return "", nil, err
	}

	var text strings.Builder
	var calls []models.ToolCall
	for chunk := range chunks {
		if chunk.Error != nil {
			return "", nil, chunk.Error
		}
		if chunk.Text != "" {
			text.WriteString(chunk.Text)
		}
		if chunk.ToolCall != nil {
			calls = append(calls, *chunk.ToolCall)
		}
		if chunk.Done {
			break
		}
	}
	return text.String(), calls, nil
}

func (l *Loop) buildRequest() *CompletionRequest {
	var system string
	if sys, ok := l.conv.System(); ok {
		system = sys.Content
	}

	var messages []CompletionMessage
	for _, m := range l.conv.Messages() {
		switch m.Role {
		case RoleSystem:
			continue
		case RoleUser:
			messages = append(messages, CompletionMessage{Role: "user", Content: m.Content})
		case RoleAssistant:
			messages = append(messages, CompletionMessage{Role: "assistant", Content: m.Content, ToolCalls: m.ToolCalls})
		case RoleTool:
			messages = append(messages, CompletionMessage{
				Role: "tool",
				ToolResults: []models.ToolResult{
					toolReplyToModel(m.ToolCallID, m.ToolResult),
				},
			})
		}
	}

	tools := l.toolsForRequest()

	return &CompletionRequest{
		Model:       l.cfg.Model,
		System:      system,
		Messages:    messages,
		Tools:       tools,
		MaxTokens:   l.cfg.MaxTokens,
		TaskType:    l.cfg.TaskType,
		Temperature: l.cfg.Temperature,
	}
}

func (l *Loop) toolsForRequest() []Tool {
	descs := FilterTools(l.registry.Snapshot(), l.tier)
	tools := make([]Tool, 0, len(descs))
	for _, d := range descs {
		if tool, _, ok := l.registry.Get(d.Name); ok && tool != nil {
			tools = append(tools, tool)
		}
	}
	return tools
}

func toolReplyToModel(toolCallID string, result *ToolResult) models.ToolResult {
	if result == nil {
		return models.ToolResult{ToolCallID: toolCallID}
	}
	return models.ToolResult{
		ToolCallID: toolCallID,
		Content:    result.Content,
		IsError:    result.IsError,
	}
}

func isDenial(message string) bool {
	return strings.Contains(message, "denied") ||
		strings.Contains(message, "not permitted") ||
		strings.Contains(message, "protected path")
}
