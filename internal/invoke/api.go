package invoke

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
)

// envelopeInstruction is appended to every system prompt so the final
// output can be parsed uniformly across roles and runtimes.
const envelopeInstruction = `
When you are finished, end your reply with a single JSON object:
{"status": "success", "payload": { ...your structured result... }}
On failure use {"status": "failed", "error": "what went wrong"}.
Do not put any text after the JSON object.`

// APIRunner invokes roles through the Anthropic messages API with an
// in-process tool execution loop.
type APIRunner struct {
	client *Client
}

// NewAPIRunner creates an API-backed runner.
func NewAPIRunner(client *Client) *APIRunner {
	return &APIRunner{client: client}
}

// Invoke implements Invoker.
func (r *APIRunner) Invoke(ctx context.Context, req Request) (*Result, error) {
	if !req.Role.Valid() {
		return nil, schemaErr(req.Role, "unknown role", nil)
	}

	if req.Constraints.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Constraints.Timeout)
		defer cancel()
	}

	allowed := ToolsForRole(req.Role)
	executor := newToolExecutor(req.WorkDir, allowed)
	tools := toolDefinitions(allowed)

	system := req.SystemPrompt + envelopeInstruction
	prompt := renderPrompt(req)

	maxTurns := req.Constraints.MaxTurns
	if maxTurns <= 0 {
		maxTurns = 150
	}

	messages := []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
	}

	var lastText string
	turns := 0
	for turns < maxTurns {
		turns++

		resp, err := r.client.sdk().Messages.New(ctx, anthropic.MessageNewParams{
			Model:     r.client.ResolveModel(req.Constraints.Model),
			MaxTokens: 8192,
			System:    []anthropic.TextBlockParam{{Text: system}},
			Messages:  messages,
			Tools:     tools,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, classifyCtxErr(req.Role, ctx, err)
			}
			return nil, transportErr(req.Role, err)
		}
		r.client.Tracker().Add(resp.Usage.InputTokens, resp.Usage.OutputTokens)

		var assistantBlocks []anthropic.ContentBlockParamUnion
		var toolResultBlocks []anthropic.ContentBlockParamUnion
		var textOutput string

		for _, block := range resp.Content {
			switch variant := block.AsAny().(type) {
			case anthropic.TextBlock:
				textOutput += variant.Text
				assistantBlocks = append(assistantBlocks, anthropic.NewTextBlock(variant.Text))
			case anthropic.ToolUseBlock:
				assistantBlocks = append(assistantBlocks,
					anthropic.NewToolUseBlock(variant.ID, variant.Input, variant.Name))
				res := executor.execute(ctx, variant.Name, variant.Input)
				toolResultBlocks = append(toolResultBlocks,
					anthropic.NewToolResultBlock(variant.ID, res.Content, res.IsError))
			}
		}
		lastText = textOutput

		if resp.StopReason == anthropic.StopReasonEndTurn {
			return finalize(req.Role, textOutput, turns)
		}

		messages = append(messages, anthropic.NewAssistantMessage(assistantBlocks...))
		if len(toolResultBlocks) > 0 {
			messages = append(messages, anthropic.NewUserMessage(toolResultBlocks...))
		}

		if ctx.Err() != nil {
			return nil, classifyCtxErr(req.Role, ctx, ctx.Err())
		}
	}

	log.Printf("[invoke] %s hit max turns (%d)", req.Role, maxTurns)
	if lastText != "" {
		// A turn-capped agent may still have emitted a usable envelope.
		if res, err := finalize(req.Role, lastText, turns); err == nil {
			return res, nil
		}
	}
	return nil, statusErr(req.Role, StatusTimedOut, fmt.Sprintf("max turns (%d) reached", maxTurns))
}

// renderPrompt assembles the user prompt: shared-memory entries first,
// then the caller's payload.
func renderPrompt(req Request) string {
	if len(req.Memory) == 0 {
		return req.Prompt
	}
	keys := make([]string, 0, len(req.Memory))
	for k := range req.Memory {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("## Shared context\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "### %s\n%s\n\n", k, req.Memory[k])
	}
	b.WriteString(req.Prompt)
	return b.String()
}
