package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/workmesh/ndp/internal/llm"
)

// AnthropicConfig configures the anthropic dialect adapter.
type AnthropicConfig struct {
	// APIKey authenticates against the API.
	APIKey string

	// BaseURL overrides the API endpoint, for proxies and compatible
	// gateways. Empty uses the default endpoint.
	BaseURL string
}

// AnthropicAdapter serves models speaking the anthropic messages dialect.
type AnthropicAdapter struct {
	client anthropic.Client
}

// NewAnthropicAdapter creates the adapter.
func NewAnthropicAdapter(cfg AnthropicConfig) *AnthropicAdapter {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &AnthropicAdapter{client: anthropic.NewClient(opts...)}
}

// Dialect implements Adapter.
func (a *AnthropicAdapter) Dialect() llm.Dialect { return llm.DialectAnthropic }

// Complete implements Adapter. Without a partial callback it issues one
// batch request; with one it consumes the SSE stream.
func (a *AnthropicAdapter) Complete(ctx context.Context, req *Request) ([]llm.Part, error) {
	params, err := a.buildParams(req)
	if err != nil {
		return nil, err
	}
	if req.OnPartial == nil {
		return a.complete(ctx, req, params)
	}
	return a.stream(ctx, req, params)
}

func (a *AnthropicAdapter) buildParams(req *Request) (anthropic.MessageNewParams, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = req.Model.MaxOutputTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model.APIModel),
		MaxTokens: int64(maxTokens),
	}
	if sys := systemText(req); sys != "" {
		params.System = []anthropic.TextBlockParam{{Text: sys}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	} else if req.Model.Temperature != 0 {
		params.Temperature = anthropic.Float(req.Model.Temperature)
	}
	if req.Model.NativeTools && len(req.Tools) > 0 && req.ToolChoice != ToolChoiceNone {
		tools, err := anthropicTools(req.Tools)
		if err != nil {
			return params, err
		}
		params.Tools = tools
		if req.ToolChoice != "" && req.ToolChoice != ToolChoiceAuto {
			params.ToolChoice = anthropic.ToolChoiceUnionParam{
				OfTool: &anthropic.ToolChoiceToolParam{Name: req.ToolChoice},
			}
		}
	}
	params.Messages = anthropicMessages(req)
	return params, nil
}

// anthropicMessages converts the rendered conversation. Tool results live
// in user-role messages on this wire, and consecutive messages that land
// on the same wire role are merged to keep the strict user/assistant
// alternation the API demands.
func anthropicMessages(req *Request) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	appendBlocks := func(assistant bool, blocks []anthropic.ContentBlockParamUnion) {
		if len(blocks) == 0 {
			return
		}
		role := anthropic.MessageParamRoleUser
		if assistant {
			role = anthropic.MessageParamRoleAssistant
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = append(out[n-1].Content, blocks...)
			return
		}
		msg := anthropic.NewUserMessage(blocks...)
		if assistant {
			msg = anthropic.NewAssistantMessage(blocks...)
		}
		out = append(out, msg)
	}

	for _, msg := range req.Messages {
		assistant := msg.Role == llm.RoleBot
		var blocks []anthropic.ContentBlockParamUnion
		for _, part := range msg.Parts {
			switch part.Kind {
			case llm.PartThink:
				if part.Think.Signature != "" {
					blocks = append(blocks, anthropic.NewThinkingBlock(part.Think.Signature, part.Think.Text))
				}
			case llm.PartText:
				blocks = append(blocks, anthropic.NewTextBlock(wireText(part.Text)))
			case llm.PartToolCalls:
				for _, call := range part.ToolCalls.Calls {
					if req.Model.NativeTools {
						blocks = append(blocks, anthropic.NewToolUseBlock(callID(call), call.Arguments, call.Name))
					} else {
						blocks = append(blocks, anthropic.NewTextBlock(wireToolCall(call)))
					}
				}
			case llm.PartToolResult:
				blocks = append(blocks, anthropicToolResult(msg.Role, part.ToolResult)...)
			case llm.PartInvalid:
				blocks = append(blocks, anthropic.NewTextBlock(part.Invalid.Raw))
			}
		}
		appendBlocks(assistant, blocks)
	}
	return out
}

// anthropicToolResult renders one tool result. Results paired with a
// native call become tool_result blocks; the synthetic media-embeds
// message (user role, no call id) becomes plain text and image blocks.
func anthropicToolResult(role llm.Role, res *llm.ToolResultPart) []anthropic.ContentBlockParamUnion {
	var blocks []anthropic.ContentBlockParamUnion
	if role == llm.RoleTool {
		blocks = append(blocks, anthropic.NewToolResultBlock(resultCallID(res), resultText(res.Contents), res.IsError))
	} else if text := resultText(res.Contents); text != "" {
		blocks = append(blocks, anthropic.NewTextBlock(text))
	}
	for _, c := range res.Contents {
		if c.Media != nil {
			blocks = append(blocks, anthropic.NewImageBlockBase64(
				c.Media.MimeType, base64.StdEncoding.EncodeToString(c.Media.Data)))
		}
	}
	return blocks
}

func anthropicTools(tools []llm.ToolSpec) ([]anthropic.ToolUnionParam, error) {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		raw := tool.Schema
		if len(raw) == 0 {
			raw = json.RawMessage(`{"type":"object"}`)
		}
		if err := json.Unmarshal(raw, &schema); err != nil {
			return nil, NewProviderError("anthropic", "", err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if tool.Description != "" {
			param.OfTool.Description = anthropic.String(tool.Description)
		}
		out = append(out, param)
	}
	return out, nil
}

func (a *AnthropicAdapter) complete(ctx context.Context, req *Request, params anthropic.MessageNewParams) ([]llm.Part, error) {
	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, a.wrapError(err, req)
	}
	e := newEmitter(req)
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			if err := e.AddText(block.Text); err != nil {
				return nil, err
			}
			if err := e.EndText(); err != nil {
				return nil, err
			}
		case "thinking":
			if err := e.AddThink(block.Thinking); err != nil {
				return nil, err
			}
			e.SetThinkSignature(block.Signature)
			if err := e.EndThink(); err != nil {
				return nil, err
			}
		case "tool_use":
			if err := e.AddParts(finalizeToolCall(block.ID, block.Name, string(block.Input))); err != nil {
				return nil, err
			}
		}
	}
	return e.Final()
}

func (a *AnthropicAdapter) stream(ctx context.Context, req *Request, params anthropic.MessageNewParams) ([]llm.Part, error) {
	stream := a.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	e := newEmitter(req)
	var toolID, toolName string
	var toolJSON strings.Builder
	inTool := false

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "content_block_start":
			start := event.AsContentBlockStart()
			if start.ContentBlock.Type == "tool_use" {
				if err := e.EndText(); err != nil {
					return nil, err
				}
				toolUse := start.ContentBlock.AsToolUse()
				toolID, toolName = toolUse.ID, toolUse.Name
				toolJSON.Reset()
				inTool = true
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if err := e.AddText(delta.Text); err != nil {
					return nil, err
				}
			case "thinking_delta":
				if err := e.AddThink(delta.Thinking); err != nil {
					return nil, err
				}
			case "signature_delta":
				e.SetThinkSignature(delta.Signature)
			case "input_json_delta":
				toolJSON.WriteString(delta.PartialJSON)
			}

		case "content_block_stop":
			var err error
			if inTool {
				err = e.AddParts(finalizeToolCall(toolID, toolName, toolJSON.String()))
				inTool = false
			} else if err = e.EndThink(); err == nil {
				err = e.EndText()
			}
			if err != nil {
				return nil, err
			}

		case "message_stop":
			return e.Final()
		}
	}
	if err := stream.Err(); err != nil {
		return nil, a.wrapError(err, req)
	}
	return e.Final()
}

func (a *AnthropicAdapter) wrapError(err error, req *Request) error {
	perr := NewProviderError("anthropic", req.Model.APIModel, err)
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		perr = perr.WithStatus(apiErr.StatusCode)
	}
	return perr
}
