package providers

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/workmesh/ndp/internal/llm"
)

// OpenAIConfig configures the openai dialect adapter. The dialect covers
// the OpenAI API and every compatible gateway (openrouter, local servers),
// which is how non-native and deepseek-style models are reached.
type OpenAIConfig struct {
	APIKey string

	// BaseURL overrides the API endpoint. Empty uses api.openai.com.
	BaseURL string
}

// OpenAIAdapter serves models speaking the chat-completions dialect.
type OpenAIAdapter struct {
	client *openai.Client
}

// NewOpenAIAdapter creates the adapter.
func NewOpenAIAdapter(cfg OpenAIConfig) *OpenAIAdapter {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIAdapter{client: openai.NewClientWithConfig(clientCfg)}
}

// Dialect implements Adapter.
func (a *OpenAIAdapter) Dialect() llm.Dialect { return llm.DialectOpenAI }

// Complete implements Adapter.
func (a *OpenAIAdapter) Complete(ctx context.Context, req *Request) ([]llm.Part, error) {
	chatReq := a.buildRequest(req)
	if req.OnPartial == nil {
		return a.complete(ctx, req, chatReq)
	}
	return a.stream(ctx, req, chatReq)
}

func (a *OpenAIAdapter) buildRequest(req *Request) openai.ChatCompletionRequest {
	chatReq := openai.ChatCompletionRequest{
		Model:    req.Model.APIModel,
		Messages: openaiMessages(req),
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	} else if req.Model.MaxOutputTokens > 0 {
		chatReq.MaxTokens = req.Model.MaxOutputTokens
	}
	if req.Temperature != nil {
		chatReq.Temperature = float32(*req.Temperature)
	} else if req.Model.Temperature != 0 {
		chatReq.Temperature = float32(req.Model.Temperature)
	}
	if req.Model.NativeTools && len(req.Tools) > 0 && req.ToolChoice != ToolChoiceNone {
		chatReq.Tools = openaiTools(req.Tools)
		if req.ToolChoice != "" && req.ToolChoice != ToolChoiceAuto {
			chatReq.ToolChoice = openai.ToolChoice{
				Type:     openai.ToolTypeFunction,
				Function: openai.ToolFunction{Name: req.ToolChoice},
			}
		}
	}
	if len(req.ResponseSchema) > 0 {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "response",
				Schema: req.ResponseSchema,
				Strict: true,
			},
		}
	}
	return chatReq
}

// openaiMessages converts the rendered conversation. The system prompt is
// the first message on this wire; each tool result becomes its own
// tool-role message linked by call id.
func openaiMessages(req *Request) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if sys := systemText(req); sys != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: sys,
		})
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case llm.RoleBot:
			out = append(out, openaiAssistantMessage(req, msg))
		case llm.RoleTool:
			for _, part := range msg.Parts {
				if part.Kind != llm.PartToolResult {
					continue
				}
				out = append(out, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    resultText(part.ToolResult.Contents),
					ToolCallID: resultCallID(part.ToolResult),
				})
			}
		default:
			out = append(out, openaiUserMessage(msg))
		}
	}
	return out
}

func openaiAssistantMessage(req *Request, msg llm.Message) openai.ChatCompletionMessage {
	oaiMsg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant}
	var texts []string
	for _, part := range msg.Parts {
		switch part.Kind {
		case llm.PartText:
			texts = append(texts, wireText(part.Text))
		case llm.PartToolCalls:
			for _, call := range part.ToolCalls.Calls {
				if req.Model.NativeTools {
					oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
						ID:   callID(call),
						Type: openai.ToolTypeFunction,
						Function: openai.FunctionCall{
							Name:      call.Name,
							Arguments: string(call.Arguments),
						},
					})
				} else {
					texts = append(texts, wireToolCall(call))
				}
			}
		case llm.PartInvalid:
			texts = append(texts, part.Invalid.Raw)
		}
		// Reasoning is not replayed on this wire.
	}
	oaiMsg.Content = strings.Join(texts, "\n")
	return oaiMsg
}

func openaiUserMessage(msg llm.Message) openai.ChatCompletionMessage {
	var texts []string
	var images []*openai.ChatMessageImageURL
	for _, part := range msg.Parts {
		switch part.Kind {
		case llm.PartText:
			texts = append(texts, wireText(part.Text))
		case llm.PartToolResult:
			if text := resultText(part.ToolResult.Contents); text != "" {
				texts = append(texts, text)
			}
			for _, c := range part.ToolResult.Contents {
				if c.Media != nil {
					images = append(images, &openai.ChatMessageImageURL{
						URL: "data:" + c.Media.MimeType + ";base64," +
							base64.StdEncoding.EncodeToString(c.Media.Data),
						Detail: openai.ImageURLDetailAuto,
					})
				}
			}
		case llm.PartInvalid:
			texts = append(texts, part.Invalid.Raw)
		}
	}
	if len(images) == 0 {
		return openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: strings.Join(texts, "\n"),
		}
	}
	parts := make([]openai.ChatMessagePart, 0, len(texts)+len(images))
	for _, t := range texts {
		parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: t})
	}
	for _, img := range images {
		parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeImageURL, ImageURL: img})
	}
	return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, MultiContent: parts}
}

func openaiTools(tools []llm.ToolSpec) []openai.Tool {
	out := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Schema,
			},
		}
	}
	return out
}

func (a *OpenAIAdapter) complete(ctx context.Context, req *Request, chatReq openai.ChatCompletionRequest) ([]llm.Part, error) {
	resp, err := a.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, a.wrapError(err, req)
	}
	if len(resp.Choices) == 0 {
		return nil, NewProviderError("openai", req.Model.APIModel, errors.New("completion returned no choices"))
	}
	choice := resp.Choices[0].Message

	e := newEmitter(req)
	if choice.ReasoningContent != "" {
		if err := e.AddThink(choice.ReasoningContent); err != nil {
			return nil, err
		}
		if err := e.EndThink(); err != nil {
			return nil, err
		}
	}
	if choice.Content != "" {
		if err := e.AddText(choice.Content); err != nil {
			return nil, err
		}
		if err := e.EndText(); err != nil {
			return nil, err
		}
	}
	for _, tc := range choice.ToolCalls {
		if err := e.AddParts(finalizeToolCall(tc.ID, tc.Function.Name, tc.Function.Arguments)); err != nil {
			return nil, err
		}
	}
	return e.Final()
}

// pendingCall accumulates one tool call across stream deltas. The id and
// name arrive in the first chunk for an index, argument JSON in fragments
// after it.
type pendingCall struct {
	id   string
	name string
	args strings.Builder
}

func (a *OpenAIAdapter) stream(ctx context.Context, req *Request, chatReq openai.ChatCompletionRequest) ([]llm.Part, error) {
	chatReq.Stream = true
	stream, err := a.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, a.wrapError(err, req)
	}
	defer stream.Close()

	e := newEmitter(req)
	calls := make(map[int]*pendingCall)

	flushCalls := func() error {
		if len(calls) == 0 {
			return nil
		}
		indexes := make([]int, 0, len(calls))
		for i := range calls {
			indexes = append(indexes, i)
		}
		sort.Ints(indexes)
		for _, i := range indexes {
			call := calls[i]
			// Some gateways emit phantom deltas with neither id nor name.
			if call.name == "" {
				continue
			}
			if err := e.AddParts(finalizeToolCall(call.id, call.name, call.args.String())); err != nil {
				return err
			}
		}
		calls = make(map[int]*pendingCall)
		return nil
	}

	for {
		resp, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, a.wrapError(err, req)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]
		delta := choice.Delta

		if delta.ReasoningContent != "" {
			if err := e.AddThink(delta.ReasoningContent); err != nil {
				return nil, err
			}
		}
		if delta.Content != "" {
			if err := e.EndThink(); err != nil {
				return nil, err
			}
			if err := e.AddText(delta.Content); err != nil {
				return nil, err
			}
		}
		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			call := calls[index]
			if call == nil {
				if err := e.EndText(); err != nil {
					return nil, err
				}
				call = &pendingCall{}
				calls[index] = call
			}
			if tc.ID != "" {
				call.id = tc.ID
			}
			if tc.Function.Name != "" {
				call.name = tc.Function.Name
			}
			call.args.WriteString(tc.Function.Arguments)
		}

		if choice.FinishReason == openai.FinishReasonToolCalls {
			if err := flushCalls(); err != nil {
				return nil, err
			}
		}
	}
	if err := flushCalls(); err != nil {
		return nil, err
	}
	return e.Final()
}

func (a *OpenAIAdapter) wrapError(err error, req *Request) error {
	perr := NewProviderError("openai", req.Model.APIModel, err)
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		perr = perr.WithStatus(apiErr.HTTPStatusCode)
	}
	return perr
}
