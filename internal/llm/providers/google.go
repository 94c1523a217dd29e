package providers

import (
	"context"
	"encoding/json"
	"errors"

	"google.golang.org/genai"

	"github.com/workmesh/ndp/internal/llm"
)

// GoogleConfig configures the google dialect adapter.
type GoogleConfig struct {
	APIKey string

	// BaseURL overrides the API endpoint. Empty uses the default.
	BaseURL string
}

// GoogleAdapter serves models speaking the gemini dialect.
type GoogleAdapter struct {
	client *genai.Client
}

// NewGoogleAdapter creates the adapter.
func NewGoogleAdapter(ctx context.Context, cfg GoogleConfig) (*GoogleAdapter, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = cfg.BaseURL
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, NewProviderError("google", "", err)
	}
	return &GoogleAdapter{client: client}, nil
}

// Dialect implements Adapter.
func (a *GoogleAdapter) Dialect() llm.Dialect { return llm.DialectGoogle }

// Complete implements Adapter.
func (a *GoogleAdapter) Complete(ctx context.Context, req *Request) ([]llm.Part, error) {
	contents := googleContents(req)
	config := a.buildConfig(req)
	if req.OnPartial == nil {
		return a.complete(ctx, req, contents, config)
	}
	return a.stream(ctx, req, contents, config)
}

func (a *GoogleAdapter) buildConfig(req *Request) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}
	if sys := systemText(req); sys != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: sys}},
		}
	}
	if req.Temperature != nil {
		config.Temperature = genai.Ptr(float32(*req.Temperature))
	} else if req.Model.Temperature != 0 {
		config.Temperature = genai.Ptr(float32(req.Model.Temperature))
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	} else if req.Model.MaxOutputTokens > 0 {
		config.MaxOutputTokens = int32(req.Model.MaxOutputTokens)
	}
	if req.Model.Think == llm.ThinkGemini {
		config.ThinkingConfig = &genai.ThinkingConfig{IncludeThoughts: true}
	}
	if req.Model.NativeTools && len(req.Tools) > 0 && req.ToolChoice != ToolChoiceNone {
		config.Tools = googleTools(req.Tools)
		if req.ToolChoice != "" && req.ToolChoice != ToolChoiceAuto {
			config.ToolConfig = &genai.ToolConfig{
				FunctionCallingConfig: &genai.FunctionCallingConfig{
					Mode:                 genai.FunctionCallingConfigModeAny,
					AllowedFunctionNames: []string{req.ToolChoice},
				},
			}
		}
	}
	if len(req.ResponseSchema) > 0 {
		config.ResponseMIMEType = "application/json"
		config.ResponseJsonSchema = json.RawMessage(req.ResponseSchema)
	}
	return config
}

// googleContents converts the rendered conversation. This wire pairs tool
// results by function name rather than call id, and carries reasoning as
// thought parts whose signatures must round-trip byte-exactly.
func googleContents(req *Request) []*genai.Content {
	var out []*genai.Content
	appendParts := func(model bool, parts []*genai.Part) {
		if len(parts) == 0 {
			return
		}
		role := genai.RoleUser
		if model {
			role = genai.RoleModel
		}
		if n := len(out); n > 0 && out[n-1].Role == string(role) {
			out[n-1].Parts = append(out[n-1].Parts, parts...)
			return
		}
		out = append(out, &genai.Content{Role: string(role), Parts: parts})
	}

	for _, msg := range req.Messages {
		model := msg.Role == llm.RoleBot
		var parts []*genai.Part
		for _, part := range msg.Parts {
			switch part.Kind {
			case llm.PartThink:
				if part.Think.Signature != "" {
					parts = append(parts, &genai.Part{
						Text:             part.Think.Text,
						Thought:          true,
						ThoughtSignature: []byte(part.Think.Signature),
					})
				}
			case llm.PartText:
				parts = append(parts, &genai.Part{Text: wireText(part.Text)})
			case llm.PartToolCalls:
				for _, call := range part.ToolCalls.Calls {
					if req.Model.NativeTools {
						parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
							ID:   callID(call),
							Name: call.Name,
							Args: rawToMap(call.Arguments),
						}})
					} else {
						parts = append(parts, &genai.Part{Text: wireToolCall(call)})
					}
				}
			case llm.PartToolResult:
				parts = append(parts, googleToolResult(msg.Role, part.ToolResult)...)
			case llm.PartInvalid:
				parts = append(parts, &genai.Part{Text: part.Invalid.Raw})
			}
		}
		appendParts(model, parts)
	}
	return out
}

func googleToolResult(role llm.Role, res *llm.ToolResultPart) []*genai.Part {
	var parts []*genai.Part
	if role == llm.RoleTool {
		key := "output"
		if res.IsError {
			key = "error"
		}
		parts = append(parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
			ID:       resultCallID(res),
			Name:     res.Name,
			Response: map[string]any{key: resultText(res.Contents)},
		}})
	} else if text := resultText(res.Contents); text != "" {
		parts = append(parts, &genai.Part{Text: text})
	}
	for _, c := range res.Contents {
		if c.Media != nil {
			parts = append(parts, &genai.Part{InlineData: &genai.Blob{
				MIMEType: c.Media.MimeType,
				Data:     c.Media.Data,
			}})
		}
	}
	return parts
}

func googleTools(tools []llm.ToolSpec) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, tool := range tools {
		decl := &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
		}
		if len(tool.Schema) > 0 {
			decl.ParametersJsonSchema = json.RawMessage(tool.Schema)
		}
		decls = append(decls, decl)
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func rawToMap(raw json.RawMessage) map[string]any {
	args := make(map[string]any)
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &args)
	}
	return args
}

func (a *GoogleAdapter) complete(ctx context.Context, req *Request, contents []*genai.Content, config *genai.GenerateContentConfig) ([]llm.Part, error) {
	resp, err := a.client.Models.GenerateContent(ctx, req.Model.APIModel, contents, config)
	if err != nil {
		return nil, a.wrapError(err, req)
	}
	e := newEmitter(req)
	if err := a.consume(e, resp); err != nil {
		return nil, err
	}
	return e.Final()
}

func (a *GoogleAdapter) stream(ctx context.Context, req *Request, contents []*genai.Content, config *genai.GenerateContentConfig) ([]llm.Part, error) {
	e := newEmitter(req)
	for resp, err := range a.client.Models.GenerateContentStream(ctx, req.Model.APIModel, contents, config) {
		if err != nil {
			return nil, a.wrapError(err, req)
		}
		if err := a.consume(e, resp); err != nil {
			return nil, err
		}
	}
	return e.Final()
}

// consume feeds one response chunk into the emitter. Thought parts carry
// reasoning; a thought signature seals the open reasoning block.
func (a *GoogleAdapter) consume(e *emitter, resp *genai.GenerateContentResponse) error {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if len(part.ThoughtSignature) > 0 {
			e.SetThinkSignature(string(part.ThoughtSignature))
		}
		switch {
		case part.Text != "" && part.Thought:
			if err := e.AddThink(part.Text); err != nil {
				return err
			}
		case part.Text != "":
			if err := e.EndThink(); err != nil {
				return err
			}
			if err := e.AddText(part.Text); err != nil {
				return err
			}
		case part.FunctionCall != nil:
			if err := e.EndThink(); err != nil {
				return err
			}
			if err := e.EndText(); err != nil {
				return err
			}
			args, err := json.Marshal(part.FunctionCall.Args)
			if err != nil {
				args = []byte("{}")
			}
			if err := e.AddParts(finalizeToolCall(part.FunctionCall.ID, part.FunctionCall.Name, string(args))); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *GoogleAdapter) wrapError(err error, req *Request) error {
	perr := NewProviderError("google", req.Model.APIModel, err)
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		perr = perr.WithStatus(apiErr.Code)
	}
	return perr
}
