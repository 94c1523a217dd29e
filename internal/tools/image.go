package tools

import (
	"context"
	"encoding/base64"
	"encoding/json"

	openai "github.com/sashabaranov/go-openai"

	"github.com/workmesh/ndp/internal/llm"
	"github.com/workmesh/ndp/internal/ndperr"
	"github.com/workmesh/ndp/internal/process"
)

// ImageConfig configures the generate_image tool.
type ImageConfig struct {
	// APIKey authenticates against the image API. Empty disables the tool
	// at execution time (it is still offered so personas can reference it).
	APIKey string

	// BaseURL overrides the API endpoint.
	BaseURL string

	// Model is the image model; empty uses dall-e-3.
	Model string
}

// GenerateImage returns the generate_image tool, backed by the OpenAI
// images API. The produced image travels as optional media content, so the
// history injects it as the next user message.
func GenerateImage(cfg ImageConfig) *Provider {
	model := cfg.Model
	if model == "" {
		model = openai.CreateImageModelDallE3
	}
	var client *openai.Client
	if cfg.APIKey != "" {
		clientCfg := openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			clientCfg.BaseURL = cfg.BaseURL
		}
		client = openai.NewClientWithConfig(clientCfg)
	}
	return &Provider{
		Name:        "generate_image",
		Description: "Generates an image from a text prompt.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"prompt": {"type": "string"}
			},
			"required": ["prompt"],
			"additionalProperties": false
		}`),
		Factory: func(args json.RawMessage) process.Runner {
			return RunnerFunc(func(ctx context.Context, h *process.Handle) (json.RawMessage, error) {
				var a struct {
					Prompt string `json:"prompt"`
				}
				if err := json.Unmarshal(args, &a); err != nil {
					return nil, ndperr.BadToolArgumentsError("generate_image", err)
				}
				if client == nil {
					return nil, ndperr.New(501, "ToolError.generate_image", ndperr.KindNormal,
						"image generation is not configured")
				}
				resp, err := client.CreateImage(ctx, openai.ImageRequest{
					Prompt:         a.Prompt,
					Model:          model,
					N:              1,
					ResponseFormat: openai.CreateImageResponseFormatB64JSON,
				})
				if err != nil {
					return nil, ndperr.New(502, "ToolError.generate_image", ndperr.KindRetryable,
						"image generation failed").WithCause(err)
				}
				if len(resp.Data) == 0 {
					return nil, ndperr.New(502, "ToolError.generate_image", ndperr.KindRetryable,
						"image API returned no data")
				}
				raw, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
				if err != nil {
					return nil, ndperr.New(502, "ToolError.generate_image", ndperr.KindRetryable,
						"image API returned undecodable data").WithCause(err)
				}
				return MarshalOutput(
					llm.Content{Mode: llm.ModeRequired, Text: "generated image for prompt: " + a.Prompt},
					llm.Content{Mode: llm.ModeOptional, Media: &llm.Media{MimeType: "image/png", Data: raw}},
				)
			})
		},
	}
}

// Builtins returns a registry with every built-in tool installed.
func Builtins(image ImageConfig, docs ReadDocsConfig, search WebSearchConfig) (*Registry, error) {
	reg := NewRegistry()
	for _, p := range []*Provider{
		Echo(),
		GenerateImage(image),
		ReadDocs(docs),
		WebSearch(search),
	} {
		if err := reg.Register(p); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
