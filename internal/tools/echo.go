package tools

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/workmesh/ndp/internal/ndperr"
	"github.com/workmesh/ndp/internal/process"
)

// errorPrefix makes echo fail on demand, for exercising the failure path
// end to end.
const errorPrefix = "ERROR: "

// Echo returns the echo tool: it reports the received text as progress and
// then succeeds with the same text, or fails when the text carries the
// error prefix.
func Echo() *Provider {
	return &Provider{
		Name:        "echo",
		Description: `Echoes the given text back. Text starting with "ERROR: " fails instead.`,
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"text": {"type": "string"}
			},
			"required": ["text"],
			"additionalProperties": false
		}`),
		Factory: func(args json.RawMessage) process.Runner {
			return RunnerFunc(func(ctx context.Context, h *process.Handle) (json.RawMessage, error) {
				var a struct {
					Text string `json:"text"`
				}
				if err := json.Unmarshal(args, &a); err != nil {
					return nil, ndperr.BadToolArgumentsError("echo", err)
				}
				progress, err := json.Marshal(map[string]string{"received_text": a.Text})
				if err != nil {
					return nil, err
				}
				if err := h.SendProgress(ctx, progress); err != nil {
					return nil, err
				}
				if msg, ok := strings.CutPrefix(a.Text, errorPrefix); ok {
					return nil, ndperr.New(400, "ToolError.echo", ndperr.KindNormal, msg)
				}
				return json.Marshal(a.Text)
			})
		},
	}
}
