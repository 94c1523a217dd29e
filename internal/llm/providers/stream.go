package providers

import (
	"strings"

	"github.com/workmesh/ndp/internal/llm"
)

// emitter accumulates streamed deltas and produces the partial parses the
// request callback sees. Partials are emitted once StreamThreshold
// characters accumulate and, regardless of count, at every section
// boundary: end of reasoning, completed tool call, new content block.
type emitter struct {
	req *Request

	completed []llm.Part
	think     strings.Builder
	thinkSig  string
	inThink   bool
	text      strings.Builder
	sinceEmit int
}

func newEmitter(req *Request) *emitter {
	return &emitter{req: req}
}

// AddThink accumulates a reasoning delta.
func (e *emitter) AddThink(delta string) error {
	if delta == "" {
		return nil
	}
	e.inThink = true
	e.think.WriteString(delta)
	e.sinceEmit += len(delta)
	return e.maybeEmit(false)
}

// SetThinkSignature records the opaque signature of the open reasoning
// block. Preserved byte-exactly into the resulting part.
func (e *emitter) SetThinkSignature(sig string) {
	if sig != "" {
		e.thinkSig = sig
	}
}

// EndThink seals the open reasoning block.
func (e *emitter) EndThink() error {
	if !e.inThink && e.think.Len() == 0 {
		return nil
	}
	e.completed = append(e.completed, llm.NewThink(e.think.String(), e.thinkSig))
	e.think.Reset()
	e.thinkSig = ""
	e.inThink = false
	return e.maybeEmit(true)
}

// AddText accumulates a visible text delta.
func (e *emitter) AddText(delta string) error {
	if delta == "" {
		return nil
	}
	e.text.WriteString(delta)
	e.sinceEmit += len(delta)
	return e.maybeEmit(false)
}

// EndText parses and seals the accumulated text buffer.
func (e *emitter) EndText() error {
	if e.text.Len() == 0 {
		return nil
	}
	e.completed = append(e.completed, e.parseText(e.text.String())...)
	e.text.Reset()
	return e.maybeEmit(true)
}

// AddParts appends finished parts (tool calls, invalids) directly.
func (e *emitter) AddParts(parts []llm.Part) error {
	if len(parts) == 0 {
		return nil
	}
	e.completed = append(e.completed, parts...)
	return e.maybeEmit(true)
}

// parseText turns a text body into parts: inline reasoning extraction for
// dialects that carry it in text, then section splitting with XML tool
// parsing for models without native tool support.
func (e *emitter) parseText(body string) []llm.Part {
	var parts []llm.Part
	if e.req.Model.Think == llm.ThinkDeepseek {
		if think, rest := llm.ExtractThink(body); think != "" {
			parts = append(parts, llm.NewThink(think, ""))
			body = rest
		}
	}
	parseTools := !e.req.Model.NativeTools && len(e.req.Tools) > 0 && e.req.ToolChoice != ToolChoiceNone
	return append(parts, llm.SplitSections(body, e.req.XMLSections, parseTools)...)
}

// maybeEmit delivers a partial parse to the callback. A callback error
// (typically a stop) aborts the stream.
func (e *emitter) maybeEmit(force bool) error {
	if e.req.OnPartial == nil {
		return nil
	}
	if !force && e.sinceEmit < StreamThreshold {
		return nil
	}
	e.sinceEmit = 0

	snapshot := append([]llm.Part(nil), e.completed...)
	if e.think.Len() > 0 {
		snapshot = append(snapshot, llm.NewThink(e.think.String(), ""))
	}
	if e.text.Len() > 0 {
		snapshot = append(snapshot, e.parseText(e.text.String())...)
	}
	if len(snapshot) == 0 {
		return nil
	}
	return e.req.OnPartial(snapshot)
}

// Final seals any open buffers and returns the completed parts.
func (e *emitter) Final() ([]llm.Part, error) {
	if err := e.EndThink(); err != nil {
		return nil, err
	}
	if err := e.EndText(); err != nil {
		return nil, err
	}
	return e.completed, nil
}
