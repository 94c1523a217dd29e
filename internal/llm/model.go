package llm

import "fmt"

// Dialect selects which provider adapter serves a model.
type Dialect string

const (
	DialectAnthropic Dialect = "anthropic"
	DialectOpenAI    Dialect = "openai"
	DialectGoogle    Dialect = "google"
)

// ThinkMode describes how a model's reasoning travels on the wire.
type ThinkMode string

const (
	// ThinkAnthropic carries reasoning as signed opaque blocks.
	ThinkAnthropic ThinkMode = "anthropic"
	// ThinkGemini carries reasoning as signed opaque blocks (gemini wire).
	ThinkGemini ThinkMode = "gemini"
	// ThinkDeepseek carries reasoning inline as <think>…</think> text.
	ThinkDeepseek ThinkMode = "deepseek"
	// ThinkGptOss prepends reasoning as plain text.
	ThinkGptOss ThinkMode = "gptoss"
	// ThinkHidden means reasoning is not returned at all.
	ThinkHidden ThinkMode = "hidden"
)

// proprietary reports whether the mode's reasoning blocks are opaque and
// signed, making histories non-portable across differing modes.
func (m ThinkMode) proprietary() bool {
	return m == ThinkAnthropic || m == ThinkGemini
}

// ModelInfo is one entry of the model catalog.
type ModelInfo struct {
	// Name is the catalog key personas refer to.
	Name string `json:"name" yaml:"name"`
	// APIModel is the provider-side model identifier.
	APIModel string `json:"apiModel" yaml:"api_model"`
	Dialect  Dialect   `json:"dialect" yaml:"dialect"`
	Think    ThinkMode `json:"think" yaml:"think"`
	// NativeTools reports whether the provider accepts structured tool
	// definitions; without it the XML tool protocol is used.
	NativeTools bool `json:"nativeTools" yaml:"native_tools"`
	// ContextTokens is the total request budget.
	ContextTokens int `json:"contextTokens" yaml:"context_tokens"`
	// RecentTokens is the window rendered in full history mode before the
	// renderer switches older runs to legacy mode.
	RecentTokens int `json:"recentTokens" yaml:"recent_tokens"`
	// MaxOutputTokens caps the completion length.
	MaxOutputTokens int `json:"maxOutputTokens" yaml:"max_output_tokens"`
	// Temperature is the default sampling temperature.
	Temperature float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
}

// CompatibleWith reports whether a history built for m can be reused with
// next. Proprietary think modes must match exactly, and a model without
// native tool support cannot inherit native tool calls.
func (m ModelInfo) CompatibleWith(next ModelInfo, hasNativeToolCalls bool) error {
	if (m.Think.proprietary() || next.Think.proprietary()) && m.Think != next.Think {
		return fmt.Errorf("llm: think mode %q history cannot be reused with %q", m.Think, next.Think)
	}
	if hasNativeToolCalls && m.NativeTools && !next.NativeTools {
		return fmt.Errorf("llm: model %q lacks native tools required by history", next.Name)
	}
	return nil
}
