package llm

import (
	"strings"
	"testing"
)

func TestExtractThink(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantThink string
		wantRest  string
	}{
		{
			name:      "leading think block",
			body:      "<think>pondering</think>the answer",
			wantThink: "pondering",
			wantRest:  "the answer",
		},
		{
			name:      "whitespace around block",
			body:      "  <think> deep thought </think>\n\nresult",
			wantThink: "deep thought",
			wantRest:  "result",
		},
		{
			name:     "no think block",
			body:     "plain answer",
			wantRest: "plain answer",
		},
		{
			name:     "think not at start",
			body:     "answer <think>late</think>",
			wantRest: "answer <think>late</think>",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			think, rest := ExtractThink(tt.body)
			if think != tt.wantThink {
				t.Errorf("think = %q, want %q", think, tt.wantThink)
			}
			if rest != tt.wantRest {
				t.Errorf("rest = %q, want %q", rest, tt.wantRest)
			}
		})
	}
}

func TestSplitSectionsPlainText(t *testing.T) {
	parts := SplitSections("just an answer", nil, false)
	if len(parts) != 1 {
		t.Fatalf("got %d parts, want 1", len(parts))
	}
	if parts[0].Kind != PartText || parts[0].Text.Section != DefaultSection || parts[0].Text.Body != "just an answer" {
		t.Errorf("unexpected part: %+v", parts[0])
	}
}

func TestSplitSectionsNamedSection(t *testing.T) {
	parts := SplitSections("before <summary>short version</summary> after", []string{"summary"}, false)
	if len(parts) != 3 {
		t.Fatalf("got %d parts, want 3: %+v", len(parts), parts)
	}
	if parts[0].Text.Body != "before" || parts[0].Text.Section != DefaultSection {
		t.Errorf("leading text: %+v", parts[0].Text)
	}
	if parts[1].Text.Section != "summary" || parts[1].Text.Body != "short version" {
		t.Errorf("section part: %+v", parts[1].Text)
	}
	if parts[2].Text.Body != "after" {
		t.Errorf("trailing text: %+v", parts[2].Text)
	}
}

func TestSplitSectionsUnrecognizedTagStaysPlain(t *testing.T) {
	parts := SplitSections("a <b>bold</b> claim", nil, false)
	if len(parts) != 1 {
		t.Fatalf("got %d parts, want 1: %+v", len(parts), parts)
	}
	if parts[0].Text.Body != "a <b>bold</b> claim" {
		t.Errorf("body = %q", parts[0].Text.Body)
	}
}

func TestSplitSectionsUnclosedTagStaysPlain(t *testing.T) {
	parts := SplitSections("text <summary>never closed", []string{"summary"}, false)
	if len(parts) != 1 {
		t.Fatalf("got %d parts, want 1: %+v", len(parts), parts)
	}
	if parts[0].Text.Body != "text <summary>never closed" {
		t.Errorf("body = %q", parts[0].Text.Body)
	}
}

func TestSplitSectionsToolCall(t *testing.T) {
	body := `I'll look that up. <tool_call name="search">{"query": "go generics"}</tool_call>`
	parts := SplitSections(body, nil, true)
	if len(parts) != 2 {
		t.Fatalf("got %d parts, want 2: %+v", len(parts), parts)
	}
	if parts[0].Kind != PartText {
		t.Fatalf("first part kind = %s", parts[0].Kind)
	}
	call := parts[1]
	if call.Kind != PartToolCalls || len(call.ToolCalls.Calls) != 1 {
		t.Fatalf("second part: %+v", call)
	}
	if got := call.ToolCalls.Calls[0]; got.Name != "search" || string(got.Arguments) != `{"query": "go generics"}` {
		t.Errorf("call = %+v", got)
	}
}

func TestSplitSectionsToolCallEmptyBody(t *testing.T) {
	parts := SplitSections(`<tool_call name="ping"></tool_call>`, nil, true)
	if len(parts) != 1 || parts[0].Kind != PartToolCalls {
		t.Fatalf("parts: %+v", parts)
	}
	if got := string(parts[0].ToolCalls.Calls[0].Arguments); got != "{}" {
		t.Errorf("arguments = %q, want {}", got)
	}
}

func TestSplitSectionsToolCallBadJSON(t *testing.T) {
	parts := SplitSections(`<tool_call name="search">{broken</tool_call>`, nil, true)
	if len(parts) != 1 {
		t.Fatalf("got %d parts, want 1: %+v", len(parts), parts)
	}
	if parts[0].Kind != PartInvalid {
		t.Fatalf("kind = %s, want invalid", parts[0].Kind)
	}
	if parts[0].Invalid.Raw != "{broken" {
		t.Errorf("raw = %q", parts[0].Invalid.Raw)
	}
}

func TestSplitSectionsToolCallNotParsedWhenDisabled(t *testing.T) {
	body := `<tool_call name="search">{"q": 1}</tool_call>`
	parts := SplitSections(body, nil, false)
	if len(parts) != 1 || parts[0].Kind != PartText {
		t.Fatalf("parts: %+v", parts)
	}
	if parts[0].Text.Body != body {
		t.Errorf("body = %q", parts[0].Text.Body)
	}
}

func TestXMLToolProtocolListsTools(t *testing.T) {
	out := XMLToolProtocol([]ToolSpec{
		{Name: "search", Description: "web search"},
		{Name: "echo"},
	})
	for _, want := range []string{"<tool_call name=\"TOOL_NAME\">", "- search: web search", "- echo"} {
		if !strings.Contains(out, want) {
			t.Errorf("protocol text missing %q:\n%s", want, out)
		}
	}
}

func TestSectionInstructions(t *testing.T) {
	if got := SectionInstructions(nil); got != "" {
		t.Errorf("no sections should produce no instructions, got %q", got)
	}
	out := SectionInstructions([]string{"summary", "code"})
	if !strings.Contains(out, "<summary>, <code>") {
		t.Errorf("instructions = %q", out)
	}
}
