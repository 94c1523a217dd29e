package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// DefaultSection is the section assigned to untagged text.
const DefaultSection = "text"

// toolCallTag is the tag models use for the XML tool protocol, offered to
// dialects without native tool support.
const toolCallTag = "tool_call"

var (
	thinkRe    = regexp.MustCompile(`(?s)^\s*<think>(.*?)</think>\s*`)
	toolOpenRe = regexp.MustCompile(`^<tool_call\s+name="([^"]+)"\s*>`)
)

// ExtractThink splits a leading <think>…</think> block off a completion
// body. Dialects with inline reasoning (deepseek) use it; others leave the
// text alone.
func ExtractThink(body string) (think, rest string) {
	m := thinkRe.FindStringSubmatch(body)
	if m == nil {
		return "", body
	}
	return strings.TrimSpace(m[1]), body[len(m[0]):]
}

// SplitSections parses a free-form completion body into parts. Text inside
// a recognized <section>…</section> tag becomes a text part for that
// section; untagged text goes to the default section. When parseTools is
// set, <tool_call name="…">{json}</tool_call> blocks become tool-call
// parts; a block whose body is not valid JSON becomes an invalid part and
// never fails the parse.
func SplitSections(body string, sections []string, parseTools bool) []Part {
	recognized := make(map[string]bool, len(sections)+1)
	for _, s := range sections {
		recognized[s] = true
	}
	recognized[DefaultSection] = true

	var parts []Part
	var plain strings.Builder
	flushPlain := func() {
		text := strings.TrimSpace(plain.String())
		plain.Reset()
		if text != "" {
			parts = append(parts, NewSectionText(DefaultSection, text))
		}
	}

	rest := body
	for rest != "" {
		lt := strings.IndexByte(rest, '<')
		if lt < 0 {
			plain.WriteString(rest)
			break
		}
		plain.WriteString(rest[:lt])
		rest = rest[lt:]

		if parseTools {
			if m := toolOpenRe.FindStringSubmatch(rest); m != nil {
				closing := "</" + toolCallTag + ">"
				end := strings.Index(rest, closing)
				if end < 0 {
					plain.WriteString(rest)
					break
				}
				flushPlain()
				name := m[1]
				raw := strings.TrimSpace(rest[len(m[0]):end])
				parts = append(parts, parseXMLToolCall(name, raw))
				rest = rest[end+len(closing):]
				continue
			}
		}

		if tag, ok := openingTag(rest, recognized); ok {
			closing := "</" + tag + ">"
			end := strings.Index(rest, closing)
			if end < 0 {
				plain.WriteString(rest)
				break
			}
			flushPlain()
			content := strings.TrimSpace(rest[len(tag)+2 : end])
			if content != "" {
				parts = append(parts, NewSectionText(tag, content))
			}
			rest = rest[end+len(closing):]
			continue
		}

		// Not a recognized tag; keep the '<' as plain text.
		plain.WriteByte('<')
		rest = rest[1:]
	}
	flushPlain()
	return parts
}

func openingTag(s string, recognized map[string]bool) (string, bool) {
	gt := strings.IndexByte(s, '>')
	if gt < 2 || s[0] != '<' {
		return "", false
	}
	tag := s[1:gt]
	if recognized[tag] {
		return tag, true
	}
	return "", false
}

func parseXMLToolCall(name, raw string) Part {
	if raw == "" {
		raw = "{}"
	}
	var check json.RawMessage
	if err := json.Unmarshal([]byte(raw), &check); err != nil || !json.Valid([]byte(raw)) {
		return NewInvalid(raw, fmt.Sprintf("tool call %q arguments are not valid JSON", name))
	}
	return NewToolCalls(ToolCall{Name: name, Arguments: json.RawMessage(raw)})
}

// ToolSpec describes one tool offered to the model.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Schema      json.RawMessage `json:"schema,omitempty"`
}

// XMLToolProtocol renders the system-prompt description of the XML tool
// protocol for dialects without native tool support.
func XMLToolProtocol(tools []ToolSpec) string {
	var b strings.Builder
	b.WriteString("To call a tool, emit exactly one block per call:\n")
	b.WriteString("<tool_call name=\"TOOL_NAME\">{JSON arguments}</tool_call>\n")
	b.WriteString("Available tools:\n")
	for _, t := range tools {
		fmt.Fprintf(&b, "- %s", t.Name)
		if t.Description != "" {
			fmt.Fprintf(&b, ": %s", t.Description)
		}
		if len(t.Schema) > 0 {
			fmt.Fprintf(&b, " (arguments schema: %s)", string(t.Schema))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// SectionInstructions tells the model which extra XML sections it may use
// in free-form answers.
func SectionInstructions(sections []string) string {
	if len(sections) == 0 {
		return ""
	}
	return fmt.Sprintf(
		"You may structure your answer with these XML sections: <%s>. Untagged text is treated as <%s>.",
		strings.Join(sections, ">, <"), DefaultSection)
}
