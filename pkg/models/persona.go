package models

// ToolRuleAction enables or disables the tools a rule names.
type ToolRuleAction string

const (
	ToolRuleEnable  ToolRuleAction = "enable"
	ToolRuleDisable ToolRuleAction = "disable"
)

// CapabilityTools is one persona tool rule: the named tools are toggled to
// the rule's action. Rules are evaluated in order; later rules win.
type CapabilityTools struct {
	Action ToolRuleAction `json:"action"`
	Tools  []string       `json:"tools"`
}

// Persona is a bot configuration: which model to talk to, how, and which
// tools it may use.
type Persona struct {
	// Model names an entry in the model catalog.
	Model string `json:"model,omitempty"`
	// Temperature overrides the model default when non-nil.
	Temperature *float64 `json:"temperature,omitempty"`
	// System is appended to the static protocol instructions.
	System string `json:"system,omitempty"`
	// DefaultEnabled is the starting state for tools no rule mentions.
	DefaultEnabled bool `json:"defaultEnabled"`
	// Rules adjust tool availability; see Allows.
	Rules []CapabilityTools `json:"rules,omitempty"`
}

// Allows reports whether the persona permits the named tool. Evaluation
// starts from DefaultEnabled; every rule naming the tool toggles the state
// to the rule's action, so the last matching rule decides.
func (p *Persona) Allows(tool string) bool {
	enabled := p.DefaultEnabled
	for _, rule := range p.Rules {
		for _, name := range rule.Tools {
			if name == tool {
				enabled = rule.Action == ToolRuleEnable
				break
			}
		}
	}
	return enabled
}

// Merge overlays the requested persona on top of p. Requested fields win
// when set; rules replace wholesale rather than concatenating, since a
// request that states rules states all of them.
func (p *Persona) Merge(requested *Persona) *Persona {
	if requested == nil {
		clone := *p
		return &clone
	}
	out := *p
	if requested.Model != "" {
		out.Model = requested.Model
	}
	if requested.Temperature != nil {
		out.Temperature = requested.Temperature
	}
	if requested.System != "" {
		out.System = requested.System
	}
	if requested.Rules != nil {
		out.Rules = requested.Rules
		out.DefaultEnabled = requested.DefaultEnabled
	}
	return &out
}
