package orchestrator

import "strings"

// DefaultPersona is used when agentType is empty or unknown.
const DefaultPersona = "general"

// builtinPersonas maps an agentType to its system prompt.
var builtinPersonas = map[string]string{
	"general": "You are a helpful assistant. Answer clearly and concisely in the user's language.",
	"coder": "You are a senior software engineer. Give correct, idiomatic code with short explanations. " +
		"Prefer complete, runnable snippets.",
	"researcher": "You are a careful researcher. Separate facts from assumptions, cite sources when you have them " +
		"and say when you are unsure.",
	"writer": "You are a professional writer and editor. Match the requested tone and keep the structure clear.",
	"automation": "You are an automation specialist. Describe workflows as explicit, ordered steps " +
		"with inputs and outputs for each.",
}

// Personas resolves agentType to a system prompt. Configured entries override
// and extend the built-in table.
type Personas struct {
	prompts map[string]string
}

func NewPersonas(overrides map[string]string) Personas {
	p := make(map[string]string, len(builtinPersonas)+len(overrides))
	for k, v := range builtinPersonas {
		p[k] = v
	}
	for k, v := range overrides {
		if strings.TrimSpace(v) != "" {
			p[strings.ToLower(k)] = v
		}
	}
	return Personas{prompts: p}
}

// Prompt returns the system prompt for agentType and the persona actually
// used.
func (p Personas) Prompt(agentType string) (string, string) {
	key := strings.ToLower(strings.TrimSpace(agentType))
	if s, ok := p.prompts[key]; ok {
		return s, key
	}
	return p.prompts[DefaultPersona], DefaultPersona
}
