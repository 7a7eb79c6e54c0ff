package agent

import (
	"fmt"
	"strings"

	"gatewaycore/tools"
)

// buildSystemPrompt assembles the system prompt for one turn: a base
// persona, the available tool names, and an optional per-session override
// appended last so it can refine (not replace) the base behavior.
func buildSystemPrompt(basePersona string, registry *tools.Registry, customSystemPrompt string) string {
	var b strings.Builder
	b.WriteString(basePersona)

	toolList := registry.List()
	if len(toolList) > 0 {
		b.WriteString("\n\nAvailable tools:\n")
		for _, t := range toolList {
			fmt.Fprintf(&b, "- %s: %s\n", t.Name(), t.Description())
		}
	}

	if customSystemPrompt != "" {
		b.WriteString("\n\n")
		b.WriteString(customSystemPrompt)
	}

	return b.String()
}
