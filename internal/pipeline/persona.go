package pipeline

import (
	"fmt"
	"strings"

	"github.com/cloud-shuttle/foreman/pkg/types"
)

// resolvePersonas maps agent type to persona for a team. Team agents
// without a persona are ignored.
func (e *Engine) resolvePersonas(teamID string) (map[string]*types.Persona, error) {
	if teamID == "" {
		return nil, nil
	}
	agents, err := e.store.ListTeamAgents(teamID)
	if err != nil {
		return nil, fmt.Errorf("listing team agents: %w", err)
	}
	personas := make(map[string]*types.Persona)
	for _, a := range agents {
		if a.Persona == nil {
			continue
		}
		if _, seen := personas[a.AgentType]; !seen {
			personas[a.AgentType] = a.Persona
		}
	}
	return personas, nil
}

// applyPersona wraps prompt with the persona's system and context prompts
func applyPersona(p *types.Persona, prompt string) string {
	if p == nil {
		return prompt
	}
	var parts []string
	if s := strings.TrimSpace(p.SystemPrompt); s != "" {
		parts = append(parts, "<system_prompt>"+s+"</system_prompt>")
	}
	if c := strings.TrimSpace(p.ContextPrompt); c != "" {
		parts = append(parts, "<context>"+c+"</context>")
	}
	if len(parts) == 0 {
		return prompt
	}
	parts = append(parts, prompt)
	return strings.Join(parts, "\n\n")
}
