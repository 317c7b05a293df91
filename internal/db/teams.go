package db

import (
	"fmt"

	"github.com/cloud-shuttle/foreman/pkg/types"
)

// AddTeamAgent adds an agent slot to a team. A nil persona stores a plain agent.
func (s *Store) AddTeamAgent(teamID, agentType string, model types.Model, persona *types.Persona) (*types.TeamAgent, error) {
	if teamID == "" || agentType == "" {
		return nil, fmt.Errorf("adding team agent: team and agent type are required: %w", types.ErrPreconditionFailed)
	}

	agent := &types.TeamAgent{
		ID:        generateID(PrefixAgent),
		TeamID:    teamID,
		AgentType: agentType,
		Model:     model,
		Persona:   persona,
	}

	var systemPrompt, contextPrompt string
	hasPersona := 0
	if persona != nil {
		systemPrompt = persona.SystemPrompt
		contextPrompt = persona.ContextPrompt
		hasPersona = 1
	}

	_, err := s.DB.Exec(`
		INSERT INTO team_agents (id, team_id, agent_type, model, system_prompt, context_prompt, has_persona)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, agent.ID, agent.TeamID, agent.AgentType, nullIfEmpty(string(agent.Model)),
		nullIfEmpty(systemPrompt), nullIfEmpty(contextPrompt), hasPersona)
	if err != nil {
		return nil, fmt.Errorf("adding team agent: %w", err)
	}
	return agent, nil
}

// ListTeamAgents returns the agents of a team in insertion order
func (s *Store) ListTeamAgents(teamID string) ([]*types.TeamAgent, error) {
	rows, err := s.DB.Query(`
		SELECT id, team_id, agent_type, COALESCE(model, ''),
		       COALESCE(system_prompt, ''), COALESCE(context_prompt, ''), has_persona
		FROM team_agents WHERE team_id = ? ORDER BY rowid
	`, teamID)
	if err != nil {
		return nil, fmt.Errorf("listing team agents: %w", err)
	}
	defer rows.Close()

	var agents []*types.TeamAgent
	for rows.Next() {
		var a types.TeamAgent
		var systemPrompt, contextPrompt string
		var hasPersona int
		if err := rows.Scan(&a.ID, &a.TeamID, &a.AgentType, &a.Model,
			&systemPrompt, &contextPrompt, &hasPersona); err != nil {
			return nil, fmt.Errorf("scanning team agent: %w", err)
		}
		if hasPersona == 1 {
			a.Persona = &types.Persona{SystemPrompt: systemPrompt, ContextPrompt: contextPrompt}
		}
		agents = append(agents, &a)
	}
	return agents, rows.Err()
}
