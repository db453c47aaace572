package agentapi

import "strings"

// AgentType selects the server-side agent implementation.
type AgentType string

const (
	AgentGLM   AgentType = "glm"
	AgentGELab AgentType = "gelab"
)

// Normalize folds case and whitespace; anything unknown becomes glm.
func (a AgentType) Normalize() AgentType {
	switch strings.ToLower(strings.TrimSpace(string(a))) {
	case string(AgentGELab):
		return AgentGELab
	default:
		return AgentGLM
	}
}

func (a AgentType) Valid() bool {
	switch strings.ToLower(strings.TrimSpace(string(a))) {
	case string(AgentGLM), string(AgentGELab):
		return true
	}
	return false
}

func AgentTypes() []AgentType {
	return []AgentType{AgentGLM, AgentGELab}
}
