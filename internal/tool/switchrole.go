package tool

import (
	"context"
	"encoding/json"
	"fmt"
)

// Roles is the role registry as seen by switch_role.
type Roles interface {
	Describe() string
	Names() []string
	Switch(name string) error
}

// SwitchRoleTool changes the assistant role.
type SwitchRoleTool struct {
	roles Roles
}

// NewSwitchRoleTool creates a switch_role tool backed by roles.
func NewSwitchRoleTool(roles Roles) *SwitchRoleTool {
	return &SwitchRoleTool{roles: roles}
}

func (t *SwitchRoleTool) ID() string { return "switch_role" }

// Description lists the roles configured when it is called.
func (t *SwitchRoleTool) Description() string { return t.roles.Describe() }

func (t *SwitchRoleTool) Parameters() json.RawMessage {
	names, _ := json.Marshal(t.roles.Names())
	return json.RawMessage(fmt.Sprintf(`{
		"type": "object",
		"properties": {
			"role": {
				"type": "string",
				"enum": %s,
				"description": "Name of the role to switch to"
			}
		},
		"required": ["role"]
	}`, names))
}

func (t *SwitchRoleTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params struct {
		Role string `json:"role"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if err := t.roles.Switch(params.Role); err != nil {
		return nil, err
	}
	return &Result{
		Title:  "Switch role",
		Output: fmt.Sprintf("Switched to role %q.", params.Role),
	}, nil
}
