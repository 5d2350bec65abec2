// Package role holds the assistant roles a conversation can switch
// between. The active role supplies the system prompt.
package role

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/qent/sona-sub000/pkg/types"
)

// DefaultRole is selected when nothing else is configured.
const DefaultRole = "assistant"

// Role is an assistant persona.
type Role struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Prompt      string `json:"prompt"`
	BuiltIn     bool   `json:"builtIn"`
}

// BuiltInRoles returns the roles available without configuration.
func BuiltInRoles() []Role {
	return []Role{
		{
			Name:        DefaultRole,
			Description: "General purpose assistant",
			Prompt: "You are a helpful assistant. Answer concisely. " +
				"Use the available tools when they help answer the question.",
			BuiltIn: true,
		},
		{
			Name:        "coder",
			Description: "Reads and edits files in the working directory",
			Prompt: "You are a careful software engineer. Read the relevant files before " +
				"changing them and prefer small, reviewable patches.",
			BuiltIn: true,
		},
		{
			Name:        "researcher",
			Description: "Gathers information from the web and summarizes it",
			Prompt: "You are a research assistant. Fetch sources before answering, " +
				"cite the URLs you used and say when something could not be verified.",
			BuiltIn: true,
		},
	}
}

// fileDoc is the layout of a roles YAML file.
type fileDoc struct {
	Roles []types.RoleConfig `yaml:"roles"`
}

// LoadFile reads role definitions from a YAML file. A missing file
// yields no roles and no error.
func LoadFile(path string) ([]types.RoleConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read roles file: %w", err)
	}

	var doc fileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse roles file %s: %w", path, err)
	}
	for i, rc := range doc.Roles {
		if strings.TrimSpace(rc.Name) == "" {
			return nil, fmt.Errorf("parse roles file %s: role %d has no name", path, i)
		}
	}
	return doc.Roles, nil
}
