package role

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/qent/sona-sub000/pkg/types"
)

// ErrRoleNotFound is returned when switching to an unknown role.
var ErrRoleNotFound = errors.New("role not found")

// Registry manages roles and the currently selected one.
type Registry struct {
	mu      sync.RWMutex
	roles   map[string]Role
	order   []string
	current string

	instructions string
}

// NewRegistry creates a registry with the built-in roles.
func NewRegistry() *Registry {
	r := &Registry{roles: make(map[string]Role)}
	for _, role := range BuiltInRoles() {
		r.registerLocked(role)
	}
	r.current = DefaultRole
	return r
}

// FromConfig builds a registry from the built-ins, the inline roles of
// cfg and its roles file. Configured roles override built-ins by name.
func FromConfig(cfg *types.Config) (*Registry, error) {
	r := NewRegistry()
	if cfg == nil {
		return r, nil
	}

	if cfg.RolesFile != "" {
		fileRoles, err := LoadFile(cfg.RolesFile)
		if err != nil {
			return nil, err
		}
		r.LoadFromConfig(fileRoles)
	}
	r.LoadFromConfig(cfg.Roles)
	r.instructions = strings.TrimSpace(cfg.Instructions)

	if cfg.Role != "" {
		if err := r.Switch(cfg.Role); err != nil {
			log.Warn().Str("role", cfg.Role).Msg("configured role not found, using default")
		}
	}
	return r, nil
}

// LoadFromConfig adds or overrides roles.
func (r *Registry) LoadFromConfig(roles []types.RoleConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rc := range roles {
		role, exists := r.roles[rc.Name]
		if !exists {
			role = Role{Name: rc.Name}
		}
		role.BuiltIn = false
		if rc.Description != "" {
			role.Description = rc.Description
		}
		if rc.Prompt != "" {
			role.Prompt = rc.Prompt
		}
		r.registerLocked(role)
	}
}

func (r *Registry) registerLocked(role Role) {
	if _, ok := r.roles[role.Name]; !ok {
		r.order = append(r.order, role.Name)
	}
	r.roles[role.Name] = role
}

// Get retrieves a role by name.
func (r *Registry) Get(name string) (Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	role, ok := r.roles[name]
	if !ok {
		return Role{}, fmt.Errorf("%w: %s", ErrRoleNotFound, name)
	}
	return role, nil
}

// List returns all roles in registration order.
func (r *Registry) List() []Role {
	r.mu.RLock()
	defer r.mu.RUnlock()

	roles := make([]Role, 0, len(r.order))
	for _, name := range r.order {
		roles = append(roles, r.roles[name])
	}
	return roles
}

// Names returns all role names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Current returns the selected role.
func (r *Registry) Current() Role {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.roles[r.current]
}

// Switch selects a role for subsequent model calls.
func (r *Registry) Switch(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.roles[name]; !ok {
		return fmt.Errorf("%w: %s", ErrRoleNotFound, name)
	}
	if r.current != name {
		log.Info().Str("from", r.current).Str("to", name).Msg("role switched")
	}
	r.current = name
	return nil
}

// SystemPrompt returns the current role's prompt plus the configured
// instructions.
func (r *Registry) SystemPrompt() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	prompt := r.roles[r.current].Prompt
	if r.instructions != "" {
		if prompt != "" {
			prompt += "\n\n"
		}
		prompt += r.instructions
	}
	return prompt
}

// Describe renders the role list for a tool description.
func (r *Registry) Describe() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var b strings.Builder
	b.WriteString("Switch the assistant role. The new role's instructions apply from the next model call.\n\nAvailable roles:\n")
	for _, name := range r.order {
		role := r.roles[name]
		b.WriteString("- ")
		b.WriteString(name)
		if name == r.current {
			b.WriteString(" (current)")
		}
		if role.Description != "" {
			b.WriteString(": ")
			b.WriteString(role.Description)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
