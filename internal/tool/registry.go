package tool

import (
	"net/http"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// Registry manages local tool registration and lookup.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, replacing any with the same ID.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	log.Debug().Str("tool", tool.ID()).Msg("registering local tool")
	r.tools[tool.ID()] = tool
}

// Get retrieves a tool by ID.
func (r *Registry) Get(id string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[id]
	return tool, ok
}

// List returns all registered tools sorted by ID.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		tools = append(tools, tool)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].ID() < tools[j].ID() })
	return tools
}

// IDs returns all tool IDs, sorted.
func (r *Registry) IDs() []string {
	tools := r.List()
	ids := make([]string, len(tools))
	for i, t := range tools {
		ids[i] = t.ID()
	}
	return ids
}

// Options configures DefaultRegistry.
type Options struct {
	WorkDir    string
	DenyRead   []string
	HTTPClient *http.Client
	Roles      Roles
}

// DefaultRegistry creates a registry with the built-in tools. switch_role
// is registered only when Roles is set.
func DefaultRegistry(opts Options) *Registry {
	r := NewRegistry()
	r.Register(NewReadTool(opts.WorkDir, opts.DenyRead))
	r.Register(NewPatchTool(opts.WorkDir))
	r.Register(NewFetchTool(opts.HTTPClient))
	if opts.Roles != nil {
		r.Register(NewSwitchRoleTool(opts.Roles))
	}
	log.Debug().Str("workDir", opts.WorkDir).Strs("tools", r.IDs()).Msg("local tools ready")
	return r
}
