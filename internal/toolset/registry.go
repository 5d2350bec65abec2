package toolset

import (
	"context"

	"github.com/agnivade/levenshtein"
	"github.com/cloudwego/eino/schema"

	"github.com/qent/sona-sub000/internal/tool"
	"github.com/qent/sona-sub000/pkg/types"
)

// Executor runs one tool call and returns its textual result.
type Executor func(ctx context.Context, call types.ToolCall) string

type entry struct {
	spec types.ToolSpec
	exec Executor
}

// Registry is the tool set of one turn.
type Registry struct {
	specs   []types.ToolSpec
	entries map[string]entry
	unknown func(ctx context.Context, call types.ToolCall, suggestion string) string
}

func (r *Registry) add(spec types.ToolSpec, exec Executor) {
	r.specs = append(r.specs, spec)
	r.entries[spec.Name] = entry{spec: spec, exec: exec}
}

// Specs returns the tool specs, local tools first.
func (r *Registry) Specs() []types.ToolSpec {
	return append([]types.ToolSpec(nil), r.specs...)
}

// Lookup returns the spec and executor for name.
func (r *Registry) Lookup(name string) (types.ToolSpec, Executor, bool) {
	e, ok := r.entries[name]
	return e.spec, e.exec, ok
}

// Execute runs call. An unknown tool name yields an error text naming the
// closest known tool.
func (r *Registry) Execute(ctx context.Context, call types.ToolCall) string {
	if e, ok := r.entries[call.Name]; ok {
		return e.exec(ctx, call)
	}
	suggestion := r.closest(call.Name)
	if r.unknown != nil {
		return r.unknown(ctx, call, suggestion)
	}
	return "Error: unknown tool " + call.Name
}

// EinoTools describes the tools for model binding.
func (r *Registry) EinoTools() []*schema.ToolInfo {
	infos := make([]*schema.ToolInfo, 0, len(r.specs))
	for _, spec := range r.specs {
		infos = append(infos, tool.ToolInfo(spec.Name, spec.Description, spec.Parameters))
	}
	return infos
}

// closest returns the known name nearest to name, if reasonably near.
func (r *Registry) closest(name string) string {
	best, bestDist := "", -1
	for _, spec := range r.specs {
		d := levenshtein.ComputeDistance(name, spec.Name)
		if bestDist < 0 || d < bestDist {
			best, bestDist = spec.Name, d
		}
	}
	if bestDist < 0 || bestDist > max(2, len(name)/3) {
		return ""
	}
	return best
}
