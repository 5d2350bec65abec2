package types

// Config represents the sona configuration.
type Config struct {
	// Schema reference (for editor support)
	Schema string `json:"$schema,omitempty"`

	// Model selection, "provider/model" (e.g. "anthropic/claude-sonnet-4")
	Model string `json:"model,omitempty"`

	// Retry policy for transient streaming failures
	MaxRetries     int `json:"maxRetries,omitempty"`
	RetryInitialMs int `json:"retryInitialMs,omitempty"`

	// Upper bound on model/tool round trips within one turn
	MaxSteps int `json:"maxSteps,omitempty"`

	// Start new chats with tool auto-approval enabled
	AutoApproveTools bool `json:"autoApproveTools,omitempty"`

	// Model backend configs keyed by provider ID
	Provider map[string]ModelProviderConfig `json:"provider,omitempty"`

	// External tool providers keyed by name
	MCP map[string]ProviderConfig `json:"mcp,omitempty"`

	// Global permission settings
	Permission *PermissionConfig `json:"permission,omitempty"`

	// Inline role definitions; RolesFile points at a YAML file with more
	Roles     []RoleConfig `json:"roles,omitempty"`
	RolesFile string       `json:"rolesFile,omitempty"`
	Role      string       `json:"role,omitempty"` // initially selected role

	// Extra prompt appended to every system prompt
	Instructions string `json:"instructions,omitempty"`

	// Working directory for local tools; defaults to the process cwd
	WorkDir string `json:"workDir,omitempty"`
}

// ModelProviderConfig holds configuration for a model backend.
type ModelProviderConfig struct {
	APIKey    string `json:"apiKey,omitempty"`
	BaseURL   string `json:"baseURL,omitempty"`
	Model     string `json:"model,omitempty"`
	MaxTokens int    `json:"maxTokens,omitempty"`
	Disable   bool   `json:"disable,omitempty"`
}

// PermissionConfig holds tool permission settings.
type PermissionConfig struct {
	// Tool name patterns (doublestar syntax) that never ask
	Allow []string `json:"allow,omitempty"`
	// Path patterns read_file refuses to open
	DenyRead []string `json:"denyRead,omitempty"`
}

// RoleConfig defines a role the assistant can switch to.
type RoleConfig struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Prompt      string `json:"prompt" yaml:"prompt"`
}
