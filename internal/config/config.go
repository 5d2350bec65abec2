package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/qent/sona-sub000/pkg/types"
	"github.com/tidwall/jsonc"
)

// Defaults applied before any file is read.
const (
	DefaultMaxRetries     = 3
	DefaultRetryInitialMs = 1000
	DefaultMaxSteps       = 25
)

var (
	envPattern  = regexp.MustCompile(`\{env:([^}]+)\}`)
	filePattern = regexp.MustCompile(`\{file:([^}]+)\}`)
)

// Load loads configuration from multiple sources (priority order):
// 1. Defaults
// 2. Global config (~/.config/sona/)
// 3. Project config (<dir>/sona.json[c], <dir>/.sona/)
// 4. SONA_CONFIG file
// 5. Environment variables (a .env in the directory is loaded first)
func Load(directory string) (*types.Config, error) {
	config := Default()

	if directory != "" {
		// Missing .env is not an error; existing env vars win.
		_ = godotenv.Load(filepath.Join(directory, ".env"))
	}

	loaded := make(map[string]bool)
	var firstErr error

	loadOnce := func(path string, baseDir string) {
		absPath, err := filepath.Abs(path)
		if err != nil || loaded[absPath] {
			return
		}
		err = loadConfigFile(path, config, baseDir)
		switch {
		case err == nil:
			loaded[absPath] = true
		case !os.IsNotExist(err) && firstErr == nil:
			firstErr = err
		}
	}

	for _, path := range Files(directory) {
		loadOnce(path, filepath.Dir(path))
	}

	if configPath := os.Getenv("SONA_CONFIG"); configPath != "" {
		loadOnce(configPath, filepath.Dir(configPath))
	}

	applyEnvOverrides(config)
	normalize(config, directory)

	return config, firstErr
}

// Default returns a config holding only defaults.
func Default() *types.Config {
	return &types.Config{
		MaxRetries:     DefaultMaxRetries,
		RetryInitialMs: DefaultRetryInitialMs,
		MaxSteps:       DefaultMaxSteps,
		Provider:       make(map[string]types.ModelProviderConfig),
		MCP:            make(map[string]types.ProviderConfig),
	}
}

// Files lists the candidate config files for a directory, lowest priority first.
func Files(directory string) []string {
	globalPath := GetPaths().Config
	files := []string{
		filepath.Join(globalPath, "sona.json"),
		filepath.Join(globalPath, "sona.jsonc"),
	}
	if directory != "" {
		projectConfigDir := filepath.Join(directory, ".sona")
		files = append(files,
			filepath.Join(directory, "sona.json"),
			filepath.Join(directory, "sona.jsonc"),
			filepath.Join(projectConfigDir, "sona.json"),
			filepath.Join(projectConfigDir, "sona.jsonc"),
		)
	}
	return files
}

// loadConfigFile loads a single config file with interpolation support.
func loadConfigFile(path string, config *types.Config, baseDir string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	data = jsonc.ToJSON(data)
	data = interpolate(data, baseDir)

	var fileConfig types.Config
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return &ParseError{Path: path, Err: err}
	}

	if fileConfig.RolesFile != "" && !filepath.IsAbs(fileConfig.RolesFile) {
		fileConfig.RolesFile = filepath.Join(baseDir, fileConfig.RolesFile)
	}

	mergeConfig(config, &fileConfig)
	return nil
}

// ParseError reports a config file that exists but is not valid.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return "parse config " + e.Path + ": " + e.Err.Error()
}

func (e *ParseError) Unwrap() error { return e.Err }

// interpolate processes {env:VAR} and {file:path} placeholders.
func interpolate(data []byte, baseDir string) []byte {
	str := string(data)

	str = envPattern.ReplaceAllStringFunc(str, func(match string) string {
		return os.Getenv(envPattern.FindStringSubmatch(match)[1])
	})

	str = filePattern.ReplaceAllStringFunc(str, func(match string) string {
		filePath := filePattern.FindStringSubmatch(match)[1]

		if strings.HasPrefix(filePath, "~/") {
			filePath = filepath.Join(os.Getenv("HOME"), filePath[2:])
		} else if !filepath.IsAbs(filePath) {
			filePath = filepath.Join(baseDir, filePath)
		}

		content, err := os.ReadFile(filePath)
		if err != nil {
			return match
		}

		// Escape for JSON string
		encoded, _ := json.Marshal(strings.TrimRight(string(content), "\n"))
		return string(encoded[1 : len(encoded)-1])
	})

	return []byte(str)
}

// mergeConfig merges source config into target.
func mergeConfig(target, source *types.Config) {
	if source.Schema != "" {
		target.Schema = source.Schema
	}
	if source.Model != "" {
		target.Model = source.Model
	}
	if source.MaxRetries != 0 {
		target.MaxRetries = source.MaxRetries
	}
	if source.RetryInitialMs != 0 {
		target.RetryInitialMs = source.RetryInitialMs
	}
	if source.MaxSteps != 0 {
		target.MaxSteps = source.MaxSteps
	}
	if source.AutoApproveTools {
		target.AutoApproveTools = true
	}
	if source.Instructions != "" {
		target.Instructions = source.Instructions
	}
	if source.WorkDir != "" {
		target.WorkDir = source.WorkDir
	}
	if source.Role != "" {
		target.Role = source.Role
	}
	if source.RolesFile != "" {
		target.RolesFile = source.RolesFile
	}
	if len(source.Roles) > 0 {
		target.Roles = append(target.Roles, source.Roles...)
	}

	for k, v := range source.Provider {
		if target.Provider == nil {
			target.Provider = make(map[string]types.ModelProviderConfig)
		}
		target.Provider[k] = v
	}

	for k, v := range source.MCP {
		if target.MCP == nil {
			target.MCP = make(map[string]types.ProviderConfig)
		}
		target.MCP[k] = v
	}

	if source.Permission != nil {
		if target.Permission == nil {
			target.Permission = &types.PermissionConfig{}
		}
		target.Permission.Allow = append(target.Permission.Allow, source.Permission.Allow...)
		target.Permission.DenyRead = append(target.Permission.DenyRead, source.Permission.DenyRead...)
	}
}

// applyEnvOverrides applies environment variable overrides.
func applyEnvOverrides(config *types.Config) {
	providerEnvMap := map[string]string{
		"anthropic": "ANTHROPIC_API_KEY",
		"openai":    "OPENAI_API_KEY",
		"ark":       "ARK_API_KEY",
	}

	for provider, envVar := range providerEnvMap {
		if apiKey := os.Getenv(envVar); apiKey != "" {
			p := config.Provider[provider]
			if p.APIKey == "" {
				p.APIKey = apiKey
				config.Provider[provider] = p
			}
		}
	}

	if model := os.Getenv("SONA_MODEL"); model != "" {
		config.Model = model
	}
	if v := os.Getenv("SONA_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			config.MaxRetries = n
		}
	}
	if v := os.Getenv("SONA_AUTO_APPROVE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			config.AutoApproveTools = b
		}
	}
}

// normalize fills derived fields after all sources are merged.
func normalize(config *types.Config, directory string) {
	for name, p := range config.MCP {
		p.Name = name
		if p.Transport == "" {
			if p.URL != "" {
				p.Transport = types.TransportHTTP
			} else {
				p.Transport = types.TransportStdio
			}
		}
		config.MCP[name] = p
	}
	if config.WorkDir == "" {
		config.WorkDir = directory
	}
	if config.RolesFile == "" {
		if path := GetPaths().RolesPath(); fileExists(path) {
			config.RolesFile = path
		}
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
