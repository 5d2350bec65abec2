package config

import (
	"os"
	"path/filepath"
)

// Paths are the directories sona keeps its files in.
type Paths struct {
	Data   string // chat database, provider settings
	Config string // global config, roles.yaml
	State  string // logs
}

// GetPaths resolves the XDG directories. SONA_HOME, when set, puts all
// three under one directory.
func GetPaths() *Paths {
	if root := os.Getenv("SONA_HOME"); root != "" {
		return &Paths{
			Data:   filepath.Join(root, "data"),
			Config: root,
			State:  filepath.Join(root, "state"),
		}
	}
	home, _ := os.UserHomeDir()
	return &Paths{
		Data:   filepath.Join(xdg("XDG_DATA_HOME", home, ".local", "share"), "sona"),
		Config: filepath.Join(xdg("XDG_CONFIG_HOME", home, ".config"), "sona"),
		State:  filepath.Join(xdg("XDG_STATE_HOME", home, ".local", "state"), "sona"),
	}
}

func xdg(key, home string, fallback ...string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return filepath.Join(append([]string{home}, fallback...)...)
}

// EnsurePaths creates all three directories.
func (p *Paths) EnsurePaths() error {
	for _, dir := range []string{p.Data, p.Config, p.State} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

func (p *Paths) DatabasePath() string { return filepath.Join(p.Data, "sona.db") }

// StoragePath is the root of the JSON document store.
func (p *Paths) StoragePath() string { return filepath.Join(p.Data, "storage") }

func (p *Paths) LogPath() string { return filepath.Join(p.State, "log") }

// RolesPath is the roles file used when the config names none.
func (p *Paths) RolesPath() string { return filepath.Join(p.Config, "roles.yaml") }
