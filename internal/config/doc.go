// Package config loads and merges sona configuration.
//
// # Configuration Loading
//
// Load merges, in increasing priority:
//
//  1. Built-in defaults (retry policy, step limit)
//  2. Global config (~/.config/sona/sona.json or sona.jsonc)
//  3. Project config in the working directory (sona.json[c], .sona/sona.json[c])
//  4. The file named by SONA_CONFIG
//  5. Environment variables: provider API keys, SONA_MODEL,
//     SONA_MAX_RETRIES and SONA_AUTO_APPROVE
//
// A .env file in the working directory is loaded before the environment is
// read. Variables already set in the process win.
//
// Files are JSONC. String values may reference {env:NAME} and
// {file:path}; relative file paths resolve against the config file's
// directory.
//
// # Merging
//
// Scalars from later sources replace earlier ones. Provider and MCP maps
// merge by key. Permission allow and deny-read lists are appended.
//
// # Paths
//
// GetPaths follows the XDG layout:
//
//	Data:   $XDG_DATA_HOME/sona   (chat database, provider settings)
//	Config: $XDG_CONFIG_HOME/sona (global config, roles.yaml)
//	State:  $XDG_STATE_HOME/sona  (logs)
//
// # Watching
//
// Watcher uses fsnotify on the directories of the config files and calls
// back once per burst of writes.
package config
