// Package config provides settings loading, merging, and path management.
//
// # Settings Loading
//
// Load merges settings from several sources in priority order:
//
//  1. .env files in the project directory (process environment wins)
//  2. Global settings in the agent directory (settings.json, settings.jsonc, settings.yaml)
//  3. Project settings in .pi/ (same file names)
//  4. PI_SETTINGS file
//  5. PI_SETTINGS_CONTENT inline JSON
//  6. Environment variables (PI_MODEL, PI_PROVIDER, PI_THINKING_LEVEL, provider API keys)
//
// JSON files may contain comments (tidwall/jsonc). Values support {env:VAR}
// and {file:path} interpolation; relative file paths resolve against the
// directory of the settings file.
//
// Scalars overwrite, maps merge by key, and the extension list accumulates.
//
// # Paths
//
// The agent directory is $PI_CODING_AGENT_DIR or ~/.pi/agent. It holds
// settings.json, auth.json, models.json, extensions/ and sessions/. Sessions
// are grouped per working directory under sessions/--<encoded cwd>--/.
//
// # Watching
//
// Watch reloads settings with fsnotify whenever a settings file changes.
package config
