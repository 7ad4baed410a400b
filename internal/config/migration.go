// Package config handles configuration loading and validation for ghostd.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// MigrationResult contains the result of a configuration migration.
type MigrationResult struct {
	FromVersion int
	ToVersion   int
	Backup      string
	Changes     []string
	Warnings    []string
}

// MigrateConfig migrates a configuration from an older version to the current version.
// It automatically creates a backup before migration.
func MigrateConfig(cfg *Config, configPath string) (*MigrationResult, error) {
	if cfg.Version >= Version {
		return nil, nil // No migration needed
	}

	result := &MigrationResult{
		FromVersion: cfg.Version,
		ToVersion:   Version,
	}

	if configPath != "" {
		backup, err := backupConfig(configPath)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("could not create backup: %v", err))
		} else {
			result.Backup = backup
		}
	}

	for cfg.Version < Version {
		changes, warnings, err := applyMigration(cfg, configPath)
		if err != nil {
			return result, fmt.Errorf("migration from v%d to v%d failed: %w", cfg.Version, cfg.Version+1, err)
		}
		result.Changes = append(result.Changes, changes...)
		result.Warnings = append(result.Warnings, warnings...)
	}

	return result, nil
}

// applyMigration applies a single version upgrade.
func applyMigration(cfg *Config, configPath string) (changes []string, warnings []string, err error) {
	switch cfg.Version {
	case 1:
		changes, warnings = migrateV1ToV2(cfg, configPath)
	default:
		return nil, nil, fmt.Errorf("unknown version %d", cfg.Version)
	}

	cfg.Version++
	return changes, warnings, nil
}

// migrateV1ToV2 migrates from version 1 to version 2.
// V1 was the flat pre-daemon schema: debounce_ms, context_length, font
// settings, and colors as hex strings all lived at the top level. V2
// nests them under [engine], [overlay], [daemon], and [logging]. The
// flat keys are invisible to the v2 decoder, so they are lifted from a
// raw re-read of the file.
func migrateV1ToV2(cfg *Config, configPath string) (changes []string, warnings []string) {
	raw, err := decodeRawMap(configPath)
	if err != nil {
		warnings = append(warnings, fmt.Sprintf("could not re-read v1 config: %v", err))
		return changes, warnings
	}
	if raw == nil {
		return changes, warnings
	}

	if v, ok := asInt(raw["debounce_ms"]); ok {
		cfg.Engine.DebounceMs = v
		changes = append(changes, "moved debounce_ms to engine.debounce_ms")
	}
	if v, ok := asInt(raw["context_length"]); ok {
		cfg.Engine.ContextLength = v
		changes = append(changes, "moved context_length to engine.context_length")
	}
	if v, ok := asInt(raw["focus_poll_ms"]); ok {
		cfg.Engine.FocusPollMs = v
		changes = append(changes, "moved focus_poll_ms to engine.focus_poll_ms")
	}
	if v, ok := raw["enable_focus_events"].(bool); ok {
		cfg.Engine.EnableFocusEvents = v
		changes = append(changes, "moved enable_focus_events to engine.enable_focus_events")
	}

	if v, ok := raw["font_name"].(string); ok && v != "" {
		cfg.Overlay.FontName = v
		changes = append(changes, "moved font_name to overlay.font_name")
	}
	if v, ok := asInt(raw["font_size"]); ok {
		cfg.Overlay.FontSize = v
		changes = append(changes, "moved font_size to overlay.font_size")
	}

	// V1 stored colors as "#RRGGBB" or "#RRGGBBAA" hex strings.
	if v, ok := raw["text_color"].(string); ok {
		if color, err := parseHexColor(v); err != nil {
			warnings = append(warnings, fmt.Sprintf("could not parse text_color %q: %v", v, err))
		} else {
			cfg.Overlay.TextColor = color
			changes = append(changes, "converted text_color to overlay.text_color")
		}
	}
	if v, ok := raw["background_color"].(string); ok {
		if color, err := parseHexColor(v); err != nil {
			warnings = append(warnings, fmt.Sprintf("could not parse background_color %q: %v", v, err))
		} else {
			cfg.Overlay.BackgroundColor = color
			changes = append(changes, "converted background_color to overlay.background_color")
		}
	}

	if v, ok := raw["socket_path"].(string); ok && v != "" {
		cfg.Daemon.SocketPath = v
		changes = append(changes, "moved socket_path to daemon.socket_path")
	}
	if v, ok := raw["log_level"].(string); ok && v != "" {
		cfg.Logging.Level = v
		changes = append(changes, "moved log_level to logging.level")
	}
	if v, ok := raw["log_file"].(string); ok && v != "" {
		cfg.Logging.File = v
		changes = append(changes, "moved log_file to logging.file")
	}

	return changes, warnings
}

// decodeRawMap reads a config file into an untyped map so migrations
// can probe keys the current schema no longer declares.
func decodeRawMap(path string) (map[string]interface{}, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	raw := make(map[string]interface{})
	switch filepath.Ext(path) {
	case ".json":
		err = json.Unmarshal(data, &raw)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &raw)
	default:
		_, err = toml.Decode(string(data), &raw)
	}
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// asInt normalizes the integer representations the three decoders produce.
func asInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// parseHexColor converts "#RRGGBB" or "#RRGGBBAA" to RGBA components in 0..1.
func parseHexColor(s string) ([4]float64, error) {
	var color [4]float64
	if len(s) == 0 || s[0] != '#' {
		return color, fmt.Errorf("missing # prefix")
	}
	hex := s[1:]
	if len(hex) != 6 && len(hex) != 8 {
		return color, fmt.Errorf("want 6 or 8 hex digits, got %d", len(hex))
	}

	color[3] = 1
	for i := 0; i*2 < len(hex); i++ {
		n, err := strconv.ParseUint(hex[i*2:i*2+2], 16, 8)
		if err != nil {
			return color, fmt.Errorf("component %d: %w", i, err)
		}
		color[i] = float64(n) / 255
	}
	return color, nil
}

// backupConfig copies the config file aside before migration.
func backupConfig(configPath string) (string, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return "", nil // No file to backup
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return "", fmt.Errorf("read config: %w", err)
	}

	timestamp := time.Now().Format("20060102-150405")
	backupPath := configPath + ".backup-" + timestamp

	if err := os.WriteFile(backupPath, data, 0600); err != nil {
		return "", fmt.Errorf("write backup: %w", err)
	}

	return backupPath, nil
}

// SaveConfig saves the configuration to a file.
func SaveConfig(cfg *Config, path string) error {
	ext := filepath.Ext(path)

	var data []byte
	var err error

	switch ext {
	case ".json":
		data, err = json.MarshalIndent(cfg, "", "  ")
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		// Default to TOML
		data = []byte(generateTOML(cfg))
	}

	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// generateTOML generates a well-formatted TOML configuration file.
func generateTOML(cfg *Config) string {
	return fmt.Sprintf(`# ghostd configuration
# Version %d

version = %d

[engine]
# Keyboard quiet period before a pause fires, in milliseconds.
debounce_ms = %d
# Maximum characters of trailing text captured on each pause.
context_length = %d
# Focus watcher poll interval, in milliseconds.
focus_poll_ms = %d
# Publish focus-change events alongside pause events.
enable_focus_events = %t

[overlay]
# Typeface for ghost text. Empty selects a platform monospace face.
font_name = "%s"
font_size = %d
# Colors are RGBA components in 0..1.
text_color = %s
background_color = %s
# Pixel offset from the caret anchor.
offset_x = %d
offset_y = %d

[daemon]
socket_path = "%s"
max_clients = %d
metrics = %t
pid_file = "%s"

[logging]
# Levels: debug, info, warn, error. Formats: text, json.
level = "%s"
format = "%s"
file = "%s"
max_size_mb = %d
console = %t
`,
		Version,
		cfg.Version,
		cfg.Engine.DebounceMs,
		cfg.Engine.ContextLength,
		cfg.Engine.FocusPollMs,
		cfg.Engine.EnableFocusEvents,
		cfg.Overlay.FontName,
		cfg.Overlay.FontSize,
		toTOMLFloatArray(cfg.Overlay.TextColor),
		toTOMLFloatArray(cfg.Overlay.BackgroundColor),
		cfg.Overlay.OffsetX,
		cfg.Overlay.OffsetY,
		escapeTOMLString(cfg.Daemon.SocketPath),
		cfg.Daemon.MaxClients,
		cfg.Daemon.Metrics,
		escapeTOMLString(cfg.Daemon.PidFile),
		cfg.Logging.Level,
		cfg.Logging.Format,
		escapeTOMLString(cfg.Logging.File),
		cfg.Logging.MaxSizeMB,
		cfg.Logging.Console,
	)
}

func toTOMLFloatArray(items [4]float64) string {
	result := "["
	for i, item := range items {
		if i > 0 {
			result += ", "
		}
		result += strconv.FormatFloat(item, 'f', 2, 64)
	}
	result += "]"
	return result
}

// escapeTOMLString escapes backslashes for Windows paths in basic strings.
func escapeTOMLString(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' || s[i] == '"' {
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}

// GetMigrationHistory returns the migration history stored in the data directory.
func GetMigrationHistory() ([]MigrationResult, error) {
	historyPath := filepath.Join(GhostdDir(), "migration_history.json")

	data, err := os.ReadFile(historyPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read migration history: %w", err)
	}

	var history []MigrationResult
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, fmt.Errorf("parse migration history: %w", err)
	}

	return history, nil
}

// SaveMigrationHistory appends a migration result to the history file.
func SaveMigrationHistory(result *MigrationResult) error {
	historyPath := filepath.Join(GhostdDir(), "migration_history.json")

	history, err := GetMigrationHistory()
	if err != nil {
		history = nil // Start fresh if error
	}

	history = append(history, *result)

	data, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return fmt.Errorf("encode migration history: %w", err)
	}

	dir := filepath.Dir(historyPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	if err := os.WriteFile(historyPath, data, 0600); err != nil {
		return fmt.Errorf("write migration history: %w", err)
	}

	return nil
}
