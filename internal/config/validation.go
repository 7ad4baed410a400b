// Package config handles configuration loading and validation for ghostd.
package config

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidConfig is matched by errors.Is for any validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Is reports the collection as ErrInvalidConfig so callers can match
// without depending on the concrete type.
func (e ValidationErrors) Is(target error) bool {
	return target == ErrInvalidConfig
}

// ValidateConfig performs comprehensive validation of the configuration.
func ValidateConfig(c *Config) error {
	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	if engineErrs := validateEngine(&c.Engine); len(engineErrs) > 0 {
		errs = append(errs, engineErrs...)
	}

	if overlayErrs := validateOverlay(&c.Overlay); len(overlayErrs) > 0 {
		errs = append(errs, overlayErrs...)
	}

	if daemonErrs := validateDaemon(&c.Daemon); len(daemonErrs) > 0 {
		errs = append(errs, daemonErrs...)
	}

	if loggingErrs := validateLogging(&c.Logging); len(loggingErrs) > 0 {
		errs = append(errs, loggingErrs...)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateEngine(e *EngineConfig) ValidationErrors {
	var errs ValidationErrors

	// Below 50ms the engine fires between the keystrokes of ordinary
	// typing; above 10s a pause is indistinguishable from walking away.
	if e.DebounceMs < 50 || e.DebounceMs > 10000 {
		errs = append(errs, ValidationError{
			Field:   "engine.debounce_ms",
			Message: "debounce must be between 50 and 10000 ms",
		})
	}

	if e.ContextLength < 1 || e.ContextLength > 4096 {
		errs = append(errs, ValidationError{
			Field:   "engine.context_length",
			Message: "context length must be between 1 and 4096 characters",
		})
	}

	if e.FocusPollMs < 100 {
		errs = append(errs, ValidationError{
			Field:   "engine.focus_poll_ms",
			Message: "focus poll interval must be at least 100 ms",
		})
	}

	return errs
}

func validateOverlay(o *OverlayConfig) ValidationErrors {
	var errs ValidationErrors

	if o.FontSize < 6 || o.FontSize > 96 {
		errs = append(errs, ValidationError{
			Field:   "overlay.font_size",
			Message: "font size must be between 6 and 96 points",
		})
	}

	for i, v := range o.TextColor {
		if v < 0 || v > 1 {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("overlay.text_color[%d]", i),
				Message: "color components must be in 0..1",
			})
		}
	}
	for i, v := range o.BackgroundColor {
		if v < 0 || v > 1 {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("overlay.background_color[%d]", i),
				Message: "color components must be in 0..1",
			})
		}
	}

	return errs
}

func validateDaemon(d *DaemonConfig) ValidationErrors {
	var errs ValidationErrors

	if d.SocketPath == "" {
		errs = append(errs, ValidationError{
			Field:   "daemon.socket_path",
			Message: "socket path cannot be empty",
		})
	}

	if d.MaxClients < 1 || d.MaxClients > 256 {
		errs = append(errs, ValidationError{
			Field:   "daemon.max_clients",
			Message: "max clients must be between 1 and 256",
		})
	}

	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("unknown level %q (want debug, info, warn, or error)", l.Level),
		})
	}

	switch l.Format {
	case "text", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("unknown format %q (want text or json)", l.Format),
		})
	}

	if l.MaxSizeMB < 1 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_size_mb",
			Message: "max size must be at least 1 MB",
		})
	}

	return errs
}
