package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate performs validation of the full configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	validateChatData(&cfg.Chat, result)
	validateApplicationData(&cfg.Application, result)

	return result
}

func validateChatData(data *ChatData, result *ValidationResult) {
	validatePort(data.RendezvousPort, "chat.rendezvous_port", result)

	if data.SessionTimeoutMS < 1 {
		result.AddError("chat.session_timeout_ms", "session timeout must be positive")
	}
	if data.HeartbeatIntervalMS < 1 {
		result.AddError("chat.heartbeat_interval_ms", "heartbeat interval must be positive")
	}

	// One missed heartbeat should not kill a session.
	if data.SessionTimeoutMS < 2*data.HeartbeatIntervalMS {
		result.AddWarning("chat.session_timeout_ms",
			"session timeout below twice the heartbeat interval leaves no tolerance for a lost datagram")
	}

	if data.MaxNameLength < 1 {
		result.AddError("chat.max_name_length", "max name length must be at least 1")
	}

	if data.HelloRatePerSec <= 0 {
		result.AddWarning("chat.hello_rate_per_sec",
			"HELLO rate limiting is disabled, the rendezvous port is exposed to join floods")
	}
}

func validateApplicationData(data *ApplicationData, result *ValidationResult) {
	if data.API.Enabled {
		validatePort(data.API.Port, "application.api.port", result)
		if data.API.RateLimitRPS < 1 {
			result.AddWarning("application.api.rate_limit_rps",
				"rate limit is disabled (0 RPS), this may expose the API to abuse")
		}
	}

	if data.MQTT.Enabled {
		if strings.TrimSpace(data.MQTT.BrokerURL) == "" {
			result.AddError("application.mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if data.MQTT.Port < 1 || data.MQTT.Port > 65535 {
			result.AddError("application.mqtt.port", "invalid MQTT port")
		}
	}

	if data.Audit.Enabled && strings.TrimSpace(data.Audit.Path) == "" {
		result.AddError("application.audit.path", "audit database path is required when enabled")
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}
