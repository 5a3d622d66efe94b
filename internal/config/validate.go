package config

import (
	"fmt"
	"strings"

	coreerrors "sharedstream/internal/core/errors"
	"sharedstream/internal/transport"
)

// ValidationError 单个字段的校验错误
type ValidationError struct {
	Field   string
	Value   string
	Message string
	Hint    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationResult 校验结果
type ValidationResult struct {
	Errors []ValidationError
}

// IsValid 没有校验错误
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

func (r *ValidationResult) Error() string {
	if r.IsValid() {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for i, err := range r.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s: %s", i+1, err.Field, err.Message))
		if err.Value != "" {
			sb.WriteString(fmt.Sprintf(" (current: %s)", err.Value))
		}
		if err.Hint != "" {
			sb.WriteString(fmt.Sprintf("\n     hint: %s", err.Hint))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// AddError 添加校验错误
func (r *ValidationResult) AddError(field, value, message, hint string) {
	r.Errors = append(r.Errors, ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
		Hint:    hint,
	})
}

// Validate 校验配置，失败时返回 CONFIG_ERROR，Cause 为 *ValidationResult
func (c *Config) Validate() error {
	result := &ValidationResult{}

	checkProtocol(result, "transport.protocol", c.Transport.Protocol)
	checkProtocol(result, "server.protocol", c.Server.Protocol)

	if c.Transport.Address == "" {
		result.AddError("transport.address", "", "address is required", "e.g. 127.0.0.1:7300")
	}
	if c.Server.Listen == "" {
		result.AddError("server.listen", "", "listen address is required", "e.g. 0.0.0.0:7300")
	}
	if c.Ping.Count < 0 {
		result.AddError("ping.count", fmt.Sprint(c.Ping.Count), "count must not be negative", "use 0 to ping until interrupted")
	}
	if c.Ping.Window < 1 {
		result.AddError("ping.window", fmt.Sprint(c.Ping.Window), "window must be at least 1", "")
	}
	if c.Ping.Rate < 0 {
		result.AddError("ping.rate", fmt.Sprint(c.Ping.Rate), "rate must not be negative", "use 0 for unlimited")
	}
	if c.Ping.Timeout < 0 {
		result.AddError("ping.timeout", c.Ping.Timeout.String(), "timeout must not be negative", "use 0 to wait forever")
	}

	if c.Server.IdleTimeout < 0 {
		result.AddError("server.idle_timeout", c.Server.IdleTimeout.String(), "idle timeout must not be negative", "use 0 to disable")
	}

	if result.IsValid() {
		return nil
	}
	return coreerrors.Wrap(result, coreerrors.CodeConfigError, "invalid configuration")
}

func checkProtocol(result *ValidationResult, field, protocol string) {
	if transport.IsProtocolAvailable(protocol) {
		return
	}
	result.AddError(field, protocol, "protocol is not available",
		"available: "+strings.Join(transport.GetAvailableProtocolNames(), ", "))
}
