package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"yqhp/load-harness/internal/metrics/engine"
	"yqhp/load-harness/pkg/output"
	"yqhp/load-harness/pkg/types"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
	// Err 可选的底层错误，便于 errors.Is 判断
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return e.Err }

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
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}

// Unwrap exposes every field error to errors.Is and errors.As.
func (e ValidationErrors) Unwrap() []error {
	errs := make([]error, len(e))
	for i := range e {
		errs[i] = &e[i]
	}
	return errs
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Fields returns the field paths that failed, in report order.
func (e ValidationErrors) Fields() []string {
	fields := make([]string, len(e))
	for i, err := range e {
		fields[i] = err.Field
	}
	return fields
}

// Validator validates configuration values.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

// addError adds a validation error.
func (v *Validator) addError(field, message string) {
	v.errors = append(v.errors, ValidationError{Field: field, Message: message})
}

func (v *Validator) addWrapped(field string, err error) {
	v.errors = append(v.errors, ValidationError{Field: field, Message: err.Error(), Err: err})
}

// Validate validates the entire configuration and returns any errors.
func (v *Validator) Validate(cfg *Config) error {
	v.errors = make(ValidationErrors, 0)

	v.validateBaseURL(cfg.BaseURL)
	v.validateRunConfig(&cfg.Run)
	v.validateHTTPConfig(&cfg.HTTP)
	v.validateThresholds(cfg.Thresholds)
	v.validateOutputs(cfg.Outputs)
	v.validateAPIConfig(&cfg.API)
	v.validateLoggingConfig(cfg)

	if v.errors.HasErrors() {
		return v.errors
	}
	return nil
}

func (v *Validator) validateBaseURL(raw string) {
	if raw == "" {
		v.addError("base_url", "base url is required")
		return
	}
	u, err := url.Parse(raw)
	if err != nil {
		v.addError("base_url", fmt.Sprintf("invalid url: %v", err))
		return
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		v.addError("base_url", fmt.Sprintf("unsupported scheme %q, must be http or https", u.Scheme))
	}
	if u.Host == "" {
		v.addError("base_url", "host is required")
	}
}

// validateRunConfig validates the scheduling options against the resolved mode.
func (v *Validator) validateRunConfig(cfg *RunConfig) {
	if cfg.VUs < 0 {
		v.addError("run.vus", "vus must be non-negative")
	}
	if cfg.Duration < 0 {
		v.addError("run.duration", "duration must be non-negative")
	}
	if cfg.Iterations < 0 {
		v.addError("run.iterations", "iterations must be non-negative")
	}
	if cfg.IterationDelay < 0 {
		v.addError("run.iteration_delay", "iteration delay must be non-negative")
	}
	if cfg.GracefulStop < 0 {
		v.addError("run.graceful_stop", "graceful stop must be non-negative")
	}
	for i, st := range cfg.Stages {
		field := fmt.Sprintf("run.stages[%d]", i)
		if st.Duration < 0 {
			v.addWrapped(field, fmt.Errorf("%w %s: duration must be non-negative", ErrInvalidStage, st))
		}
		if st.Target < 0 {
			v.addWrapped(field, fmt.Errorf("%w %s: target must be non-negative", ErrInvalidStage, st))
		}
	}

	switch mode := cfg.ExecutionMode(); mode {
	case types.ModeRampingVUs:
		if len(cfg.Stages) == 0 {
			v.addError("run.stages", "ramping-vus requires at least one stage")
		}
	case types.ModeConstantVUs:
		if cfg.VUs <= 0 {
			v.addError("run.vus", "constant-vus requires vus > 0")
		}
		if cfg.Duration <= 0 {
			v.addError("run.duration", "constant-vus requires duration > 0")
		}
	case types.ModePerVUIterations:
		if cfg.VUs <= 0 {
			v.addError("run.vus", "per-vu-iterations requires vus > 0")
		}
	default:
		v.addError("run.mode", fmt.Sprintf("unknown mode %q, must be one of: ramping-vus, constant-vus, per-vu-iterations", mode))
	}
}

func (v *Validator) validateHTTPConfig(cfg *HTTPConfig) {
	switch cfg.Backend {
	case "std", "fasthttp":
	case "":
		v.addError("http.backend", "backend is required")
	default:
		v.addError("http.backend", fmt.Sprintf("invalid backend '%s', must be one of: std, fasthttp", cfg.Backend))
	}
	if cfg.HTTP2 && cfg.Backend == "fasthttp" {
		v.addError("http.http2", "http2 is only supported by the std backend")
	}
	if cfg.Timeout <= 0 {
		v.addError("http.timeout", "timeout must be positive")
	}
	if cfg.MaxRPS < 0 {
		v.addError("http.max_rps", "max rps must be non-negative")
	}
	if cfg.MaxConnsPerHost < 0 {
		v.addError("http.max_conns_per_host", "max conns per host must be non-negative")
	}
}

// validateThresholds checks the expression syntax. Metric names are checked
// against the registry when the run initializes its thresholds.
func (v *Validator) validateThresholds(list ThresholdList) {
	for i, th := range list {
		field := fmt.Sprintf("thresholds[%d]", i)
		if th.Metric == "" {
			v.addWrapped(field, fmt.Errorf("%w: metric is required", ErrInvalidThreshold))
			continue
		}
		if _, err := engine.ParseThreshold(th.Condition); err != nil {
			v.addWrapped(field, fmt.Errorf("%s: %w", th.Metric, err))
		}
	}
}

func (v *Validator) validateOutputs(outs []string) {
	for i, o := range outs {
		if _, _, err := output.ParseArgument(o); err != nil {
			v.addError(fmt.Sprintf("outputs[%d]", i), err.Error())
		}
	}
}

func (v *Validator) validateAPIConfig(cfg *APIConfig) {
	if cfg.Addr != "" && !isValidAddress(cfg.Addr) {
		v.addError("api.addr", "invalid address format, expected host:port or :port")
	}
}

// validateLoggingConfig validates the logging configuration.
func (v *Validator) validateLoggingConfig(cfg *Config) {
	lc := cfg.Logging

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if lc.Level == "" {
		v.addError("logging.level", "log level is required")
	} else if !validLevels[strings.ToLower(lc.Level)] {
		v.addError("logging.level", fmt.Sprintf("invalid log level '%s', must be one of: debug, info, warn, error", lc.Level))
	}

	switch strings.ToLower(lc.Format) {
	case "json", "console":
	default:
		v.addError("logging.format", fmt.Sprintf("invalid log format '%s', must be one of: json, console", lc.Format))
	}

	switch strings.ToLower(lc.Output) {
	case "", "stdout", "stderr":
	case "file", "both":
		if lc.FilePath == "" {
			v.addError("logging.file_path", "file path is required when output is file or both")
		}
	default:
		v.addError("logging.output", fmt.Sprintf("invalid log output '%s', must be one of: stdout, stderr, file, both", lc.Output))
	}
}

// isValidAddress checks if the address is a valid host:port format.
func isValidAddress(addr string) bool {
	if addr == "" {
		return false
	}

	// :port
	if strings.HasPrefix(addr, ":") {
		port := strings.TrimPrefix(addr, ":")
		if port == "" {
			return false
		}
		_, err := net.LookupPort("tcp", port)
		return err == nil
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil || port == "" {
		return false
	}
	if _, err := net.LookupPort("tcp", port); err != nil {
		return false
	}

	// 主机可以为空、IP 或主机名
	if host != "" && net.ParseIP(host) == nil && !isValidHostname(host) {
		return false
	}
	return true
}

// isValidHostname performs basic hostname validation.
func isValidHostname(hostname string) bool {
	if len(hostname) == 0 || len(hostname) > 253 {
		return false
	}

	for _, label := range strings.Split(hostname, ".") {
		if len(label) == 0 || len(label) > 63 {
			return false
		}
		if !isAlphanumeric(label[0]) || !isAlphanumeric(label[len(label)-1]) {
			return false
		}
		for _, c := range label {
			if !isAlphanumeric(byte(c)) && c != '-' {
				return false
			}
		}
	}

	return true
}

func isAlphanumeric(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	return NewValidator().Validate(c)
}

// IsValidationError reports whether err carries configuration field errors.
func IsValidationError(err error) bool {
	var verrs ValidationErrors
	return errors.As(err, &verrs)
}
