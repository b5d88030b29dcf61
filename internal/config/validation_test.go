package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/load-harness/internal/metrics/engine"
	"yqhp/load-harness/pkg/types"
)

func TestValidateDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
}

func TestValidate_Fields(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(*Config)
		expectError bool
		errorField  string
	}{
		{
			name:   "valid config",
			modify: func(c *Config) {},
		},
		{
			name:        "empty base url",
			modify:      func(c *Config) { c.BaseURL = "" },
			expectError: true,
			errorField:  "base_url",
		},
		{
			name:        "base url without scheme",
			modify:      func(c *Config) { c.BaseURL = "localhost:8080" },
			expectError: true,
			errorField:  "base_url",
		},
		{
			name:        "ftp base url",
			modify:      func(c *Config) { c.BaseURL = "ftp://host" },
			expectError: true,
			errorField:  "base_url",
		},
		{
			name:   "https base url",
			modify: func(c *Config) { c.BaseURL = "https://scylla.example.com/api" },
		},
		{
			name:        "negative vus",
			modify:      func(c *Config) { c.Run.VUs = -1 },
			expectError: true,
			errorField:  "run.vus",
		},
		{
			name:        "negative stage target",
			modify:      func(c *Config) { c.Run.Stages = []types.Stage{{Duration: time.Second, Target: -1}} },
			expectError: true,
			errorField:  "run.stages[0]",
		},
		{
			name:        "negative stage duration",
			modify:      func(c *Config) { c.Run.Stages = []types.Stage{{Duration: -time.Second, Target: 1}} },
			expectError: true,
			errorField:  "run.stages[0]",
		},
		{
			name:   "zero duration stage jumps",
			modify: func(c *Config) { c.Run.Stages = []types.Stage{{Duration: 0, Target: 5}, {Duration: time.Second, Target: 0}} },
		},
		{
			name:        "ramping without stages",
			modify:      func(c *Config) { c.Run.Mode = "ramping-vus" },
			expectError: true,
			errorField:  "run.stages",
		},
		{
			name:        "constant without duration",
			modify:      func(c *Config) { c.Run.Mode = "constant-vus" },
			expectError: true,
			errorField:  "run.duration",
		},
		{
			name:        "per-vu without vus",
			modify:      func(c *Config) { c.Run.VUs = 0 },
			expectError: true,
			errorField:  "run.vus",
		},
		{
			name:        "unknown mode",
			modify:      func(c *Config) { c.Run.Mode = "shared-iterations" },
			expectError: true,
			errorField:  "run.mode",
		},
		{
			name:        "negative delay",
			modify:      func(c *Config) { c.Run.IterationDelay = -time.Millisecond },
			expectError: true,
			errorField:  "run.iteration_delay",
		},
		{
			name:        "unknown backend",
			modify:      func(c *Config) { c.HTTP.Backend = "curl" },
			expectError: true,
			errorField:  "http.backend",
		},
		{
			name:        "http2 on fasthttp",
			modify:      func(c *Config) { c.HTTP.Backend = "fasthttp"; c.HTTP.HTTP2 = true },
			expectError: true,
			errorField:  "http.http2",
		},
		{
			name:        "zero timeout",
			modify:      func(c *Config) { c.HTTP.Timeout = 0 },
			expectError: true,
			errorField:  "http.timeout",
		},
		{
			name:        "negative max rps",
			modify:      func(c *Config) { c.HTTP.MaxRPS = -1 },
			expectError: true,
			errorField:  "http.max_rps",
		},
		{
			name:        "threshold without metric",
			modify:      func(c *Config) { c.Thresholds = ThresholdList{{Condition: "p(95)<500"}} },
			expectError: true,
			errorField:  "thresholds[0]",
		},
		{
			name:        "threshold bad expression",
			modify:      func(c *Config) { c.Thresholds = ThresholdList{{Metric: "http_req_duration", Condition: "p95 below 500"}} },
			expectError: true,
			errorField:  "thresholds[0]",
		},
		{
			name:        "empty output",
			modify:      func(c *Config) { c.Outputs = []string{"=x"} },
			expectError: true,
			errorField:  "outputs[0]",
		},
		{
			name:        "invalid api address",
			modify:      func(c *Config) { c.API.Addr = "invalid" },
			expectError: true,
			errorField:  "api.addr",
		},
		{
			name:   "valid api address",
			modify: func(c *Config) { c.API.Addr = "127.0.0.1:6565" },
		},
		{
			name:   "valid api hostname",
			modify: func(c *Config) { c.API.Addr = "localhost:6565" },
		},
		{
			name:        "invalid log level",
			modify:      func(c *Config) { c.Logging.Level = "trace" },
			expectError: true,
			errorField:  "logging.level",
		},
		{
			name:        "invalid log format",
			modify:      func(c *Config) { c.Logging.Format = "text" },
			expectError: true,
			errorField:  "logging.format",
		},
		{
			name:        "file output without path",
			modify:      func(c *Config) { c.Logging.Output = "file" },
			expectError: true,
			errorField:  "logging.file_path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()

			if !tt.expectError {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var verrs ValidationErrors
			require.True(t, errors.As(err, &verrs))
			assert.Contains(t, verrs.Fields(), tt.errorField)
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaseURL = ""
	cfg.HTTP.Backend = "curl"
	cfg.Logging.Level = "loud"

	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, IsValidationError(err))

	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Equal(t, []string{"base_url", "http.backend", "logging.level"}, verrs.Fields())
	assert.Contains(t, err.Error(), "configuration validation failed")
}

func TestValidate_WrapsSentinels(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Run.Stages = []types.Stage{{Duration: time.Second, Target: -2}}
	cfg.Thresholds = ThresholdList{{Metric: "errors", Condition: "rate<<0.1"}}

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidStage)
	assert.ErrorIs(t, err, engine.ErrInvalidThreshold)

	var fieldErr *ValidationError
	require.True(t, errors.As(err, &fieldErr))
	assert.Equal(t, "run.stages[0]", fieldErr.Field)
}

func TestIsValidAddress(t *testing.T) {
	valid := []string{":6565", "localhost:6565", "0.0.0.0:80", "[::1]:6565", "api-1.internal:9000"}
	for _, a := range valid {
		assert.True(t, isValidAddress(a), a)
	}
	invalid := []string{"", ":", "6565", "host:", "-bad-.host:80", "host:notaport99999"}
	for _, a := range invalid {
		assert.False(t, isValidAddress(a), a)
	}
}

func TestIsValidationError(t *testing.T) {
	assert.False(t, IsValidationError(errors.New("plain")))
	assert.False(t, IsValidationError(nil))
}
