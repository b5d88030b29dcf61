package config

import (
	"fmt"
	"maps"
	"os"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"yqhp/load-harness/internal/scenario"
	"yqhp/load-harness/pkg/logger"
	"yqhp/load-harness/pkg/types"
)

const (
	// DefaultEnvPrefix 环境变量前缀，例如 LH_VUS
	DefaultEnvPrefix = "LH_"
	// legacyBaseURLEnv 旧的目标地址变量，优先级低于 LH_BASE_URL
	legacyBaseURLEnv = "BASE_URL"

	DefaultBaseURL = "http://localhost:8080"
)

// Config is the immutable run configuration threaded to the scheduler and
// every scenario invocation.
type Config struct {
	BaseURL       string            `yaml:"base_url" env:"BASE_URL"`
	Run           RunConfig         `yaml:"run"`
	HTTP          HTTPConfig        `yaml:"http"`
	Thresholds    ThresholdList     `yaml:"thresholds" env:"THRESHOLDS"`
	Outputs       []string          `yaml:"outputs" env:"OUTPUTS"`
	Tags          map[string]string `yaml:"tags" env:"TAGS"`
	API           APIConfig         `yaml:"api"`
	History       HistoryConfig     `yaml:"history"`
	SummaryExport string            `yaml:"summary_export" env:"SUMMARY_EXPORT"`
	Quiet         bool              `yaml:"quiet" env:"QUIET"`
	Logging       logger.Config     `yaml:"logging"`
}

// RunConfig holds the scheduling options.
type RunConfig struct {
	// Mode 为空时根据其余字段推断，见 ExecutionMode
	Mode           string        `yaml:"mode" env:"MODE"`
	VUs            int           `yaml:"vus" env:"VUS"`
	Duration       time.Duration `yaml:"duration" env:"DURATION"`
	Iterations     int64         `yaml:"iterations" env:"ITERATIONS"`
	Stages         []types.Stage `yaml:"stages" env:"STAGES"`
	IterationDelay time.Duration `yaml:"iteration_delay" env:"DELAY"`
	GracefulStop   time.Duration `yaml:"graceful_stop" env:"GRACEFUL_STOP"`
}

// HTTPConfig holds the client adapter options.
type HTTPConfig struct {
	Backend            string            `yaml:"backend" env:"BACKEND"`
	HTTP2              bool              `yaml:"http2" env:"HTTP2"`
	Timeout            time.Duration     `yaml:"timeout" env:"TIMEOUT"`
	MaxRPS             float64           `yaml:"max_rps" env:"MAX_RPS"`
	MaxConnsPerHost    int               `yaml:"max_conns_per_host" env:"MAX_CONNS_PER_HOST"`
	InsecureSkipVerify bool              `yaml:"insecure_skip_verify" env:"INSECURE_SKIP_VERIFY"`
	UserAgent          string            `yaml:"user_agent" env:"USER_AGENT"`
	Headers            map[string]string `yaml:"headers" env:"HEADERS"`
}

// APIConfig holds the control API options. An empty Addr disables it.
type APIConfig struct {
	Addr string `yaml:"addr" env:"API_ADDR"`
}

// HistoryConfig holds the run history store options. An empty DBPath
// disables it.
type HistoryConfig struct {
	DBPath string `yaml:"db_path" env:"HISTORY_DB"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		BaseURL: DefaultBaseURL,
		Run: RunConfig{
			VUs:          1,
			GracefulStop: 30 * time.Second,
		},
		HTTP: HTTPConfig{
			Backend:   "std",
			Timeout:   60 * time.Second,
			UserAgent: "load-harness/1.0",
		},
		Logging: logger.DefaultConfig(),
	}
}

// ExecutionMode returns the scheduler mode to use. An explicit Mode wins;
// otherwise stages select ramping-vus, iterations per-vu-iterations and a
// bare duration constant-vus. With nothing set each VU runs once.
func (r RunConfig) ExecutionMode() types.ExecutionMode {
	if r.Mode != "" {
		return types.ExecutionMode(r.Mode)
	}
	switch {
	case len(r.Stages) > 0:
		return types.ModeRampingVUs
	case r.Iterations > 0:
		return types.ModePerVUIterations
	case r.Duration > 0:
		return types.ModeConstantVUs
	default:
		return types.ModePerVUIterations
	}
}

// EffectiveIterations returns Iterations, or 1 when unset.
func (r RunConfig) EffectiveIterations() int64 {
	if r.Iterations > 0 {
		return r.Iterations
	}
	return 1
}

// Loader handles configuration loading from multiple sources.
type Loader struct {
	configPath string
	envPrefix  string
	cmdArgs    map[string]string
	suite      *scenario.Options
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		envPrefix: DefaultEnvPrefix,
		cmdArgs:   make(map[string]string),
		lookupEnv: os.LookupEnv,
	}
}

// WithConfigPath sets the path to the YAML configuration file.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix sets the prefix for environment variables.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithCmdArgs sets command-line overrides keyed by yaml path, e.g.
// "run.vus" or "http.backend". Repeatable flags are joined with commas.
func (l *Loader) WithCmdArgs(args map[string]string) *Loader {
	l.cmdArgs = args
	return l
}

// WithSuiteOptions sets the options recommended by the selected suite or
// scenario. They sit between the defaults and the YAML file.
func (l *Loader) WithSuiteOptions(opts scenario.Options) *Loader {
	l.suite = &opts
	return l
}

// withLookupEnv 替换环境变量来源，测试用
func (l *Loader) withLookupEnv(fn func(string) (string, bool)) *Loader {
	l.lookupEnv = fn
	return l
}

// Load loads configuration from all sources with proper precedence:
// defaults < suite options < YAML file < environment variables < command-line flags
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.suite != nil {
		_ = layer(cfg, func() error { applySuiteOptions(cfg, *l.suite); return nil })
	}

	if l.configPath != "" {
		if err := layer(cfg, func() error { return l.loadFromFile(cfg) }); err != nil {
			return nil, fmt.Errorf("从文件加载配置失败: %w", err)
		}
	}

	if err := layer(cfg, func() error { return l.applyEnvOverrides(cfg) }); err != nil {
		return nil, fmt.Errorf("应用环境变量覆盖失败: %w", err)
	}

	if err := layer(cfg, func() error { return l.applyCmdOverrides(cfg) }); err != nil {
		return nil, fmt.Errorf("应用命令行参数覆盖失败: %w", err)
	}

	return cfg, nil
}

// layer applies one configuration source. A source that sets vus, duration
// or iterations without stages replaces the staged profile of the lower
// layers, and a source that only sets stages drops their duration and
// iterations.
func layer(cfg *Config, apply func() error) error {
	before := cfg.Run
	before.Stages = append([]types.Stage(nil), cfg.Run.Stages...)

	if err := apply(); err != nil {
		return err
	}

	after := &cfg.Run
	stagesChanged := !reflect.DeepEqual(before.Stages, append([]types.Stage(nil), after.Stages...))
	shapeChanged := before.VUs != after.VUs || before.Duration != after.Duration || before.Iterations != after.Iterations
	switch {
	case shapeChanged && !stagesChanged:
		after.Stages = nil
	case stagesChanged && !shapeChanged && len(after.Stages) > 0:
		after.Duration = 0
		after.Iterations = 0
	}
	return nil
}

func applySuiteOptions(cfg *Config, opts scenario.Options) {
	if opts.VUs > 0 {
		cfg.Run.VUs = opts.VUs
	}
	if opts.Duration > 0 {
		cfg.Run.Duration = opts.Duration
	}
	if len(opts.Stages) > 0 {
		cfg.Run.Stages = append([]types.Stage(nil), opts.Stages...)
	}
	if opts.IterationDelay > 0 {
		cfg.Run.IterationDelay = opts.IterationDelay
	}
	if len(opts.Thresholds) > 0 {
		cfg.Thresholds = append(ThresholdList(nil), opts.Thresholds...)
	}
}

// loadFromFile loads configuration from a YAML file.
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // 文件不存在时使用默认值
		}
		return fmt.Errorf("读取配置文件失败: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("解析配置文件失败: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	if v, ok := l.lookupEnv(legacyBaseURLEnv); ok && v != "" {
		cfg.BaseURL = v
	}
	return l.applyEnvToStruct(reflect.ValueOf(cfg).Elem())
}

// applyEnvToStruct recursively applies environment variables to struct fields.
func (l *Loader) applyEnvToStruct(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if field.Kind() == reflect.Struct {
			if err := l.applyEnvToStruct(field); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}

		key := l.envPrefix + envTag
		envValue, ok := l.lookupEnv(key)
		if !ok || envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("从环境变量 %s 设置字段 %s 失败: %w", key, fieldType.Name, err)
		}
	}

	return nil
}

// applyCmdOverrides applies command-line argument overrides to the configuration.
func (l *Loader) applyCmdOverrides(cfg *Config) error {
	for key, value := range l.cmdArgs {
		if err := setConfigValue(cfg, key, value); err != nil {
			return fmt.Errorf("设置配置值 %s 失败: %w", key, err)
		}
	}
	return nil
}

// setConfigValue sets a configuration value by its dot-separated yaml path.
func setConfigValue(cfg *Config, path, value string) error {
	parts := strings.Split(path, ".")
	v := reflect.ValueOf(cfg).Elem()

	for i, part := range parts {
		field, ok := fieldByYAMLName(v, part)
		if !ok {
			return fmt.Errorf("未知的配置路径: %s", path)
		}

		if i == len(parts)-1 {
			return setFieldValue(field, value)
		}

		if field.Kind() != reflect.Struct {
			return fmt.Errorf("期望 %s 是结构体，实际是 %s", part, field.Kind())
		}
		v = field
	}

	return nil
}

func fieldByYAMLName(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag, _, _ := strings.Cut(t.Field(i).Tag.Get("yaml"), ",")
		if tag == name || strings.EqualFold(t.Field(i).Name, strings.ReplaceAll(name, "_", "")) {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

var (
	durationType  = reflect.TypeOf(time.Duration(0))
	stagesType    = reflect.TypeOf([]types.Stage(nil))
	thresholdType = reflect.TypeOf(ThresholdList(nil))
)

// setFieldValue sets a reflect.Value from a string value.
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return fmt.Errorf("无法设置字段")
	}

	switch field.Type() {
	case durationType:
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("无效的时间格式: %w", err)
		}
		field.SetInt(int64(d))
		return nil
	case stagesType:
		stages, err := ParseStages(splitList(value))
		if err != nil {
			return err
		}
		field.Set(reflect.ValueOf(stages))
		return nil
	case thresholdType:
		var list ThresholdList
		for _, item := range splitList(value) {
			th, err := ParseThresholdFlag(item)
			if err != nil {
				return err
			}
			list = append(list, th)
		}
		field.Set(reflect.ValueOf(list))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("无效的整数: %w", err)
		}
		field.SetInt(i)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("无效的浮点数: %w", err)
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("无效的布尔值: %w", err)
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("不支持的切片类型: %s", field.Type().Elem().Kind())
		}
		field.Set(reflect.ValueOf(splitList(value)))

	case reflect.Map:
		// key=value,key=value
		if field.Type().Key().Kind() != reflect.String || field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("不支持的 map 类型")
		}
		m := make(map[string]string)
		for _, pair := range splitList(value) {
			k, val, ok := strings.Cut(pair, "=")
			if ok {
				m[strings.TrimSpace(k)] = strings.TrimSpace(val)
			}
		}
		field.Set(reflect.ValueOf(m))

	default:
		return fmt.Errorf("不支持的字段类型: %s", field.Kind())
	}

	return nil
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Serialize serializes the configuration to YAML bytes.
func (c *Config) Serialize() ([]byte, error) {
	return yaml.Marshal(c)
}

// ParseConfig parses a YAML configuration from bytes.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file path.
func LoadFromFile(path string) (*Config, error) {
	return NewLoader().WithConfigPath(path).Load()
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Run.Stages = slices.Clone(c.Run.Stages)
	clone.Thresholds = slices.Clone(c.Thresholds)
	clone.Outputs = slices.Clone(c.Outputs)
	clone.Tags = maps.Clone(c.Tags)
	clone.HTTP.Headers = maps.Clone(c.HTTP.Headers)
	return &clone
}
