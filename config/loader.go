// =============================================================================
// 📦 VoiceFloor 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("voicefloor.yaml").
//	    WithEnvPrefix("VOICEFLOOR").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BaSui01/voicefloor/types"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 VoiceFloor 的完整配置结构
type Config struct {
	// Server 服务器配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Floor 发言权仲裁配置
	Floor FloorConfig `yaml:"floor" env:"FLOOR"`

	// Relay 跨角色转述配置
	Relay RelayConfig `yaml:"relay" env:"RELAY"`

	// Announce 主动播报配置
	Announce AnnounceConfig `yaml:"announce" env:"ANNOUNCE"`

	// Worker 角色连接配置
	Worker WorkerConfig `yaml:"worker" env:"WORKER"`

	// Model 远端语音模型配置
	Model ModelConfig `yaml:"model" env:"MODEL"`

	// Transcript 对话记录存储配置
	Transcript TranscriptConfig `yaml:"transcript" env:"TRANSCRIPT"`

	// Personas 角色列表（只能通过 YAML 配置）
	Personas []types.Persona `yaml:"personas" env:"-"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口（WebSocket 会话 + 健康检查）
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 每个 IP 每秒允许的请求数，0 表示不限流
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 限流突发量
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// WebSocket 允许的跨域来源
	AllowedOrigins []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS"`
	// 会话端点的 API Key，为空时不校验
	APIKeys []string `yaml:"api_keys" env:"API_KEYS"`
}

// FloorConfig 发言权仲裁配置
type FloorConfig struct {
	// 仲裁模式: free, sequential
	Mode string `yaml:"mode" env:"MODE"`
	// 角色静默多久后强制释放发言权
	SilenceThreshold time.Duration `yaml:"silence_threshold" env:"SILENCE_THRESHOLD"`
	// 用户静默多久后释放用户发言权
	UserSilenceRelease time.Duration `yaml:"user_silence_release" env:"USER_SILENCE_RELEASE"`
	// 看门狗检查间隔
	TickInterval time.Duration `yaml:"tick_interval" env:"TICK_INTERVAL"`
	// 顺序模式下的卡死超时
	StallTimeout time.Duration `yaml:"stall_timeout" env:"STALL_TIMEOUT"`
	// 角色提问后是否等待用户回答
	AwaitAnswerOnQuestion bool `yaml:"await_answer_on_question" env:"AWAIT_ANSWER_ON_QUESTION"`
}

// RelayConfig 跨角色转述配置
type RelayConfig struct {
	// 每个用户轮次内 AI 连续发言的上限
	TurnCeiling int `yaml:"turn_ceiling" env:"TURN_CEILING"`
	// 转述后是否让同伴立即回应
	PromptPeers bool `yaml:"prompt_peers" env:"PROMPT_PEERS"`
	// 用户未点名时的默认主答角色
	DefaultPrimary types.SpeakerID `yaml:"default_primary" env:"DEFAULT_PRIMARY"`
	// 识别提问的句尾
	QuestionSuffixes []string `yaml:"question_suffixes" env:"QUESTION_SUFFIXES"`
}

// AnnounceConfig 主动播报配置
type AnnounceConfig struct {
	// 每块最多句数
	ChunkMaxSentences int `yaml:"chunk_max_sentences" env:"CHUNK_MAX_SENTENCES"`
	// 每块最多字符数
	ChunkMaxChars int `yaml:"chunk_max_chars" env:"CHUNK_MAX_CHARS"`
	// 不分块播报时的压缩字符上限
	CompressMaxChars int `yaml:"compress_max_chars" env:"COMPRESS_MAX_CHARS"`
	// 不分块播报时的压缩句数上限
	CompressMaxSentences int `yaml:"compress_max_sentences" env:"COMPRESS_MAX_SENTENCES"`
	// 每块播报后屏蔽直接音频的时长
	BlockDirectAudio time.Duration `yaml:"block_direct_audio" env:"BLOCK_DIRECT_AUDIO"`
	// 等待单块播报完成的上限
	ChunkTimeout time.Duration `yaml:"chunk_timeout" env:"CHUNK_TIMEOUT"`
	// 强制意图的有效窗口
	IntentWindow time.Duration `yaml:"intent_window" env:"INTENT_WINDOW"`
	// 主动播报的最小间隔
	MinInterval time.Duration `yaml:"min_interval" env:"MIN_INTERVAL"`
	// 待播报队列容量
	QueueSize int `yaml:"queue_size" env:"QUEUE_SIZE"`
}

// WorkerConfig 角色连接配置
type WorkerConfig struct {
	// 重连退避
	ReconnectBackoff time.Duration `yaml:"reconnect_backoff" env:"RECONNECT_BACKOFF"`
	// 收件箱容量
	InboxCapacity int `yaml:"inbox_capacity" env:"INBOX_CAPACITY"`
	// 关闭会话的超时
	CloseTimeout time.Duration `yaml:"close_timeout" env:"CLOSE_TIMEOUT"`
	// 工具调用超时
	ToolTimeout time.Duration `yaml:"tool_timeout" env:"TOOL_TIMEOUT"`
	// 重连后回放的历史条数
	HistoryPrimeCount int `yaml:"history_prime_count" env:"HISTORY_PRIME_COUNT"`
}

// ModelConfig 远端语音模型配置
type ModelConfig struct {
	// 提供方: websocket, gemini
	Provider string `yaml:"provider" env:"PROVIDER"`
	// WebSocket 端点（provider=websocket）
	URL string `yaml:"url" env:"URL"`
	// 模型名称
	Model string `yaml:"model" env:"MODEL"`
	// API Key
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 上行采样率
	InputSampleRate int `yaml:"input_sample_rate" env:"INPUT_SAMPLE_RATE"`
	// 下行采样率
	OutputSampleRate int `yaml:"output_sample_rate" env:"OUTPUT_SAMPLE_RATE"`
	// 建连超时
	DialTimeout time.Duration `yaml:"dial_timeout" env:"DIAL_TIMEOUT"`
}

// TranscriptConfig 对话记录存储配置
type TranscriptConfig struct {
	// 存储后端: memory, redis
	Backend string `yaml:"backend" env:"BACKEND"`
	// Redis 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// Redis 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// Redis 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 键前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
	// 最多保留条数
	MaxEntries int `yaml:"max_entries" env:"MAX_ENTRIES"`
	// 过期时间
	TTL time.Duration `yaml:"ttl" env:"TTL"`
	// 是否以 TLS 连接 Redis
	TLS bool `yaml:"tls" env:"TLS"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "VOICEFLOOR",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	// 1. 从默认值开始
	cfg := DefaultConfig()

	// 2. 如果指定了配置文件，从文件加载
	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// 3. 从环境变量覆盖
	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// 4. 运行验证器
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		// 获取 env tag
		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		// 如果是结构体，递归处理
		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		// 获取环境变量值
		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		// 设置字段值
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).WithValidator((*Config).Validate).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 || c.Server.MetricsPort == c.Server.HTTPPort {
		errs = append(errs, "invalid metrics port")
	}
	if c.Server.RateLimitRPS < 0 || (c.Server.RateLimitRPS > 0 && c.Server.RateLimitBurst < 1) {
		errs = append(errs, "rate limit requires a positive burst")
	}

	switch c.Floor.Mode {
	case "free", "sequential":
	default:
		errs = append(errs, fmt.Sprintf("unknown floor mode %q", c.Floor.Mode))
	}
	if c.Floor.SilenceThreshold <= 0 || c.Floor.UserSilenceRelease <= 0 {
		errs = append(errs, "silence thresholds must be positive")
	}
	if c.Floor.TickInterval <= 0 {
		errs = append(errs, "tick_interval must be positive")
	}

	if c.Relay.TurnCeiling < 1 {
		errs = append(errs, "turn_ceiling must be at least 1")
	}

	if c.Announce.ChunkMaxSentences < 1 || c.Announce.ChunkMaxChars < 1 {
		errs = append(errs, "chunk limits must be positive")
	}
	if c.Announce.CompressMaxSentences < 1 || c.Announce.CompressMaxChars < 1 {
		errs = append(errs, "compress limits must be positive")
	}
	if c.Announce.ChunkTimeout <= 0 {
		errs = append(errs, "chunk_timeout must be positive")
	}

	if c.Worker.InboxCapacity < 1 {
		errs = append(errs, "inbox_capacity must be positive")
	}

	switch c.Model.Provider {
	case "websocket", "gemini":
	default:
		errs = append(errs, fmt.Sprintf("unknown model provider %q", c.Model.Provider))
	}

	switch c.Transcript.Backend {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Sprintf("unknown transcript backend %q", c.Transcript.Backend))
	}

	if len(c.Personas) == 0 {
		errs = append(errs, "at least one persona is required")
	}
	seen := make(map[types.SpeakerID]bool, len(c.Personas))
	for _, p := range c.Personas {
		switch {
		case !p.ID.IsPersona():
			errs = append(errs, fmt.Sprintf("invalid persona id %q", p.ID))
		case seen[p.ID]:
			errs = append(errs, fmt.Sprintf("duplicate persona id %q", p.ID))
		}
		seen[p.ID] = true
	}
	if c.Relay.DefaultPrimary != types.SpeakerNone && !seen[c.Relay.DefaultPrimary] {
		errs = append(errs, fmt.Sprintf("default_primary %q is not a configured persona", c.Relay.DefaultPrimary))
	}

	if len(errs) > 0 {
		return types.NewError(types.ErrInvalidConfig,
			fmt.Sprintf("config validation errors: %s", strings.Join(errs, "; ")))
	}

	return nil
}

// PersonaIDs 返回按配置顺序排列的角色 ID
func (c *Config) PersonaIDs() []types.SpeakerID {
	ids := make([]types.SpeakerID, 0, len(c.Personas))
	for _, p := range c.Personas {
		ids = append(ids, p.ID)
	}
	return ids
}
