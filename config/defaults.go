// =============================================================================
// 📦 VoiceFloor 默认配置
// =============================================================================
// 提供所有配置项的合理默认值；轮次相关阈值为经验值，可通过配置覆盖
// =============================================================================
package config

import (
	"time"

	"github.com/BaSui01/voicefloor/types"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:     DefaultServerConfig(),
		Floor:      DefaultFloorConfig(),
		Relay:      DefaultRelayConfig(),
		Announce:   DefaultAnnounceConfig(),
		Worker:     DefaultWorkerConfig(),
		Model:      DefaultModelConfig(),
		Transcript: DefaultTranscriptConfig(),
		Personas:   DefaultPersonas(),
		Log:        DefaultLogConfig(),
		Telemetry:  DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    20,
		RateLimitBurst:  40,
	}
}

// DefaultFloorConfig 返回默认发言权仲裁配置
func DefaultFloorConfig() FloorConfig {
	return FloorConfig{
		Mode:                  "free",
		SilenceThreshold:      1500 * time.Millisecond,
		UserSilenceRelease:    1500 * time.Millisecond,
		TickInterval:          100 * time.Millisecond,
		StallTimeout:          18 * time.Second,
		AwaitAnswerOnQuestion: true,
	}
}

// DefaultRelayConfig 返回默认跨角色转述配置
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		TurnCeiling:      3,
		PromptPeers:      true,
		DefaultPrimary:   "",
		QuestionSuffixes: []string{"까요", "나요", "습니까", "을까", "ㄹ까", "죠"},
	}
}

// DefaultAnnounceConfig 返回默认主动播报配置
func DefaultAnnounceConfig() AnnounceConfig {
	return AnnounceConfig{
		ChunkMaxSentences:    1,
		ChunkMaxChars:        180,
		CompressMaxChars:     300,
		CompressMaxSentences: 3,
		BlockDirectAudio:     2 * time.Second,
		ChunkTimeout:         20 * time.Second,
		IntentWindow:         30 * time.Second,
		MinInterval:          5 * time.Second,
		QueueSize:            16,
	}
}

// DefaultWorkerConfig 返回默认角色连接配置
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		ReconnectBackoff:  2 * time.Second,
		InboxCapacity:     512,
		CloseTimeout:      3 * time.Second,
		ToolTimeout:       10 * time.Second,
		HistoryPrimeCount: 10,
	}
}

// DefaultModelConfig 返回默认远端模型配置
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		Provider:         "websocket",
		URL:              "ws://localhost:9000/v1/realtime",
		Model:            "gemini-2.5-flash-native-audio-preview-09-2025",
		InputSampleRate:  16000,
		OutputSampleRate: 24000,
		DialTimeout:      10 * time.Second,
	}
}

// DefaultTranscriptConfig 返回默认对话记录存储配置
func DefaultTranscriptConfig() TranscriptConfig {
	return TranscriptConfig{
		Backend:    "memory",
		Addr:       "localhost:6379",
		DB:         0,
		KeyPrefix:  "voicefloor:transcript",
		MaxEntries: 200,
		TTL:        24 * time.Hour,
	}
}

// DefaultPersonas 返回示例角色（两位主持人）
func DefaultPersonas() []types.Persona {
	return []types.Persona{
		{
			ID:          "aria",
			Name:        "Aria",
			Aliases:     []string{"아리아"},
			Voice:       "Aoede",
			Instruction: "You are Aria, a warm and concise morning host.",
		},
		{
			ID:          "kai",
			Name:        "Kai",
			Aliases:     []string{"카이"},
			Voice:       "Puck",
			Instruction: "You are Kai, a playful co-host who adds quick facts.",
		},
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "voicefloor",
		SampleRate:   0.1,
	}
}
