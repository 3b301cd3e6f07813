package orchestrator

import (
	"github.com/BaSui01/voicefloor/compose"
	"github.com/BaSui01/voicefloor/config"
	"github.com/BaSui01/voicefloor/floor"
	"github.com/BaSui01/voicefloor/gate"
	"github.com/BaSui01/voicefloor/persona"
	"github.com/BaSui01/voicefloor/relay"
	"github.com/BaSui01/voicefloor/transcript"
)

// DefaultVoiceThreshold PCM16 RMS 超过该值即视为人声
const DefaultVoiceThreshold = 500.0

// Config 一场对话的全部参数
type Config struct {
	Floor      floor.Config
	Relay      relay.Config
	Gate       gate.Config
	Scheduler  gate.SchedulerConfig
	Worker     persona.Config
	Transcript transcript.Config

	// InputSampleRate 客户端上行音频采样率
	InputSampleRate int
	// VoiceThreshold 默认人声检测的 RMS 阈值
	VoiceThreshold float64
}

// DefaultConfig 返回默认对话配置
func DefaultConfig() Config {
	return Config{
		Floor:           floor.DefaultConfig(),
		Relay:           relay.DefaultConfig(),
		Gate:            gate.DefaultConfig(),
		Scheduler:       gate.SchedulerConfig{MinInterval: config.DefaultAnnounceConfig().MinInterval, QueueSize: 16},
		Worker:          persona.DefaultConfig(),
		Transcript:      transcript.DefaultConfig(),
		InputSampleRate: 16000,
		VoiceThreshold:  DefaultVoiceThreshold,
	}
}

// FromConfig 把加载好的应用配置转换为对话配置
func FromConfig(c *config.Config) Config {
	cfg := DefaultConfig()

	cfg.Floor = floor.Config{
		Mode:                  floor.Mode(c.Floor.Mode),
		SilenceThreshold:      c.Floor.SilenceThreshold,
		UserSilenceRelease:    c.Floor.UserSilenceRelease,
		TickInterval:          c.Floor.TickInterval,
		StallTimeout:          c.Floor.StallTimeout,
		AwaitAnswerOnQuestion: c.Floor.AwaitAnswerOnQuestion,
	}
	cfg.Relay = relay.Config{
		TurnCeiling:      c.Relay.TurnCeiling,
		PromptPeers:      c.Relay.PromptPeers,
		DefaultPrimary:   c.Relay.DefaultPrimary,
		QuestionSuffixes: c.Relay.QuestionSuffixes,
	}
	cfg.Gate = gate.Config{
		Compose: compose.Config{
			ChunkMaxSentences:    c.Announce.ChunkMaxSentences,
			ChunkMaxChars:        c.Announce.ChunkMaxChars,
			CompressMaxChars:     c.Announce.CompressMaxChars,
			CompressMaxSentences: c.Announce.CompressMaxSentences,
		},
		BlockDirectAudio: c.Announce.BlockDirectAudio,
		ChunkTimeout:     c.Announce.ChunkTimeout,
		IntentWindow:     c.Announce.IntentWindow,
	}
	cfg.Scheduler = gate.SchedulerConfig{
		MinInterval: c.Announce.MinInterval,
		QueueSize:   c.Announce.QueueSize,
	}
	cfg.Worker = persona.Config{
		ReconnectBackoff:  c.Worker.ReconnectBackoff,
		InboxCapacity:     c.Worker.InboxCapacity,
		CloseTimeout:      c.Worker.CloseTimeout,
		ToolTimeout:       c.Worker.ToolTimeout,
		HistoryPrimeCount: c.Worker.HistoryPrimeCount,
	}
	cfg.Transcript = transcript.Config{
		Backend:    transcript.Backend(c.Transcript.Backend),
		Addr:       c.Transcript.Addr,
		Password:   c.Transcript.Password,
		DB:         c.Transcript.DB,
		KeyPrefix:  c.Transcript.KeyPrefix,
		MaxEntries: c.Transcript.MaxEntries,
		TTL:        c.Transcript.TTL,
		TLS:        c.Transcript.TLS,
	}
	if c.Model.InputSampleRate > 0 {
		cfg.InputSampleRate = c.Model.InputSampleRate
	}
	return cfg
}
