// Package fixtures 提供测试用的 persona 与 PCM 音频样例。
package fixtures

import (
	"encoding/binary"
	"math"

	"github.com/BaSui01/voicefloor/types"
)

// 常用 persona ID
const (
	Aria types.SpeakerID = "aria"
	Kai  types.SpeakerID = "kai"
)

// Personas 返回两个测试 persona
func Personas() []types.Persona {
	return []types.Persona{
		{ID: Aria, Name: "Aria", Aliases: []string{"아리아"}, Voice: "Aoede", Instruction: "You are Aria."},
		{ID: Kai, Name: "Kai", Aliases: []string{"카이"}, Voice: "Puck", Instruction: "You are Kai."},
	}
}

// PersonaIDs 返回测试 persona 的 ID
func PersonaIDs() []types.SpeakerID {
	return []types.SpeakerID{Aria, Kai}
}

// PCM16Tone 生成 samples 个采样的 440Hz 正弦波（16 位小端，16kHz）
func PCM16Tone(samples int, amplitude int16) []byte {
	out := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := float64(amplitude) * math.Sin(2*math.Pi*440*float64(i)/16000)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

// PCM16Silence 生成 samples 个采样的静音
func PCM16Silence(samples int) []byte {
	return make([]byte, samples*2)
}
