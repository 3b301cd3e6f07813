package orchestrator

import (
	"encoding/binary"
	"math"
)

// VoiceActivity 判断一段上行音频是否包含人声
type VoiceActivity func(pcm []byte) bool

// RMSActivity 以 16 位小端 PCM 的均方根能量判断人声
func RMSActivity(threshold float64) VoiceActivity {
	return func(pcm []byte) bool {
		return RMS(pcm) >= threshold
	}
}

// RMS 计算 16 位小端 PCM 的均方根，奇数尾字节忽略
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[2*i:])))
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}
