package types

import "strings"

// SpeakerID 标识发言权的持有者：空表示无人持有，User 表示人类用户，其余为 persona id。
type SpeakerID string

const (
	// SpeakerNone 表示当前无人持有发言权。
	SpeakerNone SpeakerID = ""
	// SpeakerUser 表示人类用户。
	SpeakerUser SpeakerID = "USER"
)

// IsPersona 报告该标识是否指向某个 persona。
func (s SpeakerID) IsPersona() bool {
	return s != SpeakerNone && s != SpeakerUser
}

// String 实现 fmt.Stringer。
func (s SpeakerID) String() string {
	if s == SpeakerNone {
		return "none"
	}
	return string(s)
}

// Persona 描述一个语音角色。
type Persona struct {
	ID          SpeakerID `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	Aliases     []string  `json:"aliases,omitempty" yaml:"aliases"`
	Voice       string    `json:"voice,omitempty" yaml:"voice"`
	Instruction string    `json:"instruction,omitempty" yaml:"instruction"`
}

// Names 返回用于称呼检测的全部名称（Name + Aliases），去空去重，保持顺序。
func (p Persona) Names() []string {
	seen := make(map[string]struct{}, len(p.Aliases)+1)
	out := make([]string, 0, len(p.Aliases)+1)
	for _, n := range append([]string{p.Name}, p.Aliases...) {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		key := strings.ToLower(n)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, n)
	}
	return out
}

// DisplayName 返回用于提示词的名称，缺省回退到 ID。
func (p Persona) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return string(p.ID)
}
