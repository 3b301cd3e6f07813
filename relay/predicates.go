package relay

import (
	"strings"
	"unicode"

	"github.com/BaSui01/voicefloor/types"
)

// AddressPredicate 返回 persona 在 text 中首次被称呼的位置（字节偏移），未被称呼时返回 -1
type AddressPredicate func(text string, p types.Persona) int

// QuestionPredicate 判断一段发言是否以提问结束
type QuestionPredicate func(text string) bool

// DefaultQuestionSuffixes 韩语常见的疑问句尾
var DefaultQuestionSuffixes = []string{"까요", "나요", "습니까", "을까", "ㄹ까", "죠"}

// MentionIndex 大小写不敏感地查找 persona 的名称或别名
func MentionIndex(text string, p types.Persona) int {
	lower := strings.ToLower(text)
	best := -1
	for _, name := range p.Names() {
		if i := strings.Index(lower, strings.ToLower(name)); i >= 0 && (best < 0 || i < best) {
			best = i
		}
	}
	return best
}

// EndsWithQuestion 以问号或指定句尾结束的发言视为提问
func EndsWithQuestion(suffixes []string) QuestionPredicate {
	return func(text string) bool {
		t := strings.TrimRightFunc(text, func(r rune) bool {
			return unicode.IsSpace(r) || strings.ContainsRune(`"'”’)」』`, r)
		})
		if t == "" {
			return false
		}
		if strings.HasSuffix(t, "?") || strings.HasSuffix(t, "？") {
			return true
		}
		t = strings.TrimRight(t, ".!。！…~")
		for _, s := range suffixes {
			if s != "" && strings.HasSuffix(t, s) {
				return true
			}
		}
		return false
	}
}
