package compose

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Ellipsis 是 Compress 截断时追加的省略标记。
const Ellipsis = "…"

// connectorFallbackMinRunes 无句末标点的文本达到该长度才按连接词切分。
const connectorFallbackMinRunes = 120

// clauseConnectors 是无句末标点时使用的从句切分点。
// 标点类连接符切在标点之后，词类连接符切在词之前。
var clauseConnectors = []string{
	", ", "; ",
	" 그리고 ", " 그래서 ", " 하지만 ", " 그런데 ",
	" and then ", " but ", " so ",
}

// Config 控制一次播报的压缩与分块上限。
type Config struct {
	ChunkMaxSentences    int
	ChunkMaxChars        int
	CompressMaxChars     int
	CompressMaxSentences int
}

// DefaultConfig 返回默认的播报整形配置
func DefaultConfig() Config {
	return Config{
		ChunkMaxSentences:    1,
		ChunkMaxChars:        180,
		CompressMaxChars:     300,
		CompressMaxSentences: 3,
	}
}

// Plan 按是否分块返回待播报的文本序列。不分块时结果至多一条。
func Plan(text string, split bool, cfg Config) []string {
	if split {
		return Chunk(text, cfg.ChunkMaxSentences, cfg.ChunkMaxChars)
	}
	if out := Compress(text, cfg.CompressMaxChars, cfg.CompressMaxSentences); out != "" {
		return []string{out}
	}
	return nil
}

func isTerminal(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？', '…', '\n':
		return true
	}
	return false
}

func isClosing(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '”', '’', '」', '』':
		return true
	}
	return false
}

// SplitSentences 按句末标点切句。非空输入至少返回一个非空片段。
func SplitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	runes := []rune(text)
	var (
		out         []string
		start       int
		sawTerminal bool
	)
	for i := 0; i < len(runes); i++ {
		if !isTerminal(runes[i]) {
			continue
		}
		end := i + 1
		for end < len(runes) && (isTerminal(runes[end]) || isClosing(runes[end])) {
			end++
		}
		if runes[i] != '\n' && end < len(runes) && !unicode.IsSpace(runes[end]) {
			// "3.5" 或 "e.g" 之类的句内标点
			i = end - 1
			continue
		}
		sawTerminal = true
		if seg := strings.TrimSpace(string(runes[start:end])); seg != "" {
			out = append(out, seg)
		}
		start = end
		i = end - 1
	}
	if start < len(runes) {
		if seg := strings.TrimSpace(string(runes[start:])); seg != "" {
			out = append(out, seg)
		}
	}

	if !sawTerminal && len(runes) >= connectorFallbackMinRunes {
		out = splitClauses(text)
	}
	if len(out) == 0 {
		return []string{text}
	}
	return out
}

// splitClauses 按 clauseConnectors 切分，总是取最靠前的连接点。
func splitClauses(text string) []string {
	var out []string
	rest := text
	for {
		cut := -1
		for _, c := range clauseConnectors {
			idx := strings.Index(rest, c)
			if idx <= 0 {
				continue
			}
			at := idx
			if !isWordConnector(c) {
				at = idx + len(strings.TrimRight(c, " "))
			}
			if cut < 0 || at < cut {
				cut = at
			}
		}
		if cut <= 0 {
			break
		}
		if seg := strings.TrimSpace(rest[:cut]); seg != "" {
			out = append(out, seg)
		}
		rest = rest[cut:]
	}
	if seg := strings.TrimSpace(rest); seg != "" {
		out = append(out, seg)
	}
	return out
}

func isWordConnector(c string) bool {
	r, _ := utf8.DecodeRuneInString(strings.TrimSpace(c))
	return unicode.IsLetter(r)
}

// HardWrap 把超过 maxChars 的文本切成不超过 maxChars 的片段。
// 优先在限制前最后一个空格处切，找不到合适空格时在限制处硬切。
func HardWrap(text string, maxChars int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if maxChars <= 0 {
		return []string{text}
	}

	var out []string
	runes := []rune(text)
	for len(runes) > maxChars {
		cut := lastSpaceBefore(runes, maxChars)
		var piece []rune
		if cut >= maxChars/2 && cut > 0 {
			piece = runes[:cut]
			runes = runes[cut+1:]
		} else {
			piece = runes[:maxChars]
			runes = runes[maxChars:]
		}
		if seg := strings.TrimSpace(string(piece)); seg != "" {
			out = append(out, seg)
		}
		runes = []rune(strings.TrimLeftFunc(string(runes), unicode.IsSpace))
	}
	if seg := strings.TrimSpace(string(runes)); seg != "" {
		out = append(out, seg)
	}
	return out
}

// lastSpaceBefore 返回 runes[:limit+1] 中最后一个空白的位置，没有时返回 -1。
func lastSpaceBefore(runes []rune, limit int) int {
	if limit >= len(runes) {
		limit = len(runes) - 1
	}
	for i := limit; i >= 0; i-- {
		if unicode.IsSpace(runes[i]) {
			return i
		}
	}
	return -1
}

// Compress 贪心累积至多 maxSentences 句且总长不超过 maxChars。
// 一句都放不下时截断第一句并追加 Ellipsis。
func Compress(text string, maxChars, maxSentences int) string {
	sentences := SplitSentences(text)
	if len(sentences) == 0 {
		return ""
	}
	if maxSentences <= 0 {
		maxSentences = len(sentences)
	}

	var b strings.Builder
	count := 0
	for _, s := range sentences {
		if count == maxSentences {
			break
		}
		n := runeLen(s)
		if b.Len() > 0 {
			n += runeLen(b.String()) + 1
		}
		if maxChars > 0 && n > maxChars {
			break
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(s)
		count++
	}
	if b.Len() > 0 {
		return b.String()
	}

	limit := maxChars - utf8.RuneCountInString(Ellipsis)
	if limit <= 0 {
		return Ellipsis
	}
	head := []rune(sentences[0])
	if len(head) > limit {
		head = head[:limit]
	}
	return strings.TrimRightFunc(string(head), unicode.IsSpace) + Ellipsis
}

// Chunk 与 Compress 同样贪心累积，但输出分块序列；超长单句先经 HardWrap 切开。
// 每次调用都从头计算，不保留状态。
func Chunk(text string, maxSentences, maxChars int) []string {
	sentences := SplitSentences(text)
	if len(sentences) == 0 {
		return nil
	}
	if maxSentences <= 0 {
		maxSentences = 1
	}

	units := make([]string, 0, len(sentences))
	for _, s := range sentences {
		if maxChars > 0 && runeLen(s) > maxChars {
			units = append(units, HardWrap(s, maxChars)...)
			continue
		}
		units = append(units, s)
	}

	var (
		chunks  []string
		current strings.Builder
		curLen  int
		count   int
	)
	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
		}
		current.Reset()
		curLen, count = 0, 0
	}
	for _, u := range units {
		n := runeLen(u)
		if count > 0 && (count >= maxSentences || (maxChars > 0 && curLen+1+n > maxChars)) {
			flush()
		}
		if count > 0 {
			current.WriteByte(' ')
			curLen++
		}
		current.WriteString(u)
		curLen += n
		count++
	}
	flush()
	return chunks
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
