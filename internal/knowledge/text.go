package knowledge

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
)

// SanitizeText 折叠空白、去除NUL字节
func SanitizeText(text string) string {
	text = strings.ReplaceAll(text, "\x00", "")
	return strings.Join(strings.Fields(text), " ")
}

// ContentHash 原始字节的sha256十六进制摘要，作为文档缓存键
func ContentHash(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// CorpusFingerprint 对chunk序列计算指纹，用于判断索引是否对应同一语料
func CorpusFingerprint(chunks []string) string {
	h := sha256.New()
	for _, chunk := range chunks {
		h.Write([]byte(chunk))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// TruncateForTokenLimit 将上下文限制在maxChars个字符内。
// 截断点之后80%范围内有句号时在句号处截断，否则追加省略号。
func TruncateForTokenLimit(text string, maxChars int) string {
	runes := []rune(text)
	if maxChars <= 0 || len(runes) <= maxChars {
		return text
	}

	truncated := runes[:maxChars]
	lastPeriod := -1
	for i := len(truncated) - 1; i >= 0; i-- {
		if truncated[i] == '.' {
			lastPeriod = i
			break
		}
	}
	if float64(lastPeriod) > float64(maxChars)*0.8 {
		return string(truncated[:lastPeriod+1])
	}
	return string(truncated) + "..."
}

// ValidateSource 判断来源标识是否可被SourceResolver处理
func ValidateSource(source string) bool {
	source = strings.TrimSpace(source)
	if source == "" {
		return false
	}
	for _, prefix := range []string{"http://", "https://", "file://", "s3://"} {
		if strings.HasPrefix(source, prefix) {
			return true
		}
	}
	return IsSupportedFile(filepath.Base(source))
}
