package knowledge

import (
	"errors"
	"strings"
)

// ErrInvalidChunkConfig 分块参数不满足 0 < overlap < size
var ErrInvalidChunkConfig = errors.New("chunk overlap must be positive and smaller than chunk size")

// Chunk 表示分块后的文本结构
type Chunk struct {
	Index int
	Text  string
}

// Chunker 按词窗口切分文本，相邻窗口共享 overlap 个词
type Chunker struct {
	chunkSize    int
	chunkOverlap int
}

// NewChunker 创建分块器
func NewChunker(chunkSize, overlap int) (*Chunker, error) {
	if overlap <= 0 || overlap >= chunkSize {
		return nil, ErrInvalidChunkConfig
	}
	return &Chunker{
		chunkSize:    chunkSize,
		chunkOverlap: overlap,
	}, nil
}

// Split 将文本切分为多个chunk，空文本返回nil
func (c *Chunker) Split(text string) []Chunk {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	step := c.chunkSize - c.chunkOverlap
	chunks := make([]Chunk, 0, c.expectedCount(len(words)))

	for start := 0; start < len(words); start += step {
		end := start + c.chunkSize
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, Chunk{
			Index: len(chunks),
			Text:  strings.Join(words[start:end], " "),
		})
		if end == len(words) {
			break
		}
	}

	return chunks
}

// Texts 只返回chunk文本
func (c *Chunker) Texts(text string) []string {
	chunks := c.Split(text)
	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}
	return texts
}

// expectedCount ceil((n - overlap) / (size - overlap))，不足overlap时仍为1
func (c *Chunker) expectedCount(wordCount int) int {
	if wordCount <= c.chunkOverlap {
		return 1
	}
	step := c.chunkSize - c.chunkOverlap
	return (wordCount - c.chunkOverlap + step - 1) / step
}

// ChunkWords 便捷函数
func ChunkWords(text string, chunkSize, overlap int) ([]string, error) {
	chunker, err := NewChunker(chunkSize, overlap)
	if err != nil {
		return nil, err
	}
	return chunker.Texts(text), nil
}
