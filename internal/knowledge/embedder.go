package knowledge

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// ErrEmbedderNotConfigured 未配置向量化服务
var ErrEmbedderNotConfigured = errors.New("embedding provider not configured")

// Embedder 定义文本向量化接口，每个输入返回一个固定维度向量
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Ready() bool
}

// NoopEmbedder 默认占位实现
type NoopEmbedder struct{}

func (n *NoopEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, ErrEmbedderNotConfigured
}

func (n *NoopEmbedder) Dimensions() int {
	return 0
}

func (n *NoopEmbedder) Ready() bool {
	return false
}

var embeddingDimensions = map[string]int{
	"text-embedding-3-large": 3072,
	"text-embedding-3-small": 1536,
	"text-embedding-ada-002": 1536,
}

// OpenAIEmbedderConfig OpenAI兼容接口配置
type OpenAIEmbedderConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
	BatchSize  int
}

// OpenAIEmbedder 使用OpenAI（或兼容服务）的Embedding API
type OpenAIEmbedder struct {
	client        *openai.Client
	model         string
	dimensions    int
	requestedDims int
	batchSize     int
}

// NewOpenAIEmbedder 创建OpenAI嵌入向量生成器，没有API Key时返回NoopEmbedder
func NewOpenAIEmbedder(cfg OpenAIEmbedderConfig) Embedder {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return &NoopEmbedder{}
	}
	model := cfg.Model
	if model == "" {
		model = "text-embedding-3-small"
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	dims, ok := embeddingDimensions[model]
	if !ok {
		dims = 1536
	}
	requested := 0
	if cfg.Dimensions > 0 && cfg.Dimensions != dims {
		requested = cfg.Dimensions
		dims = cfg.Dimensions
	}

	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 64
	}

	return &OpenAIEmbedder{
		client:        openai.NewClientWithConfig(clientCfg),
		model:         model,
		dimensions:    dims,
		requestedDims: requested,
		batchSize:     batch,
	}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if e.client == nil {
		return nil, errors.New("openai client not initialized")
	}

	result := make([][]float32, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}

		resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Model:      openai.EmbeddingModel(e.model),
			Input:      texts[start:end],
			Dimensions: e.requestedDims,
		})
		if err != nil {
			return nil, fmt.Errorf("create embeddings [%d:%d]: %w", start, end, err)
		}
		if len(resp.Data) != end-start {
			return nil, fmt.Errorf("embedding response size %d, want %d", len(resp.Data), end-start)
		}

		for _, item := range resp.Data {
			if item.Index < 0 || item.Index >= end-start {
				return nil, fmt.Errorf("embedding response index %d out of range", item.Index)
			}
			vec := make([]float32, len(item.Embedding))
			copy(vec, item.Embedding)
			result[start+item.Index] = vec
		}
	}

	return result, nil
}

func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimensions
}

func (e *OpenAIEmbedder) Ready() bool {
	return e.client != nil
}

// HashingEmbedder 离线特征哈希向量化：小写词经FNV哈希落入固定维度。
// 用于无外部模型的部署和本地语料预热。
type HashingEmbedder struct {
	dimensions int
}

// NewHashingEmbedder 创建哈希向量化器
func NewHashingEmbedder(dimensions int) *HashingEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &HashingEmbedder{dimensions: dimensions}
}

func (h *HashingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	result := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vec := make([]float32, h.dimensions)
		for _, word := range Keywords(text) {
			hasher := fnv.New32a()
			_, _ = hasher.Write([]byte(word))
			sum := hasher.Sum32()
			sign := float32(1)
			if sum&1 == 1 {
				sign = -1
			}
			vec[int(sum>>1)%h.dimensions] += sign
		}
		result[i] = vec
	}
	return result, nil
}

func (h *HashingEmbedder) Dimensions() int {
	return h.dimensions
}

func (h *HashingEmbedder) Ready() bool {
	return true
}
