package knowledge

import (
	"context"
	"strings"

	"github.com/stretchr/testify/mock"
)

// conceptEmbedder 每个概念前缀一维，外加一维常量偏置，便于构造确定的相似度
type conceptEmbedder struct {
	concepts []string
}

func newConceptEmbedder(concepts ...string) *conceptEmbedder {
	return &conceptEmbedder{concepts: concepts}
}

func (e *conceptEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, len(e.concepts)+1)
		for _, word := range Keywords(text) {
			for j, concept := range e.concepts {
				if strings.HasPrefix(word, concept) {
					vec[j]++
				}
			}
		}
		vec[len(e.concepts)] = 0.1
		out[i] = vec
	}
	return out, nil
}

func (e *conceptEmbedder) Dimensions() int { return len(e.concepts) + 1 }

func (e *conceptEmbedder) Ready() bool { return true }

// MockEmbedder 模拟向量化服务
type MockEmbedder struct {
	mock.Mock
}

func (m *MockEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([][]float32), args.Error(1)
}

func (m *MockEmbedder) Dimensions() int {
	return m.Called().Int(0)
}

func (m *MockEmbedder) Ready() bool {
	return m.Called().Bool(0)
}

// stubRetriever 返回固定的检索结果
type stubRetriever struct {
	results []SearchResult
	err     error
	panics  bool
}

func (s *stubRetriever) Search(ctx context.Context, query string, k int) ([]SearchResult, error) {
	if s.panics {
		panic("index corrupted")
	}
	if s.err != nil {
		return nil, s.err
	}
	if k < len(s.results) {
		return s.results[:k], nil
	}
	return s.results, nil
}

const insuranceDocument = "Section 1: Coverage. The policy covers hospitalization expenses up to the sum insured for the insured person. " +
	"Section 2: Exclusions. Pre-existing conditions are excluded for the first 24 months."
