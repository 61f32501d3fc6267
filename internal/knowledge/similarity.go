package knowledge

import (
	"context"
	"errors"
	"math"
	"sort"
)

// ErrDimensionMismatch 查询向量与索引维度不一致
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Hit 相似度检索命中，Position为向量在快照中的下标
type Hit struct {
	Position int
	Score    float32
}

// Searcher 一次构建得到的只读检索器，与索引快照生命周期一致
type Searcher interface {
	Search(ctx context.Context, query []float32, k int) ([]Hit, error)
	Len() int
	Release(ctx context.Context) error
}

// SimilarityBackend 相似度检索后端
type SimilarityBackend interface {
	Name() string
	Build(ctx context.Context, vectors [][]float32) (Searcher, error)
}

// FlatBackend 进程内暴力内积检索
type FlatBackend struct{}

// NewFlatBackend 创建暴力检索后端
func NewFlatBackend() *FlatBackend {
	return &FlatBackend{}
}

func (b *FlatBackend) Name() string { return "flat" }

func (b *FlatBackend) Build(ctx context.Context, vectors [][]float32) (Searcher, error) {
	dim := 0
	if len(vectors) > 0 {
		dim = len(vectors[0])
	}
	for _, v := range vectors {
		if len(v) != dim {
			return nil, ErrDimensionMismatch
		}
	}
	return &flatSearcher{vectors: vectors, dim: dim}, nil
}

type flatSearcher struct {
	vectors [][]float32
	dim     int
}

func (s *flatSearcher) Len() int { return len(s.vectors) }

func (s *flatSearcher) Release(ctx context.Context) error { return nil }

// Search 按内积降序返回至多k条，分数相同按下标升序
func (s *flatSearcher) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	if k <= 0 || len(s.vectors) == 0 {
		return nil, nil
	}
	if len(query) != s.dim {
		return nil, ErrDimensionMismatch
	}

	hits := make([]Hit, len(s.vectors))
	for i, v := range s.vectors {
		hits[i] = Hit{Position: i, Score: dot(v, query)}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})

	if k > len(hits) {
		k = len(hits)
	}
	return hits[:k], nil
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// Normalize 返回L2归一化后的副本，零向量原样返回
func Normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		copy(out, v)
		return out
	}
	inv := float32(1 / math.Sqrt(norm))
	for i, x := range v {
		out[i] = x * inv
	}
	return out
}
