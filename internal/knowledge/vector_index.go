package knowledge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/aihub/docqa-go/internal/errors"
	"github.com/aihub/docqa-go/internal/logger"
	"github.com/aihub/docqa-go/internal/metrics"
)

// RebuildPolicy 索引重建策略
type RebuildPolicy string

const (
	// RebuildOnEmpty 仅在索引为空或被标记失效时重建
	RebuildOnEmpty RebuildPolicy = "on_empty"
	// RebuildPerDocument 语料指纹变化时重建
	RebuildPerDocument RebuildPolicy = "per_document"
)

// ParseRebuildPolicy 未知取值回落到on_empty
func ParseRebuildPolicy(value string) RebuildPolicy {
	if RebuildPolicy(value) == RebuildPerDocument {
		return RebuildPerDocument
	}
	return RebuildOnEmpty
}

// SearchResult 检索结果
type SearchResult struct {
	Text  string
	Score float32
}

// indexSnapshot 不可变快照，texts[i] 对应 vectors[i]
type indexSnapshot struct {
	texts       []string
	vectors     [][]float32
	searcher    Searcher
	fingerprint string
	generation  uint64
	builtAt     time.Time
}

func (s *indexSnapshot) size() int {
	if s == nil {
		return 0
	}
	return len(s.texts)
}

// VectorIndex 向量索引：向量化、归一化、原子替换快照。
// 读者通过原子指针获取快照，重建由buildMu串行化。
type VectorIndex struct {
	embedder     Embedder
	backend      SimilarityBackend
	store        IndexStore
	dimension    int
	releaseGrace time.Duration
	logger       *zap.Logger

	current    atomic.Pointer[indexSnapshot]
	generation atomic.Uint64
	buildMu    sync.Mutex

	// invalidations 每次Invalidate加一；validAt 为最近一次快照构建开始时看到的值。
	// 两者不等即为失效。
	invalidations atomic.Uint64
	validAt       atomic.Uint64
}

// VectorIndexOption 可选配置
type VectorIndexOption func(*VectorIndex)

// WithBackend 设置相似度检索后端
func WithBackend(backend SimilarityBackend) VectorIndexOption {
	return func(v *VectorIndex) {
		if backend != nil {
			v.backend = backend
		}
	}
}

// WithIndexStore 设置持久化存储
func WithIndexStore(store IndexStore) VectorIndexOption {
	return func(v *VectorIndex) { v.store = store }
}

// WithDimension 固定向量维度，0表示取第一次构建的维度
func WithDimension(dim int) VectorIndexOption {
	return func(v *VectorIndex) { v.dimension = dim }
}

// WithReleaseGrace 旧快照检索器的释放延迟
func WithReleaseGrace(d time.Duration) VectorIndexOption {
	return func(v *VectorIndex) { v.releaseGrace = d }
}

// WithIndexLogger 设置日志
func WithIndexLogger(l *zap.Logger) VectorIndexOption {
	return func(v *VectorIndex) {
		if l != nil {
			v.logger = l
		}
	}
}

// NewVectorIndex 创建空索引
func NewVectorIndex(embedder Embedder, opts ...VectorIndexOption) *VectorIndex {
	v := &VectorIndex{
		embedder:     embedder,
		backend:      NewFlatBackend(),
		releaseGrace: 30 * time.Second,
		logger:       logger.Named("vector_index"),
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.dimension == 0 && embedder != nil {
		v.dimension = embedder.Dimensions()
	}
	return v
}

// Size 当前快照的chunk数
func (v *VectorIndex) Size() int {
	return v.current.Load().size()
}

// Stale 是否已被标记失效
func (v *VectorIndex) Stale() bool {
	return v.invalidations.Load() != v.validAt.Load()
}

// Fingerprint 当前快照的语料指纹
func (v *VectorIndex) Fingerprint() string {
	snap := v.current.Load()
	if snap == nil {
		return ""
	}
	return snap.fingerprint
}

// BuiltAt 当前快照构建时间
func (v *VectorIndex) BuiltAt() time.Time {
	snap := v.current.Load()
	if snap == nil {
		return time.Time{}
	}
	return snap.builtAt
}

// Ready 向量化服务可用
func (v *VectorIndex) Ready() bool {
	return v.embedder != nil && v.embedder.Ready()
}

// Invalidate 标记失效，下一次EnsureBuilt会重建。当前快照仍可检索。
// 构建进行中到来的失效不会被该次构建清除。
func (v *VectorIndex) Invalidate() {
	v.invalidations.Add(1)
}

// NeedsRebuild 按策略判断给定语料是否需要重建
func (v *VectorIndex) NeedsRebuild(fingerprint string, policy RebuildPolicy) bool {
	snap := v.current.Load()
	if snap.size() == 0 || v.Stale() {
		return true
	}
	return policy == RebuildPerDocument && snap.fingerprint != fingerprint
}

// EnsureBuilt 需要时用chunks重建索引。拿到构建锁后再次检查，
// 并发的相同请求只会触发一次构建。
func (v *VectorIndex) EnsureBuilt(ctx context.Context, chunks []string, policy RebuildPolicy) (bool, error) {
	fingerprint := CorpusFingerprint(chunks)
	if !v.NeedsRebuild(fingerprint, policy) {
		return false, nil
	}

	v.buildMu.Lock()
	defer v.buildMu.Unlock()

	if !v.NeedsRebuild(fingerprint, policy) {
		return false, nil
	}
	if err := v.buildLocked(ctx, chunks, fingerprint); err != nil {
		return false, err
	}
	return true, nil
}

// Build 计算chunks的向量并原子替换快照。失败时保留旧快照。
func (v *VectorIndex) Build(ctx context.Context, chunks []string) error {
	v.buildMu.Lock()
	defer v.buildMu.Unlock()
	return v.buildLocked(ctx, chunks, CorpusFingerprint(chunks))
}

func (v *VectorIndex) buildLocked(ctx context.Context, chunks []string, fingerprint string) error {
	start := time.Now()
	seen := v.invalidations.Load()
	defer func() { metrics.IndexBuildDuration.Observe(time.Since(start).Seconds()) }()

	texts := make([]string, len(chunks))
	copy(texts, chunks)

	var vectors [][]float32
	if len(texts) > 0 {
		if v.embedder == nil {
			metrics.IndexBuilds.WithLabelValues("embedding_failed").Inc()
			return apperrors.NewEmbeddingError("failed to build index", ErrEmbedderNotConfigured)
		}
		raw, err := v.embedder.Embed(ctx, texts)
		if err == nil {
			vectors, err = v.prepareVectors(raw, len(texts))
		}
		if err != nil {
			metrics.IndexBuilds.WithLabelValues("embedding_failed").Inc()
			v.logger.Error("index build failed, keeping previous snapshot",
				zap.Int("chunks", len(texts)), zap.Error(err))
			return apperrors.NewEmbeddingError("failed to build index", err).
				WithDetails(map[string]int{"chunks": len(texts)})
		}
	}

	if err := v.swap(ctx, texts, vectors, fingerprint, seen); err != nil {
		metrics.IndexBuilds.WithLabelValues("backend_failed").Inc()
		return err
	}

	metrics.IndexBuilds.WithLabelValues("success").Inc()
	v.logger.Info("vector index rebuilt",
		zap.Int("chunks", len(texts)),
		zap.String("backend", v.backend.Name()),
		zap.Duration("took", time.Since(start)))
	return nil
}

// prepareVectors 校验数量和维度并归一化
func (v *VectorIndex) prepareVectors(raw [][]float32, want int) ([][]float32, error) {
	if len(raw) != want {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(raw), want)
	}
	dim := v.dimension
	if dim == 0 && len(raw) > 0 {
		dim = len(raw[0])
	}
	vectors := make([][]float32, len(raw))
	for i, vec := range raw {
		if len(vec) != dim {
			return nil, fmt.Errorf("vector %d has dimension %d, want %d: %w", i, len(vec), dim, ErrDimensionMismatch)
		}
		vectors[i] = Normalize(vec)
	}
	return vectors, nil
}

// swap 构建检索器并替换快照，旧检索器延迟释放。
// seen 是构建开始时的失效计数，之后的Invalidate仍保持失效状态。
func (v *VectorIndex) swap(ctx context.Context, texts []string, vectors [][]float32, fingerprint string, seen uint64) error {
	searcher, err := v.backend.Build(ctx, vectors)
	if err != nil {
		return fmt.Errorf("build %s searcher: %w", v.backend.Name(), err)
	}

	next := &indexSnapshot{
		texts:       texts,
		vectors:     vectors,
		searcher:    searcher,
		fingerprint: fingerprint,
		generation:  v.generation.Add(1),
		builtAt:     time.Now(),
	}
	prev := v.current.Swap(next)
	v.validAt.Store(seen)
	metrics.IndexSize.Set(float64(len(texts)))

	if prev != nil && prev.searcher != nil {
		v.releaseLater(prev)
	}
	return nil
}

func (v *VectorIndex) releaseLater(prev *indexSnapshot) {
	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := prev.searcher.Release(ctx); err != nil {
			v.logger.Warn("failed to release previous index snapshot",
				zap.Uint64("generation", prev.generation), zap.Error(err))
		}
	}
	if v.releaseGrace <= 0 {
		release()
		return
	}
	time.AfterFunc(v.releaseGrace, release)
}

// Search 返回至多min(k, size)条结果，分数非增。空索引返回空结果。
func (v *VectorIndex) Search(ctx context.Context, query string, k int) ([]SearchResult, error) {
	snap := v.current.Load()
	if snap.size() == 0 || k <= 0 {
		metrics.IndexSearches.WithLabelValues("empty").Inc()
		return []SearchResult{}, nil
	}

	if v.embedder == nil {
		metrics.IndexSearches.WithLabelValues("error").Inc()
		return nil, apperrors.NewEmbeddingError("failed to embed query", ErrEmbedderNotConfigured)
	}
	raw, err := v.embedder.Embed(ctx, []string{query})
	if err != nil || len(raw) != 1 {
		metrics.IndexSearches.WithLabelValues("error").Inc()
		if err == nil {
			err = fmt.Errorf("embedder returned %d vectors for query", len(raw))
		}
		return nil, apperrors.NewEmbeddingError("failed to embed query", err)
	}

	hits, err := snap.searcher.Search(ctx, Normalize(raw[0]), k)
	if err != nil {
		metrics.IndexSearches.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("search snapshot %d: %w", snap.generation, err)
	}

	results := make([]SearchResult, 0, len(hits))
	for _, hit := range hits {
		if hit.Position < 0 || hit.Position >= len(snap.texts) {
			continue
		}
		results = append(results, SearchResult{Text: snap.texts[hit.Position], Score: hit.Score})
	}
	metrics.IndexSearches.WithLabelValues("hit").Inc()
	return results, nil
}

// Persist 把当前快照写入IndexStore
func (v *VectorIndex) Persist(ctx context.Context) error {
	if v.store == nil {
		return nil
	}
	snap := v.current.Load()
	if snap == nil {
		snap = &indexSnapshot{}
	}
	if err := v.store.Save(ctx, snap.vectors, snap.texts); err != nil {
		return fmt.Errorf("persist index to %s: %w", v.store.Location(), err)
	}
	v.logger.Info("vector index persisted",
		zap.String("location", v.store.Location()),
		zap.Int("chunks", snap.size()))
	return nil
}

// Reload 从IndexStore载入文件对。文件对不存在、损坏或数量不一致时
// 回落为空索引并返回原因。
func (v *VectorIndex) Reload(ctx context.Context) error {
	if v.store == nil {
		return ErrIndexNotFound
	}

	v.buildMu.Lock()
	defer v.buildMu.Unlock()

	seen := v.invalidations.Load()
	vectors, texts, err := v.store.Load(ctx)
	if err == nil && v.dimension > 0 && len(vectors) > 0 && len(vectors[0]) != v.dimension {
		err = fmt.Errorf("persisted dimension %d, want %d: %w", len(vectors[0]), v.dimension, ErrDimensionMismatch)
	}
	if err != nil {
		if swapErr := v.swap(ctx, nil, nil, "", seen); swapErr != nil {
			return errors.Join(err, swapErr)
		}
		return err
	}

	if err := v.swap(ctx, texts, vectors, CorpusFingerprint(texts), seen); err != nil {
		return err
	}
	v.logger.Info("vector index reloaded",
		zap.String("location", v.store.Location()),
		zap.Int("chunks", len(texts)))
	return nil
}
