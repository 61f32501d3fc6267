package knowledge

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/aihub/docqa-go/internal/errors"
)

func newTestIndex(embedder Embedder, opts ...VectorIndexOption) *VectorIndex {
	opts = append([]VectorIndexOption{WithReleaseGrace(0)}, opts...)
	return NewVectorIndex(embedder, opts...)
}

var fruitChunks = []string{
	"apple orchard harvest",
	"banana plantation",
	"apple pie recipe with apple slices",
	"cherry blossom",
}

func TestVectorIndex_SearchEmpty(t *testing.T) {
	idx := newTestIndex(newConceptEmbedder("apple"))

	results, err := idx.Search(context.Background(), "apple", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, 0, idx.Size())
}

func TestVectorIndex_BuildAndSearch(t *testing.T) {
	idx := newTestIndex(newConceptEmbedder("apple", "banana", "cherry"))
	ctx := context.Background()
	require.NoError(t, idx.Build(ctx, fruitChunks))
	assert.Equal(t, 4, idx.Size())

	results, err := idx.Search(ctx, "apple", 10)
	require.NoError(t, err)
	require.Len(t, results, 4, "k larger than corpus returns the whole corpus")

	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
	assert.Contains(t, []string{fruitChunks[0], fruitChunks[2]}, results[0].Text)
	assert.InDelta(t, 1.0, results[0].Score, 0.01)

	top2, err := idx.Search(ctx, "banana", 2)
	require.NoError(t, err)
	require.Len(t, top2, 2)
	assert.Equal(t, "banana plantation", top2[0].Text)
}

func TestVectorIndex_BuildIdempotent(t *testing.T) {
	ctx := context.Background()
	a := newTestIndex(newConceptEmbedder("apple", "banana", "cherry"))
	b := newTestIndex(newConceptEmbedder("apple", "banana", "cherry"))
	require.NoError(t, a.Build(ctx, fruitChunks))
	require.NoError(t, b.Build(ctx, fruitChunks))
	require.NoError(t, b.Build(ctx, fruitChunks))

	for _, q := range []string{"apple", "cherry blossom", "banana apple"} {
		ra, err := a.Search(ctx, q, 3)
		require.NoError(t, err)
		rb, err := b.Search(ctx, q, 3)
		require.NoError(t, err)
		assert.Equal(t, ra, rb, q)
	}
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
}

func TestVectorIndex_BuildFailureKeepsSnapshot(t *testing.T) {
	ctx := context.Background()
	embedder := new(MockEmbedder)
	embedder.On("Dimensions").Return(2)
	embedder.On("Embed", mock.Anything, []string{"one", "two"}).
		Return([][]float32{{1, 0}, {0, 1}}, nil).Once()
	embedder.On("Embed", mock.Anything, []string{"three"}).
		Return(nil, errors.New("model unavailable")).Once()
	embedder.On("Embed", mock.Anything, []string{"query"}).
		Return([][]float32{{1, 0}}, nil)

	idx := newTestIndex(embedder)
	require.NoError(t, idx.Build(ctx, []string{"one", "two"}))

	err := idx.Build(ctx, []string{"three"})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeEmbeddingFailed))

	assert.Equal(t, 2, idx.Size())
	results, err := idx.Search(ctx, "query", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "one", results[0].Text)
	embedder.AssertExpectations(t)
}

func TestVectorIndex_BuildRejectsWrongDimension(t *testing.T) {
	embedder := new(MockEmbedder)
	embedder.On("Dimensions").Return(3)
	embedder.On("Embed", mock.Anything, mock.Anything).Return([][]float32{{1, 0}}, nil)

	idx := newTestIndex(embedder)
	err := idx.Build(context.Background(), []string{"x"})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeEmbeddingFailed))
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Equal(t, 0, idx.Size())
}

func TestVectorIndex_EnsureBuilt_Policies(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(newConceptEmbedder("apple", "banana"))

	built, err := idx.EnsureBuilt(ctx, []string{"apple one"}, RebuildOnEmpty)
	require.NoError(t, err)
	assert.True(t, built)

	// on_empty: 非空且未失效时不重建
	built, err = idx.EnsureBuilt(ctx, []string{"banana two"}, RebuildOnEmpty)
	require.NoError(t, err)
	assert.False(t, built)
	assert.Equal(t, CorpusFingerprint([]string{"apple one"}), idx.Fingerprint())

	idx.Invalidate()
	assert.True(t, idx.Stale())
	built, err = idx.EnsureBuilt(ctx, []string{"banana two"}, RebuildOnEmpty)
	require.NoError(t, err)
	assert.True(t, built)
	assert.False(t, idx.Stale())

	// per_document: 指纹不同则重建，相同则跳过
	built, err = idx.EnsureBuilt(ctx, []string{"banana two"}, RebuildPerDocument)
	require.NoError(t, err)
	assert.False(t, built)
	built, err = idx.EnsureBuilt(ctx, []string{"apple three"}, RebuildPerDocument)
	require.NoError(t, err)
	assert.True(t, built)
}

func TestVectorIndex_InvalidateDuringBuildSurvives(t *testing.T) {
	ctx := context.Background()
	embedder := new(MockEmbedder)
	embedder.On("Dimensions").Return(2).Maybe()
	idx := newTestIndex(embedder)

	embedder.On("Embed", mock.Anything, []string{"old"}).
		Run(func(mock.Arguments) { idx.Invalidate() }).
		Return([][]float32{{1, 0}}, nil).Once()
	embedder.On("Embed", mock.Anything, []string{"new"}).
		Return([][]float32{{0, 1}}, nil).Once()

	built, err := idx.EnsureBuilt(ctx, []string{"old"}, RebuildOnEmpty)
	require.NoError(t, err)
	assert.True(t, built)
	assert.True(t, idx.Stale())

	built, err = idx.EnsureBuilt(ctx, []string{"new"}, RebuildOnEmpty)
	require.NoError(t, err)
	assert.True(t, built)
	assert.False(t, idx.Stale())

	built, err = idx.EnsureBuilt(ctx, []string{"new"}, RebuildOnEmpty)
	require.NoError(t, err)
	assert.False(t, built)
	embedder.AssertExpectations(t)
}

func TestVectorIndex_PersistReload(t *testing.T) {
	ctx := context.Background()
	prefix := filepath.Join(t.TempDir(), "faiss_index")
	embedder := newConceptEmbedder("apple", "banana", "cherry")

	idx := newTestIndex(embedder, WithIndexStore(NewFileIndexStore(prefix)))
	require.NoError(t, idx.Build(ctx, fruitChunks))
	require.NoError(t, idx.Persist(ctx))

	want, err := idx.Search(ctx, "cherry", 4)
	require.NoError(t, err)

	reloaded := newTestIndex(embedder, WithIndexStore(NewFileIndexStore(prefix)))
	require.NoError(t, reloaded.Reload(ctx))
	assert.Equal(t, 4, reloaded.Size())
	assert.Equal(t, idx.Fingerprint(), reloaded.Fingerprint())

	got, err := reloaded.Search(ctx, "cherry", 4)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestVectorIndex_ReloadMismatchFallsBackToEmpty(t *testing.T) {
	ctx := context.Background()
	prefix := filepath.Join(t.TempDir(), "idx")
	embedder := newConceptEmbedder("apple")

	idx := newTestIndex(embedder, WithIndexStore(NewFileIndexStore(prefix)))
	require.NoError(t, idx.Build(ctx, []string{"apple a", "apple b"}))
	require.NoError(t, idx.Persist(ctx))

	// 文本文件被替换成只有一条
	require.NoError(t, os.WriteFile(prefix+".texts", []byte(`["apple a"]`), 0o644))

	err := idx.Reload(ctx)
	assert.ErrorIs(t, err, ErrIndexMismatch)
	assert.Equal(t, 0, idx.Size())

	results, err := idx.Search(ctx, "apple", 3)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestVectorIndex_ReloadMissing(t *testing.T) {
	idx := newTestIndex(newConceptEmbedder("apple"),
		WithIndexStore(NewFileIndexStore(filepath.Join(t.TempDir(), "none"))))
	err := idx.Reload(context.Background())
	assert.ErrorIs(t, err, ErrIndexNotFound)
	assert.Equal(t, 0, idx.Size())
}

func TestVectorIndex_ConcurrentSearchDuringRebuild(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(newConceptEmbedder("alpha", "beta"))

	setA := []string{"alpha one", "alpha two", "alpha three"}
	setB := []string{"beta one", "beta two", "beta three", "beta four", "beta five"}
	require.NoError(t, idx.Build(ctx, setA))

	inSet := func(text string, set []string) bool {
		for _, s := range set {
			if s == text {
				return true
			}
		}
		return false
	}

	var wg sync.WaitGroup
	for w := 0; w < 2; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				set := setA
				if (i+w)%2 == 0 {
					set = setB
				}
				assert.NoError(t, idx.Build(ctx, set))
			}
		}(w)
	}

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				results, err := idx.Search(ctx, "alpha beta", 10)
				if !assert.NoError(t, err) {
					return
				}
				// 结果只能完整来自某一个快照
				if len(results) == len(setA) {
					for _, res := range results {
						assert.True(t, inSet(res.Text, setA), res.Text)
					}
				} else {
					assert.Len(t, results, len(setB))
					for _, res := range results {
						assert.True(t, inSet(res.Text, setB), res.Text)
					}
				}
			}
		}()
	}
	wg.Wait()
}

func TestNormalize(t *testing.T) {
	v := Normalize([]float32{3, 4})
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	zero := Normalize([]float32{0, 0})
	assert.Equal(t, []float32{0, 0}, zero)
}

func TestHashingEmbedder_Deterministic(t *testing.T) {
	e := NewHashingEmbedder(64)
	ctx := context.Background()

	a, err := e.Embed(ctx, []string{"Waiting period of 30 days", "waiting PERIOD of 30 days!"})
	require.NoError(t, err)
	require.Len(t, a, 2)
	assert.Len(t, a[0], 64)
	assert.Equal(t, a[0], a[1], "case and punctuation do not change the vector")
	assert.True(t, e.Ready())
}
