package services

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"
	"gorm.io/gorm"

	"github.com/aihub/docqa-go/internal/knowledge"
	"github.com/aihub/docqa-go/internal/models"
	"github.com/aihub/docqa-go/internal/repository"
)

const insuranceDocument = "Section 1: Coverage. The policy covers hospitalization expenses up to the sum insured for the insured person. " +
	"Section 2: Exclusions. Pre-existing conditions are excluded for the first 24 months."

// memDocumentRepo 内存文档仓库，content_hash唯一
type memDocumentRepo struct {
	mu      sync.Mutex
	nextID  uint
	byID    map[uint]*models.Document
	byHash  map[string]uint
	creates int
	// hideFirst 前N次GetByHash假装不存在，用于复现插入竞争
	hideFirst int
	createErr error
}

func newMemDocumentRepo() *memDocumentRepo {
	return &memDocumentRepo{byID: map[uint]*models.Document{}, byHash: map[string]uint{}}
}

func (r *memDocumentRepo) GetDB() *gorm.DB { return nil }

func (r *memDocumentRepo) Create(ctx context.Context, doc *models.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creates++
	if r.createErr != nil {
		return r.createErr
	}
	if _, ok := r.byHash[doc.ContentHash]; ok {
		return repository.ErrDuplicateKey
	}
	r.nextID++
	doc.DocumentID = r.nextID
	stored := *doc
	r.byID[doc.DocumentID] = &stored
	r.byHash[doc.ContentHash] = doc.DocumentID
	return nil
}

func (r *memDocumentRepo) GetByID(ctx context.Context, id uint) (*models.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := *doc
	return &out, nil
}

func (r *memDocumentRepo) GetByHash(ctx context.Context, contentHash string) (*models.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hideFirst > 0 {
		r.hideFirst--
		return nil, repository.ErrNotFound
	}
	id, ok := r.byHash[contentHash]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := *r.byID[id]
	return &out, nil
}

func (r *memDocumentRepo) Count(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.byID)), nil
}

// memSessionRepo 内存问答记录仓库
type memSessionRepo struct {
	mu        sync.Mutex
	sessions  []models.QASession
	createErr error
}

func (r *memSessionRepo) GetDB() *gorm.DB { return nil }

func (r *memSessionRepo) Create(ctx context.Context, session *models.QASession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	session.SessionID = uint(len(r.sessions) + 1)
	r.sessions = append(r.sessions, *session)
	return nil
}

func (r *memSessionRepo) ListByDocument(ctx context.Context, documentID uint, limit int) ([]models.QASession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.QASession
	for i := len(r.sessions) - 1; i >= 0 && len(out) < limit; i-- {
		if r.sessions[i].DocumentID == documentID {
			out = append(out, r.sessions[i])
		}
	}
	return out, nil
}

func (r *memSessionRepo) Count(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.sessions)), nil
}

// memHashCache 内存HashCache
type memHashCache struct {
	mu     sync.Mutex
	values map[string]string
}

func newMemHashCache() *memHashCache {
	return &memHashCache{values: map[string]string{}}
}

func (c *memHashCache) Get(ctx context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	return v, ok, nil
}

func (c *memHashCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
	return nil
}

// conceptEmbedder 每个概念前缀一维，外加一维常量偏置
type conceptEmbedder struct {
	concepts []string
}

func (e *conceptEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, len(e.concepts)+1)
		for _, word := range knowledge.Keywords(text) {
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

// MockGenerator 模拟生成模型
type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

func (m *MockGenerator) Model() string { return "mock-model" }

func (m *MockGenerator) Ready() bool { return true }

// mapFetcher 按来源返回固定字节
type mapFetcher map[string][]byte

func (f mapFetcher) Fetch(ctx context.Context, source string) (*knowledge.RawDocument, error) {
	data, ok := f[source]
	if !ok {
		_, err := knowledge.NewSourceResolver().Fetch(ctx, "/nonexistent/"+source+".txt")
		return nil, err
	}
	return &knowledge.RawDocument{Source: source, Name: source, Bytes: data}, nil
}

// stubClauses 固定的条款检索结果
type stubClauses struct {
	matches map[string][]knowledge.ClauseMatch
	panicOn string
}

func (s *stubClauses) ExtractRelevant(ctx context.Context, documentText, query string) []knowledge.ClauseMatch {
	if query == s.panicOn {
		panic("clause table corrupted")
	}
	return s.matches[query]
}

func (s *stubClauses) Rank(clauses []knowledge.ClauseMatch, query string) []knowledge.ClauseMatch {
	return clauses
}

// newTestPipeline 基于conceptEmbedder和内存仓库组装完整流程
func newTestPipeline(generator *MockGenerator, docs *memDocumentRepo, sessions *memSessionRepo, fetcher DocumentFetcher) (*QueryService, *knowledge.VectorIndex) {
	index := knowledge.NewVectorIndex(&conceptEmbedder{concepts: []string{"exclud", "cover"}}, knowledge.WithReleaseGrace(0))
	chunker, err := knowledge.NewChunker(12, 2)
	if err != nil {
		panic(err)
	}
	ingest := NewIngestService(knowledge.NewFileParserManager(), chunker, index, knowledge.RebuildPerDocument)
	matcher := knowledge.NewClauseMatcher(index, knowledge.DefaultClauseMatcherConfig(), nil)
	qa := NewQAService(matcher, generator, DefaultAnswerConfig())
	cache := NewDocumentCache(docs, sessions, newMemHashCache(), time.Hour)
	return NewQueryService(fetcher, ingest, qa, cache, index, WithModelInfo(generator)), index
}
