package knowledge

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/aihub/docqa-go/internal/logger"
)

const (
	milvusIDField     = "position"
	milvusVectorField = "vector"
	milvusInsertBatch = 1000
)

// MilvusOptions Milvus客户端配置
type MilvusOptions struct {
	Address          string
	Username         string
	Password         string
	Database         string
	CollectionPrefix string
	UseTLS           bool
	HNSWM            int
	EfConstruction   int
	SearchEf         int
	Timeout          time.Duration
}

// MilvusBackend 每次构建写入一个新集合，快照释放时删除集合
type MilvusBackend struct {
	milvusClient client.Client
	opts         MilvusOptions
	seq          atomic.Uint64
	logger       *zap.Logger
}

// NewMilvusBackend 创建Milvus检索后端
func NewMilvusBackend(ctx context.Context, opts MilvusOptions) (*MilvusBackend, error) {
	if opts.Address == "" {
		opts.Address = "localhost:19530"
	}
	if opts.CollectionPrefix == "" {
		opts.CollectionPrefix = "docqa_chunks"
	}
	if opts.Database == "" {
		opts.Database = "default"
	}
	if opts.HNSWM == 0 {
		opts.HNSWM = 8
	}
	if opts.EfConstruction == 0 {
		opts.EfConstruction = 64
	}
	if opts.SearchEf == 0 {
		opts.SearchEf = 64
	}
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}

	dialCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	milvusClient, err := client.NewClient(dialCtx, client.Config{
		Address:       opts.Address,
		DBName:        opts.Database,
		Username:      opts.Username,
		Password:      opts.Password,
		EnableTLSAuth: opts.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	return &MilvusBackend{
		milvusClient: milvusClient,
		opts:         opts,
		logger:       logger.Named("milvus"),
	}, nil
}

func (b *MilvusBackend) Name() string { return "milvus" }

// Close 关闭客户端
func (b *MilvusBackend) Close() error {
	return b.milvusClient.Close()
}

// Build 创建集合、写入向量、建HNSW(IP)索引并加载
func (b *MilvusBackend) Build(ctx context.Context, vectors [][]float32) (Searcher, error) {
	if len(vectors) == 0 {
		return &flatSearcher{}, nil
	}
	dim := len(vectors[0])
	for _, v := range vectors {
		if len(v) != dim {
			return nil, ErrDimensionMismatch
		}
	}

	name := fmt.Sprintf("%s_%d_%d", b.opts.CollectionPrefix, time.Now().Unix(), b.seq.Add(1))
	schema := &entity.Schema{
		CollectionName: name,
		Description:    "document chunk vectors",
		Fields: []*entity.Field{
			{
				Name:       milvusIDField,
				DataType:   entity.FieldTypeInt64,
				PrimaryKey: true,
				AutoID:     false,
			},
			{
				Name:     milvusVectorField,
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": fmt.Sprintf("%d", dim),
				},
			},
		},
	}

	if err := b.milvusClient.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return nil, fmt.Errorf("failed to create collection %s: %w", name, err)
	}

	s := &milvusSearcher{backend: b, collection: name, dim: dim, count: len(vectors)}
	if err := b.populate(ctx, name, dim, vectors); err != nil {
		_ = s.Release(context.Background())
		return nil, err
	}

	b.logger.Info("milvus collection built", zap.String("collection", name), zap.Int("vectors", len(vectors)))
	return s, nil
}

func (b *MilvusBackend) populate(ctx context.Context, name string, dim int, vectors [][]float32) error {
	for start := 0; start < len(vectors); start += milvusInsertBatch {
		end := start + milvusInsertBatch
		if end > len(vectors) {
			end = len(vectors)
		}
		ids := make([]int64, end-start)
		for i := range ids {
			ids[i] = int64(start + i)
		}
		idColumn := entity.NewColumnInt64(milvusIDField, ids)
		vectorColumn := entity.NewColumnFloatVector(milvusVectorField, dim, vectors[start:end])
		if _, err := b.milvusClient.Insert(ctx, name, "", idColumn, vectorColumn); err != nil {
			return fmt.Errorf("milvus insert failed: %w", err)
		}
	}

	if err := b.milvusClient.Flush(ctx, name, false); err != nil {
		return fmt.Errorf("failed to flush collection %s: %w", name, err)
	}

	index, err := entity.NewIndexHNSW(entity.IP, b.opts.HNSWM, b.opts.EfConstruction)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	if err := b.milvusClient.CreateIndex(ctx, name, milvusVectorField, index, false); err != nil {
		return fmt.Errorf("failed to create index for collection %s: %w", name, err)
	}
	if err := b.milvusClient.LoadCollection(ctx, name, false); err != nil {
		return fmt.Errorf("failed to load collection %s: %w", name, err)
	}
	return nil
}

type milvusSearcher struct {
	backend    *MilvusBackend
	collection string
	dim        int
	count      int
	released   atomic.Bool
}

func (s *milvusSearcher) Len() int { return s.count }

func (s *milvusSearcher) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	if len(query) != s.dim {
		return nil, ErrDimensionMismatch
	}
	if k > s.count {
		k = s.count
	}

	sp, err := entity.NewIndexHNSWSearchParam(s.backend.opts.SearchEf)
	if err != nil {
		return nil, err
	}
	results, err := s.backend.milvusClient.Search(
		ctx,
		s.collection,
		[]string{},
		"",
		[]string{milvusIDField},
		[]entity.Vector{entity.FloatVector(query)},
		milvusVectorField,
		entity.IP,
		k,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("milvus search failed: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}
	if results[0].Err != nil {
		return nil, fmt.Errorf("milvus search error: %w", results[0].Err)
	}

	result := results[0]
	idCol, ok := result.IDs.(*entity.ColumnInt64)
	if !ok {
		return nil, fmt.Errorf("unexpected milvus id column type %T", result.IDs)
	}
	ids := idCol.Data()

	hits := make([]Hit, 0, result.ResultCount)
	for i := 0; i < result.ResultCount && i < len(ids) && i < len(result.Scores); i++ {
		hits = append(hits, Hit{Position: int(ids[i]), Score: result.Scores[i]})
	}
	return hits, nil
}

// Release 删除集合，重复调用无副作用
func (s *milvusSearcher) Release(ctx context.Context) error {
	if !s.released.CompareAndSwap(false, true) {
		return nil
	}
	err := s.backend.milvusClient.DropCollection(ctx, s.collection)
	if err != nil && !strings.Contains(err.Error(), "not exist") {
		return fmt.Errorf("failed to drop collection %s: %w", s.collection, err)
	}
	return nil
}
