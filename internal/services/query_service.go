package services

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/aihub/docqa-go/internal/errors"
	"github.com/aihub/docqa-go/internal/kafka"
	"github.com/aihub/docqa-go/internal/knowledge"
	"github.com/aihub/docqa-go/internal/logger"
	"github.com/aihub/docqa-go/internal/metrics"
	"github.com/aihub/docqa-go/internal/models"
)

// QueryRequest 一次问答请求
type QueryRequest struct {
	Documents string   `json:"documents" validate:"required"`
	Questions []string `json:"questions" validate:"required,min=1,dive,required"`
}

// QueryResponse 与问题等长同序的答案
type QueryResponse struct {
	Answers    []string `json:"answers"`
	RequestID  string   `json:"-"`
	DocumentID uint     `json:"-"`
	SessionID  uint     `json:"-"`
}

// StatsResponse 服务统计
type StatsResponse struct {
	Documents        int64     `json:"documents"`
	Sessions         int64     `json:"sessions"`
	IndexSize        int       `json:"index_size"`
	IndexFingerprint string    `json:"index_fingerprint"`
	IndexStale       bool      `json:"index_stale"`
	IndexBuiltAt     time.Time `json:"index_built_at,omitempty"`
	Model            string    `json:"model"`
	GeneratorReady   bool      `json:"generator_ready"`
}

// DocumentFetcher 按来源标识读取原始字节
type DocumentFetcher interface {
	Fetch(ctx context.Context, source string) (*knowledge.RawDocument, error)
}

// SessionPublisher 会话事件发布，kafka.Producer实现该接口
type SessionPublisher interface {
	PublishSessionRecorded(ctx context.Context, event *kafka.SessionEvent) error
}

// ModelInfo 生成模型状态
type ModelInfo interface {
	Model() string
	Ready() bool
}

// QueryService 问答主流程：取文档、建索引、逐题作答、落库
type QueryService struct {
	fetcher   DocumentFetcher
	ingest    *IngestService
	qa        *QAService
	cache     *DocumentCache
	index     *knowledge.VectorIndex
	model     ModelInfo
	publisher SessionPublisher
	validate  *validator.Validate
	errs      *apperrors.ErrorTranslator
	logger    *zap.Logger
}

// QueryOption 可选依赖
type QueryOption func(*QueryService)

// WithSessionPublisher 会话落库后发布事件
func WithSessionPublisher(p SessionPublisher) QueryOption {
	return func(s *QueryService) { s.publisher = p }
}

// WithModelInfo 统计中展示生成模型
func WithModelInfo(m ModelInfo) QueryOption {
	return func(s *QueryService) { s.model = m }
}

// NewQueryService 创建问答主流程
func NewQueryService(fetcher DocumentFetcher, ingest *IngestService, qa *QAService, cache *DocumentCache, index *knowledge.VectorIndex, opts ...QueryOption) *QueryService {
	s := &QueryService{
		fetcher:  fetcher,
		ingest:   ingest,
		qa:       qa,
		cache:    cache,
		index:    index,
		validate: validator.New(),
		errs:     apperrors.NewErrorTranslator(),
		logger:   logger.Named("query"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run 处理一次请求。要么返回完整的答案列表，要么整体失败。
func (s *QueryService) Run(ctx context.Context, req *QueryRequest) (resp *QueryResponse, err error) {
	start := time.Now()
	requestID := uuid.NewString()
	log := s.logger.With(zap.String("request_id", requestID))
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
			log.Error("Query failed", zap.Error(err))
		}
		metrics.PipelineDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	}()

	if req == nil {
		return nil, apperrors.NewValidationError("request body is required")
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, s.errs.Translate(err)
	}

	raw, err := s.fetcher.Fetch(ctx, req.Documents)
	if err != nil {
		return nil, err
	}

	contentHash := knowledge.ContentHash(raw.Bytes)
	doc, err := s.cache.Lookup(ctx, contentHash)
	if err != nil {
		return nil, err
	}

	var text string
	if doc != nil {
		text = doc.Content
		log.Debug("Document already known, skipping extraction", zap.Uint("document_id", doc.DocumentID))
	} else {
		if text, contentHash, err = s.ingest.Extract(raw); err != nil {
			return nil, err
		}
	}
	if _, _, err := s.ingest.Index(ctx, text); err != nil {
		return nil, err
	}

	results := s.qa.AnswerAllDetailed(ctx, req.Questions, text)
	answers := make([]string, len(results))
	failed := 0
	for i, r := range results {
		answers[i] = r.Answer
		if r.Err != nil {
			failed++
		}
	}

	if doc == nil {
		if doc, err = s.cache.GetOrCreate(ctx, req.Documents, contentHash, text); err != nil {
			return nil, err
		}
	}
	session, err := s.cache.RecordSession(ctx, doc.DocumentID, req.Questions, answers)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, log, &kafka.SessionEvent{
		RequestID:   requestID,
		SessionID:   session.SessionID,
		DocumentID:  doc.DocumentID,
		ContentHash: contentHash,
		Source:      req.Documents,
		Questions:   len(req.Questions),
		Failed:      failed,
		Timestamp:   session.CreatedAt,
	})

	log.Info("Query answered",
		zap.Uint("document_id", doc.DocumentID),
		zap.Uint("session_id", session.SessionID),
		zap.Int("questions", len(req.Questions)),
		zap.Int("failed", failed),
		zap.Duration("duration", time.Since(start)))

	return &QueryResponse{
		Answers:    answers,
		RequestID:  requestID,
		DocumentID: doc.DocumentID,
		SessionID:  session.SessionID,
	}, nil
}

// publish 事件发布失败不影响请求结果
func (s *QueryService) publish(ctx context.Context, log *zap.Logger, event *kafka.SessionEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishSessionRecorded(ctx, event); err != nil {
		log.Warn("Failed to publish session event", zap.Error(err))
	}
}

// Sessions 文档最近的问答记录
func (s *QueryService) Sessions(ctx context.Context, documentID uint, limit int) ([]models.QASession, error) {
	return s.cache.RecentSessions(ctx, documentID, limit)
}

// Stats 文档、会话与索引状态
func (s *QueryService) Stats(ctx context.Context) (*StatsResponse, error) {
	documents, sessions, err := s.cache.Counts(ctx)
	if err != nil {
		return nil, err
	}
	stats := &StatsResponse{
		Documents:        documents,
		Sessions:         sessions,
		IndexSize:        s.index.Size(),
		IndexFingerprint: s.index.Fingerprint(),
		IndexStale:       s.index.Stale(),
		IndexBuiltAt:     s.index.BuiltAt(),
	}
	if s.model != nil {
		stats.Model = s.model.Model()
		stats.GeneratorReady = s.model.Ready()
	}
	return stats, nil
}
