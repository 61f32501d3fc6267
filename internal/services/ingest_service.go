package services

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	apperrors "github.com/aihub/docqa-go/internal/errors"
	"github.com/aihub/docqa-go/internal/knowledge"
	"github.com/aihub/docqa-go/internal/logger"
)

// IngestResult 一次入库的结果
type IngestResult struct {
	DocumentText string
	ContentHash  string
	Chunks       int
	Rebuilt      bool
}

// CorpusResult 语料目录构建结果
type CorpusResult struct {
	Files   int
	Skipped []string
	Chunks  int
}

// IngestService 文本抽取、分块并按策略重建向量索引
type IngestService struct {
	parser  *knowledge.FileParserManager
	chunker *knowledge.Chunker
	index   *knowledge.VectorIndex
	policy  knowledge.RebuildPolicy
	logger  *zap.Logger
}

// NewIngestService 创建入库服务
func NewIngestService(parser *knowledge.FileParserManager, chunker *knowledge.Chunker, index *knowledge.VectorIndex, policy knowledge.RebuildPolicy) *IngestService {
	return &IngestService{
		parser:  parser,
		chunker: chunker,
		index:   index,
		policy:  policy,
		logger:  logger.Named("ingest"),
	}
}

// Extract 抽取并清洗文本，计算原始字节的内容哈希
func (s *IngestService) Extract(raw *knowledge.RawDocument) (text, contentHash string, err error) {
	extracted, err := s.parser.ExtractText(raw.Bytes, raw.Name)
	if err != nil {
		return "", "", err
	}
	text = knowledge.SanitizeText(extracted)
	if text == "" {
		return "", "", apperrors.NewExtractionError("document contains no text", nil).
			WithDetails(map[string]string{"source": raw.Source})
	}
	return text, knowledge.ContentHash(raw.Bytes), nil
}

// Index 分块并在需要时重建索引，重建后持久化（失败只记日志）
func (s *IngestService) Index(ctx context.Context, text string) (chunks int, rebuilt bool, err error) {
	texts := s.chunker.Texts(text)
	rebuilt, err = s.index.EnsureBuilt(ctx, texts, s.policy)
	if err != nil {
		return len(texts), false, err
	}
	if rebuilt {
		if perr := s.index.Persist(ctx); perr != nil {
			s.logger.Warn("Failed to persist index", zap.Error(perr))
		}
	}
	return len(texts), rebuilt, nil
}

// IngestAndIndex 原始字节到(文本, 内容哈希)，并保证索引可用
func (s *IngestService) IngestAndIndex(ctx context.Context, raw *knowledge.RawDocument) (*IngestResult, error) {
	text, hash, err := s.Extract(raw)
	if err != nil {
		return nil, err
	}
	chunks, rebuilt, err := s.Index(ctx, text)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Document ingested",
		zap.String("source", raw.Source),
		zap.String("content_hash", hash),
		zap.Int("chunks", chunks),
		zap.Bool("rebuilt", rebuilt))
	return &IngestResult{DocumentText: text, ContentHash: hash, Chunks: chunks, Rebuilt: rebuilt}, nil
}

// BuildCorpus 用目录下所有受支持文件的分块重建索引。无法解析的文件跳过。
func (s *IngestService) BuildCorpus(ctx context.Context, dir string) (*CorpusResult, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && knowledge.IsSupportedFile(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, apperrors.NewNotFoundError("corpus directory").WithCause(err).
			WithDetails(map[string]string{"dir": dir})
	}
	sort.Strings(paths)

	result := &CorpusResult{}
	var all []string
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn("Skipping unreadable corpus file", zap.String("file", path), zap.Error(err))
			result.Skipped = append(result.Skipped, path)
			continue
		}
		text, _, err := s.Extract(&knowledge.RawDocument{Source: path, Name: filepath.Base(path), Bytes: data})
		if err != nil {
			s.logger.Warn("Skipping corpus file", zap.String("file", path), zap.Error(err))
			result.Skipped = append(result.Skipped, path)
			continue
		}
		all = append(all, s.chunker.Texts(text)...)
		result.Files++
	}

	if err := s.index.Build(ctx, all); err != nil {
		return nil, err
	}
	if err := s.index.Persist(ctx); err != nil {
		s.logger.Warn("Failed to persist corpus index", zap.Error(err))
	}
	result.Chunks = len(all)

	s.logger.Info("Corpus index built",
		zap.String("dir", dir),
		zap.Int("files", result.Files),
		zap.Int("skipped", len(result.Skipped)),
		zap.Int("chunks", result.Chunks))
	return result, nil
}
