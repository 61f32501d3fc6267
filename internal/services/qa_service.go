package services

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	apperrors "github.com/aihub/docqa-go/internal/errors"
	"github.com/aihub/docqa-go/internal/knowledge"
	"github.com/aihub/docqa-go/internal/llm"
	"github.com/aihub/docqa-go/internal/logger"
	"github.com/aihub/docqa-go/internal/metrics"
)

const (
	noRelevantContext     = "No relevant information found."
	generationPlaceholder = "The language model could not process this request. Reason: %v"
	failurePlaceholder    = "Unable to answer: %v"
)

// ClauseSource 条款检索与排序，knowledge.ClauseMatcher实现该接口
type ClauseSource interface {
	ExtractRelevant(ctx context.Context, documentText, query string) []knowledge.ClauseMatch
	Rank(clauses []knowledge.ClauseMatch, query string) []knowledge.ClauseMatch
}

// AnswerConfig 上下文选择参数
type AnswerConfig struct {
	Floor           float64
	MaxClauses      int
	MaxContextChars int
}

// DefaultAnswerConfig 默认参数
func DefaultAnswerConfig() AnswerConfig {
	return AnswerConfig{Floor: 0.6, MaxClauses: 5, MaxContextChars: 8000}
}

// AnswerResult 单个问题的结果。Err非nil时Answer是占位说明。
type AnswerResult struct {
	Question string                  `json:"question"`
	Answer   string                  `json:"answer"`
	Clauses  []knowledge.ClauseMatch `json:"clauses,omitempty"`
	Err      error                   `json:"-"`
}

// QAService 逐题检索条款、组装上下文并调用生成模型
type QAService struct {
	clauses   ClauseSource
	generator llm.Generator
	cfg       AnswerConfig
	logger    *zap.Logger
}

// NewQAService 创建问答服务
func NewQAService(clauses ClauseSource, generator llm.Generator, cfg AnswerConfig) *QAService {
	if cfg.MaxClauses <= 0 {
		cfg.MaxClauses = 5
	}
	return &QAService{
		clauses:   clauses,
		generator: generator,
		cfg:       cfg,
		logger:    logger.Named("qa"),
	}
}

// AnswerAll 与questions等长同序的答案列表
func (s *QAService) AnswerAll(ctx context.Context, questions []string, documentText string) []string {
	results := s.AnswerAllDetailed(ctx, questions, documentText)
	answers := make([]string, len(results))
	for i, r := range results {
		answers[i] = r.Answer
	}
	return answers
}

// AnswerAllDetailed 顺序处理每个问题，单题失败只影响该题
func (s *QAService) AnswerAllDetailed(ctx context.Context, questions []string, documentText string) []AnswerResult {
	results := make([]AnswerResult, len(questions))
	for i, question := range questions {
		results[i] = s.answerOne(ctx, question, documentText)
	}
	return results
}

func (s *QAService) answerOne(ctx context.Context, question, documentText string) (result AnswerResult) {
	result.Question = question
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			s.logger.Error("Question processing panicked", zap.String("question", question), zap.Any("panic", r))
			metrics.Answers.WithLabelValues("failed").Inc()
			result.Answer = fmt.Sprintf(failurePlaceholder, err)
			result.Err = err
		}
	}()

	if err := ctx.Err(); err != nil {
		metrics.Answers.WithLabelValues("failed").Inc()
		result.Answer = fmt.Sprintf(failurePlaceholder, err)
		result.Err = err
		return result
	}

	s.logger.Debug("Answering question",
		zap.String("question", question),
		zap.Any("key_information", llm.ExtractKeyInformation(question)))

	ranked := s.clauses.Rank(s.clauses.ExtractRelevant(ctx, documentText, question), question)
	result.Clauses = s.selectClauses(ranked)

	contextText := knowledge.TruncateForTokenLimit(BuildContext(result.Clauses), s.cfg.MaxContextChars)
	answer, err := s.generator.Generate(ctx, llm.BuildPrompt(question, contextText))
	if err != nil {
		s.logger.Warn("Answer generation failed", zap.String("question", question), zap.Error(err))
		metrics.Answers.WithLabelValues("generation_failed").Inc()
		result.Answer = fmt.Sprintf(generationPlaceholder, err)
		result.Err = apperrors.NewGenerationError("failed to generate answer", err).
			WithDetails(map[string]string{"question": question})
		return result
	}

	metrics.Answers.WithLabelValues("answered").Inc()
	result.Answer = strings.TrimSpace(answer)
	return result
}

// selectClauses 已排序条款中取得分不低于Floor的前MaxClauses条
func (s *QAService) selectClauses(ranked []knowledge.ClauseMatch) []knowledge.ClauseMatch {
	selected := make([]knowledge.ClauseMatch, 0, s.cfg.MaxClauses)
	for _, clause := range ranked {
		if len(selected) == s.cfg.MaxClauses {
			break
		}
		if clause.Score >= s.cfg.Floor {
			selected = append(selected, clause)
		}
	}
	return selected
}

// BuildContext 按排序拼接条款与章节
func BuildContext(clauses []knowledge.ClauseMatch) string {
	if len(clauses) == 0 {
		return noRelevantContext
	}
	parts := make([]string, len(clauses))
	for i, clause := range clauses {
		parts[i] = fmt.Sprintf("Clause %d:\nSection: %s\nText: %s\n", i+1, clause.SourceSection, clause.Content)
	}
	return strings.Join(parts, "\n")
}
