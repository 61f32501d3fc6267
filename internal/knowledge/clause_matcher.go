package knowledge

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/aihub/docqa-go/internal/logger"
	"github.com/aihub/docqa-go/internal/metrics"
)

// ClauseMatch 候选条款：文本、综合得分和推断的章节
type ClauseMatch struct {
	Content        string  `json:"content"`
	Score          float64 `json:"score"`
	SemanticScore  float64 `json:"semantic_score"`
	KeywordOverlap int     `json:"keyword_overlap"`
	SourceSection  string  `json:"source_section"`
}

// Retriever 语义检索，VectorIndex实现该接口
type Retriever interface {
	Search(ctx context.Context, query string, k int) ([]SearchResult, error)
}

// DefaultKeywordPatterns 条款关键词
var DefaultKeywordPatterns = []string{
	`(?i)(coverage|covered|covers|benefit|benefits)`,
	`(?i)(waiting period|wait time|period)`,
	`(?i)(condition|conditions|terms|requirements)`,
	`(?i)(exclusion|excluded|not covered)`,
	`(?i)(limit|limits|maximum|minimum)`,
	`(?i)(premium|payment|cost)`,
	`(?i)(claim|claims|reimbursement)`,
	`(?i)(policy|policies|plan)`,
}

var sentenceBoundary = regexp.MustCompile(`[.!?]+`)

// ClauseMatcherConfig 条款抽取与排序参数
type ClauseMatcherConfig struct {
	MinSentenceLength int
	TopN              int
	SimilarityFloor   float64
	SemanticWeight    float64
	KeywordWeight     float64
	KeywordPatterns   []*regexp.Regexp
	SectionRules      []SectionRule
}

// DefaultClauseMatcherConfig 默认参数
func DefaultClauseMatcherConfig() ClauseMatcherConfig {
	patterns, _ := CompileKeywordPatterns(DefaultKeywordPatterns)
	return ClauseMatcherConfig{
		MinSentenceLength: 20,
		TopN:              10,
		SimilarityFloor:   0.3,
		SemanticWeight:    0.7,
		KeywordWeight:     0.1,
		KeywordPatterns:   patterns,
		SectionRules:      DefaultSectionRules(),
	}
}

// CompileKeywordPatterns 编译关键词表达式
func CompileKeywordPatterns(exprs []string) ([]*regexp.Regexp, error) {
	patterns := make([]*regexp.Regexp, 0, len(exprs))
	for _, expr := range exprs {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("keyword pattern %q: %w", expr, err)
		}
		patterns = append(patterns, re)
	}
	return patterns, nil
}

// ClauseMatcher 条款抽取与混合排序
type ClauseMatcher struct {
	retriever Retriever
	cfg       ClauseMatcherConfig
	sections  *SectionIdentifier
	logger    *zap.Logger
}

// NewClauseMatcher 创建条款匹配器
func NewClauseMatcher(retriever Retriever, cfg ClauseMatcherConfig, l *zap.Logger) *ClauseMatcher {
	if l == nil {
		l = logger.Named("clause_matcher")
	}
	return &ClauseMatcher{
		retriever: retriever,
		cfg:       cfg,
		sections:  NewSectionIdentifier(cfg.SectionRules),
		logger:    l,
	}
}

// ExtractRelevant 语义检索top-N，丢弃不高于阈值的命中并推断章节。
// 检索失败或panic时返回空结果，不中断问答流程。
func (m *ClauseMatcher) ExtractRelevant(ctx context.Context, documentText, query string) (matches []ClauseMatch) {
	defer func() {
		if r := recover(); r != nil {
			metrics.ClauseExtractionFailures.Inc()
			m.logger.Error("clause extraction panicked", zap.Any("panic", r))
			matches = []ClauseMatch{}
		}
	}()

	candidates := m.FilterByPatterns(m.SplitSentences(documentText))

	results, err := m.retriever.Search(ctx, query, m.cfg.TopN)
	if err != nil {
		metrics.ClauseExtractionFailures.Inc()
		m.logger.Error("failed to extract clauses", zap.String("query", query), zap.Error(err))
		return []ClauseMatch{}
	}

	matches = make([]ClauseMatch, 0, len(results))
	for _, result := range results {
		score := float64(result.Score)
		if score <= m.cfg.SimilarityFloor {
			continue
		}
		matches = append(matches, ClauseMatch{
			Content:       result.Text,
			Score:         score,
			SemanticScore: score,
			SourceSection: m.sections.Identify(result.Text, documentText),
		})
	}

	m.logger.Debug("clauses extracted",
		zap.String("query", query),
		zap.Int("pattern_candidates", len(candidates)),
		zap.Int("index_hits", len(results)),
		zap.Int("kept", len(matches)))
	return matches
}

// Rank 综合得分 = 语义权重×语义分 + 关键词权重×关键词重叠数，稳定降序。
// 重叠按小写后以空白切分的词集合计算，标点保留在词上。
func (m *ClauseMatcher) Rank(clauses []ClauseMatch, query string) []ClauseMatch {
	queryWords := wordSet(query)

	ranked := make([]ClauseMatch, len(clauses))
	for i, clause := range clauses {
		overlap := 0
		for word := range wordSet(clause.Content) {
			if _, ok := queryWords[word]; ok {
				overlap++
			}
		}
		clause.KeywordOverlap = overlap
		clause.Score = m.cfg.SemanticWeight*clause.SemanticScore + m.cfg.KeywordWeight*float64(overlap)
		ranked[i] = clause
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked
}

// SplitSentences 按句末标点切分，去掉短于MinSentenceLength的片段
func (m *ClauseMatcher) SplitSentences(text string) []string {
	parts := sentenceBoundary.Split(text, -1)
	sentences := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" || utf8.RuneCountInString(part) < m.cfg.MinSentenceLength {
			continue
		}
		sentences = append(sentences, part)
	}
	return sentences
}

// FilterByPatterns 保留命中任一关键词规则的句子
func (m *ClauseMatcher) FilterByPatterns(sentences []string) []string {
	filtered := make([]string, 0, len(sentences))
	for _, sentence := range sentences {
		for _, pattern := range m.cfg.KeywordPatterns {
			if pattern.MatchString(sentence) {
				filtered = append(filtered, sentence)
				break
			}
		}
	}
	return filtered
}

// IdentifySection 推断文本所属章节
func (m *ClauseMatcher) IdentifySection(clause, fullText string) string {
	return m.sections.Identify(clause, fullText)
}

// Keywords 小写、去除首尾标点后的词
func Keywords(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	words := make([]string, 0, len(fields))
	for _, field := range fields {
		word := strings.TrimFunc(field, func(r rune) bool {
			return unicode.IsPunct(r) || unicode.IsSymbol(r)
		})
		if word != "" {
			words = append(words, word)
		}
	}
	return words
}

func wordSet(text string) map[string]struct{} {
	words := strings.Fields(strings.ToLower(text))
	set := make(map[string]struct{}, len(words))
	for _, word := range words {
		set[word] = struct{}{}
	}
	return set
}
