package knowledge

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	// DefaultSectionLabel 文中没有标题时的归属
	DefaultSectionLabel = "Document"
	// UnknownSectionLabel 命中文本在文档中找不到时的归属
	UnknownSectionLabel = "Unknown Section"
)

// SectionRule 标题识别规则，Pattern必须包含一个捕获组作为标签
type SectionRule struct {
	Name    string
	Pattern *regexp.Regexp
}

// Label 从匹配中取出标签
func (r SectionRule) Label(text string, match []int) string {
	if len(match) < 4 || match[2] < 0 {
		return ""
	}
	return strings.TrimSpace(text[match[2]:match[3]])
}

// 清洗后的文本没有换行，标签截止到句末标点
var defaultSectionRules = []SectionRule{
	{Name: "section", Pattern: regexp.MustCompile(`(?i)\bsection\s+\d+[.:]\s*([^.:;\n]+)`)},
	{Name: "article", Pattern: regexp.MustCompile(`(?i)\barticle\s+\d+[.:]\s*([^.:;\n]+)`)},
	{Name: "chapter", Pattern: regexp.MustCompile(`(?i)\bchapter\s+\d+[.:]\s*([^.:;\n]+)`)},
	{Name: "caps_header", Pattern: regexp.MustCompile(`\b([A-Z][A-Z ]*[A-Z]):`)},
	{Name: "numbered_header", Pattern: regexp.MustCompile(`\b(\d+\.\s*[A-Z][^.:;\n]+):`)},
}

// DefaultSectionRules 默认规则表的副本
func DefaultSectionRules() []SectionRule {
	rules := make([]SectionRule, len(defaultSectionRules))
	copy(rules, defaultSectionRules)
	return rules
}

// SectionPattern 可配置的标题规则
type SectionPattern struct {
	Name    string
	Pattern string
}

// CompileSectionRules 按给定顺序编译规则，每个表达式必须恰有一个捕获组
func CompileSectionRules(patterns []SectionPattern) ([]SectionRule, error) {
	rules := make([]SectionRule, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("section rule %q: %w", p.Name, err)
		}
		if re.NumSubexp() != 1 {
			return nil, fmt.Errorf("section rule %q must have exactly one capture group", p.Name)
		}
		rules = append(rules, SectionRule{Name: p.Name, Pattern: re})
	}
	return rules, nil
}

// SectionIdentifier 按规则表推断chunk所属章节
type SectionIdentifier struct {
	rules []SectionRule
}

// NewSectionIdentifier 规则为空时使用默认规则
func NewSectionIdentifier(rules []SectionRule) *SectionIdentifier {
	if len(rules) == 0 {
		rules = DefaultSectionRules()
	}
	return &SectionIdentifier{rules: rules}
}

// Identify 在clause首次出现之前的文本中找最近的标题。
// 起始位置相同时规则表中靠前的规则优先。
func (s *SectionIdentifier) Identify(clause, fullText string) string {
	position := strings.Index(fullText, clause)
	if position < 0 {
		return UnknownSectionLabel
	}
	before := fullText[:position]

	label := DefaultSectionLabel
	bestOffset := -1
	for _, rule := range s.rules {
		matches := rule.Pattern.FindAllStringSubmatchIndex(before, -1)
		for i := len(matches) - 1; i >= 0; i-- {
			candidate := rule.Label(before, matches[i])
			if candidate == "" {
				continue
			}
			if matches[i][0] > bestOffset {
				bestOffset = matches[i][0]
				label = candidate
			}
			break
		}
	}
	return label
}
