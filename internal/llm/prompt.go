package llm

import (
	"fmt"
	"strings"
)

const promptTemplate = `You are an expert document analyzer specializing in insurance, legal, HR and compliance documents.
Your task is to answer questions based ONLY on the provided context from the document.

Guidelines:
1. Answer only based on the provided context.
2. Be precise and specific.
3. Include relevant details like time periods, amounts, and conditions.
4. If the context doesn't contain enough information, say so clearly.
5. Do not make assumptions or add information not in the context.
6. Provide clear, direct answers without unnecessary elaboration.

---
CONTEXT FROM DOCUMENT:
%s

---
QUESTION:
%s

---
ANSWER:`

// BuildPrompt 组装回答模板
func BuildPrompt(question, context string) string {
	return fmt.Sprintf(promptTemplate, context, question)
}

// keyTermCategories 问题关键词分类，顺序固定
var keyTermCategories = []struct {
	name  string
	terms []string
}{
	{"coverage_terms", []string{"cover", "covered", "coverage", "benefit", "included"}},
	{"time_terms", []string{"period", "waiting", "grace", "time", "duration"}},
	{"condition_terms", []string{"condition", "requirement", "eligibility", "terms"}},
	{"exclusion_terms", []string{"exclude", "excluded", "not covered", "limitation"}},
	{"amount_terms", []string{"limit", "amount", "maximum", "minimum", "cost", "premium"}},
}

// ExtractKeyInformation 按类别提取问题中出现的关键词（子串匹配，不区分大小写）
func ExtractKeyInformation(question string) map[string][]string {
	lower := strings.ToLower(question)
	extracted := make(map[string][]string)
	for _, category := range keyTermCategories {
		for _, term := range category.terms {
			if strings.Contains(lower, term) {
				extracted[category.name] = append(extracted[category.name], term)
			}
		}
	}
	return extracted
}
