package optimizer

import (
	"strings"
	"unicode/utf8"
)

// Separators that precede the rewritten prompt in a model reply, in match
// order.
var Separators = []string{
	"优化后的提示词：",
	"优化后：",
	"Optimized prompt:",
	"优化结果：",
	"改进后：",
	"---",
}

// ExtractOptimizedPrompt pulls the rewritten prompt out of a model reply:
// the text after the first separator present, without a surrounding code
// fence or quotes. Without a separator the trimmed reply is returned.
func ExtractOptimizedPrompt(content string) string {
	content = strings.TrimSpace(content)

	for _, sep := range Separators {
		_, after, ok := strings.Cut(content, sep)
		if !ok {
			continue
		}

		out := strings.TrimSpace(after)
		if strings.HasPrefix(out, "```") && strings.HasSuffix(out, "```") {
			if lines := strings.Split(out, "\n"); len(lines) > 2 {
				out = strings.Join(lines[1:len(lines)-1], "\n")
			}
		}
		for _, q := range []string{`"`, "'"} {
			if len(out) >= 2 && strings.HasPrefix(out, q) && strings.HasSuffix(out, q) {
				out = out[1 : len(out)-1]
				break
			}
		}
		return out
	}

	return content
}

// TypeSuggestions holds the fixed suggestions reported for each strategy.
var TypeSuggestions = map[string][]string{
	"general":       {"提升了整体表达的清晰度和准确性", "增加了必要的上下文信息"},
	"structured":    {"采用了结构化的组织形式", "明确了任务步骤和输出格式"},
	"role_based":    {"引入了专业角色设定", "强化了专业背景和能力描述"},
	"task_oriented": {"明确了任务目标和期望结果", "增加了具体的执行指导"},
	"creative":      {"增强了创意性和想象力引导", "鼓励多元化的思考角度"},
	"logical":       {"强化了逻辑推理结构", "增加了分析思考的指导"},
}

// Content-derived suggestions.
const (
	SuggestionMuchLonger = "显著扩展了提示词的详细程度"
	SuggestionLonger     = "适度增加了指导信息"
	SuggestionMarkdown   = "使用了Markdown格式增强可读性"
	SuggestionSteps      = "添加了步骤化的执行指导"
	SuggestionExamples   = "提供了具体的示例说明"
	SuggestionFallback   = "应用了基于模板的智能优化策略"
)

// Suggestions lists the improvements visible in optimized relative to
// original. It is never empty.
func Suggestions(original, optimized, typ string) []string {
	out := append([]string(nil), TypeSuggestions[typ]...)

	origLen := float64(utf8.RuneCountInString(original))
	optLen := float64(utf8.RuneCountInString(optimized))
	switch {
	case optLen > origLen*1.5:
		out = append(out, SuggestionMuchLonger)
	case optLen > origLen*1.2:
		out = append(out, SuggestionLonger)
	}

	if strings.Contains(optimized, "##") || strings.Contains(optimized, "**") {
		out = append(out, SuggestionMarkdown)
	}
	if strings.Contains(optimized, "步骤") || strings.Contains(optimized, "Step") {
		out = append(out, SuggestionSteps)
	}
	if strings.Contains(optimized, "例如") || strings.Contains(optimized, "比如") {
		out = append(out, SuggestionExamples)
	}

	if len(out) == 0 {
		return []string{SuggestionFallback}
	}
	return out
}

// Metrics are keyword and length heuristics over an optimized prompt. Scores
// range from 0 to 10.
type Metrics struct {
	LengthImprovement  float64 `json:"length_improvement"`
	StructureScore     float64 `json:"structure_score"`
	DetailScore        float64 `json:"detail_score"`
	ProfessionalScore  float64 `json:"professional_score"`
	OverallImprovement float64 `json:"overall_improvement"`
}

var (
	structureIndicators    = []string{"##", "**", "1.", "2.", "-", "步骤", "要求"}
	detailIndicators       = []string{"具体", "详细", "例如", "比如", "包括", "需要", "应该"}
	professionalIndicators = []string{"专业", "专家", "分析", "评估", "考虑", "建议"}
)

// score returns the share of indicators present in text, scaled to 10.
func score(text string, indicators []string) float64 {
	hits := 0
	for _, ind := range indicators {
		if strings.Contains(text, ind) {
			hits++
		}
	}
	return min(float64(hits)/float64(len(indicators))*10, 10)
}

// ComputeMetrics scores optimized against original.
func ComputeMetrics(original, optimized string) Metrics {
	ratio := float64(utf8.RuneCountInString(optimized)) / float64(max(utf8.RuneCountInString(original), 1))

	m := Metrics{
		LengthImprovement: (ratio - 1) * 100,
		StructureScore:    score(optimized, structureIndicators),
		DetailScore:       score(optimized, detailIndicators),
		ProfessionalScore: score(optimized, professionalIndicators),
	}
	m.OverallImprovement = m.StructureScore*0.3 + m.DetailScore*0.3 + m.ProfessionalScore*0.4

	return m
}
