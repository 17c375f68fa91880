package service

import (
	"fmt"
	"strings"

	"cdef-ta-go/internal/model"
)

// 提示词模板。判分与出题是两次独立调用：出题侧从不产生答案键，
// 答案键只存在于判分调用的输出里，因此不会经过客户端。

const doubtScopeInstruction = "The question should be based around cloud computing. " +
	"If it is not, then respond: I can only answer questions related to Cloud, Dew, Edge, Fog computing."

// buildDoubtPrompt 将用户的问题原样转发，并附加领域限定指令。
func buildDoubtPrompt(question string) string {
	return fmt.Sprintf("Answer this question: %s\n%s", question, doubtScopeInstruction)
}

// buildNotesPrompt 组装笔记生成提示词。
func buildNotesPrompt(topic string, wordTarget int, contextText, instructions string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Generate detailed notes on %s of approximately %d words.", topic, wordTarget)
	if contextText != "" {
		b.WriteString(" Use the following reference material as the knowledge base. " +
			"If the topic is not covered by the material, generate from your own knowledge. " +
			"Do not copy the material verbatim; rephrase and restructure it.\n\n" +
			"Reference material:\n")
		b.WriteString(contextText)
	}
	if instructions != "" {
		fmt.Fprintf(&b, "\n\nAdditional instructions: %s", instructions)
	}
	return b.String()
}

// buildQuizPrompt 组装出题提示词。合同要求：恰好 N 道题，不得附带答案。
func buildQuizPrompt(unit, topic, quizType string, count, choiceCount int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Generate a %s quiz on the topic %q (%s) with exactly %d questions. ", quizType, topic, unit, count)
	b.WriteString("Do not include the answers or any answer key. ")
	if quizType == model.QuizTypeObjective {
		fmt.Fprintf(&b, "Each question must have exactly %d answer choices. ", choiceCount)
		b.WriteString(`Respond with a JSON array only, no surrounding text, where each element is {"prompt": "...", "choices": ["...", "..."]}.`)
	} else {
		b.WriteString(`Respond with a JSON array only, no surrounding text, where each element is {"prompt": "..."}.`)
	}
	return b.String()
}

// buildGradePrompt 组装判分提示词。题目文本与作答附件一并交给判卷方。
func buildGradePrompt(questions []model.QuizQuestion) string {
	var b strings.Builder
	b.WriteString("Grade the attached answers against the following questions. " +
		"Each question is worth one mark. ")
	b.WriteString(`Respond with JSON only: {"score": <number>, "total": <number>, ` +
		`"summary": "...", "feedback": [{"questionIndex": <0-based>, "comment": "..."}]}.` + "\n\nQuestions:\n")
	for i, q := range questions {
		fmt.Fprintf(&b, "%d. %s\n", i+1, q.Prompt)
		for j, c := range q.Choices {
			fmt.Fprintf(&b, "   %c) %s\n", 'A'+j, c)
		}
	}
	return b.String()
}

// stripJSONFences 去除模型输出中常见的 Markdown 代码围栏，返回 JSON 主体。
func stripJSONFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
			trimmed = trimmed[:idx]
		}
	}
	return strings.TrimSpace(trimmed)
}
