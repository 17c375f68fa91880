package model

// 测验类型。
const (
	QuizTypeObjective  = "objective"
	QuizTypeSubjective = "subjective"
)

// QuizQuestion 是测验中的一道题。
// 生成侧不持有答案：判分由独立的评卷调用完成，答案键从不下发到客户端。
type QuizQuestion struct {
	Prompt  string   `json:"prompt"`
	Choices []string `json:"choices,omitempty"` // 主观题为空
}

// QuestionFeedback 是判分结果中针对单题的反馈。
type QuestionFeedback struct {
	QuestionIndex int    `json:"questionIndex"`
	Comment       string `json:"comment"`
}

// GradeReport 是一次判分的结构化结果。
type GradeReport struct {
	Score    float64            `json:"score"`
	Total    float64            `json:"total"`
	Feedback []QuestionFeedback `json:"feedback,omitempty"`
	Summary  string             `json:"summary"`
}
