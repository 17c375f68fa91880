package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cdef-ta-go/internal/config"
	"cdef-ta-go/internal/curriculum"
	"cdef-ta-go/internal/model"
	"cdef-ta-go/internal/repository"
	"cdef-ta-go/internal/session"
	"cdef-ta-go/pkg/llm"
	"cdef-ta-go/pkg/log"
)

// ErrNoActiveQuiz 表示当前会话没有进行中的测验。
var ErrNoActiveQuiz = errors.New("当前会话没有进行中的测验")

// QuizRequest 是一次出题请求。
type QuizRequest struct {
	Unit     string
	Topic    string
	QuizType string
	Count    int
}

// QuizView 是下发给客户端的测验视图。只包含题面与用户自己的选择，
// 永远不包含答案键。
type QuizView struct {
	Unit         string               `json:"unit"`
	Topic        string               `json:"topic"`
	QuizType     string               `json:"quizType"`
	Questions    []model.QuizQuestion `json:"questions"`
	UserAnswers  []*int               `json:"userAnswers"`
	State        session.State        `json:"state"`
	ArtifactName string               `json:"artifactName,omitempty"`
	Report       *model.GradeReport   `json:"report,omitempty"`
}

// QuizService 编排测验流程：出题、作答、上传作答文件、判分。
type QuizService interface {
	Generate(ctx context.Context, userID uint, req QuizRequest) (*QuizView, error)
	Current(ctx context.Context, userID uint) (*QuizView, error)
	// SelectAnswer 记录用户对某道客观题的选择，重复选择覆盖之前的选择。
	SelectAnswer(ctx context.Context, userID uint, questionIndex, choiceIndex int) (*QuizView, error)
	// UploadArtifact 保存作答文件。每个测验最多一个活动文件，替换时释放旧文件。
	UploadArtifact(ctx context.Context, userID uint, fileName, mimeType string, data []byte) (*QuizView, error)
	// Grade 由用户显式触发判分。失败时保留作答文件、停留在等待状态以便重试。
	Grade(ctx context.Context, userID uint) (*model.GradeReport, error)
}

type quizService struct {
	cur         *curriculum.Curriculum
	llmClient   llm.Client
	artifacts   ArtifactStore
	historyRepo repository.HistoryRepository
	index       SearchIndex
	workflow    WorkflowService
	quizCfg     config.QuizConfig
}

// NewQuizService 创建一个新的 QuizService 实例。
func NewQuizService(
	cur *curriculum.Curriculum,
	llmClient llm.Client,
	artifacts ArtifactStore,
	historyRepo repository.HistoryRepository,
	index SearchIndex,
	workflow WorkflowService,
	quizCfg config.QuizConfig,
) QuizService {
	return &quizService{
		cur:         cur,
		llmClient:   llmClient,
		artifacts:   artifacts,
		historyRepo: historyRepo,
		index:       index,
		workflow:    workflow,
		quizCfg:     quizCfg,
	}
}

// Generate 生成一套新测验。生成新测验会整体丢弃上一个测验会话，
// 包括释放其作答文件。
func (s *quizService) Generate(ctx context.Context, userID uint, req QuizRequest) (*QuizView, error) {
	if !s.cur.HasTopic(req.Unit, req.Topic) {
		return nil, fmt.Errorf("未知的单元或主题: %s / %s", req.Unit, req.Topic)
	}
	if req.QuizType != model.QuizTypeObjective && req.QuizType != model.QuizTypeSubjective {
		return nil, fmt.Errorf("未知的测验类型: %s", req.QuizType)
	}
	count := s.clampCount(req.Count)
	choiceCount := s.choiceCount()

	sess := s.workflow.SessionFor(ctx, userID)
	sess.Lock()
	defer sess.Unlock()

	prompt := buildQuizPrompt(req.Unit, req.Topic, req.QuizType, count, choiceCount)
	raw, err := s.llmClient.GenerateContent(ctx, prompt)
	if err != nil {
		return nil, flowErr(GenerationFailure, "出题失败: %w", err)
	}

	questions, err := parseQuizQuestions(raw, req.QuizType, choiceCount)
	if err != nil {
		return nil, flowErr(GenerationFailure, "解析题目失败: %w", err)
	}
	if len(questions) != count {
		return nil, flowErr(GenerationFailure, "要求 %d 道题但生成了 %d 道", count, len(questions))
	}

	// 丢弃上一个测验会话并释放其作答文件
	for _, h := range sess.TakeArtifacts() {
		if err := s.artifacts.Release(ctx, h); err != nil {
			log.Warnf("[Quiz] 释放上一测验的作答文件失败 (%s): %v", h.ObjectName, err)
		}
	}

	sess.Quiz = &session.Quiz{
		Unit:        req.Unit,
		Topic:       req.Topic,
		QuizType:    req.QuizType,
		Questions:   questions,
		RawText:     raw,
		UserAnswers: make([]*int, len(questions)),
	}
	sess.State = session.StateQuizGenerated

	return buildQuizView(sess), nil
}

// Current 返回进行中的测验视图。
func (s *quizService) Current(ctx context.Context, userID uint) (*QuizView, error) {
	sess := s.workflow.SessionFor(ctx, userID)
	sess.Lock()
	defer sess.Unlock()
	if sess.Quiz == nil {
		return nil, ErrNoActiveQuiz
	}
	return buildQuizView(sess), nil
}

// SelectAnswer 记录用户对某道客观题的选择。
func (s *quizService) SelectAnswer(ctx context.Context, userID uint, questionIndex, choiceIndex int) (*QuizView, error) {
	sess := s.workflow.SessionFor(ctx, userID)
	sess.Lock()
	defer sess.Unlock()

	quiz := sess.Quiz
	if quiz == nil {
		return nil, ErrNoActiveQuiz
	}
	if quiz.QuizType != model.QuizTypeObjective {
		return nil, fmt.Errorf("主观题测验不支持选项作答")
	}
	if questionIndex < 0 || questionIndex >= len(quiz.Questions) {
		return nil, fmt.Errorf("题目序号越界: %d", questionIndex)
	}
	if choiceIndex < 0 || choiceIndex >= len(quiz.Questions[questionIndex].Choices) {
		return nil, fmt.Errorf("选项序号越界: %d", choiceIndex)
	}

	choice := choiceIndex
	quiz.UserAnswers[questionIndex] = &choice
	return buildQuizView(sess), nil
}

// UploadArtifact 保存作答文件并使之成为当前测验唯一的活动文件。
func (s *quizService) UploadArtifact(ctx context.Context, userID uint, fileName, mimeType string, data []byte) (*QuizView, error) {
	if !isSupportedArtifact(fileName) {
		return nil, flowErr(ArtifactFailure, "不支持的作答文件类型: %s", fileName)
	}

	sess := s.workflow.SessionFor(ctx, userID)
	sess.Lock()
	defer sess.Unlock()

	quiz := sess.Quiz
	if quiz == nil {
		return nil, ErrNoActiveQuiz
	}
	if sess.State == session.StateQuizGrading {
		return nil, fmt.Errorf("判分进行中，暂不能替换作答文件")
	}

	handle, err := s.artifacts.Save(ctx, userID, fileName, mimeType, data)
	if err != nil {
		return nil, err
	}

	// 新文件保存成功后再释放旧文件：任何时刻最多一个活动文件
	if quiz.Artifact != nil {
		if err := s.artifacts.Release(ctx, quiz.Artifact); err != nil {
			log.Warnf("[Quiz] 释放被替换的作答文件失败 (%s): %v", quiz.Artifact.ObjectName, err)
		}
	}
	quiz.Artifact = handle
	sess.State = session.StateQuizAwaitingArtifact

	return buildQuizView(sess), nil
}

// Grade 判分。题目文本与作答附件交给独立的判卷调用，
// 答案键只存在于判卷调用的输出中。
func (s *quizService) Grade(ctx context.Context, userID uint) (*model.GradeReport, error) {
	sess := s.workflow.SessionFor(ctx, userID)
	sess.Lock()
	defer sess.Unlock()

	quiz := sess.Quiz
	if quiz == nil {
		return nil, ErrNoActiveQuiz
	}
	if quiz.Artifact == nil || sess.State != session.StateQuizAwaitingArtifact {
		return nil, fmt.Errorf("尚未上传作答文件")
	}

	sess.State = session.StateQuizGrading

	data, err := s.artifacts.Fetch(ctx, quiz.Artifact)
	if err != nil {
		// 判分失败：保留作答文件，回到等待状态以便重试
		sess.State = session.StateQuizAwaitingArtifact
		return nil, err
	}

	raw, err := s.llmClient.GenerateContent(ctx, buildGradePrompt(quiz.Questions),
		llm.Attachment{MIMEType: quiz.Artifact.MIMEType, Data: data})
	if err != nil {
		sess.State = session.StateQuizAwaitingArtifact
		return nil, flowErr(GenerationFailure, "判分调用失败: %w", err)
	}

	report := parseGradeReport(raw, len(quiz.Questions))
	quiz.Report = report
	sess.State = session.StateQuizGraded

	// 作答文件已被判卷方消费，释放存储对象
	artifact := quiz.Artifact
	quiz.Artifact = nil
	if err := s.artifacts.Release(ctx, artifact); err != nil {
		log.Warnf("[Quiz] 释放已判分的作答文件失败 (%s): %v", artifact.ObjectName, err)
	}

	summary := fmt.Sprintf("Quiz on %q graded: %.1f/%.1f. %s", quiz.Topic, report.Score, report.Total, report.Summary)
	appendAIMessage(ctx, s.historyRepo, s.index, sess, quiz.Topic, summary)

	return report, nil
}

func (s *quizService) clampCount(count int) int {
	minQ := s.quizCfg.MinQuestions
	maxQ := s.quizCfg.MaxQuestions
	if minQ <= 0 {
		minQ = 5
	}
	if maxQ <= 0 {
		maxQ = 20
	}
	if count < minQ {
		return minQ
	}
	if count > maxQ {
		return maxQ
	}
	return count
}

func (s *quizService) choiceCount() int {
	if s.quizCfg.ChoiceCount > 0 {
		return s.quizCfg.ChoiceCount
	}
	return 4
}

// buildQuizView 构造下发视图。切片均为副本，避免调用方改动会话状态。
func buildQuizView(sess *session.Session) *QuizView {
	quiz := sess.Quiz
	view := &QuizView{
		Unit:        quiz.Unit,
		Topic:       quiz.Topic,
		QuizType:    quiz.QuizType,
		Questions:   append([]model.QuizQuestion(nil), quiz.Questions...),
		UserAnswers: append([]*int(nil), quiz.UserAnswers...),
		State:       sess.State,
		Report:      quiz.Report,
	}
	if quiz.Artifact != nil {
		view.ArtifactName = quiz.Artifact.FileName
	}
	return view
}

// parseQuizQuestions 解析出题输出。
func parseQuizQuestions(raw, quizType string, choiceCount int) ([]model.QuizQuestion, error) {
	body := stripJSONFences(raw)
	var questions []model.QuizQuestion
	if err := json.Unmarshal([]byte(body), &questions); err != nil {
		return nil, fmt.Errorf("题目不是合法的 JSON 数组: %w", err)
	}
	if len(questions) == 0 {
		return nil, errors.New("生成结果不包含任何题目")
	}
	for i, q := range questions {
		if strings.TrimSpace(q.Prompt) == "" {
			return nil, fmt.Errorf("第 %d 题缺少题面", i+1)
		}
		if quizType == model.QuizTypeObjective && len(q.Choices) != choiceCount {
			return nil, fmt.Errorf("第 %d 题选项数量不是 %d", i+1, choiceCount)
		}
		if quizType == model.QuizTypeSubjective && len(q.Choices) != 0 {
			questions[i].Choices = nil
		}
	}
	return questions, nil
}

// parseGradeReport 解析判分输出。解析失败时退化为纯文本摘要，
// 判分流程不因格式问题而失败。
func parseGradeReport(raw string, questionCount int) *model.GradeReport {
	body := stripJSONFences(raw)
	var report model.GradeReport
	if err := json.Unmarshal([]byte(body), &report); err != nil || report.Total == 0 {
		return &model.GradeReport{
			Score:   0,
			Total:   float64(questionCount),
			Summary: strings.TrimSpace(raw),
		}
	}
	if report.Summary == "" {
		report.Summary = "See per-question feedback."
	}
	return &report
}

// 作答文件允许的后缀：图片或 PDF。
var supportedArtifactExts = []string{".png", ".jpg", ".jpeg", ".pdf"}

func isSupportedArtifact(fileName string) bool {
	lower := strings.ToLower(fileName)
	for _, ext := range supportedArtifactExts {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}
