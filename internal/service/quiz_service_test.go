package service_test

import (
	"context"
	"errors"
	"testing"

	"cdef-ta-go/internal/config"
	"cdef-ta-go/internal/curriculum"
	"cdef-ta-go/internal/model"
	"cdef-ta-go/internal/service"
	"cdef-ta-go/internal/session"
	"cdef-ta-go/pkg/llm"
)

const objectiveQuizJSON = `[
  {"prompt": "Which layer sits closest to the end device?", "choices": ["Cloud", "Fog", "Edge", "Dew"]},
  {"prompt": "What does SaaS stand for?", "choices": ["Software as a Service", "Storage as a Service", "Security as a Service", "Systems as a Service"]},
  {"prompt": "Which platform is a public IaaS offering?", "choices": ["Amazon EC2", "CloudSim", "iFogSim", "Meghraj"]},
  {"prompt": "Dew computing primarily targets?", "choices": ["Offline-first operation", "GPU clusters", "Mainframes", "Tape storage"]},
  {"prompt": "Fog computing extends which paradigm?", "choices": ["Cloud computing", "Grid computing", "Quantum computing", "Batch computing"]}
]`

const gradeReportJSON = `{
  "score": 4,
  "total": 5,
  "summary": "Good grasp of the layered model, revise SaaS terminology.",
  "feedback": [
    {"questionIndex": 0, "comment": "Correct."},
    {"questionIndex": 1, "comment": "Mixed up storage and software."}
  ]
}`

type quizFixture struct {
	*workflowFixture
	quiz service.QuizService
}

func newQuizFixture() *quizFixture {
	wf := newWorkflowFixture()
	return &quizFixture{
		workflowFixture: wf,
		quiz: service.NewQuizService(
			curriculum.Load(config.CurriculumConfig{}),
			wf.llm, wf.artifacts, wf.history, wf.index, wf.workflow,
			config.QuizConfig{MinQuestions: 5, MaxQuestions: 20, ChoiceCount: 4},
		),
	}
}

func (f *quizFixture) generateObjectiveQuiz(t *testing.T, userID uint) *service.QuizView {
	t.Helper()
	f.llm.generateFunc = func(string, []llm.Attachment) (string, error) {
		return objectiveQuizJSON, nil
	}
	view, err := f.quiz.Generate(context.Background(), userID, service.QuizRequest{
		Unit:     testUnit,
		Topic:    testTopic,
		QuizType: model.QuizTypeObjective,
		Count:    5,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	return view
}

func TestGenerateQuizProducesAnswerSlotsPerQuestion(t *testing.T) {
	f := newQuizFixture()
	view := f.generateObjectiveQuiz(t, 1)

	if len(view.Questions) != 5 {
		t.Fatalf("question count = %d, want 5", len(view.Questions))
	}
	if len(view.UserAnswers) != len(view.Questions) {
		t.Fatalf("user answers length = %d, want %d", len(view.UserAnswers), len(view.Questions))
	}
	for i, a := range view.UserAnswers {
		if a != nil {
			t.Fatalf("answer slot %d should start unanswered", i)
		}
	}
	if view.State != session.StateQuizGenerated {
		t.Fatalf("state = %q, want %q", view.State, session.StateQuizGenerated)
	}
}

func TestGenerateQuizRejectsMalformedOutput(t *testing.T) {
	f := newQuizFixture()
	f.llm.generateFunc = func(string, []llm.Attachment) (string, error) {
		return "Sure! Here are some questions...", nil
	}

	_, err := f.quiz.Generate(context.Background(), 1, service.QuizRequest{
		Unit: testUnit, Topic: testTopic, QuizType: model.QuizTypeObjective, Count: 5,
	})
	if err == nil {
		t.Fatal("expected parse failure")
	}
	if kind, ok := service.KindOf(err); !ok || kind != service.GenerationFailure {
		t.Fatalf("error kind = %v, want GenerationFailure", kind)
	}
}

func TestSelectAnswerPreservesOtherChoices(t *testing.T) {
	f := newQuizFixture()
	f.generateObjectiveQuiz(t, 1)
	ctx := context.Background()

	if _, err := f.quiz.SelectAnswer(ctx, 1, 0, 2); err != nil {
		t.Fatalf("SelectAnswer: %v", err)
	}
	if _, err := f.quiz.SelectAnswer(ctx, 1, 3, 1); err != nil {
		t.Fatalf("SelectAnswer: %v", err)
	}
	// 覆盖第 0 题的选择
	view, err := f.quiz.SelectAnswer(ctx, 1, 0, 3)
	if err != nil {
		t.Fatalf("SelectAnswer: %v", err)
	}

	if got := view.UserAnswers[0]; got == nil || *got != 3 {
		t.Fatalf("answer 0 = %v, want 3", got)
	}
	if got := view.UserAnswers[3]; got == nil || *got != 1 {
		t.Fatalf("answer 3 = %v, want 1", got)
	}
	if view.UserAnswers[1] != nil || view.UserAnswers[2] != nil || view.UserAnswers[4] != nil {
		t.Fatal("untouched slots must stay unanswered")
	}
}

func TestSelectAnswerBounds(t *testing.T) {
	f := newQuizFixture()
	f.generateObjectiveQuiz(t, 1)
	ctx := context.Background()

	if _, err := f.quiz.SelectAnswer(ctx, 1, 9, 0); err == nil {
		t.Fatal("expected question index bounds error")
	}
	if _, err := f.quiz.SelectAnswer(ctx, 1, 0, 7); err == nil {
		t.Fatal("expected choice index bounds error")
	}
}

func TestUploadArtifactSupersedesPrevious(t *testing.T) {
	f := newQuizFixture()
	f.generateObjectiveQuiz(t, 1)
	ctx := context.Background()

	first, err := f.quiz.UploadArtifact(ctx, 1, "draft.png", "image/png", []byte("first"))
	if err != nil {
		t.Fatalf("UploadArtifact: %v", err)
	}
	if first.State != session.StateQuizAwaitingArtifact {
		t.Fatalf("state = %q, want %q", first.State, session.StateQuizAwaitingArtifact)
	}

	second, err := f.quiz.UploadArtifact(ctx, 1, "final.pdf", "application/pdf", []byte("second"))
	if err != nil {
		t.Fatalf("UploadArtifact: %v", err)
	}
	if second.ArtifactName != "final.pdf" {
		t.Fatalf("artifact name = %q, want final.pdf", second.ArtifactName)
	}
	if len(f.artifacts.released) != 1 {
		t.Fatalf("released %d artifacts, want 1 (the superseded upload)", len(f.artifacts.released))
	}

	// 判分只拿得到第二个文件的内容
	var graderInput []byte
	f.llm.generateFunc = func(_ string, attachments []llm.Attachment) (string, error) {
		if len(attachments) != 1 {
			t.Fatalf("grader attachments = %d, want 1", len(attachments))
		}
		graderInput = attachments[0].Data
		return gradeReportJSON, nil
	}
	if _, err := f.quiz.Grade(ctx, 1); err != nil {
		t.Fatalf("Grade: %v", err)
	}
	if string(graderInput) != "second" {
		t.Fatalf("grader saw %q, want the second upload", graderInput)
	}
}

func TestUploadArtifactRejectsUnsupportedType(t *testing.T) {
	f := newQuizFixture()
	f.generateObjectiveQuiz(t, 1)

	_, err := f.quiz.UploadArtifact(context.Background(), 1, "answers.exe", "application/octet-stream", []byte("nope"))
	if err == nil {
		t.Fatal("expected artifact type rejection")
	}
	if kind, ok := service.KindOf(err); !ok || kind != service.ArtifactFailure {
		t.Fatalf("error kind = %v, want ArtifactFailure", kind)
	}
}

func TestGradeAppendsSummaryAndReleasesArtifact(t *testing.T) {
	f := newQuizFixture()
	f.generateObjectiveQuiz(t, 1)
	ctx := context.Background()

	if _, err := f.quiz.UploadArtifact(ctx, 1, "answers.jpg", "image/jpeg", []byte("scan")); err != nil {
		t.Fatalf("UploadArtifact: %v", err)
	}

	f.llm.generateFunc = func(string, []llm.Attachment) (string, error) {
		return gradeReportJSON, nil
	}
	report, err := f.quiz.Grade(ctx, 1)
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	if report.Score != 4 || report.Total != 5 {
		t.Fatalf("report = %.1f/%.1f, want 4/5", report.Score, report.Total)
	}

	view, err := f.quiz.Current(ctx, 1)
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if view.State != session.StateQuizGraded {
		t.Fatalf("state = %q, want %q", view.State, session.StateQuizGraded)
	}
	if view.ArtifactName != "" {
		t.Fatal("graded quiz should no longer hold an artifact")
	}
	if len(f.artifacts.objects) != 0 {
		t.Fatal("artifact object should be released after grading")
	}

	messages, _ := f.workflow.History(ctx, 1)
	if len(messages) != 1 {
		t.Fatalf("history length = %d, want 1 (the grade summary)", len(messages))
	}
	if messages[0].Role != model.RoleAI {
		t.Fatalf("summary role = %q, want %q", messages[0].Role, model.RoleAI)
	}
}

func TestGradeFailureKeepsArtifactForRetry(t *testing.T) {
	f := newQuizFixture()
	f.generateObjectiveQuiz(t, 1)
	ctx := context.Background()

	if _, err := f.quiz.UploadArtifact(ctx, 1, "answers.png", "image/png", []byte("scan")); err != nil {
		t.Fatalf("UploadArtifact: %v", err)
	}

	f.llm.generateFunc = func(string, []llm.Attachment) (string, error) {
		return "", errors.New("service unavailable")
	}
	if _, err := f.quiz.Grade(ctx, 1); err == nil {
		t.Fatal("expected grading failure")
	}

	view, err := f.quiz.Current(ctx, 1)
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if view.State != session.StateQuizAwaitingArtifact {
		t.Fatalf("state = %q, want %q", view.State, session.StateQuizAwaitingArtifact)
	}
	if view.ArtifactName == "" {
		t.Fatal("artifact must be retained for retry")
	}
	if messages, _ := f.workflow.History(ctx, 1); len(messages) != 0 {
		t.Fatal("failed grading must not append a summary")
	}

	// 重试成功
	f.llm.generateFunc = func(string, []llm.Attachment) (string, error) {
		return gradeReportJSON, nil
	}
	if _, err := f.quiz.Grade(ctx, 1); err != nil {
		t.Fatalf("retry Grade: %v", err)
	}
}

func TestGradeToleratesNonJSONReport(t *testing.T) {
	f := newQuizFixture()
	f.generateObjectiveQuiz(t, 1)
	ctx := context.Background()

	if _, err := f.quiz.UploadArtifact(ctx, 1, "answers.png", "image/png", []byte("scan")); err != nil {
		t.Fatalf("UploadArtifact: %v", err)
	}

	f.llm.generateFunc = func(string, []llm.Attachment) (string, error) {
		return "You scored well overall, but question two needs work.", nil
	}
	report, err := f.quiz.Grade(ctx, 1)
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	if report.Summary == "" {
		t.Fatal("fallback report should carry the raw text as summary")
	}
	if report.Total != 5 {
		t.Fatalf("fallback total = %.1f, want 5", report.Total)
	}
}

func TestNewQuizDiscardsPreviousQuizAndArtifact(t *testing.T) {
	f := newQuizFixture()
	f.generateObjectiveQuiz(t, 1)
	ctx := context.Background()

	if _, err := f.quiz.UploadArtifact(ctx, 1, "old.png", "image/png", []byte("old")); err != nil {
		t.Fatalf("UploadArtifact: %v", err)
	}

	view := f.generateObjectiveQuiz(t, 1)
	if view.ArtifactName != "" {
		t.Fatal("new quiz must not inherit the previous artifact")
	}
	if len(f.artifacts.objects) != 0 {
		t.Fatal("previous artifact object should be released")
	}
	for i, a := range view.UserAnswers {
		if a != nil {
			t.Fatalf("answer slot %d should be reset", i)
		}
	}
}

func TestSubjectiveQuizHasNoChoices(t *testing.T) {
	f := newQuizFixture()
	f.llm.generateFunc = func(string, []llm.Attachment) (string, error) {
		return `[{"prompt": "Explain dew computing in your own words."},
			{"prompt": "Compare fog and edge computing."},
			{"prompt": "Describe one QoS issue in the cloud."},
			{"prompt": "What problems does multi-tenancy introduce?"},
			{"prompt": "Outline the MICEF layers."}]`, nil
	}

	view, err := f.quiz.Generate(context.Background(), 1, service.QuizRequest{
		Unit: testUnit, Topic: testTopic, QuizType: model.QuizTypeSubjective, Count: 5,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	for i, q := range view.Questions {
		if len(q.Choices) != 0 {
			t.Fatalf("subjective question %d should have no choices", i)
		}
	}

	if _, err := f.quiz.SelectAnswer(context.Background(), 1, 0, 0); err == nil {
		t.Fatal("subjective quizzes must reject choice answers")
	}
}

func TestGenerateQuizRejectsWrongQuestionCount(t *testing.T) {
	f := newQuizFixture()
	f.llm.generateFunc = func(string, []llm.Attachment) (string, error) {
		// 只有 3 道题，少于要求的 5 道
		return `[{"prompt": "Q1", "choices": ["A", "B", "C", "D"]},
			{"prompt": "Q2", "choices": ["A", "B", "C", "D"]},
			{"prompt": "Q3", "choices": ["A", "B", "C", "D"]}]`, nil
	}

	_, err := f.quiz.Generate(context.Background(), 1, service.QuizRequest{
		Unit: testUnit, Topic: testTopic, QuizType: model.QuizTypeObjective, Count: 5,
	})
	if err == nil {
		t.Fatal("expected rejection when question count differs from the request")
	}
	if kind, ok := service.KindOf(err); !ok || kind != service.GenerationFailure {
		t.Fatalf("error kind = %v, want GenerationFailure", kind)
	}
}

func TestReloginReleasesPreviousSessionArtifact(t *testing.T) {
	f := newQuizFixture()
	ctx := context.Background()
	f.generateObjectiveQuiz(t, 1)

	if _, err := f.quiz.UploadArtifact(ctx, 1, "answers.pdf", "application/pdf", []byte("scan")); err != nil {
		t.Fatalf("UploadArtifact: %v", err)
	}
	if len(f.artifacts.objects) != 1 {
		t.Fatalf("stored %d objects, want 1", len(f.artifacts.objects))
	}

	// 未登出直接重新登录：旧会话被顶替，其作答文件必须被释放
	f.workflow.StartSession(ctx, 1)
	f.workflow.EndSession(ctx, 1)

	if len(f.artifacts.objects) != 0 {
		t.Fatalf("leaked %d artifact object(s) after re-login and logout", len(f.artifacts.objects))
	}
	if len(f.artifacts.released) != 1 {
		t.Fatalf("released %d artifacts, want 1", len(f.artifacts.released))
	}
}
