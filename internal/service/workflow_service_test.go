package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"cdef-ta-go/internal/config"
	"cdef-ta-go/internal/curriculum"
	"cdef-ta-go/internal/model"
	"cdef-ta-go/internal/service"
	"cdef-ta-go/internal/session"
	"cdef-ta-go/pkg/llm"
)

// --- fakes ---

type fakeLLM struct {
	generateFunc func(prompt string, attachments []llm.Attachment) (string, error)
	streamFunc   func(prompt string, writer llm.MessageWriter) (string, error)
	prompts      []string
}

func (f *fakeLLM) GenerateContent(_ context.Context, prompt string, attachments ...llm.Attachment) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if f.generateFunc == nil {
		return "generated answer", nil
	}
	return f.generateFunc(prompt, attachments)
}

func (f *fakeLLM) StreamGenerate(_ context.Context, prompt string, writer llm.MessageWriter) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if f.streamFunc == nil {
		return "streamed answer", nil
	}
	return f.streamFunc(prompt, writer)
}

type fakeHistoryRepo struct {
	store      map[uint][]model.ChatMessage
	appendErr  error
	loadErr    error
	clearErr   error
	clearCalls int
}

func newFakeHistoryRepo() *fakeHistoryRepo {
	return &fakeHistoryRepo{store: map[uint][]model.ChatMessage{}}
}

func (f *fakeHistoryRepo) Append(_ context.Context, userID uint, msg model.ChatMessage) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.store[userID] = append(f.store[userID], msg)
	return nil
}

func (f *fakeHistoryRepo) Load(_ context.Context, userID uint) ([]model.ChatMessage, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return append([]model.ChatMessage(nil), f.store[userID]...), nil
}

func (f *fakeHistoryRepo) Clear(_ context.Context, userID uint) error {
	f.clearCalls++
	if f.clearErr != nil {
		return f.clearErr
	}
	delete(f.store, userID)
	return nil
}

type fakeDocs struct {
	contextText string
	contextErr  error
}

func (f *fakeDocs) Upload(_ context.Context, _ uint, _ string, _ []byte) (*model.ReferenceDocument, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeDocs) List(_ context.Context, _ uint) ([]model.ReferenceDocument, error) {
	return nil, nil
}

func (f *fakeDocs) ContextText(_ context.Context, _, _ uint) (string, error) {
	return f.contextText, f.contextErr
}

func (f *fakeDocs) DefaultDocument(_ context.Context) (*model.ReferenceDocument, error) {
	return nil, nil
}

type fakeIndex struct {
	indexed []model.ChatMessage
	deleted []uint
}

func (f *fakeIndex) IndexMessage(_ context.Context, _ uint, _ string, msg model.ChatMessage) error {
	f.indexed = append(f.indexed, msg)
	return nil
}

func (f *fakeIndex) DeleteUser(_ context.Context, userID uint) error {
	f.deleted = append(f.deleted, userID)
	return nil
}

func (f *fakeIndex) Search(_ context.Context, _ uint, _ string, _ int) ([]model.EsMessage, error) {
	return nil, nil
}

type fakeArtifacts struct {
	objects  map[string][]byte
	released []string
	saveSeq  int
	fetchErr error
}

func newFakeArtifacts() *fakeArtifacts {
	return &fakeArtifacts{objects: map[string][]byte{}}
}

func (f *fakeArtifacts) Save(_ context.Context, userID uint, fileName, mimeType string, data []byte) (*session.ArtifactHandle, error) {
	f.saveSeq++
	object := fmt.Sprintf("artifacts/%d/%d-%s", userID, f.saveSeq, fileName)
	f.objects[object] = append([]byte(nil), data...)
	return &session.ArtifactHandle{ObjectName: object, FileName: fileName, MIMEType: mimeType}, nil
}

func (f *fakeArtifacts) Fetch(_ context.Context, handle *session.ArtifactHandle) ([]byte, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	data, ok := f.objects[handle.ObjectName]
	if !ok {
		return nil, errors.New("object not found")
	}
	return data, nil
}

func (f *fakeArtifacts) Release(_ context.Context, handle *session.ArtifactHandle) error {
	f.released = append(f.released, handle.ObjectName)
	delete(f.objects, handle.ObjectName)
	return nil
}

type workflowFixture struct {
	llm       *fakeLLM
	history   *fakeHistoryRepo
	docs      *fakeDocs
	index     *fakeIndex
	artifacts *fakeArtifacts
	sessions  *session.Manager
	workflow  service.WorkflowService
}

func newWorkflowFixture() *workflowFixture {
	f := &workflowFixture{
		llm:       &fakeLLM{},
		history:   newFakeHistoryRepo(),
		docs:      &fakeDocs{},
		index:     &fakeIndex{},
		artifacts: newFakeArtifacts(),
		sessions:  session.NewManager(),
	}
	f.workflow = service.NewWorkflowService(
		curriculum.Load(config.CurriculumConfig{}),
		f.llm, f.docs, f.history, f.index, f.sessions, f.artifacts,
		config.NotesConfig{MinWords: 50, MaxWords: 5000},
	)
	return f
}

const (
	testUnit  = "Unit IV"
	testTopic = "Dew Computing: Concept and Application"
)

// --- tests ---

func TestGenerateNotesAppendsOneAIMessagePerCall(t *testing.T) {
	f := newWorkflowFixture()
	ctx := context.Background()
	f.workflow.StartSession(ctx, 1)

	const n = 3
	for i := 0; i < n; i++ {
		if _, err := f.workflow.GenerateNotes(ctx, 1, service.NotesRequest{Unit: testUnit, Topic: testTopic}); err != nil {
			t.Fatalf("GenerateNotes #%d: %v", i, err)
		}
	}

	messages, degraded := f.workflow.History(ctx, 1)
	if degraded {
		t.Fatal("history should not be degraded")
	}
	if len(messages) != n {
		t.Fatalf("history length = %d, want %d", len(messages), n)
	}
	for i, msg := range messages {
		if msg.Role != model.RoleAI {
			t.Fatalf("message %d role = %q, want %q", i, msg.Role, model.RoleAI)
		}
	}
	if len(f.history.store[1]) != n {
		t.Fatalf("persisted history length = %d, want %d", len(f.history.store[1]), n)
	}
}

func TestGenerateNotesRejectsUnknownTopic(t *testing.T) {
	f := newWorkflowFixture()
	ctx := context.Background()

	if _, err := f.workflow.GenerateNotes(ctx, 1, service.NotesRequest{Unit: "Unit I", Topic: "Quantum Knitting"}); err == nil {
		t.Fatal("expected error for topic outside the curriculum")
	}
	if messages, _ := f.workflow.History(ctx, 1); len(messages) != 0 {
		t.Fatalf("history length = %d, want 0", len(messages))
	}
}

func TestFailedGenerationLeavesHistoryUnchanged(t *testing.T) {
	f := newWorkflowFixture()
	ctx := context.Background()
	f.workflow.StartSession(ctx, 1)

	if _, err := f.workflow.GenerateNotes(ctx, 1, service.NotesRequest{Unit: testUnit, Topic: testTopic}); err != nil {
		t.Fatalf("GenerateNotes: %v", err)
	}

	f.llm.generateFunc = func(string, []llm.Attachment) (string, error) {
		return "", errors.New("quota exceeded")
	}
	_, err := f.workflow.GenerateNotes(ctx, 1, service.NotesRequest{Unit: testUnit, Topic: testTopic})
	if err == nil {
		t.Fatal("expected generation error")
	}
	if kind, ok := service.KindOf(err); !ok || kind != service.GenerationFailure {
		t.Fatalf("error kind = %v, want GenerationFailure", kind)
	}

	messages, _ := f.workflow.History(ctx, 1)
	if len(messages) != 1 {
		t.Fatalf("history length = %d, want 1", len(messages))
	}
}

func TestPersistenceFailureDegradesButKeepsMemoryHistory(t *testing.T) {
	f := newWorkflowFixture()
	ctx := context.Background()
	f.workflow.StartSession(ctx, 1)

	f.history.appendErr = errors.New("redis down")
	if _, err := f.workflow.GenerateNotes(ctx, 1, service.NotesRequest{Unit: testUnit, Topic: testTopic}); err != nil {
		t.Fatalf("GenerateNotes should succeed despite persistence failure: %v", err)
	}

	messages, degraded := f.workflow.History(ctx, 1)
	if !degraded {
		t.Fatal("session should be marked degraded")
	}
	if len(messages) != 1 {
		t.Fatalf("in-memory history length = %d, want 1", len(messages))
	}
	if len(f.history.store[1]) != 0 {
		t.Fatal("nothing should have been persisted")
	}

	// 存储恢复后新消息继续持久化，降级标记保持置位
	f.history.appendErr = nil
	if _, err := f.workflow.GenerateNotes(ctx, 1, service.NotesRequest{Unit: testUnit, Topic: testTopic}); err != nil {
		t.Fatalf("GenerateNotes: %v", err)
	}
	if _, degraded := f.workflow.History(ctx, 1); !degraded {
		t.Fatal("degraded flag should be sticky for the session")
	}
}

func TestStartSessionHydratesPersistedHistory(t *testing.T) {
	f := newWorkflowFixture()
	ctx := context.Background()

	f.history.store[7] = []model.ChatMessage{
		{Role: model.RoleAI, Content: "earlier notes"},
		{Role: model.RoleAI, Content: "earlier answer"},
	}

	sess := f.workflow.StartSession(ctx, 7)
	if sess.PersistDegraded {
		t.Fatal("session should not be degraded")
	}
	messages, _ := f.workflow.History(ctx, 7)
	if len(messages) != 2 {
		t.Fatalf("hydrated history length = %d, want 2", len(messages))
	}

	// 登录后的第一次生成使历史从 2 变为 3
	if _, err := f.workflow.GenerateNotes(ctx, 7, service.NotesRequest{Unit: testUnit, Topic: testTopic}); err != nil {
		t.Fatalf("GenerateNotes: %v", err)
	}
	if messages, _ := f.workflow.History(ctx, 7); len(messages) != 3 {
		t.Fatalf("history length = %d, want 3", len(messages))
	}
}

func TestStartSessionToleratesUnreachableStore(t *testing.T) {
	f := newWorkflowFixture()
	f.history.loadErr = errors.New("redis down")

	sess := f.workflow.StartSession(context.Background(), 1)
	if !sess.PersistDegraded {
		t.Fatal("session should be degraded when the store is unreachable")
	}
	if len(sess.History) != 0 {
		t.Fatal("degraded session should start with empty history")
	}
}

func TestAskDoubtAppendsAnswer(t *testing.T) {
	f := newWorkflowFixture()
	ctx := context.Background()
	f.workflow.StartSession(ctx, 1)

	answer, err := f.workflow.AskDoubt(ctx, 1, "What is dew computing?")
	if err != nil {
		t.Fatalf("AskDoubt: %v", err)
	}
	if answer == "" {
		t.Fatal("expected a non-empty answer")
	}
	if messages, _ := f.workflow.History(ctx, 1); len(messages) != 1 {
		t.Fatalf("history length = %d, want 1", len(messages))
	}
}

func TestStreamDoubtOnlyAppendsAfterSuccessfulStream(t *testing.T) {
	f := newWorkflowFixture()
	ctx := context.Background()
	f.workflow.StartSession(ctx, 1)

	f.llm.streamFunc = func(string, llm.MessageWriter) (string, error) {
		return "", errors.New("connection reset")
	}
	if _, err := f.workflow.StreamDoubt(ctx, 1, "question", nopWriter{}); err == nil {
		t.Fatal("expected stream error")
	}
	if messages, _ := f.workflow.History(ctx, 1); len(messages) != 0 {
		t.Fatal("failed stream must not touch history")
	}

	f.llm.streamFunc = nil
	if _, err := f.workflow.StreamDoubt(ctx, 1, "question", nopWriter{}); err != nil {
		t.Fatalf("StreamDoubt: %v", err)
	}
	if messages, _ := f.workflow.History(ctx, 1); len(messages) != 1 {
		t.Fatalf("history length = %d, want 1", len(messages))
	}
}

type nopWriter struct{}

func (nopWriter) WriteMessage(int, []byte) error { return nil }

func TestClearHistoryIsIdempotent(t *testing.T) {
	f := newWorkflowFixture()
	ctx := context.Background()
	f.workflow.StartSession(ctx, 1)

	if _, err := f.workflow.GenerateNotes(ctx, 1, service.NotesRequest{Unit: testUnit, Topic: testTopic}); err != nil {
		t.Fatalf("GenerateNotes: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := f.workflow.ClearHistory(ctx, 1); err != nil {
			t.Fatalf("ClearHistory #%d: %v", i, err)
		}
	}
	if messages, _ := f.workflow.History(ctx, 1); len(messages) != 0 {
		t.Fatal("history should be empty after clear")
	}
	if len(f.history.store[1]) != 0 {
		t.Fatal("persisted history should be empty after clear")
	}
	if len(f.index.deleted) == 0 {
		t.Fatal("clear should also purge the search index")
	}
}

func TestClearHistoryDegradesOnStoreFailure(t *testing.T) {
	f := newWorkflowFixture()
	ctx := context.Background()
	f.workflow.StartSession(ctx, 1)

	if _, err := f.workflow.GenerateNotes(ctx, 1, service.NotesRequest{Unit: testUnit, Topic: testTopic}); err != nil {
		t.Fatalf("GenerateNotes: %v", err)
	}

	f.history.clearErr = errors.New("redis down")
	if err := f.workflow.ClearHistory(ctx, 1); err != nil {
		t.Fatalf("ClearHistory should degrade, not fail: %v", err)
	}

	messages, degraded := f.workflow.History(ctx, 1)
	if len(messages) != 0 {
		t.Fatal("in-memory history should still be cleared")
	}
	if !degraded {
		t.Fatal("session should be marked degraded")
	}
}

func TestEndSessionReleasesArtifacts(t *testing.T) {
	f := newWorkflowFixture()
	ctx := context.Background()
	sess := f.workflow.StartSession(ctx, 1)

	handle, err := f.artifacts.Save(ctx, 1, "answers.png", "image/png", []byte("pixels"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	sess.Quiz = &session.Quiz{Artifact: handle}

	f.workflow.EndSession(ctx, 1)
	if len(f.artifacts.released) != 1 {
		t.Fatalf("released %d artifacts, want 1", len(f.artifacts.released))
	}
	if _, ok := f.sessions.Get(1); ok {
		t.Fatal("session should be destroyed")
	}
}
