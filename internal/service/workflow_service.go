package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cdef-ta-go/internal/config"
	"cdef-ta-go/internal/curriculum"
	"cdef-ta-go/internal/model"
	"cdef-ta-go/internal/repository"
	"cdef-ta-go/internal/session"
	"cdef-ta-go/pkg/export"
	"cdef-ta-go/pkg/llm"
	"cdef-ta-go/pkg/log"
)

// NotesRequest 是一次笔记生成请求。
type NotesRequest struct {
	Unit  string
	Topic string
	// DocumentID 为 0 时尝试使用启动导入的默认参考资料。
	DocumentID   uint
	WordTarget   int
	Instructions string
}

// WorkflowService 编排单个用户会话内的三个交互流程（笔记、答疑、测验由
// QuizService 承接），并维护会话与聊天历史的一致性。
type WorkflowService interface {
	// StartSession 在登录时创建会话并从 History Store 水合历史。
	// 历史存储不可达时降级为仅内存会话，绝不阻塞登录。
	StartSession(ctx context.Context, userID uint) *session.Session
	// EndSession 在登出时释放会话持有的作答文件并销毁会话。
	EndSession(ctx context.Context, userID uint)
	// SessionFor 返回用户的会话，不存在时创建并水合（容忍服务重启）。
	SessionFor(ctx context.Context, userID uint) *session.Session

	GenerateNotes(ctx context.Context, userID uint, req NotesRequest) (string, error)
	ExportNotesPDF(markdown string) ([]byte, error)

	AskDoubt(ctx context.Context, userID uint, question string) (string, error)
	// StreamDoubt 流式回答问题；完整答案只在流成功结束后才追加到历史。
	StreamDoubt(ctx context.Context, userID uint, question string, writer llm.MessageWriter) (string, error)

	History(ctx context.Context, userID uint) (messages []model.ChatMessage, degraded bool)
	ClearHistory(ctx context.Context, userID uint) error
	SearchHistory(ctx context.Context, userID uint, query string, size int) ([]model.EsMessage, error)
}

type workflowService struct {
	cur         *curriculum.Curriculum
	llmClient   llm.Client
	docs        DocumentService
	historyRepo repository.HistoryRepository
	index       SearchIndex
	sessions    *session.Manager
	artifacts   ArtifactStore
	notesCfg    config.NotesConfig
}

// NewWorkflowService 创建一个新的 WorkflowService 实例。
func NewWorkflowService(
	cur *curriculum.Curriculum,
	llmClient llm.Client,
	docs DocumentService,
	historyRepo repository.HistoryRepository,
	index SearchIndex,
	sessions *session.Manager,
	artifacts ArtifactStore,
	notesCfg config.NotesConfig,
) WorkflowService {
	return &workflowService{
		cur:         cur,
		llmClient:   llmClient,
		docs:        docs,
		historyRepo: historyRepo,
		index:       index,
		sessions:    sessions,
		artifacts:   artifacts,
		notesCfg:    notesCfg,
	}
}

// StartSession 创建会话并水合历史。
// 重复登录会顶替旧会话，旧会话持有的作答文件需先释放，避免遗留孤儿对象。
func (s *workflowService) StartSession(ctx context.Context, userID uint) *session.Session {
	if old, ok := s.sessions.Get(userID); ok {
		old.Lock()
		handles := old.TakeArtifacts()
		old.Unlock()
		for _, h := range handles {
			if err := s.artifacts.Release(ctx, h); err != nil {
				log.Warnf("[Workflow] 重新登录时释放旧会话作答文件失败 (%s): %v", h.ObjectName, err)
			}
		}
	}

	history, err := s.historyRepo.Load(ctx, userID)
	degraded := false
	if err != nil {
		// 持久化失败绝不阻塞交互流程：降级为仅内存会话
		log.Warnf("[Workflow] 加载用户 %d 的历史失败，会话降级为仅内存模式: %v", userID, err)
		history = []model.ChatMessage{}
		degraded = true
	}
	sess := s.sessions.Create(userID, history)
	sess.PersistDegraded = degraded
	return sess
}

// EndSession 释放会话资源并销毁会话。
// 先释放作答文件句柄，再丢弃会话状态，避免遗留孤儿对象。
func (s *workflowService) EndSession(ctx context.Context, userID uint) {
	sess, ok := s.sessions.Destroy(userID)
	if !ok {
		return
	}
	sess.Lock()
	handles := sess.TakeArtifacts()
	sess.Unlock()
	for _, h := range handles {
		if err := s.artifacts.Release(ctx, h); err != nil {
			log.Warnf("[Workflow] 登出时释放作答文件失败 (%s): %v", h.ObjectName, err)
		}
	}
}

// SessionFor 返回用户的会话，不存在时创建并水合。
func (s *workflowService) SessionFor(ctx context.Context, userID uint) *session.Session {
	if sess, ok := s.sessions.Get(userID); ok {
		return sess
	}
	return s.StartSession(ctx, userID)
}

// GenerateNotes 执行笔记生成流程。
// 只有生成成功时才追加历史：失败或空结果绝不产生历史条目。
func (s *workflowService) GenerateNotes(ctx context.Context, userID uint, req NotesRequest) (string, error) {
	if !s.cur.HasTopic(req.Unit, req.Topic) {
		return "", fmt.Errorf("未知的单元或主题: %s / %s", req.Unit, req.Topic)
	}

	sess := s.SessionFor(ctx, userID)
	sess.Lock()
	defer sess.Unlock()

	sess.State = session.StateNotesFlow
	// 流程结束后总是回到选择器
	defer func() { sess.State = session.StateIdle }()

	wordTarget := s.clampWordTarget(req.WordTarget)

	// 解析参考文档上下文（可选）
	contextText, err := s.resolveContext(ctx, userID, req.DocumentID)
	if err != nil {
		return "", err
	}

	prompt := buildNotesPrompt(req.Topic, wordTarget, contextText, req.Instructions)
	notes, err := s.llmClient.GenerateContent(ctx, prompt)
	if err != nil {
		return "", flowErr(GenerationFailure, "笔记生成失败: %w", err)
	}
	if strings.TrimSpace(notes) == "" {
		return "", flowErr(GenerationFailure, "生成服务返回了空内容")
	}

	s.appendAI(ctx, sess, req.Topic, notes)
	return notes, nil
}

// ExportNotesPDF 将笔记 Markdown 渲染为 PDF。纯排版变换，不触碰任何状态。
func (s *workflowService) ExportNotesPDF(markdown string) ([]byte, error) {
	return export.MarkdownToPDF(markdown)
}

// AskDoubt 执行答疑流程。
func (s *workflowService) AskDoubt(ctx context.Context, userID uint, question string) (string, error) {
	sess := s.SessionFor(ctx, userID)
	sess.Lock()
	defer sess.Unlock()

	sess.State = session.StateDoubtFlow
	defer func() { sess.State = session.StateIdle }()

	answer, err := s.llmClient.GenerateContent(ctx, buildDoubtPrompt(question))
	if err != nil {
		return "", flowErr(GenerationFailure, "回答生成失败: %w", err)
	}
	if strings.TrimSpace(answer) == "" {
		return "", flowErr(GenerationFailure, "生成服务返回了空内容")
	}

	s.appendAI(ctx, sess, "", answer)
	return answer, nil
}

// StreamDoubt 流式执行答疑流程，分块写入 writer。
func (s *workflowService) StreamDoubt(ctx context.Context, userID uint, question string, writer llm.MessageWriter) (string, error) {
	sess := s.SessionFor(ctx, userID)
	sess.Lock()
	defer sess.Unlock()

	sess.State = session.StateDoubtFlow
	defer func() { sess.State = session.StateIdle }()

	answer, err := s.llmClient.StreamGenerate(ctx, buildDoubtPrompt(question), writer)
	if err != nil {
		return "", flowErr(GenerationFailure, "流式回答失败: %w", err)
	}
	if strings.TrimSpace(answer) == "" {
		return "", flowErr(GenerationFailure, "生成服务返回了空内容")
	}

	s.appendAI(ctx, sess, "", answer)
	return answer, nil
}

// History 返回会话内缓存的历史及降级标记。
func (s *workflowService) History(ctx context.Context, userID uint) ([]model.ChatMessage, bool) {
	sess := s.SessionFor(ctx, userID)
	sess.Lock()
	defer sess.Unlock()
	messages := append([]model.ChatMessage(nil), sess.History...)
	return messages, sess.PersistDegraded
}

// ClearHistory 清空内存与存储中的历史，保持登录状态不变。幂等。
func (s *workflowService) ClearHistory(ctx context.Context, userID uint) error {
	sess := s.SessionFor(ctx, userID)
	sess.Lock()
	defer sess.Unlock()

	if err := s.historyRepo.Clear(ctx, userID); err != nil {
		// 持久化失败降级为警告：内存侧仍然清空
		sess.PersistDegraded = true
		log.Warnf("[Workflow] 清空用户 %d 的存储历史失败: %v", userID, err)
	}
	sess.History = []model.ChatMessage{}
	sess.State = session.StateIdle

	if err := s.index.DeleteUser(ctx, userID); err != nil {
		log.Warnf("[Workflow] 清空用户 %d 的检索索引失败: %v", userID, err)
	}
	return nil
}

// SearchHistory 在用户的历史消息中做关键词检索。
func (s *workflowService) SearchHistory(ctx context.Context, userID uint, query string, size int) ([]model.EsMessage, error) {
	if size <= 0 || size > 50 {
		size = 10
	}
	return s.index.Search(ctx, userID, query, size)
}

// appendAI 以"先持久化、再信任内存副本"的顺序追加一条 AI 消息。
// 持久化失败时降级为仅内存并打警告；检索索引写入是尽力而为的。
func (s *workflowService) appendAI(ctx context.Context, sess *session.Session, topic, content string) {
	appendAIMessage(ctx, s.historyRepo, s.index, sess, topic, content)
}

func appendAIMessage(ctx context.Context, repo repository.HistoryRepository, index SearchIndex, sess *session.Session, topic, content string) {
	msg := model.ChatMessage{Role: model.RoleAI, Content: content, Timestamp: time.Now()}

	if err := repo.Append(ctx, sess.UserID, msg); err != nil {
		sess.PersistDegraded = true
		log.Warnf("[Workflow] 持久化历史失败，用户 %d 降级为仅内存模式: %v", sess.UserID, err)
	}
	sess.AppendHistory(msg)

	if err := index.IndexMessage(ctx, sess.UserID, topic, msg); err != nil {
		log.Warnf("[Workflow] 索引消息到检索失败 (用户 %d): %v", sess.UserID, err)
	}
}

// resolveContext 解析参考文档上下文。docID 为 0 时回退到默认资料，
// 默认资料也不存在时返回空上下文。
func (s *workflowService) resolveContext(ctx context.Context, userID, docID uint) (string, error) {
	if docID == 0 {
		def, err := s.docs.DefaultDocument(ctx)
		if err != nil {
			log.Warnf("[Workflow] 查询默认参考资料失败: %v", err)
			return "", nil
		}
		if def == nil {
			return "", nil
		}
		docID = def.ID
	}
	return s.docs.ContextText(ctx, userID, docID)
}

func (s *workflowService) clampWordTarget(words int) int {
	minWords := s.notesCfg.MinWords
	maxWords := s.notesCfg.MaxWords
	if minWords <= 0 {
		minWords = 50
	}
	if maxWords <= 0 {
		maxWords = 5000
	}
	if words < minWords {
		return minWords
	}
	if words > maxWords {
		return maxWords
	}
	return words
}
