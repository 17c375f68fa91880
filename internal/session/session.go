// Package session 维护认证用户的工作流会话状态。
// 会话在登录时创建、登出时销毁，同一会话内的操作串行执行。
package session

import (
	"sync"
	"time"

	"cdef-ta-go/internal/model"
)

// State 是工作流状态机的状态。
type State string

const (
	StateIdle                 State = "idle"
	StateNotesFlow            State = "notes"
	StateDoubtFlow            State = "doubt"
	StateQuizGenerated        State = "quiz_generated"
	StateQuizAwaitingArtifact State = "quiz_awaiting_artifact"
	StateQuizGrading          State = "quiz_grading"
	StateQuizGraded           State = "quiz_graded"
)

// ArtifactHandle 是用户上传的作答文件在对象存储中的句柄。
// 每个测验会话最多持有一个活动句柄，被替换或登出时必须释放。
type ArtifactHandle struct {
	ObjectName string
	FileName   string
	MIMEType   string
	UploadedAt time.Time
}

// Quiz 是一次测验会话：生成的题目、用户的选择和作答文件。
// 生成新测验时整体丢弃。
type Quiz struct {
	Unit     string
	Topic    string
	QuizType string
	// Questions 与 RawText 都来自生成侧，均不含答案键。
	Questions []model.QuizQuestion
	RawText   string
	// UserAnswers 的长度恒等于题目数；未作答的位置为 nil。
	UserAnswers []*int
	Artifact    *ArtifactHandle
	Report      *model.GradeReport
}

// Session 是单个用户的工作流会话。
type Session struct {
	mu sync.Mutex

	UserID uint
	State  State

	// History 是聊天历史的会话内缓存；持久化失败时它是唯一副本。
	History []model.ChatMessage
	// PersistDegraded 标记 History Store 不可达、会话已降级为仅内存模式。
	PersistDegraded bool

	Quiz      *Quiz
	CreatedAt time.Time
}

// Lock 获取会话互斥锁。同一会话一次只允许一个未完成的外部调用。
func (s *Session) Lock() { s.mu.Lock() }

// Unlock 释放会话互斥锁。
func (s *Session) Unlock() { s.mu.Unlock() }

// AppendHistory 向会话内缓存追加一条消息。
func (s *Session) AppendHistory(msg model.ChatMessage) {
	s.History = append(s.History, msg)
}

// TakeArtifacts 取出会话当前持有的全部作答文件句柄并清空引用。
// 调用方负责实际释放存储对象。
func (s *Session) TakeArtifacts() []*ArtifactHandle {
	var handles []*ArtifactHandle
	if s.Quiz != nil && s.Quiz.Artifact != nil {
		handles = append(handles, s.Quiz.Artifact)
		s.Quiz.Artifact = nil
	}
	return handles
}

// Manager 管理用户 ID 到会话的映射。
type Manager struct {
	sessions sync.Map // key: uint userID, value: *Session
}

// NewManager 创建一个新的会话管理器。
func NewManager() *Manager {
	return &Manager{}
}

// Create 为用户创建新会话并登记，重复登录会替换旧会话。
func (m *Manager) Create(userID uint, history []model.ChatMessage) *Session {
	s := &Session{
		UserID:    userID,
		State:     StateIdle,
		History:   history,
		CreatedAt: time.Now(),
	}
	m.sessions.Store(userID, s)
	return s
}

// Get 返回用户的会话。
func (m *Manager) Get(userID uint) (*Session, bool) {
	v, ok := m.sessions.Load(userID)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

// Destroy 注销用户会话并返回它，供调用方做资源清理。
func (m *Manager) Destroy(userID uint) (*Session, bool) {
	v, ok := m.sessions.LoadAndDelete(userID)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}
