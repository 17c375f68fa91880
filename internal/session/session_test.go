package session_test

import (
	"testing"

	"cdef-ta-go/internal/model"
	"cdef-ta-go/internal/session"
)

func TestManagerCreateReplacesExistingSession(t *testing.T) {
	m := session.NewManager()

	first := m.Create(1, nil)
	first.AppendHistory(model.ChatMessage{Role: model.RoleAI, Content: "old"})

	second := m.Create(1, nil)
	if second == first {
		t.Fatal("re-login should produce a fresh session")
	}
	got, ok := m.Get(1)
	if !ok || got != second {
		t.Fatal("manager should return the replacement session")
	}
	if len(got.History) != 0 {
		t.Fatal("replacement session should start with the provided history")
	}
}

func TestDestroyReturnsSessionForCleanup(t *testing.T) {
	m := session.NewManager()
	s := m.Create(1, nil)
	s.Quiz = &session.Quiz{Artifact: &session.ArtifactHandle{ObjectName: "obj"}}

	destroyed, ok := m.Destroy(1)
	if !ok || destroyed != s {
		t.Fatal("Destroy should hand back the session")
	}
	if _, ok := m.Get(1); ok {
		t.Fatal("session should be gone after Destroy")
	}
	if _, ok := m.Destroy(1); ok {
		t.Fatal("second Destroy should report no session")
	}
}

func TestTakeArtifactsClearsHandle(t *testing.T) {
	s := &session.Session{Quiz: &session.Quiz{Artifact: &session.ArtifactHandle{ObjectName: "obj"}}}

	handles := s.TakeArtifacts()
	if len(handles) != 1 || handles[0].ObjectName != "obj" {
		t.Fatalf("handles = %v, want the quiz artifact", handles)
	}
	if s.Quiz.Artifact != nil {
		t.Fatal("artifact reference should be cleared")
	}
	if got := s.TakeArtifacts(); len(got) != 0 {
		t.Fatal("second take should be empty")
	}
}

func TestTakeArtifactsWithoutQuiz(t *testing.T) {
	s := &session.Session{}
	if got := s.TakeArtifacts(); len(got) != 0 {
		t.Fatalf("handles = %v, want none", got)
	}
}
