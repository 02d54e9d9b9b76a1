package session_test

import (
	"context"
	"errors"
	"testing"

	"github.com/tweenson/artificer/core/protocol"
	"github.com/tweenson/artificer/session"
)

func TestNewSessionIDs(t *testing.T) {
	a, b := session.New(), session.New()
	if a.ID() == "" || b.ID() == "" {
		t.Fatal("empty session id")
	}
	if a.ID() == b.ID() {
		t.Errorf("duplicate session ids: %s", a.ID())
	}
}

func TestMessagesDefensiveCopies(t *testing.T) {
	s := session.New()
	msgs := []protocol.Message{protocol.NewMessage(protocol.RoleUser, "hello")}
	s.SetMessages(msgs)

	msgs[0].Content = "mutated"
	if got := s.Messages(); got[0].Content != "hello" {
		t.Errorf("SetMessages did not copy: %q", got[0].Content)
	}

	view := s.Messages()
	view[0].Content = "mutated again"
	if got := s.Messages(); got[0].Content != "hello" {
		t.Errorf("Messages did not copy: %q", got[0].Content)
	}

	s.Append(protocol.NewMessage(protocol.RoleAssistant, "hi"))
	if got := s.Messages(); len(got) != 2 {
		t.Errorf("len = %d, want 2", len(got))
	}
}

func TestBeginPipelineSingleSlot(t *testing.T) {
	s := session.New()

	ctx, err := s.BeginPipeline(context.Background())
	if err != nil {
		t.Fatalf("BeginPipeline: %v", err)
	}
	if !s.Active() {
		t.Error("Active() = false while pipeline holds the slot")
	}

	if _, err := s.BeginPipeline(context.Background()); !errors.Is(err, session.ErrPipelineActive) {
		t.Fatalf("second BeginPipeline error = %v, want ErrPipelineActive", err)
	}

	s.EndPipeline()
	if s.Active() {
		t.Error("Active() = true after EndPipeline")
	}
	if ctx.Err() == nil {
		t.Error("run context not cancelled by EndPipeline")
	}

	if _, err := s.BeginPipeline(context.Background()); err != nil {
		t.Errorf("BeginPipeline after release: %v", err)
	}
}

func TestCancelAbortsRunContext(t *testing.T) {
	s := session.New()
	ctx, err := s.BeginPipeline(context.Background())
	if err != nil {
		t.Fatalf("BeginPipeline: %v", err)
	}

	s.Cancel()
	if ctx.Err() == nil {
		t.Error("run context not cancelled")
	}
	if !s.Cancelled() {
		t.Error("Cancelled() = false after Cancel")
	}
	if !s.Active() {
		t.Error("slot released before the pipeline observed cancellation")
	}

	s.EndPipeline()
	if _, err := s.BeginPipeline(context.Background()); err != nil {
		t.Fatalf("BeginPipeline after cancel: %v", err)
	}
	if s.Cancelled() {
		t.Error("Cancelled() latch survived the next BeginPipeline")
	}
}

func TestBeginPipelineInheritsParent(t *testing.T) {
	s := session.New()
	parent, cancel := context.WithCancel(context.Background())
	ctx, err := s.BeginPipeline(parent)
	if err != nil {
		t.Fatalf("BeginPipeline: %v", err)
	}
	cancel()
	if ctx.Err() == nil {
		t.Error("run context did not inherit parent cancellation")
	}
	s.EndPipeline()
}

func TestManagerConnected(t *testing.T) {
	m := session.NewManager()

	if m.Connected("conv-1") {
		t.Error("Connected for unknown session")
	}

	s := m.GetOrCreate("conv-1")
	if again := m.GetOrCreate("conv-1"); again != s {
		t.Error("GetOrCreate returned a different session for the same id")
	}
	if s.ID() != "conv-1" {
		t.Errorf("session id = %q", s.ID())
	}

	s.SetConnected(true)
	if !m.Connected("conv-1") {
		t.Error("Connected = false for an attached session")
	}
	s.SetConnected(false)
	if m.Connected("conv-1") {
		t.Error("Connected = true after detach")
	}

	m.Remove("conv-1")
	if _, ok := m.Get("conv-1"); ok {
		t.Error("session survived Remove")
	}
}
