package store_test

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/tweenson/artificer/core/protocol"
	"github.com/tweenson/artificer/store"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func registerDevice(t *testing.T, s *store.Store, name string) store.Device {
	t.Helper()
	d, err := s.RegisterDevice(context.Background(), name, "id-"+name, "key-"+name)
	if err != nil {
		t.Fatalf("RegisterDevice(%s): %v", name, err)
	}
	return d
}

func TestRegisterDeviceIdempotent(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	first, err := s.RegisterDevice(ctx, "laptop", "id-1", "key-1")
	if err != nil {
		t.Fatalf("first register: %v", err)
	}
	again, err := s.RegisterDevice(ctx, "laptop", "id-2", "key-2")
	if err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if again.ID != first.ID || again.Key != first.Key {
		t.Errorf("re-register returned %+v, want original credentials %+v", again, first)
	}

	byID, err := s.DeviceByID(ctx, first.ID)
	if err != nil {
		t.Fatalf("DeviceByID: %v", err)
	}
	if byID.Name != "laptop" {
		t.Errorf("name = %q", byID.Name)
	}

	if _, err := s.DeviceByID(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("DeviceByID(missing) error = %v, want ErrNotFound", err)
	}
}

func TestConversationLifecycle(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	device := registerDevice(t, s, "laptop")

	conv, err := s.CreateConversation(ctx, device.ID)
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	if err := s.SetTitle(ctx, conv.ID, "Weather in Denver"); err != nil {
		t.Fatalf("SetTitle: %v", err)
	}
	if err := s.SetSummary(ctx, conv.ID, "User asked about weather."); err != nil {
		t.Fatalf("SetSummary: %v", err)
	}

	fetched, err := s.ConversationByID(ctx, conv.ID)
	if err != nil {
		t.Fatalf("ConversationByID: %v", err)
	}
	if fetched.Title != "Weather in Denver" || fetched.Summary != "User asked about weather." {
		t.Errorf("conversation = %+v", fetched)
	}

	list, err := s.Conversations(ctx, device.ID)
	if err != nil {
		t.Fatalf("Conversations: %v", err)
	}
	if len(list) != 1 || list[0].ID != conv.ID {
		t.Errorf("list = %+v", list)
	}

	if err := s.SetTitle(ctx, 9999, "x"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("SetTitle(missing) error = %v, want ErrNotFound", err)
	}
	if _, err := s.ConversationByID(ctx, 9999); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("ConversationByID(missing) error = %v, want ErrNotFound", err)
	}
}

func TestConversationTitleLookup(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	laptop := registerDevice(t, s, "laptop")
	phone := registerDevice(t, s, "phone")

	conv, err := s.CreateConversation(ctx, laptop.ID)
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if err := s.SetTitle(ctx, conv.ID, "Trip planning"); err != nil {
		t.Fatalf("SetTitle: %v", err)
	}
	if err := s.SetSummary(ctx, conv.ID, "Flights and hotels for Lisbon."); err != nil {
		t.Fatalf("SetSummary: %v", err)
	}

	got, err := s.ConversationByTitle(ctx, laptop.ID, "Trip planning")
	if err != nil {
		t.Fatalf("ConversationByTitle: %v", err)
	}
	if got.ID != conv.ID {
		t.Errorf("id = %d, want %d", got.ID, conv.ID)
	}

	// Title lookup is device-scoped.
	if _, err := s.ConversationByTitle(ctx, phone.ID, "Trip planning"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("other device error = %v, want ErrNotFound", err)
	}
	if _, err := s.ConversationByTitle(ctx, laptop.ID, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("missing title error = %v, want ErrNotFound", err)
	}

	found, err := s.SearchConversations(ctx, laptop.ID, "lisbon")
	if err != nil {
		t.Fatalf("SearchConversations: %v", err)
	}
	if len(found) != 1 || found[0].ID != conv.ID {
		t.Errorf("search = %+v", found)
	}
	none, err := s.SearchConversations(ctx, laptop.ID, "porto")
	if err != nil {
		t.Fatalf("SearchConversations: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("search(porto) = %+v", none)
	}
}

func TestMessagesRoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	device := registerDevice(t, s, "laptop")
	conv, err := s.CreateConversation(ctx, device.ID)
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	msgs := []protocol.Message{
		protocol.NewMessage(protocol.RoleUser, "what's the weather?"),
		{
			Role: protocol.RoleAssistant,
			ToolCalls: []protocol.ToolCall{
				{ID: "call-1", Name: "web_search", Arguments: json.RawMessage(`{"query":"weather"}`)},
			},
		},
		{Role: protocol.RoleTool, Content: "72F", ToolCallID: "call-1"},
		protocol.NewMessage(protocol.RoleAssistant, "It's 72F."),
	}
	for _, m := range msgs {
		if err := s.AppendMessage(ctx, conv.ID, m); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}

	got, err := s.MessagesFor(ctx, conv.ID)
	if err != nil {
		t.Fatalf("MessagesFor: %v", err)
	}
	if len(got) != len(msgs) {
		t.Fatalf("messages = %d, want %d", len(got), len(msgs))
	}
	if got[0].Content != "what's the weather?" || got[0].Role != protocol.RoleUser {
		t.Errorf("message 0 = %+v", got[0])
	}
	if len(got[1].ToolCalls) != 1 || got[1].ToolCalls[0].Name != "web_search" {
		t.Errorf("message 1 tool calls = %+v", got[1].ToolCalls)
	}
	if got[2].ToolCallID != "call-1" {
		t.Errorf("message 2 = %+v", got[2])
	}
}

func TestJobQueueOrdering(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	low, err := s.EnqueueJob(ctx, "summarization", 1, "", 0)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	lowLater, err := s.EnqueueJob(ctx, "summarization", 2, "", 0)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	high, err := s.EnqueueJob(ctx, "title_generation", 3, "hello", 5)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	wantOrder := []int64{high, low, lowLater}
	for i, want := range wantOrder {
		job, ok, err := s.ClaimJob(ctx)
		if err != nil || !ok {
			t.Fatalf("claim %d: ok=%v err=%v", i, ok, err)
		}
		if job.ID != want {
			t.Errorf("claim %d = job %d, want %d", i, job.ID, want)
		}
		if job.Status != store.JobRunning || job.Attempts != 1 {
			t.Errorf("claimed job = %+v", job)
		}
	}

	if _, ok, err := s.ClaimJob(ctx); err != nil || ok {
		t.Errorf("claim on empty queue: ok=%v err=%v", ok, err)
	}
}

func TestJobRetriesThenExhausts(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	if _, err := s.EnqueueJob(ctx, "title_generation", 1, "hi", 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// Default max_attempts is 3: two failures requeue, the third exhausts.
	for attempt := 1; attempt <= 3; attempt++ {
		job, ok, err := s.ClaimJob(ctx)
		if err != nil || !ok {
			t.Fatalf("claim attempt %d: ok=%v err=%v", attempt, ok, err)
		}
		if job.Attempts != attempt {
			t.Errorf("attempts = %d, want %d", job.Attempts, attempt)
		}

		exhausted, err := s.FailJob(ctx, job.ID, "model offline")
		if err != nil {
			t.Fatalf("fail attempt %d: %v", attempt, err)
		}
		if want := attempt == 3; exhausted != want {
			t.Errorf("attempt %d exhausted = %v, want %v", attempt, exhausted, want)
		}
	}

	if _, ok, _ := s.ClaimJob(ctx); ok {
		t.Error("exhausted job still claimable")
	}
	pending, err := s.HasPendingJobs(ctx)
	if err != nil {
		t.Fatalf("HasPendingJobs: %v", err)
	}
	if pending {
		t.Error("HasPendingJobs = true after exhaustion")
	}
}

func TestJobCompletion(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	if _, err := s.EnqueueJob(ctx, "memory_extraction", 1, "", 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	job, ok, err := s.ClaimJob(ctx)
	if err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}
	if err := s.CompleteJob(ctx, job.ID, `[{"key":"name","value":"Ada"}]`); err != nil {
		t.Fatalf("complete: %v", err)
	}

	pending, err := s.HasPendingJobs(ctx)
	if err != nil {
		t.Fatalf("HasPendingJobs: %v", err)
	}
	if pending {
		t.Error("HasPendingJobs = true after completion")
	}

	got, err := s.JobByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("JobByID: %v", err)
	}
	if got.Status != store.JobCompleted {
		t.Errorf("status = %q, want completed", got.Status)
	}
	if got.Result != `[{"key":"name","value":"Ada"}]` {
		t.Errorf("result = %q", got.Result)
	}
}
