package archivist_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tweenson/artificer/archivist"
	"github.com/tweenson/artificer/auth"
	"github.com/tweenson/artificer/core/protocol"
	"github.com/tweenson/artificer/store"
	"github.com/tweenson/artificer/tools"
)

type fixture struct {
	store    *store.Store
	registry *tools.Registry
	device   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	device, err := s.RegisterDevice(context.Background(), "laptop", "dev-1", "key-1")
	if err != nil {
		t.Fatalf("RegisterDevice: %v", err)
	}

	r := tools.NewRegistry()
	if err := archivist.Register(r, s); err != nil {
		t.Fatalf("Register: %v", err)
	}
	r.Freeze()
	return &fixture{store: s, registry: r, device: device.ID}
}

func (f *fixture) seed(t *testing.T, title, summary string, contents ...string) int64 {
	t.Helper()
	ctx := context.Background()
	conv, err := f.store.CreateConversation(ctx, f.device)
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if err := f.store.SetTitle(ctx, conv.ID, title); err != nil {
		t.Fatalf("SetTitle: %v", err)
	}
	if summary != "" {
		if err := f.store.SetSummary(ctx, conv.ID, summary); err != nil {
			t.Fatalf("SetSummary: %v", err)
		}
	}
	for i, content := range contents {
		role := protocol.RoleUser
		if i%2 == 1 {
			role = protocol.RoleAssistant
		}
		if err := f.store.AppendMessage(ctx, conv.ID, protocol.NewMessage(role, content)); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}
	return conv.ID
}

func (f *fixture) invoke(t *testing.T, name, args string) (string, error) {
	t.Helper()
	handler, ok := f.registry.Handler(name)
	if !ok {
		t.Fatalf("no handler for %s", name)
	}
	ctx := auth.WithDevice(context.Background(), f.device)
	return handler(ctx, json.RawMessage(args))
}

func TestListConversations(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "Trip planning", "Flights for Lisbon.")
	f.seed(t, "Grocery list", "")

	out, err := f.invoke(t, "list_conversations", `{}`)
	if err != nil {
		t.Fatalf("list_conversations: %v", err)
	}
	if !strings.Contains(out, "Trip planning") || !strings.Contains(out, "Grocery list") {
		t.Errorf("output = %q", out)
	}
	if !strings.Contains(out, "Flights for Lisbon.") {
		t.Errorf("output %q missing summary", out)
	}
}

func TestGetConversationByTitle(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "Trip planning", "Flights for Lisbon.",
		"find me a flight", "TAP 341 departs at 9am")

	out, err := f.invoke(t, "get_conversation", `{"title":"Trip planning"}`)
	if err != nil {
		t.Fatalf("get_conversation: %v", err)
	}
	for _, want := range []string{"title: Trip planning", "find me a flight", "TAP 341 departs at 9am"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}

	// A missing title reads as a result the model can act on, not an error.
	out, err = f.invoke(t, "get_conversation", `{"title":"nope"}`)
	if err != nil {
		t.Fatalf("get_conversation(missing): %v", err)
	}
	if !strings.Contains(out, "no conversation") {
		t.Errorf("output = %q", out)
	}

	if _, err := f.invoke(t, "get_conversation", `{"title":""}`); err == nil {
		t.Error("empty title accepted")
	}
}

func TestSearchConversations(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "Trip planning", "Flights for Lisbon.")
	f.seed(t, "Grocery list", "Weekly shopping.")

	out, err := f.invoke(t, "search_conversations", `{"keyword":"lisbon"}`)
	if err != nil {
		t.Fatalf("search_conversations: %v", err)
	}
	if !strings.Contains(out, "Trip planning") || strings.Contains(out, "Grocery list") {
		t.Errorf("output = %q", out)
	}

	out, err = f.invoke(t, "search_conversations", `{"keyword":"zebra"}`)
	if err != nil {
		t.Fatalf("search_conversations: %v", err)
	}
	if out != "no conversations" {
		t.Errorf("output = %q", out)
	}
}

func TestToolsRequireDevice(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "Trip planning", "")

	for _, name := range []string{"list_conversations", "search_conversations", "get_conversation"} {
		handler, ok := f.registry.Handler(name)
		if !ok {
			t.Fatalf("no handler for %s", name)
		}
		if _, err := handler(context.Background(), json.RawMessage(`{"title":"x","keyword":"x"}`)); err == nil {
			t.Errorf("%s: ran without a device", name)
		}
	}
}

func TestToolsScopedToDevice(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "Trip planning", "Flights for Lisbon.")

	other, err := f.store.RegisterDevice(context.Background(), "phone", "dev-2", "key-2")
	if err != nil {
		t.Fatalf("RegisterDevice: %v", err)
	}

	handler, _ := f.registry.Handler("list_conversations")
	out, err := handler(auth.WithDevice(context.Background(), other.ID), nil)
	if err != nil {
		t.Fatalf("list_conversations: %v", err)
	}
	if out != "no conversations" {
		t.Errorf("other device sees %q", out)
	}
}
