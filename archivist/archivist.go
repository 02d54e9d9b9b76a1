// Package archivist exposes the conversation archive to the model as a
// server toolbelt. Every tool is scoped to the calling device, carried
// on the context by the engine.
package archivist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tweenson/artificer/auth"
	"github.com/tweenson/artificer/store"
	"github.com/tweenson/artificer/tools"
)

// Toolbelt is the name pipeline task definitions reference.
const Toolbelt = "archivist"

type archive struct {
	store *store.Store
}

// Register adds the archivist tools to the registry.
func Register(r *tools.Registry, st *store.Store) error {
	a := &archive{store: st}

	entries := []struct {
		desc    tools.Descriptor
		handler tools.Handler
	}{
		{
			desc: tools.Descriptor{
				Toolbelt:    Toolbelt,
				Name:        "list_conversations",
				Description: "Lists the device's past conversations with their titles and summaries, most recent first.",
				Location:    tools.LocationServer,
				Parameters: map[string]any{
					"type":       "object",
					"properties": map[string]any{},
				},
			},
			handler: a.listConversations,
		},
		{
			desc: tools.Descriptor{
				Toolbelt:    Toolbelt,
				Name:        "get_conversation",
				Description: "Retrieves a past conversation and all its messages by title.",
				Location:    tools.LocationServer,
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"title": map[string]any{
							"type":        "string",
							"description": "Title of the conversation to retrieve.",
						},
					},
					"required": []string{"title"},
				},
			},
			handler: a.getConversation,
		},
		{
			desc: tools.Descriptor{
				Toolbelt:    Toolbelt,
				Name:        "search_conversations",
				Description: "Searches past conversations by a keyword in their title or summary.",
				Location:    tools.LocationServer,
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"keyword": map[string]any{
							"type":        "string",
							"description": "Keyword to search for, case-insensitive.",
						},
					},
					"required": []string{"keyword"},
				},
			},
			handler: a.searchConversations,
		},
	}

	for _, e := range entries {
		if err := r.Register(e.desc, e.handler); err != nil {
			return fmt.Errorf("register %s/%s: %w", e.desc.Toolbelt, e.desc.Name, err)
		}
	}
	return nil
}

func (a *archive) listConversations(ctx context.Context, _ json.RawMessage) (string, error) {
	device, ok := auth.DeviceFrom(ctx)
	if !ok {
		return "", fmt.Errorf("no device in context")
	}
	convs, err := a.store.Conversations(ctx, device)
	if err != nil {
		return "", err
	}
	return renderList(convs), nil
}

func (a *archive) getConversation(ctx context.Context, raw json.RawMessage) (string, error) {
	device, ok := auth.DeviceFrom(ctx)
	if !ok {
		return "", fmt.Errorf("no device in context")
	}
	var args struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if strings.TrimSpace(args.Title) == "" {
		return "", fmt.Errorf("title is required")
	}

	conv, err := a.store.ConversationByTitle(ctx, device, args.Title)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Sprintf("no conversation titled %q", args.Title), nil
	}
	if err != nil {
		return "", err
	}
	messages, err := a.store.MessagesFor(ctx, conv.ID)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "title: %s\n", conv.Title)
	if conv.Summary != "" {
		fmt.Fprintf(&b, "summary: %s\n", conv.Summary)
	}
	b.WriteString("\nmessages:\n")
	for _, msg := range messages {
		if msg.Content == "" {
			continue
		}
		fmt.Fprintf(&b, "\nrole: %s\nmessage: %s\n", msg.Role, msg.Content)
	}
	return b.String(), nil
}

func (a *archive) searchConversations(ctx context.Context, raw json.RawMessage) (string, error) {
	device, ok := auth.DeviceFrom(ctx)
	if !ok {
		return "", fmt.Errorf("no device in context")
	}
	var args struct {
		Keyword string `json:"keyword"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if strings.TrimSpace(args.Keyword) == "" {
		return "", fmt.Errorf("keyword is required")
	}

	convs, err := a.store.SearchConversations(ctx, device, strings.TrimSpace(args.Keyword))
	if err != nil {
		return "", err
	}
	return renderList(convs), nil
}

func renderList(convs []store.Conversation) string {
	if len(convs) == 0 {
		return "no conversations"
	}
	var b strings.Builder
	for _, c := range convs {
		title := c.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Fprintf(&b, "- [%d] %s", c.ID, title)
		if c.Summary != "" {
			fmt.Fprintf(&b, ": %s", c.Summary)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}
