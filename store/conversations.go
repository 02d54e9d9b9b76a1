package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tweenson/artificer/core/protocol"
)

// Conversation is one persisted chat thread.
type Conversation struct {
	ID        int64
	DeviceID  string
	Title     string
	Summary   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreateConversation starts a new conversation for a device.
func (s *Store) CreateConversation(ctx context.Context, deviceID string) (Conversation, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (device_id, created_at, updated_at) VALUES (?, ?, ?)`,
		deviceID, now, now)
	if err != nil {
		return Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return Conversation{ID: id, DeviceID: deviceID, CreatedAt: now, UpdatedAt: now}, nil
}

// ConversationByID fetches one conversation.
func (s *Store) ConversationByID(ctx context.Context, id int64) (Conversation, error) {
	var c Conversation
	err := s.db.QueryRowContext(ctx,
		`SELECT id, device_id, title, summary, created_at, updated_at
		 FROM conversations WHERE id = ?`, id).
		Scan(&c.ID, &c.DeviceID, &c.Title, &c.Summary, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("fetch conversation: %w", err)
	}
	return c, nil
}

// Conversations lists a device's conversations, most recently updated
// first.
func (s *Store) Conversations(ctx context.Context, deviceID string) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, device_id, title, summary, created_at, updated_at
		 FROM conversations WHERE device_id = ? ORDER BY updated_at DESC`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.DeviceID, &c.Title, &c.Summary, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ConversationByTitle fetches a device's conversation by its exact title,
// preferring the most recently updated on a duplicate.
func (s *Store) ConversationByTitle(ctx context.Context, deviceID, title string) (Conversation, error) {
	var c Conversation
	err := s.db.QueryRowContext(ctx,
		`SELECT id, device_id, title, summary, created_at, updated_at
		 FROM conversations WHERE device_id = ? AND title = ?
		 ORDER BY updated_at DESC LIMIT 1`, deviceID, title).
		Scan(&c.ID, &c.DeviceID, &c.Title, &c.Summary, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("fetch conversation: %w", err)
	}
	return c, nil
}

// SearchConversations lists a device's conversations whose title or
// summary contains the term, case-insensitively, most recent first.
func (s *Store) SearchConversations(ctx context.Context, deviceID, term string) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, device_id, title, summary, created_at, updated_at
		 FROM conversations
		 WHERE device_id = ? AND (title LIKE '%' || ? || '%' OR summary LIKE '%' || ? || '%')
		 ORDER BY updated_at DESC`, deviceID, term, term)
	if err != nil {
		return nil, fmt.Errorf("search conversations: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.DeviceID, &c.Title, &c.Summary, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SetTitle stores a conversation's title.
func (s *Store) SetTitle(ctx context.Context, id int64, title string) error {
	return s.updateConversation(ctx, id, "title", title)
}

// SetSummary stores a conversation's summary.
func (s *Store) SetSummary(ctx context.Context, id int64, summary string) error {
	return s.updateConversation(ctx, id, "summary", summary)
}

func (s *Store) updateConversation(ctx context.Context, id int64, column, value string) error {
	res, err := s.db.ExecContext(ctx,
		// column is one of the two fixed names above, never user input.
		fmt.Sprintf(`UPDATE conversations SET %s = ?, updated_at = ? WHERE id = ?`, column),
		value, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendMessage persists one message and touches the conversation.
func (s *Store) AppendMessage(ctx context.Context, conversationID int64, msg protocol.Message) error {
	toolCalls := ""
	if len(msg.ToolCalls) > 0 {
		data, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return fmt.Errorf("encode tool calls: %w", err)
		}
		toolCalls = string(data)
	}

	now := time.Now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, role, content, tool_call_id, tool_calls, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		conversationID, string(msg.Role), msg.Content, msg.ToolCallID, toolCalls, now); err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`, now, conversationID); err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return tx.Commit()
}

// MessagesFor returns a conversation's messages in insertion order.
func (s *Store) MessagesFor(ctx context.Context, conversationID int64) ([]protocol.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, tool_call_id, tool_calls
		 FROM messages WHERE conversation_id = ? ORDER BY id`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []protocol.Message
	for rows.Next() {
		var role, content, toolCallID, toolCalls string
		if err := rows.Scan(&role, &content, &toolCallID, &toolCalls); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg := protocol.Message{
			Role:       protocol.Role(role),
			Content:    content,
			ToolCallID: toolCallID,
		}
		if toolCalls != "" {
			if err := json.Unmarshal([]byte(toolCalls), &msg.ToolCalls); err != nil {
				return nil, fmt.Errorf("decode tool calls: %w", err)
			}
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}
