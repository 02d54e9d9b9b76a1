package specialist

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/tweenson/artificer/core/protocol"
)

// ChatRequest is the generation request sent to a specialist endpoint.
type ChatRequest struct {
	Model    string             `json:"model"`
	Messages []protocol.Message `json:"messages"`
	Stream   bool               `json:"stream"`
	Tools    []protocol.Tool    `json:"tools,omitempty"`
}

// ResponseMessage is the assistant turn produced by a specialist.
type ResponseMessage struct {
	Role      protocol.Role       `json:"role"`
	Content   string              `json:"content"`
	ToolCalls []protocol.ToolCall `json:"tool_calls,omitempty"`
}

// Message converts the response into a conversation message.
func (m *ResponseMessage) Message() protocol.Message {
	return protocol.Message{
		Role:      m.Role,
		Content:   m.Content,
		ToolCalls: m.ToolCalls,
	}
}

type chatResponse struct {
	Message ResponseMessage `json:"message"`
}

// streamChunk is one NDJSON line of a streaming response.
type streamChunk struct {
	Message ResponseMessage `json:"message"`
	Done    bool            `json:"done"`
}

// StreamFunc receives streamed content chunks in generation order.
type StreamFunc func(content string)

// Generator abstracts specialist endpoint calls for testability. The
// default implementation is Client.
type Generator interface {
	// Chat performs a single non-streaming generation call.
	Chat(ctx context.Context, spec Specialist, messages []protocol.Message, toolset []protocol.Tool) (*ResponseMessage, error)
	// ChatStream performs a streaming generation call, invoking onChunk for
	// each content chunk in order. The returned message carries the full
	// accumulated content. The stream is finite and not restartable.
	ChatStream(ctx context.Context, spec Specialist, messages []protocol.Message, toolset []protocol.Tool, onChunk StreamFunc) (*ResponseMessage, error)
}

// Client speaks the endpoint chat protocol: POST {endpoint}/api/chat with a
// JSON body; streaming responses arrive as newline-delimited JSON chunks.
type Client struct {
	http *http.Client
}

// NewClient creates a Client. The timeout bounds non-streaming calls and
// connection establishment; streaming reads are bounded by ctx.
func NewClient(timeout time.Duration) *Client {
	return &Client{
		http: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: timeout}).DialContext,
			},
		},
	}
}

func (c *Client) Chat(ctx context.Context, spec Specialist, messages []protocol.Message, toolset []protocol.Tool) (*ResponseMessage, error) {
	body, err := c.post(ctx, spec, ChatRequest{
		Model:    spec.Model,
		Messages: messages,
		Tools:    toolset,
	})
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var resp chatResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode response from %s: %w", spec.Name, err)
	}
	return &resp.Message, nil
}

func (c *Client) ChatStream(ctx context.Context, spec Specialist, messages []protocol.Message, toolset []protocol.Tool, onChunk StreamFunc) (*ResponseMessage, error) {
	body, err := c.post(ctx, spec, ChatRequest{
		Model:    spec.Model,
		Messages: messages,
		Stream:   true,
		Tools:    toolset,
	})
	if err != nil {
		return nil, err
	}
	defer body.Close()

	final := &ResponseMessage{Role: protocol.RoleAssistant}
	var content strings.Builder

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var chunk streamChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return nil, fmt.Errorf("decode stream chunk from %s: %w", spec.Name, err)
		}

		if chunk.Message.Role != "" {
			final.Role = chunk.Message.Role
		}
		if chunk.Message.Content != "" {
			content.WriteString(chunk.Message.Content)
			if onChunk != nil {
				onChunk(chunk.Message.Content)
			}
		}
		if len(chunk.Message.ToolCalls) > 0 {
			final.ToolCalls = chunk.Message.ToolCalls
		}
		if chunk.Done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreachable, spec.Name, err)
	}

	final.Content = content.String()
	return final, nil
}

func (c *Client) post(ctx context.Context, spec Specialist, request ChatRequest) (io.ReadCloser, error) {
	payload, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("encode request for %s: %w", spec.Name, err)
	}

	url := strings.TrimRight(spec.Endpoint, "/") + "/api/chat"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", spec.Name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreachable, spec.Name, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: %s returned %d: %s", ErrUnreachable, spec.Name, resp.StatusCode, bytes.TrimSpace(detail))
	}
	return resp.Body, nil
}
