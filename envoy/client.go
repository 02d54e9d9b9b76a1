// Package envoy implements the device-side collaborator: it registers
// with the server, streams chat, and executes tools forwarded to the
// client.
package envoy

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tweenson/artificer/dispatch"
	"github.com/tweenson/artificer/events"
	"github.com/tweenson/artificer/tools"
)

// ErrUnauthorized is returned when the server rejects the device's
// credentials even after re-registration.
var ErrUnauthorized = errors.New("envoy: unauthorized")

// Credentials identify the device to the server.
type Credentials struct {
	DeviceID  string `json:"device_id" yaml:"device_id"`
	DeviceKey string `json:"device_key" yaml:"device_key"`
}

// Client talks to an artificer server on behalf of one device. Tools
// the server forwards to the client run from the local registry; they
// are registered with the server execution location there since they run
// in this process.
type Client struct {
	base  string
	name  string
	creds Credentials
	local *tools.Registry
	http  *http.Client
	out   io.Writer
}

// New creates a Client for the server at base.
func New(base, name string, local *tools.Registry, out io.Writer) *Client {
	return &Client{
		base:  strings.TrimRight(base, "/"),
		name:  name,
		local: local,
		http:  &http.Client{Timeout: 0},
		out:   out,
	}
}

// Credentials returns the device's current credentials.
func (c *Client) Credentials() Credentials {
	return c.creds
}

// SetCredentials installs previously saved credentials.
func (c *Client) SetCredentials(creds Credentials) {
	c.creds = creds
}

// Register obtains credentials for the device name. Idempotent on the
// server side: re-registering the same name returns the original
// credentials.
func (c *Client) Register(ctx context.Context) error {
	body, err := c.postJSON(ctx, "/devices/register", map[string]any{"name": c.name})
	if err != nil {
		return err
	}
	defer body.Close()

	var creds Credentials
	if err := json.NewDecoder(body).Decode(&creds); err != nil {
		return fmt.Errorf("decode registration: %w", err)
	}
	c.creds = creds
	return nil
}

// Chat sends a message and consumes the resulting event stream, printing
// frames and executing forwarded client tools. Returns the conversation
// id reported by the terminal frame. A rejected credential triggers one
// re-registration and retry.
func (c *Client) Chat(ctx context.Context, conversationID int64, message string) (int64, error) {
	conv, err := c.chatOnce(ctx, conversationID, message)
	if !errors.Is(err, ErrUnauthorized) {
		return conv, err
	}
	if err := c.Register(ctx); err != nil {
		return 0, err
	}
	return c.chatOnce(ctx, conversationID, message)
}

func (c *Client) chatOnce(ctx context.Context, conversationID int64, message string) (int64, error) {
	payload := map[string]any{
		"device_id":       c.creds.DeviceID,
		"device_key":      c.creds.DeviceKey,
		"conversation_id": conversationID,
		"message":         message,
		"stream":          true,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/chat", bytes.NewReader(data))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return 0, ErrUnauthorized
	default:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("chat failed: %s: %s", resp.Status, strings.TrimSpace(string(detail)))
	}

	return c.consume(ctx, resp.Body)
}

// consume reads SSE frames until a terminal event.
func (c *Client) consume(ctx context.Context, body io.Reader) (int64, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var conv int64
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}

		var ev events.Event
		if err := json.Unmarshal([]byte(strings.TrimSpace(data)), &ev); err != nil {
			continue
		}

		done, id, err := c.handle(ctx, ev)
		if id != 0 {
			conv = id
		}
		if err != nil {
			return conv, err
		}
		if done {
			return conv, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return conv, fmt.Errorf("stream read: %w", err)
	}
	return conv, errors.New("stream ended without terminal event")
}

// handle processes one frame. Returns done for terminal frames and the
// conversation id when the frame carries one.
func (c *Client) handle(ctx context.Context, ev events.Event) (bool, int64, error) {
	switch ev.Kind {
	case events.KindTaskSwitch:
		var p events.TaskSwitchPayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			fmt.Fprintf(c.out, "\n[%s]\n", p.To)
		}
	case events.KindContentChunk:
		var p events.ContentChunkPayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			fmt.Fprint(c.out, p.Content)
		}
	case events.KindToolCall:
		var p events.ToolCallPayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			fmt.Fprintf(c.out, "\n[tool %s/%s]\n", p.Toolbelt, p.Tool)
			if p.Location == string(tools.LocationClient) {
				c.runForwarded(ctx, p)
			}
		}
	case events.KindToolResult:
		var p events.ToolResultPayload
		if json.Unmarshal(ev.Payload, &p) == nil && p.IsError {
			fmt.Fprintf(c.out, "[tool error: %s]\n", p.Result)
		}
	case events.KindError:
		var p events.ErrorPayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			fmt.Fprintf(c.out, "\n[error: %s]\n", p.Message)
			if p.Terminal {
				return true, 0, fmt.Errorf("pipeline failed: %s", p.Message)
			}
		}
	case events.KindDone:
		var p events.DonePayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			fmt.Fprintln(c.out)
			return true, p.ConversationID, nil
		}
		return true, 0, nil
	case events.KindCancelled:
		fmt.Fprintln(c.out, "\n[cancelled]")
		return true, 0, nil
	}
	return false, 0, nil
}

// runForwarded executes a forwarded tool locally and posts the result
// back. Failures are reported to the server as tool errors, never
// swallowed: the pipeline is waiting on the correlation id.
func (c *Client) runForwarded(ctx context.Context, p events.ToolCallPayload) {
	res := dispatch.ClientResult{CorrelationID: p.CorrelationID}

	handler, ok := c.local.Handler(p.Tool)
	if !ok {
		res.Error = fmt.Sprintf("tool %q not available on this device", p.Tool)
	} else {
		execCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		value, err := handler(execCtx, p.Args)
		cancel()
		if err != nil {
			res.Error = err.Error()
		} else {
			res.Value = value
		}
	}

	if err := c.postResult(ctx, res); err != nil {
		fmt.Fprintf(c.out, "[tool result post failed: %v]\n", err)
	}
}

func (c *Client) postResult(ctx context.Context, res dispatch.ClientResult) error {
	body, err := c.postJSON(ctx, "/tools/result", map[string]any{
		"device_id":      c.creds.DeviceID,
		"device_key":     c.creds.DeviceKey,
		"correlation_id": res.CorrelationID,
		"value":          res.Value,
		"error":          res.Error,
	})
	if err != nil {
		return err
	}
	return body.Close()
}

// postJSON posts a JSON body and returns the response body for 2xx
// statuses.
func (c *Client) postJSON(ctx context.Context, path string, payload any) (io.ReadCloser, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		return nil, ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("%s: %s: %s", path, resp.Status, strings.TrimSpace(string(detail)))
	}
	return resp.Body, nil
}
