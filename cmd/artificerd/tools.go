package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tweenson/artificer/archivist"
	"github.com/tweenson/artificer/store"
	"github.com/tweenson/artificer/tools"
)

func registerTools(st *store.Store) (*tools.Registry, error) {
	r := tools.NewRegistry()

	register := func(desc tools.Descriptor, handler tools.Handler) error {
		if err := r.Register(desc, handler); err != nil {
			return fmt.Errorf("register %s/%s: %w", desc.Toolbelt, desc.Name, err)
		}
		return nil
	}

	if err := archivist.Register(r, st); err != nil {
		return nil, err
	}

	if err := register(tools.Descriptor{
		Toolbelt:    "datetime",
		Name:        "datetime",
		Description: "Returns the current date and time in RFC3339 format.",
		Location:    tools.LocationServer,
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	}, handleDatetime); err != nil {
		return nil, err
	}

	if err := register(tools.Descriptor{
		Toolbelt:    "web_search",
		Name:        "web_search",
		Description: "Searches the web and returns a short answer with related results.",
		Location:    tools.LocationServer,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "The search query.",
				},
			},
			"required": []string{"query"},
		},
	}, handleWebSearch); err != nil {
		return nil, err
	}

	// file_smith tools run on the device; the server only forwards them.
	clientTools := []tools.Descriptor{
		{
			Toolbelt:    "file_smith",
			Name:        "read_file",
			Description: "Reads the contents of a file on the user's device.",
			Location:    tools.LocationClient,
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{
						"type":        "string",
						"description": "Absolute or relative path to the file to read.",
					},
				},
				"required": []string{"path"},
			},
		},
		{
			Toolbelt:    "file_smith",
			Name:        "list_directory",
			Description: "Lists files and directories on the user's device.",
			Location:    tools.LocationClient,
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{
						"type":        "string",
						"description": "Absolute or relative path to the directory to list.",
					},
				},
				"required": []string{"path"},
			},
		},
		{
			Toolbelt:    "file_smith",
			Name:        "write_file",
			Description: "Writes content to a file on the user's device.",
			Location:    tools.LocationClient,
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{
						"type":        "string",
						"description": "Path of the file to write.",
					},
					"content": map[string]any{
						"type":        "string",
						"description": "Content to write.",
					},
				},
				"required": []string{"path", "content"},
			},
		},
	}
	for _, desc := range clientTools {
		if err := register(desc, nil); err != nil {
			return nil, err
		}
	}

	r.Freeze()
	return r, nil
}

func handleDatetime(_ context.Context, _ json.RawMessage) (string, error) {
	return time.Now().Format(time.RFC3339), nil
}

var searchClient = &http.Client{Timeout: 15 * time.Second}

// handleWebSearch queries the DuckDuckGo instant answer API.
func handleWebSearch(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if strings.TrimSpace(args.Query) == "" {
		return "", fmt.Errorf("query is required")
	}

	u := "https://api.duckduckgo.com/?format=json&no_html=1&q=" + url.QueryEscape(args.Query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	resp, err := searchClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("search failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("search failed: %s", resp.Status)
	}

	var answer struct {
		AbstractText  string `json:"AbstractText"`
		AbstractURL   string `json:"AbstractURL"`
		Answer        string `json:"Answer"`
		RelatedTopics []struct {
			Text     string `json:"Text"`
			FirstURL string `json:"FirstURL"`
		} `json:"RelatedTopics"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&answer); err != nil {
		return "", fmt.Errorf("decode search response: %w", err)
	}

	var b strings.Builder
	if answer.Answer != "" {
		fmt.Fprintf(&b, "%s\n", answer.Answer)
	}
	if answer.AbstractText != "" {
		fmt.Fprintf(&b, "%s (%s)\n", answer.AbstractText, answer.AbstractURL)
	}
	count := 0
	for _, topic := range answer.RelatedTopics {
		if topic.Text == "" {
			continue
		}
		fmt.Fprintf(&b, "- %s (%s)\n", topic.Text, topic.FirstURL)
		if count++; count == 5 {
			break
		}
	}
	if b.Len() == 0 {
		return "no results", nil
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
