package memory

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// NamespaceFacts is the key prefix under which user facts are stored.
const NamespaceFacts = "facts"

// Fact is one durable statement about the user, keyed for overwrite on
// re-extraction.
type Fact struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// FactKey maps a fact key to its store key.
func FactKey(key string) string {
	return NamespaceFacts + "/" + key
}

// ParseFacts decodes a memory-extraction reply. Code fences around the
// JSON are tolerated; entries without both key and value are dropped.
func ParseFacts(text string) ([]Fact, error) {
	text = strings.TrimSpace(text)
	if after, ok := strings.CutPrefix(text, "```json"); ok {
		text = after
	} else if after, ok := strings.CutPrefix(text, "```"); ok {
		text = after
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	text = strings.TrimSpace(text)

	var parsed []Fact
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return nil, fmt.Errorf("unparseable facts: %w", err)
	}

	out := parsed[:0]
	for _, f := range parsed {
		f.Key = sanitizeKey(f.Key)
		if f.Key == "" || f.Value == "" {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

// sanitizeKey keeps fact keys safe as path segments.
func sanitizeKey(key string) string {
	key = strings.TrimSpace(strings.ToLower(key))
	var b strings.Builder
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '_', r == '.':
			b.WriteRune('_')
		}
	}
	return strings.Trim(b.String(), "_")
}

// RenderFacts formats facts for inclusion in a task system prompt.
// Returns the empty string when there is nothing to render.
func RenderFacts(facts []Fact) string {
	if len(facts) == 0 {
		return ""
	}
	sorted := make([]Fact, len(facts))
	copy(sorted, facts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	var b strings.Builder
	b.WriteString("Known facts about the user:\n")
	for _, f := range sorted {
		fmt.Fprintf(&b, "- %s: %s\n", f.Key, f.Value)
	}
	return strings.TrimRight(b.String(), "\n")
}
