package router_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/tweenson/artificer/core/protocol"
	"github.com/tweenson/artificer/pipeline"
	"github.com/tweenson/artificer/router"
	"github.com/tweenson/artificer/specialist"
)

// plannerStub answers every routing call with the same response.
type plannerStub struct {
	resp  *specialist.ResponseMessage
	err   error
	tools []protocol.Tool
}

func (p *plannerStub) Chat(_ context.Context, _ specialist.Specialist, _ []protocol.Message, toolset []protocol.Tool) (*specialist.ResponseMessage, error) {
	p.tools = toolset
	return p.resp, p.err
}

func (p *plannerStub) ChatStream(ctx context.Context, spec specialist.Specialist, messages []protocol.Message, toolset []protocol.Tool, _ specialist.StreamFunc) (*specialist.ResponseMessage, error) {
	return p.Chat(ctx, spec, messages, toolset)
}

func planResponse(t *testing.T, steps ...map[string]string) *specialist.ResponseMessage {
	t.Helper()
	args, err := json.Marshal(map[string]any{"steps": steps})
	if err != nil {
		t.Fatalf("marshal plan: %v", err)
	}
	return &specialist.ResponseMessage{
		Role:      protocol.RoleAssistant,
		ToolCalls: []protocol.ToolCall{{Name: "plan_tasks", Arguments: args}},
	}
}

func newRouter(t *testing.T, gen specialist.Generator) *router.Router {
	t.Helper()
	registry, err := specialist.NewRegistry([]specialist.Specialist{
		{Name: "scout", Model: "m", Endpoint: "http://localhost:1", Tier: specialist.TierRouting, MaxConcurrent: 1},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return router.New(registry, gen)
}

func TestRouteEmptyMessage(t *testing.T) {
	r := newRouter(t, &plannerStub{})
	for _, msg := range []string{"", "   ", "\n\t"} {
		if _, err := r.Route(context.Background(), msg, nil); !errors.Is(err, router.ErrEmptyMessage) {
			t.Errorf("Route(%q) error = %v, want ErrEmptyMessage", msg, err)
		}
	}
}

func TestRoutePlannedPipeline(t *testing.T) {
	stub := &plannerStub{resp: planResponse(t,
		map[string]string{"task": "web_research", "directions": "find the weather in Denver"},
		map[string]string{"task": "summarizer", "directions": "condense to one line", "criticality": "best_effort"},
	)}
	r := newRouter(t, stub)

	p, err := r.Route(context.Background(), "what's the weather in Denver?", nil)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if len(p) != 2 {
		t.Fatalf("steps = %d, want 2", len(p))
	}
	if p[0].Type != pipeline.TaskWebResearch || p[0].Criticality != pipeline.Blocking {
		t.Errorf("step 0 = %+v", p[0])
	}
	if p[1].Type != pipeline.TaskSummarizer || p[1].Criticality != pipeline.BestEffort {
		t.Errorf("step 1 = %+v", p[1])
	}
	if p[0].Input != "find the weather in Denver" {
		t.Errorf("step 0 input = %q", p[0].Input)
	}

	if len(stub.tools) != 1 || stub.tools[0].Name != "plan_tasks" {
		t.Errorf("advertised tools = %+v, want only plan_tasks", stub.tools)
	}
}

func TestRouteFallsBackToChat(t *testing.T) {
	tooMany := make([]map[string]string, 6)
	for i := range tooMany {
		tooMany[i] = map[string]string{"task": "chat", "directions": "step"}
	}

	tests := []struct {
		name string
		stub *plannerStub
	}{
		{"generator error", &plannerStub{err: errors.New("endpoint down")}},
		{"no tool call", &plannerStub{resp: &specialist.ResponseMessage{Role: protocol.RoleAssistant, Content: "sure!"}}},
		{"unparseable plan", &plannerStub{resp: &specialist.ResponseMessage{
			Role:      protocol.RoleAssistant,
			ToolCalls: []protocol.ToolCall{{Name: "plan_tasks", Arguments: json.RawMessage(`{"steps": "oops"}`)}},
		}}},
		{"unknown task type", &plannerStub{resp: planResponse(t,
			map[string]string{"task": "world_domination", "directions": "x"},
		)}},
		{"background task type", &plannerStub{resp: planResponse(t,
			map[string]string{"task": "title_generation", "directions": "x"},
		)}},
		{"missing directions", &plannerStub{resp: planResponse(t,
			map[string]string{"task": "chat", "directions": ""},
		)}},
		{"empty plan", &plannerStub{resp: planResponse(t)}},
		{"too many steps", &plannerStub{resp: planResponse(t, tooMany...)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRouter(t, tt.stub)
			p, err := r.Route(context.Background(), "hello there", nil)
			if err != nil {
				t.Fatalf("Route: %v", err)
			}
			if len(p) != 1 || p[0].Type != pipeline.TaskChat {
				t.Fatalf("fallback = %+v, want single chat step", p)
			}
			if p[0].Input != "hello there" {
				t.Errorf("fallback input = %q, want raw message", p[0].Input)
			}
			if p[0].Criticality != pipeline.Blocking {
				t.Errorf("fallback criticality = %v, want Blocking", p[0].Criticality)
			}
		})
	}
}

func TestRouteDeterministic(t *testing.T) {
	stub := &plannerStub{resp: planResponse(t,
		map[string]string{"task": "web_research", "directions": "look"},
	)}
	r := newRouter(t, stub)

	first, err := r.Route(context.Background(), "same message", nil)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	second, err := r.Route(context.Background(), "same message", nil)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("step %d differs: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestRouteReleasesRoutingLease(t *testing.T) {
	stub := &plannerStub{err: errors.New("down")}
	r := newRouter(t, stub)

	// Routing capacity is 1; repeated routes would deadlock if the lease
	// leaked.
	for i := 0; i < 3; i++ {
		if _, err := r.Route(context.Background(), "msg", nil); err != nil {
			t.Fatalf("route %d: %v", i, err)
		}
	}
}
