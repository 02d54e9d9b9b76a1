package tools_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/tweenson/artificer/tools"
)

func noopHandler(_ context.Context, _ json.RawMessage) (string, error) {
	return "", nil
}

func serverTool(toolbelt, name string) tools.Descriptor {
	return tools.Descriptor{
		Toolbelt:    toolbelt,
		Name:        name,
		Description: "test tool",
		Location:    tools.LocationServer,
		Parameters:  map[string]any{"type": "object"},
	}
}

func TestRegisterValidation(t *testing.T) {
	tests := []struct {
		name    string
		desc    tools.Descriptor
		handler tools.Handler
		wantErr error
	}{
		{
			name:    "missing name",
			desc:    tools.Descriptor{Toolbelt: "web", Location: tools.LocationServer},
			handler: noopHandler,
			wantErr: tools.ErrEmptyName,
		},
		{
			name:    "missing toolbelt",
			desc:    tools.Descriptor{Name: "search", Location: tools.LocationServer},
			handler: noopHandler,
			wantErr: tools.ErrEmptyName,
		},
		{
			name:    "bad location",
			desc:    tools.Descriptor{Toolbelt: "web", Name: "search", Location: "remote"},
			handler: noopHandler,
			wantErr: tools.ErrBadLocation,
		},
		{
			name:    "server without handler",
			desc:    serverTool("web", "search"),
			wantErr: tools.ErrNoHandler,
		},
		{
			name: "client with handler",
			desc: tools.Descriptor{
				Toolbelt: "files", Name: "read_file", Location: tools.LocationClient,
			},
			handler: noopHandler,
			wantErr: tools.ErrClientHandler,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := tools.NewRegistry()
			err := r.Register(tt.desc, tt.handler)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Register() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRegisterDuplicate(t *testing.T) {
	r := tools.NewRegistry()
	if err := r.Register(serverTool("web", "search"), noopHandler); err != nil {
		t.Fatalf("first register: %v", err)
	}
	err := r.Register(serverTool("other", "search"), noopHandler)
	if !errors.Is(err, tools.ErrAlreadyExists) {
		t.Errorf("duplicate register error = %v, want ErrAlreadyExists", err)
	}
}

func TestRegisterAfterFreeze(t *testing.T) {
	r := tools.NewRegistry()
	r.Freeze()
	err := r.Register(serverTool("web", "search"), noopHandler)
	if !errors.Is(err, tools.ErrFrozen) {
		t.Errorf("register after freeze error = %v, want ErrFrozen", err)
	}
}

func TestLookupScopedByToolbelt(t *testing.T) {
	r := tools.NewRegistry()
	if err := r.Register(serverTool("web", "search"), noopHandler); err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, ok := r.Lookup("web", "search"); !ok {
		t.Error("Lookup(web, search) not found")
	}
	if _, ok := r.Lookup("files", "search"); ok {
		t.Error("Lookup(files, search) found tool from another toolbelt")
	}
	if _, ok := r.Find("search"); !ok {
		t.Error("Find(search) not found")
	}
}

func TestHandlerOnlyForServerTools(t *testing.T) {
	r := tools.NewRegistry()
	if err := r.Register(serverTool("web", "search"), noopHandler); err != nil {
		t.Fatalf("register server: %v", err)
	}
	client := tools.Descriptor{Toolbelt: "files", Name: "read_file", Location: tools.LocationClient}
	if err := r.Register(client, nil); err != nil {
		t.Fatalf("register client: %v", err)
	}

	if _, ok := r.Handler("search"); !ok {
		t.Error("Handler(search) not found")
	}
	if _, ok := r.Handler("read_file"); ok {
		t.Error("Handler(read_file) returned a handler for a client tool")
	}
}

func TestCatalogOrderAndFilters(t *testing.T) {
	r := tools.NewRegistry()
	descs := []tools.Descriptor{
		serverTool("web", "search"),
		{Toolbelt: "files", Name: "read_file", Location: tools.LocationClient},
		serverTool("web", "fetch"),
	}
	for _, d := range descs {
		var h tools.Handler
		if d.Location == tools.LocationServer {
			h = noopHandler
		}
		if err := r.Register(d, h); err != nil {
			t.Fatalf("register %s: %v", d.Name, err)
		}
	}
	r.Freeze()

	catalog := r.Catalog()
	if len(catalog) != 3 {
		t.Fatalf("catalog size = %d, want 3", len(catalog))
	}
	for i, want := range []string{"search", "read_file", "fetch"} {
		if catalog[i].Name != want {
			t.Errorf("catalog[%d] = %q, want %q", i, catalog[i].Name, want)
		}
	}

	clientOnly := r.CatalogFor(tools.LocationClient)
	if len(clientOnly) != 1 || clientOnly[0].Name != "read_file" {
		t.Errorf("CatalogFor(client) = %v", clientOnly)
	}

	web := r.Toolbelt("web")
	if len(web) != 2 || web[0].Name != "search" || web[1].Name != "fetch" {
		t.Errorf("Toolbelt(web) = %v", web)
	}
}
