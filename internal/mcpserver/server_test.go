package mcpserver

import (
	"context"
	"sort"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/aristath/taskforge/internal/events"
	"github.com/aristath/taskforge/internal/permission"
	"github.com/aristath/taskforge/internal/tools"
)

type stubTool struct {
	name  string
	perm  permission.Permission
	calls atomic.Int32
	seen  atomic.Value // last tools.Context
}

func (s *stubTool) Definition() mcp.Tool {
	return mcp.NewTool(s.name,
		mcp.WithDescription("Stub "+s.name),
		mcp.WithString("text", mcp.Required(), mcp.Description("Input text")),
	)
}

func (s *stubTool) Permission() permission.Permission { return s.perm }

func (s *stubTool) Execute(ctx context.Context, args map[string]any, tctx tools.Context) (any, error) {
	s.calls.Add(1)
	s.seen.Store(tctx)
	return s.name + ":" + args["text"].(string), nil
}

type fixture struct {
	echo   *stubTool
	writer *stubTool
	spawn  *stubTool
	bus    *events.EventBus
	client *client.Client
}

func newFixture(t *testing.T, gate *permission.Gate, cfg Config) *fixture {
	t.Helper()

	f := &fixture{
		echo:   &stubTool{name: "echo", perm: permission.Read},
		writer: &stubTool{name: "writer", perm: permission.Write},
		spawn:  &stubTool{name: "spawner", perm: permission.Spawn},
		bus:    events.NewEventBus(),
	}
	t.Cleanup(f.bus.Close)

	reg := tools.NewRegistry()
	reg.MustRegister(f.echo, f.writer, f.spawn)
	exec := tools.NewExecutor(reg, gate, tools.WithEventBus(f.bus))

	f.client = connect(t, New(exec, cfg))
	return f
}

func connect(t *testing.T, s *server.MCPServer) *client.Client {
	t.Helper()
	ctx := context.Background()

	c, err := client.NewInProcessClient(s)
	if err != nil {
		t.Fatalf("NewInProcessClient failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "test", Version: "1.0.0"}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	return c
}

func call(t *testing.T, c *client.Client, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	res, err := c.CallTool(context.Background(), req)
	if err != nil {
		t.Fatalf("CallTool(%s) failed: %v", name, err)
	}
	return res
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("result has no content")
	}
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content is %T, want mcp.TextContent", res.Content[0])
	}
	return tc.Text
}

func TestListToolsFiltersByPermission(t *testing.T) {
	tests := []struct {
		name  string
		cfg   Config
		wants []string
	}{
		{
			name:  "read only",
			cfg:   Config{Permissions: permission.Set{permission.Read}},
			wants: []string{"echo"},
		},
		{
			name:  "read and write",
			cfg:   Config{Permissions: permission.Set{permission.Read, permission.Write}},
			wants: []string{"echo", "writer"},
		},
		{
			name:  "spawn never exposed",
			cfg:   Config{Permissions: permission.Set{permission.Read, permission.Spawn}},
			wants: []string{"echo"},
		},
		{
			name:  "allow list",
			cfg:   Config{Permissions: permission.Set{permission.Read, permission.Write}, AllowedTools: []string{"writer"}},
			wants: []string{"writer"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, permission.NewGate(permission.ModeAuto, nil), tt.cfg)

			res, err := f.client.ListTools(context.Background(), mcp.ListToolsRequest{})
			if err != nil {
				t.Fatalf("ListTools failed: %v", err)
			}
			var names []string
			for _, tool := range res.Tools {
				names = append(names, tool.Name)
			}
			sort.Strings(names)
			if strings.Join(names, ",") != strings.Join(tt.wants, ",") {
				t.Errorf("tools = %v, want %v", names, tt.wants)
			}
		})
	}
}

func TestCallToolSuccess(t *testing.T) {
	f := newFixture(t, permission.NewGate(permission.ModeAuto, nil), Config{
		Permissions: permission.Set{permission.Read},
		WorkDir:     t.TempDir(),
	})
	toolEvents := f.bus.Subscribe(events.TopicTool, 4)

	res := call(t, f.client, "echo", map[string]any{"text": "hi"})
	if res.IsError {
		t.Fatalf("unexpected error result: %s", text(t, res))
	}
	if got := text(t, res); got != "echo:hi" {
		t.Errorf("output = %q, want echo:hi", got)
	}

	tctx := f.echo.seen.Load().(tools.Context)
	if tctx.AgentType != DefaultAgentType || tctx.TaskIndex != -1 {
		t.Errorf("tool context = %+v", tctx)
	}
	if tctx.FS == nil {
		t.Error("expected a default filesystem")
	}

	event := (<-toolEvents).(events.ToolExecutedEvent)
	if !event.OK || event.AgentType != DefaultAgentType {
		t.Errorf("tool event = %+v", event)
	}
}

func TestCallToolValidationError(t *testing.T) {
	f := newFixture(t, permission.NewGate(permission.ModeAuto, nil), Config{
		Permissions: permission.Set{permission.Read},
	})

	res := call(t, f.client, "echo", map[string]any{})
	if !res.IsError {
		t.Fatal("expected error result for missing argument")
	}
	if got := text(t, res); !strings.Contains(got, string(tools.KindValidation)) {
		t.Errorf("error text = %q, want validation kind", got)
	}
	if f.echo.calls.Load() != 0 {
		t.Error("tool body ran despite invalid arguments")
	}
}

func TestCallToolGateDenies(t *testing.T) {
	deny := permission.PrompterFunc(func(ctx context.Context, req permission.Request) (bool, error) {
		return false, nil
	})
	f := newFixture(t, permission.NewGate(permission.ModeAsk, deny), Config{
		Permissions: permission.Set{permission.Read, permission.Write},
	})

	res := call(t, f.client, "writer", map[string]any{"text": "x"})
	if !res.IsError {
		t.Fatal("expected denial")
	}
	if got := text(t, res); !strings.Contains(got, string(tools.KindPermissionDenied)) {
		t.Errorf("error text = %q, want permission_denied", got)
	}
	if f.writer.calls.Load() != 0 {
		t.Error("denied tool ran")
	}
}

func TestExposed(t *testing.T) {
	reg := tools.NewRegistry()
	reg.MustRegister(
		&stubTool{name: "a", perm: permission.Read},
		&stubTool{name: "b", perm: permission.Execute},
		&stubTool{name: "c", perm: permission.Spawn},
	)

	got := Exposed(reg, Config{Permissions: permission.Set{permission.Read, permission.Execute, permission.Spawn}})
	if len(got) != 2 {
		t.Fatalf("exposed %d tools, want 2", len(got))
	}
	for _, tool := range got {
		if tool.Permission() == permission.Spawn {
			t.Error("spawn tool exposed")
		}
	}

	if got := Exposed(reg, Config{}); len(got) != 0 {
		t.Errorf("no permissions should expose nothing, got %d", len(got))
	}
}
