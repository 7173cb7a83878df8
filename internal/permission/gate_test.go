package permission

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestHasPermission(t *testing.T) {
	set := Set{Read, Write}

	tests := []struct {
		name     string
		required Permission
		want     bool
	}{
		{"declared read", Read, true},
		{"declared write", Write, true},
		{"undeclared execute", Execute, false},
		{"undeclared web", Web, false},
		{"unknown kind", Permission("admin"), false},
		{"empty kind", Permission(""), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasPermission(set, tt.required); got != tt.want {
				t.Errorf("HasPermission(%q) = %v, want %v", tt.required, got, tt.want)
			}
		})
	}

	if HasPermission(Set{Permission("admin")}, Permission("admin")) {
		t.Error("unknown kinds must be denied even when declared")
	}
}

func TestParseSetAndMode(t *testing.T) {
	set, err := ParseSet([]string{"read", " Write ", "spawn"})
	if err != nil {
		t.Fatalf("ParseSet failed: %v", err)
	}
	if set.String() != "read,spawn,write" {
		t.Errorf("unexpected set %s", set)
	}
	if _, err := ParseSet([]string{"root"}); err == nil {
		t.Error("expected error for unknown permission")
	}

	if m, err := ParseMode(""); err != nil || m != ModeAsk {
		t.Errorf("empty mode should default to ask, got %q, %v", m, err)
	}
	if _, err := ParseMode("yolo"); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestGateModes(t *testing.T) {
	var prompted atomic.Int32
	prompter := PrompterFunc(func(ctx context.Context, req Request) (bool, error) {
		prompted.Add(1)
		return true, nil
	})

	for _, mode := range []Mode{ModeAuto, ModeSuggest} {
		t.Run(string(mode), func(t *testing.T) {
			g := NewGate(mode, prompter)
			d := g.RequestPermission(context.Background(), "write_file", Write, "write main.go")
			if !d.Granted {
				t.Errorf("%s mode should grant, got %+v", mode, d)
			}
			if len(g.Granted()) != 0 {
				t.Errorf("%s mode should not cache grants", mode)
			}
		})
	}
	if prompted.Load() != 0 {
		t.Errorf("auto and suggest must not prompt, prompted %d times", prompted.Load())
	}
}

func TestGateAskCachesAcceptance(t *testing.T) {
	var prompted atomic.Int32
	g := NewGate(ModeAsk, PrompterFunc(func(ctx context.Context, req Request) (bool, error) {
		prompted.Add(1)
		if req.Tool != "run_command" || req.Permission != Execute {
			t.Errorf("unexpected request %+v", req)
		}
		return true, nil
	}))

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if d := g.RequestPermission(ctx, "run_command", Execute, "go test"); !d.Granted {
			t.Fatalf("request %d: expected grant, got %+v", i, d)
		}
	}
	if prompted.Load() != 1 {
		t.Errorf("expected one prompt, got %d", prompted.Load())
	}
	if keys := g.Granted(); len(keys) != 1 || keys[0] != "run_command:execute" {
		t.Errorf("unexpected grants %v", keys)
	}

	g.Reset()
	if len(g.Granted()) != 0 {
		t.Error("Reset should clear grants")
	}
	g.RequestPermission(ctx, "run_command", Execute, "go test")
	if prompted.Load() != 2 {
		t.Errorf("expected a new prompt after Reset, got %d", prompted.Load())
	}
}

func TestGateAskDenials(t *testing.T) {
	tests := []struct {
		name       string
		prompter   Prompter
		reasonPart string
	}{
		{
			name: "operator denies",
			prompter: PrompterFunc(func(ctx context.Context, req Request) (bool, error) {
				return false, nil
			}),
			reasonPart: "denied",
		},
		{
			name: "prompt cancelled",
			prompter: PrompterFunc(func(ctx context.Context, req Request) (bool, error) {
				return false, errors.New("user aborted")
			}),
			reasonPart: "cancelled",
		},
		{
			name:       "no prompter",
			prompter:   nil,
			reasonPart: "no interactive prompter",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGate(ModeAsk, tt.prompter)
			d := g.RequestPermission(context.Background(), "write_file", Write, "")
			if d.Granted {
				t.Fatal("expected denial")
			}
			if !strings.Contains(d.Reason, tt.reasonPart) {
				t.Errorf("reason %q should contain %q", d.Reason, tt.reasonPart)
			}
			if len(g.Granted()) != 0 {
				t.Error("denials must not be cached as grants")
			}
		})
	}
}

func TestGateUnknownPermission(t *testing.T) {
	g := NewGate(ModeAuto, nil)
	if d := g.RequestPermission(context.Background(), "x", Permission("sudo"), ""); d.Granted {
		t.Error("unknown permission must be denied in every mode")
	}
}

func TestGateConcurrentAskPromptsOnce(t *testing.T) {
	var prompted atomic.Int32
	release := make(chan struct{})
	g := NewGate(ModeAsk, PrompterFunc(func(ctx context.Context, req Request) (bool, error) {
		prompted.Add(1)
		<-release
		return true, nil
	}))

	const callers = 10
	var wg sync.WaitGroup
	var granted atomic.Int32
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.RequestPermission(context.Background(), "write_file", Write, "").Granted {
				granted.Add(1)
			}
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if prompted.Load() != 1 {
		t.Errorf("expected exactly one prompt, got %d", prompted.Load())
	}
	if granted.Load() != callers {
		t.Errorf("expected all %d callers granted, got %d", callers, granted.Load())
	}
}

func TestGateWaiterOutlivesCancelledAsker(t *testing.T) {
	var prompted atomic.Int32
	entered := make(chan struct{})
	g := NewGate(ModeAsk, PrompterFunc(func(ctx context.Context, req Request) (bool, error) {
		if prompted.Add(1) == 1 {
			close(entered)
			<-ctx.Done()
			return false, ctx.Err()
		}
		return true, nil
	}))

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	first := make(chan Decision, 1)
	go func() {
		first <- g.RequestPermission(firstCtx, "write_file", Write, "")
	}()
	<-entered

	second := make(chan Decision, 1)
	go func() {
		second <- g.RequestPermission(context.Background(), "write_file", Write, "")
	}()
	time.Sleep(20 * time.Millisecond)
	cancelFirst()

	if d := <-first; d.Granted {
		t.Error("cancelled caller should be denied")
	}
	select {
	case d := <-second:
		if !d.Granted {
			t.Errorf("live caller should be asked again and granted, got %q", d.Reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("live caller never got an answer")
	}
	if n := prompted.Load(); n != 2 {
		t.Errorf("expected 2 prompts, got %d", n)
	}
}

func TestConsentChannelSerializesPrompts(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var active, maxActive atomic.Int32
	cc := NewConsentChannel(4, func(ctx context.Context, req Request) (bool, error) {
		n := active.Add(1)
		if n > maxActive.Load() {
			maxActive.Store(n)
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
		return req.Permission != Web, nil
	})
	cc.Start(ctx)

	var wg sync.WaitGroup
	results := make(map[Permission]bool)
	var mu sync.Mutex
	for _, p := range []Permission{Write, Execute, Spawn, Web} {
		wg.Add(1)
		go func(p Permission) {
			defer wg.Done()
			ok, err := cc.Confirm(ctx, Request{Tool: "t", Permission: p})
			if err != nil {
				t.Errorf("Confirm(%s) failed: %v", p, err)
				return
			}
			mu.Lock()
			results[p] = ok
			mu.Unlock()
		}(p)
	}
	wg.Wait()

	if maxActive.Load() != 1 {
		t.Errorf("prompts overlapped: max active %d", maxActive.Load())
	}
	if results[Web] || !results[Write] || !results[Execute] || !results[Spawn] {
		t.Errorf("unexpected answers %v", results)
	}

	cancel()
	cc.Stop()
}

func TestConsentChannelContextCancelled(t *testing.T) {
	handlerCtx, stopHandler := context.WithCancel(context.Background())
	block := make(chan struct{})
	cc := NewConsentChannel(1, func(ctx context.Context, req Request) (bool, error) {
		<-block
		return true, nil
	})
	cc.Start(handlerCtx)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := cc.Confirm(ctx, Request{Tool: "t", Permission: Write})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}

	close(block)
	stopHandler()
	cc.Stop()
}
