package permission

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Request describes one tool use awaiting consent.
type Request struct {
	Tool        string
	Permission  Permission
	Description string
}

// Key identifies the grant a request would create.
func (r Request) Key() string {
	return r.Tool + ":" + string(r.Permission)
}

// Decision is the outcome of RequestPermission.
type Decision struct {
	Granted bool
	Reason  string
}

// Prompter asks the operator to confirm a request.
type Prompter interface {
	Confirm(ctx context.Context, req Request) (bool, error)
}

// PrompterFunc adapts a function to Prompter.
type PrompterFunc func(ctx context.Context, req Request) (bool, error)

// Confirm calls f.
func (f PrompterFunc) Confirm(ctx context.Context, req Request) (bool, error) {
	return f(ctx, req)
}

// ErrNoPrompter is reported when ask mode has nobody to ask.
var ErrNoPrompter = errors.New("no interactive prompter configured")

// Gate holds the session's permission mode and granted set.
type Gate struct {
	mu       sync.RWMutex
	mode     Mode
	prompter Prompter
	granted  map[string]bool

	inflight singleflight.Group
	log      *logrus.Entry
}

// NewGate creates a gate. prompter may be nil outside ask mode.
func NewGate(mode Mode, prompter Prompter) *Gate {
	return &Gate{
		mode:     mode,
		prompter: prompter,
		granted:  make(map[string]bool),
		log:      logrus.WithField("component", "permission"),
	}
}

// Mode returns the current mode.
func (g *Gate) Mode() Mode {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.mode
}

// SetMode switches the mode for subsequent requests.
func (g *Gate) SetMode(mode Mode) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.mode = mode
}

// SetPrompter replaces the prompter used in ask mode.
func (g *Gate) SetPrompter(p Prompter) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompter = p
}

// HasPermission reports whether set grants required.
func (g *Gate) HasPermission(set Set, required Permission) bool {
	return HasPermission(set, required)
}

// RequestPermission asks for consent to use tool with perm.
// Concurrent first-time requests for the same tool and permission share a
// single operator prompt.
func (g *Gate) RequestPermission(ctx context.Context, tool string, perm Permission, description string) Decision {
	if !perm.Valid() {
		return Decision{Granted: false, Reason: fmt.Sprintf("unknown permission %q", perm)}
	}

	req := Request{Tool: tool, Permission: perm, Description: description}

	g.mu.RLock()
	mode := g.mode
	g.mu.RUnlock()

	switch mode {
	case ModeAuto:
		return Decision{Granted: true, Reason: "auto mode"}
	case ModeSuggest:
		g.log.WithFields(logrus.Fields{
			"tool":       tool,
			"permission": string(perm),
		}).Info(description)
		return Decision{Granted: true, Reason: "suggest mode"}
	case ModeAsk:
		return g.ask(ctx, req)
	default:
		return Decision{Granted: false, Reason: fmt.Sprintf("unknown permission mode %q", mode)}
	}
}

func (g *Gate) ask(ctx context.Context, req Request) Decision {
	key := req.Key()
	if g.isGranted(key) {
		return Decision{Granted: true, Reason: "granted earlier this session"}
	}

	for {
		d, cancelled, shared := g.prompt(ctx, key, req)
		// The prompt ran under whichever caller got there first. When that
		// caller went away, callers that are still live ask again.
		if cancelled && shared && ctx.Err() == nil {
			continue
		}
		return d
	}
}

var errPromptCancelled = errors.New("prompt cancelled")

// prompt asks the operator once per key at a time. cancelled reports that
// the shared prompt ended because its context was cancelled.
func (g *Gate) prompt(ctx context.Context, key string, req Request) (d Decision, cancelled, shared bool) {
	v, err, shared := g.inflight.Do(key, func() (interface{}, error) {
		// Another caller may have finished prompting between the check and Do.
		if g.isGranted(key) {
			return Decision{Granted: true, Reason: "granted earlier this session"}, nil
		}

		g.mu.RLock()
		prompter := g.prompter
		g.mu.RUnlock()
		if prompter == nil {
			return Decision{Granted: false, Reason: ErrNoPrompter.Error()}, nil
		}

		ok, err := prompter.Confirm(ctx, req)
		if err != nil {
			g.log.WithError(err).WithField("tool", req.Tool).Warn("permission prompt cancelled")
			d := Decision{Granted: false, Reason: fmt.Sprintf("prompt cancelled: %v", err)}
			if ctx.Err() != nil {
				return d, errPromptCancelled
			}
			return d, nil
		}
		if !ok {
			return Decision{Granted: false, Reason: "denied by operator"}, nil
		}

		g.mu.Lock()
		g.granted[key] = true
		g.mu.Unlock()
		return Decision{Granted: true, Reason: "granted by operator"}, nil
	})
	return v.(Decision), errors.Is(err, errPromptCancelled), shared
}

func (g *Gate) isGranted(key string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.granted[key]
}

// Granted returns the session's grant keys, sorted.
func (g *Gate) Granted() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	keys := make([]string, 0, len(g.granted))
	for k := range g.granted {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Reset clears every grant, starting a new consent session.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.granted = make(map[string]bool)
}
