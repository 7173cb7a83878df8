package orchestrator

import (
	"context"

	"github.com/aristath/taskforge/internal/backend"
	"github.com/aristath/taskforge/internal/resilience"
)

// sendWithRetry sends a message to the backend with retry and circuit breaker
// protection. Every attempt goes through the breaker, so a tripped circuit
// ends the retry loop at once with resilience.ErrCircuitOpen.
func sendWithRetry(ctx context.Context, b backend.Backend, msg backend.Message, breaker *resilience.CircuitBreaker, policy resilience.Policy) (backend.Response, error) {
	return resilience.Do(ctx, policy, func(ctx context.Context) (backend.Response, error) {
		if breaker == nil {
			return b.Send(ctx, msg)
		}
		return resilience.Call(breaker, func() (backend.Response, error) {
			return b.Send(ctx, msg)
		})
	})
}
