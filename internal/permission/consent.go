package permission

import (
	"context"
)

type consentRequest struct {
	req        Request
	responseCh chan consentAnswer
}

type consentAnswer struct {
	granted bool
	err     error
}

// ConsentChannel serializes operator prompts onto one handler goroutine so
// only a single question is on screen at a time. It implements Prompter.
type ConsentChannel struct {
	requestCh chan consentRequest
	confirm   PrompterFunc
	done      chan struct{}
}

// NewConsentChannel creates a channel that answers requests with confirm.
// bufferSize should typically match the concurrency limit.
func NewConsentChannel(bufferSize int, confirm PrompterFunc) *ConsentChannel {
	return &ConsentChannel{
		requestCh: make(chan consentRequest, bufferSize),
		confirm:   confirm,
		done:      make(chan struct{}),
	}
}

// Start launches the handler goroutine, which runs until ctx is cancelled.
func (c *ConsentChannel) Start(ctx context.Context) {
	go c.handle(ctx)
}

func (c *ConsentChannel) handle(ctx context.Context) {
	defer close(c.done)

	for {
		select {
		case <-ctx.Done():
			return
		case r := <-c.requestCh:
			granted, err := c.confirm(ctx, r.req)

			select {
			case <-ctx.Done():
				r.responseCh <- consentAnswer{err: ctx.Err()}
				return
			default:
				r.responseCh <- consentAnswer{granted: granted, err: err}
			}
		}
	}
}

// Confirm queues req and waits for the operator's answer.
func (c *ConsentChannel) Confirm(ctx context.Context, req Request) (bool, error) {
	responseCh := make(chan consentAnswer, 1)

	select {
	case c.requestCh <- consentRequest{req: req, responseCh: responseCh}:
	case <-ctx.Done():
		return false, ctx.Err()
	}

	select {
	case answer := <-responseCh:
		return answer.granted, answer.err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Stop blocks until the handler goroutine has exited.
func (c *ConsentChannel) Stop() {
	<-c.done
}
