// Package lifecycle implements the cancellation token tree that the
// Supervisor, Listener and Certificate Reloader are all built on.
//
// A Token pairs a context.Context with its CancelFunc and the set of
// children derived from it, so that cancelling a parent cancels every
// descendant exactly once and a bounded drain can enumerate everything it
// is waiting on. This generalizes the single package-level signal handler
// in pkg/signals/signals.go into a reusable, composable primitive: the
// Supervisor needs one root per config generation (hot reload) and one
// root per successor process (hot restart), not a single process-wide
// global.
package lifecycle

import (
	"context"
	"sync"
)

// Token is a node in the cancellation tree.
type Token struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	children []*Token
	done     bool
}

// New creates a root token derived from ctx.
func New(ctx context.Context) *Token {
	c, cancel := context.WithCancel(ctx)
	return &Token{ctx: c, cancel: cancel}
}

// Child derives a new token from t. Cancelling t cancels the child; the
// child's own Cancel does not affect t or its siblings.
func (t *Token) Child() *Token {
	t.mu.Lock()
	defer t.mu.Unlock()

	child := New(t.ctx)
	if t.done {
		child.Cancel()
		return child
	}
	t.children = append(t.children, child)
	return child
}

// Context returns the context.Context backing this token. Suspension
// points (accept, handshake, header read, upstream dial, body I/O) select
// on Context().Done() to observe cancellation.
func (t *Token) Context() context.Context {
	return t.ctx
}

// Done returns the channel closed when this token is cancelled. Re-entrant
// observation is idempotent: the channel is closed exactly once regardless
// of how many goroutines await it.
func (t *Token) Done() <-chan struct{} {
	return t.ctx.Done()
}

// Cancel cancels this token and every descendant exactly once. It is safe
// to call Cancel multiple times or concurrently.
func (t *Token) Cancel() {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return
	}
	t.done = true
	children := t.children
	t.children = nil
	t.mu.Unlock()

	t.cancel()
	for _, c := range children {
		c.Cancel()
	}
}

// Children returns a snapshot of the direct children derived from t since
// it was created, for bounded drains that need to wait on (or report) what
// remains. A child that was cancelled through its own Cancel stays in the
// list; the list is emptied only when t itself is cancelled.
func (t *Token) Children() []*Token {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Token, len(t.children))
	copy(out, t.children)
	return out
}
