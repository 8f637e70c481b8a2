package embedded

import (
	"context"
	"net"
	"sync"

	"github.com/google/uuid"
)

// Handle observes one listener instance. Holding it is optional: the instance
// keeps running whether or not anyone looks at it, and it offers no way to
// stop the listener.
type Handle struct {
	id    string
	ready chan struct{}
	done  chan struct{}

	mu   sync.Mutex
	addr net.Addr
	err  error
}

func newHandle() *Handle {
	return &Handle{
		id:    uuid.NewString(),
		ready: make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// InstanceID tags every log line the instance writes.
func (h *Handle) InstanceID() string {
	return h.id
}

// Ready is closed once the address is bound. It stays open forever if the
// instance never binds.
func (h *Handle) Ready() <-chan struct{} {
	return h.ready
}

// Done is closed when the instance's thread ends, which only happens on a
// terminal failure.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Addr is the bound address, or nil before Ready.
func (h *Handle) Addr() net.Addr {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.addr
}

// Err is the terminal error, or nil while the instance is running.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Wait blocks until the instance ends or ctx is done.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handle) markReady(addr net.Addr) {
	h.mu.Lock()
	h.addr = addr
	h.mu.Unlock()
	close(h.ready)
}

func (h *Handle) finish(err error) {
	h.mu.Lock()
	h.err = err
	h.mu.Unlock()
	close(h.done)
}
