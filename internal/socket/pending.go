package socket

import (
	"context"
	"sync"
)

// Pending is the handle returned by asynchronous connection operations. It
// resolves exactly once.
type Pending struct {
	done chan struct{}
	once sync.Once
	err  error
}

func newPending() *Pending {
	return &Pending{done: make(chan struct{})}
}

func resolved(err error) *Pending {
	p := newPending()
	p.resolve(err)
	return p
}

func (p *Pending) resolve(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

// Done is closed once the operation has completed.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Err returns the outcome of the operation, or nil while it is still running.
func (p *Pending) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// Wait blocks until the operation completes or ctx is done.
func (p *Pending) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func resolveAll(pending []*Pending, err error) {
	for _, p := range pending {
		p.resolve(err)
	}
}
