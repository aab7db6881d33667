// Package session serializes every use of the pod link.
//
// One Owner wraps one transport. Commands, status queries and pairing all
// run through Do, so at most one exchange is on the link at a time and
// callers queue in arrival order. TryDo lets low-priority work such as the
// scheduled status refresh step aside while the link is busy.
package session

import (
	"context"
	"errors"

	"golang.org/x/sync/semaphore"

	"github.com/loopwire/podcore/pkg/transport"
)

// ErrBusy is returned by TryDo when another exchange holds the session.
var ErrBusy = errors.New("session busy")

// Func is run while the session is held.
type Func func(ctx context.Context, link transport.Transport) error

// Owner is the single session owner for one pod link.
type Owner struct {
	sem  *semaphore.Weighted
	link transport.Transport
}

// New creates an owner for link.
func New(link transport.Transport) *Owner {
	return &Owner{
		sem:  semaphore.NewWeighted(1),
		link: link,
	}
}

// Do waits for the session and runs fn. If ctx ends while waiting, fn is
// not run and the context error is returned.
func (o *Owner) Do(ctx context.Context, fn Func) error {
	if err := o.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer o.sem.Release(1)
	return fn(ctx, o.link)
}

// TryDo runs fn only if the session is free, returning ErrBusy otherwise.
func (o *Owner) TryDo(ctx context.Context, fn Func) error {
	if !o.sem.TryAcquire(1) {
		return ErrBusy
	}
	defer o.sem.Release(1)
	return fn(ctx, o.link)
}

// Busy reports whether an exchange currently holds the session.
func (o *Owner) Busy() bool {
	if !o.sem.TryAcquire(1) {
		return true
	}
	o.sem.Release(1)
	return false
}
