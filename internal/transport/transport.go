// Package transport owns the upstream telemetry connection. It parses frames
// into envelopes and hands them to a single handler; it does not interpret
// them.
package transport

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"h2-telemetry-gateway/internal/data"
	"h2-telemetry-gateway/internal/logging"
	"h2-telemetry-gateway/internal/retry"
)

var ErrConnectionLost = errors.New("upstream connection lost")

// Handler receives every successfully parsed envelope, one at a time.
type Handler func(env *data.Envelope)

// Connection is a live upstream connection.
type Connection interface {
	// OnMessage registers the handler and starts delivery. Only the first
	// call has an effect.
	OnMessage(h Handler)
	// OnError registers an observer for transport-level failures.
	OnError(f func(error))
	// Done is closed once the connection has ended for any reason.
	Done() <-chan struct{}
	// Err reports why the connection ended; nil after a local Close.
	Err() error
	// Close releases the connection. It is idempotent and waits for an
	// in-flight handler call to return. It must not be called from a Handler.
	Close() error
}

// Dialer establishes a new Connection.
type Dialer func(ctx context.Context) (Connection, error)

// ConnectionError wraps a failure to open or keep an upstream connection.
type ConnectionError struct {
	message string
	wrapped error
}

func (e *ConnectionError) Error() string {
	if e.wrapped == nil {
		return e.message
	}
	return e.message + ": " + e.wrapped.Error()
}

func (e *ConnectionError) Unwrap() error {
	return e.wrapped
}

// base carries the delivery and lifecycle state shared by every transport.
type base struct {
	log *slog.Logger

	mu      sync.Mutex
	handler Handler
	onError func(error)
	err     error

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	doneOnce  sync.Once
	closed    atomic.Bool

	// handling is held while a handler runs so Close can wait for it.
	handling sync.Mutex
}

func (b *base) init(log *slog.Logger) {
	b.log = logging.OrDiscard(log)
	b.ready = make(chan struct{})
	b.done = make(chan struct{})
}

func (b *base) OnMessage(h Handler) {
	b.readyOnce.Do(func() {
		b.mu.Lock()
		b.handler = h
		b.mu.Unlock()
		close(b.ready)
	})
}

func (b *base) OnError(f func(error)) {
	b.mu.Lock()
	b.onError = f
	b.mu.Unlock()
}

func (b *base) Done() <-chan struct{} { return b.done }

func (b *base) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// dispatch parses one raw frame and forwards it. Malformed frames are logged
// and dropped.
func (b *base) dispatch(raw []byte) {
	env, err := data.Parse(raw)
	if err != nil {
		b.log.Warn("dropping malformed frame", logging.Err(err), slog.Int("bytes", len(raw)))
		return
	}

	b.handling.Lock()
	defer b.handling.Unlock()
	if b.closed.Load() {
		return
	}
	b.mu.Lock()
	h := b.handler
	b.mu.Unlock()
	if h != nil {
		h(env)
	}
}

// fail records a transport error, notifies the observer and ends the
// connection. Errors after a local Close are ignored.
func (b *base) fail(err error) {
	if b.closed.Load() {
		b.finish()
		return
	}
	b.mu.Lock()
	if b.err == nil {
		b.err = err
	}
	observer := b.onError
	b.mu.Unlock()

	b.log.Error("upstream transport error", logging.Err(err))
	if observer != nil {
		observer(err)
	}
	b.finish()
}

// ended records why the connection stopped without treating it as an error,
// e.g. an orderly close by the peer.
func (b *base) ended(reason error) {
	b.mu.Lock()
	if b.err == nil && !b.closed.Load() {
		b.err = reason
	}
	b.mu.Unlock()
	b.finish()
}

// waitHandler returns once no handler call is running. Callers set closed
// first, so no new call starts afterwards.
func (b *base) waitHandler() {
	b.handling.Lock()
	b.handling.Unlock() //nolint:staticcheck
}

func (b *base) finish() {
	b.doneOnce.Do(func() { close(b.done) })
}

// Supervise connects through dial, delivers messages to handler and blocks
// until ctx ends or the connection is lost. With a nil policy the connection
// is opened once and never re-established; with a policy, dialing is retried
// with that policy and a lost connection is dialed again.
func Supervise(ctx context.Context, dial Dialer, handler Handler, policy retry.Policy, log *slog.Logger) error {
	log = logging.OrDiscard(log)

	for {
		var conn Connection
		dialTask := func(ctx context.Context) (bool, error) {
			c, err := dial(ctx)
			if err != nil {
				return true, err
			}
			conn = c
			return false, nil
		}

		var err error
		if policy == nil {
			_, err = dialTask(ctx)
		} else {
			err = policy.Start(ctx, "upstream dial", dialTask)
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		conn.OnMessage(handler)

		select {
		case <-ctx.Done():
			_ = conn.Close()
			log.Info("upstream connection closed")
			return nil
		case <-conn.Done():
		}

		lost := conn.Err()
		if lost == nil {
			lost = ErrConnectionLost
		}
		if policy == nil {
			return lost
		}
		log.Warn("upstream connection lost, reconnecting", logging.Err(lost))
	}
}
