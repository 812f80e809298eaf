package transport

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"lite-rpc/message"
)

// ErrConnectionClosed completes every pending awaiter when a session tears
// down underneath it.
var ErrConnectionClosed = errors.New("transport: connection closed")

// TimeoutError is returned by Awaiter.Await when no terminal event arrived
// inside the window.
type TimeoutError struct {
	RequestID uint64
	After     time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("transport: request %d timed out after %s", e.RequestID, e.After)
}

// Awaiter is the single-shot handle for one in-flight request. It is
// completed exactly once, by response delivery, by error, or by timeout.
// Cancellation of an individual request is not supported.
type Awaiter struct {
	requestID uint64
	done      chan struct{}
	once      sync.Once
	msg       *message.Message
	err       error
	forget    func() // removes the pending entry on timeout
}

// NewAwaiter builds a detached awaiter. Transports attach their own cleanup;
// callers needing an already-failed awaiter use NewFailedAwaiter.
func NewAwaiter(requestID uint64) *Awaiter {
	return &Awaiter{requestID: requestID, done: make(chan struct{})}
}

// NewFailedAwaiter returns an awaiter that has already failed with err.
func NewFailedAwaiter(err error) *Awaiter {
	a := NewAwaiter(0)
	a.Fail(err)
	return a
}

// RequestID returns the id this awaiter is parked under.
func (a *Awaiter) RequestID() uint64 { return a.requestID }

// Complete delivers the response envelope. Only the first terminal event
// wins; later ones are ignored.
func (a *Awaiter) Complete(msg *message.Message) {
	a.once.Do(func() {
		a.msg = msg
		close(a.done)
	})
}

// Fail completes the awaiter exceptionally.
func (a *Awaiter) Fail(err error) {
	a.once.Do(func() {
		a.err = err
		close(a.done)
	})
}

// Cancel always reports false: the only way to stop waiting is the timeout.
func (a *Awaiter) Cancel() bool { return false }

// Done reports whether a terminal event has occurred.
func (a *Awaiter) Done() bool {
	select {
	case <-a.done:
		return true
	default:
		return false
	}
}

// Await blocks until the response arrives or the window elapses. On timeout
// the pending entry is removed from its transport and a *TimeoutError is
// returned; the underlying send is not retracted.
func (a *Awaiter) Await(timeout time.Duration) (*message.Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-a.done:
		return a.msg, a.err
	case <-timer.C:
		if a.forget != nil {
			a.forget()
		}
		// A response racing the timer may have won; Fail is a no-op then
		// and the first terminal event is what the caller observes.
		a.Fail(&TimeoutError{RequestID: a.requestID, After: timeout})
		<-a.done
		return a.msg, a.err
	}
}
