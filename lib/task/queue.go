package task

import (
	"context"
	"sync/atomic"

	"github.com/raiich/httpconn/lib/errors"
)

var (
	ErrClosedQueue = errors.Newf("closed queue")
	ErrFullQueue   = errors.Newf("full queue")
)

// Queue is a bounded FIFO whose Enqueue and Dequeue give up when either the
// caller's context or the queue itself is done.
type Queue[T any] struct {
	queue   chan T
	ctx     context.Context
	cancel  context.CancelCauseFunc
	closing atomic.Bool
}

func (w *Queue[T]) Enqueue(ctx context.Context, elem T) error {
	select {
	case <-w.ctx.Done():
		return context.Cause(w.ctx)
	case <-ctx.Done():
		return context.Cause(ctx)
	default:
		select {
		case w.queue <- elem:
			return nil
		case <-ctx.Done():
			return context.Cause(ctx)
		case <-w.ctx.Done():
			return context.Cause(w.ctx)
		}
	}
}

// TryEnqueue is Enqueue without waiting: it fails with ErrFullQueue when
// the buffer has no room.
func (w *Queue[T]) TryEnqueue(elem T) error {
	select {
	case <-w.ctx.Done():
		return context.Cause(w.ctx)
	default:
	}
	select {
	case w.queue <- elem:
		return nil
	default:
		return ErrFullQueue
	}
}

func (w *Queue[T]) Close() error {
	return w.closeByErr(ErrClosedQueue)
}

// CloseByError closes the queue; Dequeue and Enqueue return reason afterwards.
func (w *Queue[T]) CloseByError(reason error) error {
	return w.closeByErr(reason)
}

func (w *Queue[T]) closeByErr(reason error) error {
	if !w.closing.CompareAndSwap(false, true) {
		err := context.Cause(w.ctx)
		return errors.Wrapf(err, "queue already closed")
	}
	w.cancel(reason)
	return nil

	// avoid close(queue) here,
	// for the case "send to closed channel" error. GC will collect queue.
}

// Dequeue returns the next element in the queue.
// If the queue is empty, it will block until an element is available.
// If Queue.Close is called, it will return ErrClosedQueue as error value.
func (w *Queue[T]) Dequeue() (T, error) {
	select {
	case <-w.ctx.Done():
		var zero T
		return zero, context.Cause(w.ctx)
	default:
		select {
		case <-w.ctx.Done():
			var zero T
			return zero, context.Cause(w.ctx)
		case elem := <-w.queue:
			return elem, nil
		}
	}
}

// Drain removes and returns the elements still buffered without blocking.
// It is meant to be called after Close to settle elements nobody will dequeue.
func (w *Queue[T]) Drain() []T {
	var elems []T
	for {
		select {
		case elem := <-w.queue:
			elems = append(elems, elem)
		default:
			return elems
		}
	}
}

func (w *Queue[T]) Len() int {
	return len(w.queue)
}

// Done is closed when the queue is closed.
func (w *Queue[T]) Done() <-chan struct{} {
	return w.ctx.Done()
}

func NewQueue[T any](size int) *Queue[T] {
	ctx, cancel := context.WithCancelCause(context.Background())
	return &Queue[T]{
		queue:  make(chan T, size),
		ctx:    ctx,
		cancel: cancel,
	}
}
