package task

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/raiich/httpconn/lib/errors"
)

func TestQueue(t *testing.T) {
	q := NewQueue[int](4)
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		if err := q.Enqueue(ctx, i); err != nil {
			t.Fatalf("failed to enqueue %d: %v", i, err)
		}
	}
	if q.Len() != 3 {
		t.Fatalf("unexpected length: %d", q.Len())
	}
	v, err := q.Dequeue()
	if err != nil || v != 1 {
		t.Fatalf("unexpected dequeue: %v, %v", v, err)
	}

	if err := q.Close(); err != nil {
		t.Fatalf("failed to close: %v", err)
	}
	if err := q.Close(); err == nil {
		t.Errorf("second close should fail")
	}
	if _, err := q.Dequeue(); !errors.Is(err, ErrClosedQueue) {
		t.Errorf("dequeue after close should return ErrClosedQueue, got %v", err)
	}
	if err := q.Enqueue(ctx, 9); !errors.Is(err, ErrClosedQueue) {
		t.Errorf("enqueue after close should return ErrClosedQueue, got %v", err)
	}
	rest := q.Drain()
	if len(rest) != 2 || rest[0] != 2 || rest[1] != 3 {
		t.Errorf("unexpected drained elements: %v", rest)
	}
	select {
	case <-q.Done():
	default:
		t.Errorf("Done should be closed")
	}
}

func TestQueueEnqueueTimeout(t *testing.T) {
	q := NewQueue[int](0)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := q.Enqueue(ctx, 1); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestQueueTryEnqueue(t *testing.T) {
	q := NewQueue[int](1)
	if err := q.TryEnqueue(1); err != nil {
		t.Fatalf("failed to enqueue: %v", err)
	}
	if err := q.TryEnqueue(2); !errors.Is(err, ErrFullQueue) {
		t.Errorf("expected ErrFullQueue, got %v", err)
	}

	reason := errors.Newf("connection lost")
	if err := q.CloseByError(reason); err != nil {
		t.Fatalf("failed to close: %v", err)
	}
	if err := q.TryEnqueue(3); !errors.Is(err, reason) {
		t.Errorf("enqueue after close should return the reason, got %v", err)
	}
	if _, err := q.Dequeue(); !errors.Is(err, reason) {
		t.Errorf("dequeue after close should return the reason, got %v", err)
	}
}

func TestAsyncDispatcher(t *testing.T) {
	d := NewAsyncDispatcher(context.Background())
	runErr := make(chan error, 1)
	go func() {
		runErr <- d.Launch()
	}()

	ctx := context.Background()
	var order []int
	for i := 0; i < 10; i++ {
		i := i
		d.InvokeFunc(ctx, func() {
			order = append(order, i)
		})
	}
	if err := d.InvokeSync(ctx, func() {}); err != nil {
		t.Fatalf("InvokeSync failed: %v", err)
	}
	var got []int
	if err := d.InvokeSync(ctx, func() { got = append(got, order...) }); err != nil {
		t.Fatalf("InvokeSync failed: %v", err)
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("tasks executed out of order: %v", got)
		}
	}

	fired := make(chan struct{})
	d.AfterFunc(5*time.Millisecond, func() { close(fired) })
	stopped := d.AfterFunc(time.Hour, func() { t.Errorf("stopped timer fired") })
	if !stopped.Stop() {
		t.Errorf("first Stop should report true")
	}
	if stopped.Stop() {
		t.Errorf("second Stop should report false")
	}
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatalf("timer did not fire")
	}

	if err := d.Stop(); err != nil {
		t.Fatalf("failed to stop: %v", err)
	}
	if err := <-runErr; err != nil {
		t.Errorf("Run should return nil after Stop, got %v", err)
	}
	if err := d.Run(); err == nil {
		t.Errorf("second Run should fail")
	}
}

func TestMutexDispatcher(t *testing.T) {
	d := NewMutexDispatcher()
	var n int
	d.InvokeFunc(func() { n++ })
	if got := Invoke(d, func() int { return n }); got != 1 {
		t.Errorf("unexpected value: %d", got)
	}

	var fired atomic.Bool
	var timer Timer
	d.InvokeFunc(func() {
		timer = d.AfterFunc(time.Hour, func() { fired.Store(true) })
	})
	stopped := Invoke(d, func() bool { return timer.Stop() })
	if !stopped || fired.Load() {
		t.Errorf("timer should be stopped before firing")
	}
}

func TestAfterFunc(t *testing.T) {
	done := make(chan struct{})
	timer := AfterFunc(time.Millisecond, func() { close(done) })
	<-done
	if timer.Stop() {
		t.Errorf("Stop after fire should report false")
	}
}
