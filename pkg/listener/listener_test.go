package listener

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestListener_HandlesUntilStopped(t *testing.T) {
	in := make(chan int)
	var sum atomic.Int64
	var stopped atomic.Bool

	l := New(in, func(v int) error {
		sum.Add(int64(v))
		return nil
	}, func() { stopped.Store(true) })
	l.Start(context.Background())

	for i := 1; i <= 4; i++ {
		in <- i
	}
	l.Stop()
	l.Stop()

	if sum.Load() != 10 {
		t.Fatalf("expected sum 10, got %d", sum.Load())
	}
	if !stopped.Load() {
		t.Fatal("stop handler was not called")
	}
}

func TestListener_ErrorsDoNotStopLoop(t *testing.T) {
	in := make(chan int)
	errs := make(chan error, 2)
	var handled atomic.Int32

	l := New(in, func(v int) error {
		handled.Add(1)
		if v%2 == 0 {
			return errors.New("even")
		}
		return nil
	}).OnError(func(err error) { errs <- err })
	l.Start(context.Background())
	defer l.Stop()

	in <- 2
	in <- 3

	select {
	case err := <-errs:
		if err.Error() != "even" {
			t.Fatalf("unexpected error %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("error callback not invoked")
	}

	deadline := time.Now().Add(time.Second)
	for handled.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("second value was not handled")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestListener_ClosedInputEndsLoop(t *testing.T) {
	in := make(chan int)
	l := New(in, func(int) error { return nil })
	l.Start(context.Background())
	close(in)

	done := make(chan struct{})
	go func() {
		l.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked after input closed")
	}
}
