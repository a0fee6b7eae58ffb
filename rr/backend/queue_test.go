package backend

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestFenceWaitOnSignaledValueReturnsImmediately(t *testing.T) {
	fence := NewFence()
	value := fence.Issue()
	fence.Signal(value+5, nil)

	done := make(chan error, 1)
	go func() {
		done <- NewFenceEvent(fence, value).Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("expected wait on a signaled fence value to return immediately")
	}
}

func TestFenceWaitOnUnissuedValue(t *testing.T) {
	fence := NewFence()
	if err := fence.Wait(10); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter when waiting for an unissued value; got %v", err)
	}
}

func TestQueueExecutesInOrder(t *testing.T) {
	q := NewQueue("test")
	defer q.Close()

	var (
		mu    sync.Mutex
		order []int
	)
	record := func(v int) LabeledCommand {
		return LabeledCommand{Label: "append", Run: func() error {
			mu.Lock()
			order = append(order, v)
			mu.Unlock()
			return nil
		}}
	}

	var last *FenceEvent
	for sub := 0; sub < 4; sub++ {
		ev, err := q.Submit([]LabeledCommand{record(sub * 2), record(sub*2 + 1)}, nil, nil)
		if err != nil {
			t.Fatal(err)
		}
		if last != nil && ev.Value() <= last.Value() {
			t.Fatalf("expected fence values to increase; got %d after %d", ev.Value(), last.Value())
		}
		last = ev
	}

	if err := last.Wait(); err != nil {
		t.Fatal(err)
	}

	if len(order) != 8 {
		t.Fatalf("expected 8 executed commands; got %d", len(order))
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("expected command %d to execute in position %d; got %d", i, i, v)
		}
	}
}

func TestQueueWaitDependency(t *testing.T) {
	producer := NewQueue("producer")
	defer producer.Close()
	consumer := NewQueue("consumer")
	defer consumer.Close()

	release := make(chan struct{})
	var produced bool
	prodEv, err := producer.Submit([]LabeledCommand{{Label: "produce", Run: func() error {
		<-release
		produced = true
		return nil
	}}}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	var sawProduced bool
	consEv, err := consumer.Submit([]LabeledCommand{{Label: "consume", Run: func() error {
		sawProduced = produced
		return nil
	}}}, prodEv, nil)
	if err != nil {
		t.Fatal(err)
	}

	if consEv.IsComplete() {
		t.Fatal("expected consumer submission to wait for its dependency")
	}
	close(release)

	if err := consEv.Wait(); err != nil {
		t.Fatal(err)
	}
	if !sawProduced {
		t.Fatal("expected consumer to observe the producer side effect")
	}
}

func TestQueueErrorsAreReportedPerSubmission(t *testing.T) {
	q := NewQueue("test")
	defer q.Close()

	errBoom := errors.New("boom")
	var ranAfterFailure bool

	failEv, _ := q.Submit([]LabeledCommand{
		{Label: "fail", Run: func() error { return errBoom }},
		{Label: "skipped", Run: func() error { ranAfterFailure = true; return nil }},
	}, nil, nil)
	panicEv, _ := q.Submit([]LabeledCommand{{Label: "panic", Run: func() error { panic("kaboom") }}}, nil, nil)
	okEv, _ := q.Submit([]LabeledCommand{{Label: "ok", Run: func() error { return nil }}}, nil, nil)

	if err := failEv.Wait(); !errors.Is(err, errBoom) {
		t.Fatalf("expected failing submission to report errBoom; got %v", err)
	}
	if ranAfterFailure {
		t.Fatal("expected commands after a failure to be skipped")
	}
	if err := panicEv.Wait(); err == nil {
		t.Fatal("expected panicking submission to report an error")
	}
	if err := okEv.Wait(); err != nil {
		t.Fatalf("expected later submission to succeed; got %v", err)
	}
}

func TestQueueSubmitAfterClose(t *testing.T) {
	q := NewQueue("test")
	q.Close()

	if _, err := q.Submit(nil, nil, nil); !errors.Is(err, ErrDeviceClosed) {
		t.Fatalf("expected ErrDeviceClosed; got %v", err)
	}
}
