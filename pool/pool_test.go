package pool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestDrain(t *testing.T) {
	p := New(3)

	var n atomic.Int64
	for i := 0; i < 100; i++ {
		err := p.Submit(Task{Name: "incr", Run: func(context.Context) error {
			n.Add(1)
			return nil
		}})
		if err != nil {
			t.Fatal(err)
		}
	}
	p.Close()

	if got := n.Load(); got != 100 {
		t.Errorf("ran %d tasks, want 100", got)
	}
	if err := p.Submit(Task{Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrClosed) {
		t.Errorf("got %v after Close, want ErrClosed", err)
	}
}

func TestFailuresAreLogged(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	p := New(2, WithLogger(zap.New(core)))

	p.Submit(Task{Name: "bad", Run: func(context.Context) error { return errors.New("boom") }})
	p.Submit(Task{Name: "worse", Run: func(context.Context) error { panic("kaboom") }})
	p.Submit(Task{Name: "good", Run: func(context.Context) error { return nil }})
	p.Close()

	if n := logs.FilterMessage("task failed").Len(); n != 1 {
		t.Errorf("got %d failure entries, want 1", n)
	}
	if n := logs.FilterMessage("task panicked").Len(); n != 1 {
		t.Errorf("got %d panic entries, want 1", n)
	}
}

func TestAbort(t *testing.T) {
	p := New(1)

	started := make(chan struct{})
	p.Submit(Task{Name: "blocker", Run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}})
	<-started

	var ran atomic.Bool
	for i := 0; i < 5; i++ {
		p.Submit(Task{Name: "queued", Run: func(context.Context) error {
			ran.Store(true)
			return nil
		}})
	}

	if n := p.Abort(); n != 5 {
		t.Errorf("discarded %d tasks, want 5", n)
	}
	if ran.Load() {
		t.Error("a discarded task ran")
	}
	if n := p.Len(); n != 0 {
		t.Errorf("got %d tasks after Abort, want 0", n)
	}
}

func TestSubmitDoesNotBlock(t *testing.T) {
	p := New(1)
	defer p.Abort()

	release := make(chan struct{})
	defer close(release)

	// With the only worker stuck, the queue still accepts tasks.
	for i := 0; i < 1000; i++ {
		err := p.Submit(Task{Run: func(ctx context.Context) error {
			select {
			case <-release:
			case <-ctx.Done():
			}
			return nil
		}})
		if err != nil {
			t.Fatal(err)
		}
	}
	if n := p.Len(); n != 1000 {
		t.Errorf("got %d tasks queued or running, want 1000", n)
	}
}
