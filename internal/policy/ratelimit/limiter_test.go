package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPacer_Wait(t *testing.T) {
	t.Parallel()

	p := New(Config{Delay: 100 * time.Millisecond})
	ctx := context.Background()

	// First call should be immediate
	start := time.Now()
	if err := p.Wait(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Errorf("first wait blocked for %v", time.Since(start))
	}

	// Next one should wait ~100ms
	start = time.Now()
	if err := p.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if dur := time.Since(start); dur < 80*time.Millisecond {
		t.Errorf("expected wait ~100ms, got %v", dur)
	}
}

func TestPacer_Disabled(t *testing.T) {
	t.Parallel()

	p := New(Config{})
	start := time.Now()
	for i := 0; i < 50; i++ {
		if err := p.Wait(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Errorf("disabled pacer blocked for %v", time.Since(start))
	}
}

func TestPacer_Canceled(t *testing.T) {
	t.Parallel()

	p := New(Config{Delay: time.Hour})
	if err := p.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.Wait(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestPacer_DelayCountsFromDone(t *testing.T) {
	t.Parallel()

	p := New(Config{Delay: 100 * time.Millisecond})
	ctx := context.Background()

	if err := p.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	// A request slower than the delay must not release the next one early.
	time.Sleep(150 * time.Millisecond)
	p.Done()

	start := time.Now()
	if err := p.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if dur := time.Since(start); dur < 80*time.Millisecond {
		t.Errorf("expected wait ~100ms after Done, got %v", dur)
	}
}

func TestPacer_DisabledDone(t *testing.T) {
	t.Parallel()

	p := New(Config{})
	p.Done()
	start := time.Now()
	if err := p.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Errorf("disabled pacer blocked for %v", time.Since(start))
	}
}
