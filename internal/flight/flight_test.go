package flight

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDoSingleCaller(t *testing.T) {
	g := New()

	val, joined, err := g.Do(context.Background(), "k", func() (any, error) {
		return "result", nil
	})

	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if joined {
		t.Error("sole caller should not be marked as joined")
	}
	if val.(string) != "result" {
		t.Errorf("expected 'result', got %v", val)
	}
}

func TestDoCollapsesConcurrentCallers(t *testing.T) {
	g := New()

	var executions int32
	release := make(chan struct{})

	const callers = 8
	var wg sync.WaitGroup
	vals := make([]any, callers)
	joins := make([]bool, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, joined, err := g.Do(context.Background(), "k", func() (any, error) {
				atomic.AddInt32(&executions, 1)
				<-release
				return "shared", nil
			})
			if err != nil {
				t.Errorf("caller %d got error: %v", i, err)
			}
			vals[i] = v
			joins[i] = joined
		}(i)
	}

	// Wait for the owner to be executing before releasing.
	for atomic.LoadInt32(&executions) == 0 {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := atomic.LoadInt32(&executions); n != 1 {
		t.Errorf("expected 1 execution, got %d", n)
	}

	owners := 0
	for i := 0; i < callers; i++ {
		if vals[i].(string) != "shared" {
			t.Errorf("caller %d got %v, expected 'shared'", i, vals[i])
		}
		if !joins[i] {
			owners++
		}
	}
	if owners != 1 {
		t.Errorf("expected exactly 1 owner, got %d", owners)
	}
}

func TestDoReleasesKeyImmediately(t *testing.T) {
	g := New()

	var executions int32
	fn := func() (any, error) {
		atomic.AddInt32(&executions, 1)
		return nil, nil
	}

	if _, _, err := g.Do(context.Background(), "k", fn); err != nil {
		t.Fatalf("first Do: %v", err)
	}
	if _, _, err := g.Do(context.Background(), "k", fn); err != nil {
		t.Fatalf("second Do: %v", err)
	}

	if n := atomic.LoadInt32(&executions); n != 2 {
		t.Errorf("sequential calls should each execute, got %d executions", n)
	}
}

func TestDoSharesError(t *testing.T) {
	g := New()

	sentinel := errors.New("boom")
	release := make(chan struct{})
	started := make(chan struct{})

	var waiterErr error
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		_, _, _ = g.Do(context.Background(), "k", func() (any, error) {
			close(started)
			<-release
			return nil, sentinel
		})
	}()

	go func() {
		defer wg.Done()
		<-started
		_, _, waiterErr = g.Do(context.Background(), "k", func() (any, error) {
			t.Error("waiter must not execute")
			return nil, nil
		})
	}()

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if !errors.Is(waiterErr, sentinel) {
		t.Errorf("waiter should receive the owner's error, got %v", waiterErr)
	}
}

func TestDoJoinerCancellation(t *testing.T) {
	g := New()

	release := make(chan struct{})
	started := make(chan struct{})

	go func() {
		_, _, _ = g.Do(context.Background(), "k", func() (any, error) {
			close(started)
			<-release
			return "late", nil
		})
	}()

	<-started
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, joined, err := g.Do(ctx, "k", func() (any, error) {
		t.Error("joiner must not execute")
		return nil, nil
	})

	if !joined {
		t.Error("cancelled caller should still report joined")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}

	// The owning call is unaffected by the joiner's cancellation.
	close(release)
	val, joined, err := g.Do(context.Background(), "k2", func() (any, error) { return "ok", nil })
	if err != nil || joined || val.(string) != "ok" {
		t.Errorf("group should remain usable: val=%v joined=%v err=%v", val, joined, err)
	}
}

func TestForget(t *testing.T) {
	g := New()

	release := make(chan struct{})
	started := make(chan struct{})
	var executions int32

	go func() {
		_, _, _ = g.Do(context.Background(), "k", func() (any, error) {
			atomic.AddInt32(&executions, 1)
			close(started)
			<-release
			return nil, nil
		})
	}()

	<-started
	g.Forget("k")

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, joined, _ := g.Do(context.Background(), "k", func() (any, error) {
			atomic.AddInt32(&executions, 1)
			return nil, nil
		})
		if joined {
			t.Error("caller after Forget should own a fresh execution")
		}
	}()

	<-done
	close(release)

	if n := atomic.LoadInt32(&executions); n != 2 {
		t.Errorf("expected 2 executions after Forget, got %d", n)
	}
}

func BenchmarkDoSequential(b *testing.B) {
	g := New()
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, err := g.Do(ctx, "bench", func() (any, error) {
			return 1, nil
		}); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkDoConcurrent(b *testing.B) {
	g := New()
	ctx := context.Background()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, _, err := g.Do(ctx, "bench", func() (any, error) {
				return 1, nil
			}); err != nil {
				b.Fatal(err)
			}
		}
	})
}
