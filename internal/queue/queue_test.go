package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestQueuePushPopFIFO(t *testing.T) {
	t.Parallel()

	q := New()
	q.Push(Test("foo"))
	q.Push(Test("bar"))
	q.Push(Sentinel())

	ctx := context.Background()
	for _, want := range []string{"foo", "bar"} {
		e, err := q.Pop(ctx)
		if err != nil {
			t.Fatalf("Pop: %v", err)
		}
		if e.IsSentinel() || e.TestID() != want {
			t.Fatalf("Pop = %v, want test(%s)", e, want)
		}
	}
	e, err := q.Pop(ctx)
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if !e.IsSentinel() {
		t.Fatalf("expected sentinel, got %v", e)
	}
	if !q.IsEmpty() {
		t.Fatalf("expected empty queue, len=%d", q.Len())
	}
}

func TestQueuePopBlocksUntilPush(t *testing.T) {
	t.Parallel()

	q := New()
	got := make(chan Entry, 1)
	go func() {
		e, err := q.Pop(context.Background())
		if err == nil {
			got <- e
		}
	}()

	select {
	case e := <-got:
		t.Fatalf("Pop returned %v before any push", e)
	case <-time.After(50 * time.Millisecond):
	}

	q.Push(Test("late"))
	select {
	case e := <-got:
		if e.TestID() != "late" {
			t.Fatalf("Pop = %v, want test(late)", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Pop did not wake up after Push")
	}
}

func TestQueuePopHonorsContext(t *testing.T) {
	t.Parallel()

	q := New()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := q.Pop(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Pop error = %v, want deadline exceeded", err)
	}
}

func TestQueueEachEntryDeliveredOnce(t *testing.T) {
	t.Parallel()

	const (
		consumers = 8
		tests     = 500
	)
	q := New()
	for i := 0; i < tests; i++ {
		q.Push(Test(fmt.Sprintf("t%d", i)))
	}

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		wg   sync.WaitGroup
	)
	for c := 0; c < consumers; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				e, err := q.Pop(context.Background())
				if err != nil {
					t.Errorf("Pop: %v", err)
					return
				}
				if e.IsSentinel() {
					return
				}
				mu.Lock()
				seen[e.TestID()]++
				mu.Unlock()
			}
		}()
		q.Push(Sentinel())
	}
	wg.Wait()

	if len(seen) != tests {
		t.Fatalf("saw %d distinct tests, want %d", len(seen), tests)
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("test %s delivered %d times", id, n)
		}
	}
	if !q.IsEmpty() {
		t.Fatalf("queue not drained: %v", q.Remaining())
	}
}

func TestQueueWaitAllDone(t *testing.T) {
	t.Parallel()

	q := New()
	q.Push(Test("a"))
	q.Push(Test("b"))

	done := make(chan error, 1)
	go func() { done <- q.WaitAllDone(context.Background()) }()

	for i := 0; i < 2; i++ {
		if _, err := q.Pop(context.Background()); err != nil {
			t.Fatalf("Pop: %v", err)
		}
		select {
		case <-done:
			t.Fatal("WaitAllDone returned before all entries were marked done")
		default:
		}
		if err := q.MarkDone(); err != nil {
			t.Fatalf("MarkDone: %v", err)
		}
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("WaitAllDone: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WaitAllDone did not return")
	}
}

func TestQueueWaitAllDoneHonorsContext(t *testing.T) {
	t.Parallel()

	q := New()
	q.Push(Test("never-done"))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := q.WaitAllDone(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("WaitAllDone error = %v, want deadline exceeded", err)
	}
}

func TestQueueMarkDoneTooManyTimes(t *testing.T) {
	t.Parallel()

	q := New()
	if err := q.MarkDone(); !errors.Is(err, ErrTooManyDone) {
		t.Fatalf("MarkDone error = %v, want ErrTooManyDone", err)
	}
}

func TestQueueRemainingIsSnapshot(t *testing.T) {
	t.Parallel()

	q := New()
	q.Push(Test("x"))
	q.Push(Sentinel())

	rem := q.Remaining()
	if len(rem) != 2 || rem[0].TestID() != "x" || !rem[1].IsSentinel() {
		t.Fatalf("Remaining = %v", rem)
	}
	rem[0] = Test("mutated")
	if q.Remaining()[0].TestID() != "x" {
		t.Fatal("Remaining must return a copy")
	}
}
