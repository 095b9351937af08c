package shaper

import (
	"context"
	"testing"
	"time"
)

func TestSubmitRunsTasksInOrder(t *testing.T) {
	s := New(10, 0)
	defer s.Stop()

	var order []int
	ch := make(chan struct{})

	for i := 0; i < 3; i++ {
		i := i
		go func() {
			s.Submit(context.Background(), func(ctx context.Context) (interface{}, error) {
				order = append(order, i)
				if i == 2 {
					close(ch)
				}
				return nil, nil
			})
		}()
		time.Sleep(5 * time.Millisecond) // ensure submission order
	}

	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tasks to run")
	}

	if len(order) != 3 {
		t.Fatalf("expected 3 tasks to run, got %d", len(order))
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("expected FIFO order, got %v", order)
		}
	}
}

func TestPacingEnforcesMinimumGap(t *testing.T) {
	s := New(500, 100)
	defer s.Stop()

	starts := make(chan time.Time, 3)
	done := make(chan struct{})
	for i := 0; i < 3; i++ {
		i := i
		go func() {
			s.Submit(context.Background(), func(ctx context.Context) (interface{}, error) {
				starts <- time.Now()
				if i == 2 {
					close(done)
				}
				return nil, nil
			})
		}()
		time.Sleep(5 * time.Millisecond) // ensure submission order
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for tasks")
	}

	t1, t2, t3 := <-starts, <-starts, <-starts
	if gap := t2.Sub(t1); gap < 500*time.Millisecond {
		t.Fatalf("expected >= 500ms between first and second start, got %v", gap)
	}
	if gap := t3.Sub(t2); gap < 500*time.Millisecond {
		t.Fatalf("expected >= 500ms between second and third start, got %v", gap)
	}
}

func TestIdleTimeCountsTowardDelay(t *testing.T) {
	s := New(100, 0)
	defer s.Stop()

	s.Submit(context.Background(), func(ctx context.Context) (interface{}, error) { return nil, nil })
	time.Sleep(150 * time.Millisecond) // more than the required gap

	start := time.Now()
	s.Submit(context.Background(), func(ctx context.Context) (interface{}, error) { return nil, nil })
	if waited := time.Since(start); waited > 80*time.Millisecond {
		t.Fatalf("expected idle time to be credited against the delay, waited %v", waited)
	}
}

func TestSubmitReturnsResult(t *testing.T) {
	s := New(0, 0)
	defer s.Stop()

	v, err := s.Submit(context.Background(), func(ctx context.Context) (interface{}, error) {
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "ok" {
		t.Fatalf("expected \"ok\", got %v", v)
	}
}

func TestStatusReflectsQueueDepth(t *testing.T) {
	s := New(200, 0)
	defer s.Stop()

	release := make(chan struct{})
	go s.Submit(context.Background(), func(ctx context.Context) (interface{}, error) {
		<-release
		return nil, nil
	})
	time.Sleep(20 * time.Millisecond)

	go s.Submit(context.Background(), func(ctx context.Context) (interface{}, error) {
		return nil, nil
	})
	time.Sleep(20 * time.Millisecond)

	status := s.Status()
	if status.Queued < 1 {
		t.Fatalf("expected at least one queued task, got %d", status.Queued)
	}
	close(release)
}

func TestSubmitContextCancellationWhileQueued(t *testing.T) {
	s := New(500, 0)
	defer s.Stop()

	release := make(chan struct{})
	go s.Submit(context.Background(), func(ctx context.Context) (interface{}, error) {
		<-release
		return nil, nil
	})
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := s.Submit(ctx, func(ctx context.Context) (interface{}, error) {
		return nil, nil
	})
	if err == nil {
		t.Fatalf("expected context deadline error while queued")
	}
	close(release)
}
