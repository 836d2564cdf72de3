package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type fakeTarget struct {
	compactCalls   int32
	vacuumCalls    int32
	checkpointCalls int32
	blockUntil     chan struct{}
}

func (f *fakeTarget) Compact(ctx context.Context) error {
	atomic.AddInt32(&f.compactCalls, 1)
	if f.blockUntil != nil {
		select {
		case <-f.blockUntil:
		case <-ctx.Done():
		}
	}
	return nil
}

func (f *fakeTarget) Vacuum(ctx context.Context) error {
	atomic.AddInt32(&f.vacuumCalls, 1)
	return nil
}

func (f *fakeTarget) Checkpoint(ctx context.Context) error {
	atomic.AddInt32(&f.checkpointCalls, 1)
	return nil
}

func TestAddJobRejectsDuplicateName(t *testing.T) {
	s := New(&fakeTarget{})
	job := Job{Name: "compact", Kind: JobCompact, CronExpr: "* * * * * *"}
	if err := s.AddJob(job); err != nil {
		t.Fatal(err)
	}
	if err := s.AddJob(job); err == nil {
		t.Fatal("expected error for duplicate job name")
	}
}

func TestAddJobRejectsInvalidCron(t *testing.T) {
	s := New(&fakeTarget{})
	err := s.AddJob(Job{Name: "bad", Kind: JobVacuum, CronExpr: "not a cron expr"})
	if err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
}

func TestScheduledJobRuns(t *testing.T) {
	target := &fakeTarget{}
	s := New(target)
	if err := s.AddJob(Job{Name: "vacuum", Kind: JobVacuum, CronExpr: "* * * * * *"}); err != nil {
		t.Fatal(err)
	}
	s.Start()
	defer s.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(&target.vacuumCalls) > 0 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("expected vacuum job to have run at least once")
}

func TestNoOverlapSkipsConcurrentRun(t *testing.T) {
	target := &fakeTarget{blockUntil: make(chan struct{})}
	s := New(target)
	if err := s.AddJob(Job{Name: "compact", Kind: JobCompact, CronExpr: "* * * * * *", NoOverlap: true}); err != nil {
		t.Fatal(err)
	}
	s.Start()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && atomic.LoadInt32(&target.compactCalls) == 0 {
		time.Sleep(50 * time.Millisecond)
	}
	time.Sleep(1200 * time.Millisecond)
	close(target.blockUntil)
	s.Stop()

	if atomic.LoadInt32(&target.compactCalls) != 1 {
		t.Fatalf("expected exactly 1 overlapping call suppressed, got %d calls", target.compactCalls)
	}
}

func TestRemoveJobStopsFutureRuns(t *testing.T) {
	target := &fakeTarget{}
	s := New(target)
	if err := s.AddJob(Job{Name: "checkpoint", Kind: JobCheckpoint, CronExpr: "* * * * * *"}); err != nil {
		t.Fatal(err)
	}
	s.RemoveJob("checkpoint")
	s.Start()
	defer s.Stop()
	time.Sleep(1200 * time.Millisecond)
	if atomic.LoadInt32(&target.checkpointCalls) != 0 {
		t.Fatal("expected removed job to never run")
	}
}
