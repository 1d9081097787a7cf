package cron

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeProgressRepo struct {
	cutoffs []time.Time
	deleted int64
	err     error
}

func (f *fakeProgressRepo) DeleteStaleProgress(ctx context.Context, cutoff time.Time) (int64, error) {
	f.cutoffs = append(f.cutoffs, cutoff)
	return f.deleted, f.err
}

func TestProgressCleanupUsesConfiguredMaxAge(t *testing.T) {
	repo := &fakeProgressRepo{deleted: 3}
	job, err := NewProgressCleanupJob(ProgressCleanupJobParams{
		Logger:     testLogger(),
		Repository: repo,
		MaxAge:     48 * time.Hour,
	})
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	job.(*progressCleanupJob).now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(repo.cutoffs) != 1 {
		t.Fatalf("expected one sweep, got %d", len(repo.cutoffs))
	}
	want := now.Add(-48 * time.Hour)
	if !repo.cutoffs[0].Equal(want) {
		t.Fatalf("cutoff mismatch: %v vs %v", repo.cutoffs[0], want)
	}
}

func TestProgressCleanupPropagatesErrors(t *testing.T) {
	repo := &fakeProgressRepo{err: errors.New("db down")}
	job, err := NewProgressCleanupJob(ProgressCleanupJobParams{Logger: testLogger(), Repository: repo})
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

type fakeRetentionRepo struct {
	batches []int
	counts  []int64
	err     error
}

func (f *fakeRetentionRepo) DeletePublishedBefore(cutoff time.Time, limit int) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.batches = append(f.batches, limit)
	if len(f.counts) == 0 {
		return 0, nil
	}
	count := f.counts[0]
	f.counts = f.counts[1:]
	return count, nil
}

func TestOutboxRetentionDrainsInBatches(t *testing.T) {
	repo := &fakeRetentionRepo{counts: []int64{500, 500, 120}}
	job, err := NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger:     testLogger(),
		Repository: repo,
	})
	if err != nil {
		t.Fatalf("new job: %v", err)
	}

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(repo.batches) != 3 {
		t.Fatalf("expected 3 delete batches, got %d", len(repo.batches))
	}
}

func TestOutboxRetentionStopsOnError(t *testing.T) {
	repo := &fakeRetentionRepo{err: errors.New("db down")}
	job, err := NewOutboxRetentionJob(OutboxRetentionJobParams{Logger: testLogger(), Repository: repo})
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

type fakeKeepAliver struct {
	calls int
	err   error
}

func (f *fakeKeepAliver) KeepAlive(ctx context.Context) error {
	f.calls++
	return f.err
}

func TestSessionKeepAliveRefreshes(t *testing.T) {
	client := &fakeKeepAliver{}
	job, err := NewSessionKeepAliveJob(SessionKeepAliveJobParams{Logger: testLogger(), Client: client})
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if client.calls != 1 {
		t.Fatalf("expected one keepalive call, got %d", client.calls)
	}
}

func TestSessionKeepAliveSurfacesFailures(t *testing.T) {
	client := &fakeKeepAliver{err: errors.New("login rejected")}
	job, err := NewSessionKeepAliveJob(SessionKeepAliveJobParams{Logger: testLogger(), Client: client})
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
