package requeue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

func TestJob_RunOnce(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	pages := []crawler.PageRef{{URL: "https://firma.cz/", ListingID: "L-1"}}
	source := &fakeSource{pages: pages}
	queue := &fakeQueue{}

	job, err := New(source, queue, fixedClock{now}, Config{MinQuality: 50, MaxAge: 90 * 24 * time.Hour, Priority: 1}, zap.NewNop())
	require.NoError(t, err)

	n, err := job.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, 50, source.minQuality)
	require.Equal(t, now.Add(-90*24*time.Hour), source.cutoff)
	require.Equal(t, pages, queue.pages)
	require.Equal(t, 1, queue.priority)
}

func TestJob_RunOnce_NoCandidates(t *testing.T) {
	t.Parallel()

	queue := &fakeQueue{}
	job, err := New(&fakeSource{}, queue, fixedClock{}, Config{MaxAge: time.Hour}, nil)
	require.NoError(t, err)

	n, err := job.RunOnce(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
	require.Zero(t, queue.callCount())
}

func TestJob_RunOnce_SourceError(t *testing.T) {
	t.Parallel()

	job, err := New(&fakeSource{err: errors.New("db down")}, &fakeQueue{}, fixedClock{}, Config{MaxAge: time.Hour}, nil)
	require.NoError(t, err)

	_, err = job.RunOnce(context.Background())
	require.ErrorContains(t, err, "select requeue candidates")
}

func TestJob_RunStartsImmediatelyAndStops(t *testing.T) {
	t.Parallel()

	queue := &fakeQueue{}
	source := &fakeSource{pages: []crawler.PageRef{{URL: "https://firma.cz/"}}}
	job, err := New(source, queue, fixedClock{time.Now()}, Config{
		MaxAge:     time.Hour,
		Schedule:   "@daily",
		RunOnStart: true,
	}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- job.Run(ctx) }()

	require.Eventually(t, func() bool { return queue.callCount() == 1 }, time.Second, 10*time.Millisecond)
	cancel()
	require.Eventually(t, func() bool {
		select {
		case err := <-done:
			return err == nil
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

func TestJob_RunRejectsBadSchedule(t *testing.T) {
	t.Parallel()

	job, err := New(&fakeSource{}, &fakeQueue{}, fixedClock{}, Config{MaxAge: time.Hour, Schedule: "every tuesday"}, nil)
	require.NoError(t, err)
	require.ErrorContains(t, job.Run(context.Background()), "parse requeue schedule")
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(&fakeSource{}, &fakeQueue{}, fixedClock{}, Config{}, nil)
	require.ErrorContains(t, err, "max age")
}

type fakeSource struct {
	pages      []crawler.PageRef
	err        error
	minQuality int
	cutoff     time.Time
}

func (s *fakeSource) RequeueCandidates(_ context.Context, minQuality int, cutoff time.Time) ([]crawler.PageRef, error) {
	s.minQuality = minQuality
	s.cutoff = cutoff
	return s.pages, s.err
}

type fakeQueue struct {
	mu       sync.Mutex
	calls    int
	pages    []crawler.PageRef
	priority int
}

func (q *fakeQueue) Requeue(_ context.Context, pages []crawler.PageRef, priority int) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls++
	q.pages = pages
	q.priority = priority
	return len(pages), nil
}

func (q *fakeQueue) callCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.calls
}

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }
