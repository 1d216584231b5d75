package changes

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

func TestDetector_RunOnce_WritesRecordsAndNotifies(t *testing.T) {
	t.Parallel()

	var (
		mu       sync.Mutex
		received []Notification
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var n Notification
		if err := json.Unmarshal(body, &n); err == nil {
			mu.Lock()
			received = append(received, n)
			mu.Unlock()
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	webhook, err := NewWebhookNotifier(srv.URL, time.Second)
	require.NoError(t, err)
	pub := &fakePublisher{}

	claim := &fakeClaim{
		listingID: "L-7",
		previous:  crawler.Snapshot{Data: crawler.SnapshotData{Emails: []string{"a@firma.cz"}}},
		latest:    crawler.Snapshot{Data: crawler.SnapshotData{Emails: []string{"b@firma.cz"}, Phones: []string{"+420603123456"}}},
	}
	now := time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC)
	d, err := NewDetector(&fakeSource{claims: []*fakeClaim{claim}}, fixedClock{now}, fakeIDs{}, zap.NewNop(), webhook, NewTopicNotifier(pub))
	require.NoError(t, err)

	n, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.Len(t, claim.committed, 2)
	require.Equal(t, "emails", claim.committed[0].Field)
	require.Equal(t, "phones", claim.committed[1].Field)
	require.Equal(t, "L-7", claim.committed[0].ListingID)
	require.Equal(t, now, claim.committed[0].DetectedAt)
	require.True(t, claim.released)

	mu.Lock()
	require.Len(t, received, 1)
	require.Equal(t, "L-7", received[0].ListingID)
	require.Len(t, received[0].Changes, 2)
	mu.Unlock()

	require.Len(t, pub.attrs, 1)
	require.Equal(t, "L-7", pub.attrs[0]["listing_id"])
}

func TestDetector_RunOnce_NoChangesStillCommits(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{}
	claim := &fakeClaim{
		listingID: "L-8",
		previous:  crawler.Snapshot{Data: crawler.SnapshotData{Emails: []string{"a@x.cz", "b@x.cz"}}},
		latest:    crawler.Snapshot{Data: crawler.SnapshotData{Emails: []string{"b@x.cz", "a@x.cz"}}},
	}
	d, err := NewDetector(&fakeSource{claims: []*fakeClaim{claim}}, fixedClock{}, fakeIDs{}, nil, NewTopicNotifier(pub))
	require.NoError(t, err)

	_, err = d.RunOnce(context.Background())
	require.NoError(t, err)
	require.True(t, claim.commitCalled)
	require.Empty(t, claim.committed)
	require.Empty(t, pub.attrs)
}

func TestDetector_RunOnce_NotificationFailureIsSwallowed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)
	webhook, err := NewWebhookNotifier(srv.URL, 0)
	require.NoError(t, err)

	claim := &fakeClaim{
		listingID: "L-9",
		latest:    crawler.Snapshot{Data: crawler.SnapshotData{OrgNum: strPtr("25596641")}},
	}
	d, err := NewDetector(&fakeSource{claims: []*fakeClaim{claim}}, fixedClock{}, fakeIDs{}, nil, webhook)
	require.NoError(t, err)

	n, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Len(t, claim.committed, 1)
}

func TestDetector_RunOnce_CommitErrorSkipsNotify(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{}
	claim := &fakeClaim{
		listingID: "L-10",
		latest:    crawler.Snapshot{Data: crawler.SnapshotData{Phones: []string{"+420111222333"}}},
		commitErr: errors.New("conn closed"),
	}
	d, err := NewDetector(&fakeSource{claims: []*fakeClaim{claim}}, fixedClock{}, fakeIDs{}, nil, NewTopicNotifier(pub))
	require.NoError(t, err)

	_, err = d.RunOnce(context.Background())
	require.ErrorContains(t, err, "commit changes")
	require.Empty(t, pub.attrs)
	require.True(t, claim.released)
}

func TestDetector_RunOnce_NoWork(t *testing.T) {
	t.Parallel()

	d, err := NewDetector(&fakeSource{}, fixedClock{}, fakeIDs{}, nil)
	require.NoError(t, err)
	n, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestNewWebhookNotifierRequiresURL(t *testing.T) {
	t.Parallel()

	_, err := NewWebhookNotifier("", time.Second)
	require.Error(t, err)
}

type fakeClaim struct {
	listingID    string
	previous     crawler.Snapshot
	latest       crawler.Snapshot
	commitErr    error
	commitCalled bool
	committed    []crawler.ChangeRecord
	released     bool
}

func (c *fakeClaim) ListingID() string          { return c.listingID }
func (c *fakeClaim) Latest() crawler.Snapshot   { return c.latest }
func (c *fakeClaim) Previous() crawler.Snapshot { return c.previous }
func (c *fakeClaim) Release(context.Context)    { c.released = true }

func (c *fakeClaim) Commit(_ context.Context, records []crawler.ChangeRecord) error {
	c.commitCalled = true
	if c.commitErr != nil {
		return c.commitErr
	}
	c.committed = records
	return nil
}

type fakeSource struct {
	claims []*fakeClaim
}

func (s *fakeSource) ClaimUncheckedSnapshot(context.Context) (crawler.SnapshotClaim, error) {
	if len(s.claims) == 0 {
		return nil, crawler.ErrNoWork
	}
	c := s.claims[0]
	s.claims = s.claims[1:]
	return c, nil
}

type fakePublisher struct {
	mu    sync.Mutex
	attrs []map[string]string
}

func (p *fakePublisher) Publish(_ context.Context, attrs map[string]string, _ any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attrs = append(p.attrs, attrs)
	return "msg-1", nil
}

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

type fakeIDs struct{}

func (fakeIDs) NewID() (uuid.UUID, error) { return uuid.New(), nil }
