package changes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/metrics"
)

// SnapshotSource hands out locked, not yet diffed snapshots.
type SnapshotSource interface {
	ClaimUncheckedSnapshot(ctx context.Context) (crawler.SnapshotClaim, error)
}

// Detector runs the change-detection step.
type Detector struct {
	source        SnapshotSource
	notifiers     []Notifier
	notifyTimeout time.Duration
	clock         crawler.Clock
	ids           crawler.IDGenerator
	logger        *zap.Logger
}

// NewDetector builds a Detector. Notifiers may be empty.
func NewDetector(
	source SnapshotSource,
	clock crawler.Clock,
	ids crawler.IDGenerator,
	logger *zap.Logger,
	notifiers ...Notifier,
) (*Detector, error) {
	switch {
	case source == nil:
		return nil, errors.New("snapshot source is required")
	case clock == nil:
		return nil, errors.New("clock is required")
	case ids == nil:
		return nil, errors.New("id generator is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{
		source:        source,
		notifiers:     notifiers,
		notifyTimeout: 10 * time.Second,
		clock:         clock,
		ids:           ids,
		logger:        logger,
	}, nil
}

// RunOnce diffs one claimed snapshot against its predecessor and returns the
// number of snapshots checked (0 or 1).
func (d *Detector) RunOnce(ctx context.Context) (int, error) {
	claim, err := d.source.ClaimUncheckedSnapshot(ctx)
	if errors.Is(err, crawler.ErrNoWork) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("claim snapshot: %w", err)
	}
	defer claim.Release(context.WithoutCancel(ctx))

	ctx, span := otel.Tracer("listing-crawler/changes").Start(ctx, "changes.detect")
	defer span.End()
	span.SetAttributes(attribute.String("listing_id", claim.ListingID()))

	now := d.clock.Now()
	diffs := Compare(claim.Previous().Data, claim.Latest().Data)
	records := make([]crawler.ChangeRecord, 0, len(diffs))
	for _, diff := range diffs {
		id, err := d.ids.NewID()
		if err != nil {
			return 0, fmt.Errorf("generate change id: %w", err)
		}
		records = append(records, crawler.ChangeRecord{
			ID:         id,
			ListingID:  claim.ListingID(),
			Field:      diff.Field,
			OldValue:   diff.OldValue,
			NewValue:   diff.NewValue,
			DetectedAt: now,
		})
	}

	if err := claim.Commit(ctx, records); err != nil {
		return 0, fmt.Errorf("commit changes: %w", err)
	}
	for _, rec := range records {
		metrics.ObserveChange(rec.Field)
	}

	logger := d.logger.With(zap.String("listing_id", claim.ListingID()))
	if len(records) == 0 {
		logger.Debug("no changes")
		return 1, nil
	}
	span.SetAttributes(attribute.Int("changed_fields", len(records)))
	logger.Info("listing changed", zap.Int("fields", len(records)))
	d.notify(ctx, claim.ListingID(), diffs, now, logger)
	return 1, nil
}

// notify fans out to every sink. Failures are logged and never undo the
// committed records.
func (d *Detector) notify(ctx context.Context, listingID string, diffs []FieldChange, now time.Time, logger *zap.Logger) {
	if len(d.notifiers) == 0 {
		return
	}
	n := Notification{ListingID: listingID, Timestamp: now}
	for _, diff := range diffs {
		n.Changes = append(n.Changes, ChangedValue(diff))
	}

	for _, sink := range d.notifiers {
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.notifyTimeout)
		err := sink.Notify(sendCtx, n)
		cancel()
		if err != nil {
			metrics.ObserveNotification(sink.Name(), "error")
			logger.Warn("change notification failed", zap.String("sink", sink.Name()), zap.Error(err))
			continue
		}
		metrics.ObserveNotification(sink.Name(), "sent")
	}
}
