package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/treasury-functions/internal/logging"
	"github.com/yourorg/treasury-functions/internal/model"
	"github.com/yourorg/treasury-functions/internal/otel"
	"github.com/yourorg/treasury-functions/internal/store"
)

// DefaultStaleAge is how long a pending transaction record is kept
const DefaultStaleAge = 7 * 24 * time.Hour

// SubscriptionSweep expires paid users whose subscription has run out
type SubscriptionSweep struct {
	store store.Store
	now   func() time.Time
}

// NewSubscriptionSweep creates the expiry sweep
func NewSubscriptionSweep(s store.Store) *SubscriptionSweep {
	return &SubscriptionSweep{store: s, now: time.Now}
}

// WithClock overrides the clock and returns the sweep
func (j *SubscriptionSweep) WithClock(now func() time.Time) *SubscriptionSweep {
	j.now = now
	return j
}

// Run flips every paid user with subscriptionExpiry <= now to unpaid in one batch
// and returns how many were expired
func (j *SubscriptionSweep) Run(ctx context.Context) (expired int, err error) {
	ctx, span := otel.Tracer().Start(ctx, "jobs.checkSubscriptions")
	defer span.End()
	defer func() { recordRun(JobCheckSubscriptions, err) }()

	now := j.now().UTC()
	docs, err := j.store.Query(ctx, model.CollectionUsers,
		store.Where("isPaidUser", store.Eq, true),
		store.Where("subscriptionExpiry", store.Lte, now),
	)
	if err != nil {
		logging.Event(JobCheckSubscriptions, logrus.Fields{"error": err.Error()}).Error("Error in checkSubscriptions")
		return 0, fmt.Errorf("query expired subscriptions: %w", err)
	}

	if len(docs) == 0 {
		logging.Event(JobCheckSubscriptions, nil).Info("No expired subscriptions found")
		return 0, nil
	}

	batch := store.NewBatch()
	for _, doc := range docs {
		batch.Merge(model.CollectionUsers, doc.ID, map[string]interface{}{
			"isPaidUser":            false,
			"subscriptionExpiredAt": now,
		})
	}

	if err := j.store.Commit(ctx, batch); err != nil {
		logging.Event(JobCheckSubscriptions, logrus.Fields{"error": err.Error()}).Error("Error in checkSubscriptions")
		otel.RecordError(ctx, err)
		return 0, fmt.Errorf("expire subscriptions: %w", err)
	}

	jobRecords.WithLabelValues(JobCheckSubscriptions, "expired").Add(float64(len(docs)))
	logging.Event(JobCheckSubscriptions, logrus.Fields{"count": len(docs)}).Infof("Updated %d expired subscriptions", len(docs))
	return len(docs), nil
}

// StaleCleanup deletes pending transaction records older than a fixed age
type StaleCleanup struct {
	store  store.Store
	maxAge time.Duration
	now    func() time.Time
}

// NewStaleCleanup creates the cleanup job; a non-positive maxAge uses DefaultStaleAge
func NewStaleCleanup(s store.Store, maxAge time.Duration) *StaleCleanup {
	if maxAge <= 0 {
		maxAge = DefaultStaleAge
	}
	return &StaleCleanup{store: s, maxAge: maxAge, now: time.Now}
}

// WithClock overrides the clock and returns the cleanup job
func (j *StaleCleanup) WithClock(now func() time.Time) *StaleCleanup {
	j.now = now
	return j
}

// Run deletes every record created before now - maxAge in one batch, whatever its status
func (j *StaleCleanup) Run(ctx context.Context) (deleted int, err error) {
	ctx, span := otel.Tracer().Start(ctx, "jobs.cleanupOldTransactions")
	defer span.End()
	defer func() { recordRun(JobCleanupTransactions, err) }()

	cutoff := j.now().UTC().Add(-j.maxAge)
	docs, err := j.store.Query(ctx, model.CollectionPendingTransactions,
		store.Where("createdAt", store.Lt, cutoff))
	if err != nil {
		logging.Event(JobCleanupTransactions, logrus.Fields{"error": err.Error()}).Error("Error in cleanupOldTransactions")
		return 0, fmt.Errorf("query old transactions: %w", err)
	}

	if len(docs) == 0 {
		logging.Event(JobCleanupTransactions, nil).Info("No old transactions to clean up")
		return 0, nil
	}

	batch := store.NewBatch()
	for _, doc := range docs {
		batch.Delete(model.CollectionPendingTransactions, doc.ID)
	}
	if err := j.store.Commit(ctx, batch); err != nil {
		logging.Event(JobCleanupTransactions, logrus.Fields{"error": err.Error()}).Error("Error in cleanupOldTransactions")
		otel.RecordError(ctx, err)
		return 0, fmt.Errorf("delete old transactions: %w", err)
	}

	jobRecords.WithLabelValues(JobCleanupTransactions, "deleted").Add(float64(len(docs)))
	logging.Event(JobCleanupTransactions, logrus.Fields{"count": len(docs)}).Infof("Deleted %d old transactions", len(docs))
	return len(docs), nil
}

// YieldMarker stamps metadata/yieldData whenever a yield opportunity is written
type YieldMarker struct {
	store store.Store
	now   func() time.Time
}

// NewYieldMarker creates the marker
func NewYieldMarker(s store.Store) *YieldMarker {
	return &YieldMarker{store: s, now: time.Now}
}

// WithClock overrides the clock and returns the marker
func (m *YieldMarker) WithClock(now func() time.Time) *YieldMarker {
	m.now = now
	return m
}

// Mark records the time of the latest yield opportunity write and its id
func (m *YieldMarker) Mark(ctx context.Context, opportunityID string) (err error) {
	defer func() { recordRun(JobUpdateYieldMarker, err) }()

	err = m.store.Set(ctx, model.CollectionMetadata, model.YieldMarkerID, map[string]interface{}{
		"yieldLastUpdated":     m.now().UTC(),
		"updatedOpportunityId": opportunityID,
	}, true)
	if err != nil {
		logging.Event(JobUpdateYieldMarker, logrus.Fields{"opportunityId": opportunityID, "error": err.Error()}).Error("Error updating yield timestamp")
		return fmt.Errorf("update yield marker: %w", err)
	}

	logging.Event(JobUpdateYieldMarker, logrus.Fields{"opportunityId": opportunityID}).Info("Yield timestamp updated")
	return nil
}
