package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/treasury-functions/internal/logging"
	"github.com/yourorg/treasury-functions/internal/model"
	"github.com/yourorg/treasury-functions/internal/otel"
	"github.com/yourorg/treasury-functions/internal/store"
	"github.com/yourorg/treasury-functions/internal/types"
	"github.com/yourorg/treasury-functions/internal/validation"
)

// ReceiptFetcher looks up a transaction receipt; a nil receipt means not mined yet
type ReceiptFetcher interface {
	TransactionReceipt(ctx context.Context, network types.Network, hash common.Hash) (*ethtypes.Receipt, error)
}

// NetworkResolver maps a chain id to its network configuration
type NetworkResolver interface {
	Lookup(id types.ChainID) (types.Network, error)
}

// VerifyResult counts what one verifier run did with the pending records
type VerifyResult struct {
	Pending     int `json:"pending"`
	Completed   int `json:"completed"`
	Failed      int `json:"failed"`
	Unconfirmed int `json:"unconfirmed"`
	Skipped     int `json:"skipped"`
	Errors      int `json:"errors"`
}

// Processed is the number of records that reached a terminal status
func (r VerifyResult) Processed() int {
	return r.Completed + r.Failed
}

type outcome int

const (
	outcomeUnconfirmed outcome = iota
	outcomeCompleted
	outcomeFailed
	outcomeSkipped
)

// Verifier moves pending payment transactions to completed or failed and
// extends the paying user's subscription on success
type Verifier struct {
	store    store.Store
	networks NetworkResolver
	receipts ReceiptFetcher
	now      func() time.Time
}

// NewVerifier creates a transaction verifier
func NewVerifier(s store.Store, networks NetworkResolver, receipts ReceiptFetcher) *Verifier {
	return &Verifier{store: s, networks: networks, receipts: receipts, now: time.Now}
}

// WithClock overrides the clock and returns the verifier
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	v.now = now
	return v
}

// runState carries the batch and the expiries already granted in this run, so
// two payments by the same user both extend the subscription
type runState struct {
	now      time.Time
	batch    *store.Batch
	expiries map[string]time.Time
}

// Run processes every pending transaction once. Per-record failures are logged
// and skipped; all terminal transitions are committed in one batch.
func (v *Verifier) Run(ctx context.Context) (result VerifyResult, err error) {
	ctx, span := otel.Tracer().Start(ctx, "jobs.verifyTransactions")
	defer span.End()
	defer func() {
		recordRun(JobVerifyTransactions, err)
		if err != nil {
			otel.RecordError(ctx, err)
		}
	}()

	docs, err := v.store.Query(ctx, model.CollectionPendingTransactions,
		store.Where("status", store.Eq, string(model.StatusPending)))
	if err != nil {
		logging.Event(JobVerifyTransactions, logrus.Fields{"error": err.Error()}).Error("Function failed")
		return result, fmt.Errorf("load pending transactions: %w", err)
	}

	result.Pending = len(docs)
	logging.Event(JobVerifyTransactions, logrus.Fields{"pending": len(docs)}).Infof("Found %d pending transactions", len(docs))
	if len(docs) == 0 {
		return result, nil
	}

	state := &runState{
		now:      v.now().UTC(),
		batch:    store.NewBatch(),
		expiries: make(map[string]time.Time),
	}

	for _, doc := range docs {
		var tx model.PendingTransaction
		if err := doc.Decode(&tx); err != nil {
			result.Errors++
			jobRecords.WithLabelValues(JobVerifyTransactions, "error").Inc()
			logging.Event(JobVerifyTransactions, logrus.Fields{"id": doc.ID, "error": err.Error()}).Error("Malformed pending transaction")
			continue
		}

		out, err := v.process(ctx, doc.ID, tx, state)
		if err != nil {
			result.Errors++
			jobRecords.WithLabelValues(JobVerifyTransactions, "error").Inc()
			logging.Event(JobVerifyTransactions, logrus.Fields{
				"hash":    tx.Hash,
				"chainId": tx.ChainID,
				"error":   err.Error(),
			}).Errorf("Error processing transaction %s", tx.Hash)
			continue
		}

		switch out {
		case outcomeCompleted:
			result.Completed++
			jobRecords.WithLabelValues(JobVerifyTransactions, "completed").Inc()
		case outcomeFailed:
			result.Failed++
			jobRecords.WithLabelValues(JobVerifyTransactions, "failed").Inc()
		case outcomeSkipped:
			result.Skipped++
			jobRecords.WithLabelValues(JobVerifyTransactions, "skipped").Inc()
		default:
			result.Unconfirmed++
			jobRecords.WithLabelValues(JobVerifyTransactions, "unconfirmed").Inc()
		}
	}

	if result.Processed() == 0 {
		logging.Event(JobVerifyTransactions, nil).Info("No transactions were processed")
		return result, nil
	}

	if err := v.store.Commit(ctx, state.batch); err != nil {
		logging.Event(JobVerifyTransactions, logrus.Fields{"error": err.Error()}).Error("Failed to commit verification batch")
		return result, fmt.Errorf("commit verification batch: %w", err)
	}

	logging.Event(JobVerifyTransactions, logrus.Fields{
		"completed": result.Completed,
		"failed":    result.Failed,
	}).Infof("Processed %d transactions", result.Processed())
	return result, nil
}

// process resolves one record and stages its transition in state.batch
func (v *Verifier) process(ctx context.Context, id string, tx model.PendingTransaction, state *runState) (outcome, error) {
	fields := logrus.Fields{"hash": tx.Hash, "chainId": tx.ChainID}

	network, err := v.networks.Lookup(types.ChainID(tx.ChainID))
	if err != nil {
		logging.Event(JobVerifyTransactions, fields).Errorf("Invalid network for transaction %s", tx.Hash)
		return outcomeSkipped, nil
	}

	hash, err := validation.TransactionHash(tx.Hash)
	if err != nil {
		logging.Event(JobVerifyTransactions, fields).Errorf("Skipping transaction: %v", err)
		return outcomeSkipped, nil
	}

	receipt, err := v.receipts.TransactionReceipt(ctx, network, hash)
	if err != nil {
		return outcomeUnconfirmed, err
	}

	switch {
	case receipt == nil:
		logging.Event(JobVerifyTransactions, fields).Infof("Transaction %s not yet confirmed", tx.Hash)
		return outcomeUnconfirmed, nil

	case receipt.Status == ethtypes.ReceiptStatusSuccessful:
		if _, err := validation.Address(tx.UserAddress); err != nil {
			logging.Event(JobVerifyTransactions, fields).Errorf("Skipping confirmed transaction: %v", err)
			return outcomeSkipped, nil
		}

		expiry, err := v.nextExpiry(ctx, tx, state)
		if err != nil {
			return outcomeUnconfirmed, err
		}

		state.batch.
			Merge(model.CollectionUsers, tx.UserAddress, map[string]interface{}{
				"isPaidUser":         true,
				"subscriptionExpiry": expiry,
			}).
			Merge(model.CollectionPendingTransactions, id, map[string]interface{}{
				"status":      model.StatusCompleted,
				"processedAt": state.now,
			})
		state.expiries[tx.UserAddress] = expiry

		logging.Event(JobVerifyTransactions, logrus.Fields{
			"hash":   tx.Hash,
			"user":   tx.UserAddress,
			"expiry": expiry.Format(time.RFC3339),
		}).Infof("Transaction %s confirmed. Updating user subscription.", tx.Hash)
		return outcomeCompleted, nil

	default:
		state.batch.Merge(model.CollectionPendingTransactions, id, map[string]interface{}{
			"status":      model.StatusFailed,
			"processedAt": state.now,
		})
		logging.Event(JobVerifyTransactions, fields).Infof("Transaction %s failed.", tx.Hash)
		return outcomeFailed, nil
	}
}

// nextExpiry extends a still-running subscription from its expiry, otherwise starts one from now
func (v *Verifier) nextExpiry(ctx context.Context, tx model.PendingTransaction, state *runState) (time.Time, error) {
	current, ok := state.expiries[tx.UserAddress]
	if !ok {
		doc, err := v.store.Get(ctx, model.CollectionUsers, tx.UserAddress)
		switch {
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			return time.Time{}, fmt.Errorf("load user %s: %w", tx.UserAddress, err)
		default:
			var user model.User
			if err := doc.Decode(&user); err != nil {
				return time.Time{}, err
			}
			if user.SubscriptionExpiry != nil {
				current = *user.SubscriptionExpiry
			}
		}
	}

	if current.After(state.now) {
		return tx.ExtendFrom(current).UTC(), nil
	}
	return tx.ExtendFrom(state.now).UTC(), nil
}
