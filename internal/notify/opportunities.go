package notify

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/yourorg/treasury-functions/internal/logging"
	"github.com/yourorg/treasury-functions/internal/model"
	"github.com/yourorg/treasury-functions/internal/store"
)

// FanoutResult counts the deliveries of one opportunity announcement
type FanoutResult struct {
	Recipients int `json:"recipients"`
	Sent       int `json:"sent"`
	Failed     int `json:"failed"`
}

// OpportunityNotifier announces new yield opportunities to subscribers
type OpportunityNotifier struct {
	store   store.Store
	sender  Sender
	limiter *rate.Limiter
}

// NewOpportunityNotifier creates the fan-out notifier. messagesPerSecond caps
// the send rate; zero or less means unlimited.
func NewOpportunityNotifier(s store.Store, sender Sender, messagesPerSecond float64) *OpportunityNotifier {
	limit := rate.Inf
	if messagesPerSecond > 0 {
		limit = rate.Limit(messagesPerSecond)
	}
	return &OpportunityNotifier{
		store:   s,
		sender:  sender,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Notify sends one message per paid, notification-enabled user with a chat id.
// A failed delivery is logged and does not stop the others.
func (n *OpportunityNotifier) Notify(ctx context.Context, opportunityID string, opp *model.YieldOpportunity) (FanoutResult, error) {
	var result FanoutResult

	docs, err := n.store.Query(ctx, model.CollectionUsers,
		store.Where("isPaidUser", store.Eq, true),
		store.Where("notificationsEnabled", store.Eq, true),
	)
	if err != nil {
		logging.Event("notifyNewOpportunity", logrus.Fields{"opportunityId": opportunityID, "error": err.Error()}).Error("Failed to load subscribers")
		return result, fmt.Errorf("load subscribers: %w", err)
	}

	text := FormatOpportunityMessage(opp)
	for _, doc := range docs {
		var user model.User
		if err := doc.Decode(&user); err != nil {
			logging.Event("notifyNewOpportunity", logrus.Fields{
				"opportunityId": opportunityID,
				"userId":        doc.ID,
				"error":         err.Error(),
			}).Warn("Skipping undecodable user record")
			continue
		}
		if user.TelegramChatID == "" {
			continue
		}
		result.Recipients++

		if err := n.limiter.Wait(ctx); err != nil {
			return result, err
		}

		err := n.sender.SendMessage(ctx, user.TelegramChatID, text)
		recordSend("opportunity", err)
		if err != nil {
			result.Failed++
			logging.Event("notifyNewOpportunity", logrus.Fields{
				"opportunityId": opportunityID,
				"userId":        doc.ID,
				"error":         err.Error(),
			}).Warn("Failed to deliver opportunity notification")
			continue
		}
		result.Sent++
	}

	logging.Event("notifyNewOpportunity", logrus.Fields{
		"opportunityId": opportunityID,
		"recipients":    result.Recipients,
		"sent":          result.Sent,
		"failed":        result.Failed,
	}).Info("Opportunity notification fan-out finished")
	return result, nil
}
