package notify

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/treasury-functions/internal/logging"
	"github.com/yourorg/treasury-functions/internal/model"
)

// UserChange classifies a write to a user record
type UserChange string

const (
	UserUnchanged UserChange = ""
	UserCreated   UserChange = "created"
	UserUpgraded  UserChange = "upgraded"
	UserOptedIn   UserChange = "opted_in"
)

// ClassifyUserChange picks the single notification a write deserves.
// Creation wins over an upgrade to paid, which wins over enabling notifications.
// Deletes and other edits are UserUnchanged.
func ClassifyUserChange(before, after *model.User) UserChange {
	switch {
	case after == nil:
		return UserUnchanged
	case before == nil:
		return UserCreated
	case after.IsPaidUser && !before.IsPaidUser:
		return UserUpgraded
	case after.NotificationsEnabled && !before.NotificationsEnabled:
		return UserOptedIn
	default:
		return UserUnchanged
	}
}

// UserNotifier reports user changes to the operators' channel
type UserNotifier struct {
	sender Sender
	chatID string
}

// NewUserNotifier creates a notifier posting to chatID
func NewUserNotifier(sender Sender, chatID string) *UserNotifier {
	return &UserNotifier{sender: sender, chatID: chatID}
}

// Notify sends at most one message for the write and returns its classification
func (n *UserNotifier) Notify(ctx context.Context, userID string, before, after *model.User) (UserChange, error) {
	change := ClassifyUserChange(before, after)
	if change == UserUnchanged {
		return change, nil
	}

	fields := logrus.Fields{"userId": userID, "change": string(change)}
	if n.chatID == "" {
		logging.Event("notifyUserChange", fields).Warn("Notification channel not configured")
		return change, fmt.Errorf("notification channel: %w", ErrNotConfigured)
	}

	err := n.sender.SendMessage(ctx, n.chatID, FormatUserMessage(change, userID, after))
	recordSend("user_"+string(change), err)
	if err != nil {
		fields["error"] = err.Error()
		logging.Event("notifyUserChange", fields).Error("There was an error while sending the Telegram message")
		return change, err
	}

	logging.Event("notifyUserChange", fields).Info("User notification sent successfully to Telegram")
	return change, nil
}
