package notify

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/treasury-functions/internal/logging"
)

// StartCommand is the bot command that replies with the sender's chat id
const StartCommand = "/start"

// ErrMalformedUpdate is returned for webhook bodies without a message chat id and text
var ErrMalformedUpdate = errors.New("malformed telegram update")

// Update is the subset of a Telegram update the webhook reads
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message"`
}

// Message is an inbound chat message
type Message struct {
	Chat *Chat   `json:"chat"`
	Text *string `json:"text"`
}

// Chat identifies the conversation
type Chat struct {
	ID int64 `json:"id"`
}

// ParseUpdate decodes a webhook body, requiring message.chat.id and message.text
func ParseUpdate(body []byte) (*Update, error) {
	var u Update
	if err := json.Unmarshal(body, &u); err != nil {
		return nil, ErrMalformedUpdate
	}
	if u.Message == nil || u.Message.Chat == nil || u.Message.Chat.ID == 0 || u.Message.Text == nil {
		return nil, ErrMalformedUpdate
	}
	return &u, nil
}

// IsStartCommand matches /start ignoring case and surrounding whitespace
func IsStartCommand(text string) bool {
	return strings.EqualFold(strings.TrimSpace(text), StartCommand)
}

// WebhookHandler answers inbound bot messages
type WebhookHandler struct {
	sender Sender
}

// NewWebhookHandler creates the handler
func NewWebhookHandler(sender Sender) *WebhookHandler {
	return &WebhookHandler{sender: sender}
}

// Handle processes one update. It reports whether a reply was sent; other
// messages are acknowledged without action.
func (h *WebhookHandler) Handle(ctx context.Context, body []byte) (replied bool, err error) {
	u, err := ParseUpdate(body)
	if err != nil {
		logging.Event("telegramWebhook", logrus.Fields{"error": err.Error()}).Warn("Rejected webhook body")
		return false, err
	}

	chatID := u.Message.Chat.ID
	fields := logrus.Fields{"chatId": chatID, "updateId": u.UpdateID}

	if !IsStartCommand(*u.Message.Text) {
		logging.Event("telegramWebhook", fields).Debug("Ignoring non-command message")
		return false, nil
	}

	err = h.sender.SendMessage(ctx, strconv.FormatInt(chatID, 10), FormatStartReply(chatID))
	recordSend("start_reply", err)
	if err != nil {
		fields["error"] = err.Error()
		logging.Event("telegramWebhook", fields).Error("Failed to reply to /start")
		return false, err
	}

	logging.Event("telegramWebhook", fields).Info("Replied to /start")
	return true, nil
}
