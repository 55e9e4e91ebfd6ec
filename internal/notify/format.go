package notify

import (
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"github.com/yourorg/treasury-functions/internal/model"
)

// field renders one named property of T; ok is false when the value is absent
type field[T any] struct {
	name   string
	render func(v *T) (value string, ok bool)
}

func textField[T any](name string, get func(*T) string) field[T] {
	return field[T]{name: name, render: func(v *T) (string, bool) {
		s := get(v)
		return html.EscapeString(s), s != ""
	}}
}

func boolField[T any](name string, get func(*T) bool) field[T] {
	return field[T]{name: name, render: func(v *T) (string, bool) {
		return strconv.FormatBool(get(v)), true
	}}
}

func timeField[T any](name string, get func(*T) *time.Time) field[T] {
	return field[T]{name: name, render: func(v *T) (string, bool) {
		t := get(v)
		if t == nil || t.IsZero() {
			return "", false
		}
		return t.UTC().Format(time.RFC3339), true
	}}
}

func percentField[T any](name string, get func(*T) float64) field[T] {
	return field[T]{name: name, render: func(v *T) (string, bool) {
		return strconv.FormatFloat(get(v), 'f', 2, 64) + "%", true
	}}
}

// renderFields writes "name: value" lines for every present field, in list order
func renderFields[T any](v *T, fields []field[T]) string {
	lines := make([]string, 0, len(fields))
	for _, f := range fields {
		if value, ok := f.render(v); ok {
			lines = append(lines, f.name+": "+value)
		}
	}
	return strings.Join(lines, "\n")
}

var userFields = []field[model.User]{
	boolField("isPaidUser", func(u *model.User) bool { return u.IsPaidUser }),
	timeField("subscriptionExpiry", func(u *model.User) *time.Time { return u.SubscriptionExpiry }),
	timeField("subscriptionExpiredAt", func(u *model.User) *time.Time { return u.SubscriptionExpiredAt }),
	boolField("notificationsEnabled", func(u *model.User) bool { return u.NotificationsEnabled }),
	textField("telegramChatId", func(u *model.User) string { return u.TelegramChatID }),
	textField("email", func(u *model.User) string { return u.Email }),
	timeField("createdAt", func(u *model.User) *time.Time { return u.CreatedAt }),
}

var opportunityFields = []field[model.YieldOpportunity]{
	textField("Protocol", func(o *model.YieldOpportunity) string { return o.Protocol }),
	textField("Asset", func(o *model.YieldOpportunity) string { return o.Asset }),
	textField("Chain", func(o *model.YieldOpportunity) string { return o.Chain }),
	percentField("APY", func(o *model.YieldOpportunity) float64 { return o.APY }),
}

// userHeadlines are keyed by the change that triggered the message
var userHeadlines = map[UserChange]string{
	UserCreated:  "👋 New user alert! 👋",
	UserUpgraded: "🎉 New paying user alert! 🎉",
	UserOptedIn:  "🔔 User enabled notifications 🔔",
}

// FormatUserMessage renders the channel message for a user change
func FormatUserMessage(change UserChange, userID string, u *model.User) string {
	return fmt.Sprintf("%s\nUser ID: %s\n\nUser Properties:\n%s",
		userHeadlines[change], html.EscapeString(userID), renderFields(u, userFields))
}

// FormatOpportunityMessage renders the message sent to subscribers for a new opportunity
func FormatOpportunityMessage(o *model.YieldOpportunity) string {
	msg := "🚀 New yield opportunity!\n\n" + renderFields(o, opportunityFields)
	if o.URL != "" {
		msg += fmt.Sprintf("\n\n<a href=\"%s\">View opportunity</a>", html.EscapeString(o.URL))
	}
	return msg
}

// FormatStartReply renders the /start answer carrying the sender's chat id
func FormatStartReply(chatID int64) string {
	return fmt.Sprintf("Your chat ID is: <code>%d</code>\n\nEnter it in your account settings to receive yield alerts.", chatID)
}
