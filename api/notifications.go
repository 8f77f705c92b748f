package api

import (
	"context"
	"sync"

	"boardflow-api/board"
)

// notificationFeedCap bounds how many notifications are kept per account.
const notificationFeedCap = 50

// NotificationFeed is a bounded in-memory feed of user-visible
// notifications per account, newest first. It implements board.Notifier
// for the transition controller and backs GET /api/notifications. The
// dashboard's toast rendering sits outside this service.
type NotificationFeed struct {
	mu        sync.Mutex
	byAccount map[string][]board.Notification
}

// NewNotificationFeed creates an empty feed.
func NewNotificationFeed() *NotificationFeed {
	return &NotificationFeed{byAccount: make(map[string][]board.Notification)}
}

// Notify records a notification for the account, evicting the oldest entry
// once the cap is reached.
func (f *NotificationFeed) Notify(_ context.Context, accountID string, n board.Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	notes := append(f.byAccount[accountID], n)
	if len(notes) > notificationFeedCap {
		notes = notes[len(notes)-notificationFeedCap:]
	}
	f.byAccount[accountID] = notes
}

// Recent returns the account's notifications, newest first.
func (f *NotificationFeed) Recent(accountID string) []board.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	notes := f.byAccount[accountID]
	out := make([]board.Notification, 0, len(notes))
	for i := len(notes) - 1; i >= 0; i-- {
		out = append(out, notes[i])
	}
	return out
}
