package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/astrogirlnim/Children-of-Singularity-sub003/internal/model"
	"github.com/astrogirlnim/Children-of-Singularity-sub003/internal/store"
)

var ErrNotificationNotFound = errors.New("notification not found")

func notificationsKey(playerID string) string { return "notifications/" + playerID }

type notificationsDoc struct {
	Notifications []model.Notification `json:"notifications"`
}

// NotificationStore keeps a capped, append-only list of sale events per
// seller. Oldest entries are evicted past the cap.
type NotificationStore struct {
	store         store.VersionedStore
	logger        *zap.Logger
	cap           int
	writeAttempts int
}

func NewNotificationStore(s store.VersionedStore, logger *zap.Logger, cap int) *NotificationStore {
	if cap <= 0 {
		cap = 50
	}
	return &NotificationStore{store: s, logger: logger, cap: cap, writeAttempts: store.DefaultAttempts}
}

// Append adds a notification for the player, evicting the oldest entries
// past the cap. The trade id keys idempotency: appending the same sale event
// twice keeps a single copy.
func (n *NotificationStore) Append(ctx context.Context, playerID string, notif model.Notification) error {
	if notif.ID == "" {
		notif.ID = uuid.NewString()
	}
	if notif.CreatedAt.IsZero() {
		notif.CreatedAt = time.Now().UTC()
	}

	_, _, err := store.Update(ctx, n.store, notificationsKey(playerID), n.writeAttempts, func(doc *notificationsDoc) error {
		if notif.TradeID != "" {
			for _, existing := range doc.Notifications {
				if existing.TradeID == notif.TradeID && existing.Type == notif.Type {
					return store.ErrNoChange
				}
			}
		}
		doc.Notifications = append(doc.Notifications, notif)
		if len(doc.Notifications) > n.cap {
			doc.Notifications = doc.Notifications[len(doc.Notifications)-n.cap:]
		}
		return nil
	})
	if err != nil {
		return err
	}

	n.logger.Debug("notification appended",
		zap.String("player_id", playerID),
		zap.String("trade_id", notif.TradeID))
	return nil
}

// List returns the player's notifications, newest first.
func (n *NotificationStore) List(ctx context.Context, playerID string) ([]model.Notification, error) {
	doc, _, err := store.Read[notificationsDoc](ctx, n.store, notificationsKey(playerID))
	if err != nil {
		return nil, err
	}

	out := make([]model.Notification, 0, len(doc.Notifications))
	for i := len(doc.Notifications) - 1; i >= 0; i-- {
		out = append(out, doc.Notifications[i])
	}
	return out, nil
}

// MarkRead flags one notification as read. The document is keyed by its
// owner, so only the owning player's requests can ever reach it.
func (n *NotificationStore) MarkRead(ctx context.Context, playerID, notificationID string) error {
	_, _, err := store.Update(ctx, n.store, notificationsKey(playerID), n.writeAttempts, func(doc *notificationsDoc) error {
		for i := range doc.Notifications {
			if doc.Notifications[i].ID == notificationID {
				if doc.Notifications[i].Read {
					return store.ErrNoChange
				}
				doc.Notifications[i].Read = true
				return nil
			}
		}
		return ErrNotificationNotFound
	})
	return err
}
