package engine

import (
	"context"

	"taskboard/internal/domain"
	"taskboard/internal/repo"
)

// Notification operations are always scoped to the recipient.

func (e Engine) ListNotifications(ctx context.Context, recipientID string, unreadOnly bool, limit int) ([]domain.Notification, int, error) {
	items, err := e.Repo.ListNotifications(ctx, repo.NotificationFilters{RecipientID: recipientID, UnreadOnly: unreadOnly, Limit: limit})
	if err != nil {
		return nil, 0, err
	}
	unread, err := e.Repo.CountUnread(ctx, recipientID)
	if err != nil {
		return nil, 0, err
	}
	return items, unread, nil
}

func (e Engine) MarkNotificationRead(ctx context.Context, recipientID, id string) error {
	return e.Repo.MarkNotificationRead(ctx, recipientID, id)
}

func (e Engine) MarkAllNotificationsRead(ctx context.Context, recipientID string) (int64, error) {
	return e.Repo.MarkAllNotificationsRead(ctx, recipientID)
}

func (e Engine) DeleteNotification(ctx context.Context, recipientID, id string) error {
	return e.Repo.DeleteNotification(ctx, recipientID, id)
}
