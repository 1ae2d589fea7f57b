package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"ai-booking-caller-be/internal/model"
	"ai-booking-caller-be/internal/repository"

	"github.com/google/uuid"
)

// NotificationRepository is the in-process inbox used when no database is configured.
type NotificationRepository struct {
	mu            sync.Mutex
	notifications []model.Notification
	types         map[string]model.NotificationType
	preferences   map[uuid.UUID]model.UserNotificationPreference
}

var _ repository.NotificationRepository = &NotificationRepository{}

func NewNotificationRepository() *NotificationRepository {
	types := make(map[string]model.NotificationType, len(model.DefaultNotificationTypes))
	for _, t := range model.DefaultNotificationTypes {
		types[t.Code] = t
	}
	return &NotificationRepository{
		types:       types,
		preferences: make(map[uuid.UUID]model.UserNotificationPreference),
	}
}

func (r *NotificationRepository) CreateNotification(ctx context.Context, notification *model.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.types[notification.TypeCode]; !ok {
		return repository.ErrNotificationTypeNotFound
	}
	if notification.ID == uuid.Nil {
		notification.ID = uuid.New()
	}
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = time.Now()
	}
	r.notifications = append(r.notifications, *notification)
	return nil
}

func (r *NotificationRepository) GetNotificationsByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]model.Notification, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []model.Notification
	for _, n := range r.notifications {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	total := int64(len(out))
	if offset >= len(out) {
		return []model.Notification{}, total, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, total, nil
}

func (r *NotificationRepository) GetUnreadCount(ctx context.Context, userID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var count int64
	for _, n := range r.notifications {
		if n.UserID == userID && !n.IsRead {
			count++
		}
	}
	return count, nil
}

func (r *NotificationRepository) MarkAsRead(ctx context.Context, notificationID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.notifications {
		if r.notifications[i].ID == notificationID {
			now := time.Now()
			r.notifications[i].IsRead = true
			r.notifications[i].ReadAt = &now
			return nil
		}
	}
	return repository.ErrNotificationNotFound
}

func (r *NotificationRepository) MarkAllAsRead(ctx context.Context, userID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for i := range r.notifications {
		if r.notifications[i].UserID == userID && !r.notifications[i].IsRead {
			r.notifications[i].IsRead = true
			r.notifications[i].ReadAt = &now
		}
	}
	return nil
}

func (r *NotificationRepository) GetNotificationTypeByCode(ctx context.Context, code string) (*model.NotificationType, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.types[code]
	if !ok {
		return nil, repository.ErrNotificationTypeNotFound
	}
	return &t, nil
}

func (r *NotificationRepository) GetPreference(ctx context.Context, userID uuid.UUID) (*model.UserNotificationPreference, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.preferences[userID]; ok {
		return &p, nil
	}
	return &model.UserNotificationPreference{UserID: userID, EmailEnabled: true, PushEnabled: true}, nil
}

// SetPreference stores a user's preference.
func (r *NotificationRepository) SetPreference(pref model.UserNotificationPreference) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.preferences[pref.UserID] = pref
}
