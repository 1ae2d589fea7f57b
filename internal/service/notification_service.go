package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"ai-booking-caller-be/internal/model"
	"ai-booking-caller-be/internal/pkg/logger"
	"ai-booking-caller-be/internal/pkg/mailer"
	"ai-booking-caller-be/internal/repository"
	"ai-booking-caller-be/pkg/events"
	pktNats "ai-booking-caller-be/pkg/nats"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// NotificationDelivery defines how to push real-time updates.
// Implemented by the WebSocket Hub.
type NotificationDelivery interface {
	Send(userID uuid.UUID, notification model.Notification)
	Broadcast(notification model.Notification)
}

type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}

type EventSubscriber interface {
	Subscribe(eventType string, durableName string, handler pktNats.EventHandler) error
}

// Notifier is what the call flow needs from the notification service.
type Notifier interface {
	Send(ctx context.Context, userID uuid.UUID, title, body string, data map[string]interface{}) error
}

type NotificationService struct {
	repo       repository.NotificationRepository
	subscriber EventSubscriber
	publisher  EventPublisher
	delivery   NotificationDelivery
	mailer     mailer.IEmailService
	logger     logger.ILogger
}

var _ Notifier = (*NotificationService)(nil)

// NewNotificationService wires the inbox. subscriber, publisher, delivery
// and mail may be nil; the matching channel is then skipped.
func NewNotificationService(
	repo repository.NotificationRepository,
	sub EventSubscriber,
	pub EventPublisher,
	delivery NotificationDelivery,
	mail mailer.IEmailService,
	log logger.ILogger,
) *NotificationService {
	return &NotificationService{
		repo:       repo,
		subscriber: sub,
		publisher:  pub,
		delivery:   delivery,
		mailer:     mail,
		logger:     log,
	}
}

// Start listens for failed calls on the event bus and turns them into inbox
// notifications.
func (s *NotificationService) Start() {
	if s.subscriber == nil {
		s.logger.Warn("NotificationService", "No event subscriber, failed-call notifications disabled", nil)
		return
	}
	err := s.subscriber.Subscribe(events.TypeCallFailed, "notif-service-worker", s.handleEvent)
	if err != nil {
		s.logger.Error("NotificationService", "Failed to start notification subscriber", map[string]interface{}{"error": err.Error()})
		return
	}
	s.logger.Info("NotificationService", "Notification service started", map[string]interface{}{"event": events.TypeCallFailed})
}

// Send delivers a notification about a call to its owner: stored in the
// inbox, pushed to open sockets, announced on the bus and emailed when the
// data carries an "email". Only the inbox write can fail the call.
func (s *NotificationService) Send(ctx context.Context, userID uuid.UUID, title, body string, data map[string]interface{}) error {
	typeCode, _ := data["type"].(string)
	if typeCode == "" {
		typeCode = events.TypeAppointmentBooked
	}

	pref, err := s.repo.GetPreference(ctx, userID)
	if err != nil {
		s.logger.Warn("NotificationService", "Preference lookup failed, using defaults", map[string]interface{}{"error": err.Error(), "user_id": userID})
		pref = &model.UserNotificationPreference{UserID: userID, EmailEnabled: true, PushEnabled: true}
	}

	notif := newNotification(userID, typeCode, title, body, data)
	if err := s.repo.CreateNotification(ctx, &notif); err != nil {
		return fmt.Errorf("store notification: %w", err)
	}

	if s.delivery != nil && pref.PushEnabled && !pref.IsMuted(typeCode) {
		s.delivery.Send(userID, notif)
	}

	if s.publisher != nil {
		payload := map[string]interface{}{"user_id": userID.String(), "title": title, "message": body}
		for k, v := range data {
			payload[k] = v
		}
		if err := s.publisher.Publish(ctx, events.New(typeCode, payload)); err != nil {
			s.logger.Warn("NotificationService", "Event publish failed", map[string]interface{}{"error": err.Error(), "type": typeCode})
		}
	}

	email, _ := data["email"].(string)
	if s.mailer != nil && email != "" && pref.EmailEnabled && typeCode == events.TypeAppointmentBooked {
		appt := mailer.AppointmentEmail{
			CallerName:   stringField(data, "caller_name"),
			BusinessName: stringField(data, "business_name"),
			Reason:       stringField(data, "reason"),
			When:         stringField(data, "final_time_spoken"),
		}
		if err := s.mailer.SendAppointmentConfirmation(email, appt); err != nil {
			s.logger.Error("NotificationService", "Confirmation email failed", map[string]interface{}{"error": err.Error(), "user_id": userID})
		}
	}

	s.logger.Info("NotificationService", "Notification sent", map[string]interface{}{"user_id": userID, "type": typeCode})
	return nil
}

func (s *NotificationService) handleEvent(ctx context.Context, event events.Event) error {
	payload := event.Payload()
	typeCode := event.EventType()

	config, err := s.repo.GetNotificationTypeByCode(ctx, typeCode)
	if err != nil {
		s.logger.Warn("NotificationService", fmt.Sprintf("Config not found for code: '%s'", typeCode), map[string]interface{}{"error": err.Error()})
		return nil
	}
	if !config.IsActive {
		return nil
	}

	uidStr, _ := payload["user_id"].(string)
	userID, err := uuid.Parse(uidStr)
	if err != nil {
		s.logger.Warn("NotificationService", "Event has no user_id", map[string]interface{}{"type": typeCode})
		return nil
	}

	notif := newNotification(userID, config.Code, config.DisplayName, renderTemplate(config.Template, payload), payload)
	if err := s.repo.CreateNotification(ctx, &notif); err != nil {
		s.logger.Error("NotificationService", "Error saving notification", map[string]interface{}{"error": err.Error(), "user_id": userID})
		return err // redelivered by NATS
	}

	pref, err := s.repo.GetPreference(ctx, userID)
	if s.delivery != nil && (err != nil || (pref.PushEnabled && !pref.IsMuted(config.Code))) {
		s.delivery.Send(userID, notif)
	}
	return nil
}

// renderTemplate fills {key} placeholders from the payload.
func renderTemplate(template string, payload map[string]interface{}) string {
	msg := template
	for k, v := range payload {
		msg = strings.ReplaceAll(msg, fmt.Sprintf("{%s}", k), fmt.Sprintf("%v", v))
	}
	return msg
}

func newNotification(userID uuid.UUID, typeCode, title, body string, data map[string]interface{}) model.Notification {
	var entityID *uuid.UUID
	entityType := ""
	if idStr, ok := data["call_id"].(string); ok {
		if id, err := uuid.Parse(idStr); err == nil {
			entityID = &id
			entityType = "call"
		}
	}

	metaMap := make(map[string]interface{}, len(data)+1)
	for k, v := range data {
		if k == "email" {
			continue
		}
		metaMap[k] = v
	}
	if entityID != nil {
		metaMap["action_url"] = fmt.Sprintf("/calls/%s", entityID.String())
	}
	metaJSON, _ := json.Marshal(metaMap)

	return model.Notification{
		ID:         uuid.New(),
		UserID:     userID,
		TypeCode:   typeCode,
		EntityType: entityType,
		EntityID:   entityID,
		Title:      title,
		Message:    body,
		Metadata:   datatypes.JSON(metaJSON),
		CreatedAt:  time.Now(),
	}
}

func stringField(data map[string]interface{}, key string) string {
	v, _ := data[key].(string)
	return v
}

// GetNotifications fetches notifications for a user.
func (s *NotificationService) GetNotifications(ctx context.Context, userID uuid.UUID, limit, offset int) ([]model.Notification, int64, error) {
	return s.repo.GetNotificationsByUserID(ctx, userID, limit, offset)
}

// GetUnreadCount fetches unread count.
func (s *NotificationService) GetUnreadCount(ctx context.Context, userID uuid.UUID) (int64, error) {
	return s.repo.GetUnreadCount(ctx, userID)
}

// MarkAsRead marks a notification as read.
func (s *NotificationService) MarkAsRead(ctx context.Context, id uuid.UUID) error {
	return s.repo.MarkAsRead(ctx, id)
}

// MarkAllAsRead marks all notifications as read for a user.
func (s *NotificationService) MarkAllAsRead(ctx context.Context, userID uuid.UUID) error {
	return s.repo.MarkAllAsRead(ctx, userID)
}
