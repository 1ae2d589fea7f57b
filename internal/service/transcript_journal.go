package service

import (
	"context"
	"encoding/json"
	"errors"

	"ai-booking-caller-be/internal/entity"
	"ai-booking-caller-be/internal/pkg/logger"
	"ai-booking-caller-be/internal/repository/contract"
	"ai-booking-caller-be/pkg/apperr"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
)

const TranscriptTopic = "CALL_TRANSCRIPT"

// ITranscriptJournal appends transcript entries off the caller's path.
// Entries for a session are written in the order they were recorded.
type ITranscriptJournal interface {
	Record(ctx context.Context, sessionID uuid.UUID, entries ...entity.TranscriptEntry)
	Consume(ctx context.Context) error
}

type transcriptMessage struct {
	SessionID uuid.UUID                `json:"session_id"`
	Entries   []entity.TranscriptEntry `json:"entries"`
}

type transcriptJournal struct {
	pubSub *gochannel.GoChannel
	topic  string
	repo   contract.CallSessionRepository
	queue  chan *message.Message
	logger logger.ILogger
}

// NewTranscriptJournal expects a GoChannel created with
// BlockPublishUntilSubscriberAck so one message is in flight at a time.
func NewTranscriptJournal(pubSub *gochannel.GoChannel, repo contract.CallSessionRepository, log logger.ILogger) ITranscriptJournal {
	return &transcriptJournal{
		pubSub: pubSub,
		topic:  TranscriptTopic,
		repo:   repo,
		queue:  make(chan *message.Message, 512),
		logger: log,
	}
}

// Record never blocks; when the queue is full the entries are dropped and
// logged as a persistence failure.
func (j *transcriptJournal) Record(ctx context.Context, sessionID uuid.UUID, entries ...entity.TranscriptEntry) {
	if len(entries) == 0 {
		return
	}
	payload, err := json.Marshal(transcriptMessage{SessionID: sessionID, Entries: entries})
	if err != nil {
		j.logger.Error("TranscriptJournal", "Failed to marshal entries", map[string]interface{}{"error": err.Error()})
		return
	}

	select {
	case j.queue <- message.NewMessage(watermill.NewUUID(), payload):
	default:
		j.logger.Error("TranscriptJournal", "Journal queue full, entries dropped", map[string]interface{}{
			"error":      (&apperr.PersistenceError{Op: "append history", Err: errors.New("queue full")}).Error(),
			"session_id": sessionID,
			"count":      len(entries),
		})
	}
}

// Consume starts the publishing pump and the subscriber. Both stop when ctx
// is cancelled.
func (j *transcriptJournal) Consume(ctx context.Context) error {
	messages, err := j.pubSub.Subscribe(ctx, j.topic)
	if err != nil {
		return err
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-j.queue:
				if err := j.pubSub.Publish(j.topic, msg); err != nil {
					j.logger.Error("TranscriptJournal", "Publish failed", map[string]interface{}{"error": err.Error()})
				}
			}
		}
	}()

	go func() {
		for msg := range messages {
			j.processMessage(ctx, msg)
		}
	}()

	return nil
}

func (j *transcriptJournal) processMessage(ctx context.Context, msg *message.Message) {
	var payload transcriptMessage
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		j.logger.Error("TranscriptJournal", "Failed to unmarshal message", map[string]interface{}{"error": err.Error()})
		msg.Ack() // Ack invalid messages to prevent infinite retry
		return
	}

	if err := j.repo.AppendHistory(ctx, payload.SessionID, payload.Entries...); err != nil {
		// History may be incomplete; the call itself carries on.
		perr := &apperr.PersistenceError{Op: "append history", Err: err}
		fields := map[string]interface{}{"error": perr.Error(), "session_id": payload.SessionID, "count": len(payload.Entries)}
		if errors.Is(err, contract.ErrCallSessionNotFound) {
			j.logger.Warn("TranscriptJournal", "Session gone, entries dropped", fields)
		} else {
			j.logger.Error("TranscriptJournal", "Failed to append transcript", fields)
		}
	}
	msg.Ack()
}
