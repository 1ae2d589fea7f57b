package service

import (
	"context"
	"testing"
	"time"

	"ai-booking-caller-be/internal/entity"
	"ai-booking-caller-be/internal/pkg/logger"
	"ai-booking-caller-be/internal/repository/memory"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPubSub() *gochannel.GoChannel {
	return gochannel.NewGoChannel(gochannel.Config{BlockPublishUntilSubscriberAck: true}, watermill.NopLogger{})
}

func TestTranscriptJournalAppendsInOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo := memory.NewCallSessionRepository()
	s := &entity.CallSession{BusinessName: "Clinic"}
	require.NoError(t, repo.Create(ctx, s))

	j := NewTranscriptJournal(newPubSub(), repo, logger.NewNopLogger())
	require.NoError(t, j.Consume(ctx))

	texts := []string{"one", "two", "three", "four", "five"}
	for _, text := range texts {
		j.Record(ctx, s.Id, entity.TranscriptEntry{Speaker: entity.SpeakerAgent, Text: text, Timestamp: time.Now()})
	}

	require.Eventually(t, func() bool {
		got, err := repo.Get(ctx, s.Id)
		return err == nil && len(got.Transcript) == len(texts)
	}, 2*time.Second, 10*time.Millisecond)

	got, _ := repo.Get(ctx, s.Id)
	for i, text := range texts {
		assert.Equal(t, text, got.Transcript[i].Text)
	}
}
