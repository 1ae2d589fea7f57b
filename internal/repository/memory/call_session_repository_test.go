package memory

import (
	"context"
	"testing"
	"time"

	"ai-booking-caller-be/internal/entity"
	"ai-booking-caller-be/internal/repository/contract"
	"ai-booking-caller-be/internal/repository/specification"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSession(t *testing.T, repo *CallSessionRepository, userID uuid.UUID) *entity.CallSession {
	t.Helper()
	s := &entity.CallSession{UserId: userID, BusinessName: "Bright Smiles Dental", BusinessPhone: "+15550100"}
	require.NoError(t, repo.Create(context.Background(), s))
	return s
}

func TestUpdateMergesOnlySetFields(t *testing.T) {
	ctx := context.Background()
	repo := NewCallSessionRepository()
	s := newSession(t, repo, uuid.New())

	state := entity.CallStateGatheringTime
	retries := 2
	require.NoError(t, repo.Update(ctx, s.Id, entity.CallSessionPatch{State: &state, Retries: &retries}))

	proposed := time.Date(2026, 10, 18, 14, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Update(ctx, s.Id, entity.CallSessionPatch{ProposedTime: &proposed}))

	got, err := repo.Get(ctx, s.Id)
	require.NoError(t, err)
	assert.Equal(t, entity.CallStateGatheringTime, got.State)
	assert.Equal(t, 2, got.Retries)
	require.NotNil(t, got.ProposedTime)
	assert.True(t, proposed.Equal(*got.ProposedTime))
	assert.Equal(t, "Bright Smiles Dental", got.BusinessName)
}

func TestTerminalSessionOutcomeIsFrozen(t *testing.T) {
	ctx := context.Background()
	repo := NewCallSessionRepository()
	s := newSession(t, repo, uuid.New())

	completed := entity.CallStateCompleted
	require.NoError(t, repo.Update(ctx, s.Id, entity.CallSessionPatch{State: &completed}))

	failed := entity.CallStateFailed
	reason := "line busy"
	err := repo.Update(ctx, s.Id, entity.CallSessionPatch{State: &failed, FailureReason: &reason})
	assert.ErrorIs(t, err, contract.ErrCallSessionTerminal)

	sid := "CA123"
	require.NoError(t, repo.Update(ctx, s.Id, entity.CallSessionPatch{CallSid: &sid}))

	got, err := repo.Get(ctx, s.Id)
	require.NoError(t, err)
	assert.Equal(t, entity.CallStateCompleted, got.State)
	assert.Nil(t, got.FailureReason)
	assert.Equal(t, "CA123", got.CallSid)
}

func TestAppendHistoryAndNotFound(t *testing.T) {
	ctx := context.Background()
	repo := NewCallSessionRepository()
	s := newSession(t, repo, uuid.New())

	now := time.Now()
	require.NoError(t, repo.AppendHistory(ctx, s.Id, entity.TranscriptEntry{Speaker: entity.SpeakerAgent, Text: "Hi", Timestamp: now}))
	require.NoError(t, repo.AppendHistory(ctx, s.Id, entity.TranscriptEntry{Speaker: entity.SpeakerCallee, Text: "Hello", Timestamp: now}))

	got, err := repo.Get(ctx, s.Id)
	require.NoError(t, err)
	require.Len(t, got.Transcript, 2)
	assert.Equal(t, "Hello", got.Transcript[1].Text)

	// Returned sessions are copies.
	got.Transcript[0].Text = "changed"
	again, _ := repo.Get(ctx, s.Id)
	assert.Equal(t, "Hi", again.Transcript[0].Text)

	missing := uuid.New()
	_, err = repo.Get(ctx, missing)
	assert.ErrorIs(t, err, contract.ErrCallSessionNotFound)
	assert.ErrorIs(t, repo.AppendHistory(ctx, missing, entity.TranscriptEntry{}), contract.ErrCallSessionNotFound)
	assert.ErrorIs(t, repo.Update(ctx, missing, entity.CallSessionPatch{}), contract.ErrCallSessionNotFound)
}

func TestFindAllByUser(t *testing.T) {
	ctx := context.Background()
	repo := NewCallSessionRepository()
	owner := uuid.New()
	for i := 0; i < 3; i++ {
		newSession(t, repo, owner)
	}
	newSession(t, repo, uuid.New())

	all, err := repo.FindAll(ctx, specification.ByUserID{UserID: owner})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	page, err := repo.FindAll(ctx, specification.ByUserID{UserID: owner}, specification.Pagination{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Len(t, page, 1)

	count, err := repo.Count(ctx, specification.ByUserID{UserID: owner}, specification.NotTerminal{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}
