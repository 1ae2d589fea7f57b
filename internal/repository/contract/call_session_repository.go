package contract

import (
	"context"
	"errors"

	"ai-booking-caller-be/internal/entity"
	"ai-booking-caller-be/internal/repository/specification"

	"github.com/google/uuid"
)

var (
	ErrCallSessionNotFound = errors.New("call session not found")
	// ErrCallSessionTerminal is returned when a patch would change the state
	// or failure reason of a completed or failed session.
	ErrCallSessionTerminal = errors.New("call session is already terminal")
)

type CallSessionRepository interface {
	Create(ctx context.Context, session *entity.CallSession) error
	Get(ctx context.Context, id uuid.UUID) (*entity.CallSession, error)
	// Update merges the non-nil fields of patch atomically.
	Update(ctx context.Context, id uuid.UUID, patch entity.CallSessionPatch) error
	AppendHistory(ctx context.Context, id uuid.UUID, entries ...entity.TranscriptEntry) error
	FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.CallSession, error)
	Count(ctx context.Context, specs ...specification.Specification) (int64, error)
}
