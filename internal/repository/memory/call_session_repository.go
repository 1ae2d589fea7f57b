package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"ai-booking-caller-be/internal/entity"
	"ai-booking-caller-be/internal/repository/contract"
	"ai-booking-caller-be/internal/repository/specification"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

// CallSessionRepository keeps sessions in process memory. It backs local
// runs without a database and the handler tests.
type CallSessionRepository struct {
	mu    sync.Mutex
	cache *cache.Cache
}

var _ contract.CallSessionRepository = &CallSessionRepository{}

func NewCallSessionRepository() *CallSessionRepository {
	// Sessions outlive any realistic call; expired items are purged every 10 minutes.
	c := cache.New(24*time.Hour, 10*time.Minute)
	return &CallSessionRepository{
		cache: c,
	}
}

func (r *CallSessionRepository) Create(ctx context.Context, session *entity.CallSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if session.Id == uuid.Nil {
		session.Id = uuid.New()
	}
	if session.State == "" {
		session.State = entity.CallStateInitiated
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now()
	}
	if session.Transcript == nil {
		session.Transcript = []entity.TranscriptEntry{}
	}
	r.cache.Set(session.Id.String(), clone(session), cache.DefaultExpiration)
	return nil
}

func (r *CallSessionRepository) Get(ctx context.Context, id uuid.UUID) (*entity.CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.load(id)
	if !ok {
		return nil, contract.ErrCallSessionNotFound
	}
	return clone(s), nil
}

func (r *CallSessionRepository) Update(ctx context.Context, id uuid.UUID, patch entity.CallSessionPatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.load(id)
	if !ok {
		return contract.ErrCallSessionNotFound
	}
	if patch.IsEmpty() {
		return nil
	}
	if s.State.IsTerminal() && patch.TouchesOutcome() {
		return contract.ErrCallSessionTerminal
	}

	next := clone(s)
	patch.Apply(next)
	now := time.Now()
	next.UpdatedAt = &now
	r.cache.Set(id.String(), next, cache.DefaultExpiration)
	return nil
}

func (r *CallSessionRepository) AppendHistory(ctx context.Context, id uuid.UUID, entries ...entity.TranscriptEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.load(id)
	if !ok {
		return contract.ErrCallSessionNotFound
	}
	if len(entries) == 0 {
		return nil
	}

	next := clone(s)
	next.Transcript = append(next.Transcript, entries...)
	r.cache.Set(id.String(), next, cache.DefaultExpiration)
	return nil
}

// FindAll understands the user, call SID, terminal and pagination
// specifications. Results are ordered newest first.
func (r *CallSessionRepository) FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var page *specification.Pagination
	var out []*entity.CallSession

	for _, item := range r.cache.Items() {
		s := item.Object.(*entity.CallSession)
		if matches(s, specs) {
			out = append(out, clone(s))
		}
	}
	for _, spec := range specs {
		if p, ok := spec.(specification.Pagination); ok {
			page = &p
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	if page != nil {
		if page.Offset >= len(out) {
			return []*entity.CallSession{}, nil
		}
		out = out[page.Offset:]
		if page.Limit > 0 && page.Limit < len(out) {
			out = out[:page.Limit]
		}
	}
	return out, nil
}

func (r *CallSessionRepository) Count(ctx context.Context, specs ...specification.Specification) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var count int64
	for _, item := range r.cache.Items() {
		if matches(item.Object.(*entity.CallSession), specs) {
			count++
		}
	}
	return count, nil
}

func (r *CallSessionRepository) load(id uuid.UUID) (*entity.CallSession, bool) {
	if x, found := r.cache.Get(id.String()); found {
		return x.(*entity.CallSession), true
	}
	return nil, false
}

func matches(s *entity.CallSession, specs []specification.Specification) bool {
	for _, spec := range specs {
		switch f := spec.(type) {
		case specification.ByID:
			if s.Id != f.ID {
				return false
			}
		case specification.ByUserID:
			if s.UserId != f.UserID {
				return false
			}
		case specification.ByCallSid:
			if s.CallSid != f.CallSid {
				return false
			}
		case specification.NotTerminal:
			if s.State.IsTerminal() {
				return false
			}
		}
	}
	return true
}

func clone(s *entity.CallSession) *entity.CallSession {
	c := *s
	c.Transcript = append([]entity.TranscriptEntry(nil), s.Transcript...)
	if c.Transcript == nil {
		c.Transcript = []entity.TranscriptEntry{}
	}
	return &c
}
