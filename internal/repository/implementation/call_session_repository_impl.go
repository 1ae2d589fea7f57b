package implementation

import (
	"context"
	"errors"
	"fmt"

	"ai-booking-caller-be/internal/entity"
	"ai-booking-caller-be/internal/mapper"
	"ai-booking-caller-be/internal/model"
	"ai-booking-caller-be/internal/repository/contract"
	"ai-booking-caller-be/internal/repository/specification"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type CallSessionRepositoryImpl struct {
	db     *gorm.DB
	mapper *mapper.CallSessionMapper
}

func NewCallSessionRepository(db *gorm.DB) contract.CallSessionRepository {
	return &CallSessionRepositoryImpl{
		db:     db,
		mapper: mapper.NewCallSessionMapper(),
	}
}

func (r *CallSessionRepositoryImpl) applySpecifications(db *gorm.DB, specs ...specification.Specification) *gorm.DB {
	for _, spec := range specs {
		db = spec.Apply(db)
	}
	return db
}

func (r *CallSessionRepositoryImpl) Create(ctx context.Context, session *entity.CallSession) error {
	m := r.mapper.ToModel(session)
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return err
	}
	*session = *r.mapper.ToEntity(m)
	return nil
}

func (r *CallSessionRepositoryImpl) Get(ctx context.Context, id uuid.UUID) (*entity.CallSession, error) {
	var m model.CallSession
	if err := r.db.WithContext(ctx).Scopes(byID(id)).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, contract.ErrCallSessionNotFound
		}
		return nil, err
	}
	return r.mapper.ToEntity(&m), nil
}

// Update runs a single conditional UPDATE. When the patch touches the
// outcome, terminal rows are excluded by the WHERE clause so concurrent
// webhooks cannot overwrite a settled call.
func (r *CallSessionRepositoryImpl) Update(ctx context.Context, id uuid.UUID, patch entity.CallSessionPatch) error {
	if patch.IsEmpty() {
		return nil
	}

	query := r.db.WithContext(ctx).Model(&model.CallSession{}).Scopes(byID(id))
	if patch.TouchesOutcome() {
		query = specification.NotTerminal{}.Apply(query)
	}

	result := query.Updates(r.mapper.PatchToColumns(patch))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := r.db.WithContext(ctx).Model(&model.CallSession{}).Scopes(byID(id)).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return contract.ErrCallSessionNotFound
	}
	if patch.TouchesOutcome() {
		return contract.ErrCallSessionTerminal
	}
	return nil
}

// AppendHistory concatenates entries onto the jsonb transcript in place.
func (r *CallSessionRepositoryImpl) AppendHistory(ctx context.Context, id uuid.UUID, entries ...entity.TranscriptEntry) error {
	if len(entries) == 0 {
		return nil
	}
	payload := r.mapper.TranscriptToJSON(entries)

	result := r.db.WithContext(ctx).Model(&model.CallSession{}).Scopes(byID(id)).
		Update("transcript", gorm.Expr("COALESCE(transcript, '[]'::jsonb) || ?::jsonb", string(payload)))
	if result.Error != nil {
		return fmt.Errorf("append transcript: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return contract.ErrCallSessionNotFound
	}
	return nil
}

func (r *CallSessionRepositoryImpl) FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.CallSession, error) {
	var models []*model.CallSession
	query := r.applySpecifications(r.db.WithContext(ctx), specs...)
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	return r.mapper.ToEntities(models), nil
}

func (r *CallSessionRepositoryImpl) Count(ctx context.Context, specs ...specification.Specification) (int64, error) {
	var count int64
	query := r.applySpecifications(r.db.WithContext(ctx).Model(&model.CallSession{}), specs...)
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func byID(id uuid.UUID) func(*gorm.DB) *gorm.DB {
	return specification.ByID{ID: id}.Apply
}
