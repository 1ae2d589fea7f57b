package mapper

import (
	"encoding/json"
	"time"

	"ai-booking-caller-be/internal/entity"
	"ai-booking-caller-be/internal/model"

	"gorm.io/datatypes"
)

type CallSessionMapper struct{}

func NewCallSessionMapper() *CallSessionMapper {
	return &CallSessionMapper{}
}

func (m *CallSessionMapper) ToEntity(s *model.CallSession) *entity.CallSession {
	if s == nil {
		return nil
	}

	var updatedAt *time.Time
	if !s.UpdatedAt.IsZero() {
		t := s.UpdatedAt
		updatedAt = &t
	}

	// A corrupt transcript column should not make the session unreadable.
	transcript := []entity.TranscriptEntry{}
	if len(s.Transcript) > 0 {
		_ = json.Unmarshal(s.Transcript, &transcript)
	}

	return &entity.CallSession{
		Id:            s.Id,
		UserId:        s.UserId,
		BusinessName:  s.BusinessName,
		BusinessPhone: s.BusinessPhone,
		CallerName:    s.CallerName,
		Reason:        s.Reason,
		ContactInfo:   s.ContactInfo,
		NotifyEmail:   s.NotifyEmail,
		CallSid:       s.CallSid,
		State:         entity.CallState(s.State),
		Retries:       s.Retries,
		Transcript:    transcript,
		ProposedTime:  s.ProposedTime,
		FinalTime:     s.FinalTime,
		FailureReason: s.FailureReason,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     updatedAt,
	}
}

func (m *CallSessionMapper) ToModel(s *entity.CallSession) *model.CallSession {
	if s == nil {
		return nil
	}

	var updatedAt time.Time
	if s.UpdatedAt != nil {
		updatedAt = *s.UpdatedAt
	}

	state := s.State
	if state == "" {
		state = entity.CallStateInitiated
	}

	return &model.CallSession{
		Id:            s.Id,
		UserId:        s.UserId,
		BusinessName:  s.BusinessName,
		BusinessPhone: s.BusinessPhone,
		CallerName:    s.CallerName,
		Reason:        s.Reason,
		ContactInfo:   s.ContactInfo,
		NotifyEmail:   s.NotifyEmail,
		CallSid:       s.CallSid,
		State:         string(state),
		Retries:       s.Retries,
		Transcript:    m.TranscriptToJSON(s.Transcript),
		ProposedTime:  s.ProposedTime,
		FinalTime:     s.FinalTime,
		FailureReason: s.FailureReason,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     updatedAt,
	}
}

func (m *CallSessionMapper) ToEntities(models []*model.CallSession) []*entity.CallSession {
	entities := make([]*entity.CallSession, len(models))
	for i, s := range models {
		entities[i] = m.ToEntity(s)
	}
	return entities
}

func (m *CallSessionMapper) TranscriptToJSON(entries []entity.TranscriptEntry) datatypes.JSON {
	if entries == nil {
		entries = []entity.TranscriptEntry{}
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return datatypes.JSON("[]")
	}
	return datatypes.JSON(raw)
}

// PatchToColumns converts a patch into the column map handed to gorm Updates.
func (m *CallSessionMapper) PatchToColumns(p entity.CallSessionPatch) map[string]interface{} {
	cols := map[string]interface{}{}
	if p.State != nil {
		cols["state"] = string(*p.State)
	}
	if p.Retries != nil {
		cols["retries"] = *p.Retries
	}
	if p.ProposedTime != nil {
		cols["proposed_time"] = *p.ProposedTime
	}
	if p.FinalTime != nil {
		cols["final_time"] = *p.FinalTime
	}
	if p.FailureReason != nil {
		cols["failure_reason"] = *p.FailureReason
	}
	if p.CallSid != nil {
		cols["call_sid"] = *p.CallSid
	}
	return cols
}
