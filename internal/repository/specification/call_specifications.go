package specification

import (
	"ai-booking-caller-be/internal/entity"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ByUserID struct {
	UserID uuid.UUID
}

func (s ByUserID) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("user_id = ?", s.UserID)
}

type ByCallSid struct {
	CallSid string
}

func (s ByCallSid) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("call_sid = ?", s.CallSid)
}

// NotTerminal excludes sessions whose outcome is already settled.
type NotTerminal struct{}

func (s NotTerminal) Apply(db *gorm.DB) *gorm.DB {
	states := make([]string, len(entity.TerminalCallStates))
	for i, st := range entity.TerminalCallStates {
		states[i] = string(st)
	}
	return db.Where("state NOT IN ?", states)
}
