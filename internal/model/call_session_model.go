package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type CallSession struct {
	Id            uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	UserId        uuid.UUID      `gorm:"type:uuid;not null;index"`
	BusinessName  string         `gorm:"type:text;not null"`
	BusinessPhone string         `gorm:"type:varchar(32);not null"`
	CallerName    string         `gorm:"type:text;not null"`
	Reason        string         `gorm:"type:text;not null"`
	ContactInfo   string         `gorm:"type:text"`
	NotifyEmail   string         `gorm:"type:varchar(255)"`
	CallSid       string         `gorm:"type:varchar(64);index"`
	State         string         `gorm:"type:varchar(32);not null;index;default:'INITIATED'"`
	Retries       int            `gorm:"not null;default:0"`
	Transcript    datatypes.JSON `gorm:"type:jsonb;not null;default:'[]'"`
	ProposedTime  *time.Time
	FinalTime     *time.Time
	FailureReason *string   `gorm:"type:text"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

func (CallSession) TableName() string {
	return "call_sessions"
}
