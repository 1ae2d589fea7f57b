package entity

import (
	"time"

	"github.com/google/uuid"
)

type CallState string

const (
	CallStateInitiated      CallState = "INITIATED"
	CallStateGatheringTime  CallState = "GATHERING_TIME"
	CallStateConfirmingTime CallState = "CONFIRMING_TIME"
	CallStateCompleted      CallState = "COMPLETED"
	CallStateFailed         CallState = "FAILED"
)

func (s CallState) IsTerminal() bool {
	return s == CallStateCompleted || s == CallStateFailed
}

var TerminalCallStates = []CallState{CallStateCompleted, CallStateFailed}

const (
	SpeakerAgent  = "agent"
	SpeakerCallee = "callee"
)

type TranscriptEntry struct {
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

type CallSession struct {
	Id            uuid.UUID
	UserId        uuid.UUID
	BusinessName  string
	BusinessPhone string
	CallerName    string
	Reason        string
	ContactInfo   string
	NotifyEmail   string
	CallSid       string
	State         CallState
	Retries       int
	Transcript    []TranscriptEntry
	ProposedTime  *time.Time
	FinalTime     *time.Time
	FailureReason *string
	CreatedAt     time.Time
	UpdatedAt     *time.Time
}

// CallSessionPatch is a partial update. Only non-nil fields are written.
type CallSessionPatch struct {
	State         *CallState
	Retries       *int
	ProposedTime  *time.Time
	FinalTime     *time.Time
	FailureReason *string
	CallSid       *string
}

func (p CallSessionPatch) IsEmpty() bool {
	return p.State == nil && p.Retries == nil && p.ProposedTime == nil &&
		p.FinalTime == nil && p.FailureReason == nil && p.CallSid == nil
}

// TouchesOutcome reports whether the patch writes a field frozen once the
// session is terminal.
func (p CallSessionPatch) TouchesOutcome() bool {
	return p.State != nil || p.FailureReason != nil
}

// Apply merges the patch into s. Outcome fields of a terminal session are
// left untouched; the return value reports whether anything was skipped.
func (p CallSessionPatch) Apply(s *CallSession) bool {
	frozen := s.State.IsTerminal() && p.TouchesOutcome()
	if !frozen {
		if p.State != nil {
			s.State = *p.State
		}
		if p.FailureReason != nil {
			reason := *p.FailureReason
			s.FailureReason = &reason
		}
	}
	if p.Retries != nil {
		s.Retries = *p.Retries
	}
	if p.ProposedTime != nil {
		t := *p.ProposedTime
		s.ProposedTime = &t
	}
	if p.FinalTime != nil {
		t := *p.FinalTime
		s.FinalTime = &t
	}
	if p.CallSid != nil {
		s.CallSid = *p.CallSid
	}
	return !frozen
}
