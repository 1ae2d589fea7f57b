package dto

import (
	"time"

	"ai-booking-caller-be/internal/entity"

	"github.com/google/uuid"
)

type PlaceCallRequest struct {
	BusinessName  string `json:"business_name" validate:"required,max=200"`
	BusinessPhone string `json:"business_phone" validate:"required,e164"`
	CallerName    string `json:"caller_name" validate:"required,max=200"`
	Reason        string `json:"reason" validate:"required,max=500"`
	ContactInfo   string `json:"contact_info" validate:"max=200"`
	NotifyEmail   string `json:"notify_email" validate:"omitempty,email"`
}

type TranscriptEntryResponse struct {
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

type CallSessionResponse struct {
	Id            uuid.UUID                 `json:"id"`
	BusinessName  string                    `json:"business_name"`
	BusinessPhone string                    `json:"business_phone"`
	CallerName    string                    `json:"caller_name"`
	Reason        string                    `json:"reason"`
	ContactInfo   string                    `json:"contact_info,omitempty"`
	CallSid       string                    `json:"call_sid,omitempty"`
	State         string                    `json:"state"`
	Retries       int                       `json:"retries"`
	ProposedTime  *time.Time                `json:"proposed_time,omitempty"`
	FinalTime     *time.Time                `json:"final_time,omitempty"`
	FailureReason *string                   `json:"failure_reason,omitempty"`
	Transcript    []TranscriptEntryResponse `json:"transcript"`
	CreatedAt     time.Time                 `json:"created_at"`
	UpdatedAt     *time.Time                `json:"updated_at"`
}

func NewCallSessionResponse(s *entity.CallSession) CallSessionResponse {
	transcript := make([]TranscriptEntryResponse, len(s.Transcript))
	for i, e := range s.Transcript {
		transcript[i] = TranscriptEntryResponse{Speaker: e.Speaker, Text: e.Text, Timestamp: e.Timestamp}
	}
	return CallSessionResponse{
		Id:            s.Id,
		BusinessName:  s.BusinessName,
		BusinessPhone: s.BusinessPhone,
		CallerName:    s.CallerName,
		Reason:        s.Reason,
		ContactInfo:   s.ContactInfo,
		CallSid:       s.CallSid,
		State:         string(s.State),
		Retries:       s.Retries,
		ProposedTime:  s.ProposedTime,
		FinalTime:     s.FinalTime,
		FailureReason: s.FailureReason,
		Transcript:    transcript,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
}

// TelephonyWebhookRequest is the form body Twilio posts to voice and status
// callbacks. Only the fields the call flow reads are bound.
type TelephonyWebhookRequest struct {
	CallSid      string `form:"CallSid"`
	CallStatus   string `form:"CallStatus"`
	AnsweredBy   string `form:"AnsweredBy"`
	SpeechResult string `form:"SpeechResult"`
	Confidence   string `form:"Confidence"`
}

type PreflightResponse struct {
	Mode    string   `json:"mode"`
	Missing []string `json:"missing,omitempty"`
}
