package dialog

import (
	"fmt"
	"time"

	"ai-booking-caller-be/internal/entity"
)

// Action refs handed to Listen and Redirect directives. The HTTP layer
// resolves them to webhook URLs.
const (
	ActionTurn    = "turn"
	ActionConfirm = "confirm"
)

const (
	ReasonTurnTimeout         = "timed out awaiting response"
	ReasonConfirmTimeout      = "timed out on confirmation"
	ReasonRepeatedUnclear     = "repeated unclear responses"
	ReasonCannotSchedule      = "business cannot schedule the appointment"
	ReasonVoicemail           = "call answered by voicemail"
	ReasonBusy                = "line busy"
	ReasonNoAnswer            = "no answer"
	ReasonFailed              = "call failed to connect"
	ReasonCanceled            = "call canceled"
	ReasonEndedWithoutBooking = "call ended before an appointment was confirmed"
)

const (
	lineAskTime        = "What day and time would work for the appointment?"
	lineReprompt       = "Sorry, I didn't quite catch that. What day and time would work?"
	lineFinalReprompt  = "I'm sorry, I'm still having trouble understanding. Could you give me a specific day and time, for example Tuesday at 3 PM?"
	lineTimeoutApology = "I'm sorry, I didn't hear a response. We'll try again later. Goodbye."
	lineUnclearApology = "I'm sorry, I'm having trouble understanding. We'll try again another time. Goodbye."
	lineCannotSchedule = "I understand. Thank you for your time. Goodbye."
	lineCallEnded      = "This call has already ended. Goodbye."

	// Apology spoken by the streaming session when generation fails outright.
	LineGenerationApology = "I'm sorry, I'm having a little trouble right now. Could you say that again?"
	// Spoken when the call record cannot be loaded.
	LineSystemError = "I'm sorry, something went wrong on our end. We'll call back later. Goodbye."
)

const spokenTimeLayout = "Monday, January 2 at 3:04 PM"

func SpokenTime(t time.Time, loc *time.Location) string {
	if loc != nil {
		t = t.In(loc)
	}
	return t.Format(spokenTimeLayout)
}

func Greeting(s *entity.CallSession) string {
	return fmt.Sprintf("Hi, this is an automated assistant calling on behalf of %s to book an appointment for %s.",
		s.CallerName, s.Reason)
}

// StreamGreeting opens a streaming call: the greeting followed by the time
// question, spoken as one reply.
func StreamGreeting(s *entity.CallSession) string {
	return Greeting(s) + " " + lineAskTime
}

func lineConfirm(spoken string) string {
	return fmt.Sprintf("Just to confirm, that's %s. Is that correct?", spoken)
}

func lineAskYesNo(spoken string) string {
	return fmt.Sprintf("Sorry, was that a yes or a no? The time I have is %s.", spoken)
}

func lineBooked(spoken string) string {
	return fmt.Sprintf("Great, you're all set for %s. Thank you so much. Goodbye.", spoken)
}

// FallbackAnswer answers a receptionist question from session fields alone.
func FallbackAnswer(s *entity.CallSession) string {
	answer := fmt.Sprintf("I'm calling on behalf of %s to book an appointment for %s.", s.CallerName, s.Reason)
	if s.ContactInfo != "" {
		answer += fmt.Sprintf(" They can be reached at %s.", s.ContactInfo)
	}
	return answer
}
