package constant

const (
	LLMRoleUser      = "user"
	LLMRoleAssistant = "assistant"
	LLMRoleSystem    = "system"

	// Args: now (RFC3339 with offset), business name, reason, utterance.
	TurnClassificationPrompt = `
You are classifying one reply from a business receptionist during a phone call
placed to book an appointment.

Current date and time: %s
Business: %s
Appointment reason: %s

Receptionist said: "%s"

Choose ONE kind:
- TIME_SUGGESTED: they offered a specific day and time. Resolve relative dates
  ("tomorrow", "next Tuesday") against the current date and put the start time
  in "time" as RFC3339 with the same UTC offset as the current date.
- QUESTION: they asked something about the caller or the appointment. Put the
  question in "text".
- CANNOT_SCHEDULE: they said no appointment is possible. Put the reason in "reason".
- AMBIGUOUS: they mentioned availability but not a concrete day and time.
- UNCLEAR: anything else.

Output MUST be valid JSON only:
{"kind": "TIME_SUGGESTED|QUESTION|CANNOT_SCHEDULE|AMBIGUOUS|UNCLEAR", "time": "", "text": "", "reason": ""}
`

	// Args: proposed time, utterance.
	ConfirmationClassificationPrompt = `
You asked a business receptionist to confirm an appointment at %s.

Receptionist said: "%s"

Choose ONE kind:
- AFFIRMATIVE: they confirmed the time.
- NEGATIVE: they declined or said the time does not work.
- UNCLEAR: anything else.

Output MUST be valid JSON only:
{"kind": "AFFIRMATIVE|NEGATIVE|UNCLEAR"}
`

	// Args: caller name, reason, contact info, business name, question.
	QuestionAnswerPrompt = `
You are a polite assistant on a phone call booking an appointment on behalf of
%s for: %s. The caller can be reached at %s. You are speaking with %s.

Answer the receptionist's question in one or two short spoken sentences using
only the details above. If you do not know, say the caller will follow up.

Question: "%s"
`

	// Args: caller name, reason, contact info, business name.
	StreamingSystemPrompt = `
You are a friendly voice assistant calling on %s's behalf to book an appointment
for: %s. The caller can be reached at %s. You are speaking with %s.

Keep every reply to one to three short spoken sentences. Do not use lists,
markdown or emoji. Ask for a specific day and time, confirm it back once it is
offered, then thank them and say goodbye.
`

	// Args: now (RFC3339 with offset), business name, transcript.
	StreamOutcomePrompt = `
Below is the transcript of a phone call placed to %[2]s to book an appointment.
Current date and time: %[1]s

%[3]s

Did the receptionist agree to a specific appointment day and time that the
assistant confirmed back?
- AFFIRMATIVE: yes. Put the agreed start time in "time" as RFC3339 with the
  same UTC offset as the current date.
- NEGATIVE: no appointment was agreed.

Output MUST be valid JSON only:
{"kind": "AFFIRMATIVE|NEGATIVE", "time": ""}
`
)
