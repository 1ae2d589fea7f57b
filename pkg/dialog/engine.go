// Package dialog is the turn-by-turn booking conversation used when the call
// runs on provider prompts and speech gathers. Every handler is a function of
// the persisted session and one webhook input; nothing is kept between turns.
package dialog

import (
	"context"
	"strings"
	"time"

	"ai-booking-caller-be/internal/entity"
	"ai-booking-caller-be/pkg/voicescript"
)

// MaxUnclearRetries is the number of unclear replies that ends the call.
const MaxUnclearRetries = 3

type Classifier interface {
	ClassifyTurn(ctx context.Context, s *entity.CallSession, utterance string) (Classification, error)
	ClassifyConfirmation(ctx context.Context, s *entity.CallSession, utterance string) (Classification, error)
}

type Answerer interface {
	Answer(ctx context.Context, s *entity.CallSession, question string) (string, error)
}

// OutcomeClassifier decides whether a free-form streaming conversation ended
// with an agreed appointment.
type OutcomeClassifier interface {
	ClassifyStreamOutcome(ctx context.Context, s *entity.CallSession, transcript []entity.TranscriptEntry) (Classification, error)
}

type TurnInput struct {
	Transcript string
	TimedOut   bool
}

// Outcome is the result of one handler call. Session already has Patch
// applied; Patch is what must be persisted. History lists transcript
// entries produced by the turn, in order.
type Outcome struct {
	Session        entity.CallSession
	Patch          entity.CallSessionPatch
	Script         voicescript.Script
	History        []entity.TranscriptEntry
	Classification *Classification
	Notify         bool
	// Errs carries recovered failures (classifier, answerer) for logging.
	Errs []error
}

type Config struct {
	GatherTimeout int
	Location      *time.Location
}

type Engine struct {
	classifier Classifier
	answerer   Answerer
	config     Config
	now        func() time.Time
}

func NewEngine(classifier Classifier, answerer Answerer, config Config) *Engine {
	if config.GatherTimeout <= 0 {
		config.GatherTimeout = 5
	}
	if config.Location == nil {
		config.Location = time.UTC
	}
	return &Engine{
		classifier: classifier,
		answerer:   answerer,
		config:     config,
		now:        time.Now,
	}
}

func (e *Engine) Initiate(ctx context.Context, s *entity.CallSession) Outcome {
	if s.State.IsTerminal() {
		return e.ended(s)
	}

	o := e.begin(s)
	o.set(entity.CallSessionPatch{
		State:   statePtr(entity.CallStateGatheringTime),
		Retries: intPtr(0),
	})
	o.speak(e, Greeting(s), lineAskTime)
	o.Script = append(o.Script, voicescript.Listen(ActionTurn, e.config.GatherTimeout))
	return o
}

func (e *Engine) HandleTurn(ctx context.Context, s *entity.CallSession, in TurnInput) Outcome {
	if s.State.IsTerminal() {
		return e.ended(s)
	}

	o := e.begin(s)
	if in.TimedOut {
		o.fail(ReasonTurnTimeout)
		o.speak(e, lineTimeoutApology)
		o.Script = append(o.Script, voicescript.Hangup())
		return o
	}

	o.heard(e, in.Transcript)
	c := e.classifyTurn(ctx, s, in.Transcript, &o)

	switch c.Kind {
	case KindTimeSuggested:
		proposed := c.Time
		o.set(entity.CallSessionPatch{
			State:        statePtr(entity.CallStateConfirmingTime),
			ProposedTime: &proposed,
		})
		o.speak(e, lineConfirm(SpokenTime(proposed, e.config.Location)))
		o.Script = append(o.Script, voicescript.Listen(ActionConfirm, e.config.GatherTimeout))

	case KindCannotSchedule:
		reason := c.Payload
		if reason == "" {
			reason = ReasonCannotSchedule
		}
		o.fail(reason)
		o.speak(e, lineCannotSchedule)
		o.Script = append(o.Script, voicescript.Hangup())

	case KindQuestion:
		o.speak(e, e.answer(ctx, s, c.Payload, &o), lineAskTime)
		o.Script = append(o.Script, voicescript.Listen(ActionTurn, e.config.GatherTimeout))

	default:
		retries := s.Retries + 1
		o.set(entity.CallSessionPatch{Retries: &retries})
		switch {
		case retries >= MaxUnclearRetries:
			o.fail(ReasonRepeatedUnclear)
			o.speak(e, lineUnclearApology)
			o.Script = append(o.Script, voicescript.Hangup())
		case retries == MaxUnclearRetries-1:
			o.speak(e, lineFinalReprompt)
			o.Script = append(o.Script, voicescript.Listen(ActionTurn, e.config.GatherTimeout))
		default:
			o.speak(e, lineReprompt)
			o.Script = append(o.Script, voicescript.Listen(ActionTurn, e.config.GatherTimeout))
		}
	}
	return o
}

func (e *Engine) HandleConfirmation(ctx context.Context, s *entity.CallSession, in TurnInput) Outcome {
	if s.State.IsTerminal() {
		return e.ended(s)
	}

	o := e.begin(s)
	if in.TimedOut {
		o.fail(ReasonConfirmTimeout)
		o.speak(e, lineTimeoutApology)
		o.Script = append(o.Script, voicescript.Hangup())
		return o
	}

	o.heard(e, in.Transcript)
	c := e.classifyConfirmation(ctx, s, in.Transcript, &o)

	// Without a proposed time there is nothing to confirm.
	if c.Kind == KindAffirmative && s.ProposedTime == nil {
		c.Kind = KindNegative
	}

	switch c.Kind {
	case KindAffirmative:
		final := *s.ProposedTime
		o.set(entity.CallSessionPatch{
			State:     statePtr(entity.CallStateCompleted),
			FinalTime: &final,
		})
		o.Notify = true
		o.speak(e, lineBooked(SpokenTime(final, e.config.Location)))
		o.Script = append(o.Script, voicescript.Hangup())

	case KindNegative:
		o.set(entity.CallSessionPatch{State: statePtr(entity.CallStateGatheringTime)})
		o.speak(e, lineAskTime)
		o.Script = append(o.Script, voicescript.Listen(ActionTurn, e.config.GatherTimeout))

	default:
		spoken := "the time we discussed"
		if s.ProposedTime != nil {
			spoken = SpokenTime(*s.ProposedTime, e.config.Location)
		}
		o.speak(e, lineAskYesNo(spoken))
		o.Script = append(o.Script, voicescript.Listen(ActionConfirm, e.config.GatherTimeout))
	}
	return o
}

// ConcludeStream settles a session whose conversation ran over the media
// stream. An agreed time completes the call; anything else leaves the
// session for the status callback to close.
func (e *Engine) ConcludeStream(ctx context.Context, s *entity.CallSession, transcript []entity.TranscriptEntry) Outcome {
	o := e.begin(s)
	o.Script = voicescript.New(voicescript.Hangup())
	if s.State.IsTerminal() || len(transcript) == 0 {
		return o
	}

	oc, ok := e.classifier.(OutcomeClassifier)
	if !ok {
		return o
	}
	c, err := oc.ClassifyStreamOutcome(ctx, s, transcript)
	if err != nil {
		o.Errs = append(o.Errs, err)
	}
	o.Classification = &c
	if c.Kind != KindAffirmative || c.Time.IsZero() {
		return o
	}

	final := c.Time
	o.set(entity.CallSessionPatch{
		State:        statePtr(entity.CallStateCompleted),
		ProposedTime: &final,
		FinalTime:    &final,
	})
	o.Notify = true
	return o
}

// HandleStatusEvent maps a carrier status callback onto the session. Final
// statuses fail a non-terminal session with a descriptive reason; anything
// else, or any event for a terminal session, changes nothing.
func (e *Engine) HandleStatusEvent(s *entity.CallSession, status, answeredBy string) Outcome {
	o := e.begin(s)
	o.Script = voicescript.New(voicescript.Hangup())
	if s.State.IsTerminal() {
		return o
	}

	if reason := statusFailureReason(status, answeredBy); reason != "" {
		o.fail(reason)
	}
	return o
}

func statusFailureReason(status, answeredBy string) string {
	answeredBy = strings.ToLower(answeredBy)
	if strings.HasPrefix(answeredBy, "machine") || answeredBy == "fax" {
		return ReasonVoicemail
	}

	switch strings.ToLower(status) {
	case "busy":
		return ReasonBusy
	case "no-answer":
		return ReasonNoAnswer
	case "failed":
		return ReasonFailed
	case "canceled":
		return ReasonCanceled
	case "completed":
		return ReasonEndedWithoutBooking
	default:
		return ""
	}
}

func (e *Engine) ended(s *entity.CallSession) Outcome {
	o := e.begin(s)
	o.Script = voicescript.New(voicescript.Say(lineCallEnded), voicescript.Hangup())
	return o
}

func (e *Engine) classifyTurn(ctx context.Context, s *entity.CallSession, utterance string, o *Outcome) Classification {
	c := Unclear()
	if strings.TrimSpace(utterance) != "" && e.classifier != nil {
		var err error
		c, err = e.classifier.ClassifyTurn(ctx, s, utterance)
		if err != nil {
			o.Errs = append(o.Errs, err)
		}
	}
	switch c.Kind {
	case KindTimeSuggested, KindQuestion, KindCannotSchedule, KindAmbiguous, KindUnclear:
	default:
		c = Unclear()
	}
	if c.Kind == KindTimeSuggested && c.Time.IsZero() {
		c = Classification{Kind: KindAmbiguous}
	}
	o.Classification = &c
	return c
}

func (e *Engine) classifyConfirmation(ctx context.Context, s *entity.CallSession, utterance string, o *Outcome) Classification {
	c := Unclear()
	if strings.TrimSpace(utterance) != "" && e.classifier != nil {
		var err error
		c, err = e.classifier.ClassifyConfirmation(ctx, s, utterance)
		if err != nil {
			o.Errs = append(o.Errs, err)
		}
	}
	switch c.Kind {
	case KindAffirmative, KindNegative, KindUnclear:
	default:
		c = Unclear()
	}
	o.Classification = &c
	return c
}

func (e *Engine) answer(ctx context.Context, s *entity.CallSession, question string, o *Outcome) string {
	if e.answerer == nil || strings.TrimSpace(question) == "" {
		return FallbackAnswer(s)
	}
	answer, err := e.answerer.Answer(ctx, s, question)
	if err != nil {
		o.Errs = append(o.Errs, err)
		return FallbackAnswer(s)
	}
	if answer = strings.TrimSpace(answer); answer == "" {
		return FallbackAnswer(s)
	}
	return answer
}

func (e *Engine) begin(s *entity.CallSession) Outcome {
	return Outcome{Session: *s}
}

func (o *Outcome) set(p entity.CallSessionPatch) {
	merge(&o.Patch, p)
	p.Apply(&o.Session)
}

func (o *Outcome) fail(reason string) {
	o.set(entity.CallSessionPatch{
		State:         statePtr(entity.CallStateFailed),
		FailureReason: &reason,
	})
}

func (o *Outcome) speak(e *Engine, lines ...string) {
	for _, line := range lines {
		o.Script = append(o.Script, voicescript.Say(line))
		o.History = append(o.History, entity.TranscriptEntry{
			Speaker:   entity.SpeakerAgent,
			Text:      line,
			Timestamp: e.now(),
		})
	}
}

func (o *Outcome) heard(e *Engine, utterance string) {
	if strings.TrimSpace(utterance) == "" {
		return
	}
	o.History = append(o.History, entity.TranscriptEntry{
		Speaker:   entity.SpeakerCallee,
		Text:      utterance,
		Timestamp: e.now(),
	})
}

func merge(dst *entity.CallSessionPatch, src entity.CallSessionPatch) {
	if src.State != nil {
		dst.State = src.State
	}
	if src.Retries != nil {
		dst.Retries = src.Retries
	}
	if src.ProposedTime != nil {
		dst.ProposedTime = src.ProposedTime
	}
	if src.FinalTime != nil {
		dst.FinalTime = src.FinalTime
	}
	if src.FailureReason != nil {
		dst.FailureReason = src.FailureReason
	}
	if src.CallSid != nil {
		dst.CallSid = src.CallSid
	}
}

func statePtr(s entity.CallState) *entity.CallState { return &s }
func intPtr(i int) *int                             { return &i }
