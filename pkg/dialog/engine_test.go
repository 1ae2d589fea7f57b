package dialog

import (
	"context"
	"errors"
	"testing"
	"time"

	"ai-booking-caller-be/internal/entity"
	"ai-booking-caller-be/pkg/voicescript"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedClassifier struct {
	turns         []Classification
	confirmations []Classification
	err           error
}

func (c *scriptedClassifier) ClassifyTurn(ctx context.Context, s *entity.CallSession, utterance string) (Classification, error) {
	if len(c.turns) == 0 {
		return Unclear(), c.err
	}
	next := c.turns[0]
	c.turns = c.turns[1:]
	return next, c.err
}

func (c *scriptedClassifier) ClassifyConfirmation(ctx context.Context, s *entity.CallSession, utterance string) (Classification, error) {
	if len(c.confirmations) == 0 {
		return Unclear(), c.err
	}
	next := c.confirmations[0]
	c.confirmations = c.confirmations[1:]
	return next, c.err
}

type fixedAnswerer struct {
	answer string
	err    error
}

func (a fixedAnswerer) Answer(ctx context.Context, s *entity.CallSession, question string) (string, error) {
	return a.answer, a.err
}

func newSession() *entity.CallSession {
	return &entity.CallSession{
		Id:           uuid.New(),
		UserId:       uuid.New(),
		BusinessName: "Bright Smile Dental",
		CallerName:   "Sam Lee",
		Reason:       "dental checkup",
		ContactInfo:  "555-0100",
		State:        entity.CallStateInitiated,
	}
}

func lastKind(s voicescript.Script) voicescript.Kind {
	return s[len(s)-1].Kind
}

func TestInitiate(t *testing.T) {
	e := NewEngine(&scriptedClassifier{}, nil, Config{GatherTimeout: 6})
	s := newSession()
	s.Retries = 2

	o := e.Initiate(context.Background(), s)

	assert.Equal(t, entity.CallStateGatheringTime, o.Session.State)
	assert.Equal(t, 0, o.Session.Retries)
	require.NotNil(t, o.Patch.Retries)
	assert.Equal(t, 0, *o.Patch.Retries)

	require.Len(t, o.Script, 3)
	assert.Contains(t, o.Script[0].Text, "dental checkup")
	assert.Equal(t, voicescript.KindListen, o.Script[2].Kind)
	assert.Equal(t, ActionTurn, o.Script[2].Action)
	assert.Equal(t, 6, o.Script[2].Timeout)
}

func TestHandleTurnTimedOut(t *testing.T) {
	e := NewEngine(&scriptedClassifier{}, nil, Config{})
	s := newSession()
	s.State = entity.CallStateGatheringTime

	o := e.HandleTurn(context.Background(), s, TurnInput{TimedOut: true})

	assert.Equal(t, entity.CallStateFailed, o.Session.State)
	require.NotNil(t, o.Session.FailureReason)
	assert.Equal(t, ReasonTurnTimeout, *o.Session.FailureReason)
	assert.True(t, o.Script.EndsInHangup())
}

func TestUnclearTurnsRetryThenFail(t *testing.T) {
	e := NewEngine(&scriptedClassifier{}, nil, Config{})
	s := newSession()
	s.State = entity.CallStateGatheringTime

	for turn := 1; turn <= MaxUnclearRetries; turn++ {
		o := e.HandleTurn(context.Background(), s, TurnInput{Transcript: "mmm"})

		assert.Equal(t, s.Retries+1, o.Session.Retries, "turn %d", turn)
		assert.Equal(t, o.Session.Retries >= MaxUnclearRetries, o.Session.State == entity.CallStateFailed, "turn %d", turn)

		switch turn {
		case 1:
			assert.Equal(t, lineReprompt, o.Script[0].Text)
			assert.Equal(t, voicescript.KindListen, lastKind(o.Script))
		case 2:
			assert.Equal(t, lineFinalReprompt, o.Script[0].Text)
			assert.Equal(t, voicescript.KindListen, lastKind(o.Script))
		case 3:
			require.NotNil(t, o.Session.FailureReason)
			assert.Contains(t, *o.Session.FailureReason, "repeated unclear responses")
			assert.True(t, o.Script.EndsInHangup())
		}

		next := o.Session
		s = &next
	}
}

func TestAmbiguousCountsAsRetry(t *testing.T) {
	e := NewEngine(&scriptedClassifier{turns: []Classification{{Kind: KindAmbiguous}}}, nil, Config{})
	s := newSession()
	s.State = entity.CallStateGatheringTime

	o := e.HandleTurn(context.Background(), s, TurnInput{Transcript: "sometime next week"})

	assert.Equal(t, 1, o.Session.Retries)
	assert.Equal(t, entity.CallStateGatheringTime, o.Session.State)
}

func TestClassifierErrorResolvesToUnclear(t *testing.T) {
	e := NewEngine(&scriptedClassifier{err: errors.New("llm down")}, nil, Config{})
	s := newSession()
	s.State = entity.CallStateGatheringTime

	o := e.HandleTurn(context.Background(), s, TurnInput{Transcript: "Tomorrow at 2pm"})

	require.NotNil(t, o.Classification)
	assert.Equal(t, KindUnclear, o.Classification.Kind)
	assert.Equal(t, 1, o.Session.Retries)
	assert.Len(t, o.Errs, 1)
	assert.NotEmpty(t, o.Script)
}

func TestTimeSuggestedWithoutTimeIsAmbiguous(t *testing.T) {
	e := NewEngine(&scriptedClassifier{turns: []Classification{{Kind: KindTimeSuggested}}}, nil, Config{})
	s := newSession()
	s.State = entity.CallStateGatheringTime

	o := e.HandleTurn(context.Background(), s, TurnInput{Transcript: "later"})
	assert.Equal(t, KindAmbiguous, o.Classification.Kind)
	assert.Equal(t, entity.CallStateGatheringTime, o.Session.State)
}

func TestCannotSchedule(t *testing.T) {
	e := NewEngine(&scriptedClassifier{turns: []Classification{{Kind: KindCannotSchedule, Payload: "fully booked this month"}}}, nil, Config{})
	s := newSession()
	s.State = entity.CallStateGatheringTime

	o := e.HandleTurn(context.Background(), s, TurnInput{Transcript: "we're fully booked"})

	assert.Equal(t, entity.CallStateFailed, o.Session.State)
	assert.Equal(t, "fully booked this month", *o.Session.FailureReason)
	assert.True(t, o.Script.EndsInHangup())
}

func TestQuestionKeepsStateAndAnswers(t *testing.T) {
	tests := []struct {
		name     string
		answerer Answerer
		want     string
	}{
		{"model answer", fixedAnswerer{answer: "Sam is a new patient."}, "Sam is a new patient."},
		{"answerer error falls back", fixedAnswerer{err: errors.New("timeout")}, "on behalf of Sam Lee"},
		{"no answerer", nil, "555-0100"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &scriptedClassifier{turns: []Classification{{Kind: KindQuestion, Payload: "Is this a new patient?"}}}
			e := NewEngine(c, tt.answerer, Config{})
			s := newSession()
			s.State = entity.CallStateGatheringTime

			o := e.HandleTurn(context.Background(), s, TurnInput{Transcript: "Is this a new patient?"})

			assert.Equal(t, entity.CallStateGatheringTime, o.Session.State)
			assert.Nil(t, o.Patch.State)
			assert.Contains(t, o.Script[0].Text, tt.want)
			assert.Equal(t, lineAskTime, o.Script[1].Text)
			assert.Equal(t, ActionTurn, o.Script[2].Action)
		})
	}
}

func TestBookingScenario(t *testing.T) {
	tomorrow2pm := time.Date(2026, 10, 18, 14, 0, 0, 0, time.UTC)
	c := &scriptedClassifier{
		turns:         []Classification{{Kind: KindTimeSuggested, Payload: tomorrow2pm.Format(time.RFC3339), Time: tomorrow2pm}},
		confirmations: []Classification{{Kind: KindAffirmative}},
	}
	e := NewEngine(c, nil, Config{})

	s := newSession()
	o := e.Initiate(context.Background(), s)
	s = &o.Session

	o = e.HandleTurn(context.Background(), s, TurnInput{Transcript: "Tomorrow at 2pm"})
	require.Equal(t, entity.CallStateConfirmingTime, o.Session.State)
	require.NotNil(t, o.Session.ProposedTime)
	assert.True(t, tomorrow2pm.Equal(*o.Session.ProposedTime))
	assert.Equal(t, ActionConfirm, lastDirective(o.Script).Action)
	assert.Contains(t, o.Script[0].Text, "Sunday, October 18 at 2:00 PM")
	assert.False(t, o.Notify)
	s = &o.Session

	o = e.HandleConfirmation(context.Background(), s, TurnInput{Transcript: "yes"})
	assert.Equal(t, entity.CallStateCompleted, o.Session.State)
	require.NotNil(t, o.Patch.FinalTime)
	assert.True(t, tomorrow2pm.Equal(*o.Patch.FinalTime))
	assert.True(t, o.Notify)
	assert.True(t, o.Script.EndsInHangup())

	// A repeated confirmation on the completed session changes nothing.
	s = &o.Session
	again := e.HandleConfirmation(context.Background(), s, TurnInput{Transcript: "yes"})
	assert.False(t, again.Notify)
	assert.True(t, again.Patch.IsEmpty())
	assert.True(t, again.Script.EndsInHangup())
}

func lastDirective(s voicescript.Script) voicescript.Directive {
	return s[len(s)-1]
}

func TestHandleConfirmation(t *testing.T) {
	proposed := time.Date(2026, 10, 20, 9, 30, 0, 0, time.UTC)
	tests := []struct {
		name       string
		kind       Kind
		timedOut   bool
		wantState  entity.CallState
		wantAction string
		wantHangup bool
	}{
		{name: "negative re-asks time", kind: KindNegative, wantState: entity.CallStateGatheringTime, wantAction: ActionTurn},
		{name: "unclear re-asks yes or no", kind: KindUnclear, wantState: entity.CallStateConfirmingTime, wantAction: ActionConfirm},
		{name: "unexpected kind is unclear", kind: KindQuestion, wantState: entity.CallStateConfirmingTime, wantAction: ActionConfirm},
		{name: "timed out", timedOut: true, wantState: entity.CallStateFailed, wantHangup: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine(&scriptedClassifier{confirmations: []Classification{{Kind: tt.kind}}}, nil, Config{})
			s := newSession()
			s.State = entity.CallStateConfirmingTime
			s.ProposedTime = &proposed

			o := e.HandleConfirmation(context.Background(), s, TurnInput{Transcript: "hmm", TimedOut: tt.timedOut})

			assert.Equal(t, tt.wantState, o.Session.State)
			assert.False(t, o.Notify)
			assert.Equal(t, tt.wantHangup, o.Script.EndsInHangup())
			if tt.wantHangup {
				assert.Equal(t, ReasonConfirmTimeout, *o.Session.FailureReason)
			} else {
				assert.Equal(t, tt.wantAction, lastDirective(o.Script).Action)
			}
		})
	}
}

func TestHandleStatusEvent(t *testing.T) {
	tests := []struct {
		status     string
		answeredBy string
		wantReason string
	}{
		{"in-progress", "machine_end_beep", ReasonVoicemail},
		{"completed", "fax", ReasonVoicemail},
		{"busy", "", ReasonBusy},
		{"no-answer", "", ReasonNoAnswer},
		{"failed", "", ReasonFailed},
		{"canceled", "", ReasonCanceled},
		{"completed", "human", ReasonEndedWithoutBooking},
		{"ringing", "", ""},
		{"in-progress", "human", ""},
	}
	e := NewEngine(nil, nil, Config{})
	for _, tt := range tests {
		t.Run(tt.status+"/"+tt.answeredBy, func(t *testing.T) {
			s := newSession()
			s.State = entity.CallStateGatheringTime

			o := e.HandleStatusEvent(s, tt.status, tt.answeredBy)
			if tt.wantReason == "" {
				assert.True(t, o.Patch.IsEmpty())
				assert.Equal(t, entity.CallStateGatheringTime, o.Session.State)
				return
			}
			assert.Equal(t, entity.CallStateFailed, o.Session.State)
			assert.Equal(t, tt.wantReason, *o.Session.FailureReason)
		})
	}
}

func TestHandleStatusEventIsIdempotentOnTerminal(t *testing.T) {
	e := NewEngine(nil, nil, Config{})
	for _, state := range entity.TerminalCallStates {
		reason := "earlier reason"
		s := newSession()
		s.State = state
		s.FailureReason = &reason

		o := e.HandleStatusEvent(s, "completed", "")

		assert.Equal(t, state, o.Session.State)
		assert.Equal(t, "earlier reason", *o.Session.FailureReason)
		assert.True(t, o.Patch.IsEmpty())
	}
}

func TestTerminalSessionGetsHangup(t *testing.T) {
	e := NewEngine(&scriptedClassifier{turns: []Classification{{Kind: KindCannotSchedule}}}, nil, Config{})
	s := newSession()
	s.State = entity.CallStateCompleted

	o := e.HandleTurn(context.Background(), s, TurnInput{Transcript: "hello?"})
	assert.True(t, o.Patch.IsEmpty())
	assert.True(t, o.Script.EndsInHangup())
	assert.Equal(t, entity.CallStateCompleted, o.Session.State)
}

func TestHistoryRecordsBothSpeakers(t *testing.T) {
	e := NewEngine(&scriptedClassifier{}, nil, Config{})
	s := newSession()
	s.State = entity.CallStateGatheringTime

	o := e.HandleTurn(context.Background(), s, TurnInput{Transcript: "what?"})
	require.Len(t, o.History, 2)
	assert.Equal(t, entity.SpeakerCallee, o.History[0].Speaker)
	assert.Equal(t, "what?", o.History[0].Text)
	assert.Equal(t, entity.SpeakerAgent, o.History[1].Speaker)
}

type outcomeClassifier struct {
	scriptedClassifier
	verdict Classification
	err     error
	calls   int
}

func (c *outcomeClassifier) ClassifyStreamOutcome(ctx context.Context, s *entity.CallSession, transcript []entity.TranscriptEntry) (Classification, error) {
	c.calls++
	return c.verdict, c.err
}

func TestConcludeStream(t *testing.T) {
	agreed := time.Date(2026, 10, 20, 9, 30, 0, 0, time.UTC)
	transcript := []entity.TranscriptEntry{
		{Speaker: entity.SpeakerCallee, Text: "We can do Tuesday at 9:30."},
		{Speaker: entity.SpeakerAgent, Text: "Tuesday at 9:30 works, thank you."},
	}

	tests := []struct {
		name       string
		state      entity.CallState
		transcript []entity.TranscriptEntry
		verdict    Classification
		err        error
		wantState  entity.CallState
		wantNotify bool
		wantCalls  int
	}{
		{
			name:       "agreed time completes the call",
			state:      entity.CallStateGatheringTime,
			transcript: transcript,
			verdict:    Classification{Kind: KindAffirmative, Time: agreed},
			wantState:  entity.CallStateCompleted,
			wantNotify: true,
			wantCalls:  1,
		},
		{
			name:       "no agreement leaves the session open",
			state:      entity.CallStateGatheringTime,
			transcript: transcript,
			verdict:    Classification{Kind: KindNegative},
			wantState:  entity.CallStateGatheringTime,
			wantCalls:  1,
		},
		{
			name:       "classifier failure changes nothing",
			state:      entity.CallStateGatheringTime,
			transcript: transcript,
			verdict:    Classification{Kind: KindNegative},
			err:        errors.New("model offline"),
			wantState:  entity.CallStateGatheringTime,
			wantCalls:  1,
		},
		{
			name:       "terminal session is not reclassified",
			state:      entity.CallStateFailed,
			transcript: transcript,
			verdict:    Classification{Kind: KindAffirmative, Time: agreed},
			wantState:  entity.CallStateFailed,
		},
		{
			name:      "empty transcript",
			state:     entity.CallStateGatheringTime,
			verdict:   Classification{Kind: KindAffirmative, Time: agreed},
			wantState: entity.CallStateGatheringTime,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &outcomeClassifier{verdict: tt.verdict, err: tt.err}
			e := NewEngine(c, nil, Config{})
			s := newSession()
			s.State = tt.state

			o := e.ConcludeStream(context.Background(), s, tt.transcript)

			assert.Equal(t, tt.wantState, o.Session.State)
			assert.Equal(t, tt.wantNotify, o.Notify)
			assert.Equal(t, tt.wantCalls, c.calls)
			assert.Equal(t, voicescript.KindHangup, lastKind(o.Script))
			if tt.wantNotify {
				require.NotNil(t, o.Patch.FinalTime)
				assert.True(t, agreed.Equal(*o.Patch.FinalTime))
			}
			if tt.err != nil {
				assert.Len(t, o.Errs, 1)
			}
		})
	}

	// A classifier without stream support leaves the session alone.
	o := NewEngine(&scriptedClassifier{}, nil, Config{}).ConcludeStream(context.Background(), newSession(), transcript)
	assert.Nil(t, o.Classification)
	assert.True(t, o.Patch.IsEmpty())
}
