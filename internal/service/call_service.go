package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"ai-booking-caller-be/internal/dto"
	"ai-booking-caller-be/internal/entity"
	"ai-booking-caller-be/internal/pkg/logger"
	"ai-booking-caller-be/internal/repository/contract"
	"ai-booking-caller-be/internal/repository/specification"
	"ai-booking-caller-be/pkg/apperr"
	"ai-booking-caller-be/pkg/dialog"
	"ai-booking-caller-be/pkg/events"
	"ai-booking-caller-be/pkg/preflight"
	"ai-booking-caller-be/pkg/telephony"
	"ai-booking-caller-be/pkg/voicescript"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var ErrTelephonyUnavailable = errors.New("telephony is not configured")

type ICallService interface {
	PlaceCall(ctx context.Context, userID uuid.UUID, req *dto.PlaceCallRequest) (*dto.CallSessionResponse, error)
	GetCall(ctx context.Context, userID, id uuid.UUID) (*dto.CallSessionResponse, error)
	ListCalls(ctx context.Context, userID uuid.UUID, limit, offset int) ([]dto.CallSessionResponse, int64, error)

	// Webhook operations. They never fail: every error becomes a spoken
	// apology and a hangup.
	Initiate(ctx context.Context, id uuid.UUID) voicescript.Script
	InitiateStream(ctx context.Context, id uuid.UUID) voicescript.Script
	HandleTurn(ctx context.Context, id uuid.UUID, in dialog.TurnInput) voicescript.Script
	HandleConfirmation(ctx context.Context, id uuid.UUID, in dialog.TurnInput) voicescript.Script
	HandleStatus(ctx context.Context, id uuid.UUID, status, answeredBy string) voicescript.Script

	// Streaming session support. While a media stream is attached, status
	// callbacks for its call are held and replayed by ConcludeStream.
	AttachStream(ctx context.Context, id uuid.UUID) (*entity.CallSession, error)
	ConcludeStream(ctx context.Context, id uuid.UUID, transcript []entity.TranscriptEntry)
}

type CallServiceConfig struct {
	BaseURL            string // https origin given to the provider for webhooks
	StreamURL          string // wss origin for media sockets
	StreamPauseSeconds int
	DetectMachine      bool
	RingTimeout        int
	Location           *time.Location
}

type callService struct {
	repo         contract.CallSessionRepository
	engine       *dialog.Engine
	dialer       telephony.Dialer
	notifier     Notifier
	publisher    EventPublisher
	capabilities preflight.Capabilities
	config       CallServiceConfig
	logger       logger.ILogger

	streamsMu sync.Mutex
	streams   map[uuid.UUID]*attachedStream
}

type statusEvent struct {
	status     string
	answeredBy string
}

type attachedStream struct {
	sockets int
	held    []statusEvent
}

func NewCallService(
	repo contract.CallSessionRepository,
	engine *dialog.Engine,
	dialer telephony.Dialer,
	notifier Notifier,
	publisher EventPublisher,
	capabilities preflight.Capabilities,
	config CallServiceConfig,
	log logger.ILogger,
) ICallService {
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.StreamURL == "" {
		config.StreamURL = websocketOrigin(config.BaseURL)
	}
	config.StreamURL = strings.TrimRight(config.StreamURL, "/")
	if config.StreamPauseSeconds <= 0 {
		config.StreamPauseSeconds = 3600
	}
	if config.Location == nil {
		config.Location = time.UTC
	}
	return &callService{
		repo:         repo,
		engine:       engine,
		dialer:       dialer,
		notifier:     notifier,
		publisher:    publisher,
		capabilities: capabilities,
		config:       config,
		logger:       log,
		streams:      make(map[uuid.UUID]*attachedStream),
	}
}

func websocketOrigin(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return base
	}
}

// WebhookPath is the route of a telephony webhook for a call.
func WebhookPath(action string, id uuid.UUID) string {
	return fmt.Sprintf("/api/telephony/%s/%s", action, id)
}

func MediaPath(id uuid.UUID) string {
	return fmt.Sprintf("/api/media/%s", id)
}

func (s *callService) PlaceCall(ctx context.Context, userID uuid.UUID, req *dto.PlaceCallRequest) (*dto.CallSessionResponse, error) {
	session := &entity.CallSession{
		UserId:        userID,
		BusinessName:  req.BusinessName,
		BusinessPhone: req.BusinessPhone,
		CallerName:    req.CallerName,
		Reason:        req.Reason,
		ContactInfo:   req.ContactInfo,
		NotifyEmail:   req.NotifyEmail,
		State:         entity.CallStateInitiated,
	}
	if err := s.repo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create call session: %w", err)
	}

	if s.dialer == nil {
		s.failPlacement(ctx, session, ErrTelephonyUnavailable)
		return nil, ErrTelephonyUnavailable
	}

	sid, err := s.dialer.PlaceCall(ctx, telephony.CallRequest{
		To:                session.BusinessPhone,
		AnswerURL:         s.config.BaseURL + WebhookPath("initiate", session.Id),
		StatusCallbackURL: s.config.BaseURL + WebhookPath("status", session.Id),
		DetectMachine:     s.config.DetectMachine,
		TimeoutSeconds:    s.config.RingTimeout,
	})
	if err != nil {
		s.failPlacement(ctx, session, err)
		return nil, fmt.Errorf("place call: %w", err)
	}

	if err := s.repo.Update(ctx, session.Id, entity.CallSessionPatch{CallSid: &sid}); err != nil {
		s.logPersistence("store call sid", session.Id, err)
	}
	session.CallSid = sid

	s.publish(ctx, events.TypeCallPlaced, session, nil)
	s.logger.Info("CallService", "Call placed", map[string]interface{}{"call_id": session.Id, "call_sid": sid})

	res := dto.NewCallSessionResponse(session)
	return &res, nil
}

func (s *callService) failPlacement(ctx context.Context, session *entity.CallSession, cause error) {
	s.logger.Error("CallService", "Call placement failed", map[string]interface{}{"call_id": session.Id, "error": cause.Error()})
	o := s.engine.HandleStatusEvent(session, "failed", "")
	s.apply(ctx, session, o)
}

func (s *callService) GetCall(ctx context.Context, userID, id uuid.UUID) (*dto.CallSessionResponse, error) {
	session, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.UserId != userID {
		return nil, contract.ErrCallSessionNotFound
	}
	res := dto.NewCallSessionResponse(session)
	return &res, nil
}

func (s *callService) ListCalls(ctx context.Context, userID uuid.UUID, limit, offset int) ([]dto.CallSessionResponse, int64, error) {
	total, err := s.repo.Count(ctx, specification.ByUserID{UserID: userID})
	if err != nil {
		return nil, 0, err
	}
	sessions, err := s.repo.FindAll(ctx,
		specification.ByUserID{UserID: userID},
		specification.OrderBy{Field: "created_at", Desc: true},
		specification.Pagination{Limit: limit, Offset: offset},
	)
	if err != nil {
		return nil, 0, err
	}

	res := make([]dto.CallSessionResponse, len(sessions))
	for i, session := range sessions {
		res[i] = dto.NewCallSessionResponse(session)
	}
	return res, total, nil
}

// Initiate answers the provider when the callee picks up. With every
// streaming capability configured the call moves onto a media stream;
// otherwise the prompt-and-gather dialog starts.
func (s *callService) Initiate(ctx context.Context, id uuid.UUID) voicescript.Script {
	if preflight.CanStream(s.capabilities) {
		return s.InitiateStream(ctx, id)
	}

	ctx, span := otel.Tracer("calls").Start(ctx, "call.initiate")
	defer span.End()

	session, script := s.load(ctx, id)
	if session == nil {
		return script
	}
	return s.apply(ctx, session, s.engine.Initiate(ctx, session))
}

func (s *callService) InitiateStream(ctx context.Context, id uuid.UUID) voicescript.Script {
	if err := preflight.Check(s.capabilities); err != nil {
		s.logger.Warn("CallService", "Streaming unavailable, using dialog flow", map[string]interface{}{"call_id": id, "error": err.Error()})
		session, script := s.load(ctx, id)
		if session == nil {
			return script
		}
		return s.apply(ctx, session, s.engine.Initiate(ctx, session))
	}

	ctx, span := otel.Tracer("calls").Start(ctx, "call.initiate_stream")
	defer span.End()

	session, script := s.load(ctx, id)
	if session == nil {
		return script
	}
	if session.State.IsTerminal() {
		return s.apply(ctx, session, s.engine.Initiate(ctx, session))
	}

	state := entity.CallStateGatheringTime
	retries := 0
	if err := s.repo.Update(ctx, id, entity.CallSessionPatch{State: &state, Retries: &retries}); err != nil {
		s.logPersistence("start stream", id, err)
	}

	return voicescript.New(
		voicescript.ConnectStream(s.config.StreamURL+MediaPath(id), map[string]string{"callId": id.String()}),
		voicescript.Pause(s.config.StreamPauseSeconds),
	)
}

func (s *callService) HandleTurn(ctx context.Context, id uuid.UUID, in dialog.TurnInput) voicescript.Script {
	ctx, span := otel.Tracer("calls").Start(ctx, "call.turn")
	defer span.End()
	span.SetAttributes(attribute.Bool("timed_out", in.TimedOut))

	session, script := s.load(ctx, id)
	if session == nil {
		return script
	}
	return s.apply(ctx, session, s.engine.HandleTurn(ctx, session, in))
}

func (s *callService) HandleConfirmation(ctx context.Context, id uuid.UUID, in dialog.TurnInput) voicescript.Script {
	ctx, span := otel.Tracer("calls").Start(ctx, "call.confirm")
	defer span.End()
	span.SetAttributes(attribute.Bool("timed_out", in.TimedOut))

	session, script := s.load(ctx, id)
	if session == nil {
		return script
	}
	return s.apply(ctx, session, s.engine.HandleConfirmation(ctx, session, in))
}

func (s *callService) HandleStatus(ctx context.Context, id uuid.UUID, status, answeredBy string) voicescript.Script {
	if s.holdStatus(id, statusEvent{status: status, answeredBy: answeredBy}) {
		s.logger.Info("CallService", "Status callback held until stream ends", map[string]interface{}{"call_id": id, "status": status, "answered_by": answeredBy})
		return voicescript.New(voicescript.Hangup())
	}

	session, script := s.load(ctx, id)
	if session == nil {
		return script
	}
	return s.applyStatus(ctx, session, statusEvent{status: status, answeredBy: answeredBy})
}

func (s *callService) applyStatus(ctx context.Context, session *entity.CallSession, ev statusEvent) voicescript.Script {
	s.logger.Info("CallService", "Status callback", map[string]interface{}{"call_id": session.Id, "status": ev.status, "answered_by": ev.answeredBy})
	return s.apply(ctx, session, s.engine.HandleStatusEvent(session, ev.status, ev.answeredBy))
}

func (s *callService) AttachStream(ctx context.Context, id uuid.UUID) (*entity.CallSession, error) {
	session, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	s.streamsMu.Lock()
	defer s.streamsMu.Unlock()
	st, ok := s.streams[id]
	if !ok {
		st = &attachedStream{}
		s.streams[id] = st
	}
	st.sockets++
	return session, nil
}

// holdStatus queues ev when a media stream of the call is attached.
func (s *callService) holdStatus(id uuid.UUID, ev statusEvent) bool {
	s.streamsMu.Lock()
	defer s.streamsMu.Unlock()
	st, ok := s.streams[id]
	if !ok {
		return false
	}
	st.held = append(st.held, ev)
	return true
}

// detachStream releases one socket and returns the held callbacks once the
// last socket of the call is gone.
func (s *callService) detachStream(id uuid.UUID) []statusEvent {
	s.streamsMu.Lock()
	defer s.streamsMu.Unlock()
	st, ok := s.streams[id]
	if !ok {
		return nil
	}
	st.sockets--
	if st.sockets > 0 {
		return nil
	}
	delete(s.streams, id)
	return st.held
}

// ConcludeStream settles the call from its transcript, then replays status
// callbacks that arrived while the stream was open.
func (s *callService) ConcludeStream(ctx context.Context, id uuid.UUID, transcript []entity.TranscriptEntry) {
	session, err := s.repo.Get(ctx, id)
	if err != nil {
		s.logPersistence("load session", id, err)
	} else {
		o := s.engine.ConcludeStream(ctx, session, transcript)
		// The transcript was journaled during the stream.
		o.History = nil
		s.apply(ctx, session, o)
	}

	for _, ev := range s.detachStream(id) {
		session, err := s.repo.Get(ctx, id)
		if err != nil {
			s.logPersistence("load session", id, err)
			return
		}
		s.applyStatus(ctx, session, ev)
	}
}

// load fetches the session or returns the apology script to end the call.
func (s *callService) load(ctx context.Context, id uuid.UUID) (*entity.CallSession, voicescript.Script) {
	session, err := s.repo.Get(ctx, id)
	if err != nil {
		s.logPersistence("load session", id, err)
		return nil, voicescript.New(voicescript.Say(dialog.LineSystemError), voicescript.Hangup())
	}
	return session, nil
}

// apply persists an outcome and runs its side effects. Persistence errors
// are logged and never stop the script from being returned.
func (s *callService) apply(ctx context.Context, before *entity.CallSession, o dialog.Outcome) voicescript.Script {
	id := before.Id
	for _, err := range o.Errs {
		fields := map[string]interface{}{"call_id": id, "error": err.Error()}
		var perr *apperr.ClassificationParseError
		if errors.As(err, &perr) {
			fields["raw"] = perr.Raw
		}
		s.logger.Warn("CallService", "Recovered dialog error", fields)
	}

	settled := true
	if !o.Patch.IsEmpty() {
		if err := s.repo.Update(ctx, id, o.Patch); err != nil {
			if errors.Is(err, contract.ErrCallSessionTerminal) {
				// Another webhook settled the call first.
				settled = false
				s.logger.Info("CallService", "Session already terminal, patch skipped", map[string]interface{}{"call_id": id})
			} else {
				s.logPersistence("update session", id, err)
			}
		}
	}

	if len(o.History) > 0 {
		if err := s.repo.AppendHistory(ctx, id, o.History...); err != nil {
			s.logPersistence("append history", id, err)
		}
	}

	if !settled {
		return o.Script
	}

	if o.Notify && s.notifier != nil {
		s.notifyBooked(ctx, &o.Session)
	}
	if !before.State.IsTerminal() && o.Session.State.IsTerminal() {
		eventType := events.TypeCallCompleted
		extra := map[string]interface{}{}
		if o.Session.State == entity.CallStateFailed {
			eventType = events.TypeCallFailed
			if o.Session.FailureReason != nil {
				extra["reason"] = *o.Session.FailureReason
			}
		}
		if o.Session.FinalTime != nil {
			extra["final_time"] = o.Session.FinalTime.UTC().Format(time.RFC3339)
		}
		s.publish(ctx, eventType, &o.Session, extra)
	}
	return o.Script
}

func (s *callService) notifyBooked(ctx context.Context, session *entity.CallSession) {
	spoken := ""
	finalTime := ""
	if session.FinalTime != nil {
		spoken = dialog.SpokenTime(*session.FinalTime, s.config.Location)
		finalTime = session.FinalTime.UTC().Format(time.RFC3339)
	}

	data := map[string]interface{}{
		"type":              events.TypeAppointmentBooked,
		"call_id":           session.Id.String(),
		"business_name":     session.BusinessName,
		"caller_name":       session.CallerName,
		"reason":            session.Reason,
		"final_time":        finalTime,
		"final_time_spoken": spoken,
	}
	if session.NotifyEmail != "" {
		data["email"] = session.NotifyEmail
	}

	body := fmt.Sprintf("Your appointment with %s is confirmed for %s.", session.BusinessName, spoken)
	if err := s.notifier.Send(ctx, session.UserId, "Appointment booked", body, data); err != nil {
		s.logger.Error("CallService", "Booking notification failed", map[string]interface{}{"call_id": session.Id, "error": err.Error()})
	}
}

func (s *callService) publish(ctx context.Context, eventType string, session *entity.CallSession, extra map[string]interface{}) {
	if s.publisher == nil {
		return
	}
	payload := map[string]interface{}{
		"user_id":       session.UserId.String(),
		"call_id":       session.Id.String(),
		"business_name": session.BusinessName,
		"state":         string(session.State),
	}
	for k, v := range extra {
		payload[k] = v
	}
	if err := s.publisher.Publish(ctx, events.New(eventType, payload)); err != nil {
		s.logger.Warn("CallService", "Event publish failed", map[string]interface{}{"call_id": session.Id, "type": eventType, "error": err.Error()})
	}
}

func (s *callService) logPersistence(op string, id uuid.UUID, err error) {
	perr := &apperr.PersistenceError{Op: op, Err: err}
	s.logger.Error("CallService", "Persistence failure", map[string]interface{}{"call_id": id, "error": perr.Error()})
}
