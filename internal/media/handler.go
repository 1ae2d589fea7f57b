package media

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"ai-booking-caller-be/internal/constant"
	"ai-booking-caller-be/internal/entity"
	"ai-booking-caller-be/internal/pkg/logger"
	"ai-booking-caller-be/pkg/apperr"
	"ai-booking-caller-be/pkg/chunker"
	"ai-booking-caller-be/pkg/dialog"
	"ai-booking-caller-be/pkg/llm"
	"ai-booking-caller-be/pkg/stt"
	"ai-booking-caller-be/pkg/transcode"
	"ai-booking-caller-be/pkg/tts"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// Conn is the subset of a websocket connection the handler uses. Both the
// fiber and gorilla websocket connections satisfy it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v interface{}) error
}

// CallStore loads the call behind a stream and settles it when the stream
// ends. A successful AttachStream is always followed by ConcludeStream.
type CallStore interface {
	AttachStream(ctx context.Context, id uuid.UUID) (*entity.CallSession, error)
	ConcludeStream(ctx context.Context, id uuid.UUID, transcript []entity.TranscriptEntry)
}

// Journal persists transcript entries without blocking the caller.
type Journal interface {
	Record(ctx context.Context, sessionID uuid.UUID, entries ...entity.TranscriptEntry)
}

type Config struct {
	ChunkMinLength  int
	Recognition     stt.Config
	ConcludeTimeout time.Duration
}

type Handler struct {
	calls       CallStore
	journal     Journal
	recognizer  stt.Recognizer
	llm         llm.LLMProvider
	synthesizer tts.Synthesizer
	transcoder  *transcode.Transcoder
	config      Config
	logger      logger.ILogger
	now         func() time.Time
}

func NewHandler(
	calls CallStore,
	journal Journal,
	recognizer stt.Recognizer,
	provider llm.LLMProvider,
	synthesizer tts.Synthesizer,
	config Config,
	log logger.ILogger,
) (*Handler, error) {
	transcoder, err := transcode.NewFromName(synthesizer.OutputFormat())
	if err != nil {
		return nil, &apperr.ConfigurationError{Missing: []string{"transcoding"}}
	}
	if config.ChunkMinLength <= 0 {
		config.ChunkMinLength = chunker.DefaultMinLength
	}
	if config.Recognition.Encoding == "" {
		config.Recognition = stt.TelephonyConfig()
	}
	if config.ConcludeTimeout <= 0 {
		config.ConcludeTimeout = 30 * time.Second
	}
	return &Handler{
		calls:       calls,
		journal:     journal,
		recognizer:  recognizer,
		llm:         provider,
		synthesizer: synthesizer,
		transcoder:  transcoder,
		config:      config,
		logger:      log,
		now:         time.Now,
	}, nil
}

// Serve runs one media socket until the provider stops the stream or the
// socket closes. callID comes from the stream URL; the start event's callId
// parameter is used when it is missing.
func (h *Handler) Serve(ctx context.Context, callID uuid.UUID, conn Conn) {
	ctx, cancel := context.WithCancel(ctx)
	c := &connection{
		h:       h,
		ctx:     ctx,
		cancel:  cancel,
		callID:  callID,
		session: NewSession(),
		out:     make(chan OutboundMessage, 64),
		log:     h.logger.With(map[string]interface{}{"call_id": callID.String()}),
	}

	go c.writeLoop(conn, c.log)
	c.readLoop(conn)
	c.shutdown()
}

type connection struct {
	h      *Handler
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Written by the first start event only, before any goroutine reads them.
	callID    uuid.UUID
	streamSid string
	started   bool
	session   *Session
	out       chan OutboundMessage
	log       logger.ILogger

	mu          sync.Mutex
	call        *entity.CallSession
	recognition stt.Stream
	transcript  []entity.TranscriptEntry
}

func (c *connection) readLoop(conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil {
				c.log.Info("MediaStream", "Socket closed", map[string]interface{}{"error": err.Error()})
			}
			return
		}

		msg, err := decodeInbound(data)
		if err != nil {
			c.log.Warn("MediaStream", "Malformed message", map[string]interface{}{"error": err.Error()})
			continue
		}

		switch msg.Event {
		case EventConnected:
		case EventStart:
			c.start(msg)
		case EventMedia:
			c.media(msg)
		case EventMark:
			if msg.Mark != nil {
				c.session.Acknowledge(msg.Mark.Name)
			}
			if c.session.Listening() {
				c.ensureRecognition()
			}
		case EventStop:
			c.log.Info("MediaStream", "Stream stopped", map[string]interface{}{"stream_sid": c.streamSid})
			return
		default:
			c.log.Debug("MediaStream", "Unhandled event", map[string]interface{}{"event": msg.Event})
		}
		if c.ctx.Err() != nil {
			return
		}
	}
}

func (c *connection) start(msg InboundMessage) {
	if c.started {
		c.log.Info("MediaStream", "Repeated start, reopening recognition", nil)
		c.ensureRecognition()
		return
	}
	c.started = true

	if msg.Start != nil {
		c.streamSid = msg.Start.StreamSid
		if c.callID == uuid.Nil {
			if id, err := uuid.Parse(msg.Start.CustomParameters["callId"]); err == nil {
				c.callID = id
				c.log = c.h.logger.With(map[string]interface{}{"call_id": id.String()})
			}
		}
	}
	if c.streamSid == "" {
		c.streamSid = msg.StreamSid
	}

	call, err := c.h.calls.AttachStream(c.ctx, c.callID)
	if err != nil {
		c.log.Error("MediaStream", "Call not found for stream", map[string]interface{}{"error": err.Error()})
		c.cancel()
		return
	}
	c.mu.Lock()
	c.call = call
	c.mu.Unlock()

	c.log.Info("MediaStream", "Stream started", map[string]interface{}{"stream_sid": c.streamSid})
	c.ensureRecognition()

	greeting := dialog.StreamGreeting(call)
	c.spawn(func() { c.speak(greeting) })
}

func (c *connection) media(msg InboundMessage) {
	if msg.Media == nil || !c.session.Listening() {
		return
	}
	c.mu.Lock()
	stream := c.recognition
	c.mu.Unlock()
	if stream == nil {
		return
	}

	frame, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
	if err != nil {
		c.log.Warn("MediaStream", "Bad media payload", map[string]interface{}{"error": err.Error()})
		return
	}
	if err := stream.Write(frame); err != nil {
		c.fail(stream, &apperr.TranscriptionError{Err: err})
	}
}

// ensureRecognition opens a recognition stream unless one is running.
func (c *connection) ensureRecognition() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.recognition != nil || c.ctx.Err() != nil {
		return
	}

	stream, err := c.h.recognizer.OpenStream(c.ctx, c.h.config.Recognition)
	if err != nil {
		c.log.Error("MediaStream", "Recognition unavailable", map[string]interface{}{"error": err.Error()})
		return
	}
	c.recognition = stream
	c.spawn(func() { c.recognize(stream) })
}

func (c *connection) recognize(stream stt.Stream) {
	transcripts := stream.Transcripts()
	errs := stream.Errors()
	for {
		select {
		case text, ok := <-transcripts:
			if !ok {
				return
			}
			if strings.TrimSpace(text) == "" {
				continue
			}
			c.spawn(func() { c.turn(text) })
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			c.fail(stream, err)
			return
		case <-c.ctx.Done():
			return
		}
	}
}

// fail tears recognition down. The session stays muted until the next
// start or playback mark reopens it.
func (c *connection) fail(stream stt.Stream, err error) {
	var te *apperr.TranscriptionError
	if !errors.As(err, &te) {
		err = &apperr.TranscriptionError{Err: err}
	}
	c.log.Error("MediaStream", "Recognition failed", map[string]interface{}{"error": err.Error()})

	c.mu.Lock()
	if c.recognition == stream {
		c.recognition = nil
	}
	c.mu.Unlock()
	_ = stream.Close()
}

func (c *connection) spawn(fn func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
}

func (c *connection) writeLoop(conn Conn, log logger.ILogger) {
	for {
		select {
		case msg := <-c.out:
			if err := conn.WriteJSON(msg); err != nil {
				log.Warn("MediaStream", "Write failed", map[string]interface{}{"error": err.Error()})
				c.cancel()
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *connection) send(msg OutboundMessage) bool {
	msg.StreamSid = c.streamSid
	select {
	case c.out <- msg:
		return true
	case <-c.ctx.Done():
		return false
	}
}

func (c *connection) record(speaker, text string) {
	entry := entity.TranscriptEntry{Speaker: speaker, Text: text, Timestamp: c.h.now()}
	c.mu.Lock()
	c.transcript = append(c.transcript, entry)
	c.mu.Unlock()
	c.h.journal.Record(c.ctx, c.callID, entry)
}

func (c *connection) shutdown() {
	c.cancel()

	c.mu.Lock()
	stream := c.recognition
	c.recognition = nil
	c.mu.Unlock()
	if stream != nil {
		_ = stream.Close()
	}

	c.wg.Wait()

	c.mu.Lock()
	transcript := append([]entity.TranscriptEntry(nil), c.transcript...)
	started := c.call != nil
	c.mu.Unlock()
	if !started {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.h.config.ConcludeTimeout)
	defer cancel()
	c.h.calls.ConcludeStream(ctx, c.callID, transcript)
}

// history renders the conversation so far as chat messages behind the
// system prompt.
func (c *connection) history() []llm.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	call := c.call
	if call == nil {
		call = &entity.CallSession{}
	}
	msgs := make([]llm.Message, 0, len(c.transcript)+1)
	msgs = append(msgs, llm.Message{
		Role:    "system",
		Content: fmt.Sprintf(constant.StreamingSystemPrompt, call.CallerName, call.Reason, call.ContactInfo, call.BusinessName),
	})
	for _, e := range c.transcript {
		role := "user"
		if e.Speaker == entity.SpeakerAgent {
			role = "assistant"
		}
		msgs = append(msgs, llm.Message{Role: role, Content: e.Text})
	}
	return msgs
}

// turn answers one finalized utterance.
func (c *connection) turn(utterance string) {
	c.record(entity.SpeakerCallee, utterance)
	epoch := c.session.Begin()

	ctx, span := otel.Tracer("media").Start(c.ctx, "media.turn")
	defer span.End()
	span.SetAttributes(attribute.Int64("epoch", int64(epoch)), attribute.String("call_id", c.callID.String()))

	r := c.newReply(epoch)
	acc := chunker.NewAccumulator(c.h.config.ChunkMinLength)
	var reply strings.Builder
	var genErr error

	for token, err := range c.h.llm.StreamChat(ctx, c.history()) {
		if err != nil {
			genErr = err
			break
		}
		if !c.session.Active(epoch) {
			// Superseded by a newer turn.
			break
		}
		reply.WriteString(token)
		for _, chunk := range acc.Push(token) {
			r.add(chunk)
		}
	}

	switch {
	case genErr != nil && strings.TrimSpace(reply.String()) == "":
		c.log.Error("MediaStream", "Generation failed", map[string]interface{}{"epoch": epoch, "error": genErr.Error()})
		span.RecordError(genErr)
		r.add(dialog.LineGenerationApology)
		c.record(entity.SpeakerAgent, dialog.LineGenerationApology)
	case genErr != nil:
		c.log.Error("MediaStream", "Generation interrupted", map[string]interface{}{"epoch": epoch, "error": genErr.Error()})
		span.RecordError(genErr)
		r.abort(genErr)
	case !c.session.Active(epoch):
		// Superseded; nothing more of this reply is played or recorded.
	default:
		if rest := acc.Flush(); rest != "" {
			r.add(rest)
		}
		if text := strings.TrimSpace(reply.String()); text != "" {
			c.record(entity.SpeakerAgent, text)
		}
	}
	r.close()
}

// speak plays fixed text as its own epoch.
func (c *connection) speak(text string) {
	epoch := c.session.Begin()
	c.record(entity.SpeakerAgent, text)

	r := c.newReply(epoch)
	r.add(text)
	r.close()
}
