package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"strings"
	"sync"
	"testing"
	"time"

	"ai-booking-caller-be/internal/entity"
	"ai-booking-caller-be/internal/pkg/logger"
	"ai-booking-caller-be/pkg/apperr"
	"ai-booking-caller-be/pkg/dialog"
	"ai-booking-caller-be/pkg/llm"
	"ai-booking-caller-be/pkg/stt"
	"ai-booking-caller-be/pkg/transcode"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	in  chan []byte
	out chan OutboundMessage
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 16), out: make(chan OutboundMessage, 1024)}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	data, ok := <-f.in
	if !ok {
		return 0, nil, io.EOF
	}
	return 1, data, nil
}

func (f *fakeConn) WriteJSON(v interface{}) error {
	f.out <- v.(OutboundMessage)
	return nil
}

func (f *fakeConn) push(t *testing.T, msg InboundMessage) {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	f.in <- data
}

type fakeStream struct {
	transcripts chan string
	errs        chan error

	mu     sync.Mutex
	writes int
	closed bool
}

func (s *fakeStream) Write(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("stream closed")
	}
	s.writes++
	return nil
}

func (s *fakeStream) Transcripts() <-chan string { return s.transcripts }
func (s *fakeStream) Errors() <-chan error        { return s.errs }

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeStream) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

type fakeRecognizer struct {
	mu      sync.Mutex
	streams []*fakeStream
}

func (r *fakeRecognizer) OpenStream(ctx context.Context, cfg stt.Config) (stt.Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := &fakeStream{transcripts: make(chan string, 4), errs: make(chan error, 1)}
	r.streams = append(r.streams, s)
	return s, nil
}

func (r *fakeRecognizer) latest() *fakeStream {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.streams) == 0 {
		return nil
	}
	return r.streams[len(r.streams)-1]
}

type fakeLLM struct {
	replies [][]string
	errs    []error
	started chan struct{}

	mu    sync.Mutex
	calls [][]llm.Message
}

func (f *fakeLLM) Chat(ctx context.Context, history []llm.Message, options ...llm.Option) (string, error) {
	return "", nil
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string, options ...llm.Option) (string, error) {
	return "", nil
}

func (f *fakeLLM) StreamChat(ctx context.Context, history []llm.Message, options ...llm.Option) iter.Seq2[string, error] {
	f.mu.Lock()
	i := len(f.calls)
	f.calls = append(f.calls, history)
	f.mu.Unlock()
	if f.started != nil {
		f.started <- struct{}{}
	}

	return func(yield func(string, error) bool) {
		if i < len(f.errs) && f.errs[i] != nil {
			yield("", f.errs[i])
			return
		}
		if i >= len(f.replies) {
			return
		}
		for _, token := range f.replies[i] {
			if !yield(token, nil) {
				return
			}
		}
	}
}

func (f *fakeLLM) history(i int) []llm.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[i]
}

const greetingByte = 0x7F

type fakeSynth struct {
	audio map[string]byte
	fail  map[string]bool
	gate  map[string]chan struct{}
	delay map[string]time.Duration
}

func (f *fakeSynth) OutputFormat() string { return "ulaw_8000" }

func (f *fakeSynth) StreamSynthesize(ctx context.Context, text string) (io.ReadCloser, error) {
	if f.fail[text] {
		return nil, &apperr.SynthesisError{Text: text, Err: errors.New("voice unavailable")}
	}
	if g := f.gate[text]; g != nil {
		select {
		case <-g:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d := f.delay[text]; d > 0 {
		time.Sleep(d)
	}
	b, ok := f.audio[text]
	if !ok {
		b = greetingByte
	}
	return io.NopCloser(bytes.NewReader(bytes.Repeat([]byte{b}, transcode.FrameBytes))), nil
}

type fakeCalls struct {
	call      *entity.CallSession
	concluded chan []entity.TranscriptEntry

	mu       sync.Mutex
	attached int
}

func (f *fakeCalls) AttachStream(ctx context.Context, id uuid.UUID) (*entity.CallSession, error) {
	if id != f.call.Id {
		return nil, errors.New("not found")
	}
	f.mu.Lock()
	f.attached++
	f.mu.Unlock()
	return f.call, nil
}

func (f *fakeCalls) ConcludeStream(ctx context.Context, id uuid.UUID, transcript []entity.TranscriptEntry) {
	f.concluded <- transcript
}

type fakeJournal struct {
	mu      sync.Mutex
	entries []entity.TranscriptEntry
}

func (j *fakeJournal) Record(ctx context.Context, id uuid.UUID, entries ...entity.TranscriptEntry) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entries...)
}

type harness struct {
	conn       *fakeConn
	recognizer *fakeRecognizer
	llm        *fakeLLM
	calls      *fakeCalls
	journal    *fakeJournal
	done       chan struct{}
}

func startHarness(t *testing.T, provider *fakeLLM, synth *fakeSynth) *harness {
	t.Helper()
	call := &entity.CallSession{
		Id:           uuid.New(),
		BusinessName: "Bright Smiles Dental",
		CallerName:   "Alex Doe",
		Reason:       "a cleaning",
		State:        entity.CallStateGatheringTime,
	}
	h := &harness{
		conn:       newFakeConn(),
		recognizer: &fakeRecognizer{},
		llm:        provider,
		calls:      &fakeCalls{call: call, concluded: make(chan []entity.TranscriptEntry, 1)},
		journal:    &fakeJournal{},
		done:       make(chan struct{}),
	}

	handler, err := NewHandler(h.calls, h.journal, h.recognizer, provider, synth, Config{ChunkMinLength: 100}, logger.NewNopLogger())
	require.NoError(t, err)

	go func() {
		defer close(h.done)
		handler.Serve(context.Background(), call.Id, h.conn)
	}()

	h.conn.push(t, InboundMessage{Event: EventConnected})
	h.conn.push(t, InboundMessage{Event: EventStart, Start: &StartInfo{StreamSid: "MZ1", CustomParameters: map[string]string{"callId": call.Id.String()}}})
	return h
}

func (h *harness) next(t *testing.T) OutboundMessage {
	t.Helper()
	select {
	case msg := <-h.conn.out:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no outbound message")
		return OutboundMessage{}
	}
}

func (h *harness) expectMedia(t *testing.T, b byte) {
	t.Helper()
	msg := h.next(t)
	require.Equal(t, EventMedia, msg.Event)
	assert.Equal(t, "MZ1", msg.StreamSid)
	assert.Equal(t, b, payloadByte(t, msg))
}

func (h *harness) expectMark(t *testing.T, name string) {
	t.Helper()
	msg := h.next(t)
	require.Equal(t, EventMark, msg.Event)
	assert.Equal(t, name, msg.Mark.Name)
}

// listen acknowledges the greeting and waits until audio reaches recognition.
func (h *harness) listen(t *testing.T) *fakeStream {
	t.Helper()
	h.expectMedia(t, greetingByte)
	h.expectMark(t, SegmentID(1, 0))
	h.conn.push(t, InboundMessage{Event: EventMark, Mark: &MarkPayload{Name: SegmentID(1, 0)}})

	frame := InboundMessage{Event: EventMedia, Media: &MediaPayload{Payload: base64.StdEncoding.EncodeToString([]byte{0xFF, 0xFF})}}
	require.Eventually(t, func() bool {
		h.conn.push(t, frame)
		s := h.recognizer.latest()
		return s != nil && s.writeCount() > 0
	}, 2*time.Second, 20*time.Millisecond)
	return h.recognizer.latest()
}

func (h *harness) stop(t *testing.T) []entity.TranscriptEntry {
	t.Helper()
	h.conn.push(t, InboundMessage{Event: EventStop})
	select {
	case transcript := <-h.calls.concluded:
		<-h.done
		return transcript
	case <-time.After(2 * time.Second):
		t.Fatal("stream was not concluded")
		return nil
	}
}

func payloadByte(t *testing.T, msg OutboundMessage) byte {
	t.Helper()
	require.NotNil(t, msg.Media)
	data, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
	require.NoError(t, err)
	require.NotEmpty(t, data)
	return data[0]
}

func texts(entries []entity.TranscriptEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Speaker + ": " + e.Text
	}
	return out
}

func TestTurnEmitsChunksInOrder(t *testing.T) {
	provider := &fakeLLM{replies: [][]string{{"Tuesday at ten ", "works. ", "See you then."}}}
	synth := &fakeSynth{
		audio: map[string]byte{"Tuesday at ten works.": 0x11, "See you then.": 0x22},
		// The first chunk finishes synthesis last but must still play first.
		delay: map[string]time.Duration{"Tuesday at ten works.": 100 * time.Millisecond},
	}
	h := startHarness(t, provider, synth)

	stream := h.listen(t)
	stream.transcripts <- "Does Tuesday at ten work?"

	h.expectMedia(t, 0x11)
	h.expectMark(t, SegmentID(2, 0))
	h.expectMedia(t, 0x22)
	h.expectMark(t, SegmentID(2, 1))

	history := provider.history(0)
	require.Len(t, history, 3)
	assert.Equal(t, "system", history[0].Role)
	assert.Contains(t, history[0].Content, "Bright Smiles Dental")
	assert.Equal(t, llm.Message{Role: "assistant", Content: dialog.StreamGreeting(h.calls.call)}, history[1])
	assert.Equal(t, llm.Message{Role: "user", Content: "Does Tuesday at ten work?"}, history[2])

	transcript := h.stop(t)
	assert.Equal(t, []string{
		"agent: " + dialog.StreamGreeting(h.calls.call),
		"callee: Does Tuesday at ten work?",
		"agent: Tuesday at ten works. See you then.",
	}, texts(transcript))

	h.journal.mu.Lock()
	assert.Len(t, h.journal.entries, 3)
	h.journal.mu.Unlock()
}

func TestMediaIgnoredWhileResponding(t *testing.T) {
	provider := &fakeLLM{}
	h := startHarness(t, provider, &fakeSynth{})

	// Greeting is playing: frames are discarded.
	h.expectMedia(t, greetingByte)
	h.expectMark(t, SegmentID(1, 0))
	h.conn.push(t, InboundMessage{Event: EventMedia, Media: &MediaPayload{Payload: base64.StdEncoding.EncodeToString([]byte{0x01})}})
	h.conn.push(t, InboundMessage{Event: EventConnected})

	h.stop(t)

	stream := h.recognizer.latest()
	require.NotNil(t, stream)
	assert.Equal(t, 0, stream.writeCount())
}

func TestNewTurnCancelsPreviousEpoch(t *testing.T) {
	gate := make(chan struct{})
	provider := &fakeLLM{
		replies: [][]string{{"Old reply."}, {"New reply."}},
		started: make(chan struct{}, 4),
	}
	synth := &fakeSynth{
		audio: map[string]byte{"Old reply.": 0x11, "New reply.": 0x22},
		gate:  map[string]chan struct{}{"Old reply.": gate},
	}
	h := startHarness(t, provider, synth)

	stream := h.listen(t)
	stream.transcripts <- "first"
	<-provider.started
	stream.transcripts <- "second"
	<-provider.started

	h.expectMedia(t, 0x22)
	h.expectMark(t, SegmentID(3, 0))

	close(gate)
	h.stop(t)

	for {
		select {
		case msg := <-h.conn.out:
			if msg.Event == EventMark {
				assert.False(t, strings.HasPrefix(msg.Mark.Name, "2-"), "mark from cancelled epoch: %s", msg.Mark.Name)
			} else {
				assert.NotEqual(t, byte(0x11), payloadByte(t, msg))
			}
		default:
			return
		}
	}
}

func TestGenerationFailureSpeaksApology(t *testing.T) {
	provider := &fakeLLM{errs: []error{errors.New("model overloaded")}}
	synth := &fakeSynth{audio: map[string]byte{dialog.LineGenerationApology: 0x33}}
	h := startHarness(t, provider, synth)

	stream := h.listen(t)
	stream.transcripts <- "Hello?"

	h.expectMedia(t, 0x33)
	h.expectMark(t, SegmentID(2, 0))

	transcript := h.stop(t)
	require.Len(t, transcript, 3)
	assert.Equal(t, dialog.LineGenerationApology, transcript[2].Text)
}

func TestSynthesisFailureStillMarks(t *testing.T) {
	provider := &fakeLLM{replies: [][]string{{"Broken. ", "Never heard."}}}
	synth := &fakeSynth{fail: map[string]bool{"Broken.": true}}
	h := startHarness(t, provider, synth)

	stream := h.listen(t)
	stream.transcripts <- "Hello?"

	// The failed segment drops the epoch; only its mark goes out.
	h.expectMark(t, SegmentID(2, 0))
	h.conn.push(t, InboundMessage{Event: EventMark, Mark: &MarkPayload{Name: SegmentID(2, 0)}})

	h.stop(t)
	select {
	case msg := <-h.conn.out:
		t.Fatalf("unexpected outbound %s after dropped epoch", msg.Event)
	default:
	}
}

func TestRecognitionErrorMutesUntilMark(t *testing.T) {
	provider := &fakeLLM{replies: [][]string{{"Okay."}}}
	h := startHarness(t, provider, &fakeSynth{audio: map[string]byte{"Okay.": 0x44}})

	first := h.listen(t)
	first.errs <- errors.New("socket dropped")

	require.Eventually(t, func() bool {
		first.mu.Lock()
		defer first.mu.Unlock()
		return first.closed
	}, 2*time.Second, 10*time.Millisecond)

	// A playback mark of the current epoch reopens recognition.
	h.conn.push(t, InboundMessage{Event: EventMark, Mark: &MarkPayload{Name: SegmentID(1, 0)}})
	require.Eventually(t, func() bool {
		return h.recognizer.latest() != first
	}, 2*time.Second, 10*time.Millisecond)

	h.stop(t)
}

func TestRepeatedStartOnlyReopensRecognition(t *testing.T) {
	provider := &fakeLLM{}
	h := startHarness(t, provider, &fakeSynth{})

	first := h.listen(t)
	first.errs <- errors.New("socket dropped")
	require.Eventually(t, func() bool {
		first.mu.Lock()
		defer first.mu.Unlock()
		return first.closed
	}, 2*time.Second, 10*time.Millisecond)

	h.conn.push(t, InboundMessage{Event: EventStart, Start: &StartInfo{StreamSid: "MZ2"}})
	require.Eventually(t, func() bool {
		return h.recognizer.latest() != first
	}, 2*time.Second, 10*time.Millisecond)

	h.stop(t)

	select {
	case msg := <-h.conn.out:
		t.Fatalf("unexpected outbound %s after repeated start", msg.Event)
	default:
	}
	h.calls.mu.Lock()
	assert.Equal(t, 1, h.calls.attached)
	h.calls.mu.Unlock()
}
