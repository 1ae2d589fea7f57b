package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"ai-booking-caller-be/pkg/apperr"

	"github.com/gorilla/websocket"
)

const (
	DefaultDeepgramURL = "wss://api.deepgram.com/v1/listen"
	keepAliveInterval  = 5 * time.Second
)

type DeepgramRecognizer struct {
	APIKey  string
	Model   string
	BaseURL string
	Dialer  *websocket.Dialer
}

var _ Recognizer = &DeepgramRecognizer{}

func NewDeepgramRecognizer(apiKey, model string) *DeepgramRecognizer {
	if model == "" {
		model = "nova-2-phonecall"
	}
	return &DeepgramRecognizer{
		APIKey:  apiKey,
		Model:   model,
		BaseURL: DefaultDeepgramURL,
		Dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

type deepgramMessage struct {
	Type        string `json:"type"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`
	Channel     struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func (d *DeepgramRecognizer) OpenStream(ctx context.Context, cfg Config) (Stream, error) {
	endpoint, err := d.endpoint(cfg)
	if err != nil {
		return nil, &apperr.TranscriptionError{Err: err}
	}

	header := http.Header{}
	header.Set("Authorization", "Token "+d.APIKey)

	conn, resp, err := d.Dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("deepgram handshake: status %d: %w", resp.StatusCode, err)
		}
		return nil, &apperr.TranscriptionError{Err: err}
	}

	s := &deepgramStream{
		conn:        conn,
		transcripts: make(chan string, 16),
		errs:        make(chan error, 1),
		done:        make(chan struct{}),
	}
	go s.readLoop()
	go s.keepAlive()
	return s, nil
}

func (d *DeepgramRecognizer) endpoint(cfg Config) (string, error) {
	u, err := url.Parse(d.BaseURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("model", d.Model)
	q.Set("encoding", cfg.Encoding)
	q.Set("sample_rate", strconv.Itoa(cfg.SampleRate))
	q.Set("channels", strconv.Itoa(max(cfg.Channels, 1)))
	q.Set("interim_results", "true")
	q.Set("punctuate", "true")
	if cfg.Language != "" {
		q.Set("language", cfg.Language)
	}
	if cfg.EndpointingMs > 0 {
		q.Set("endpointing", strconv.Itoa(cfg.EndpointingMs))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type deepgramStream struct {
	conn        *websocket.Conn
	writeMu     sync.Mutex
	transcripts chan string
	errs        chan error
	done        chan struct{}
	closeOnce   sync.Once
}

func (s *deepgramStream) Transcripts() <-chan string { return s.transcripts }
func (s *deepgramStream) Errors() <-chan error        { return s.errs }

func (s *deepgramStream) Write(frame []byte) error {
	select {
	case <-s.done:
		return &apperr.TranscriptionError{Err: errors.New("stream closed")}
	default:
	}
	if err := s.write(websocket.BinaryMessage, frame); err != nil {
		return &apperr.TranscriptionError{Err: err}
	}
	return nil
}

// Close asks Deepgram to flush pending results, then drops the socket.
func (s *deepgramStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		_ = s.write(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
		close(s.done)
		err = s.conn.Close()
	})
	return err
}

func (s *deepgramStream) write(messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return s.conn.WriteMessage(messageType, data)
}

// keepAlive stops Deepgram closing the socket while inbound audio is muted.
func (s *deepgramStream) keepAlive() {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.write(websocket.TextMessage, []byte(`{"type":"KeepAlive"}`)); err != nil {
				return
			}
		}
	}
}

func (s *deepgramStream) readLoop() {
	defer close(s.errs)
	defer close(s.transcripts)

	var segments []string
	flush := func() bool {
		text := strings.TrimSpace(strings.Join(segments, " "))
		segments = segments[:0]
		if text == "" {
			return true
		}
		select {
		case s.transcripts <- text:
			return true
		case <-s.done:
			return false
		}
	}

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					s.errs <- &apperr.TranscriptionError{Err: err}
				}
			}
			return
		}

		var msg deepgramMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case "Results":
			if msg.IsFinal && len(msg.Channel.Alternatives) > 0 {
				if t := strings.TrimSpace(msg.Channel.Alternatives[0].Transcript); t != "" {
					segments = append(segments, t)
				}
			}
			if msg.SpeechFinal && !flush() {
				return
			}
		case "UtteranceEnd":
			if !flush() {
				return
			}
		}
	}
}
