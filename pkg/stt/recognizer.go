// Package stt is the live speech recognition gateway.
package stt

import "context"

type Config struct {
	Encoding   string // "mulaw" for telephony frames
	SampleRate int
	Channels   int
	Language   string
	// EndpointingMs is the trailing silence that finalizes an utterance.
	EndpointingMs int
}

// TelephonyConfig matches inbound media frames: 8 kHz mono μ-law.
func TelephonyConfig() Config {
	return Config{Encoding: "mulaw", SampleRate: 8000, Channels: 1, Language: "en-US", EndpointingMs: 300}
}

// Stream is one open recognition session. Transcripts carries finalized
// utterances only. Both channels close when the stream ends.
type Stream interface {
	Write(frame []byte) error
	Transcripts() <-chan string
	Errors() <-chan error
	Close() error
}

type Recognizer interface {
	OpenStream(ctx context.Context, cfg Config) (Stream, error)
}
