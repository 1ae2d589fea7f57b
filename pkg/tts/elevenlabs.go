// Package tts is the streaming speech synthesis gateway.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"ai-booking-caller-be/pkg/apperr"
)

// Synthesizer returns encoded audio as it is produced. The caller closes the
// reader; closing early abandons the request.
type Synthesizer interface {
	StreamSynthesize(ctx context.Context, text string) (io.ReadCloser, error)
	// OutputFormat names the codec of the returned audio, e.g. "mp3_44100_128".
	OutputFormat() string
}

const DefaultElevenLabsURL = "https://api.elevenlabs.io"

type ElevenLabsSynthesizer struct {
	APIKey       string
	VoiceID      string
	ModelID      string
	Format       string
	BaseURL      string
	Client       *http.Client
	LatencyLevel int
}

var _ Synthesizer = &ElevenLabsSynthesizer{}

func NewElevenLabsSynthesizer(apiKey, voiceID, modelID, format string) *ElevenLabsSynthesizer {
	if modelID == "" {
		modelID = "eleven_turbo_v2_5"
	}
	if format == "" {
		format = "mp3_44100_128"
	}
	return &ElevenLabsSynthesizer{
		APIKey:       apiKey,
		VoiceID:      voiceID,
		ModelID:      modelID,
		Format:       format,
		BaseURL:      DefaultElevenLabsURL,
		LatencyLevel: 3,
		// No overall timeout: the body is streamed for as long as speech lasts.
		Client: &http.Client{Transport: &http.Transport{
			ResponseHeaderTimeout: 15 * time.Second,
		}},
	}
}

type elevenLabsRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id"`
}

func (e *ElevenLabsSynthesizer) OutputFormat() string { return e.Format }

func (e *ElevenLabsSynthesizer) StreamSynthesize(ctx context.Context, text string) (io.ReadCloser, error) {
	payloadBytes, err := json.Marshal(elevenLabsRequest{Text: text, ModelID: e.ModelID})
	if err != nil {
		return nil, &apperr.SynthesisError{Text: text, Err: fmt.Errorf("marshal request: %w", err)}
	}

	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s/stream?%s", e.BaseURL, url.PathEscape(e.VoiceID), url.Values{
		"output_format":              {e.Format},
		"optimize_streaming_latency": {fmt.Sprint(e.LatencyLevel)},
	}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payloadBytes))
	if err != nil {
		return nil, &apperr.SynthesisError{Text: text, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("xi-api-key", e.APIKey)

	resp, err := e.Client.Do(req)
	if err != nil {
		return nil, &apperr.SynthesisError{Text: text, Err: fmt.Errorf("elevenlabs request failed: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &apperr.SynthesisError{Text: text, Err: fmt.Errorf("elevenlabs error: status %d, body: %s", resp.StatusCode, string(body))}
	}
	return resp.Body, nil
}
