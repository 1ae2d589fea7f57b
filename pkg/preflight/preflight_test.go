package preflight

import (
	"errors"
	"testing"

	"ai-booking-caller-be/pkg/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanStream(t *testing.T) {
	tests := []struct {
		name string
		caps Capabilities
		want bool
	}{
		{"all available", Capabilities{true, true, true}, true},
		{"no recognition", Capabilities{false, true, true}, false},
		{"no synthesis", Capabilities{true, false, true}, false},
		{"no transcoding", Capabilities{true, true, false}, false},
		{"nothing", Capabilities{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanStream(tt.caps))
			if tt.want {
				assert.NoError(t, Check(tt.caps))
				assert.Equal(t, "streaming", Mode(tt.caps))
			} else {
				assert.Error(t, Check(tt.caps))
				assert.Equal(t, "gather", Mode(tt.caps))
			}
		})
	}
}

func TestCheckNamesMissingCapabilities(t *testing.T) {
	err := Check(Capabilities{Synthesis: true})
	require.Error(t, err)

	var cfgErr *apperr.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, []string{CapabilityRecognition, CapabilityTranscoding}, cfgErr.Missing)
}

func TestDetect(t *testing.T) {
	full := Settings{RecognitionAPIKey: "dg", SynthesisAPIKey: "el", SynthesisFormat: "mp3_44100_128"}
	assert.Equal(t, Capabilities{true, true, true}, Detect(full))

	unsupported := full
	unsupported.SynthesisFormat = "opus_48000_64"
	assert.False(t, Detect(unsupported).Transcoding)

	noKeys := Settings{SynthesisFormat: "pcm_16000"}
	assert.Equal(t, Capabilities{Transcoding: true}, Detect(noKeys))

	disabled := full
	disabled.StreamingDisabled = true
	assert.False(t, CanStream(Detect(disabled)))
}
