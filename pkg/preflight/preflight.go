// Package preflight decides whether a call can use the streaming media path
// or must fall back to the prompt/gather dialog flow.
package preflight

import (
	"ai-booking-caller-be/pkg/apperr"
	"ai-booking-caller-be/pkg/transcode"
)

const (
	CapabilityRecognition = "recognition"
	CapabilitySynthesis   = "synthesis"
	CapabilityTranscoding = "transcoding"
)

type Capabilities struct {
	Recognition bool
	Synthesis   bool
	Transcoding bool
}

// CanStream is true only when every stage of the media pipeline is available.
func CanStream(c Capabilities) bool {
	return c.Recognition && c.Synthesis && c.Transcoding
}

// Check returns a ConfigurationError naming each missing capability.
func Check(c Capabilities) error {
	var missing []string
	if !c.Recognition {
		missing = append(missing, CapabilityRecognition)
	}
	if !c.Synthesis {
		missing = append(missing, CapabilitySynthesis)
	}
	if !c.Transcoding {
		missing = append(missing, CapabilityTranscoding)
	}
	if len(missing) == 0 {
		return nil
	}
	return &apperr.ConfigurationError{Missing: missing}
}

// Settings is the subset of configuration the preflight reads.
type Settings struct {
	RecognitionAPIKey string
	SynthesisAPIKey   string
	SynthesisFormat   string
	StreamingDisabled bool
}

// Detect derives capabilities from configuration. A disabled streaming flag
// reports nothing available so the fallback is chosen deterministically.
func Detect(s Settings) Capabilities {
	if s.StreamingDisabled {
		return Capabilities{}
	}
	return Capabilities{
		Recognition: s.RecognitionAPIKey != "",
		Synthesis:   s.SynthesisAPIKey != "",
		Transcoding: transcode.Supports(s.SynthesisFormat),
	}
}

// Mode names the dialog flow a call will use.
func Mode(c Capabilities) string {
	if CanStream(c) {
		return "streaming"
	}
	return "gather"
}
