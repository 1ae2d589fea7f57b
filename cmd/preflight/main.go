package main

import (
	"errors"
	"os"

	"ai-booking-caller-be/internal/config"
	"ai-booking-caller-be/pkg/apperr"
	"ai-booking-caller-be/pkg/preflight"
	"ai-booking-caller-be/pkg/transcode"

	"github.com/fatih/color"
)

// Reports which dialog flow the service would use with the current
// environment. Exits non-zero when the streaming pipeline is unavailable.
func main() {
	cfg := config.Load()

	caps := preflight.Detect(preflight.Settings{
		RecognitionAPIKey: cfg.Speech.DeepgramAPIKey,
		SynthesisAPIKey:   cfg.Speech.ElevenLabsAPIKey,
		SynthesisFormat:   cfg.Speech.ElevenLabsFormat,
		StreamingDisabled: cfg.Speech.DisableStreaming,
	})

	color.Cyan("🔎 Call pipeline preflight\n")

	report("Speech recognition (DEEPGRAM_API_KEY)", caps.Recognition)
	report("Speech synthesis (ELEVENLABS_API_KEY)", caps.Synthesis)
	report("Transcoding from "+cfg.Speech.ElevenLabsFormat, caps.Transcoding)
	report("Telephony credentials (TWILIO_*)", cfg.Telephony.AccountSid != "" && cfg.Telephony.AuthToken != "" && cfg.Telephony.FromNumber != "")

	if cfg.Speech.DisableStreaming {
		color.Yellow("\nStreaming disabled by DISABLE_STREAMING")
	} else if _, err := transcode.ParseFormat(cfg.Speech.ElevenLabsFormat); err != nil {
		color.Yellow("\n%v (use mp3_*, pcm_* or ulaw_8000)", err)
	}

	err := preflight.Check(caps)
	if err == nil {
		color.Green("\nMode: %s", preflight.Mode(caps))
		return
	}

	var ce *apperr.ConfigurationError
	if errors.As(err, &ce) {
		color.Red("\nMode: %s (missing: %v)", preflight.Mode(caps), ce.Missing)
	} else {
		color.Red("\nMode: %s (%v)", preflight.Mode(caps), err)
	}
	os.Exit(1)
}

func report(label string, ok bool) {
	if ok {
		color.Green("  ✓ %s", label)
		return
	}
	color.Red("  ✗ %s", label)
}
