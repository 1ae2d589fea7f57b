package transcode

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	CodecMP3   = "mp3"
	CodecPCM   = "pcm"
	CodecMuLaw = "ulaw"
)

// Line format of the telephony media stream: mono, 8 kHz, μ-law, 20 ms frames.
const (
	LineSampleRate = 8000
	FrameBytes     = 160
)

// Format describes the encoded audio produced by the synthesis provider.
type Format struct {
	Codec      string
	SampleRate int
	Channels   int
}

// ParseFormat reads provider output format names such as "mp3_44100_128",
// "pcm_16000" or "ulaw_8000".
func ParseFormat(name string) (Format, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(name)), "_")
	if len(parts) < 2 {
		return Format{}, fmt.Errorf("unsupported audio format %q", name)
	}
	rate, err := strconv.Atoi(parts[1])
	if err != nil || rate <= 0 {
		return Format{}, fmt.Errorf("unsupported audio format %q: bad sample rate", name)
	}

	switch parts[0] {
	case CodecMP3:
		// Rate and channel count come from the decoded stream.
		return Format{Codec: CodecMP3, SampleRate: rate}, nil
	case CodecPCM:
		return Format{Codec: CodecPCM, SampleRate: rate, Channels: 1}, nil
	case CodecMuLaw:
		if rate != LineSampleRate {
			return Format{}, fmt.Errorf("unsupported audio format %q: ulaw must be 8000 Hz", name)
		}
		return Format{Codec: CodecMuLaw, SampleRate: rate, Channels: 1}, nil
	default:
		return Format{}, fmt.Errorf("unsupported audio format %q", name)
	}
}

// Supports reports whether the transcoder can convert the named format.
func Supports(name string) bool {
	_, err := ParseFormat(name)
	return err == nil
}
