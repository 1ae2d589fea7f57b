// Package transcode converts synthesized speech into the telephony line
// format while it streams: decode, down-mix to mono, resample to 8 kHz,
// μ-law compand and cut into 20 ms frames. Memory use does not grow with
// the length of the stream.
package transcode

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"ai-booking-caller-be/pkg/apperr"

	"github.com/hajimehoshi/go-mp3"
)

const readBufferSize = 4096

// Frame is one unit of transcoder output. A Frame carrying Err is always the
// last value before the channel closes.
type Frame struct {
	Payload []byte
	Err     error
}

type Transcoder struct {
	format Format
}

func New(format Format) *Transcoder {
	return &Transcoder{format: format}
}

// NewFromName builds a transcoder for a provider output format name.
func NewFromName(name string) (*Transcoder, error) {
	f, err := ParseFormat(name)
	if err != nil {
		return nil, err
	}
	return New(f), nil
}

// Stream starts converting src and returns the frame channel. The channel
// closes when src ends, when src fails (after a terminal error frame), or
// when ctx is cancelled. src is closed on exit if it implements io.Closer;
// cancellation also closes it so a blocked read is released.
func (t *Transcoder) Stream(ctx context.Context, src io.Reader) <-chan Frame {
	out := make(chan Frame, 8)

	var closeOnce sync.Once
	closeSrc := func() {
		closeOnce.Do(func() {
			if c, ok := src.(io.Closer); ok {
				_ = c.Close()
			}
		})
	}

	go func() {
		defer close(out)
		stop := context.AfterFunc(ctx, closeSrc)
		defer stop()
		defer closeSrc()

		emit := func(payload []byte) bool {
			select {
			case out <- Frame{Payload: payload}:
				return true
			case <-ctx.Done():
				return false
			}
		}

		err := t.run(src, emit)
		if err == nil || ctx.Err() != nil {
			return
		}
		select {
		case out <- Frame{Err: &apperr.TranscodeError{Err: err}}:
		case <-ctx.Done():
		}
	}()

	return out
}

var errStopped = errors.New("transcode: consumer stopped")

func (t *Transcoder) run(src io.Reader, emit func([]byte) bool) error {
	fr := newFramer(FrameBytes)

	if t.format.Codec == CodecMuLaw {
		return t.passthrough(src, fr, emit)
	}

	pcm := src
	rate := t.format.SampleRate
	channels := t.format.Channels

	if t.format.Codec == CodecMP3 {
		dec, err := mp3.NewDecoder(src)
		if err != nil {
			return fmt.Errorf("mp3 decoder: %w", err)
		}
		// go-mp3 always yields 16-bit little-endian stereo.
		pcm = dec
		rate = dec.SampleRate()
		channels = 2
	}
	if channels <= 0 {
		channels = 1
	}
	if rate <= 0 {
		return fmt.Errorf("invalid sample rate %d", rate)
	}

	rs := newResampler(rate, LineSampleRate)
	frameSize := 2 * channels
	buf := make([]byte, readBufferSize)
	carry := make([]byte, 0, frameSize)

	push := func(sample int16) bool {
		return fr.push(LinearToMuLaw(sample), emit)
	}

	for {
		n, err := pcm.Read(buf)
		data := buf[:n]

		// Finish a sample frame split across reads.
		for len(carry) > 0 && len(data) > 0 {
			carry = append(carry, data[0])
			data = data[1:]
			if len(carry) == frameSize {
				if !rs.push(downmix(carry, channels), push) {
					return errStopped
				}
				carry = carry[:0]
			}
		}

		whole := len(data) / frameSize * frameSize
		for i := 0; i < whole; i += frameSize {
			if !rs.push(downmix(data[i:i+frameSize], channels), push) {
				return errStopped
			}
		}
		carry = append(carry, data[whole:]...)

		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				// Truncated input ends the stream with what was decoded.
				if !fr.flush(emit) {
					return errStopped
				}
				return nil
			}
			return err
		}
	}
}

func (t *Transcoder) passthrough(src io.Reader, fr *framer, emit func([]byte) bool) error {
	buf := make([]byte, readBufferSize)
	for {
		n, err := src.Read(buf)
		for _, b := range buf[:n] {
			if !fr.push(b, emit) {
				return errStopped
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				if !fr.flush(emit) {
					return errStopped
				}
				return nil
			}
			return err
		}
	}
}

func downmix(frame []byte, channels int) int16 {
	var sum int32
	for c := 0; c < channels; c++ {
		sum += int32(int16(binary.LittleEndian.Uint16(frame[2*c:])))
	}
	return int16(sum / int32(channels))
}

// resampler converts sample rates with a box filter: every output sample is
// the mean of the input samples that fall in its window.
type resampler struct {
	step float64
	next float64
	pos  float64
	acc  float64
	n    int
	last int16
}

func newResampler(inRate, outRate int) *resampler {
	step := float64(inRate) / float64(outRate)
	return &resampler{step: step, next: step}
}

func (r *resampler) push(s int16, emit func(int16) bool) bool {
	r.acc += float64(s)
	r.n++
	r.pos++
	for r.pos >= r.next {
		v := r.last
		if r.n > 0 {
			v = int16(r.acc / float64(r.n))
		}
		if !emit(v) {
			return false
		}
		r.last = v
		r.acc = 0
		r.n = 0
		r.next += r.step
	}
	return true
}

type framer struct {
	size int
	buf  []byte
}

func newFramer(size int) *framer {
	return &framer{size: size, buf: make([]byte, 0, size)}
}

func (f *framer) push(b byte, emit func([]byte) bool) bool {
	f.buf = append(f.buf, b)
	if len(f.buf) < f.size {
		return true
	}
	frame := make([]byte, len(f.buf))
	copy(frame, f.buf)
	f.buf = f.buf[:0]
	return emit(frame)
}

func (f *framer) flush(emit func([]byte) bool) bool {
	if len(f.buf) == 0 {
		return true
	}
	frame := make([]byte, len(f.buf))
	copy(frame, f.buf)
	f.buf = f.buf[:0]
	return emit(frame)
}
