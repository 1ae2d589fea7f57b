package media

import (
	"encoding/base64"
	"sync"

	"ai-booking-caller-be/pkg/transcode"

	"go.opentelemetry.io/otel"
)

type segment struct {
	id     string
	frames chan transcode.Frame
}

// reply is the output of one epoch. Chunks are synthesized concurrently as
// they are added; a single emitter plays them back in the order added.
type reply struct {
	c     *connection
	epoch uint64
	n     int

	mu     sync.Mutex
	queue  []*segment
	closed bool
	wake   chan struct{}
}

func (c *connection) newReply(epoch uint64) *reply {
	r := &reply{c: c, epoch: epoch, wake: make(chan struct{}, 1)}
	c.spawn(r.emit)
	return r
}

func (r *reply) add(text string) {
	seg := &segment{id: SegmentID(r.epoch, r.n), frames: make(chan transcode.Frame, 16)}
	r.n++
	r.c.spawn(func() { r.c.synthesize(seg, text) })
	r.push(seg)
}

// abort queues a failed segment so the emitter drops the epoch and still
// sends a closing mark.
func (r *reply) abort(err error) {
	seg := &segment{id: SegmentID(r.epoch, r.n), frames: make(chan transcode.Frame, 1)}
	r.n++
	seg.frames <- transcode.Frame{Err: err}
	close(seg.frames)
	r.push(seg)
}

func (r *reply) close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.signal()
}

func (r *reply) push(seg *segment) {
	r.mu.Lock()
	r.queue = append(r.queue, seg)
	r.mu.Unlock()
	r.signal()
}

func (r *reply) signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *reply) next() (*segment, bool) {
	for {
		r.mu.Lock()
		if len(r.queue) > 0 {
			seg := r.queue[0]
			r.queue = r.queue[1:]
			r.mu.Unlock()
			return seg, true
		}
		closed := r.closed
		r.mu.Unlock()
		if closed {
			return nil, false
		}

		select {
		case <-r.wake:
		case <-r.c.ctx.Done():
			return nil, false
		}
	}
}

func (r *reply) emit() {
	c := r.c
	marked := false

	for {
		seg, ok := r.next()
		if !ok {
			break
		}

		failed := false
		for f := range seg.frames {
			if f.Err != nil {
				failed = true
				c.session.Drop(r.epoch)
				c.log.Error("MediaStream", "Segment dropped", map[string]interface{}{
					"segment": seg.id, "error": f.Err.Error(),
				})
				continue
			}
			msg := OutboundMessage{
				Event: EventMedia,
				Media: &MediaPayload{Payload: base64.StdEncoding.EncodeToString(f.Payload)},
			}
			c.session.Emit(r.epoch, func() { c.send(msg) })
		}

		switch {
		case c.session.Active(r.epoch):
			c.mark(r.epoch, seg.id)
		case failed && !marked && c.session.Current() == r.epoch:
			// One best-effort mark so the session does not stall.
			marked = true
			c.mark(r.epoch, seg.id)
		}
	}

	if c.session.Finish(r.epoch) {
		c.ensureRecognition()
	}
}

func (c *connection) mark(epoch uint64, id string) {
	c.session.MarkSent(epoch)
	c.send(OutboundMessage{Event: EventMark, Mark: &MarkPayload{Name: id}})
}

func (c *connection) synthesize(seg *segment, text string) {
	defer close(seg.frames)

	ctx, span := otel.Tracer("media").Start(c.ctx, "media.synthesize")
	defer span.End()

	deliver := func(f transcode.Frame) bool {
		select {
		case seg.frames <- f:
			return true
		case <-ctx.Done():
			return false
		}
	}

	rc, err := c.h.synthesizer.StreamSynthesize(ctx, text)
	if err != nil {
		span.RecordError(err)
		deliver(transcode.Frame{Err: err})
		return
	}
	for f := range c.h.transcoder.Stream(ctx, rc) {
		if !deliver(f) {
			return
		}
	}
}
