// Package media runs the full-duplex streaming side of a call: inbound
// telephony audio goes to live recognition, replies are generated, chunked,
// synthesized and transcoded back onto the same socket.
package media

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// Session is the live state of one media socket. It is owned by the
// connection that created it and discarded when the socket closes.
//
// Every reply runs under an epoch. Starting a reply issues a new epoch and
// clears the active set, so output still in flight for older epochs is
// dropped when it arrives.
type Session struct {
	mu        sync.Mutex
	listening bool
	epoch     uint64
	active    map[uint64]struct{}

	// Playback bookkeeping for the current epoch.
	speaking bool
	pending  int
}

func NewSession() *Session {
	return &Session{active: make(map[uint64]struct{})}
}

// Begin moves the session to RESPONDING and returns the new epoch.
func (s *Session) Begin() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.epoch++
	clear(s.active)
	s.active[s.epoch] = struct{}{}
	s.listening = false
	s.speaking = true
	s.pending = 0
	return s.epoch
}

func (s *Session) Current() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

// Active reports whether output tagged with epoch may still be emitted.
func (s *Session) Active(epoch uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[epoch]
	return ok
}

// Emit runs enqueue only while epoch is active. The session stays locked
// until enqueue returns, so a concurrent Begin cannot let stale output out.
func (s *Session) Emit(epoch uint64, enqueue func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[epoch]; !ok {
		return false
	}
	enqueue()
	return true
}

func (s *Session) Drop(epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, epoch)
}

func (s *Session) Listening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listening
}

// MarkSent records an outbound playback mark. Marks of superseded epochs
// are not counted.
func (s *Session) MarkSent(epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch == s.epoch {
		s.pending++
	}
}

// Finish records that epoch has emitted all of its output. It returns true
// when the session went back to LISTENING.
func (s *Session) Finish(epoch uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch {
		return false
	}
	s.speaking = false
	return s.settle()
}

// Acknowledge handles a playback mark echoed by the provider. The session
// returns to LISTENING once the current epoch is done generating and every
// mark it sent has played. It returns true on that transition.
func (s *Session) Acknowledge(name string) bool {
	epoch, _, ok := ParseSegmentID(name)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !ok || epoch != s.epoch {
		return false
	}
	if s.pending > 0 {
		s.pending--
	}
	return s.settle()
}

func (s *Session) settle() bool {
	if s.listening || s.speaking || s.pending > 0 {
		return false
	}
	s.listening = true
	return true
}

// SegmentID names the n-th chunk of an epoch's reply.
func SegmentID(epoch uint64, n int) string {
	return fmt.Sprintf("%d-%d", epoch, n)
}

func ParseSegmentID(id string) (uint64, int, bool) {
	e, n, ok := strings.Cut(id, "-")
	if !ok {
		return 0, 0, false
	}
	epoch, err := strconv.ParseUint(e, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	seq, err := strconv.Atoi(n)
	if err != nil {
		return 0, 0, false
	}
	return epoch, seq, true
}
