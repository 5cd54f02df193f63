package status

import "sync"

// Stream fans snapshots out to subscribers and remembers the latest one.
// Slow subscribers miss snapshots rather than block the reporter.
type Stream struct {
	mu     sync.Mutex
	closed bool
	subs   map[chan Snapshot]struct{}
	latest *Snapshot
}

// NewStream constructs an open Stream.
func NewStream() *Stream {
	return &Stream{subs: make(map[chan Snapshot]struct{})}
}

// Subscribe registers a subscriber. The latest snapshot, if any, is delivered
// first. The returned release function unsubscribes and closes the channel.
// ok is false once the stream is closed.
func (s *Stream) Subscribe(buffer int) (<-chan Snapshot, func(), bool) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan Snapshot, buffer)

	s.mu.Lock()
	if s.closed {
		close(ch)
		s.mu.Unlock()
		return ch, func() {}, false
	}
	if s.latest != nil {
		ch <- *s.latest
	}
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	release := func() {
		s.mu.Lock()
		if s.subs != nil {
			if _, ok := s.subs[ch]; ok {
				delete(s.subs, ch)
				close(ch)
			}
		}
		s.mu.Unlock()
	}
	return ch, release, true
}

// Publish implements Publisher.
func (s *Stream) Publish(snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.latest = &snap
	for ch := range s.subs {
		select {
		case ch <- snap:
		default:
		}
	}
	return nil
}

// Latest returns the most recently published snapshot.
func (s *Stream) Latest() (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		return Snapshot{}, false
	}
	return *s.latest, true
}

// Close closes every subscriber channel. Later publishes are dropped.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for ch := range s.subs {
		close(ch)
	}
	s.subs = nil
}
