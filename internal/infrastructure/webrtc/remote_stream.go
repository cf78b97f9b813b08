package webrtc

import (
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"

	"vigia/internal/core/domain"
)

// RemoteStream is the received side of a peer link: the remote tracks plus
// the pumps reading their RTP. A render sink attaches a packet handler to
// consume the media; packets arriving before a handler is set are dropped.
type RemoteStream struct {
	id string

	mu      sync.Mutex
	handler func(kind string, pkt *rtp.Packet)
	tracks  int
	stopped bool
	ended   bool
	onEnded []func()
	done    chan struct{}
}

func NewRemoteStream(id string) *RemoteStream {
	return &RemoteStream{id: id, done: make(chan struct{})}
}

func (s *RemoteStream) ID() string { return s.id }

func (s *RemoteStream) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.stopped && !s.ended
}

// Stop ends consumption locally. It does not fire OnEnded; that is reserved
// for the stream ending on its own.
func (s *RemoteStream) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.done)
	s.mu.Unlock()
}

func (s *RemoteStream) OnEnded(fn func()) {
	s.mu.Lock()
	if s.ended && !s.stopped {
		s.mu.Unlock()
		fn()
		return
	}
	s.onEnded = append(s.onEnded, fn)
	s.mu.Unlock()
}

// HandleRTP registers the consumer for every track's packets.
func (s *RemoteStream) HandleRTP(fn func(kind string, pkt *rtp.Packet)) {
	s.mu.Lock()
	s.handler = fn
	s.mu.Unlock()
}

func (s *RemoteStream) addTrack(track *webrtc.TrackRemote) {
	s.mu.Lock()
	s.tracks++
	s.mu.Unlock()
	go s.pump(track)
}

func (s *RemoteStream) pump(track *webrtc.TrackRemote) {
	kind := track.Kind().String()
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			s.trackDone()
			return
		}

		s.mu.Lock()
		handler := s.handler
		stopped := s.stopped
		s.mu.Unlock()
		if stopped {
			return
		}
		if handler != nil {
			handler(kind, pkt)
		}
	}
}

// trackDone marks one pump finished. When the last track drains the stream
// has ended remotely.
func (s *RemoteStream) trackDone() {
	s.mu.Lock()
	s.tracks--
	last := s.tracks <= 0
	s.mu.Unlock()
	if last {
		s.end()
	}
}

// end marks the stream ended and fires OnEnded callbacks unless the end was
// an explicit local Stop.
func (s *RemoteStream) end() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	fns := s.onEnded
	s.onEnded = nil
	natural := !s.stopped
	s.mu.Unlock()

	if natural {
		for _, fn := range fns {
			fn()
		}
	}
}

var _ domain.MediaStream = (*RemoteStream)(nil)
