package webrtc

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"vigia/internal/core/domain"
	"vigia/internal/core/ports"

	apperrors "vigia/pkg/errors"
)

// link is one peer connection attempt. States move created -> signaling ->
// connected -> closed, with errored reachable from any non-terminal state.
// There is no retry inside a link; a failed attempt is discarded by its owner.
type link struct {
	role        domain.LinkRole
	pc          *webrtc.PeerConnection
	cb          ports.LinkCallbacks
	logger      *zap.SugaredLogger
	pliInterval time.Duration

	mu     sync.Mutex
	state  domain.LinkState
	timer  *time.Timer
	remote *RemoteStream
	done   chan struct{}

	closeOnce sync.Once
	doneOnce  sync.Once
}

func (l *link) finish() {
	l.doneOnce.Do(func() { close(l.done) })
}

func (l *link) Role() domain.LinkRole { return l.role }

func (l *link) State() domain.LinkState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Signal injects the remote description. For the initiator that is the
// answer; for the responder the offer, which also triggers building and
// emitting the local answer.
func (l *link) Signal(payload []byte) error {
	l.mu.Lock()
	if l.state.Terminal() {
		l.mu.Unlock()
		return domain.ErrLinkClosed
	}
	if l.state == domain.LinkCreated {
		l.state = domain.LinkSignaling
	}
	l.mu.Unlock()

	var desc webrtc.SessionDescription
	if err := json.Unmarshal(payload, &desc); err != nil {
		return apperrors.NewSignalInjectionError(fmt.Errorf("malformed session description: %w", err))
	}

	if err := l.pc.SetRemoteDescription(desc); err != nil {
		return apperrors.NewSignalInjectionError(err)
	}

	if l.role == domain.RoleResponder && desc.Type == webrtc.SDPTypeOffer {
		go l.answer()
	}
	return nil
}

func (l *link) Close() error {
	l.closeOnce.Do(func() {
		l.timer.Stop()
		changed := l.transition(domain.LinkClosed)
		l.finish()
		if err := l.pc.Close(); err != nil {
			l.logger.Debugw("peer connection close", "error", err)
		}
		l.endRemote()
		if changed && l.cb.OnClose != nil {
			l.cb.OnClose()
		}
	})
	return nil
}

// offer runs the initiator's half of the non-trickle exchange: local offer,
// full candidate gathering, then the single signal emission.
func (l *link) offer() {
	if !l.transition(domain.LinkSignaling) {
		return
	}

	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		l.fail(fmt.Errorf("failed to create offer: %w", err))
		return
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		l.fail(fmt.Errorf("failed to set local description: %w", err))
		return
	}

	select {
	case <-webrtc.GatheringCompletePromise(l.pc):
	case <-l.done:
		return
	}

	l.emitLocalDescription()
}

// answer runs the responder's half after the offer has been injected.
func (l *link) answer() {
	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		l.fail(fmt.Errorf("failed to create answer: %w", err))
		return
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		l.fail(fmt.Errorf("failed to set local description: %w", err))
		return
	}

	select {
	case <-webrtc.GatheringCompletePromise(l.pc):
	case <-l.done:
		return
	}

	l.emitLocalDescription()
}

func (l *link) emitLocalDescription() {
	l.mu.Lock()
	terminal := l.state.Terminal()
	l.mu.Unlock()
	if terminal {
		return
	}

	desc := l.pc.LocalDescription()
	if desc == nil {
		l.fail(fmt.Errorf("no local description after gathering"))
		return
	}
	payload, err := json.Marshal(desc)
	if err != nil {
		l.fail(fmt.Errorf("failed to marshal local description: %w", err))
		return
	}
	if l.cb.OnSignal != nil {
		l.cb.OnSignal(payload)
	}
}

func (l *link) handleConnectionState(state webrtc.PeerConnectionState) {
	l.logger.Debugw("peer connection state", "role", l.role, "state", state.String())

	switch state {
	case webrtc.PeerConnectionStateConnected:
		l.timer.Stop()
		if l.transition(domain.LinkConnected) && l.cb.OnConnect != nil {
			l.cb.OnConnect()
		}
	case webrtc.PeerConnectionStateFailed:
		l.fail(apperrors.NewTransportError(fmt.Errorf("peer connection failed")))
	case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateClosed:
		if l.transition(domain.LinkClosed) {
			l.finish()
			l.endRemote()
			if l.cb.OnClose != nil {
				l.cb.OnClose()
			}
		}
	}
}

func (l *link) handleTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	l.mu.Lock()
	first := l.remote == nil
	if first {
		l.remote = NewRemoteStream(track.StreamID())
	}
	remote := l.remote
	l.mu.Unlock()

	remote.addTrack(track)

	if track.Kind() == webrtc.RTPCodecTypeVideo {
		go l.requestKeyframes(track)
	}

	l.logger.Infow("remote track arrived", "kind", track.Kind().String(), "stream", remote.ID())
	if first && l.cb.OnStream != nil {
		l.cb.OnStream(remote)
	}
}

// requestKeyframes asks the sender for a fresh keyframe periodically so a
// viewer joining mid-stream gets a decodable picture.
func (l *link) requestKeyframes(track *webrtc.TrackRemote) {
	ticker := time.NewTicker(l.pliInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			err := l.pc.WriteRTCP([]rtcp.Packet{
				&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())},
			})
			if err != nil {
				return
			}
		case <-l.done:
			return
		}
	}
}

func (l *link) handshakeExpired() {
	l.mu.Lock()
	stuck := l.state == domain.LinkCreated || l.state == domain.LinkSignaling
	l.mu.Unlock()
	if stuck {
		l.fail(fmt.Errorf("handshake did not complete in time"))
	}
}

func (l *link) fail(err error) {
	l.timer.Stop()
	if !l.transition(domain.LinkErrored) {
		return
	}
	l.finish()
	l.logger.Warnw("peer link errored", "role", l.role, "error", err)
	if err := l.pc.Close(); err != nil {
		l.logger.Debugw("peer connection close", "error", err)
	}
	l.endRemote()
	if l.cb.OnError != nil {
		l.cb.OnError(err)
	}
}

// transition moves to the target state and reports whether anything changed.
// Terminal states are sticky.
func (l *link) transition(to domain.LinkState) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.Terminal() || l.state == to {
		return false
	}
	if l.state == domain.LinkConnected && to == domain.LinkSignaling {
		return false
	}
	l.state = to
	return true
}

func (l *link) endRemote() {
	l.mu.Lock()
	remote := l.remote
	l.mu.Unlock()
	if remote != nil {
		remote.end()
	}
}

var _ ports.PeerLink = (*link)(nil)
