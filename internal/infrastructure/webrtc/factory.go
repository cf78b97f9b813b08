package webrtc

import (
	"fmt"
	"time"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"vigia/internal/core/domain"
	"vigia/internal/core/ports"
)

const (
	defaultHandshakeTimeout = 30 * time.Second
	defaultPLIInterval      = 3 * time.Second
)

// TrackSource is implemented by local media streams that can feed a peer
// connection directly.
type TrackSource interface {
	RTPTracks() []webrtc.TrackLocal
}

// Config holds the peer connection parameters shared by every link.
type Config struct {
	ICEServers []webrtc.ICEServer
	// HandshakeTimeout bounds the created/signaling phase. A link that has
	// not connected when it fires moves to errored.
	HandshakeTimeout time.Duration
	// PLIInterval is how often received video tracks are asked for a
	// keyframe.
	PLIInterval time.Duration
}

// Factory builds peer links over pion. Trickle ICE is disabled: each side
// emits exactly one signal payload carrying the full local description after
// candidate gathering completes.
type Factory struct {
	config Config
	logger *zap.SugaredLogger
}

func NewFactory(config Config, logger *zap.SugaredLogger) *Factory {
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = defaultHandshakeTimeout
	}
	if config.PLIInterval <= 0 {
		config.PLIInterval = defaultPLIInterval
	}
	return &Factory{config: config, logger: logger}
}

func (f *Factory) NewLink(role domain.LinkRole, outgoing domain.MediaStream, cb ports.LinkCallbacks) (ports.PeerLink, error) {
	pc, err := f.createPeerConnection()
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	l := &link{
		role:        role,
		pc:          pc,
		cb:          cb,
		logger:      f.logger,
		pliInterval: f.config.PLIInterval,
		state:       domain.LinkCreated,
		done:        make(chan struct{}),
	}

	switch role {
	case domain.RoleInitiator:
		if outgoing == nil {
			_ = pc.Close()
			return nil, domain.ErrNoOutgoingStream
		}
		src, ok := outgoing.(TrackSource)
		if !ok {
			_ = pc.Close()
			return nil, fmt.Errorf("outgoing stream %T carries no local tracks", outgoing)
		}
		for _, track := range src.RTPTracks() {
			sender, err := pc.AddTrack(track)
			if err != nil {
				_ = pc.Close()
				return nil, fmt.Errorf("failed to add track: %w", err)
			}
			go drainRTCP(sender)
		}
	case domain.RoleResponder:
		for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeVideo, webrtc.RTPCodecTypeAudio} {
			_, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
				Direction: webrtc.RTPTransceiverDirectionRecvonly,
			})
			if err != nil {
				_ = pc.Close()
				return nil, fmt.Errorf("failed to add %s transceiver: %w", kind, err)
			}
		}
		pc.OnTrack(l.handleTrack)
	default:
		_ = pc.Close()
		return nil, fmt.Errorf("unknown link role %q", role)
	}

	pc.OnConnectionStateChange(l.handleConnectionState)

	l.timer = time.AfterFunc(f.config.HandshakeTimeout, l.handshakeExpired)

	if role == domain.RoleInitiator {
		go l.offer()
	}
	return l, nil
}

func (f *Factory) createPeerConnection() (*webrtc.PeerConnection, error) {
	return webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers:   f.config.ICEServers,
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlanWithFallback,
	})
}

// drainRTCP keeps the sender's RTCP read loop serviced so interceptors run.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

var _ ports.LinkFactory = (*Factory)(nil)
