package media

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"vigia/internal/core/domain"
	"vigia/internal/core/ports"

	apperrors "vigia/pkg/errors"
)

const defaultMTU = 1500

// CaptureConfig locates the local RTP feeds standing in for a display
// capture. An external encoder (ffmpeg, wf-recorder, ...) pushes H264 and
// Opus RTP to these addresses.
type CaptureConfig struct {
	VideoAddress string
	AudioAddress string
	// IdleTimeout with no packets on any feed counts as the capture ending
	// natively, firing the stream's OnEnded callbacks.
	IdleTimeout time.Duration
	MTU         int
}

// Capture acquires outgoing media by ingesting RTP from UDP sockets.
type Capture struct {
	config CaptureConfig
	logger *zap.SugaredLogger
}

func NewCapture(config CaptureConfig, logger *zap.SugaredLogger) *Capture {
	if config.MTU <= 0 {
		config.MTU = defaultMTU
	}
	return &Capture{config: config, logger: logger}
}

// Capture opens the ingest sockets and starts pumping packets into local
// tracks. Failures map to the capture taxonomy: refused socket access is
// denied, an unusable configuration is unsupported, the rest is other.
func (c *Capture) Capture(ctx context.Context, constraints ports.CaptureConstraints) (domain.MediaStream, error) {
	if c.config.VideoAddress == "" {
		return nil, apperrors.NewCaptureUnsupportedError(errors.New("no video ingest address configured"))
	}
	if constraints.Audio && c.config.AudioAddress == "" {
		return nil, apperrors.NewCaptureUnsupportedError(errors.New("audio requested without an audio ingest address"))
	}

	stream := &CaptureStream{
		id:   uuid.NewString(),
		done: make(chan struct{}),
		last: time.Now(),
	}

	videoTrack, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264},
		"video", "vigia-"+stream.id,
	)
	if err != nil {
		return nil, apperrors.NewCaptureOtherError(err)
	}
	if err := stream.addFeed(c.config.VideoAddress, videoTrack, c.config.MTU); err != nil {
		stream.Stop()
		return nil, err
	}

	if constraints.Audio {
		audioTrack, err := webrtc.NewTrackLocalStaticRTP(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
			"audio", "vigia-"+stream.id,
		)
		if err != nil {
			stream.Stop()
			return nil, apperrors.NewCaptureOtherError(err)
		}
		if err := stream.addFeed(c.config.AudioAddress, audioTrack, c.config.MTU); err != nil {
			stream.Stop()
			return nil, err
		}
	}

	c.logger.Infow("capture started",
		"stream", stream.id,
		"video", c.config.VideoAddress,
		"audio", constraints.Audio,
		"target", fmt.Sprintf("%dx%d@%d", constraints.Width, constraints.Height, constraints.FrameRate),
	)

	if c.config.IdleTimeout > 0 {
		go stream.watchdog(c.config.IdleTimeout)
	}
	return stream, nil
}

// CaptureStream is a local media stream fed by UDP RTP ingest.
type CaptureStream struct {
	id     string
	tracks []webrtc.TrackLocal
	conns  []*net.UDPConn

	mu      sync.Mutex
	last    time.Time
	stopped bool
	ended   bool
	onEnded []func()
	done    chan struct{}
}

func (s *CaptureStream) ID() string { return s.id }

func (s *CaptureStream) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.stopped && !s.ended
}

// Stop closes the ingest sockets. Idempotent; does not fire OnEnded.
func (s *CaptureStream) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	conns := s.conns
	close(s.done)
	s.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
}

func (s *CaptureStream) OnEnded(fn func()) {
	s.mu.Lock()
	if s.ended && !s.stopped {
		s.mu.Unlock()
		fn()
		return
	}
	s.onEnded = append(s.onEnded, fn)
	s.mu.Unlock()
}

// RTPTracks exposes the local tracks for attachment to a peer connection.
func (s *CaptureStream) RTPTracks() []webrtc.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]webrtc.TrackLocal(nil), s.tracks...)
}

func (s *CaptureStream) addFeed(addr string, track *webrtc.TrackLocalStaticRTP, mtu int) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return apperrors.NewCaptureUnsupportedError(fmt.Errorf("bad ingest address %q: %w", addr, err))
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			return apperrors.NewCaptureDeniedError(err)
		}
		return apperrors.NewCaptureOtherError(err)
	}

	s.mu.Lock()
	s.tracks = append(s.tracks, track)
	s.conns = append(s.conns, conn)
	s.mu.Unlock()

	go s.pump(conn, track, mtu)
	return nil
}

func (s *CaptureStream) pump(conn *net.UDPConn, track *webrtc.TrackLocalStaticRTP, mtu int) {
	buf := make([]byte, mtu)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))

		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				select {
				case <-s.done:
					return
				default:
					continue
				}
			}
			return
		}

		var pkt rtp.Packet
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			// Not RTP, skip.
			continue
		}

		s.mu.Lock()
		s.last = time.Now()
		s.mu.Unlock()

		if err := track.WriteRTP(&pkt); err != nil {
			return
		}
	}
}

// watchdog ends the stream when the encoder goes quiet, mirroring a user
// stopping the capture at the source.
func (s *CaptureStream) watchdog(idle time.Duration) {
	ticker := time.NewTicker(idle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			quiet := time.Since(s.last) > idle
			s.mu.Unlock()
			if quiet {
				s.endNatively()
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *CaptureStream) endNatively() {
	s.mu.Lock()
	if s.ended || s.stopped {
		s.mu.Unlock()
		return
	}
	s.ended = true
	fns := s.onEnded
	s.onEnded = nil
	conns := s.conns
	s.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
	for _, fn := range fns {
		fn()
	}
}

var (
	_ ports.ScreenCapture = (*Capture)(nil)
	_ domain.MediaStream  = (*CaptureStream)(nil)
)
