package media

import (
	"fmt"
	"net"
	"sync"

	"github.com/pion/rtp"
	"go.uber.org/zap"

	"vigia/internal/core/domain"
	"vigia/internal/core/ports"
	"vigia/pkg/optimize"
)

// RTPSource is implemented by received media streams that can hand their
// packets to a consumer.
type RTPSource interface {
	HandleRTP(fn func(kind string, pkt *rtp.Packet))
}

// UDPSink renders received streams by forwarding their RTP to local UDP
// targets, where a player (ffplay, gst-launch, ...) picks them up.
type UDPSink struct {
	videoConn *net.UDPConn
	audioConn *net.UDPConn
	buffers   *optimize.BytePool
	logger    *zap.SugaredLogger

	mu     sync.Mutex
	active map[domain.StreamID]RTPSource
}

func NewUDPSink(videoAddress, audioAddress string, logger *zap.SugaredLogger) (*UDPSink, error) {
	s := &UDPSink{
		buffers: optimize.NewBytePool(defaultMTU),
		logger:  logger,
		active:  make(map[domain.StreamID]RTPSource),
	}

	var err error
	if s.videoConn, err = dialUDP(videoAddress); err != nil {
		return nil, fmt.Errorf("failed to dial video target: %w", err)
	}
	if audioAddress != "" {
		if s.audioConn, err = dialUDP(audioAddress); err != nil {
			_ = s.videoConn.Close()
			return nil, fmt.Errorf("failed to dial audio target: %w", err)
		}
	}
	return s, nil
}

// Render starts forwarding the stream's packets. A nil stream clears the
// slot and drops subsequent packets for it.
func (s *UDPSink) Render(id domain.StreamID, stream domain.MediaStream) error {
	if stream == nil {
		s.mu.Lock()
		src, ok := s.active[id]
		delete(s.active, id)
		s.mu.Unlock()
		if ok {
			src.HandleRTP(nil)
		}
		return nil
	}

	src, ok := stream.(RTPSource)
	if !ok {
		return fmt.Errorf("stream %T carries no RTP packets", stream)
	}

	s.mu.Lock()
	s.active[id] = src
	s.mu.Unlock()

	src.HandleRTP(func(kind string, pkt *rtp.Packet) {
		s.forward(kind, pkt)
	})
	s.logger.Infow("rendering stream", "stream", id)
	return nil
}

func (s *UDPSink) forward(kind string, pkt *rtp.Packet) {
	conn := s.videoConn
	if kind == "audio" {
		conn = s.audioConn
	}
	if conn == nil {
		return
	}

	buf := s.buffers.Get()
	defer s.buffers.Put(buf)

	n, err := pkt.MarshalTo(buf)
	if err != nil {
		return
	}
	if _, err := conn.Write(buf[:n]); err != nil {
		s.logger.Debugw("failed to forward packet", "kind", kind, "error", err)
	}
}

func (s *UDPSink) Close() error {
	var err error
	if s.videoConn != nil {
		err = s.videoConn.Close()
	}
	if s.audioConn != nil {
		if cerr := s.audioConn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func dialUDP(address string) (*net.UDPConn, error) {
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, err
	}
	return net.DialUDP("udp", nil, addr)
}

var _ ports.RenderSink = (*UDPSink)(nil)
