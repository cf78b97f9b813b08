package media

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vigia/internal/core/ports"

	apperrors "vigia/pkg/errors"
)

func TestCaptureRequiresVideoAddress(t *testing.T) {
	c := NewCapture(CaptureConfig{}, zap.NewNop().Sugar())

	_, err := c.Capture(context.Background(), ports.CaptureConstraints{})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeCaptureUnsupported, apperrors.CodeOf(err))
}

func TestCaptureAudioWithoutAddressUnsupported(t *testing.T) {
	c := NewCapture(CaptureConfig{VideoAddress: "127.0.0.1:0"}, zap.NewNop().Sugar())

	_, err := c.Capture(context.Background(), ports.CaptureConstraints{Audio: true})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeCaptureUnsupported, apperrors.CodeOf(err))
}

func TestCaptureMalformedAddress(t *testing.T) {
	c := NewCapture(CaptureConfig{VideoAddress: "not-an-address"}, zap.NewNop().Sugar())

	_, err := c.Capture(context.Background(), ports.CaptureConstraints{})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeCaptureUnsupported, apperrors.CodeOf(err))
}

func TestCaptureStreamLifecycle(t *testing.T) {
	c := NewCapture(CaptureConfig{VideoAddress: "127.0.0.1:0"}, zap.NewNop().Sugar())

	stream, err := c.Capture(context.Background(), ports.CaptureConstraints{Width: 1920, Height: 1080, FrameRate: 30})
	require.NoError(t, err)
	assert.True(t, stream.Active())
	assert.NotEmpty(t, stream.ID())

	cs := stream.(*CaptureStream)
	assert.Len(t, cs.RTPTracks(), 1)

	stream.Stop()
	assert.False(t, stream.Active())
	stream.Stop()
}

func TestCaptureWatchdogEndsIdleStream(t *testing.T) {
	c := NewCapture(CaptureConfig{
		VideoAddress: "127.0.0.1:0",
		IdleTimeout:  50 * time.Millisecond,
	}, zap.NewNop().Sugar())

	stream, err := c.Capture(context.Background(), ports.CaptureConstraints{})
	require.NoError(t, err)

	ended := make(chan struct{})
	stream.OnEnded(func() { close(ended) })

	select {
	case <-ended:
	case <-time.After(time.Second):
		t.Fatal("idle watchdog did not end the stream")
	}
	assert.False(t, stream.Active())
}

func TestCaptureIngestsRTP(t *testing.T) {
	c := NewCapture(CaptureConfig{
		VideoAddress: "127.0.0.1:0",
		IdleTimeout:  200 * time.Millisecond,
	}, zap.NewNop().Sugar())

	stream, err := c.Capture(context.Background(), ports.CaptureConstraints{})
	require.NoError(t, err)
	defer stream.Stop()

	cs := stream.(*CaptureStream)
	target := cs.conns[0].LocalAddr().String()

	conn, err := net.Dial("udp", target)
	require.NoError(t, err)
	defer conn.Close()

	pkt := &rtp.Packet{Header: rtp.Header{Version: 2, PayloadType: 96, SequenceNumber: 1}, Payload: []byte{0x00}}
	b, err := pkt.Marshal()
	require.NoError(t, err)

	// Keep feeding so the watchdog sees a live source.
	deadline := time.Now().Add(400 * time.Millisecond)
	for time.Now().Before(deadline) {
		_, err = conn.Write(b)
		require.NoError(t, err)
		time.Sleep(50 * time.Millisecond)
	}

	assert.True(t, stream.Active(), "a fed stream must not hit the idle watchdog")
}

func TestUDPSinkRenderAndClear(t *testing.T) {
	sink, err := NewUDPSink("127.0.0.1:40998", "", zap.NewNop().Sugar())
	require.NoError(t, err)
	defer sink.Close()

	// A stream without packet access is rejected.
	c := NewCapture(CaptureConfig{VideoAddress: "127.0.0.1:0"}, zap.NewNop().Sugar())
	local, err := c.Capture(context.Background(), ports.CaptureConstraints{})
	require.NoError(t, err)
	defer local.Stop()
	assert.Error(t, sink.Render("rec-1", local))

	src := &stubRTPSource{}
	require.NoError(t, sink.Render("rec-2", src))
	assert.NotNil(t, src.handler)

	require.NoError(t, sink.Render("rec-2", nil))
	assert.Nil(t, src.handler)
}

type stubRTPSource struct {
	handler func(kind string, pkt *rtp.Packet)
}

func (s *stubRTPSource) ID() string        { return "stub" }
func (s *stubRTPSource) Active() bool      { return true }
func (s *stubRTPSource) Stop()             {}
func (s *stubRTPSource) OnEnded(fn func()) {}
func (s *stubRTPSource) HandleRTP(fn func(kind string, pkt *rtp.Packet)) {
	s.handler = fn
}
