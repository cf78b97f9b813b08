package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pion/webrtc/v3"

	"vigia/internal/core/ports"
	"vigia/internal/core/services"
	"vigia/internal/infrastructure/media"
	"vigia/internal/infrastructure/repositories/memory"
	signalinfra "vigia/internal/infrastructure/signal"
	webrtcinfra "vigia/internal/infrastructure/webrtc"
	"vigia/pkg/config"
	"vigia/pkg/logger"
)

// share is the participant-side client. It ingests RTP from a local capture
// pipeline, announces itself on the relay, and answers observe requests with
// one peer link per admin.
func main() {
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/vigia/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error
	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}
	if err != nil {
		cfg = config.DefaultConfig()
	}

	log := logger.NewSugared(cfg.Logging.Level, cfg.Logging.Format)
	defer log.Sync()

	if cfg.Auth.Token == "" {
		log.Fatal("auth.token is required for the share client")
	}
	identity, err := services.ParseIdentity(cfg.Auth.Token)
	if err != nil {
		log.Fatalw("invalid auth token", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	channel, err := signalinfra.Dial(ctx, cfg.Signal.URL, cfg.Auth.Token, signalinfra.ClientConfig{
		PongTimeout:  cfg.Signal.PongTimeout,
		WriteTimeout: cfg.Signal.WriteTimeout,
	}, log)
	if err != nil {
		log.Fatalw("failed to connect to signaling server", "url", cfg.Signal.URL, "error", err)
	}

	factory := webrtcinfra.NewFactory(webrtcinfra.Config{
		ICEServers:       iceServers(cfg),
		HandshakeTimeout: cfg.WebRTC.HandshakeTimeout,
	}, log)

	capture := media.NewCapture(media.CaptureConfig{
		VideoAddress: cfg.Capture.VideoRTPAddress,
		AudioAddress: cfg.Capture.AudioRTPAddress,
		IdleTimeout:  cfg.Capture.IdleTimeout,
	}, log)

	session := services.NewParticipantSession(services.ParticipantSessionDeps{
		Channel:  channel,
		Registry: memory.NewSessionRegistry(),
		Links:    factory,
		Capture:  capture,
		Identity: identity,
		Constraints: ports.CaptureConstraints{
			Width:     cfg.Capture.Width,
			Height:    cfg.Capture.Height,
			FrameRate: cfg.Capture.FrameRate,
			Audio:     cfg.Capture.Audio,
		},
		Logger: log,
	})

	if err := session.Start(ctx); err != nil {
		log.Fatalw("failed to start session", "error", err)
	}
	if err := session.StartSharing(ctx); err != nil {
		log.Fatalw("failed to start sharing", "error", err)
	}
	log.Infow("sharing started",
		"user_id", identity.UserID,
		"video", cfg.Capture.VideoRTPAddress,
		"audio", cfg.Capture.AudioRTPAddress)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Infow("received shutdown signal", "signal", sig)

	if err := session.StopSharing(); err != nil {
		log.Errorw("stop sharing failed", "error", err)
	}
	if err := session.Close(); err != nil {
		log.Errorw("session close failed", "error", err)
	}
	log.Info("share client stopped")
}

func iceServers(cfg *config.Config) []webrtc.ICEServer {
	servers := make([]webrtc.ICEServer, 0, len(cfg.WebRTC.ICEServers))
	for _, s := range cfg.WebRTC.ICEServers {
		server := webrtc.ICEServer{URLs: s.URLs}
		if s.Username != "" {
			server.Username = s.Username
			server.Credential = s.Credential
		}
		servers = append(servers, server)
	}
	if len(servers) == 0 {
		servers = append(servers, webrtc.ICEServer{URLs: []string{"stun:stun.l.google.com:19302"}})
	}
	return servers
}
