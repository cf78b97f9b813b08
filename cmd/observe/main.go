package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"vigia/internal/core/domain"
	"vigia/internal/core/ports"
	"vigia/internal/core/services"
	"vigia/internal/infrastructure/media"
	"vigia/internal/infrastructure/repositories/memory"
	redisinfra "vigia/internal/infrastructure/repositories/redis"
	signalinfra "vigia/internal/infrastructure/signal"
	webrtcinfra "vigia/internal/infrastructure/webrtc"
	"vigia/pkg/config"
	"vigia/pkg/logger"
)

// observe is the admin-side client. It keeps a roster of participants,
// requests their streams, and forwards received RTP to a local render
// pipeline. With -all it follows every participant that is sharing.
func main() {
	watchAll := flag.Bool("all", false, "observe every participant with an available stream")
	flag.Parse()

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
		log.Fatal("auth.token is required for the observe client")
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

	sink, err := media.NewUDPSink(cfg.Render.VideoRTPAddress, cfg.Render.AudioRTPAddress, log)
	if err != nil {
		log.Fatalw("failed to open render sink", "error", err)
	}
	defer sink.Close()

	var hints ports.HintStore
	if cfg.Redis.Enabled {
		redisClient, err := redisinfra.NewClient(
			cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.PoolSize, log,
		)
		if err != nil {
			log.Fatalw("failed to connect to redis", "error", err)
		}
		defer redisClient.Close()
		hints = redisinfra.NewHintStore(redisClient, cfg.Recovery.HintTTL, log)
	} else {
		store := memory.NewHintStore(cfg.Recovery.HintTTL)
		defer store.Close()
		hints = store
	}

	session := services.NewObserverSession(services.ObserverSessionDeps{
		Channel:           channel,
		Registry:          memory.NewSessionRegistry(),
		Links:             factory,
		Sink:              sink,
		Hints:             hints,
		Identity:          identity,
		Logger:            log,
		Category:          cfg.Recovery.Category,
		SuppressionWindow: cfg.WebRTC.SuppressionWindow,
		SettleDelay:       cfg.WebRTC.SettleDelay,
	})

	if err := session.Start(ctx); err != nil {
		log.Fatalw("failed to start session", "error", err)
	}
	log.Infow("observer connected",
		"user_id", identity.UserID,
		"category", cfg.Recovery.Category,
		"follow_all", *watchAll)

	if *watchAll {
		go followAll(ctx, session, log)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Infow("received shutdown signal", "signal", sig)

	if err := session.Close(); err != nil {
		log.Errorw("session close failed", "error", err)
	}
	log.Info("observe client stopped")
}

// followAll periodically requests observation of every participant that is
// sharing. Guard rejections (already watching, attempt in flight) are
// expected and skipped.
func followAll(ctx context.Context, session ports.ObserverSession, log *zap.SugaredLogger) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, p := range session.Roster() {
				if !p.StreamAvailable {
					continue
				}
				err := session.RequestObserve(p.SocketID)
				if err == nil ||
					errors.Is(err, domain.ErrAlreadyObserving) ||
					errors.Is(err, domain.ErrAttemptInProgress) ||
					errors.Is(err, domain.ErrNoStreamAvailable) ||
					errors.Is(err, domain.ErrParticipantGone) {
					continue
				}
				log.Warnw("observe request failed", "socket_id", p.SocketID, "error", err)
			}
		}
	}
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
