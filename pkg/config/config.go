package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Signal struct {
		URL             string        `yaml:"url"` // client side: relay endpoint
		PingInterval    time.Duration `yaml:"ping_interval"`
		PongTimeout     time.Duration `yaml:"pong_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"signal"`

	WebRTC struct {
		ICEServers []struct {
			URLs       []string `yaml:"urls"`
			Username   string   `yaml:"username,omitempty"`
			Credential string   `yaml:"credential,omitempty"`
		} `yaml:"ice_servers"`
		HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`
		SuppressionWindow time.Duration `yaml:"suppression_window"`
		SettleDelay       time.Duration `yaml:"settle_delay"`
	} `yaml:"webrtc"`

	Capture struct {
		Width           int           `yaml:"width"`
		Height          int           `yaml:"height"`
		FrameRate       int           `yaml:"frame_rate"`
		Audio           bool          `yaml:"audio"`
		VideoRTPAddress string        `yaml:"video_rtp_address"`
		AudioRTPAddress string        `yaml:"audio_rtp_address"`
		IdleTimeout     time.Duration `yaml:"idle_timeout"`
	} `yaml:"capture"`

	Render struct {
		VideoRTPAddress string `yaml:"video_rtp_address"`
		AudioRTPAddress string `yaml:"audio_rtp_address"`
	} `yaml:"render"`

	Recovery struct {
		HintTTL  time.Duration `yaml:"hint_ttl"`
		Category int64         `yaml:"category"`
	} `yaml:"recovery"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		ServiceName string  `yaml:"service_name"`
		JaegerURL   string  `yaml:"jaeger_url"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	Auth struct {
		JWTSecret      string        `yaml:"jwt_secret"`
		AccessTokenTTL time.Duration `yaml:"access_token_ttl"`
		Token          string        `yaml:"token"` // client side: bearer token
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
		} `yaml:"http"`

		Signal struct {
			MessagesPerSecond   float64 `yaml:"messages_per_second"`
			Burst               int     `yaml:"burst"`
			MaxMessageSizeBytes int64   `yaml:"max_message_size_bytes"`
		} `yaml:"signal"`
	} `yaml:"rate_limiting"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	if c.Signal.PingInterval <= 0 {
		return fmt.Errorf("signal.ping_interval must be > 0")
	}
	if c.Signal.PongTimeout <= c.Signal.PingInterval {
		return fmt.Errorf("signal.pong_timeout must be > signal.ping_interval")
	}
	if c.Signal.WriteTimeout <= 0 {
		return fmt.Errorf("signal.write_timeout must be > 0")
	}

	if c.WebRTC.HandshakeTimeout <= 0 {
		return fmt.Errorf("webrtc.handshake_timeout must be > 0")
	}
	if c.WebRTC.SuppressionWindow <= 0 {
		return fmt.Errorf("webrtc.suppression_window must be > 0")
	}
	if c.WebRTC.SettleDelay < 0 {
		return fmt.Errorf("webrtc.settle_delay must be >= 0")
	}

	if c.Capture.Width <= 0 || c.Capture.Height <= 0 {
		return fmt.Errorf("capture.width and capture.height must be > 0")
	}
	if c.Capture.FrameRate <= 0 {
		return fmt.Errorf("capture.frame_rate must be > 0")
	}
	if c.Capture.IdleTimeout <= 0 {
		return fmt.Errorf("capture.idle_timeout must be > 0")
	}

	if c.Render.VideoRTPAddress == "" {
		return fmt.Errorf("render.video_rtp_address must not be empty")
	}

	if c.Recovery.HintTTL <= 0 {
		return fmt.Errorf("recovery.hint_ttl must be > 0")
	}
	if c.Recovery.Category < 0 {
		return fmt.Errorf("recovery.category must be >= 0")
	}

	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort <= 0 {
		return fmt.Errorf("monitoring.prometheus_port must be > 0 when prometheus_enabled=true")
	}

	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
		}
	}

	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must not be empty")
	}
	if c.Auth.AccessTokenTTL <= 0 {
		return fmt.Errorf("auth.access_token_ttl must be > 0")
	}

	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.Signal.MessagesPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.signal.messages_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.Signal.Burst <= 0 {
			return fmt.Errorf("rate_limiting.signal.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.Signal.MaxMessageSizeBytes < 0 {
			return fmt.Errorf("rate_limiting.signal.max_message_size_bytes must be >= 0")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":3001"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second

	cfg.Signal.URL = "ws://localhost:3001/ws"
	cfg.Signal.PingInterval = 30 * time.Second
	cfg.Signal.PongTimeout = 60 * time.Second
	cfg.Signal.WriteTimeout = 10 * time.Second
	cfg.Signal.ShutdownTimeout = 30 * time.Second

	cfg.WebRTC.ICEServers = []struct {
		URLs       []string `yaml:"urls"`
		Username   string   `yaml:"username,omitempty"`
		Credential string   `yaml:"credential,omitempty"`
	}{
		{URLs: []string{"stun:stun.l.google.com:19302"}},
		{URLs: []string{"stun:stun1.l.google.com:19302"}},
	}
	cfg.WebRTC.HandshakeTimeout = 30 * time.Second
	cfg.WebRTC.SuppressionWindow = 5 * time.Second
	cfg.WebRTC.SettleDelay = time.Second

	cfg.Capture.Width = 1920
	cfg.Capture.Height = 1080
	cfg.Capture.FrameRate = 30
	cfg.Capture.Audio = true
	cfg.Capture.VideoRTPAddress = "127.0.0.1:5004"
	cfg.Capture.AudioRTPAddress = "127.0.0.1:5006"
	cfg.Capture.IdleTimeout = 10 * time.Second

	cfg.Render.VideoRTPAddress = "127.0.0.1:5008"
	cfg.Render.AudioRTPAddress = "127.0.0.1:5010"

	cfg.Recovery.HintTTL = 30 * time.Minute
	cfg.Recovery.Category = 0

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.PrometheusPort = 9090

	cfg.Tracing.Enabled = false
	cfg.Tracing.ServiceName = "vigia"
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.SampleRate = 1.0

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	cfg.Auth.JWTSecret = "change-me-in-production"
	cfg.Auth.AccessTokenTTL = 12 * time.Hour

	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.Signal.MessagesPerSecond = 100
	cfg.RateLimiting.Signal.Burst = 200
	cfg.RateLimiting.Signal.MaxMessageSizeBytes = 64 * 1024

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("VIGIA_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if url := os.Getenv("VIGIA_SIGNAL_URL"); url != "" {
		c.Signal.URL = url
	}
	if level := os.Getenv("VIGIA_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("VIGIA_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if token := os.Getenv("VIGIA_TOKEN"); token != "" {
		c.Auth.Token = token
	}
	if addr := os.Getenv("VIGIA_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
	}
}
