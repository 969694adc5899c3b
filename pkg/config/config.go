package config

import (
	"fmt"
	"os"
	"time"

	"texstream/internal/core/domain"

	"gopkg.in/yaml.v2"
)

// Transport kinds a participant can join a room over.
const (
	TransportWebSocket = "websocket"
	TransportRedis     = "redis"
	TransportMemory    = "memory"
)

type Config struct {
	Stream struct {
		CaptureHeight    int   `yaml:"capture_height"`
		Quality          int   `yaml:"quality"`
		FrameRate        int   `yaml:"frame_rate"`
		EventCode        int   `yaml:"event_code"`
		CompressionLevel int   `yaml:"compression_level"`
		MaxPayloadBytes  int64 `yaml:"max_payload_bytes"`
		MaxFramePixels   int64 `yaml:"max_frame_pixels"`
	} `yaml:"stream"`

	Relay struct {
		Address             string        `yaml:"address"`
		PingInterval        time.Duration `yaml:"ping_interval"`
		PongTimeout         time.Duration `yaml:"pong_timeout"`
		WriteTimeout        time.Duration `yaml:"write_timeout"`
		ShutdownTimeout     time.Duration `yaml:"shutdown_timeout"`
		MaxMessageSizeBytes int64         `yaml:"max_message_size_bytes"`
		MessagesPerSecond   float64       `yaml:"messages_per_second"`
		Burst               int           `yaml:"burst"`
		SendQueue           int           `yaml:"send_queue"`
		MaxParticipants     int           `yaml:"max_participants"`
		RequireToken        bool          `yaml:"require_token"`
		AllowedOrigins      []string      `yaml:"allowed_origins"`
	} `yaml:"relay"`

	Client struct {
		RelayURL         string        `yaml:"relay_url"`
		Room             string        `yaml:"room"`
		ParticipantName  string        `yaml:"participant_name"`
		Token            string        `yaml:"token"`
		DialAttempts     int           `yaml:"dial_attempts"`
		DialInitialDelay time.Duration `yaml:"dial_initial_delay"`
	} `yaml:"client"`

	Transport struct {
		Kind string `yaml:"kind"`
	} `yaml:"transport"`

	Redis struct {
		Address     string        `yaml:"address"`
		Password    string        `yaml:"password"`
		DB          int           `yaml:"db"`
		PoolSize    int           `yaml:"pool_size"`
		MasterLease time.Duration `yaml:"master_lease"`
	} `yaml:"redis"`

	Viewer struct {
		Address         string        `yaml:"address"`
		ReportInterval  time.Duration `yaml:"report_interval"`
		SnapshotQuality int           `yaml:"snapshot_quality"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"viewer"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Auth struct {
		JWTSecret string        `yaml:"jwt_secret"`
		TokenTTL  time.Duration `yaml:"token_ttl"`
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"` // global concurrent HTTP requests
		} `yaml:"http"`

		Joins struct {
			PerSecond float64 `yaml:"per_second"`
			Burst     int     `yaml:"burst"`
		} `yaml:"joins"`
	} `yaml:"rate_limiting"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Stream
	if c.Stream.CaptureHeight <= 0 {
		return fmt.Errorf("stream.capture_height must be > 0")
	}
	if c.Stream.Quality < domain.MinQuality || c.Stream.Quality > domain.MaxQuality {
		return fmt.Errorf("stream.quality must be within %d..%d", domain.MinQuality, domain.MaxQuality)
	}
	if _, err := domain.ParseFrameRate(c.Stream.FrameRate); err != nil {
		return fmt.Errorf("stream.frame_rate: %w", err)
	}
	if c.Stream.EventCode <= 0 || c.Stream.EventCode > 255 {
		return fmt.Errorf("stream.event_code must be within 1..255")
	}
	if c.Stream.CompressionLevel < -2 || c.Stream.CompressionLevel > 9 {
		return fmt.Errorf("stream.compression_level must be within -2..9")
	}
	if c.Stream.MaxPayloadBytes <= 0 {
		return fmt.Errorf("stream.max_payload_bytes must be > 0")
	}
	if c.Stream.MaxFramePixels <= 0 {
		return fmt.Errorf("stream.max_frame_pixels must be > 0")
	}

	// Relay
	if c.Relay.Address == "" {
		return fmt.Errorf("relay.address must not be empty")
	}
	if c.Relay.PingInterval <= 0 {
		return fmt.Errorf("relay.ping_interval must be > 0")
	}
	if c.Relay.PongTimeout <= c.Relay.PingInterval {
		return fmt.Errorf("relay.pong_timeout must be > relay.ping_interval")
	}
	if c.Relay.WriteTimeout <= 0 {
		return fmt.Errorf("relay.write_timeout must be > 0")
	}
	if c.Relay.ShutdownTimeout <= 0 {
		return fmt.Errorf("relay.shutdown_timeout must be > 0")
	}
	if c.Relay.MaxMessageSizeBytes <= 0 {
		return fmt.Errorf("relay.max_message_size_bytes must be > 0")
	}
	if c.Relay.MessagesPerSecond <= 0 || c.Relay.Burst <= 0 {
		return fmt.Errorf("relay.messages_per_second and relay.burst must be > 0")
	}
	if c.Relay.SendQueue <= 0 {
		return fmt.Errorf("relay.send_queue must be > 0")
	}
	if c.Relay.MaxParticipants < 0 {
		return fmt.Errorf("relay.max_participants must be >= 0")
	}

	// Client
	if c.Client.DialAttempts <= 0 {
		return fmt.Errorf("client.dial_attempts must be > 0")
	}
	if c.Client.DialInitialDelay <= 0 {
		return fmt.Errorf("client.dial_initial_delay must be > 0")
	}

	// Transport
	switch c.Transport.Kind {
	case TransportWebSocket, TransportMemory:
	case TransportRedis:
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when transport.kind=redis")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when transport.kind=redis")
		}
		if c.Redis.MasterLease < time.Second {
			return fmt.Errorf("redis.master_lease must be >= 1s")
		}
	default:
		return fmt.Errorf("unknown transport.kind %q", c.Transport.Kind)
	}

	// Viewer
	if c.Viewer.Address == "" {
		return fmt.Errorf("viewer.address must not be empty")
	}
	if c.Viewer.ReportInterval <= 0 {
		return fmt.Errorf("viewer.report_interval must be > 0")
	}
	if c.Viewer.SnapshotQuality < 1 || c.Viewer.SnapshotQuality > 100 {
		return fmt.Errorf("viewer.snapshot_quality must be within 1..100")
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Auth
	if c.Relay.RequireToken && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must not be empty when relay.require_token=true")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be > 0")
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.http.max_concurrent must be >= 0 when rate limiting is enabled")
		}
		if c.RateLimiting.Joins.PerSecond <= 0 {
			return fmt.Errorf("rate_limiting.joins.per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.Joins.Burst <= 0 {
			return fmt.Errorf("rate_limiting.joins.burst must be > 0 when rate limiting is enabled")
		}
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing is enabled")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be within 0..1")
		}
	}

	return nil
}

// StreamConfig builds the sender presets from the stream section.
func (c *Config) StreamConfig() (*domain.StreamConfig, error) {
	rate, err := domain.ParseFrameRate(c.Stream.FrameRate)
	if err != nil {
		return nil, err
	}
	return &domain.StreamConfig{
		CaptureHeight: c.Stream.CaptureHeight,
		Quality:       c.Stream.Quality,
		FrameRate:     rate,
	}, nil
}

func (c *Config) EventCode() domain.EventCode {
	return domain.EventCode(c.Stream.EventCode)
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, cfg.Validate()
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

	cfg.Stream.CaptureHeight = domain.DefaultCaptureHeight
	cfg.Stream.Quality = domain.DefaultQuality
	cfg.Stream.FrameRate = int(domain.DefaultFrameRate)
	cfg.Stream.EventCode = int(domain.StreamEventCode)
	cfg.Stream.CompressionLevel = 1
	cfg.Stream.MaxPayloadBytes = 64 << 20
	cfg.Stream.MaxFramePixels = domain.DefaultMaxFramePixels

	cfg.Relay.Address = ":8081"
	cfg.Relay.PingInterval = 30 * time.Second
	cfg.Relay.PongTimeout = 60 * time.Second
	cfg.Relay.WriteTimeout = 10 * time.Second
	cfg.Relay.ShutdownTimeout = 30 * time.Second
	cfg.Relay.MaxMessageSizeBytes = 8 << 20
	cfg.Relay.MessagesPerSecond = 120
	cfg.Relay.Burst = 240
	cfg.Relay.SendQueue = 8
	cfg.Relay.MaxParticipants = 0
	cfg.Relay.RequireToken = false
	cfg.Relay.AllowedOrigins = []string{"*"}

	cfg.Client.RelayURL = "ws://localhost:8081/ws"
	cfg.Client.Room = "default"
	cfg.Client.DialAttempts = 5
	cfg.Client.DialInitialDelay = 200 * time.Millisecond

	cfg.Transport.Kind = TransportWebSocket

	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10
	cfg.Redis.MasterLease = 10 * time.Second

	cfg.Viewer.Address = ":8080"
	cfg.Viewer.ReportInterval = time.Second
	cfg.Viewer.SnapshotQuality = 85
	cfg.Viewer.ShutdownTimeout = 10 * time.Second

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Auth.JWTSecret = "change-me-in-production"
	cfg.Auth.TokenTTL = 12 * time.Hour

	// Rate limiting defaults (disabled by default)
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.HTTP.MaxConcurrent = 0
	cfg.RateLimiting.Joins.PerSecond = 1
	cfg.RateLimiting.Joins.Burst = 10

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if url := os.Getenv("TEXSTREAM_RELAY_URL"); url != "" {
		c.Client.RelayURL = url
	}
	if room := os.Getenv("TEXSTREAM_ROOM"); room != "" {
		c.Client.Room = room
	}
	if kind := os.Getenv("TEXSTREAM_TRANSPORT"); kind != "" {
		c.Transport.Kind = kind
	}
	if addr := os.Getenv("TEXSTREAM_RELAY_ADDRESS"); addr != "" {
		c.Relay.Address = addr
	}
	if addr := os.Getenv("TEXSTREAM_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
	}
	if level := os.Getenv("TEXSTREAM_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("TEXSTREAM_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if token := os.Getenv("TEXSTREAM_TOKEN"); token != "" {
		c.Client.Token = token
	}
}
