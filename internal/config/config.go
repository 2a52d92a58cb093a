package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Segment store kinds.
const (
	StoreMemory = "memory"
	StoreDisk   = "disk"
	StoreNATS   = "nats"
)

// Output encodings for audio handed to callers.
const (
	EncodingPCM  = "pcm"
	EncodingPCMU = "pcmu"
)

// Config holds all configuration for the TTS gateway service
type Config struct {
	// Server configuration
	Port     string `envconfig:"PORT" default:"8080"`
	GRPCPort string `envconfig:"GRPC_PORT" default:"9090"` // gRPC health service

	// Volcengine TTS endpoint and credentials
	VolcEndpoint    string `envconfig:"VOLC_ENDPOINT" default:"wss://openspeech.bytedance.com/api/v1/tts/ws_binary"`
	VolcAppID       string `envconfig:"VOLC_APP_ID" required:"true"`
	VolcAccessToken string `envconfig:"VOLC_ACCESS_TOKEN" required:"true"` // Bearer token for the handshake
	VolcCluster     string `envconfig:"VOLC_CLUSTER" default:"volcano_tts"`
	VolcUID         string `envconfig:"VOLC_UID" default:"388808087185088"`

	// Voice parameters sent with every request
	VolcVoice       string  `envconfig:"VOLC_VOICE" default:"other"`
	VolcVoiceType   string  `envconfig:"VOLC_VOICE_TYPE" required:"true"`
	VolcSpeedRatio  float64 `envconfig:"VOLC_SPEED_RATIO" default:"1.0"`
	VolcVolumeRatio float64 `envconfig:"VOLC_VOLUME_RATIO" default:"1.0"`
	VolcPitchRatio  float64 `envconfig:"VOLC_PITCH_RATIO" default:"1.0"`

	// Session configuration
	SegmentThreshold   int    `envconfig:"SEGMENT_THRESHOLD" default:"64000"`        // Bytes before a segment closes
	SourceSampleRate   int    `envconfig:"SOURCE_SAMPLE_RATE" default:"24000"`       // Rate the server streams at
	OutputSampleRate   int    `envconfig:"OUTPUT_SAMPLE_RATE" default:"16000"`       // Rate yielded to callers
	OutputEncoding     string `envconfig:"OUTPUT_ENCODING" default:"pcm"`            // pcm or pcmu
	HandshakeTimeout   int    `envconfig:"HANDSHAKE_TIMEOUT" default:"10"`           // seconds
	FrameReadTimeout   int    `envconfig:"FRAME_READ_TIMEOUT" default:"15"`          // seconds without a frame before failing
	ArtifactDir        string `envconfig:"ARTIFACT_DIR" default:""`                  // Merged WAV output; empty disables merging
	SegmentStore       string `envconfig:"SEGMENT_STORE" default:"memory"`           // memory, disk or nats
	TempDir            string `envconfig:"TEMP_DIR" default:"var/temp"`              // Segment files for the disk store
	NATSURL            string `envconfig:"NATS_URL" default:"nats://127.0.0.1:4222"` // For the nats store
	NATSSegmentsBucket string `envconfig:"NATS_SEGMENTS_BUCKET" default:"tts-segments"`

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Maximum retry attempts
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks required fields and enumerated settings
func (c *Config) Validate() error {
	if c.VolcAppID == "" {
		return fmt.Errorf("VOLC_APP_ID is required")
	}
	if c.VolcAccessToken == "" {
		return fmt.Errorf("VOLC_ACCESS_TOKEN is required")
	}
	if c.VolcVoiceType == "" {
		return fmt.Errorf("VOLC_VOICE_TYPE is required")
	}

	switch c.SegmentStore {
	case StoreMemory, StoreDisk, StoreNATS:
	default:
		return fmt.Errorf("SEGMENT_STORE must be one of memory, disk, nats (got %q)", c.SegmentStore)
	}
	switch c.OutputEncoding {
	case EncodingPCM, EncodingPCMU:
	default:
		return fmt.Errorf("OUTPUT_ENCODING must be pcm or pcmu (got %q)", c.OutputEncoding)
	}

	if c.SourceSampleRate <= 0 || c.OutputSampleRate <= 0 {
		return fmt.Errorf("sample rates must be positive")
	}
	if c.SegmentThreshold < 0 {
		return fmt.Errorf("SEGMENT_THRESHOLD must not be negative")
	}
	return nil
}

// HandshakeTimeoutDuration returns the websocket handshake timeout
func (c *Config) HandshakeTimeoutDuration() time.Duration {
	return time.Duration(c.HandshakeTimeout) * time.Second
}

// FrameReadTimeoutDuration returns the per-frame read deadline
func (c *Config) FrameReadTimeoutDuration() time.Duration {
	return time.Duration(c.FrameReadTimeout) * time.Second
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
