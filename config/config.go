package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all proxy configuration
type Config struct {
	Port              int
	UpstreamURL       string // WebSocket URL of the realtime API
	UpstreamModel     string
	UpstreamAPIKey    string
	RedisURL          string
	RedisPassword     string
	MaxSessions       int
	SessionTimeout    time.Duration
	AllowedOrigins    []string
	KeepAlivePeriod   time.Duration
	MaxFrameSize      int // Maximum client frame size in bytes
	MaxBufferSize     int // Client-bound write queue capacity in frames
	SampleRate        int // Input PCM sample rate in Hz (16-bit mono)
	CommitThresholdMS int // Minimum buffered audio duration before a commit
	LogLevel          string
	Debug             bool // Legacy alias for LogLevel=debug
}

const (
	defaultUpstreamURL   = "wss://api.openai.com/v1/realtime"
	defaultUpstreamModel = "gpt-4o-realtime-preview"
)

// CommitThresholdBytes converts the commit threshold duration to a byte
// count for 16-bit mono PCM at the configured sample rate.
func (c *Config) CommitThresholdBytes() int {
	return c.SampleRate * 2 * c.CommitThresholdMS / 1000
}

// Load reads configuration from environment variables with defaults
func Load() (*Config, error) {
	// Load .env file if it exists (doesn't error if missing)
	_ = godotenv.Load()

	config := &Config{
		Port:              8080,
		UpstreamURL:       defaultUpstreamURL,
		UpstreamModel:     defaultUpstreamModel,
		RedisURL:          "localhost:6379",
		RedisPassword:     "",
		MaxSessions:       100,
		SessionTimeout:    30 * time.Minute,
		AllowedOrigins:    []string{"*"},
		KeepAlivePeriod:   30 * time.Second,
		MaxFrameSize:      512 * 1024, // 512KB max message
		MaxBufferSize:     256,
		SampleRate:        24000,
		CommitThresholdMS: 100,
		LogLevel:          "info",
	}

	// Required: OPENAI_API_KEY
	config.UpstreamAPIKey = os.Getenv("OPENAI_API_KEY")
	if config.UpstreamAPIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable is required")
	}

	// Optional: PORT
	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		config.Port = p
	}

	// Optional: UPSTREAM_URL
	if upstreamURL := os.Getenv("UPSTREAM_URL"); upstreamURL != "" {
		config.UpstreamURL = upstreamURL
	}

	// Optional: UPSTREAM_MODEL
	if model := os.Getenv("UPSTREAM_MODEL"); model != "" {
		config.UpstreamModel = model
	}

	// Optional: REDIS_URL
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		config.RedisURL = redisURL
	}

	// Optional: REDIS_PASSWORD
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		config.RedisPassword = redisPassword
	}

	// Optional: MAX_SESSIONS
	if maxSessions := os.Getenv("MAX_SESSIONS"); maxSessions != "" {
		m, err := strconv.Atoi(maxSessions)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_SESSIONS: %w", err)
		}
		config.MaxSessions = m
	}

	// Optional: SESSION_TIMEOUT (in minutes)
	if timeout := os.Getenv("SESSION_TIMEOUT"); timeout != "" {
		t, err := strconv.Atoi(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid SESSION_TIMEOUT: %w", err)
		}
		config.SessionTimeout = time.Duration(t) * time.Minute
	}

	// Optional: ALLOWED_ORIGINS (comma-separated)
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		config.AllowedOrigins = strings.Split(origins, ",")
	}

	// Optional: KEEPALIVE_PERIOD (in seconds)
	if keepalive := os.Getenv("KEEPALIVE_PERIOD"); keepalive != "" {
		k, err := strconv.Atoi(keepalive)
		if err != nil {
			return nil, fmt.Errorf("invalid KEEPALIVE_PERIOD: %w", err)
		}
		config.KeepAlivePeriod = time.Duration(k) * time.Second
	}

	// Optional: MAX_FRAME_SIZE (in bytes)
	if frameSize := os.Getenv("MAX_FRAME_SIZE"); frameSize != "" {
		f, err := strconv.Atoi(frameSize)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_FRAME_SIZE: %w", err)
		}
		config.MaxFrameSize = f
	}

	// Optional: MAX_BUFFER_SIZE (client-bound write queue, in frames)
	if bufferSize := os.Getenv("MAX_BUFFER_SIZE"); bufferSize != "" {
		b, err := strconv.Atoi(bufferSize)
		if err != nil || b <= 0 {
			return nil, fmt.Errorf("invalid MAX_BUFFER_SIZE: %s", bufferSize)
		}
		config.MaxBufferSize = b
	}

	// Optional: SAMPLE_RATE (in Hz)
	if sampleRate := os.Getenv("SAMPLE_RATE"); sampleRate != "" {
		sr, err := strconv.Atoi(sampleRate)
		if err != nil || sr <= 0 {
			return nil, fmt.Errorf("invalid SAMPLE_RATE: %s", sampleRate)
		}
		config.SampleRate = sr
	}

	// Optional: COMMIT_THRESHOLD_MS (minimum utterance segment duration)
	if thresholdMS := os.Getenv("COMMIT_THRESHOLD_MS"); thresholdMS != "" {
		t, err := strconv.Atoi(thresholdMS)
		if err != nil || t <= 0 {
			return nil, fmt.Errorf("invalid COMMIT_THRESHOLD_MS: %s", thresholdMS)
		}
		config.CommitThresholdMS = t
	}

	// Optional: LOG_LEVEL ("debug", "info", "warn", "error")
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		switch strings.ToLower(level) {
		case "debug", "info", "warn", "warning", "error":
			config.LogLevel = level
		default:
			return nil, fmt.Errorf("invalid LOG_LEVEL: must be 'debug', 'info', 'warn', or 'error'")
		}
	}

	// Optional: DEBUG (legacy alias for LOG_LEVEL=debug)
	if debug := os.Getenv("DEBUG"); debug != "" {
		d, err := strconv.ParseBool(debug)
		if err != nil {
			return nil, fmt.Errorf("invalid DEBUG: %w", err)
		}
		config.Debug = d
	}

	return config, nil
}
