// Package config loads client and server settings from the environment,
// after reading an optional .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	defaultTutorURL        = "ws://localhost:8000/ws/"
	defaultReconnectDelay  = 3 * time.Second
	defaultAudioSampleRate = 24000
	defaultPort            = "8000"
	defaultLogLevel        = "info"
	defaultLogFormat       = "json"
	defaultSpeech          = SpeechAuto
	defaultIdleTimeout     = 30 * time.Minute
)

// Speech backends for the development server
const (
	SpeechAuto       = "auto" // elevenlabs when a key is set, tone otherwise
	SpeechElevenLabs = "elevenlabs"
	SpeechTone       = "tone"
	SpeechOff        = "off"
)

// LogConfig holds logger settings shared by every binary
type LogConfig struct {
	Level  string
	Format string // "json" or "console"
}

// ClientConfig holds settings for the realtime tutor client
type ClientConfig struct {
	TutorURL        string
	ClientID        string
	ReconnectDelay  time.Duration
	AuthToken       string
	AudioCommand    string
	AudioSampleRate int
	Log             LogConfig
}

// ServerConfig holds settings for the development tutoring backend
type ServerConfig struct {
	Port        string
	JWTSecret   string
	// IssuerKey must accompany token requests; empty disables token issuing.
	IssuerKey   string
	GeminiKey   string
	GeminiModel string
	Speech      string
	IdleTimeout time.Duration
	Log         LogConfig
}

// LoadEnv reads .env files if present. A missing file is not an error.
func LoadEnv(filenames ...string) error {
	if len(filenames) == 0 {
		filenames = []string{".env"}
	}
	for _, name := range filenames {
		if _, err := os.Stat(name); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(name); err != nil {
			return fmt.Errorf("failed to load %s: %w", name, err)
		}
	}
	return nil
}

// NewClientConfigFromEnv reads the client configuration from environment variables
func NewClientConfigFromEnv() (ClientConfig, error) {
	config := ClientConfig{
		TutorURL:        envOr("TUTOR_WS_URL", defaultTutorURL),
		ClientID:        os.Getenv("TUTOR_CLIENT_ID"),
		ReconnectDelay:  defaultReconnectDelay,
		AuthToken:       os.Getenv("TUTOR_AUTH_TOKEN"),
		AudioCommand:    os.Getenv("TUTOR_AUDIO_COMMAND"),
		AudioSampleRate: defaultAudioSampleRate,
		Log:             logConfigFromEnv(),
	}

	if v := os.Getenv("TUTOR_RECONNECT_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return config, fmt.Errorf("invalid TUTOR_RECONNECT_DELAY %q: %w", v, err)
		}
		config.ReconnectDelay = d
	}

	if v := os.Getenv("TUTOR_AUDIO_SAMPLE_RATE"); v != "" {
		rate, err := strconv.Atoi(v)
		if err != nil {
			return config, fmt.Errorf("invalid TUTOR_AUDIO_SAMPLE_RATE %q: %w", v, err)
		}
		config.AudioSampleRate = rate
	}

	return config, ValidateClientConfig(config)
}

// ValidateClientConfig validates the ClientConfig
func ValidateClientConfig(config ClientConfig) error {
	if !strings.HasPrefix(config.TutorURL, "ws://") && !strings.HasPrefix(config.TutorURL, "wss://") {
		return fmt.Errorf("tutor URL must start with ws:// or wss://, got %q", config.TutorURL)
	}
	if config.ReconnectDelay <= 0 {
		return fmt.Errorf("reconnect delay must be positive, got %s", config.ReconnectDelay)
	}
	if config.AudioSampleRate < 8000 || config.AudioSampleRate > 48000 {
		return fmt.Errorf("audio sample rate must be between 8000 and 48000, got %d", config.AudioSampleRate)
	}
	return validateLogConfig(config.Log)
}

// NewServerConfigFromEnv reads the server configuration from environment variables
func NewServerConfigFromEnv() (ServerConfig, error) {
	config := ServerConfig{
		Port:        envOr("PORT", defaultPort),
		JWTSecret:   os.Getenv("TUTOR_JWT_SECRET"),
		IssuerKey:   os.Getenv("TUTOR_ISSUER_KEY"),
		GeminiKey:   os.Getenv("GEMINI_API_KEY"),
		GeminiModel: os.Getenv("GEMINI_MODEL"),
		Speech:      strings.ToLower(envOr("TUTOR_SPEECH", defaultSpeech)),
		IdleTimeout: defaultIdleTimeout,
		Log:         logConfigFromEnv(),
	}

	if v := os.Getenv("TUTOR_IDLE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return config, fmt.Errorf("invalid TUTOR_IDLE_TIMEOUT %q", v)
		}
		config.IdleTimeout = d
	}

	if _, err := strconv.Atoi(config.Port); err != nil {
		return config, fmt.Errorf("invalid PORT value: %q", config.Port)
	}
	switch config.Speech {
	case SpeechAuto, SpeechElevenLabs, SpeechTone, SpeechOff:
	default:
		return config, fmt.Errorf("TUTOR_SPEECH must be auto, elevenlabs, tone or off, got %q", config.Speech)
	}
	return config, validateLogConfig(config.Log)
}

// NewLogger builds a zap logger from the log configuration
func NewLogger(config LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(config.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", config.Level, err)
	}

	zapConfig := zap.NewProductionConfig()
	if config.Format == "console" {
		zapConfig = zap.NewDevelopmentConfig()
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)

	return zapConfig.Build()
}

func logConfigFromEnv() LogConfig {
	return LogConfig{
		Level:  strings.ToLower(envOr("LOG_LEVEL", defaultLogLevel)),
		Format: strings.ToLower(envOr("LOG_FORMAT", defaultLogFormat)),
	}
}

func validateLogConfig(config LogConfig) error {
	if _, err := zapcore.ParseLevel(config.Level); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL %q", config.Level)
	}
	if config.Format != "json" && config.Format != "console" {
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", config.Format)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
