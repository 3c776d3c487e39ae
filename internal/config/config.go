// Package config provides configuration management for the indexer.
// Configuration is loaded from environment variables with sensible defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	// Default values
	DefaultPort     = 8790
	DefaultLogLevel = "info"
	DefaultDataDir  = ".veeky"

	// Environment variable names
	EnvPort     = "VEEKY_PORT"
	EnvLogLevel = "VEEKY_LOG_LEVEL"
	EnvDataDir  = "VEEKY_DATA_DIR"

	// Database filename
	DBFilename = "veeky.db"

	// Worker pool defaults
	DefaultJobWorkers     = 2
	DefaultSegmentWorkers = 4

	// Lease and dispatch defaults
	DefaultLeaseTTL         = 60 * time.Second
	DefaultDispatchInterval = 2 * time.Second
	DefaultSweepInterval    = 30 * time.Second

	// Retry defaults (attempt counts per external call category)
	DefaultIndexAttempts      = 3
	DefaultTranscribeAttempts = 3
	DefaultEnrichAttempts     = 3
	DefaultRetryInitialWait   = 500 * time.Millisecond

	// Ollama defaults
	DefaultOllamaBaseURL = "http://localhost:11434"
	DefaultTextModel     = "gemma3:4b"
	DefaultEmbedModel    = "snowflake-arctic-embed2"
	DefaultOllamaTimeout = 120 * time.Second

	// OpenSearch defaults
	DefaultSearchAddress = "http://localhost:9200"
	DefaultSearchIndex   = "videos"
	DefaultSearchTimeout = 30 * time.Second

	// Media analysis defaults
	DefaultKeyframeInterval = 4.0
	DefaultSceneThreshold   = 0.30
	DefaultMinSegmentSec    = 8.0
	DefaultMaxSegmentSec    = 75.0
	DefaultSilenceNoise     = "-35dB"
	DefaultSilenceDuration  = 1.5
	DefaultProbeTimeout     = 30 * time.Second
	DefaultAnalyzeTimeout   = 10 * time.Minute

	// Whisper defaults
	DefaultWhisperModel      = "small"
	DefaultTranscribeTimeout = 10 * time.Minute
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	WorkDir() string

	JobWorkers() int
	SegmentWorkers() int
	LeaseTTL() time.Duration
	DispatchInterval() time.Duration
	SweepInterval() time.Duration

	IndexAttempts() int
	TranscribeAttempts() int
	EnrichAttempts() int
	RetryInitialWait() time.Duration

	OllamaBaseURL() string
	TextModel() string
	EmbedModel() string
	VisionModel() string
	OllamaTimeout() time.Duration

	SearchAddress() string
	SearchIndex() string
	SearchUsername() string
	SearchPassword() string
	SearchTimeout() time.Duration

	FFmpegPath() string
	FFprobePath() string
	WhisperPath() string
	WhisperModel() string
	KeyframeInterval() float64
	SceneThreshold() float64
	MinSegmentSec() float64
	MaxSegmentSec() float64
	SilenceNoise() string
	SilenceDuration() float64
	ProbeTimeout() time.Duration
	AnalyzeTimeout() time.Duration
	TranscribeTimeout() time.Duration
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	port     int
	logLevel string
	dataDir  string

	jobWorkers       int
	segmentWorkers   int
	leaseTTL         time.Duration
	dispatchInterval time.Duration
	sweepInterval    time.Duration

	indexAttempts      int
	transcribeAttempts int
	enrichAttempts     int
	retryInitialWait   time.Duration

	ollamaBaseURL string
	textModel     string
	embedModel    string
	visionModel   string

	searchAddress  string
	searchIndex    string
	searchUsername string
	searchPassword string

	ffmpegPath   string
	ffprobePath  string
	whisperPath  string
	whisperModel string

	keyframeInterval float64
	sceneThreshold   float64
	minSegmentSec    float64
	maxSegmentSec    float64
	silenceNoise     string
	silenceDuration  float64
}

// New creates a new EnvConfig with defaults and environment variable overrides
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:             DefaultPort,
		logLevel:         DefaultLogLevel,
		dataDir:          defaultDataDir(),
		jobWorkers:       DefaultJobWorkers,
		segmentWorkers:   DefaultSegmentWorkers,
		leaseTTL:         DefaultLeaseTTL,
		dispatchInterval: DefaultDispatchInterval,
		sweepInterval:    DefaultSweepInterval,

		indexAttempts:      DefaultIndexAttempts,
		transcribeAttempts: DefaultTranscribeAttempts,
		enrichAttempts:     DefaultEnrichAttempts,
		retryInitialWait:   DefaultRetryInitialWait,

		ollamaBaseURL:    DefaultOllamaBaseURL,
		textModel:        DefaultTextModel,
		embedModel:       DefaultEmbedModel,
		searchAddress:    DefaultSearchAddress,
		searchIndex:      DefaultSearchIndex,
		whisperModel:     DefaultWhisperModel,
		keyframeInterval: DefaultKeyframeInterval,
		sceneThreshold:   DefaultSceneThreshold,
		minSegmentSec:    DefaultMinSegmentSec,
		maxSegmentSec:    DefaultMaxSegmentSec,
		silenceNoise:     DefaultSilenceNoise,
		silenceDuration:  DefaultSilenceDuration,
	}

	// Override port from environment
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
		}
		cfg.port = port
	}

	if ll := os.Getenv(EnvLogLevel); ll != "" {
		cfg.logLevel = ll
	}
	if dd := os.Getenv(EnvDataDir); dd != "" {
		cfg.dataDir = dd
	}

	var err error
	if cfg.jobWorkers, err = envInt("VEEKY_JOB_WORKERS", cfg.jobWorkers); err != nil {
		return nil, err
	}
	if cfg.segmentWorkers, err = envInt("VEEKY_SEGMENT_WORKERS", cfg.segmentWorkers); err != nil {
		return nil, err
	}
	if cfg.jobWorkers < 1 || cfg.segmentWorkers < 1 {
		return nil, fmt.Errorf("worker counts must be at least 1")
	}
	if cfg.leaseTTL, err = envDuration("VEEKY_LEASE_TTL", cfg.leaseTTL); err != nil {
		return nil, err
	}
	if cfg.dispatchInterval, err = envDuration("VEEKY_DISPATCH_INTERVAL", cfg.dispatchInterval); err != nil {
		return nil, err
	}
	if cfg.sweepInterval, err = envDuration("VEEKY_SWEEP_INTERVAL", cfg.sweepInterval); err != nil {
		return nil, err
	}

	if cfg.indexAttempts, err = envInt("VEEKY_INDEX_ATTEMPTS", cfg.indexAttempts); err != nil {
		return nil, err
	}
	if cfg.transcribeAttempts, err = envInt("VEEKY_TRANSCRIBE_ATTEMPTS", cfg.transcribeAttempts); err != nil {
		return nil, err
	}
	if cfg.enrichAttempts, err = envInt("VEEKY_ENRICH_ATTEMPTS", cfg.enrichAttempts); err != nil {
		return nil, err
	}
	if cfg.indexAttempts < 1 || cfg.transcribeAttempts < 1 || cfg.enrichAttempts < 1 {
		return nil, fmt.Errorf("retry attempt counts must be at least 1")
	}
	if cfg.retryInitialWait, err = envDuration("VEEKY_RETRY_INITIAL_WAIT", cfg.retryInitialWait); err != nil {
		return nil, err
	}

	if v := os.Getenv("OLLAMA_BASE_URL"); v != "" {
		cfg.ollamaBaseURL = v
	}
	if v := os.Getenv("OLLAMA_TEXT_MODEL"); v != "" {
		cfg.textModel = v
	}
	if v := os.Getenv("OLLAMA_EMBED_MODEL"); v != "" {
		cfg.embedModel = v
	}
	// Vision model falls back to the text model when unset.
	cfg.visionModel = os.Getenv("OLLAMA_VISION_MODEL")

	if v := os.Getenv("OPENSEARCH_ADDRESS"); v != "" {
		cfg.searchAddress = v
	}
	if v := os.Getenv("OPENSEARCH_INDEX"); v != "" {
		cfg.searchIndex = v
	}
	cfg.searchUsername = os.Getenv("OPENSEARCH_USER")
	cfg.searchPassword = os.Getenv("OPENSEARCH_PASSWORD")

	cfg.ffmpegPath = os.Getenv("VEEKY_FFMPEG_PATH")
	cfg.ffprobePath = os.Getenv("VEEKY_FFPROBE_PATH")
	cfg.whisperPath = os.Getenv("VEEKY_WHISPER_PATH")
	if v := os.Getenv("WHISPER_MODEL"); v != "" {
		cfg.whisperModel = v
	}

	if cfg.keyframeInterval, err = envFloat("VIDEO_INDEX_KEYFRAME_INTERVAL", cfg.keyframeInterval); err != nil {
		return nil, err
	}
	if cfg.sceneThreshold, err = envFloat("VIDEO_INDEX_SCENE_THRESHOLD", cfg.sceneThreshold); err != nil {
		return nil, err
	}
	if cfg.minSegmentSec, err = envFloat("VIDEO_INDEX_MIN_SEGMENT", cfg.minSegmentSec); err != nil {
		return nil, err
	}
	if cfg.maxSegmentSec, err = envFloat("VIDEO_INDEX_MAX_SEGMENT", cfg.maxSegmentSec); err != nil {
		return nil, err
	}
	if v := os.Getenv("VIDEO_INDEX_SILENCE_NOISE"); v != "" {
		cfg.silenceNoise = v
	}
	if cfg.silenceDuration, err = envFloat("VIDEO_INDEX_SILENCE_DURATION", cfg.silenceDuration); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// WorkDir returns the scratch directory for audio clips and keyframes
func (c *EnvConfig) WorkDir() string {
	return filepath.Join(c.dataDir, "processing")
}

func (c *EnvConfig) JobWorkers() int     { return c.jobWorkers }
func (c *EnvConfig) SegmentWorkers() int { return c.segmentWorkers }

func (c *EnvConfig) LeaseTTL() time.Duration         { return c.leaseTTL }
func (c *EnvConfig) DispatchInterval() time.Duration { return c.dispatchInterval }
func (c *EnvConfig) SweepInterval() time.Duration    { return c.sweepInterval }

func (c *EnvConfig) IndexAttempts() int              { return c.indexAttempts }
func (c *EnvConfig) TranscribeAttempts() int         { return c.transcribeAttempts }
func (c *EnvConfig) EnrichAttempts() int             { return c.enrichAttempts }
func (c *EnvConfig) RetryInitialWait() time.Duration { return c.retryInitialWait }

func (c *EnvConfig) OllamaBaseURL() string { return c.ollamaBaseURL }
func (c *EnvConfig) TextModel() string     { return c.textModel }
func (c *EnvConfig) EmbedModel() string    { return c.embedModel }

// VisionModel returns the image description model, defaulting to the text model.
func (c *EnvConfig) VisionModel() string {
	if c.visionModel != "" {
		return c.visionModel
	}
	return c.textModel
}

func (c *EnvConfig) OllamaTimeout() time.Duration { return DefaultOllamaTimeout }

func (c *EnvConfig) SearchAddress() string        { return c.searchAddress }
func (c *EnvConfig) SearchIndex() string          { return c.searchIndex }
func (c *EnvConfig) SearchUsername() string       { return c.searchUsername }
func (c *EnvConfig) SearchPassword() string       { return c.searchPassword }
func (c *EnvConfig) SearchTimeout() time.Duration { return DefaultSearchTimeout }

func (c *EnvConfig) FFmpegPath() string   { return c.ffmpegPath }
func (c *EnvConfig) FFprobePath() string  { return c.ffprobePath }
func (c *EnvConfig) WhisperPath() string  { return c.whisperPath }
func (c *EnvConfig) WhisperModel() string { return c.whisperModel }

func (c *EnvConfig) KeyframeInterval() float64 { return c.keyframeInterval }
func (c *EnvConfig) SceneThreshold() float64   { return c.sceneThreshold }
func (c *EnvConfig) MinSegmentSec() float64    { return c.minSegmentSec }
func (c *EnvConfig) MaxSegmentSec() float64    { return c.maxSegmentSec }
func (c *EnvConfig) SilenceNoise() string      { return c.silenceNoise }
func (c *EnvConfig) SilenceDuration() float64  { return c.silenceDuration }

func (c *EnvConfig) ProbeTimeout() time.Duration      { return DefaultProbeTimeout }
func (c *EnvConfig) AnalyzeTimeout() time.Duration    { return DefaultAnalyzeTimeout }
func (c *EnvConfig) TranscribeTimeout() time.Duration { return DefaultTranscribeTimeout }

func envInt(name string, fallback int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return n, nil
}

func envFloat(name string, fallback float64) (float64, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return f, nil
}

func envDuration(name string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return d, nil
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
