// Package config loads the complete application configuration from the
// environment, with optional .env file support.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"aegis-server/pkg/errors"
)

// Config represents the complete application configuration
type Config struct {
	Logging      LoggingConfig      `json:"logging"`
	HTTP         HTTPConfig         `json:"http"`
	Audio        AudioConfig        `json:"audio"`
	Detection    DetectionConfig    `json:"detection"`
	Monitoring   MonitoringConfig   `json:"monitoring"`
	Emergency    EmergencyConfig    `json:"emergency"`
	Recording    RecordingConfig    `json:"recording"`
	Messaging    MessagingConfig    `json:"messaging"`
	Notification NotificationConfig `json:"notification"`
	Audit        AuditConfig        `json:"audit"`
	Location     LocationConfig     `json:"location"`
}

// LoggingConfig holds logging configurations
type LoggingConfig struct {
	// Log level (debug, info, warn, error)
	Level string `json:"level" env:"LOG_LEVEL" default:"info"`

	// Log format (json or text)
	Format string `json:"format" env:"LOG_FORMAT" default:"text"`

	// Log output file (empty = stdout)
	OutputFile string `json:"output_file" env:"LOG_OUTPUT_FILE"`
}

// HTTPConfig holds HTTP server configurations
type HTTPConfig struct {
	// HTTP port for the status/control API
	Port int `json:"port" env:"HTTP_PORT" default:"8080"`

	// Whether the HTTP server is enabled
	Enabled bool `json:"enabled" env:"HTTP_ENABLED" default:"true"`

	// Read/write timeouts
	ReadTimeout  time.Duration `json:"read_timeout" env:"HTTP_READ_TIMEOUT" default:"10s"`
	WriteTimeout time.Duration `json:"write_timeout" env:"HTTP_WRITE_TIMEOUT" default:"30s"`
}

// AudioConfig holds capture device configurations
type AudioConfig struct {
	// Capture backend (pulse or none; none disables live capture)
	Backend string `json:"backend" env:"AUDIO_BACKEND" default:"pulse"`

	// PulseAudio source device name (empty = default input)
	Device string `json:"device" env:"AUDIO_DEVICE"`

	// Capture format
	SampleRate int `json:"sample_rate" env:"AUDIO_SAMPLE_RATE" default:"16000"`
	Channels   int `json:"channels" env:"AUDIO_CHANNELS" default:"1"`
}

// DetectionConfig holds classifier configurations
type DetectionConfig struct {
	// Path to the ONNX threat classification model (empty = inference
	// disabled, volume-based detection only)
	ModelPath string `json:"model_path" env:"DETECTION_MODEL_PATH"`

	// Path to the YAML tuning file overriding thresholds and keywords
	// (empty or missing file = shipped defaults)
	TuningPath string `json:"tuning_path" env:"DETECTION_TUNING_PATH"`
}

// MonitoringConfig holds monitoring loop cadence configurations
type MonitoringConfig struct {
	// Analysis window length in milliseconds
	WindowMs int `json:"window_ms" env:"MONITOR_WINDOW_MS" default:"100"`

	// Threat check interval
	ThreatInterval time.Duration `json:"threat_interval" env:"MONITOR_THREAT_INTERVAL" default:"100ms"`

	// Level meter interval
	LevelInterval time.Duration `json:"level_interval" env:"MONITOR_LEVEL_INTERVAL" default:"50ms"`

	// Backoff after a failed check iteration
	FailureBackoff time.Duration `json:"failure_backoff" env:"MONITOR_FAILURE_BACKOFF" default:"1s"`

	// Whether monitoring starts automatically on boot
	AutoStart bool `json:"auto_start" env:"MONITOR_AUTO_START" default:"false"`
}

// EmergencyConfig holds response configurations
type EmergencyConfig struct {
	// Emergency services number to dial
	Number string `json:"number" env:"EMERGENCY_NUMBER" default:"112"`

	// Emergency contact numbers, comma-separated
	Contacts []string `json:"contacts" env:"EMERGENCY_CONTACTS"`

	// Per-action timeout for network-facing response actions
	ActionTimeout time.Duration `json:"action_timeout" env:"EMERGENCY_ACTION_TIMEOUT" default:"10s"`

	// Strobe total duration and on/off duty cycle
	StrobeDuration time.Duration `json:"strobe_duration" env:"EMERGENCY_STROBE_DURATION" default:"30s"`
	StrobeDuty     time.Duration `json:"strobe_duty" env:"EMERGENCY_STROBE_DUTY" default:"250ms"`

	// Outbound message template; %s receives the threat category
	MessageTemplate string `json:"message_template" env:"EMERGENCY_MESSAGE_TEMPLATE"`
}

// RecordingConfig holds evidence capture configurations
type RecordingConfig struct {
	// Directory for evidence WAV files
	Dir string `json:"dir" env:"RECORDING_DIR" default:"./evidence"`

	// Hard cap on a single recording's duration
	MaxDuration time.Duration `json:"max_duration" env:"RECORDING_MAX_DURATION" default:"5m"`
}

// MessagingConfig holds AMQP peer-alert configurations
type MessagingConfig struct {
	// AMQP broker URL (empty = peer alerting disabled)
	AMQPUrl string `json:"amqp_url" env:"AMQP_URL"`

	// Exchange for peer alert messages
	Exchange string `json:"exchange" env:"AMQP_EXCHANGE" default:"aegis.alerts"`

	// Routing keys of nearby peers, comma-separated
	PeerKeys []string `json:"peer_keys" env:"AMQP_PEER_KEYS"`
}

// NotificationConfig holds SMS gateway configurations
type NotificationConfig struct {
	// SMS gateway webhook URL (empty = notifications disabled)
	GatewayURL string `json:"gateway_url" env:"SMS_GATEWAY_URL"`

	// Gateway request timeout
	Timeout time.Duration `json:"timeout" env:"SMS_GATEWAY_TIMEOUT" default:"10s"`
}

// AuditConfig holds audit ledger configurations
type AuditConfig struct {
	// JSON-lines ledger path (empty = log-only audit trail)
	LedgerPath string `json:"ledger_path" env:"AUDIT_LEDGER_PATH" default:"./logs/audit.jsonl"`

	// Per-submission ledger write timeout
	Timeout time.Duration `json:"timeout" env:"AUDIT_TIMEOUT" default:"5s"`
}

// LocationConfig holds the static fallback position included in outbound
// alerts for stationary installations.
type LocationConfig struct {
	Enabled bool    `json:"enabled" env:"LOCATION_ENABLED" default:"false"`
	Lat     float64 `json:"lat" env:"LOCATION_LAT" default:"0"`
	Lon     float64 `json:"lon" env:"LOCATION_LON" default:"0"`
}

// Load reads the configuration from the environment, loading a .env file
// first if one is present.
func Load(logger *logrus.Logger) (*Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		logger.WithError(err).Warn("Failed to get current working directory")
		wd = "unknown"
	}

	possibleEnvFiles := []string{
		".env",
		"../.env",
		filepath.Join(wd, ".env"),
	}

	var loadedFrom string
	for _, envFile := range possibleEnvFiles {
		if _, statErr := os.Stat(envFile); statErr == nil {
			absPath, _ := filepath.Abs(envFile)
			logger.WithField("path", absPath).Debug("Attempting to load .env file")
			if loadErr := godotenv.Load(envFile); loadErr == nil {
				loadedFrom = absPath
				break
			}
		}
	}

	if loadedFrom != "" {
		logger.WithFields(logrus.Fields{
			"working_dir": wd,
			"path":        loadedFrom,
		}).Info("Successfully loaded .env file")
	} else {
		logger.WithField("working_dir", wd).Debug("No .env file found, using environment variables only")
	}

	config := &Config{}

	loadLoggingConfig(&config.Logging)
	loadHTTPConfig(&config.HTTP)
	loadAudioConfig(&config.Audio)
	loadDetectionConfig(&config.Detection)
	loadMonitoringConfig(&config.Monitoring)
	loadEmergencyConfig(&config.Emergency)
	loadRecordingConfig(&config.Recording)
	loadMessagingConfig(&config.Messaging)
	loadNotificationConfig(&config.Notification)
	loadAuditConfig(&config.Audit)
	loadLocationConfig(&config.Location)

	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}

	return config, nil
}

func loadLoggingConfig(c *LoggingConfig) {
	c.Level = getEnv("LOG_LEVEL", "info")
	c.Format = getEnv("LOG_FORMAT", "text")
	c.OutputFile = getEnv("LOG_OUTPUT_FILE", "")
}

func loadHTTPConfig(c *HTTPConfig) {
	c.Port = getEnvInt("HTTP_PORT", 8080)
	c.Enabled = getEnvBool("HTTP_ENABLED", true)
	c.ReadTimeout = getEnvDuration("HTTP_READ_TIMEOUT", 10*time.Second)
	c.WriteTimeout = getEnvDuration("HTTP_WRITE_TIMEOUT", 30*time.Second)
}

func loadAudioConfig(c *AudioConfig) {
	c.Backend = strings.ToLower(getEnv("AUDIO_BACKEND", "pulse"))
	c.Device = getEnv("AUDIO_DEVICE", "")
	c.SampleRate = getEnvInt("AUDIO_SAMPLE_RATE", 16000)
	c.Channels = getEnvInt("AUDIO_CHANNELS", 1)
}

func loadDetectionConfig(c *DetectionConfig) {
	c.ModelPath = getEnv("DETECTION_MODEL_PATH", "")
	c.TuningPath = getEnv("DETECTION_TUNING_PATH", "")
}

func loadMonitoringConfig(c *MonitoringConfig) {
	c.WindowMs = getEnvInt("MONITOR_WINDOW_MS", 100)
	c.ThreatInterval = getEnvDuration("MONITOR_THREAT_INTERVAL", 100*time.Millisecond)
	c.LevelInterval = getEnvDuration("MONITOR_LEVEL_INTERVAL", 50*time.Millisecond)
	c.FailureBackoff = getEnvDuration("MONITOR_FAILURE_BACKOFF", time.Second)
	c.AutoStart = getEnvBool("MONITOR_AUTO_START", false)
}

func loadEmergencyConfig(c *EmergencyConfig) {
	c.Number = getEnv("EMERGENCY_NUMBER", "112")
	c.Contacts = getEnvList("EMERGENCY_CONTACTS")
	c.ActionTimeout = getEnvDuration("EMERGENCY_ACTION_TIMEOUT", 10*time.Second)
	c.StrobeDuration = getEnvDuration("EMERGENCY_STROBE_DURATION", 30*time.Second)
	c.StrobeDuty = getEnvDuration("EMERGENCY_STROBE_DUTY", 250*time.Millisecond)
	c.MessageTemplate = getEnv("EMERGENCY_MESSAGE_TEMPLATE", "")
}

func loadRecordingConfig(c *RecordingConfig) {
	c.Dir = getEnv("RECORDING_DIR", "./evidence")
	c.MaxDuration = getEnvDuration("RECORDING_MAX_DURATION", 5*time.Minute)
}

func loadMessagingConfig(c *MessagingConfig) {
	c.AMQPUrl = getEnv("AMQP_URL", "")
	c.Exchange = getEnv("AMQP_EXCHANGE", "aegis.alerts")
	c.PeerKeys = getEnvList("AMQP_PEER_KEYS")
}

func loadNotificationConfig(c *NotificationConfig) {
	c.GatewayURL = getEnv("SMS_GATEWAY_URL", "")
	c.Timeout = getEnvDuration("SMS_GATEWAY_TIMEOUT", 10*time.Second)
}

func loadAuditConfig(c *AuditConfig) {
	c.LedgerPath = getEnv("AUDIT_LEDGER_PATH", "./logs/audit.jsonl")
	c.Timeout = getEnvDuration("AUDIT_TIMEOUT", 5*time.Second)
}

func loadLocationConfig(c *LocationConfig) {
	c.Enabled = getEnvBool("LOCATION_ENABLED", false)
	c.Lat = getEnvFloat("LOCATION_LAT", 0)
	c.Lon = getEnvFloat("LOCATION_LON", 0)
}

// Validate checks the loaded configuration for values that would make the
// server misbehave at runtime.
func (c *Config) Validate() error {
	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		return errors.New("HTTP port out of range",
			map[string]interface{}{"port": c.HTTP.Port})
	}

	switch c.Audio.Backend {
	case "pulse", "none":
	default:
		return errors.New("unknown audio backend",
			map[string]interface{}{"backend": c.Audio.Backend})
	}
	if c.Audio.SampleRate <= 0 {
		return errors.New("audio sample rate must be positive",
			map[string]interface{}{"sample_rate": c.Audio.SampleRate})
	}
	if c.Audio.Channels < 1 || c.Audio.Channels > 2 {
		return errors.New("audio channels must be 1 or 2",
			map[string]interface{}{"channels": c.Audio.Channels})
	}

	if c.Monitoring.WindowMs <= 0 {
		return errors.New("monitoring window must be positive",
			map[string]interface{}{"window_ms": c.Monitoring.WindowMs})
	}
	if c.Monitoring.ThreatInterval <= 0 || c.Monitoring.LevelInterval <= 0 {
		return errors.New("monitoring intervals must be positive")
	}

	if c.Emergency.Number == "" {
		return errors.New("emergency number must not be empty")
	}
	if c.Emergency.ActionTimeout <= 0 {
		return errors.New("emergency action timeout must be positive")
	}

	if c.Recording.Dir == "" {
		return errors.New("recording directory must not be empty")
	}
	if c.Recording.MaxDuration <= 0 {
		return errors.New("recording max duration must be positive")
	}

	return nil
}

// Helper function to get an environment variable with a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// Helper function to get a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	switch strings.ToLower(value) {
	case "true", "yes", "1", "on":
		return true
	case "false", "no", "0", "off":
		return false
	default:
		return defaultValue
	}
}

// Helper function to get an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intValue
}

// Helper function to get a duration environment variable with a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return duration
}

// getEnvFloat retrieves an environment variable and converts it to float64
func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return floatValue
}

// getEnvList parses a comma-separated environment variable into a slice,
// trimming whitespace and dropping empty entries.
func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}

	parts := strings.Split(value, ",")
	var list []string
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			list = append(list, part)
		}
	}
	return list
}
