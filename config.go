package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"picamstream/camera"
	"picamstream/pipeline"
)

type MQTTConfig struct {
	Broker   string `json:"broker" yaml:"broker"` // host:port, empty disables save events
	Topic    string `json:"topic" yaml:"topic"`
	ClientID string `json:"client_id" yaml:"client_id"`
}

type Config struct {
	Port         int    `json:"port" yaml:"port"`
	SaveDir      string `json:"save_dir" yaml:"save_dir"`
	CatalogDir   string `json:"catalog_dir" yaml:"catalog_dir"`
	StorageCapGB int    `json:"storage_cap_gb" yaml:"storage_cap_gb"`

	Camera camera.CameraConfig `json:"camera" yaml:"camera"`

	FPS                  int `json:"fps" yaml:"fps"`
	StreamQuality        int `json:"stream_quality" yaml:"stream_quality"`   // JPEG 1-100
	PersistQuality       int `json:"persist_quality" yaml:"persist_quality"` // JPEG 1-100
	SaveEveryN           int `json:"save_every_n" yaml:"save_every_n"`
	StreamQueueCapacity  int `json:"stream_queue_capacity" yaml:"stream_queue_capacity"`
	PersistQueueCapacity int `json:"persist_queue_capacity" yaml:"persist_queue_capacity"`
	ViewerQueueCapacity  int `json:"viewer_queue_capacity" yaml:"viewer_queue_capacity"`
	CaptureBackoffMS     int `json:"capture_backoff_ms" yaml:"capture_backoff_ms"`
	ShutdownGraceMS      int `json:"shutdown_grace_ms" yaml:"shutdown_grace_ms"`
	OpenAttempts         int `json:"open_attempts" yaml:"open_attempts"`

	RateLimitPerMinute int    `json:"rate_limit_per_minute" yaml:"rate_limit_per_minute"`
	StreamTokenTTLS    int    `json:"stream_token_ttl_s" yaml:"stream_token_ttl_s"`
	TokenSecret        string `json:"token_secret" yaml:"token_secret"`

	CredentialsFile string `json:"credentials_file" yaml:"credentials_file"`
	TLSCertFile     string `json:"tls_cert_file" yaml:"tls_cert_file"`
	TLSKeyFile      string `json:"tls_key_file" yaml:"tls_key_file"`

	MQTT MQTTConfig `json:"mqtt" yaml:"mqtt"`
}

func DefaultConfig() *Config {
	// Use XDG state directory for captures
	stateDir, err := xdg.StateFile("picamstream/captures")
	if err != nil {
		homeDir, _ := os.UserHomeDir()
		stateDir = filepath.Join(homeDir, ".local/state/picamstream/captures")
	}
	// StateFile returns a file path; we want the directory itself
	stateDir = filepath.Dir(stateDir)

	return &Config{
		Port:         DefaultPort,
		SaveDir:      filepath.Join(stateDir, "captures"),
		CatalogDir:   filepath.Join(stateDir, "catalog"),
		StorageCapGB: DefaultStorageCapGB,
		Camera: camera.CameraConfig{
			Source:      DefaultCameraSource,
			Device:      DefaultCameraDevice,
			ResWidth:    DefaultVideoWidth,
			ResHeight:   DefaultVideoHeight,
			PixelFormat: DefaultPixelFormat,
		},
		FPS:                  pipeline.DefaultFPS,
		StreamQuality:        pipeline.DefaultStreamQuality,
		PersistQuality:       pipeline.DefaultPersistQuality,
		SaveEveryN:           pipeline.DefaultSaveEvery,
		StreamQueueCapacity:  pipeline.DefaultStreamQueueCapacity,
		PersistQueueCapacity: pipeline.DefaultPersistQueueCapacity,
		ViewerQueueCapacity:  pipeline.DefaultViewerQueueCapacity,
		CaptureBackoffMS:     int(pipeline.DefaultCaptureBackoff / time.Millisecond),
		ShutdownGraceMS:      int(pipeline.DefaultShutdownGrace / time.Millisecond),
		OpenAttempts:         pipeline.DefaultOpenAttempts,
		RateLimitPerMinute:   DefaultRateLimitPerMinute,
		StreamTokenTTLS:      int(DefaultStreamTokenTTL / time.Second),
		CredentialsFile:      DefaultCredentialsFile,
		TLSCertFile:          DefaultCertFile,
		TLSKeyFile:           DefaultKeyFile,
		MQTT: MQTTConfig{
			Topic:    DefaultMQTTTopic,
			ClientID: "picamstream",
		},
	}
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func unmarshalConfig(path string, data []byte, config *Config) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, config)
	}
	return json.Unmarshal(data, config)
}

func marshalConfig(path string, config *Config) ([]byte, error) {
	if isYAML(path) {
		return yaml.Marshal(config)
	}
	return json.MarshalIndent(config, "", "  ")
}

// LoadOrCreateConfig reads the config at configPath, or writes a default one
// there on first run. Fields missing from an existing file keep their defaults.
func LoadOrCreateConfig(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}

		config := DefaultConfig()
		if err := unmarshalConfig(configPath, data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
		if config.TokenSecret == "" {
			config.TokenSecret = generateToken()
		}
		if err := config.Validate(); err != nil {
			return nil, err
		}
		return config, nil
	}

	config := DefaultConfig()
	config.TokenSecret = generateToken()

	if err := SaveConfig(config, configPath); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(config.SaveDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create save directory: %w", err)
	}

	fmt.Printf("Created default config at %s\n", configPath)
	return config, nil
}

func SaveConfig(config *Config, configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := marshalConfig(configPath, config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Holds the token secret
	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate rejects configs the service cannot run with
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.SaveDir == "" {
		return errors.New("save_dir must be set")
	}
	if c.Camera.ResWidth <= 0 || c.Camera.ResHeight <= 0 {
		return fmt.Errorf("invalid camera resolution %dx%d", c.Camera.ResWidth, c.Camera.ResHeight)
	}
	switch c.Camera.Rotation {
	case 0, 90, 180, 270:
	default:
		return fmt.Errorf("camera rotation must be 0, 90, 180 or 270, got %d", c.Camera.Rotation)
	}
	if c.RateLimitPerMinute < 1 {
		return fmt.Errorf("rate_limit_per_minute must be positive, got %d", c.RateLimitPerMinute)
	}
	if err := c.PipelineOptions().Validate(); err != nil {
		return fmt.Errorf("invalid pipeline settings: %w", err)
	}
	return nil
}

// PipelineOptions maps the config onto the frame pipeline
func (c *Config) PipelineOptions() pipeline.Options {
	opts := pipeline.DefaultOptions()
	opts.FPS = c.FPS
	opts.SaveEvery = c.SaveEveryN
	opts.StreamQuality = c.StreamQuality
	opts.PersistQuality = c.PersistQuality
	opts.StreamQueueCapacity = c.StreamQueueCapacity
	opts.PersistQueueCapacity = c.PersistQueueCapacity
	opts.ViewerQueueCapacity = c.ViewerQueueCapacity
	opts.Resolution = c.Camera.Resolution()
	opts.PixelFormat = c.Camera.Format()
	opts.OpenAttempts = c.OpenAttempts
	if c.CaptureBackoffMS > 0 {
		opts.CaptureBackoff = time.Duration(c.CaptureBackoffMS) * time.Millisecond
	}
	if c.ShutdownGraceMS > 0 {
		opts.ShutdownGrace = time.Duration(c.ShutdownGraceMS) * time.Millisecond
	}
	return opts
}

// CameraConfig returns the camera settings with the pipeline frame rate applied
func (c *Config) CameraConfig() camera.CameraConfig {
	cam := c.Camera
	cam.FPS = c.FPS
	return cam
}

func (c *Config) StreamTokenTTL() time.Duration {
	if c.StreamTokenTTLS <= 0 {
		return DefaultStreamTokenTTL
	}
	return time.Duration(c.StreamTokenTTLS) * time.Second
}

// Credentials are the single viewer account
type Credentials struct {
	Username     string
	PasswordHash []byte
}

// LoadCredentials reads CAMERA_USERNAME and CAMERA_PASSWORD from envFile,
// falling back to the process environment. Both are required.
func LoadCredentials(envFile string) (*Credentials, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load credentials file: %w", err)
		}
	}

	username := os.Getenv("CAMERA_USERNAME")
	password := os.Getenv("CAMERA_PASSWORD")
	if username == "" || password == "" {
		return nil, errors.New("CAMERA_USERNAME and CAMERA_PASSWORD must be set")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	return &Credentials{Username: username, PasswordHash: hash}, nil
}

// checkTLSFiles fails fast when the certificate or key is missing
func checkTLSFiles(certFile, keyFile string) error {
	for _, f := range []string{certFile, keyFile} {
		if _, err := os.Stat(f); err != nil {
			return fmt.Errorf("TLS file %s: %w", f, err)
		}
	}
	return nil
}
