package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPath      = "smilecam.yaml"
	DefaultLogFile   = "smile_detection.log"
	DefaultNotifyURL = "https://jsonplaceholder.typicode.com/posts"
)

type AppConfig struct {
	Port     int     `yaml:"port"`
	LogFile  string  `yaml:"log_file"`
	LogDebug bool    `yaml:"log_debug"`
	Debug    bool    `yaml:"debug"`
	DebugFPS float64 `yaml:"debug_fps"`

	Camera    CameraConfig    `yaml:"camera"`
	Cascades  CascadeConfig   `yaml:"cascades"`
	Detection DetectionConfig `yaml:"detection"`
	Stream    StreamConfig    `yaml:"stream"`
	Notify    NotifyConfig    `yaml:"notify"`
	Events    EventsConfig    `yaml:"events"`
	ZMQ       ZMQConfig       `yaml:"zmq"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
}

type CameraConfig struct {
	Device int `yaml:"device"`
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

type CascadeConfig struct {
	Face  string `yaml:"face"`
	Smile string `yaml:"smile"`
}

// PassConfig holds the tuning of one classifier pass.
type PassConfig struct {
	ScaleFactor  float64 `yaml:"scale_factor" json:"scale_factor"`
	MinNeighbors int     `yaml:"min_neighbors" json:"min_neighbors"`
	MinSize      int     `yaml:"min_size" json:"min_size"`
}

type DetectionConfig struct {
	Face   PassConfig `yaml:"face"`
	Smile  PassConfig `yaml:"smile"`
	Labels bool       `yaml:"labels"`
}

type StreamConfig struct {
	// JPEGQuality of 0 keeps the encoder default.
	JPEGQuality int `yaml:"jpeg_quality"`
}

type NotifyConfig struct {
	URL           string        `yaml:"url"`
	Title         string        `yaml:"title"`
	UserID        int           `yaml:"user_id"`
	SuccessStatus int           `yaml:"success_status"`
	Timeout       time.Duration `yaml:"timeout"`
}

type EventsConfig struct {
	QueueSize  int    `yaml:"queue_size"`
	JournalDir string `yaml:"journal_dir"`
}

type ZMQConfig struct {
	Endpoint string `yaml:"endpoint"`
}

type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos"`
}

func NewDefaultConfig() AppConfig {
	return AppConfig{
		Port:     5000,
		LogFile:  DefaultLogFile,
		DebugFPS: 10,
		Camera:   CameraConfig{Device: 0},
		Cascades: CascadeConfig{
			Face:  "data/haarcascade_frontalface_default.xml",
			Smile: "data/haarcascade_smile.xml",
		},
		Detection: DetectionConfig{
			Face:   PassConfig{ScaleFactor: 1.1, MinNeighbors: 5, MinSize: 30},
			Smile:  PassConfig{ScaleFactor: 1.8, MinNeighbors: 25, MinSize: 25},
			Labels: true,
		},
		Notify: NotifyConfig{
			URL:           DefaultNotifyURL,
			Title:         "Smile Detection",
			UserID:        1,
			SuccessStatus: 201,
			Timeout:       5 * time.Second,
		},
		Events: EventsConfig{QueueSize: 64},
		MQTT: MQTTConfig{
			ClientID: "smilecam",
			Topic:    "smilecam/events",
		},
	}
}

// Load reads a YAML file over the defaults. A missing file is not an error.
func Load(path string) (AppConfig, error) {
	cfg := NewDefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func (c AppConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if err := c.Detection.Face.validate("face"); err != nil {
		return err
	}
	if err := c.Detection.Smile.validate("smile"); err != nil {
		return err
	}
	if c.Stream.JPEGQuality < 0 || c.Stream.JPEGQuality > 100 {
		return fmt.Errorf("jpeg quality must be within 0..100, got %d", c.Stream.JPEGQuality)
	}
	if c.Notify.URL == "" {
		return errors.New("notify url is required")
	}
	if c.Events.QueueSize < 1 {
		return fmt.Errorf("event queue size must be >= 1, got %d", c.Events.QueueSize)
	}
	if c.Debug && c.DebugFPS <= 0 {
		return fmt.Errorf("debug fps must be > 0, got %v", c.DebugFPS)
	}
	return nil
}

func (p PassConfig) validate(name string) error {
	if p.ScaleFactor <= 1 {
		return fmt.Errorf("%s scale factor must be > 1, got %v", name, p.ScaleFactor)
	}
	if p.MinNeighbors < 0 {
		return fmt.Errorf("%s min neighbors must be >= 0, got %d", name, p.MinNeighbors)
	}
	if p.MinSize < 0 {
		return fmt.Errorf("%s min size must be >= 0, got %d", name, p.MinSize)
	}
	return nil
}
