package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/bilbercode/rtspd/internal/camera"
)

type Config struct {
	Listen        string          `yaml:"listen"`
	Workers       int             `yaml:"workers"`
	PollTimeout   time.Duration   `yaml:"poll_timeout"`
	Log           LogConfig       `yaml:"log"`
	Metrics       MetricsConfig   `yaml:"metrics"`
	Session       SessionConfig   `yaml:"session"`
	UDP           UDPConfig       `yaml:"udp"`
	RTP           RTPConfig       `yaml:"rtp"`
	Cameras       []camera.Source `yaml:"cameras"`
	DefaultCamera string          `yaml:"default_camera"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// MetricsConfig configures the admin HTTP listener. An empty address
// disables it.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

type SessionConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

type UDPConfig struct {
	PortBase int `yaml:"port_base"`
}

type RTPConfig struct {
	MTU            int           `yaml:"mtu"`
	Tick           time.Duration `yaml:"tick"`
	FragmentPacing time.Duration `yaml:"fragment_pacing"`
	FragmentBurst  int           `yaml:"fragment_burst"`
}

func Default() *Config {
	return &Config{
		Listen:      ":8554",
		Workers:     4,
		PollTimeout: time.Second,
		Log:         LogConfig{Level: "info"},
		Session:     SessionConfig{Timeout: time.Minute},
		UDP:         UDPConfig{PortBase: 30000},
		RTP: RTPConfig{
			MTU:            1400,
			Tick:           5 * time.Millisecond,
			FragmentPacing: time.Millisecond,
			FragmentBurst:  8,
		},
		Cameras: []camera.Source{
			{Name: "default", Video: "data/1.h264", Audio: "data/1.aac", Loop: true},
		},
		DefaultCamera: "default",
	}
}

// Load reads a YAML file over the defaults. An empty path returns the
// defaults.
func Load(path string) (*Config, error) {
	c := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	if c.DefaultCamera == "" && len(c.Cameras) > 0 {
		c.DefaultCamera = c.Cameras[0].Name
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return c, nil
}

func (c *Config) Validate() error {
	if c.Listen == "" {
		return errors.New("listen address is required")
	}
	if c.Workers < 1 {
		return fmt.Errorf("invalid workers: %d (must be at least 1)", c.Workers)
	}
	if c.PollTimeout <= 0 {
		return fmt.Errorf("invalid poll_timeout: %s (must be positive)", c.PollTimeout)
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	if c.Session.Timeout < 0 {
		return fmt.Errorf("invalid session timeout: %s (must be non-negative)", c.Session.Timeout)
	}
	if c.UDP.PortBase < 1024 || c.UDP.PortBase > 65532 || c.UDP.PortBase%2 != 0 {
		return fmt.Errorf("invalid udp port_base: %d (must be even and between 1024-65532)", c.UDP.PortBase)
	}
	if c.RTP.MTU < 64 || c.RTP.MTU > 65507 {
		return fmt.Errorf("invalid rtp mtu: %d (must be between 64-65507)", c.RTP.MTU)
	}
	if c.RTP.Tick <= 0 {
		return fmt.Errorf("invalid rtp tick: %s (must be positive)", c.RTP.Tick)
	}
	if c.RTP.FragmentPacing < 0 {
		return fmt.Errorf("invalid rtp fragment_pacing: %s (must be non-negative)", c.RTP.FragmentPacing)
	}
	if c.RTP.FragmentBurst < 1 {
		return fmt.Errorf("invalid rtp fragment_burst: %d (must be at least 1)", c.RTP.FragmentBurst)
	}

	if len(c.Cameras) == 0 {
		return errors.New("at least one camera is required")
	}
	names := make(map[string]bool, len(c.Cameras))
	for i, cam := range c.Cameras {
		switch {
		case cam.Name == "":
			return fmt.Errorf("camera %d has no name", i)
		case cam.Video == "":
			return fmt.Errorf("camera %s has no video file", cam.Name)
		case names[cam.Name]:
			return fmt.Errorf("camera %s is declared twice", cam.Name)
		}
		names[cam.Name] = true
	}
	if c.DefaultCamera != "" && !names[c.DefaultCamera] {
		return fmt.Errorf("default camera %s is not declared", c.DefaultCamera)
	}
	return nil
}
