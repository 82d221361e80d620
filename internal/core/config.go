// Package core holds the server configuration.
package core

import (
	"strings"
	"time"

	"github.com/gookit/config/v2"
	"github.com/gookit/config/v2/yaml"

	"github.com/strimo-org/strimo/sse"
)

type Broker struct {
	URL     string `config:"url"`
	Channel string `config:"channel"`
}

// Session carries the per-connection tuning knobs; zero values fall back to
// the sse package defaults.
type Session struct {
	HeartbeatIntervalMS  int `config:"heartbeat_interval_ms"`
	BufferSize           int `config:"buffer_size"`
	ThrottleMS           int `config:"throttle_ms"`
	MaxRequestsPerSecond int `config:"max_requests_per_second"`
	AckCapacity          int `config:"ack_capacity"`
	RetryMS              int `config:"retry_ms"`
}

// Options maps the session block onto sse construction options.
func (s Session) Options() sse.Options {
	return sse.Options{
		HeartbeatInterval:    time.Duration(s.HeartbeatIntervalMS) * time.Millisecond,
		BufferSize:           s.BufferSize,
		Throttle:             time.Duration(s.ThrottleMS) * time.Millisecond,
		MaxRequestsPerSecond: s.MaxRequestsPerSecond,
		AckCapacity:          s.AckCapacity,
		Retry:                s.RetryMS,
	}
}

type Config struct {
	ID      string  `config:"id"`
	Addr    string  `config:"addr"`
	JwksURL string  `config:"jwks_url"`
	Broker  Broker  `config:"broker"`
	Session Session `config:"session"`
}

// NewConfig loads path plus an optional .local.yml overlay, with env-var
// interpolation.
func NewConfig(path string) (*Config, error) {
	var appConfig Config

	config.WithOptions(func(opt *config.Options) {
		opt.ParseEnv = true
		opt.DecoderConfig.TagName = "config"
	})

	config.AddDriver(yaml.Driver)

	if err := config.LoadFiles(path); err != nil {
		return nil, err
	}

	if err := config.LoadExists(strings.Replace(path, ".yml", ".local.yml", 1)); err != nil {
		return nil, err
	}

	if err := config.BindStruct("", &appConfig); err != nil {
		return nil, err
	}

	return &appConfig, nil
}
