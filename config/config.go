// Package config loads ws-rpc settings from a TOML file. Keys absent from
// the file keep their defaults.
package config

import (
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/juju/errors"

	"ws-rpc/codec"
	"ws-rpc/loadbalance"
)

type Config struct {
	// Address is the server a client opens, e.g. ws://127.0.0.1:7070/rpc.
	// Empty means resolve Registry.Service instead.
	Address  string
	Codec    codec.CodecType
	LogLevel string
	Server   ServerConfig
	Registry RegistryConfig
}

type ServerConfig struct {
	Listen         string
	Path           string
	RateLimit      float64 // requests per second, 0 disables
	RateBurst      int
	HandlerTimeout time.Duration // 0 disables
	MetricsListen  string        // empty disables
}

type RegistryConfig struct {
	Endpoints []string // empty disables discovery
	Service   string
	TTL       int64 // seconds
	Advertise string
	Balancer  string
}

func Default() Config {
	return Config{
		Address:  "",
		Codec:    codec.CodecTypeMsgpack,
		LogLevel: "info",
		Server: ServerConfig{
			Listen:         "127.0.0.1:7070",
			Path:           "/rpc",
			RateBurst:      1,
			HandlerTimeout: 30 * time.Second,
		},
		Registry: RegistryConfig{
			Service:  "calc",
			TTL:      10,
			Balancer: "round-robin",
		},
	}
}

// config.toml key mapping.
type fileConfig struct {
	Address  string `toml:"address"`
	Codec    string `toml:"codec"`
	LogLevel string `toml:"log_level"`
	Server   struct {
		Listen         string  `toml:"listen"`
		Path           string  `toml:"path"`
		RateLimit      float64 `toml:"rate_limit"`
		RateBurst      int     `toml:"rate_burst"`
		HandlerTimeout string  `toml:"handler_timeout"`
		MetricsListen  string  `toml:"metrics_listen"`
	} `toml:"server"`
	Registry struct {
		Endpoints []string `toml:"endpoints"`
		Service   string   `toml:"service"`
		TTL       int64    `toml:"ttl"`
		Advertise string   `toml:"advertise"`
		Balancer  string   `toml:"balancer"`
	} `toml:"registry"`
}

// Load reads path over Default.
func Load(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, errors.Annotatef(err, "loading config %s", path)
	}
	return overlay(raw, meta)
}

// Parse reads TOML text over Default.
func Parse(text string) (Config, error) {
	var raw fileConfig
	meta, err := toml.Decode(text, &raw)
	if err != nil {
		return Config{}, errors.Annotate(err, "parsing config")
	}
	return overlay(raw, meta)
}

func overlay(raw fileConfig, meta toml.MetaData) (Config, error) {
	cfg := Default()
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, errors.NotValidf("config key %q", undecoded[0].String())
	}

	if meta.IsDefined("address") {
		cfg.Address = strings.TrimSpace(raw.Address)
	}
	if meta.IsDefined("codec") {
		t, err := codec.ParseCodecType(strings.TrimSpace(raw.Codec))
		if err != nil {
			return Config{}, errors.Trace(err)
		}
		cfg.Codec = t
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}

	if meta.IsDefined("server", "listen") {
		cfg.Server.Listen = strings.TrimSpace(raw.Server.Listen)
	}
	if meta.IsDefined("server", "path") {
		cfg.Server.Path = strings.TrimSpace(raw.Server.Path)
	}
	if meta.IsDefined("server", "rate_limit") {
		cfg.Server.RateLimit = raw.Server.RateLimit
	}
	if meta.IsDefined("server", "rate_burst") {
		cfg.Server.RateBurst = raw.Server.RateBurst
	}
	if meta.IsDefined("server", "handler_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Server.HandlerTimeout))
		if err != nil {
			return Config{}, errors.NotValidf("server.handler_timeout %q", raw.Server.HandlerTimeout)
		}
		cfg.Server.HandlerTimeout = d
	}
	if meta.IsDefined("server", "metrics_listen") {
		cfg.Server.MetricsListen = strings.TrimSpace(raw.Server.MetricsListen)
	}

	if meta.IsDefined("registry", "endpoints") {
		cfg.Registry.Endpoints = raw.Registry.Endpoints
	}
	if meta.IsDefined("registry", "service") {
		cfg.Registry.Service = strings.TrimSpace(raw.Registry.Service)
	}
	if meta.IsDefined("registry", "ttl") {
		cfg.Registry.TTL = raw.Registry.TTL
	}
	if meta.IsDefined("registry", "advertise") {
		cfg.Registry.Advertise = strings.TrimSpace(raw.Registry.Advertise)
	}
	if meta.IsDefined("registry", "balancer") {
		cfg.Registry.Balancer = strings.TrimSpace(raw.Registry.Balancer)
	}

	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if !strings.HasPrefix(c.Server.Path, "/") {
		return errors.NotValidf("server.path %q (must start with /)", c.Server.Path)
	}
	if c.Server.RateLimit < 0 {
		return errors.NotValidf("server.rate_limit %v", c.Server.RateLimit)
	}
	if c.Server.RateLimit > 0 && c.Server.RateBurst < 1 {
		return errors.NotValidf("server.rate_burst %d", c.Server.RateBurst)
	}
	if c.Server.HandlerTimeout < 0 {
		return errors.NotValidf("server.handler_timeout %v", c.Server.HandlerTimeout)
	}
	if len(c.Registry.Endpoints) > 0 {
		if c.Registry.Service == "" {
			return errors.NotValidf("empty registry.service")
		}
		if c.Registry.TTL <= 0 {
			return errors.NotValidf("registry.ttl %d", c.Registry.TTL)
		}
		if _, err := loadbalance.New(c.Registry.Balancer, ""); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}
