package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/courier/internal/channel/mem"
	"github.com/danmuck/courier/internal/codec"
	"github.com/danmuck/courier/internal/stack"
)

var ErrInvalid = errors.New("config: invalid")

// Transport selects the channel binding.
type Transport string

const (
	TransportUDP       Transport = "udp"
	TransportTCP       Transport = "tcp"
	TransportWebSocket Transport = "websocket"
	TransportNATS      Transport = "nats"
	TransportMem       Transport = "mem"
)

// NATSConfig names the server and subject pair for the nats transport.
type NATSConfig struct {
	URL      string
	Outbound string
	Inbound  string
}

// Config is the runtime configuration of one courier peer.
type Config struct {
	Name      string
	Transport Transport
	// Listen is the local address to bind or accept on.
	Listen string
	// Peer is the remote address to connect to.
	Peer string
	// Path is the HTTP path of the websocket endpoint.
	Path string
	// ConnectAttempts bounds tcp and websocket dials; 0 retries until the
	// context ends.
	ConnectAttempts int
	Layers          []stack.Layer
	AdminAddr       string
	// AdminToken, when set, is required as a bearer token on /stats and
	// /metrics.
	AdminToken  string
	CorsOrigins []string
	Codec       string
	Stack       stack.Config
	Faults      mem.Faults
	NATS        NATSConfig
	TLS         TLSConfig
}

// Default returns a two-peer UDP config with the full reliable ordered stack.
func Default() Config {
	st := stack.DefaultConfig()
	return Config{
		Name:            st.Name,
		Transport:       TransportUDP,
		Listen:          "127.0.0.1:7400",
		Peer:            "127.0.0.1:7401",
		Path:            "/courier",
		ConnectAttempts: 10,
		Layers:          []stack.Layer{stack.LayerNumbered, stack.LayerReliable, stack.LayerOrdered},
		AdminAddr:       "127.0.0.1:7410",
		Codec:           codec.JSON().ContentType(),
		Stack:           st,
		NATS: NATSConfig{
			URL:      "nats://127.0.0.1:4222",
			Outbound: "courier.a",
			Inbound:  "courier.b",
		},
	}
}

// config.toml key mapping.
type fileConfig struct {
	Name        string     `toml:"name"`
	Transport   string     `toml:"transport"`
	Listen      string     `toml:"listen"`
	Peer        string     `toml:"peer"`
	Path        string     `toml:"path"`
	Connect     int        `toml:"connect_attempts"`
	Layers      []string   `toml:"layers"`
	AdminAddr   string     `toml:"admin_addr"`
	AdminToken  string     `toml:"admin_token"`
	CorsOrigins []string   `toml:"cors_origins"`
	Codec       string     `toml:"codec"`
	Stack       fileStack  `toml:"stack"`
	Faults      fileFaults `toml:"faults"`
	NATS        fileNATS   `toml:"nats"`
	TLS         fileTLS    `toml:"tls"`
}

type fileStack struct {
	RetryInterval string      `toml:"retry_interval"`
	MaxRetries    int         `toml:"max_retries"`
	Origin        uint64      `toml:"origin"`
	CheckInterval string      `toml:"check_interval"`
	Backoff       fileBackoff `toml:"backoff"`
}

type fileBackoff struct {
	Multiplier float64 `toml:"multiplier"`
	MaxDelay   string  `toml:"max_delay"`
	Jitter     bool    `toml:"jitter"`
}

type fileFaults struct {
	DropRate      float64 `toml:"drop_rate"`
	DuplicateRate float64 `toml:"duplicate_rate"`
	ReorderRate   float64 `toml:"reorder_rate"`
	Seed          int64   `toml:"seed"`
}

type fileNATS struct {
	URL      string `toml:"url"`
	Outbound string `toml:"outbound"`
	Inbound  string `toml:"inbound"`
}

// Load reads path over Default and validates the result.
func Load(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load courier config (%s): %w", path, err)
	}
	cfg, err := overlay(Default(), raw, meta)
	if err != nil {
		return Config{}, fmt.Errorf("load courier config (%s): %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("load courier config (%s): %w", path, err)
	}
	return cfg, nil
}

// Parse is Load for in-memory TOML.
func Parse(data string) (Config, error) {
	var raw fileConfig
	meta, err := toml.Decode(data, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("parse courier config: %w", err)
	}
	cfg, err := overlay(Default(), raw, meta)
	if err != nil {
		return Config{}, err
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func overlay(cfg Config, raw fileConfig, meta toml.MetaData) (Config, error) {
	if meta.IsDefined("name") {
		cfg.Name = strings.TrimSpace(raw.Name)
		cfg.Stack.Name = cfg.Name
	}
	if meta.IsDefined("transport") {
		cfg.Transport = Transport(strings.ToLower(strings.TrimSpace(raw.Transport)))
	}
	if meta.IsDefined("listen") {
		cfg.Listen = strings.TrimSpace(raw.Listen)
	}
	if meta.IsDefined("peer") {
		cfg.Peer = strings.TrimSpace(raw.Peer)
	}
	if meta.IsDefined("path") {
		cfg.Path = strings.TrimSpace(raw.Path)
	}
	if meta.IsDefined("connect_attempts") {
		cfg.ConnectAttempts = raw.Connect
	}
	if meta.IsDefined("layers") {
		layers, err := stack.ParseLayers(raw.Layers)
		if err != nil {
			return Config{}, err
		}
		cfg.Layers = layers
	}
	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("admin_token") {
		cfg.AdminToken = strings.TrimSpace(raw.AdminToken)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = raw.CorsOrigins
	}
	if meta.IsDefined("codec") {
		cfg.Codec = strings.TrimSpace(raw.Codec)
	}

	var err error
	if meta.IsDefined("stack", "retry_interval") {
		if cfg.Stack.RetryInterval, err = parseDuration("stack.retry_interval", raw.Stack.RetryInterval); err != nil {
			return Config{}, err
		}
		if !meta.IsDefined("stack", "check_interval") {
			cfg.Stack.CheckInterval = 0
		}
	}
	if meta.IsDefined("stack", "max_retries") {
		cfg.Stack.MaxRetries = raw.Stack.MaxRetries
	}
	if meta.IsDefined("stack", "origin") {
		cfg.Stack.Origin = raw.Stack.Origin
	}
	if meta.IsDefined("stack", "check_interval") {
		if cfg.Stack.CheckInterval, err = parseDuration("stack.check_interval", raw.Stack.CheckInterval); err != nil {
			return Config{}, err
		}
	}
	if meta.IsDefined("stack", "backoff", "multiplier") {
		cfg.Stack.Backoff.Multiplier = raw.Stack.Backoff.Multiplier
	}
	if meta.IsDefined("stack", "backoff", "max_delay") {
		if cfg.Stack.Backoff.MaxDelay, err = parseDuration("stack.backoff.max_delay", raw.Stack.Backoff.MaxDelay); err != nil {
			return Config{}, err
		}
	}
	if meta.IsDefined("stack", "backoff", "jitter") {
		cfg.Stack.Backoff.Jitter = raw.Stack.Backoff.Jitter
	}

	if meta.IsDefined("faults") {
		cfg.Faults = mem.Faults{
			DropRate:      raw.Faults.DropRate,
			DuplicateRate: raw.Faults.DuplicateRate,
			ReorderRate:   raw.Faults.ReorderRate,
			Seed:          raw.Faults.Seed,
		}
	}

	if meta.IsDefined("nats", "url") {
		cfg.NATS.URL = strings.TrimSpace(raw.NATS.URL)
	}
	if meta.IsDefined("nats", "outbound") {
		cfg.NATS.Outbound = strings.TrimSpace(raw.NATS.Outbound)
	}
	if meta.IsDefined("nats", "inbound") {
		cfg.NATS.Inbound = strings.TrimSpace(raw.NATS.Inbound)
	}

	if meta.IsDefined("tls") {
		cfg.TLS = TLSConfig{
			Enabled:            raw.TLS.Enabled,
			CertFile:           strings.TrimSpace(raw.TLS.CertFile),
			KeyFile:            strings.TrimSpace(raw.TLS.KeyFile),
			CAFile:             strings.TrimSpace(raw.TLS.CAFile),
			ServerName:         strings.TrimSpace(raw.TLS.ServerName),
			Mutual:             raw.TLS.Mutual,
			InsecureSkipVerify: raw.TLS.InsecureSkipVerify,
		}
	}
	return cfg, nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalid, key, err)
	}
	return d, nil
}

// HasFaults reports whether any fault rate is set.
func (c Config) HasFaults() bool {
	return c.Faults.DropRate > 0 || c.Faults.DuplicateRate > 0 || c.Faults.ReorderRate > 0
}

func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalid)
	}
	switch cfg.Transport {
	case TransportUDP:
		if cfg.Peer == "" {
			return fmt.Errorf("%w: udp transport requires peer", ErrInvalid)
		}
	case TransportTCP, TransportWebSocket:
		if cfg.Listen == "" && cfg.Peer == "" {
			return fmt.Errorf("%w: %s transport requires listen or peer", ErrInvalid, cfg.Transport)
		}
		if cfg.Transport == TransportWebSocket && !strings.HasPrefix(cfg.Path, "/") {
			return fmt.Errorf("%w: websocket path must start with /", ErrInvalid)
		}
	case TransportNATS:
		if cfg.NATS.Outbound == "" || cfg.NATS.Inbound == "" || cfg.NATS.Outbound == cfg.NATS.Inbound {
			return fmt.Errorf("%w: nats transport requires distinct outbound and inbound subjects", ErrInvalid)
		}
	case TransportMem:
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalid, cfg.Transport)
	}
	if cfg.ConnectAttempts < 0 {
		return fmt.Errorf("%w: connect_attempts must be >= 0", ErrInvalid)
	}
	if cfg.TLS.Enabled && cfg.Transport != TransportTCP {
		return fmt.Errorf("%w: tls is only supported on the tcp transport", ErrInvalid)
	}
	if err := cfg.TLS.validate(cfg.Peer != ""); err != nil {
		return err
	}
	if err := stack.ValidateLayers(cfg.Layers...); err != nil {
		return err
	}
	if err := cfg.Stack.WithDefaults().Validate(); err != nil {
		return err
	}
	for name, rate := range map[string]float64{
		"drop_rate":      cfg.Faults.DropRate,
		"duplicate_rate": cfg.Faults.DuplicateRate,
		"reorder_rate":   cfg.Faults.ReorderRate,
	} {
		if rate < 0 || rate >= 1 {
			return fmt.Errorf("%w: faults.%s must be in [0, 1)", ErrInvalid, name)
		}
	}
	if _, err := codec.NewRegistry().Lookup(cfg.Codec); err != nil {
		return err
	}
	return nil
}
