package main

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/danmuck/courier/internal/config"
	"github.com/danmuck/courier/internal/stack"
)

// overrides are command-line values applied over the config file.
type overrides struct {
	name      string
	transport string
	listen    string
	peer      string
	layers    string
	admin     string
}

// loadConfig reads path, falling back to defaults when it does not exist,
// then applies flag overrides and validates the result.
func loadConfig(path string, opts overrides) (config.Config, error) {
	cfg, err := config.Load(path)
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist):
		cfg = config.Default()
	default:
		return config.Config{}, err
	}

	if v := strings.TrimSpace(opts.name); v != "" {
		cfg.Name = v
	}
	if v := strings.TrimSpace(opts.transport); v != "" {
		cfg.Transport = config.Transport(strings.ToLower(v))
	}
	if v := strings.TrimSpace(opts.listen); v != "" {
		cfg.Listen = v
	}
	if v := strings.TrimSpace(opts.peer); v != "" {
		cfg.Peer = v
	}
	if v := strings.TrimSpace(opts.layers); v != "" {
		layers, err := stack.ParseLayers(strings.Split(v, ","))
		if err != nil {
			return config.Config{}, err
		}
		cfg.Layers = layers
	}
	switch v := strings.TrimSpace(opts.admin); v {
	case "":
	case "off":
		cfg.AdminAddr = ""
	default:
		cfg.AdminAddr = v
	}

	if err := config.Validate(cfg); err != nil {
		return config.Config{}, fmt.Errorf("courierctl config: %w", err)
	}
	return cfg, nil
}
