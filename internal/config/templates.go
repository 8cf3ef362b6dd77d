package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Template renders the config for kind: "udp", "tcp", "websocket", "nats"
// or "mem". Each is Default with the transport switched and the addresses
// it needs filled in.
func Template(kind string) (string, error) {
	cfg := Default()
	switch Transport(strings.ToLower(strings.TrimSpace(kind))) {
	case TransportUDP:
	case TransportTCP:
		cfg.Transport = TransportTCP
	case TransportWebSocket:
		cfg.Transport = TransportWebSocket
		cfg.Peer = ""
		cfg.CorsOrigins = []string{"http://localhost:3000"}
	case TransportNATS:
		cfg.Transport = TransportNATS
		cfg.Listen = ""
		cfg.Peer = ""
	case TransportMem:
		cfg.Transport = TransportMem
		cfg.Listen = ""
		cfg.Peer = ""
		cfg.Faults.DropRate = 0.1
		cfg.Faults.DuplicateRate = 0.05
		cfg.Faults.ReorderRate = 0.1
		cfg.Faults.Seed = 1
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
	out, err := toml.Marshal(toFile(cfg))
	if err != nil {
		return "", fmt.Errorf("render %s template: %w", kind, err)
	}
	return string(out), nil
}

// Render encodes cfg as config.toml.
func Render(cfg Config) ([]byte, error) {
	return toml.Marshal(toFile(cfg))
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

func toFile(cfg Config) fileConfig {
	layers := make([]string, 0, len(cfg.Layers))
	for _, l := range cfg.Layers {
		layers = append(layers, string(l))
	}
	origins := cfg.CorsOrigins
	if origins == nil {
		origins = []string{}
	}
	st := cfg.Stack.WithDefaults()
	return fileConfig{
		Name:        cfg.Name,
		Transport:   string(cfg.Transport),
		Listen:      cfg.Listen,
		Peer:        cfg.Peer,
		Path:        cfg.Path,
		Connect:     cfg.ConnectAttempts,
		Layers:      layers,
		AdminAddr:   cfg.AdminAddr,
		AdminToken:  cfg.AdminToken,
		CorsOrigins: origins,
		Codec:       cfg.Codec,
		Stack: fileStack{
			RetryInterval: st.RetryInterval.String(),
			MaxRetries:    st.MaxRetries,
			Origin:        st.Origin,
			CheckInterval: st.CheckInterval.String(),
			Backoff: fileBackoff{
				Multiplier: st.Backoff.Multiplier,
				MaxDelay:   st.Backoff.MaxDelay.String(),
				Jitter:     st.Backoff.Jitter,
			},
		},
		Faults: fileFaults{
			DropRate:      cfg.Faults.DropRate,
			DuplicateRate: cfg.Faults.DuplicateRate,
			ReorderRate:   cfg.Faults.ReorderRate,
			Seed:          cfg.Faults.Seed,
		},
		NATS: fileNATS{
			URL:      cfg.NATS.URL,
			Outbound: cfg.NATS.Outbound,
			Inbound:  cfg.NATS.Inbound,
		},
		TLS: fileTLS{
			Enabled:            cfg.TLS.Enabled,
			CertFile:           cfg.TLS.CertFile,
			KeyFile:            cfg.TLS.KeyFile,
			CAFile:             cfg.TLS.CAFile,
			ServerName:         cfg.TLS.ServerName,
			Mutual:             cfg.TLS.Mutual,
			InsecureSkipVerify: cfg.TLS.InsecureSkipVerify,
		},
	}
}
