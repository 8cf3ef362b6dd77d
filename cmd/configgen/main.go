package main

import (
	"flag"
	"log"

	"github.com/danmuck/courier/internal/config"
)

func main() {
	kind := flag.String("kind", "udp", "config kind: udp|tcp|websocket|nats|mem")
	output := flag.String("output", "cmd/courierctl/config.toml", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "cmd/courierctl/config.toml", "config path for validation")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		cfg, err := config.Load(*input)
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated %s config at %s (layers=%v)", cfg.Transport, *input, cfg.Layers)
		return
	}

	if err := config.WriteTemplate(*output, *kind, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s config template to %s", *kind, *output)
}
