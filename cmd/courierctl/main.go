package main

import (
	"flag"
	"fmt"
	"os"

	logs "github.com/danmuck/courier/internal/logging"
	"github.com/danmuck/courier/internal/peer"
)

func main() {
	logs.ConfigureRuntime()

	var opts overrides
	configPath := flag.String("config", "cmd/courierctl/config.toml", "config path")
	flag.StringVar(&opts.name, "name", "", "peer name")
	flag.StringVar(&opts.transport, "transport", "", "transport: udp|tcp|websocket|nats|mem")
	flag.StringVar(&opts.listen, "listen", "", "local listen address")
	flag.StringVar(&opts.peer, "peer", "", "remote peer address")
	flag.StringVar(&opts.layers, "layers", "", "comma-separated layers, innermost first")
	flag.StringVar(&opts.admin, "admin", "", "admin listen address (\"off\" disables)")
	flag.Parse()

	cfg, err := loadConfig(*configPath, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "courierctl: %v\n", err)
		os.Exit(1)
	}
	logs.Infof("courierctl config=%s name=%s transport=%s", *configPath, cfg.Name, cfg.Transport)

	svc := peer.NewService(cfg, os.Stdin, os.Stdout)
	if err := svc.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "courierctl: %v\n", err)
		os.Exit(1)
	}
}
