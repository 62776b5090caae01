// Robbie - companion robot that tracks faces, recognizes people and talks
// with them.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/teslashibe/go-robbie/internal/config"
	"github.com/teslashibe/go-robbie/internal/log"
	"github.com/teslashibe/go-robbie/pkg/robbie"
)

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(2)
	}
	log.Init(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := robbie.New(cfg)
	if err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(2)
	}
	if err := app.Init(ctx); err != nil {
		log.Error("initialization failed", "error", err)
		app.Shutdown()
		os.Exit(1)
	}
	defer app.Shutdown()

	if err := app.Run(ctx); err != nil {
		log.Error("runtime error", "error", err)
		app.Shutdown()
		os.Exit(1)
	}
	log.Info("Robbie stopped")
}

// parseFlags loads the config file and applies the command line on top.
func parseFlags() (*config.Config, error) {
	path := flag.String("config", "", "YAML configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	cameraSource := flag.String("camera", "", "Camera source: local or webrtc")
	webPort := flag.Int("web-port", 0, "Dashboard port (0 keeps the configured address, -1 disables)")
	noVoice := flag.Bool("no-voice", false, "Synthesize speech but do not play it")
	flag.Parse()

	var (
		cfg *config.Config
		err error
	)
	if *path != "" {
		cfg, err = config.Load(*path)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.Default()
		cfg.ApplyEnv()
	}

	if *debug {
		cfg.LogLevel = "debug"
	}
	if *cameraSource != "" {
		cfg.Camera.Source = *cameraSource
	}
	switch {
	case *webPort > 0:
		cfg.Web.Addr = fmt.Sprintf(":%d", *webPort)
	case *webPort < 0:
		cfg.Web.Addr = ""
	}
	if *noVoice {
		cfg.Voice.Enabled = false
	}
	return cfg, cfg.Validate()
}
