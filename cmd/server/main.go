package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/concord-chat/chatsync/internal/config"
	"github.com/concord-chat/chatsync/internal/devserver"
	"github.com/concord-chat/chatsync/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	host := flag.String("host", "", "Host to bind to (overrides config)")
	port := flag.Int("port", 0, "Port to bind to (overrides config)")
	flag.Parse()

	cfg, err := config.LoadRelay(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Apply command line overrides
	if *host != "" {
		cfg.Host = *host
	}
	if *port != 0 {
		cfg.Port = *port
	}

	log, closer, err := logging.New(logging.Options{
		Level: cfg.Log.Level,
		File:  cfg.Log.File,
		Out:   os.Stderr,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer closer.Close()

	printBanner()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := devserver.New(cfg, log).Run(ctx); err != nil {
		log.Error().Err(err).Msg("relay failed")
		closer.Close()
		os.Exit(1)
	}
}

func printBanner() {
	banner := `
       _           _                          
   ___| |__   __ _| |_ ___ _   _ _ __   ___ 
  / __| '_ \ / _' | __/ __| | | | '_ \ / __|
 | (__| | | | (_| | |_\__ \ |_| | | | | (__ 
  \___|_| |_|\__,_|\__|___/\__, |_| |_|\___|
                           |___/            
  Development Relay
`
	fmt.Println(banner)
}
