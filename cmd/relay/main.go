package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/nmtri/voicebridge/config"
	"github.com/nmtri/voicebridge/relay"
	"github.com/nmtri/voicebridge/service"
	httpServer "github.com/nmtri/voicebridge/server/http"
	websocketServer "github.com/nmtri/voicebridge/server/websocket"
	"github.com/nmtri/voicebridge/storage/memory"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	fs := pflag.NewFlagSet("relay", pflag.ContinueOnError)

	var (
		configPath    = fs.StringP("config", "c", "", "path to config file")
		apiListenAddr = fs.StringP("api-listen-addr", "a", "", "status api listen address")
		wsListenAddr  = fs.StringP("ws-listen-addr", "w", "", "websocket relay listen address")
		logLevel      = fs.StringP("log-level", "l", "", "log level")
	)
	if err := fs.Parse(os.Args[1:]); err != nil {
		logger.Fatal().Err(err).Msg("failed to parse command line arguments")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if *apiListenAddr != "" {
		cfg.APIListenAddr = *apiListenAddr
	}
	if *wsListenAddr != "" {
		cfg.WSListenAddr = *wsListenAddr
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse loglevel")
	}
	logger = logger.Level(lvl)

	svc := service.NewService(service.Config{
		RoomStore:   memory.NewStore(),
		Broadcaster: relay.NewSwitch(&logger),
		Logger:      &logger,
	})
	httpSrv := httpServer.NewServer(httpServer.Config{
		Logger:      &logger,
		RoomService: svc,
		ListenAddr:  cfg.APIListenAddr,
	})
	wsSrv := websocketServer.NewServer(websocketServer.Config{
		Logger:       &logger,
		RelayService: svc,
		ListenAddr:   cfg.WSListenAddr,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var (
		wg   = &sync.WaitGroup{}
		errc = make(chan error, 2)
	)
	wg.Add(2)
	go httpSrv.Run(ctx, wg, errc)
	go wsSrv.Run(ctx, wg, errc)

	select {
	case err = <-errc:
		logger.Error().Err(err).Msg("unexpected server error, shutting down")
	case <-ctx.Done():
		logger.Warn().Msg("interrupted")
	}
	cancel()
	wg.Wait()
}
