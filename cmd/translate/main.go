package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/nmtri/voicebridge/config"
	"github.com/nmtri/voicebridge/translate"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	fs := pflag.NewFlagSet("translate", pflag.ContinueOnError)

	var (
		configPath = fs.StringP("config", "c", "", "path to config file")
		from       = fs.StringP("from", "f", "", "source language (detected when empty)")
		to         = fs.StringP("to", "t", "en", "target language")
		showStats  = fs.Bool("stats", false, "print provider usage after translating")
		logLevel   = fs.StringP("log-level", "l", "warn", "log level")
	)
	if err := fs.Parse(os.Args[1:]); err != nil {
		logger.Fatal().Err(err).Msg("failed to parse command line arguments")
	}

	lvl, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse loglevel")
	}
	logger = logger.Level(lvl)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	text := strings.Join(fs.Args(), " ")
	if text == "" {
		b, readErr := io.ReadAll(os.Stdin)
		if readErr != nil {
			logger.Fatal().Err(readErr).Msg("failed to read stdin")
		}
		text = strings.TrimSpace(string(b))
	}
	if text == "" {
		logger.Fatal().Msg("nothing to translate")
	}

	httpClient := &http.Client{Timeout: 15 * time.Second}
	myMemory := translate.NewMyMemory(cfg.Translate.MyMemoryURL, httpClient)
	libre := translate.NewLibreTranslate(cfg.Translate.LibreURL, cfg.Translate.LibreAPIKey, httpClient)
	lingva := translate.NewLingva(cfg.Translate.LingvaURL, httpClient)

	engine := translate.New(translate.Config{
		Providers: []translate.Provider{myMemory, libre, lingva},
		Detectors: []translate.Detector{myMemory, libre},
		Backoff:   cfg.Translate.Backoff,
		Logger:    &logger,
	})
	cached := translate.NewCached(engine, cfg.Translate.CacheTTL)
	defer cached.Stop()

	ctx := context.Background()

	source := *from
	if source == "" {
		source = engine.DetectLanguage(ctx, text)
		logger.Info().Str("language", source).Msg("detected source language")
	}

	out, err := cached.Translate(ctx, text, source, *to)
	if err != nil {
		logger.Fatal().Err(err).Msg("translation unavailable")
	}
	fmt.Println(out)

	if *showStats {
		stats := engine.Stats()
		fmt.Fprintf(os.Stderr, "current provider: %s\n", stats.CurrentProvider)
		for _, name := range stats.Providers {
			fmt.Fprintf(os.Stderr, "  %-16s %d requests\n", name, stats.Usage[name])
		}
	}
}
