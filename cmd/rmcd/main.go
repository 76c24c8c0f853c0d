// Command rmcd runs the RMC relay daemon: it serves the relay and
// application HTTP APIs, dispatches outbound packets, and supervises
// acknowledgments.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/relaymesh/go-rmc/internal/config"
	"github.com/relaymesh/go-rmc/internal/sender"
	"github.com/relaymesh/go-rmc/internal/server"
	"github.com/relaymesh/go-rmc/internal/storage"
	"github.com/relaymesh/go-rmc/pkg/channel"
	"github.com/relaymesh/go-rmc/pkg/compression"
	"github.com/relaymesh/go-rmc/pkg/discovery"
	"github.com/relaymesh/go-rmc/pkg/engine"
	"github.com/relaymesh/go-rmc/pkg/exchange"
	"github.com/relaymesh/go-rmc/pkg/identity"
	"github.com/relaymesh/go-rmc/pkg/reliability"
	"github.com/relaymesh/go-rmc/pkg/transport"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "rmcd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}

	registry := channel.NewRegistry()
	for _, chCfg := range cfg.Channels {
		pattern, err := exchange.Parse(chCfg.Pattern)
		if err != nil {
			return fmt.Errorf("channel %s: %w", chCfg.ID, err)
		}
		if _, err := registry.Establish(channel.Config{
			ChannelID:       chCfg.ID,
			LocalPort:       chCfg.LocalPort,
			RemotePort:      chCfg.RemotePort,
			RemoteChannelID: chCfg.RemoteChannelID,
			SequenceStart:   chCfg.SequenceStart,
			Pattern:         pattern,
			Compress:        chCfg.Compress,
		}); err != nil {
			return fmt.Errorf("establishing channel %s: %w", chCfg.ID, err)
		}
		logger.Info().Str("channel", chCfg.ID).Msg("channel established")
	}

	eng, err := engine.New(engine.Config{
		Registry:     registry,
		Ledger:       store,
		EventHandler: logEvents(logger),
	})
	if err != nil {
		return err
	}

	resolver, err := newResolver(cfg.Discovery)
	if err != nil {
		return err
	}

	// The transport's acknowledgment path and the dispatcher reference
	// each other; the closure breaks the construction cycle.
	var disp *sender.Dispatcher
	tr := transport.NewHTTPTransport(nil,
		discovery.Endpoints(resolver),
		transport.WithAck(func(ctx context.Context, id identity.MessageID, success bool, ack []byte) error {
			return disp.Ack(ctx, id, success, ack)
		}),
		transport.WithCompressor(compression.NewGzip()),
	)

	disp = sender.NewDispatcher(eng, tr, &sender.Config{
		Policy: reliability.Policy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			Interval:    cfg.Retry.Interval,
			Multiplier:  cfg.Retry.Multiplier,
		},
		SweepInterval: cfg.Retry.SweepInterval,
	}, logger)
	disp.Start(ctx)
	defer disp.Stop()

	srv := server.New(cfg, store, eng, disp, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(fmt.Sprintf(":%d", cfg.Server.Port))
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newLogger(cfg config.LoggingConfig) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("parsing log level: %w", err)
	}

	var out = os.Stderr
	logger := zerolog.New(out)
	if cfg.Pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: out})
	}
	return logger.Level(level).With().Timestamp().Logger(), nil
}

func newResolver(cfg config.DiscoveryConfig) (discovery.Resolver, error) {
	switch cfg.Mode {
	case "static":
		return discovery.NewStaticResolver(cfg.Endpoints), nil
	case "dns":
		return discovery.NewDNSResolver(discovery.DNSResolverConfig{
			Domains:       cfg.Domains,
			DefaultDomain: cfg.DefaultDomain,
			DNSServer:     cfg.DNSServer,
		}), nil
	default:
		return nil, fmt.Errorf("unknown discovery mode %q", cfg.Mode)
	}
}

// logEvents surfaces engine lifecycle events in the daemon log.
func logEvents(logger zerolog.Logger) engine.EventHandler {
	return func(ev engine.Event) {
		logger.Debug().
			Str("event", string(ev.Type)).
			Str("message_id", ev.MessageID.String()).
			Str("channel", ev.ChannelID).
			Uint64("sequence", ev.Sequence).
			Str("state", string(ev.After)).
			Msg("engine event")
	}
}
