// Command decoyd runs the deception fleet: SSH, HTTP, SMTP, and MySQL
// honeypots plus the decoy e-commerce API, all in one process.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/decoynet/decoyd/internal/classify"
	"github.com/decoynet/decoyd/internal/config"
	"github.com/decoynet/decoyd/internal/decoy"
	"github.com/decoynet/decoyd/internal/event"
	"github.com/decoynet/decoyd/internal/forward"
	mysqlpot "github.com/decoynet/decoyd/internal/honeypot/mysql"
	smtppot "github.com/decoynet/decoyd/internal/honeypot/smtp"
	sshpot "github.com/decoynet/decoyd/internal/honeypot/ssh"
	webpot "github.com/decoynet/decoyd/internal/honeypot/web"
	"github.com/decoynet/decoyd/internal/listener"
	"github.com/decoynet/decoyd/internal/metrics"
	"github.com/decoynet/decoyd/internal/ops"
	"github.com/decoynet/decoyd/internal/session"
)

// eventBufferSize bounds the in-memory ring behind the ops /events endpoint.
const eventBufferSize = 10000

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	setupLogger(cfg)

	log.Info().
		Int("ssh_port", cfg.SSHPort).
		Int("http_port", cfg.HTTPPort).
		Int("smtp_port", cfg.SMTPPort).
		Int("mysql_port", cfg.MySQLPort).
		Int("decoy_port", cfg.DecoyPort).
		Msg("starting decoyd")

	sink := event.NewSink(os.Stdout, log.Logger)
	buffer := event.NewBuffer(eventBufferSize)
	sink.Tap(buffer.Add)

	registry := metrics.NewRegistry()
	bans := session.NewBanTable()

	if cfg.RedisAddr != "" {
		fwd := forward.New(cfg.RedisAddr, log.Logger)
		sink.Tap(fwd.Tap())
		defer fwd.Close()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errs := make(chan error, 8)
	run := func(name string, fn func(context.Context) error) {
		go func() {
			if err := fn(ctx); err != nil {
				errs <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	banTTL := time.Duration(cfg.BanTime) * time.Second
	banSource := func(ip string) {
		bans.Ban(ip, banTTL)
		sink.Emit(&event.Notice{
			Meta:   event.NewMeta(event.TypeIPBanned, ip, 0, session.DeriveID(ip, 0, time.Now().UTC())),
			Detail: map[string]any{"duration": cfg.BanTime},
		})
		log.Warn().Str("ip", ip).Int("duration", cfg.BanTime).Msg("ip banned")
	}

	if cfg.SSHPort > 0 {
		sup := &listener.Supervisor{
			Name:     "ssh",
			Host:     cfg.Host,
			Port:     cfg.SSHPort,
			MaxConns: cfg.SSHMaxConns,
			Bans:     bans,
			Sink:     sink,
			Counters: registry.Listener("ssh"),
			Log:      log.Logger,
			Dialog: &sshpot.Dialog{
				Sink:     sink,
				Counters: registry.Listener("ssh"),
				Attempts: session.NewAttempts(),
				Ban:      banSource,
				Log:      log.With().Str("listener", "ssh").Logger(),
			},
		}
		run("ssh", sup.ListenAndServe)
	}

	if cfg.HTTPPort > 0 {
		sup := &listener.Supervisor{
			Name:     "http",
			Host:     cfg.Host,
			Port:     cfg.HTTPPort,
			MaxConns: cfg.HTTPMaxConns,
			Sink:     sink,
			Counters: registry.Listener("http"),
			Log:      log.Logger,
			Dialog: &webpot.Dialog{
				Sink:       sink,
				Counters:   registry.Listener("http"),
				Classifier: classify.NewHTTP(),
				Pages:      webpot.NewPageProvider(),
				Log:        log.With().Str("listener", "http").Logger(),
			},
		}
		run("http", sup.ListenAndServe)
	}

	if cfg.SMTPPort > 0 {
		sup := &listener.Supervisor{
			Name:     "smtp",
			Host:     cfg.Host,
			Port:     cfg.SMTPPort,
			Sink:     sink,
			Counters: registry.Listener("smtp"),
			Log:      log.Logger,
			Dialog: &smtppot.Dialog{
				Sink:           sink,
				Counters:       registry.Listener("smtp"),
				Hostname:       cfg.SMTPHostname,
				MaxMessageSize: cfg.MaxMessageSize,
				Log:            log.With().Str("listener", "smtp").Logger(),
			},
		}
		run("smtp", sup.ListenAndServe)
	}

	if cfg.MySQLPort > 0 {
		sup := &listener.Supervisor{
			Name:     "mysql",
			Host:     cfg.Host,
			Port:     cfg.MySQLPort,
			MaxConns: cfg.MySQLMaxConns,
			Sink:     sink,
			Counters: registry.Listener("mysql"),
			Log:      log.Logger,
			Dialog: &mysqlpot.Dialog{
				Sink:      sink,
				Counters:  registry.Listener("mysql"),
				Injection: classify.MustCompile(classify.SQLInjectionPatterns),
				Log:       log.With().Str("listener", "mysql").Logger(),
			},
		}
		run("mysql", sup.ListenAndServe)
	}

	if cfg.DecoyPort > 0 {
		api := &decoy.API{
			Sink:     sink,
			Counters: registry.Listener("decoy"),
			Log:      log.With().Str("listener", "decoy").Logger(),
		}
		run("decoy", func(ctx context.Context) error {
			return api.ListenAndServe(ctx, fmt.Sprintf("%s:%d", cfg.Host, cfg.DecoyPort))
		})
	}

	if cfg.OpsPort > 0 {
		srv := ops.NewServer(registry, bans, buffer, log.With().Str("listener", "ops").Logger())
		sink.Tap(srv.Tap())
		run("ops", func(ctx context.Context) error {
			return srv.ListenAndServe(ctx, fmt.Sprintf("127.0.0.1:%d", cfg.OpsPort))
		})
	}

	select {
	case err := <-errs:
		log.Error().Err(err).Msg("listener failed")
		os.Exit(1)
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		// Cancelling ctx closes every in-flight session's connection; nothing
		// waits for the dialogs to return.
		time.Sleep(100 * time.Millisecond)
	}
}

func setupLogger(cfg *config.Config) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.LogFormat == "pretty" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		log.Logger = log.Output(os.Stderr)
	}
}
