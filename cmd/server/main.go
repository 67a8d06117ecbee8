// Command bourse-server runs the "bourse" exchange server: a multi-client
// TCP service driving a continuous double-auction order book for one
// commodity against a fiat currency.
//
// Architecture overview:
//
//	┌──────────┐   accept    ┌─────────┐   dispatch   ┌───────────┐
//	│  Listener│────────────▶│ Session │─────────────▶│  Accounts │
//	└──────────┘             └────┬────┘              └───────────┘
//	                               │ post/cancel
//	                               ▼
//	                         ┌───────────┐   wake    ┌─────────────┐
//	                         │  Exchange │──────────▶│  Matchmaker │
//	                         └─────┬─────┘           └──────┬──────┘
//	                               │ broadcast               │ settle
//	                               ▼                         ▼
//	                         ┌───────────┐            ┌───────────┐
//	                         │  Traders  │◀───────────│  Accounts │
//	                         └───────────┘            └───────────┘
//
// SIGHUP triggers a graceful shutdown: every live connection is half-
// closed, service goroutines drain, the matchmaker is finalized, and the
// process exits.
package main

import (
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rishavpaul/bourse/internal/accounts"
	"github.com/rishavpaul/bourse/internal/config"
	"github.com/rishavpaul/bourse/internal/connreg"
	"github.com/rishavpaul/bourse/internal/exchange"
	"github.com/rishavpaul/bourse/internal/session"
	"github.com/rishavpaul/bourse/internal/traders"
	"github.com/rs/zerolog"
)

func main() {
	configPath := flag.String("config", "", "path to a config file (optional)")
	listenAddr := flag.String("listen", "", "override the listen address (e.g. :6190)")
	logLevel := flag.String("log-level", "", "override the log level (debug/info/warn/error)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		zerolog.New(os.Stderr).With().Timestamp().Logger().Fatal().Err(err).Msg("failed to load config")
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(zerolog.NewConsoleWriter()).
		Level(level).
		With().Timestamp().Str("component", "main").Logger()

	acctStore := accounts.NewStore(cfg.MaxAccounts)
	traderReg := traders.NewRegistry(cfg.MaxTraders)
	xchg := exchange.New(traderReg, log)
	xchg.SetDepthLevels(cfg.DepthLevels)
	connReg := connreg.New()

	deps := session.Deps{
		Accounts: acctStore,
		Traders:  traderReg,
		Exchange: xchg,
		ConnReg:  connReg,
		Log:      log,
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.ListenAddr).Msg("failed to listen")
	}
	log.Info().Str("addr", cfg.ListenAddr).Msg("bourse server listening")

	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)

	acceptDone := make(chan struct{})
	go acceptLoop(ln, deps, log, acceptDone)

	select {
	case <-sighup:
		log.Info().Msg("received SIGHUP, shutting down gracefully")
	case <-sigint:
		log.Info().Msg("received interrupt, shutting down gracefully")
	}

	ln.Close()
	<-acceptDone

	connReg.ShutdownAll()
	log.Debug().Msg("waiting for service goroutines to terminate")
	connReg.WaitForEmpty()
	log.Debug().Msg("all service goroutines terminated")

	xchg.Finalize()
	log.Info().Msg("bourse server terminating")
}

func acceptLoop(ln net.Listener, deps session.Deps, log zerolog.Logger, done chan struct{}) {
	defer close(done)
	for {
		conn, err := ln.Accept()
		if err != nil {
			log.Debug().Err(err).Msg("listener closed, accept loop exiting")
			return
		}
		if tc, ok := conn.(*net.TCPConn); ok {
			_ = tc.SetKeepAlive(true)
			_ = tc.SetKeepAlivePeriod(30 * time.Second)
		}
		s := session.New(conn, deps)
		go s.Run()
	}
}
