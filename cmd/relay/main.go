package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pysugar/gmail-relay/internal/auth/flow"
	googleauth "github.com/pysugar/gmail-relay/internal/auth/google"
	"github.com/pysugar/gmail-relay/internal/auth/token"
	"github.com/pysugar/gmail-relay/internal/config"
	"github.com/pysugar/gmail-relay/internal/db"
	"github.com/pysugar/gmail-relay/internal/gmail"
	"github.com/pysugar/gmail-relay/internal/relay"
	"github.com/pysugar/gmail-relay/internal/setup"
	"github.com/pysugar/gmail-relay/internal/smtpd"
	"github.com/pysugar/gmail-relay/internal/version"
)

const shutdownGrace = 10 * time.Second

func main() {
	setupOnly := flag.Bool("setup", false, "run the OAuth setup UI only")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	database, err := db.InitDB(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	store := db.NewStore(database)

	oauthCfg := googleauth.NewOAuthConfig(cfg.ClientID, cfg.ClientSecret, cfg.RedirectURI)
	tokens := token.NewManager(store, oauthCfg)
	authFlow := flow.New(oauthCfg, store, tokens)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	authFlow.StartSweepLoop(ctx)

	setupSrv := setup.NewServer(cfg.SetupAddr, cfg.SMTPAddr(), authFlow)

	log.Printf("🚀 gmail-relay %s starting", version.Version)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(setupSrv.ListenAndServe)
	g.Go(func() error {
		<-gctx.Done()
		log.Println("🛑 Shutting down setup UI...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return setupSrv.Shutdown(shutdownCtx)
	})

	if !*setupOnly {
		pipeline := relay.NewPipeline(tokens, gmail.NewClient())
		smtpSrv := smtpd.NewServer(cfg.SMTPAddr(), cfg.SMTPDomain, cfg.TLSRequired, cfg.AuthOptional, tokens, pipeline)
		g.Go(smtpSrv.ListenAndServe)
		g.Go(func() error {
			<-gctx.Done()
			log.Println("🛑 Shutting down SMTP relay...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			return smtpSrv.Shutdown(shutdownCtx)
		})
	} else {
		log.Println("⚙️ Setup-only mode enabled")
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Server failed: %v", err)
	}
	log.Println("✅ Shutdown complete")
}
