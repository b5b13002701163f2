package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"signupboard/internal/adapters/activityapi"
	emailPkg "signupboard/internal/adapters/email"
	web "signupboard/internal/adapters/http"
	"signupboard/internal/adapters/http/perf"
	"signupboard/internal/adapters/storage"
	auditStore "signupboard/internal/adapters/storage/audit"
	outboxStore "signupboard/internal/adapters/storage/outbox"
	"signupboard/internal/application/board"
	"signupboard/internal/application/orchestrators"
	"signupboard/internal/config"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

// boardSweepInterval is how often idle visitor boards are evicted.
const boardSweepInterval = 5 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Audit database (WAL, busy timeout, foreign keys)
	db, err := storage.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()
	if err := storage.InitDB(db); err != nil {
		log.Fatalf("failed to initialise database: %v", err)
	}

	// Performance instrumentation: one collector for requests, upstream calls and queries
	collector := perf.NewCollector(perf.DefaultRingSize)
	timedDB := storage.NewTimedDB(db, collector, cfg.SlowQueryMs)
	audits := auditStore.NewSQLiteStore(timedDB)

	api, err := activityapi.NewClient(cfg.APIBaseURL,
		activityapi.WithTimeout(cfg.APITimeout),
		activityapi.WithCollector(collector, cfg.SlowUpstreamMs),
	)
	if err != nil {
		log.Fatalf("invalid activities service URL: %v", err)
	}

	// Configure email sender
	var provider emailPkg.Sender
	if cfg.ResendKey != "" {
		provider = emailPkg.NewResendSender(cfg.ResendKey, cfg.MailFrom)
		log.Println("Email sender configured (Resend)")
	} else {
		provider = emailPkg.NewNoopSender()
		if cfg.ConfirmationEmails {
			log.Println("WARNING: BOARD_RESEND_KEY is not set; confirmation emails are only logged")
		}
	}

	// Failed confirmation emails are queued and retried in the background
	outboxes := outboxStore.NewSQLiteStore(timedDB)
	mailer := orchestrators.NewMailOutbox(orchestrators.MailOutboxDeps{
		Store:  outboxes,
		Sender: provider,
		Audit:  audits,
	})
	go mailer.Run(ctx, cfg.OutboxInterval)

	opts := board.Options{
		AllowRemoval:       cfg.AllowRemoval,
		OrganizerGate:      cfg.OrganizerGate(),
		Policy:             board.Policy(cfg.Reconcile),
		ConfirmationEmails: cfg.ConfirmationEmails,
	}
	if err := opts.Validate(); err != nil {
		log.Fatalf("invalid board options: %v", err)
	}
	registry := board.NewRegistry(func(sessionID string) (*board.Board, error) {
		return board.New(sessionID, opts, board.Deps{API: api, Audit: audits, Mailer: mailer})
	}, cfg.SessionTTL)
	go registry.Run(ctx, boardSweepInterval)

	var csrfKey []byte
	if cfg.CSRFKey != "" {
		// Already checked by Validate.
		csrfKey, _ = cfg.CSRFKeyBytes()
	}

	handler := web.NewMux(ctx, web.Deps{
		Boards:         registry,
		Audit:          audits,
		Collector:      collector,
		OutboxStore:    outboxes,
		Outbox:         mailer,
		PasscodeHash:   []byte(cfg.OrganizerPasscodeHash),
		CSRFKey:        csrfKey,
		Secure:         cfg.IsProduction(),
		TrustedOrigins: cfg.TrustedOrigins,
		RateLimit:      cfg.RateLimit,
		SessionTTL:     cfg.SessionTTL,
		SlowRequestMs:  cfg.SlowRequestMs,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2*cfg.APITimeout + 10*time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown_failed", "error", err)
		}
	}()

	log.Printf("Activity board %s starting on %s (env=%s, api=%s, reconcile=%s, removal=%t, schema=%d)",
		version, cfg.Addr, cfg.Env, cfg.APIBaseURL, cfg.Reconcile, cfg.AllowRemoval, storage.SchemaVersion())

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server failed: %v", err)
	}
	slog.Info("server_stopped")
}

// setupLogging installs the default slog handler.
func setupLogging(cfg config.Config) {
	level, _ := config.ParseLevel(cfg.LogLevel)
	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, handlerOpts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, handlerOpts)
	}
	slog.SetDefault(slog.New(handler))
}
