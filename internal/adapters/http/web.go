package web

import (
	"context"
	"crypto/rand"
	"log/slog"
	"net/http"
	"time"

	"signupboard/internal/adapters/http/middleware"
	"signupboard/internal/adapters/http/perf"
	auditStore "signupboard/internal/adapters/storage/audit"
	outboxStore "signupboard/internal/adapters/storage/outbox"
	"signupboard/internal/application/board"
)

// Deps holds everything the web layer needs.
type Deps struct {
	Boards    *board.Registry
	Audit     auditStore.Store // organizer events and the diagnostics page
	Collector *perf.Collector  // optional

	// OutboxStore and Outbox expose queued confirmation emails to organizers; both optional.
	OutboxStore outboxStore.Store
	Outbox      OutboxActions

	// PasscodeHash is the bcrypt hash gating organizer mode; empty disables it.
	PasscodeHash []byte

	CSRFKey        []byte // 32 bytes; empty generates a per-process key
	Secure         bool   // production cookies
	TrustedOrigins []string
	RateLimit      int // requests per second per IP
	SessionTTL     time.Duration
	SlowRequestMs  int
}

// Global dependencies (set by NewMux)
var app Deps

// timeNow is a variable for testability.
var timeNow = time.Now

// csrfKeyOrRandom returns key, or a random key for development.
func csrfKeyOrRandom(key []byte) []byte {
	if len(key) == 32 {
		return key
	}
	key = make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		panic("failed to generate CSRF key: " + err.Error())
	}
	slog.Warn("csrf_random_key", "detail", "forms won't survive a restart; set BOARD_CSRF_KEY")
	return key
}

// NewMux wires HTTP handlers for the board. Background sweeps stop with ctx.
// PRE: d.Boards and d.Audit are non-nil
// POST: Returns the fully wrapped handler
func NewMux(ctx context.Context, d Deps) http.Handler {
	app = d
	if app.RateLimit <= 0 {
		app.RateLimit = 10
	}

	mux := http.NewServeMux()
	registerRoutes(mux)

	limiter := middleware.NewRateLimiter(app.RateLimit, time.Second)
	go limiter.Run(ctx)

	// Apply middleware: RateLimit -> SecurityHeaders -> CSRF -> Visitor -> Timing -> Mux.
	// Timing sits next to the mux so it sees the matched pattern.
	return middleware.Chain(mux,
		middleware.Timing(app.Collector, app.SlowRequestMs),
		middleware.Visitor(middleware.VisitorOptions{Secure: app.Secure, TTL: app.SessionTTL}),
		middleware.CSRF(csrfKeyOrRandom(app.CSRFKey), middleware.CSRFOptions{Secure: app.Secure, TrustedOrigins: app.TrustedOrigins}),
		middleware.SecurityHeaders,
		middleware.RateLimit(limiter),
	)
}

func registerRoutes(mux *http.ServeMux) {
	mux.Handle("GET /static/", staticHandler())
	mux.HandleFunc("GET /healthz", handleHealthz)

	// Board routes resolve the visitor's board, so they need a session.
	visitor := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, middleware.RequireVisitor(h))
	}

	visitor("GET /{$}", handleBoard)
	visitor("POST /signup", handleSignup)
	visitor("GET /unregister", handleUnregisterConfirm)
	visitor("POST /unregister", handleUnregister)

	visitor("GET /organizer", handleOrganizerLogin)
	visitor("POST /organizer", handleOrganizerUnlock)
	visitor("POST /organizer/logout", handleOrganizerLogout)
	visitor("GET /organizer/diagnostics", handleDiagnostics)
	visitor("GET /organizer/audit.json", handleAuditExport)

	visitor("GET /organizer/outbox.json", handleOutboxList)
	if app.Outbox != nil {
		visitor("POST /organizer/outbox/{id}/retry", handleOutboxRetry)
		visitor("POST /organizer/outbox/{id}/abandon", handleOutboxAbandon)
	}
}
