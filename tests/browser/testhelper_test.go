package browser_test

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/playwright-community/playwright-go"
	"golang.org/x/crypto/bcrypt"

	"signupboard/internal/adapters/activityapi"
	"signupboard/internal/adapters/activityapi/activityapitest"
	web "signupboard/internal/adapters/http"
	"signupboard/internal/adapters/http/perf"
	"signupboard/internal/adapters/storage"
	auditStore "signupboard/internal/adapters/storage/audit"
	"signupboard/internal/application/board"
)

const organizerPasscode = "TestPass123!"

// testApp holds the running test server and Playwright handles.
type testApp struct {
	BaseURL string
	DB      *sql.DB
	Server  *http.Server
	API     *activityapitest.Service
	PW      *playwright.Playwright
	Browser playwright.Browser
}

// appOptions tweaks the board under test.
type appOptions struct {
	Board     board.Options
	Organizer bool // configure a passcode and gate removal behind it
}

// newTestApp wires the board to a fake activities service and a temp SQLite DB, then starts an HTTP server.
func newTestApp(t *testing.T, opts appOptions) *testApp {
	t.Helper()

	api := activityapitest.NewService(activityapitest.Seed()...)
	apiServer := httptest.NewServer(api.Handler())

	// Create temp directory for the database
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := storage.Open(dbPath)
	if err != nil {
		t.Fatalf("failed to open test DB: %v", err)
	}
	if err := storage.InitDB(db); err != nil {
		t.Fatalf("failed to initialise test DB: %v", err)
	}

	collector := perf.NewCollector(perf.DefaultRingSize)
	audits := auditStore.NewSQLiteStore(storage.NewTimedDB(db, collector, storage.DefaultSlowQueryMs))
	client, err := activityapi.NewClient(apiServer.URL, activityapi.WithCollector(collector, 0))
	if err != nil {
		t.Fatalf("failed to create API client: %v", err)
	}

	var hash []byte
	if opts.Organizer {
		hash, err = bcrypt.GenerateFromPassword([]byte(organizerPasscode), bcrypt.MinCost)
		if err != nil {
			t.Fatalf("failed to hash passcode: %v", err)
		}
		opts.Board.OrganizerGate = true
	}
	registry := board.NewRegistry(func(sessionID string) (*board.Board, error) {
		return board.New(sessionID, opts.Board, board.Deps{API: client, Audit: audits})
	}, time.Hour)

	// Find a free port
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find free port: %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()

	ctx, cancel := context.WithCancel(context.Background())
	mux := web.NewMux(ctx, web.Deps{
		Boards:       registry,
		Audit:        audits,
		Collector:    collector,
		PasscodeHash: hash,
		TrustedOrigins: []string{
			fmt.Sprintf("127.0.0.1:%d", port),
			fmt.Sprintf("localhost:%d", port),
		},
		RateLimit:  1000,
		SessionTTL: time.Hour,
	})
	srv := &http.Server{
		Addr:    fmt.Sprintf("127.0.0.1:%d", port),
		Handler: mux,
	}
	go func() {
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("test server error: %v", err)
		}
	}()

	// Wait for server to be ready
	baseURL := fmt.Sprintf("http://127.0.0.1:%d", port)
	for i := 0; i < 50; i++ {
		resp, err := http.Get(baseURL + "/healthz")
		if err == nil {
			resp.Body.Close()
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	// Start Playwright
	pw, err := playwright.Run()
	if err != nil {
		t.Fatalf("failed to start Playwright: %v", err)
	}
	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
	})
	if err != nil {
		t.Fatalf("failed to launch browser: %v", err)
	}

	app := &testApp{
		BaseURL: baseURL,
		DB:      db,
		Server:  srv,
		API:     api,
		PW:      pw,
		Browser: browser,
	}

	t.Cleanup(func() {
		browser.Close()
		pw.Stop()
		srv.Close()
		cancel()
		apiServer.Close()
		db.Close()
	})

	return app
}

// newPage creates a new browser page (tab) in a fresh context, so each page is a separate visitor.
func (a *testApp) newPage(t *testing.T) playwright.Page {
	t.Helper()
	bctx, err := a.Browser.NewContext()
	if err != nil {
		t.Fatalf("failed to create browser context: %v", err)
	}
	page, err := bctx.NewPage()
	if err != nil {
		t.Fatalf("failed to create page: %v", err)
	}
	t.Cleanup(func() { bctx.Close() })
	return page
}

// open navigates to the board and waits for the cards.
func (a *testApp) open(t *testing.T, page playwright.Page) {
	t.Helper()
	if _, err := page.Goto(a.BaseURL + "/"); err != nil {
		t.Fatalf("failed to navigate to board: %v", err)
	}
	if err := page.Locator(".activity-card").First().WaitFor(); err != nil {
		t.Fatalf("activity cards never rendered: %v", err)
	}
}

// signup fills and submits the signup form.
func (a *testApp) signup(t *testing.T, page playwright.Page, email, activityName string) {
	t.Helper()
	if err := page.Locator("#email").Fill(email); err != nil {
		t.Fatalf("failed to fill email: %v", err)
	}
	if _, err := page.Locator("#activity").SelectOption(playwright.SelectOptionValues{
		Values: playwright.StringSlice(activityName),
	}); err != nil {
		t.Fatalf("failed to select activity: %v", err)
	}
	if err := page.Locator("#signup-submit").Click(); err != nil {
		t.Fatalf("failed to submit signup: %v", err)
	}
	if err := page.WaitForLoadState(); err != nil {
		t.Fatalf("signup page did not load: %v", err)
	}
}

// unlock enters organizer mode.
func (a *testApp) unlock(t *testing.T, page playwright.Page) {
	t.Helper()
	if _, err := page.Goto(a.BaseURL + "/organizer"); err != nil {
		t.Fatalf("failed to navigate to organizer: %v", err)
	}
	if err := page.Locator("#passcode").Fill(organizerPasscode); err != nil {
		t.Fatalf("failed to fill passcode: %v", err)
	}
	if err := page.Locator("#organizer-container button[type=submit]").Click(); err != nil {
		t.Fatalf("failed to click unlock: %v", err)
	}
	if err := page.WaitForURL(a.BaseURL+"/", playwright.PageWaitForURLOptions{
		Timeout: playwright.Float(10000),
	}); err != nil {
		t.Fatalf("unlock did not redirect to the board: %v", err)
	}
}

// card returns the locator of the named activity card.
func card(page playwright.Page, name string) playwright.Locator {
	return page.Locator(fmt.Sprintf(`.activity-card[data-activity="%s"]`, name))
}

// text returns the trimmed text of the first match of loc.
func text(t *testing.T, loc playwright.Locator) string {
	t.Helper()
	s, err := loc.First().InnerText()
	if err != nil {
		t.Fatalf("failed to read text: %v", err)
	}
	return s
}
