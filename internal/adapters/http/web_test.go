package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"signupboard/internal/adapters/activityapi"
	"signupboard/internal/adapters/activityapi/activityapitest"
	"signupboard/internal/adapters/email"
	"signupboard/internal/adapters/http/perf"
	"signupboard/internal/adapters/storage"
	auditStore "signupboard/internal/adapters/storage/audit"
	outboxStore "signupboard/internal/adapters/storage/outbox"
	"signupboard/internal/application/board"
	"signupboard/internal/application/orchestrators"
	"signupboard/internal/domain/activity"
	auditDomain "signupboard/internal/domain/audit"
)

const testPasscode = "open sesame"

var tokenPattern = regexp.MustCompile(`name="gorilla\.csrf\.Token" value="([^"]+)"`)

// testEnv is a running board in front of a fake activities service.
type testEnv struct {
	api    *activityapitest.Service
	audit  auditStore.Store
	outbox outboxStore.Store
	boards *board.Registry
	server *httptest.Server
}

type envOptions struct {
	opts     board.Options
	passcode bool
	mailer   *flakyMailer // non-nil sends confirmations through the outbox
}

// flakyMailer fails the first failures sends.
type flakyMailer struct {
	mu       sync.Mutex
	failures int
	sent     int
}

func (m *flakyMailer) Send(_ context.Context, _ email.SendRequest) (email.SendResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures > 0 {
		m.failures--
		return email.SendResult{}, errors.New("provider unavailable")
	}
	m.sent++
	return email.SendResult{MessageID: "msg_ok"}, nil
}

func newTestEnv(t *testing.T, eo envOptions, list ...activity.Activity) *testEnv {
	t.Helper()

	api := activityapitest.NewService(list...)
	apiServer := api.Start()
	t.Cleanup(apiServer.Close)

	collector := perf.NewCollector(1000)
	client, err := activityapi.NewClient(apiServer.URL, activityapi.WithCollector(collector, 0))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := storage.InitDB(db); err != nil {
		t.Fatalf("InitDB: %v", err)
	}
	audits := auditStore.NewSQLiteStore(storage.NewTimedDB(db, collector, 0))

	var hash []byte
	if eo.passcode {
		hash, err = bcrypt.GenerateFromPassword([]byte(testPasscode), bcrypt.MinCost)
		if err != nil {
			t.Fatalf("GenerateFromPassword: %v", err)
		}
		eo.opts.OrganizerGate = true
	}

	var outboxes outboxStore.Store
	var mailOutbox *orchestrators.MailOutbox
	boardDeps := board.Deps{API: client, Audit: audits}
	if eo.mailer != nil {
		outboxes = outboxStore.NewSQLiteStore(db)
		mailOutbox = orchestrators.NewMailOutbox(orchestrators.MailOutboxDeps{Store: outboxes, Sender: eo.mailer, Audit: audits})
		boardDeps.Mailer = mailOutbox
		eo.opts.ConfirmationEmails = true
	}

	registry := board.NewRegistry(func(sessionID string) (*board.Board, error) {
		return board.New(sessionID, eo.opts, boardDeps)
	}, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	deps := Deps{
		Boards:       registry,
		Audit:        audits,
		Collector:    collector,
		PasscodeHash: hash,
		RateLimit:    1000,
		SessionTTL:   time.Hour,
	}
	if mailOutbox != nil {
		deps.OutboxStore = outboxes
		deps.Outbox = mailOutbox
	}
	srv := httptest.NewServer(NewMux(ctx, deps))
	t.Cleanup(srv.Close)

	return &testEnv{api: api, audit: audits, outbox: outboxes, boards: registry, server: srv}
}

// visitor is one browser: its own cookie jar and so its own board.
type visitor struct {
	t      *testing.T
	env    *testEnv
	client *http.Client
	token  string
}

func (e *testEnv) newVisitor(t *testing.T) *visitor {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar: %v", err)
	}
	return &visitor{t: t, env: e, client: &http.Client{Jar: jar}}
}

// get fetches path and remembers the CSRF token of the page.
func (v *visitor) get(path string) (int, string) {
	v.t.Helper()
	resp, err := v.client.Get(v.env.server.URL + path)
	if err != nil {
		v.t.Fatalf("GET %s: %v", path, err)
	}
	return v.read(resp)
}

// post submits form to path using the last seen CSRF token.
func (v *visitor) post(path string, form url.Values) (int, string) {
	v.t.Helper()
	if v.token == "" {
		v.get("/")
	}
	form.Set("gorilla.csrf.Token", v.token)
	resp, err := v.client.PostForm(v.env.server.URL+path, form)
	if err != nil {
		v.t.Fatalf("POST %s: %v", path, err)
	}
	return v.read(resp)
}

func (v *visitor) read(resp *http.Response) (int, string) {
	v.t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		v.t.Fatalf("read body: %v", err)
	}
	if m := tokenPattern.FindSubmatch(body); m != nil {
		v.token = string(m[1])
	}
	return resp.StatusCode, string(body)
}

func chessClub() activity.Activity {
	return activity.Activity{
		Name:            "Chess Club",
		Description:     "Learn **strategies**",
		Schedule:        "Fridays",
		MaxParticipants: 2,
		Participants:    []string{"a@x.com"},
	}
}

func artClub() activity.Activity {
	return activity.Activity{
		Name:            "Art Club",
		Description:     "Paint",
		Schedule:        "Wednesdays",
		MaxParticipants: 10,
	}
}

func mustContain(t *testing.T, body string, wants ...string) {
	t.Helper()
	for _, want := range wants {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q", want)
		}
	}
}

func mustNotContain(t *testing.T, body string, unwanted ...string) {
	t.Helper()
	for _, s := range unwanted {
		if strings.Contains(body, s) {
			t.Errorf("body unexpectedly contains %q", s)
		}
	}
}

// TestBoard_RendersListing tests cards, options and placeholder rows in server order.
func TestBoard_RendersListing(t *testing.T) {
	env := newTestEnv(t, envOptions{opts: board.Options{AllowRemoval: true}}, chessClub(), artClub())
	v := env.newVisitor(t)

	status, body := v.get("/")
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	mustContain(t, body,
		"<h4>Chess Club</h4>",
		"<strong>strategies</strong>",
		"Schedule: Fridays",
		"Max participants: 2",
		"Participants (1/2)",
		"a@x.com",
		`<li class="no-participants">No participants yet</li>`,
		"Participants (0/10)",
		`<option value="" selected>-- Select an activity --</option>`,
		`<option value="Chess Club">Chess Club</option>`,
	)
	if strings.Index(body, "<h4>Chess Club</h4>") > strings.Index(body, "<h4>Art Club</h4>") {
		t.Error("cards not in server order")
	}
	if v.token == "" {
		t.Error("page has no CSRF field")
	}
	mustNotContain(t, body, `id="message"`)
}

// TestBoard_LoadFailure tests the load error message replacing the cards.
func TestBoard_LoadFailure(t *testing.T) {
	env := newTestEnv(t, envOptions{}, chessClub())
	env.api.SetFailList(true)
	v := env.newVisitor(t)

	status, body := v.get("/")
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	mustContain(t, body, board.MsgLoadFailed)
	mustNotContain(t, body, "<h4>Chess Club</h4>")
}

// TestSignup_Success tests a signup round trip with a refetch.
func TestSignup_Success(t *testing.T) {
	env := newTestEnv(t, envOptions{opts: board.Options{AllowRemoval: true}}, chessClub())
	v := env.newVisitor(t)

	status, body := v.post("/signup", url.Values{"email": {"b@x.com"}, "activity": {"Chess Club"}})
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	mustContain(t, body, "Signed up b@x.com for Chess Club", "Participants (2/2)", "b@x.com", `class="message success"`)
	if got := env.api.Participants("Chess Club"); len(got) != 2 {
		t.Errorf("server participants = %v, want 2", got)
	}
	// Form cleared.
	mustNotContain(t, body, `value="b@x.com"`)
}

// TestSignup_MissingFields tests that nothing is sent for an incomplete form.
func TestSignup_MissingFields(t *testing.T) {
	env := newTestEnv(t, envOptions{}, chessClub())
	v := env.newVisitor(t)
	v.get("/")

	_, body := v.post("/signup", url.Values{"email": {"  "}, "activity": {"Chess Club"}})
	mustContain(t, body, board.MsgMissingFields, `class="message error"`)
	if env.api.Calls("signup") != 0 {
		t.Errorf("signup calls = %d, want 0", env.api.Calls("signup"))
	}
}

// TestSignup_FullIsBlockedLocally tests the capacity guard.
func TestSignup_FullIsBlockedLocally(t *testing.T) {
	full := chessClub()
	full.Participants = []string{"a@x.com", "c@x.com"}
	env := newTestEnv(t, envOptions{}, full)
	v := env.newVisitor(t)
	v.get("/")

	_, body := v.post("/signup", url.Values{"email": {"b@x.com"}, "activity": {"Chess Club"}})
	mustContain(t, body, board.MsgFull)
	if env.api.Calls("signup") != 0 {
		t.Errorf("signup calls = %d, want 0", env.api.Calls("signup"))
	}
	// The entered values stay in the form.
	mustContain(t, body, `value="b@x.com"`, `<option value="Chess Club" selected>`)
}

// TestSignup_ServerDetail tests that a 400 detail reaches the banner.
func TestSignup_ServerDetail(t *testing.T) {
	env := newTestEnv(t, envOptions{}, chessClub())
	v := env.newVisitor(t)
	v.get("/")

	_, body := v.post("/signup", url.Values{"email": {"a@x.com"}, "activity": {"Chess Club"}})
	mustContain(t, body, "Student already signed up", `value="a@x.com"`)
}

// TestSignup_RequiresCSRFToken tests that a tokenless form post is rejected.
func TestSignup_RequiresCSRFToken(t *testing.T) {
	env := newTestEnv(t, envOptions{}, chessClub())
	v := env.newVisitor(t)
	v.get("/")

	resp, err := v.client.PostForm(env.server.URL+"/signup", url.Values{"email": {"b@x.com"}, "activity": {"Chess Club"}})
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
	if env.api.Calls("signup") != 0 {
		t.Error("signup reached the activities service")
	}
}

// TestUnregister_ConfirmAndRemove tests the confirmation step and the removal.
func TestUnregister_ConfirmAndRemove(t *testing.T) {
	env := newTestEnv(t, envOptions{opts: board.Options{AllowRemoval: true}}, chessClub())
	v := env.newVisitor(t)

	_, body := v.get("/")
	mustContain(t, body, `href="/unregister?activity=Chess%20Club&email=a%40x.com"`)

	status, body := v.get("/unregister?activity=Chess+Club&email=a%40x.com")
	if status != http.StatusOK {
		t.Fatalf("confirm status = %d, want 200", status)
	}
	mustContain(t, body, "Unregister a@x.com from Chess Club?")

	_, body = v.post("/unregister", url.Values{"activity": {"Chess Club"}, "email": {"a@x.com"}, "confirm": {"no"}})
	if env.api.Calls("unregister") != 0 {
		t.Fatal("declined confirmation still called the service")
	}
	mustContain(t, body, "Participants (1/2)")

	_, body = v.post("/unregister", url.Values{"activity": {"Chess Club"}, "email": {"a@x.com"}, "confirm": {"yes"}})
	mustContain(t, body, "Unregistered a@x.com from Chess Club", "Participants (0/2)", "No participants yet")
	if got := env.api.Participants("Chess Club"); len(got) != 0 {
		t.Errorf("server participants = %v, want none", got)
	}
}

// TestUnregister_DisabledHidesControls tests the removal capability switch.
func TestUnregister_DisabledHidesControls(t *testing.T) {
	env := newTestEnv(t, envOptions{}, chessClub())
	v := env.newVisitor(t)

	_, body := v.get("/")
	mustNotContain(t, body, "delete-btn")

	status, _ := v.get("/unregister?activity=Chess+Club&email=a%40x.com")
	if status != http.StatusForbidden {
		t.Errorf("confirm status = %d, want 403", status)
	}

	_, body = v.post("/unregister", url.Values{"activity": {"Chess Club"}, "email": {"a@x.com"}, "confirm": {"yes"}})
	mustContain(t, body, board.MsgRemovalDisabled)
	if env.api.Calls("unregister") != 0 {
		t.Error("unregister reached the activities service")
	}
}

// TestVisitors_HaveSeparateBoards tests banner isolation between sessions.
func TestVisitors_HaveSeparateBoards(t *testing.T) {
	env := newTestEnv(t, envOptions{}, chessClub())
	alice := env.newVisitor(t)
	bob := env.newVisitor(t)

	_, body := alice.post("/signup", url.Values{"email": {"b@x.com"}, "activity": {"Chess Club"}})
	mustContain(t, body, "Signed up b@x.com")

	_, body = bob.get("/")
	mustNotContain(t, body, "Signed up b@x.com")
	mustContain(t, body, "Participants (2/2)")
}

// TestOrganizer_DisabledWithoutPasscode tests that organizer routes are absent.
func TestOrganizer_DisabledWithoutPasscode(t *testing.T) {
	env := newTestEnv(t, envOptions{opts: board.Options{AllowRemoval: true}}, chessClub())
	v := env.newVisitor(t)

	for _, path := range []string{"/organizer", "/organizer/diagnostics", "/organizer/audit.json", "/organizer/outbox.json"} {
		if status, _ := v.get(path); status != http.StatusNotFound {
			t.Errorf("GET %s = %d, want 404", path, status)
		}
	}
	_, body := v.get("/")
	mustNotContain(t, body, `href="/organizer"`)
}

// TestOrganizer_UnlockGatesRemoval tests the passcode gate and its audit trail.
func TestOrganizer_UnlockGatesRemoval(t *testing.T) {
	env := newTestEnv(t, envOptions{opts: board.Options{AllowRemoval: true}, passcode: true}, chessClub())
	v := env.newVisitor(t)

	_, body := v.get("/")
	mustNotContain(t, body, "delete-btn")
	mustContain(t, body, `href="/organizer"`)

	status, body := v.post("/organizer", url.Values{"passcode": {"wrong"}})
	if status != http.StatusUnauthorized {
		t.Fatalf("wrong passcode status = %d, want 401", status)
	}
	mustContain(t, body, "Incorrect passcode.")

	status, body = v.post("/organizer", url.Values{"passcode": {testPasscode}})
	if status != http.StatusOK {
		t.Fatalf("unlock status = %d, want 200 after redirect", status)
	}
	mustContain(t, body, "Organizer mode on", "delete-btn", "/organizer/diagnostics")

	events, err := env.audit.List(context.Background(), auditStore.Filter{}, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var unlocks []auditDomain.Outcome
	for _, e := range events {
		if e.Action == auditDomain.ActionUnlock {
			unlocks = append(unlocks, e.Outcome)
		}
	}
	if len(unlocks) != 2 {
		t.Errorf("unlock events = %v, want a rejection and a success", unlocks)
	}

	_, body = v.post("/organizer/logout", url.Values{})
	mustNotContain(t, body, "delete-btn")
}

// TestOrganizer_RoutesDoNotCreateBoards tests that locked organizer routes leave the registry alone.
func TestOrganizer_RoutesDoNotCreateBoards(t *testing.T) {
	env := newTestEnv(t, envOptions{opts: board.Options{AllowRemoval: true}, passcode: true}, chessClub())
	v := env.newVisitor(t)
	v.client.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }

	for _, path := range []string{"/organizer/diagnostics", "/organizer/audit.json", "/organizer/outbox.json"} {
		if status, _ := v.get(path); status != http.StatusSeeOther {
			t.Errorf("GET %s = %d, want 303", path, status)
		}
	}
	if n := env.boards.Len(); n != 0 {
		t.Errorf("boards = %d, want 0", n)
	}
}

// TestDiagnostics_ShowsEventsAndTimings tests the organizer diagnostics page.
func TestDiagnostics_ShowsEventsAndTimings(t *testing.T) {
	env := newTestEnv(t, envOptions{opts: board.Options{AllowRemoval: true}, passcode: true}, chessClub())
	v := env.newVisitor(t)

	if status, body := v.get("/organizer/diagnostics"); status != http.StatusOK || !strings.Contains(body, "Passcode:") {
		t.Fatalf("locked diagnostics should redirect to the passcode form, got %d", status)
	}

	v.post("/signup", url.Values{"email": {"b@x.com"}, "activity": {"Chess Club"}})
	v.post("/organizer", url.Values{"passcode": {testPasscode}})

	status, body := v.get("/organizer/diagnostics")
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	mustContain(t, body, "board/signup", "succeeded", "b@x.com", "GET /activities", "1 active visitor boards")

	status, body = v.get("/organizer/diagnostics?action=signup&outcome=rejected")
	if status != http.StatusOK {
		t.Fatalf("filtered status = %d, want 200", status)
	}
	mustContain(t, body, "No events yet.")

	if status, _ := v.get("/organizer/diagnostics?action=bogus"); status != http.StatusBadRequest {
		t.Errorf("bogus filter status = %d, want 400", status)
	}
}

// TestDiagnostics_Paging tests that older events move to later pages.
func TestDiagnostics_Paging(t *testing.T) {
	env := newTestEnv(t, envOptions{passcode: true}, chessClub())
	v := env.newVisitor(t)
	v.post("/organizer", url.Values{"passcode": {testPasscode}})

	// Twelve rejected signups plus the unlock.
	for i := 0; i < 12; i++ {
		v.post("/signup", url.Values{"email": {""}, "activity": {"Chess Club"}})
	}

	_, body := v.get("/organizer/diagnostics?per_page=10")
	mustContain(t, body, "Showing 1 to 10 of 13 events.", `class="page-next"`)
	mustNotContain(t, body, `class="page-prev"`)

	_, body = v.get("/organizer/diagnostics?per_page=10&page=2")
	mustContain(t, body, "Showing 11 to 13 of 13 events.", `class="page-prev"`)
	mustNotContain(t, body, `class="page-next"`)
}

// TestAuditExport tests the organizer JSON export and its filters.
func TestAuditExport(t *testing.T) {
	env := newTestEnv(t, envOptions{passcode: true}, chessClub())
	v := env.newVisitor(t)

	if status, body := v.get("/organizer/audit.json"); status != http.StatusOK || !strings.Contains(body, "Passcode:") {
		t.Fatalf("locked export should redirect to the passcode form, got %d", status)
	}

	v.post("/signup", url.Values{"email": {"b@x.com"}, "activity": {"Chess Club"}})
	v.post("/signup", url.Values{"email": {""}, "activity": {"Chess Club"}})
	v.post("/organizer", url.Values{"passcode": {testPasscode}})

	status, body := v.get("/organizer/audit.json?action=signup")
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	var export struct {
		Events []auditDomain.Event `json:"events"`
		Total  int                 `json:"total"`
	}
	if err := json.Unmarshal([]byte(body), &export); err != nil {
		t.Fatalf("decode: %v\n%s", err, body)
	}
	if export.Total != 2 || len(export.Events) != 2 {
		t.Fatalf("export = %+v, want two signup events", export)
	}
	if export.Events[0].Outcome != auditDomain.OutcomeRejected || export.Events[1].Email != "b@x.com" {
		t.Errorf("events = %+v, want the rejected signup first", export.Events)
	}

	_, body = v.get("/organizer/audit.json?action=signup&outcome=succeeded&activity=Chess+Club")
	json.Unmarshal([]byte(body), &export)
	if export.Total != 1 {
		t.Errorf("filtered total = %d, want 1", export.Total)
	}

	for _, q := range []string{"outcome=nope", "category=billing", "since=yesterday"} {
		if status, _ := v.get("/organizer/audit.json?" + q); status != http.StatusBadRequest {
			t.Errorf("%s status = %d, want 400", q, status)
		}
	}
}

// TestOutbox_RetryFromDiagnostics tests a confirmation email that failed, was
// queued and was then delivered by an organizer retry.
func TestOutbox_RetryFromDiagnostics(t *testing.T) {
	mailer := &flakyMailer{failures: 1}
	env := newTestEnv(t, envOptions{passcode: true, mailer: mailer}, chessClub())
	v := env.newVisitor(t)

	_, body := v.post("/signup", url.Values{"email": {"b@x.com"}, "activity": {"Chess Club"}})
	mustContain(t, body, "Signed up b@x.com for Chess Club")

	pending, err := env.outbox.ListPending(context.Background(), 10)
	if err != nil || len(pending) != 1 {
		t.Fatalf("pending = %v, %v; want one queued email", pending, err)
	}
	id := pending[0].ID

	v.post("/organizer", url.Values{"passcode": {testPasscode}})
	_, body = v.get("/organizer/diagnostics")
	mustContain(t, body, "Confirmation emails", "retrying: 1", `data-entry="`+id+`"`, "b@x.com", "provider unavailable", "Retry now")

	status, body := v.get("/organizer/outbox.json")
	if status != http.StatusOK || !strings.Contains(body, `"to":"b@x.com"`) {
		t.Errorf("outbox.json = %d %s", status, body)
	}

	status, body = v.post("/organizer/outbox/"+id+"/retry", url.Values{})
	if status != http.StatusOK {
		t.Fatalf("retry status = %d, want 200 after redirect", status)
	}
	mustContain(t, body, "Retry attempted", "done: 1")
	if mailer.sent != 1 {
		t.Errorf("sent = %d, want 1", mailer.sent)
	}

	_, body = v.post("/organizer/outbox/"+id+"/abandon", url.Values{})
	mustContain(t, body, "That email is no longer queued")

	if status, _ := v.post("/organizer/outbox/missing/retry", url.Values{}); status != http.StatusNotFound {
		t.Errorf("unknown entry status = %d, want 404", status)
	}
}

// TestStaticAndHealth tests the asset and liveness routes.
func TestStaticAndHealth(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	v := env.newVisitor(t)

	status, body := v.get("/healthz")
	if status != http.StatusOK || body != "ok" {
		t.Errorf("healthz = %d %q", status, body)
	}
	status, body = v.get("/static/board.css")
	if status != http.StatusOK || !strings.Contains(body, ".activity-card") {
		t.Errorf("board.css = %d", status)
	}
	if status, _ := v.get("/nope"); status != http.StatusNotFound {
		t.Errorf("unknown path = %d, want 404", status)
	}
}

// TestRenderMarkdown_EscapesHTML tests that raw HTML in descriptions is not rendered.
func TestRenderMarkdown_EscapesHTML(t *testing.T) {
	got := string(renderMarkdown("Hi <script>alert(1)</script>"))
	if strings.Contains(got, "<script>") {
		t.Errorf("renderMarkdown kept raw HTML: %q", got)
	}
}
