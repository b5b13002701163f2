package web

import (
	"bytes"
	"embed"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/csrf"
	"github.com/tidwall/gjson"
	"github.com/yuin/goldmark"
	goldmarkHTML "github.com/yuin/goldmark/renderer/html"

	"signupboard/internal/domain/banner"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

// mdRenderer is a goldmark instance configured for safe HTML output.
// Raw HTML in markdown input is escaped (WithUnsafe is NOT set), preventing XSS.
var mdRenderer = goldmark.New(
	goldmark.WithRendererOptions(
		goldmarkHTML.WithHardWraps(),
	),
)

// renderMarkdown converts an activity description to HTML.
func renderMarkdown(md string) template.HTML {
	var buf bytes.Buffer
	if err := mdRenderer.Convert([]byte(md), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(md))
	}
	return template.HTML(buf.String())
}

// pages maps a page file to its template set, parsed once with the layout.
var pages = mustParsePages("board.html", "unregister.html", "organizer.html", "diagnostics.html")

// requestFuncs are placeholders replaced per request in renderTemplate.
var requestFuncs = template.FuncMap{
	"csrfField": func() template.HTML { return "" },
}

var staticFuncs = template.FuncMap{
	"renderMarkdown": renderMarkdown,
	"hideAfter":      func() int { return int(banner.HideAfter / time.Second) },
	"formatTime":     func(t time.Time) string { return t.Local().Format("2006-01-02 15:04:05") },
	"ms":             func(v float64) string { return formatMs(v) },
	"mailTo":         mailRecipient,
}

// mailRecipient pulls the first recipient out of a queued email payload.
func mailRecipient(payload string) string {
	return gjson.Get(payload, "to.0").String()
}

func mustParsePages(names ...string) map[string]*template.Template {
	out := make(map[string]*template.Template, len(names))
	for _, name := range names {
		tpl := template.New("layout.html").Funcs(staticFuncs).Funcs(requestFuncs)
		out[name] = template.Must(tpl.ParseFS(templateFS, "templates/layout.html", "templates/"+name))
	}
	return out
}

// layout is the data every page shares.
type layout struct {
	Title      string
	Banner     banner.Message
	ShowBanner bool
	Organizer  bool // visitor unlocked organizer mode
	Gate       bool // organizer mode exists
}

func renderTemplate(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	base, ok := pages[name]
	if !ok {
		internalError(w, errTemplateMissing(name))
		return
	}
	tpl, err := base.Clone()
	if err != nil {
		internalError(w, err)
		return
	}
	tpl.Funcs(template.FuncMap{
		"csrfField": func() template.HTML { return csrf.TemplateField(r) },
	})

	// Render to a buffer so a template error never sends a half page.
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		internalError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if _, err := buf.WriteTo(w); err != nil {
		slog.Debug("render_write_failed", "error", err)
	}
}

func staticHandler() http.Handler {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	return http.StripPrefix("/static/", http.FileServerFS(sub))
}
