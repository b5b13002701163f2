package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// contextKey is an unexported type for context keys in this package.
type contextKey string

const visitorContextKey contextKey = "visitor"

const visitorCookieName = "board_session"

// VisitorOptions configures the visitor session cookie.
type VisitorOptions struct {
	Secure bool
	TTL    time.Duration
}

// Visitor returns middleware that gives every browser a stable session ID.
// A missing or malformed cookie is replaced by a fresh UUID.
// It never blocks a request.
func Visitor(opts VisitorOptions) func(http.Handler) http.Handler {
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := ""
			if cookie, err := r.Cookie(visitorCookieName); err == nil {
				if parsed, err := uuid.Parse(cookie.Value); err == nil {
					id = parsed.String()
				}
			}
			if id == "" {
				id = uuid.NewString()
			}
			// Refresh on every request so active visitors keep their board.
			setVisitorCookie(w, id, opts)
			next.ServeHTTP(w, r.WithContext(WithVisitorID(r.Context(), id)))
		})
	}
}

// VisitorID extracts the visitor session ID from the request context.
func VisitorID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(visitorContextKey).(string)
	return id, ok && id != ""
}

// WithVisitorID returns a context carrying id.
func WithVisitorID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, visitorContextKey, id)
}

// RequireVisitor blocks requests that did not pass through Visitor.
func RequireVisitor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := VisitorID(r.Context()); !ok {
			http.Error(w, "Bad Request", http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func setVisitorCookie(w http.ResponseWriter, id string, opts VisitorOptions) {
	http.SetCookie(w, &http.Cookie{
		Name:     visitorCookieName,
		Value:    id,
		HttpOnly: true,
		Secure:   opts.Secure,
		SameSite: http.SameSiteLaxMode,
		Path:     "/",
		MaxAge:   int(opts.TTL / time.Second),
	})
}
