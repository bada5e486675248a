package audit

import (
	"context"
	"net"
	"net/http"
	"strings"
)

// Actor identifies who performed an audited action.
type Actor struct {
	ID     string
	Email  string
	Role   string
	System bool
}

// System is the actor for background jobs.
func System(component string) Actor {
	return Actor{ID: component, Role: "system", System: true}
}

type ctxKey int

const (
	actorKey ctxKey = iota
	requestKey
)

type requestMeta struct {
	IP        string
	UserAgent string
}

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey, a)
}

func ActorFrom(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey).(Actor)
	return a, ok
}

// RequestMeta stores the caller's IP and user agent for audit entries.
func RequestMeta(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		meta := requestMeta{IP: clientIP(r), UserAgent: r.UserAgent()}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestKey, meta)))
	})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
