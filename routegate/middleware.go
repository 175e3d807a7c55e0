package routegate

import (
	"html/template"
	"net/http"

	"github.com/jrsteele09/go-auth-client/internal/metrics"
	"github.com/jrsteele09/go-auth-client/session"
)

// SnapshotSource supplies the session a gate decides on.
type SnapshotSource interface {
	Snapshot() session.Snapshot
}

var placeholderPage = template.Must(template.New("placeholder").Parse(
	`<!DOCTYPE html><html><head><meta http-equiv="refresh" content="1"><title>Loading</title></head>` +
		`<body><div>Loading...</div></body></html>`))

// Require gates next behind route.Role. Metrics are labelled with route.Prefix so the
// series stay bounded whatever paths are requested. m may be nil.
func Require(source SnapshotSource, route Route, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision := Evaluate(source.Snapshot(), route.Role)
			if m != nil {
				m.GatewayRequests.WithLabelValues(route.Prefix, decision.Outcome.String()).Inc()
			}
			serve(w, r, decision, next)
		})
	}
}

// Guard applies the route table: paths it covers are gated, everything else passes through.
func Guard(source SnapshotSource, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route, ok := Match(r.URL.Path)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			Require(source, route, m)(next).ServeHTTP(w, r)
		})
	}
}

func serve(w http.ResponseWriter, r *http.Request, d Decision, next http.Handler) {
	switch d.Outcome {
	case Placeholder:
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
		_ = placeholderPage.Execute(w, nil)
	case RedirectLanding, RedirectUnauthorized:
		http.Redirect(w, r, d.RedirectTo, http.StatusSeeOther)
	default:
		next.ServeHTTP(w, r)
	}
}
