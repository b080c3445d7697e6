package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/confreg/gatehouse/internal/gatehouse/store"
	"github.com/confreg/gatehouse/pkg/httpx"
)

// Router owns the mux and runs every registered handler behind the Gate
// pipeline. CRUD handlers (attendees, rooms, groups, announcements, CSV
// import, campaigns) mount here from the outside and read their verdict from
// the request context.
type Router struct {
	Mux *http.ServeMux

	gate         *Gate
	store        store.Store
	logger       *slog.Logger
	buildVersion string
	startTime    time.Time
}

func NewRouter(gate *Gate, st store.Store, buildVersion string, logger *slog.Logger) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		gate:         gate,
		store:        st,
		logger:       logger,
		buildVersion: buildVersion,
		startTime:    time.Now(),
	}

	r.registerSessions()
	r.registerSystem()

	return r
}

// Handle mounts an external handler on the gated mux.
func (r *Router) Handle(pattern string, h http.Handler) {
	r.Mux.Handle(pattern, h)
}

// HandleFunc mounts an external handler func on the gated mux.
func (r *Router) HandleFunc(pattern string, h http.HandlerFunc) {
	r.Mux.Handle(pattern, h)
}

// ServeHTTP implements http.Handler and applies the gate pipeline.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.gate.Middleware()).ServeHTTP(w, req)
}

func (r *Router) registerSessions() {
	h := &SessionHandler{Sessions: r.store.Sessions(), Logger: r.logger}

	r.Mux.Handle("POST /api/session/heartbeat", http.HandlerFunc(h.HandleHeartbeat))
	r.Mux.Handle("DELETE /api/session", http.HandlerFunc(h.HandleLogout))
}

func (r *Router) registerSystem() {
	// Health endpoints sit outside /api so monitoring traffic never burns
	// rate budget.
	r.Mux.Handle("GET /livez", LivezHandler(r.startTime, r.buildVersion))
	r.Mux.Handle("GET /readyz", ReadyzHandler(r.startTime, r.buildVersion, r.store))
}
