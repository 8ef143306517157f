package server

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"sort"

	"github.com/morezero/peer-services/pkg/directory"
	"github.com/morezero/peer-services/pkg/events"
	"github.com/morezero/peer-services/pkg/exchange"
	"github.com/morezero/peer-services/pkg/session"
)

// routes builds the HTTP mux for health, readiness and read-only views.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleHome())
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/exchanges", getOnly(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.exchanges())
	}))
	mux.HandleFunc("/peers", getOnly(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.host.Directory().List())
	}))
	mux.HandleFunc("/services", getOnly(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.host.Store().DiscoveredServices())
	}))
	mux.HandleFunc("/statuses", getOnly(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.host.Store().DiscoveredStatuses())
	}))
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
	defer cancel()
	h := s.host.Health(ctx)
	status := http.StatusOK
	if h.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, h)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.host.Registry().Closed() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "closing"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// exchanges lists every live exchange, oldest first.
func (s *Server) exchanges() []exchange.Info {
	live := s.host.Registry().EnumerateExchanges()
	out := make([]exchange.Info, 0, len(live))
	for _, ex := range live {
		out = append(out, ex.Info())
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func getOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", "GET")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error(fmt.Sprintf("%s - encode response: %v", logPrefix, err))
	}
}

// homePageTemplate is the HTML for the peer home page (white bg, black/blue text).
const homePageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>Peer Services</title>
  <style>
    * { box-sizing: border-box; }
    body { background: #fff; color: #000; font-family: system-ui, sans-serif; margin: 0; padding: 2rem; line-height: 1.5; }
    a { color: #0066cc; }
    h1, h2, h3 { color: #0066cc; }
    .status-healthy { color: #0066cc; font-weight: bold; }
    .status-unhealthy { color: #cc0000; font-weight: bold; }
    table { border-collapse: collapse; width: 100%; max-width: 900px; margin-top: 0.5rem; }
    th, td { text-align: left; padding: 0.5rem 0.75rem; border: 1px solid #ccc; vertical-align: top; }
    th { background: #f0f4f8; color: #0066cc; }
    .stat { font-weight: bold; color: #0066cc; }
    .meta { color: #333; font-size: 0.9rem; margin-top: 1rem; }
    section { margin-bottom: 2rem; }
    .error { color: #cc0000; }
  </style>
</head>
<body>
  <h1>Peer Services</h1>
  <p class="meta">{{.Health.Address}}: peers, exchanges and discovered services.</p>

  <section>
    <h2>Health</h2>
    <p>Status: <span class="status-{{.Health.Status}}">{{.Health.Status}}</span></p>
    <p>COMMS: {{if .Health.Checks.COMMS}}<span class="stat">OK</span>{{else}}<span class="error">Disconnected</span>{{end}}</p>
    <p>Session: {{if .Health.Checks.Session}}<span class="stat">OK</span>{{else}}<span class="error">Not started</span>{{end}}</p>
    {{if .MirrorChecked}}<p>Mirror: {{if .MirrorOK}}<span class="stat">OK</span>{{else}}<span class="error">Failed</span>{{end}}</p>{{end}}
    <p>Clients represented: <span class="stat">{{.Health.Clients}}</span></p>
    <p>Timestamp: {{.Health.Timestamp}}</p>
  </section>

  <section>
    <h2>Peers</h2>
    {{if not .Peers}}
    <p>No peers seen.</p>
    {{else}}
    <table>
      <thead><tr><th>Address</th><th>Online</th><th>Protocol</th><th>Features</th><th>Last seen</th></tr></thead>
      <tbody>
        {{range .Peers}}
        <tr>
          <td>{{.Address}}</td>
          <td>{{if .Online}}yes{{else}}no{{end}}</td>
          <td>{{.ProtocolVersion}}</td>
          <td>{{len .Features}}</td>
          <td>{{.LastSeen.Format "2006-01-02T15:04:05Z07:00"}}</td>
        </tr>
        {{end}}
      </tbody>
    </table>
    {{end}}
  </section>

  <section>
    <h2>Exchanges</h2>
    {{if not .Exchanges}}
    <p>No open exchanges.</p>
    {{else}}
    <table>
      <thead><tr><th>ID</th><th>Direction</th><th>Peer</th><th>Target service</th><th>State</th></tr></thead>
      <tbody>
        {{range .Exchanges}}
        <tr><td>{{.ID}}</td><td>{{.Direction}}</td><td>{{.Peer}}</td><td>{{.TargetService}}</td><td>{{.State}}</td></tr>
        {{end}}
      </tbody>
    </table>
    {{end}}
  </section>

  <section>
    <h2>Discovered services</h2>
    {{if not .Services}}
    <p>No services discovered.</p>
    {{else}}
    <table>
      <thead><tr><th>Peer</th><th>Service</th><th>Type</th><th>Capabilities</th></tr></thead>
      <tbody>
        {{range .Services}}
        <tr><td>{{.Peer}}</td><td>{{.Service}}</td><td>{{.Type}}</td><td>{{range .Capabilities}}{{.}} {{end}}</td></tr>
        {{end}}
      </tbody>
    </table>
    {{end}}
  </section>

  <section>
    <h2>Recent events</h2>
    {{if not .Events}}
    <p>No events yet.</p>
    {{else}}
    <table>
      <thead><tr><th>Time</th><th>Type</th></tr></thead>
      <tbody>
        {{range .Events}}<tr><td>{{.Timestamp}}</td><td>{{.Type}}</td></tr>{{end}}
      </tbody>
    </table>
    {{end}}
  </section>
</body>
</html>
`

// serviceRow is one discovered service flattened for the home page.
type serviceRow struct {
	Peer         string
	Service      string
	Type         string
	Capabilities []string
}

// homeData is the data passed to the home page template.
type homeData struct {
	Health        *session.HealthOutput
	MirrorChecked bool
	MirrorOK      bool
	Peers         []directory.Peer
	Exchanges     []exchange.Info
	Services      []serviceRow
	Events        []*events.Event
}

// handleHome returns an HTTP handler for the peer home page.
func (s *Server) handleHome() http.HandlerFunc {
	tmpl := template.Must(template.New("home").Parse(homePageTemplate))
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
		defer cancel()

		data := homeData{
			Health:    s.host.Health(ctx),
			Peers:     s.host.Directory().List(),
			Exchanges: s.exchanges(),
			Services:  s.serviceRows(),
		}
		if m := data.Health.Checks.Mirror; m != nil {
			data.MirrorChecked, data.MirrorOK = true, *m
		}
		if s.recent != nil {
			data.Events = newestFirst(s.recent.Events())
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := tmpl.Execute(w, data); err != nil {
			slog.Error(fmt.Sprintf("%s - home template execute: %v", logPrefix, err))
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}
}

func (s *Server) serviceRows() []serviceRow {
	var rows []serviceRow
	for peer, services := range s.host.Store().DiscoveredServices() {
		for name, d := range services {
			rows = append(rows, serviceRow{Peer: peer, Service: name, Type: d.Type, Capabilities: d.Capabilities})
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Peer != rows[j].Peer {
			return rows[i].Peer < rows[j].Peer
		}
		return rows[i].Service < rows[j].Service
	})
	return rows
}

func newestFirst(evs []*events.Event) []*events.Event {
	out := make([]*events.Event, len(evs))
	for i, ev := range evs {
		out[len(evs)-1-i] = ev
	}
	return out
}
