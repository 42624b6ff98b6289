// Package server exposes the co-pilot's local HTTP surface: a status report,
// admin endpoints for injecting events and flipping modules, the overlay
// panel websocket, and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/birchlight/copilot/internal/dispatch"
	"github.com/birchlight/copilot/internal/eventsub"
	"github.com/birchlight/copilot/internal/history"
	"github.com/birchlight/copilot/internal/supervisor"
)

// StatusReporter provides the per-capability state shown by GET /status and
// the enable/disable switch behind POST /admin/module
type StatusReporter interface {
	Statuses() []supervisor.Status
	SetEnabled(ctx context.Context, name string, enabled bool) error
}

// PresetManager is the slice of preset handling the admin surface drives
type PresetManager interface {
	Names() []string
	Current(ctx context.Context) (string, error)
	Apply(ctx context.Context, name string) error
}

// SubmitFunc hands an event to the dispatcher
type SubmitFunc func(ctx context.Context, ev dispatch.Event) error

// PanelHub serves the overlay websocket and reports how many overlay pages
// are currently attached
type PanelHub interface {
	http.Handler
	ConnectedCount() int
}

type Server struct {
	http.Handler

	capabilities StatusReporter
	presets      PresetManager
	submit       SubmitFunc
	panel        PanelHub
	log          *slog.Logger
}

func New(capabilities StatusReporter, presets PresetManager, submit SubmitFunc, panel PanelHub, registry *prometheus.Registry, log *slog.Logger) *Server {
	s := &Server{
		capabilities: capabilities,
		presets:      presets,
		submit:       submit,
		panel:        panel,
		log:          log,
	}
	r := mux.NewRouter()
	r.Path("/status").Methods("GET").HandlerFunc(s.handleGetStatus)
	r.Path("/admin/chat").Methods("POST").HandlerFunc(s.handlePostChat)
	r.Path("/admin/redemption").Methods("POST").HandlerFunc(s.handlePostRedemption)
	r.Path("/admin/preset").Methods("POST").HandlerFunc(s.handlePostPreset)
	r.Path("/admin/module").Methods("POST").HandlerFunc(s.handlePostModule)
	r.Path("/panel").Handler(panel)
	r.Path("/metrics").Handler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	s.Handler = cors.AllowAll().Handler(r)
	return s
}

type statusResponse struct {
	Capabilities []supervisor.Status `json:"capabilities"`
	Preset       string              `json:"preset,omitempty"`
	Presets      []string            `json:"presets,omitempty"`
	PanelClients int                 `json:"panelClients"`
}

func (s *Server) handleGetStatus(res http.ResponseWriter, req *http.Request) {
	current, err := s.presets.Current(req.Context())
	if err != nil {
		s.log.Error("failed to read current preset", "err", err)
	}
	status := statusResponse{
		Capabilities: s.capabilities.Statuses(),
		Preset:       current,
		Presets:      s.presets.Names(),
		PanelClients: s.panel.ConnectedCount(),
	}
	res.Header().Set("content-type", "application/json")
	if err := json.NewEncoder(res).Encode(status); err != nil {
		http.Error(res, err.Error(), http.StatusInternalServerError)
	}
}

type chatRequest struct {
	Username  string `json:"username"`
	UserID    string `json:"userId"`
	MessageID string `json:"messageId,omitempty"`
	Text      string `json:"text"`
}

func (s *Server) handlePostChat(res http.ResponseWriter, req *http.Request) {
	var body chatRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(res, err.Error(), http.StatusBadRequest)
		return
	}
	if body.Username == "" || body.Text == "" {
		http.Error(res, "username and text are required", http.StatusBadRequest)
		return
	}
	err := s.submit(req.Context(), dispatch.ChatArrived{Message: history.Message{
		Timestamp: time.Now(),
		Username:  body.Username,
		UserID:    body.UserID,
		MessageID: body.MessageID,
		Text:      body.Text,
		Source:    history.SourceLive,
	}})
	if err != nil {
		http.Error(res, err.Error(), http.StatusServiceUnavailable)
		return
	}
	res.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePostRedemption(res http.ResponseWriter, req *http.Request) {
	var body eventsub.Redemption
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(res, err.Error(), http.StatusBadRequest)
		return
	}
	if body.RedemptionID == "" || body.RewardID == "" {
		http.Error(res, "redemptionId and rewardId are required", http.StatusBadRequest)
		return
	}
	if err := s.submit(req.Context(), dispatch.RedemptionArrived{Redemption: body}); err != nil {
		http.Error(res, err.Error(), http.StatusServiceUnavailable)
		return
	}
	res.WriteHeader(http.StatusNoContent)
}

type presetRequest struct {
	Name string `json:"name"`
}

func (s *Server) handlePostPreset(res http.ResponseWriter, req *http.Request) {
	var body presetRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(res, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.presets.Apply(req.Context(), body.Name); err != nil {
		http.Error(res, err.Error(), http.StatusBadRequest)
		return
	}
	res.WriteHeader(http.StatusNoContent)
}

type moduleRequest struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

func (s *Server) handlePostModule(res http.ResponseWriter, req *http.Request) {
	var body moduleRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(res, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.capabilities.SetEnabled(req.Context(), body.Name, body.Enabled); err != nil {
		http.Error(res, err.Error(), http.StatusBadRequest)
		return
	}
	res.WriteHeader(http.StatusNoContent)
}
