package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/yukina-ai/yukina/internal/agent"
	"github.com/yukina-ai/yukina/internal/connection"
	"github.com/yukina-ai/yukina/internal/events"
	"github.com/yukina-ai/yukina/internal/history"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	agent   *agent.Agent
	manager *connection.Manager
	loop    *agent.Loop
	store   *history.Store
	bus     *events.Bus
	logger  *zap.Logger
}

// NewHandler creates a new API handler. Store and bus may be nil when the
// corresponding backend is not configured.
func NewHandler(a *agent.Agent, manager *connection.Manager, loop *agent.Loop, store *history.Store, bus *events.Bus, logger *zap.Logger) *Handler {
	return &Handler{
		agent:   a,
		manager: manager,
		loop:    loop,
		store:   store,
		bus:     bus,
		logger:  logger,
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)
		r.Get("/agent", h.getAgent)

		r.Get("/connections", h.listConnections)
		r.Get("/connections/{name}/actions", h.listActions)
		r.Post("/actions", h.performAction)

		r.Get("/loop/status", h.loopStatus)
		r.Post("/loop/start", h.startLoop)
		r.Post("/loop/stop", h.stopLoop)

		r.Get("/history", h.listHistory)
		r.Get("/events", h.listEvents)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "agent": h.agent.Profile.Name})
}

type taskSummary struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
}

type agentSummary struct {
	Name      string        `json:"name"`
	Bio       []string      `json:"bio"`
	Traits    []string      `json:"traits"`
	Examples  []string      `json:"examples"`
	LoopDelay float64       `json:"loop_delay"`
	Tasks     []taskSummary `json:"tasks"`
}

func (h *Handler) getAgent(w http.ResponseWriter, r *http.Request) {
	p := h.agent.Profile
	tasks := make([]taskSummary, 0, len(p.Tasks))
	for _, t := range p.Tasks {
		tasks = append(tasks, taskSummary{Name: t.Name, Weight: t.Weight})
	}
	writeJSON(w, http.StatusOK, agentSummary{
		Name:      p.Name,
		Bio:       p.Bio,
		Traits:    p.Traits,
		Examples:  p.Examples,
		LoopDelay: p.LoopDelay.Seconds(),
		Tasks:     tasks,
	})
}

type connectionStatus struct {
	Name          string `json:"name"`
	Configured    bool   `json:"configured"`
	IsLLMProvider bool   `json:"is_llm_provider"`
}

func (h *Handler) listConnections(w http.ResponseWriter, r *http.Request) {
	conns := h.manager.List()
	statuses := make([]connectionStatus, 0, len(conns))
	for _, c := range conns {
		statuses = append(statuses, connectionStatus{
			Name:          c.Name(),
			Configured:    c.IsConfigured(false),
			IsLLMProvider: c.IsLLMProvider(),
		})
	}
	writeJSON(w, http.StatusOK, statuses)
}

func (h *Handler) listActions(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	conn, ok := h.manager.Get(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "connection not found"})
		return
	}
	writeJSON(w, http.StatusOK, conn.Actions())
}

type actionRequest struct {
	Connection string `json:"connection"`
	Action     string `json:"action"`
	Params     []any  `json:"params"`
}

func (h *Handler) performAction(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Connection == "" || req.Action == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "connection and action are required"})
		return
	}

	result, err := h.manager.Dispatch(r.Context(), req.Connection, req.Action, req.Params)
	if err != nil {
		writeJSON(w, dispatchStatus(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": result})
}

// dispatchStatus maps a dispatch failure to an HTTP status code.
func dispatchStatus(err error) int {
	var derr *connection.DispatchError
	if !errors.As(err, &derr) {
		return http.StatusInternalServerError
	}
	switch derr.Kind {
	case connection.ErrUnknownConnection, connection.ErrUnknownAction:
		return http.StatusNotFound
	case connection.ErrNotConfigured:
		return http.StatusServiceUnavailable
	case connection.ErrParameterCount:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) loopStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.loop.Status())
}

func (h *Handler) startLoop(w http.ResponseWriter, r *http.Request) {
	if err := h.loop.Start(); err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "loop started"})
}

func (h *Handler) stopLoop(w http.ResponseWriter, r *http.Request) {
	h.loop.Stop()
	writeJSON(w, http.StatusOK, map[string]string{"status": "loop stopped"})
}

func (h *Handler) listHistory(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "action history not configured"})
		return
	}
	records, err := h.store.RecentActions(r.Context(), queryLimit(r))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "event stream not configured"})
		return
	}
	evts, err := h.bus.Recent(r.Context(), queryLimit(r))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, evts)
}

func queryLimit(r *http.Request) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return 0
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
