package alerting

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/warehouse-ops/pipeline/internal/event"
	"github.com/warehouse-ops/pipeline/internal/httputil"
)

// RegisterRoutes mounts the alert operations API on the router.
func (m *Manager) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/alerts", m.handleListAlerts).Methods("GET")
	r.HandleFunc("/alerts", m.handleCreateAlert).Methods("POST")
	r.HandleFunc("/alerts/stats", m.handleStats).Methods("GET")
	r.HandleFunc("/alerts/{id}", m.handleGetAlert).Methods("GET")
	r.HandleFunc("/alerts/{id}/acknowledge", m.handleAcknowledge).Methods("POST")
	r.HandleFunc("/alerts/{id}/resolve", m.handleResolve).Methods("POST")
}

func (m *Manager) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	severity := Severity(r.URL.Query().Get("severity"))
	if severity != "" && !severity.Valid() {
		httputil.WriteError(w, http.StatusBadRequest, "invalid severity filter")
		return
	}
	alerts := m.ActiveAlerts(severity)
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

func (m *Manager) handleCreateAlert(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID          string       `json:"alert_id"`
		Title       string       `json:"title"`
		Description string       `json:"description"`
		Severity    Severity     `json:"severity"`
		Source      string       `json:"source"`
		Metadata    event.Record `json:"metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" {
		httputil.WriteError(w, http.StatusBadRequest, "title is required")
		return
	}
	if req.Severity == "" {
		req.Severity = SeverityWarning
	}
	if !req.Severity.Valid() {
		httputil.WriteError(w, http.StatusBadRequest, "invalid severity")
		return
	}
	if req.Source == "" {
		req.Source = "api"
	}

	alert := m.Create(r.Context(), req.ID, req.Title, req.Description, req.Severity, req.Source, req.Metadata)
	httputil.WriteJSON(w, http.StatusCreated, alert)
}

func (m *Manager) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	alert := m.Get(mux.Vars(r)["id"])
	if alert == nil {
		httputil.WriteError(w, http.StatusNotFound, "alert not found")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, alert)
}

func (m *Manager) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req struct {
		User string `json:"user"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.User == "" {
		req.User = "unknown"
	}

	if !m.Acknowledge(id, req.User) {
		httputil.WriteError(w, http.StatusNotFound, "alert not found")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, m.Get(id))
}

func (m *Manager) handleResolve(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !m.Resolve(id) {
		httputil.WriteError(w, http.StatusNotFound, "alert not found")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"alert_id": id, "status": string(StatusResolved)})
}

func (m *Manager) handleStats(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, m.Stats())
}
