package handlers

import (
	"net/http"

	"asyncgen/internal/events"
)

func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]string{"status": "ok", "provider": a.Jobs.Provider()})
}

type statsResponse struct {
	Events     events.Stats `json:"events"`
	ActiveJobs int          `json:"active_jobs"`
}

func (a *App) Stats(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, statsResponse{Events: a.Events.Stats(), ActiveJobs: a.Jobs.ActiveCount()})
}
