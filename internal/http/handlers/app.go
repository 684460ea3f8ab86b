package handlers

import (
	"encoding/json"
	"net/http"

	"asyncgen/internal/domain"
	"asyncgen/internal/events"
	"asyncgen/internal/infra"
	"asyncgen/internal/jobs"
)

// App bundles the dependencies shared by the HTTP handlers.
type App struct {
	Jobs   *jobs.Manager
	Events *events.Publisher
	// Store is optional; without it job status lookups return 503.
	Store  domain.JobRepository
	Logger infra.Logger
}

func NewApp(manager *jobs.Manager, pub *events.Publisher, store domain.JobRepository, logger infra.Logger) *App {
	return &App{Jobs: manager, Events: pub, Store: store, Logger: logger}
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, errorResponse{Error: errCode, Message: message})
}
