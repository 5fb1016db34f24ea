package controllers

import (
	"net/http"

	"github.com/mvrodrig/tillsync/api/responses"
	"github.com/mvrodrig/tillsync/pkg/config"
	"github.com/mvrodrig/tillsync/pkg/db"
)

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Tillsync-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

func HealthReady(cfg *config.Config, store db.Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Tillsync-Env", cfg.App.Env)
		status := "ready"
		if store != nil {
			if err := store.Ping(r.Context()); err != nil {
				status = "degraded"
			}
		}
		responses.WriteSuccess(w, map[string]string{"status": status})
	}
}
