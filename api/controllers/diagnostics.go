package controllers

import (
	"context"
	"net/http"

	"github.com/mvrodrig/tillsync/api/responses"
	"github.com/mvrodrig/tillsync/internal/diagnostics"
)

// DiagnosticsLoader assembles the offline diagnostics aggregate.
type DiagnosticsLoader interface {
	Load(ctx context.Context) diagnostics.Snapshot
}

// OfflineDiagnostics returns the read-only aggregate the UI banner renders.
func OfflineDiagnostics(loader DiagnosticsLoader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteSuccess(w, loader.Load(r.Context()))
	}
}
