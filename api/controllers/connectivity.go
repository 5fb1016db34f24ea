package controllers

import (
	"encoding/json"
	"net/http"

	"github.com/mvrodrig/tillsync/api/responses"
	pkgerrors "github.com/mvrodrig/tillsync/pkg/errors"
	"github.com/mvrodrig/tillsync/pkg/logger"
)

// ReportConnectivity accepts the till UI's connectivity transitions. Going
// online wakes the sync engine for an immediate pass; going offline is
// recorded as a no-op so the UI can report both edges unconditionally.
func ReportConnectivity(logg *logger.Logger, engine SyncEngine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Online *bool `json:"online"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Online == nil {
			responses.WriteError(r.Context(), logg, w,
				pkgerrors.New(pkgerrors.CodeValidation, "online flag is required"))
			return
		}

		engine.Notify(*body.Online)
		responses.WriteSuccess(w, map[string]bool{"online": *body.Online})
	}
}
