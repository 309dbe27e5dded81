package server

import (
	"net/http"
	"strings"

	"github.com/stoopler-tools/background-changer/twitchapi"
)

const (
	defaultRedemptionLimit = 50
	maxRedemptionLimit     = 200
)

// HandleRedemptions returns the latest polled redemptions, newest first, optionally
// filtered by status.
func (h *Handlers) HandleRedemptions(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultRedemptionLimit)
	if limit <= 0 {
		limit = defaultRedemptionLimit
	}
	if limit > maxRedemptionLimit {
		limit = maxRedemptionLimit
	}
	status := twitchapi.RedemptionStatus(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("status"))))

	out := make([]twitchapi.Redemption, 0, limit)
	for _, rd := range h.Redemptions.Redemptions() {
		if status != "" && rd.Status != status {
			continue
		}
		out = append(out, rd)
		if len(out) == limit {
			break
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleFulfill generates and shows an image for one pending redemption.
func (h *Handlers) HandleFulfill(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing redemption id")
		return
	}
	res, err := h.Fulfiller.Fulfill(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
