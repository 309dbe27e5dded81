package server

import (
	"net/http"
)

type rewardRequest struct {
	Title  string `json:"title"`
	Cost   int    `json:"cost"`
	Prompt string `json:"prompt"`
}

// HandleRewardSave creates the reward, or updates the tracked one.
func (h *Handlers) HandleRewardSave(w http.ResponseWriter, r *http.Request) {
	var req rewardRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	rw, err := h.Rewards.Save(r.Context(), req.Title, req.Cost, req.Prompt)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rw)
}

func (h *Handlers) HandleRewardToggle(w http.ResponseWriter, r *http.Request) {
	rw, err := h.Rewards.Toggle(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rw)
}

// HandleRewardDelete is two-step: the first call arms confirmation, the second deletes.
func (h *Handlers) HandleRewardDelete(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.Rewards.Delete(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{
		"deleted":        deleted,
		"confirmPending": h.Rewards.DeletePending(),
	})
}

func (h *Handlers) HandleRewardDeleteCancel(w http.ResponseWriter, r *http.Request) {
	h.Rewards.CancelDelete()
	writeJSON(w, http.StatusOK, map[string]bool{"confirmPending": false})
}
