package server

import (
	"net/http"

	"github.com/stoopler-tools/background-changer/state"
)

// HandleOBSConnect connects with the posted credentials, falling back to the stored ones
// when the body is empty. The manager records the credentials only once connected.
func (h *Handlers) HandleOBSConnect(w http.ResponseWriter, r *http.Request) {
	var creds state.ConnectionCredentials
	if err := decodeJSON(r, &creds); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !creds.Valid() {
		stored, ok, err := h.Store.StoredOBSCredentials(r.Context())
		if err != nil {
			writeErr(w, err)
			return
		}
		if ok {
			creds = stored
		} else if mem := h.Store.OBSCredentials(); mem.Valid() {
			creds = mem
		}
	}
	if err := h.OBS.Connect(r.Context(), creds); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"connected": true, "state": h.OBS.State().String()})
}

// HandleOBSDisconnect closes the session and stops reconnecting.
func (h *Handlers) HandleOBSDisconnect(w http.ResponseWriter, r *http.Request) {
	h.OBS.Disconnect(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"connected": false, "state": h.OBS.State().String()})
}

// HandleOBSSources lists image inputs. Without a session, or if OBS fails to answer, the list is empty.
func (h *Handlers) HandleOBSSources(w http.ResponseWriter, r *http.Request) {
	sources, err := h.OBS.ImageSources(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	if sources == nil {
		sources = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": sources})
}
