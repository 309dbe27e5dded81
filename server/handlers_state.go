package server

import (
	"net/http"

	"github.com/stoopler-tools/background-changer/state"
)

type obsConnectionView struct {
	URL         string `json:"obsWebsocketUrl"`
	Port        string `json:"obsPort"`
	HasPassword bool   `json:"hasPassword"`
}

type openAIView struct {
	HasAPIKey    bool   `json:"hasApiKey"`
	OrgID        string `json:"orgId,omitempty"`
	PromptPrefix string `json:"promptPrefix,omitempty"`
	ImageSize    string `json:"imageSize"`
}

// stateView is the snapshot with secrets reduced to presence flags.
type stateView struct {
	TwitchConnected bool              `json:"twitchConnected"`
	OBSConnected    bool              `json:"obsConnected"`
	OpenAIConnected bool              `json:"openAIConnected"`
	OBSState        string            `json:"obsState,omitempty"`
	OBSLastError    string            `json:"obsLastError,omitempty"`
	OBSConnection   obsConnectionView `json:"obsConnection"`
	BroadcasterID   string            `json:"broadcasterId,omitempty"`
	Reward          *state.Reward     `json:"channelPointReward"`
	Form            state.RewardForm  `json:"rewardForm"`
	DeletePending   bool              `json:"deletePending"`
	OpenAI          openAIView        `json:"openAI"`
	CurrentImage    string            `json:"currentImage,omitempty"`
	Log             []state.LogEntry  `json:"debugLog"`
}

func (h *Handlers) view() stateView {
	snap := h.Store.Snapshot()
	creds := h.Store.OBSCredentials()
	oa := h.Store.OpenAISettings()
	v := stateView{
		TwitchConnected: snap.TwitchConnected,
		OBSConnected:    snap.OBSConnected,
		OpenAIConnected: snap.OpenAIConnected,
		OBSConnection:   obsConnectionView{URL: creds.URL, Port: creds.Port, HasPassword: creds.Password != ""},
		BroadcasterID:   snap.BroadcasterID,
		Reward:          snap.Reward,
		Form:            snap.Form,
		OpenAI:          openAIView{HasAPIKey: oa.APIKey != "", OrgID: oa.OrgID, PromptPrefix: oa.PromptPrefix, ImageSize: oa.ImageSize},
		CurrentImage:    snap.CurrentImage,
		Log:             snap.Log,
	}
	if v.Log == nil {
		v.Log = []state.LogEntry{}
	}
	if h.OBS != nil {
		v.OBSState = h.OBS.State().String()
		v.OBSLastError = h.OBS.LastError()
	}
	if h.Rewards != nil {
		v.DeletePending = h.Rewards.DeletePending()
	}
	return v
}

// HandleState returns the application state.
func (h *Handlers) HandleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.view())
}

// HandleLog returns the activity log, newest first.
func (h *Handlers) HandleLog(w http.ResponseWriter, r *http.Request) {
	log := h.Store.Log()
	if log == nil {
		log = []state.LogEntry{}
	}
	writeJSON(w, http.StatusOK, log)
}

type openAISettingsRequest struct {
	APIKey       *string `json:"apiKey"`
	OrgID        *string `json:"orgId"`
	PromptPrefix *string `json:"promptPrefix"`
	ImageSize    *string `json:"imageSize"`
}

// HandleOpenAISettings applies a partial settings update; omitted fields keep their values.
func (h *Handlers) HandleOpenAISettings(w http.ResponseWriter, r *http.Request) {
	var req openAISettingsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	s := h.Store.OpenAISettings()
	keyChanged := false
	if req.APIKey != nil {
		keyChanged = *req.APIKey != s.APIKey
		s.APIKey = *req.APIKey
	}
	if req.OrgID != nil {
		keyChanged = keyChanged || *req.OrgID != s.OrgID
		s.OrgID = *req.OrgID
	}
	if req.PromptPrefix != nil {
		s.PromptPrefix = *req.PromptPrefix
	}
	if req.ImageSize != nil {
		s.ImageSize = *req.ImageSize
	}
	if err := h.Store.SetOpenAISettings(s); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if keyChanged {
		h.Store.SetOpenAIConnected(false)
	}
	writeJSON(w, http.StatusOK, h.view().OpenAI)
}

type testConnectionRequest struct {
	APIKey string `json:"apiKey"`
	OrgID  string `json:"orgId"`
}

// HandleOpenAITestConnection lists models with the given or stored credentials.
func (h *Handlers) HandleOpenAITestConnection(w http.ResponseWriter, r *http.Request) {
	var req testConnectionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	s := h.Store.OpenAISettings()
	if req.APIKey != "" {
		s.APIKey, s.OrgID = req.APIKey, req.OrgID
	}
	if s.APIKey == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "OpenAI API key not configured"})
		return
	}
	if err := h.TestOpenAI(r.Context(), s); err != nil {
		h.Store.SetOpenAIConnected(false)
		h.Store.AddLog("Failed to connect to OpenAI", err.Error())
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": "Failed to connect to OpenAI"})
		return
	}
	h.Store.SetOpenAIConnected(true)
	h.Store.AddLog("Connected to OpenAI")
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
