// Package state holds the application state shared by the OBS session manager, the
// redemption poller, the reward controller and the HTTP API: connection flags, the Twitch
// token, the tracked reward, OpenAI settings, the current image, and a bounded log.
//
// A Store is created once and passed explicitly to every component. All accessors are safe
// for concurrent use; updates are last-write-wins. After each mutation the application blob is
// persisted best-effort, and subscribers are signalled.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Durable storage keys.
const (
	KeyOBSCredentials = "obsConnectionInfo"
	KeyAppState       = "background-changer-storage"
)

// MaxLogEntries bounds the log; adding beyond it evicts the oldest entry.
const MaxLogEntries = 20

// DefaultImageSize is used when OpenAI settings carry no size.
const DefaultImageSize = "1024x1024"

// ImageSizes lists the sizes accepted by the image generation endpoint.
var ImageSizes = []string{"256x256", "512x512", "1024x1024"}

// Persister stores opaque blobs by key.
type Persister interface {
	Load(ctx context.Context, key string) ([]byte, bool, error)
	Save(ctx context.Context, key string, blob []byte) error
	Delete(ctx context.Context, key string) error
}

// ConnectionCredentials locate and authenticate an OBS WebSocket server.
type ConnectionCredentials struct {
	URL      string `json:"obsWebsocketUrl"`
	Port     string `json:"obsPort"`
	Password string `json:"obsPassword"`
}

// Valid reports whether host and port are present.
func (c ConnectionCredentials) Valid() bool { return c.URL != "" && c.Port != "" }

// Reward mirrors the one Twitch custom reward the panel manages.
type Reward struct {
	ID            string `json:"id,omitempty"`
	BroadcasterID string `json:"broadcaster_id"`
	Title         string `json:"title"`
	Cost          int    `json:"cost"`
	Prompt        string `json:"prompt"`
	IsEnabled     bool   `json:"is_enabled"`
}

// RewardForm holds the reward editor's fields.
type RewardForm struct {
	Title  string `json:"title"`
	Cost   int    `json:"cost"`
	Prompt string `json:"prompt"`
}

// LogEntry is one line of the user-facing activity log.
type LogEntry struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Details   string    `json:"details,omitempty"`
}

// OpenAISettings configure image generation.
type OpenAISettings struct {
	APIKey       string `json:"apiKey,omitempty"`
	OrgID        string `json:"orgId,omitempty"`
	PromptPrefix string `json:"promptPrefix,omitempty"`
	ImageSize    string `json:"imageSize,omitempty"`
}

// Snapshot is a point-in-time copy of the application state.
type Snapshot struct {
	TwitchConnected bool           `json:"twitchConnected"`
	OBSConnected    bool           `json:"obsConnected"`
	OpenAIConnected bool           `json:"openAIConnected"`
	AccessToken     string         `json:"twitchAccessToken,omitempty"`
	BroadcasterID   string         `json:"broadcasterId,omitempty"`
	Reward          *Reward        `json:"channelPointReward,omitempty"`
	Form            RewardForm     `json:"rewardForm"`
	OpenAI          OpenAISettings `json:"openAI"`
	CurrentImage    string         `json:"currentImage,omitempty"`
	CurrentFile     string         `json:"currentImageFile,omitempty"`
	Log             []LogEntry     `json:"debugLog"`
}

// Store is the shared application state.
type Store struct {
	persister Persister
	persistMu sync.Mutex
	now       func() time.Time

	mu   sync.RWMutex
	app  Snapshot
	obs  ConnectionCredentials
	subs []chan struct{}
}

// NewStore returns an empty store. persister may be nil for a memory-only store.
func NewStore(p Persister) *Store {
	return &Store{persister: p, now: time.Now}
}

// Load restores the application blob. Flags describing live connections are reset because
// no session survives a restart.
func (s *Store) Load(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	blob, ok, err := s.persister.Load(ctx, KeyAppState)
	if err != nil {
		return fmt.Errorf("load app state: %w", err)
	}
	if !ok {
		return nil
	}
	var snap Snapshot
	if err := json.Unmarshal(blob, &snap); err != nil {
		return fmt.Errorf("decode app state: %w", err)
	}
	snap.OBSConnected = false
	if len(snap.Log) > MaxLogEntries {
		snap.Log = snap.Log[:MaxLogEntries]
	}
	s.mu.Lock()
	s.app = snap
	s.mu.Unlock()
	return nil
}

// Subscribe returns a channel signalled (coalescing) after every mutation.
func (s *Store) Subscribe() <-chan struct{} {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()
	return ch
}

// update applies fn under the write lock, then notifies and persists.
func (s *Store) update(fn func(*Snapshot)) {
	s.mu.Lock()
	fn(&s.app)
	subs := s.subs
	s.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	s.persistApp()
}

// persistApp writes the current app blob. persistMu orders writers so the last write
// always carries the latest state.
func (s *Store) persistApp() {
	if s.persister == nil {
		return
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.RLock()
	blob, err := json.Marshal(s.app)
	s.mu.RUnlock()
	if err != nil {
		slog.Warn("encode app state failed", slog.Any("err", err), slog.String("component", "state"))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.persister.Save(ctx, KeyAppState, blob); err != nil {
		slog.Warn("persist state failed", slog.String("key", KeyAppState), slog.Any("err", err), slog.String("component", "state"))
	}
}

// Snapshot returns a deep copy of the application state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := s.app
	if s.app.Reward != nil {
		r := *s.app.Reward
		snap.Reward = &r
	}
	snap.Log = append([]LogEntry(nil), s.app.Log...)
	return snap
}

// AddLog prepends an entry, evicting the oldest beyond MaxLogEntries.
func (s *Store) AddLog(message string, details ...string) {
	e := LogEntry{Message: message, Timestamp: s.now()}
	if len(details) > 0 {
		e.Details = details[0]
	}
	s.update(func(a *Snapshot) {
		log := make([]LogEntry, 0, MaxLogEntries)
		log = append(log, e)
		log = append(log, a.Log...)
		if len(log) > MaxLogEntries {
			log = log[:MaxLogEntries]
		}
		a.Log = log
	})
}

// Log returns the entries newest first.
func (s *Store) Log() []LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]LogEntry(nil), s.app.Log...)
}

func (s *Store) TwitchConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.app.TwitchConnected
}

func (s *Store) SetTwitchConnected(v bool) { s.update(func(a *Snapshot) { a.TwitchConnected = v }) }

func (s *Store) OBSConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.app.OBSConnected
}

func (s *Store) SetOBSConnected(v bool) { s.update(func(a *Snapshot) { a.OBSConnected = v }) }

func (s *Store) OpenAIConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.app.OpenAIConnected
}

func (s *Store) SetOpenAIConnected(v bool) { s.update(func(a *Snapshot) { a.OpenAIConnected = v }) }

// AccessToken returns the Twitch user token or "".
func (s *Store) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.app.AccessToken
}

func (s *Store) SetAccessToken(tok string) { s.update(func(a *Snapshot) { a.AccessToken = tok }) }

// ClearAuth drops the token and the connected flag together.
func (s *Store) ClearAuth() {
	s.update(func(a *Snapshot) {
		a.AccessToken = ""
		a.TwitchConnected = false
	})
}

func (s *Store) BroadcasterID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.app.BroadcasterID
}

func (s *Store) SetBroadcasterID(id string) { s.update(func(a *Snapshot) { a.BroadcasterID = id }) }

// Reward returns a copy of the tracked reward, or nil.
func (s *Store) Reward() *Reward {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.app.Reward == nil {
		return nil
	}
	r := *s.app.Reward
	return &r
}

// SetReward replaces the tracked reward; nil clears it.
func (s *Store) SetReward(r *Reward) {
	var cp *Reward
	if r != nil {
		c := *r
		cp = &c
	}
	s.update(func(a *Snapshot) { a.Reward = cp })
}

func (s *Store) RewardForm() RewardForm {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.app.Form
}

func (s *Store) SetRewardForm(f RewardForm) { s.update(func(a *Snapshot) { a.Form = f }) }

// OpenAISettings returns the settings with ImageSize defaulted.
func (s *Store) OpenAISettings() OpenAISettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o := s.app.OpenAI
	if o.ImageSize == "" {
		o.ImageSize = DefaultImageSize
	}
	return o
}

// SetOpenAISettings validates the image size and stores the settings.
func (s *Store) SetOpenAISettings(o OpenAISettings) error {
	if o.ImageSize != "" && !validImageSize(o.ImageSize) {
		return fmt.Errorf("invalid image size %q", o.ImageSize)
	}
	s.update(func(a *Snapshot) { a.OpenAI = o })
	return nil
}

func validImageSize(size string) bool {
	for _, v := range ImageSizes {
		if v == size {
			return true
		}
	}
	return false
}

// CurrentImage returns the URL and local file of the image on screen.
func (s *Store) CurrentImage() (url, file string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.app.CurrentImage, s.app.CurrentFile
}

func (s *Store) SetCurrentImage(url, file string) {
	s.update(func(a *Snapshot) {
		a.CurrentImage = url
		a.CurrentFile = file
	})
}
