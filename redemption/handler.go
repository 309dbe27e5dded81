package redemption

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel/attribute"

	"github.com/stoopler-tools/background-changer/notify"
	"github.com/stoopler-tools/background-changer/obs"
	"github.com/stoopler-tools/background-changer/openai"
	"github.com/stoopler-tools/background-changer/state"
	"github.com/stoopler-tools/background-changer/telemetry"
	"github.com/stoopler-tools/background-changer/twitchapi"
)

var (
	ErrNotLoggedIn       = errors.New("not logged in to Twitch")
	ErrNoReward          = errors.New("no channel point reward configured")
	ErrUnknownRedemption = errors.New("redemption not found")
	ErrNotPending        = errors.New("redemption is not pending")
	ErrFulfillInProgress = errors.New("redemption is already being fulfilled")

	errDownloadTooLarge = errors.New("image exceeds download limit")
)

const (
	maxImageBytes    = 20 << 20
	defaultDedupSize = 512
	defaultQueueSize = 32
	imageDirName     = "images"
	imageExt         = ".png"
)

// Source kinds understood by the screen update step.
const (
	SourceImage   = "image"
	SourceBrowser = "browser"
)

// API is the Twitch surface the handler needs.
type API interface {
	Lister
	UpdateRedemptionStatus(ctx context.Context, broadcasterID, rewardID, redemptionID string, status twitchapi.RedemptionStatus) (twitchapi.Redemption, error)
}

// ImageGenerator turns a prompt into an image URL.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt, size string) (string, error)
}

// Screen puts an image in front of viewers.
type Screen interface {
	SetImageFile(ctx context.Context, input, path string) error
	RefreshBrowserSource(ctx context.Context, input string) error
}

// HandlerOptions configure a Handler. Zero values pick defaults.
type HandlerOptions struct {
	DataDir    string
	SourceName string
	SourceKind string
	// HTTPClient downloads generated images.
	HTTPClient *http.Client
	// NewGenerator builds an image generator from the current settings.
	NewGenerator func(state.OpenAISettings) ImageGenerator
	Notifier     notify.Notifier
	DedupSize    int
}

// Result describes a fulfilled redemption.
type Result struct {
	RedemptionID string `json:"redemptionId"`
	ImageURL     string `json:"imageUrl"`
	File         string `json:"file"`
}

// Handler fulfils redemptions: generate, download, show, mark FULFILLED, notify.
type Handler struct {
	store  *state.Store
	api    API
	poller *Poller
	screen Screen
	opts   HandlerOptions
	log    *slog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}

	seen  *lru.Cache[string, struct{}]
	queue chan string
}

// NewHandler wires a handler. screen may be nil when no OBS source is configured.
func NewHandler(store *state.Store, api API, poller *Poller, screen Screen, opts HandlerOptions) *Handler {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if opts.NewGenerator == nil {
		opts.NewGenerator = func(s state.OpenAISettings) ImageGenerator {
			return &openai.Client{APIKey: s.APIKey, OrgID: s.OrgID}
		}
	}
	if opts.SourceKind == "" {
		opts.SourceKind = SourceImage
	}
	if opts.DedupSize <= 0 {
		opts.DedupSize = defaultDedupSize
	}
	seen, _ := lru.New[string, struct{}](opts.DedupSize)
	return &Handler{
		store:    store,
		api:      api,
		poller:   poller,
		screen:   screen,
		opts:     opts,
		log:      slog.Default().With(slog.String("component", "fulfil")),
		inflight: make(map[string]struct{}),
		seen:     seen,
		queue:    make(chan string, defaultQueueSize),
	}
}

// ImageDir is where downloaded images are written.
func (h *Handler) ImageDir() string {
	return filepath.Join(h.opts.DataDir, imageDirName)
}

func (h *Handler) acquire(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, busy := h.inflight[id]; busy {
		return false
	}
	h.inflight[id] = struct{}{}
	return true
}

func (h *Handler) release(id string) {
	h.mu.Lock()
	delete(h.inflight, id)
	h.mu.Unlock()
}

// Fulfill runs the whole pipeline for one pending redemption. Missing login, reward or
// OpenAI key fail before any remote call.
func (h *Handler) Fulfill(ctx context.Context, id string) (Result, error) {
	tok := h.store.AccessToken()
	if tok == "" {
		return Result{}, ErrNotLoggedIn
	}
	reward := h.store.Reward()
	if reward == nil || reward.ID == "" {
		return Result{}, ErrNoReward
	}
	settings := h.store.OpenAISettings()
	if settings.APIKey == "" {
		return Result{}, openai.ErrNoAPIKey
	}
	rd, ok := h.poller.Find(id)
	if !ok {
		return Result{}, ErrUnknownRedemption
	}
	if rd.Status != twitchapi.StatusUnfulfilled {
		return Result{}, ErrNotPending
	}
	if !h.acquire(id) {
		return Result{}, ErrFulfillInProgress
	}
	defer h.release(id)

	ctx, span := telemetry.StartSpan(ctx, "redemption", "fulfill", attribute.String("redemption_id", id))
	var (
		res Result
		err error
	)
	defer func() { telemetry.EndSpan(span, err) }()
	telemetry.TimeFunc(telemetry.FulfillDuration, func() {
		res, err = h.fulfill(ctx, reward, settings, rd)
	})
	if err != nil {
		telemetry.Inc(telemetry.RedemptionsFailed)
		h.store.AddLog("Error Fulfilling Redemption", fmt.Sprintf("RedemptionID: %s, Error: %s", id, err.Error()))
		telemetry.LoggerWithCorr(ctx).Error("fulfil redemption failed", slog.String("redemption_id", id), slog.Any("err", err), slog.String("component", "fulfil"))
		return Result{}, err
	}
	telemetry.Inc(telemetry.RedemptionsFulfilled)
	return res, nil
}

func (h *Handler) fulfill(ctx context.Context, reward *state.Reward, settings state.OpenAISettings, rd twitchapi.Redemption) (Result, error) {
	h.store.AddLog("Channel Point Redeemed", fmt.Sprintf("User: %s, Input: %s", rd.UserName, rd.UserInput))

	prompt := strings.TrimSpace(strings.TrimSpace(settings.PromptPrefix) + " " + strings.TrimSpace(rd.UserInput))
	var (
		url string
		err error
	)
	telemetry.TimeFunc(telemetry.ImageGenerationDuration, func() {
		url, err = h.opts.NewGenerator(settings).GenerateImage(ctx, prompt, settings.ImageSize)
	})
	if err != nil {
		return Result{}, fmt.Errorf("generate image: %w", err)
	}
	telemetry.Inc(telemetry.ImagesGenerated)

	path, err := h.download(ctx, url, rd.ID)
	if err != nil {
		return Result{}, fmt.Errorf("download image: %w", err)
	}
	if err := h.show(ctx, path); err != nil {
		return Result{}, fmt.Errorf("update obs source: %w", err)
	}
	h.store.SetCurrentImage(url, path)

	broadcaster := reward.BroadcasterID
	if broadcaster == "" {
		broadcaster = h.store.BroadcasterID()
	}
	if _, err := h.api.UpdateRedemptionStatus(ctx, broadcaster, reward.ID, rd.ID, twitchapi.StatusFulfilled); err != nil {
		return Result{}, err
	}
	h.poller.MarkStatus(rd.ID, twitchapi.StatusFulfilled)
	h.store.AddLog("Redemption Fulfilled", "RedemptionID: "+rd.ID)

	if h.opts.Notifier != nil {
		ev := notify.Event{
			RedemptionID: rd.ID,
			RewardTitle:  reward.Title,
			UserName:     rd.UserName,
			UserInput:    rd.UserInput,
			ImageURL:     url,
			At:           time.Now(),
		}
		if err := h.opts.Notifier.Notify(ctx, ev); err != nil {
			h.log.Warn("notify failed", slog.String("redemption_id", rd.ID), slog.Any("err", err))
		}
	}
	return Result{RedemptionID: rd.ID, ImageURL: url, File: path}, nil
}

// show updates the configured OBS source. A missing session is logged, not fatal: the image
// page still serves the new image.
func (h *Handler) show(ctx context.Context, path string) error {
	if h.screen == nil || h.opts.SourceName == "" {
		return nil
	}
	var err error
	switch h.opts.SourceKind {
	case SourceBrowser:
		err = h.screen.RefreshBrowserSource(ctx, h.opts.SourceName)
	default:
		abs, aerr := filepath.Abs(path)
		if aerr != nil {
			return aerr
		}
		err = h.screen.SetImageFile(ctx, h.opts.SourceName, abs)
	}
	if errors.Is(err, obs.ErrNotConnected) {
		h.store.AddLog("Not connected to OBS", "Image saved but source not updated")
		return nil
	}
	return err
}

// download writes the image to a temp file in the image dir and renames it into place so
// readers never see a partial file.
func (h *Handler) download(ctx context.Context, url, id string) (string, error) {
	dir := h.ImageDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := h.opts.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			h.log.Warn("image body close", slog.Any("err", cerr))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("image fetch: %s", resp.Status)
	}

	tmp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return "", err
	}
	n, err := io.Copy(tmp, io.LimitReader(resp.Body, maxImageBytes+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > maxImageBytes {
		err = errDownloadTooLarge
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	final := filepath.Join(dir, safeName(id)+imageExt)
	if err := os.Rename(tmp.Name(), final); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	return final, nil
}

func safeName(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, id)
}

// Observe queues UNFULFILLED redemptions not seen before. Register it with Poller.OnUpdate to
// enable auto mode; Run drains the queue.
func (h *Handler) Observe(_ context.Context, list []twitchapi.Redemption) {
	for i := len(list) - 1; i >= 0; i-- {
		rd := list[i]
		if rd.Status != twitchapi.StatusUnfulfilled || h.seen.Contains(rd.ID) {
			continue
		}
		select {
		case h.queue <- rd.ID:
			h.seen.Add(rd.ID, struct{}{})
		default:
			h.log.Warn("auto-fulfil queue full", slog.String("redemption_id", rd.ID))
			return
		}
	}
}

// Run fulfils queued redemptions one at a time until ctx ends.
func (h *Handler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-h.queue:
			if _, err := h.Fulfill(ctx, id); err != nil && ctx.Err() == nil {
				h.log.Warn("auto-fulfil failed", slog.String("redemption_id", id), slog.Any("err", err))
			}
		}
	}
}
