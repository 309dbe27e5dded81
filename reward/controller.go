// Package reward manages the single channel point reward the panel tracks: create or update
// it from the editor form, toggle it, and delete it behind a confirmation step.
package reward

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/stoopler-tools/background-changer/state"
	"github.com/stoopler-tools/background-changer/telemetry"
	"github.com/stoopler-tools/background-changer/twitchapi"
)

var (
	ErrNoBroadcaster = errors.New("broadcaster id not available, log in to Twitch first")
	ErrNoReward      = errors.New("no channel point reward configured")
	ErrInvalidTitle  = errors.New("reward title is required")
	ErrInvalidCost   = errors.New("reward cost must be at least 1")
)

// API is the Helix surface used by the controller.
type API interface {
	CreateCustomReward(ctx context.Context, broadcasterID string, in twitchapi.RewardInput) (twitchapi.CustomReward, error)
	UpdateCustomReward(ctx context.Context, broadcasterID, rewardID string, upd twitchapi.RewardUpdate) (twitchapi.CustomReward, error)
	DeleteCustomReward(ctx context.Context, broadcasterID, rewardID string) error
}

// Controller serializes reward operations; one runs at a time.
type Controller struct {
	store *state.Store
	api   API
	log   *slog.Logger

	mu            sync.Mutex
	confirmDelete bool
}

func NewController(store *state.Store, api API) *Controller {
	return &Controller{
		store: store,
		api:   api,
		log:   slog.Default().With(slog.String("component", "reward")),
	}
}

func (c *Controller) broadcaster(r *state.Reward) string {
	if r != nil && r.BroadcasterID != "" {
		return r.BroadcasterID
	}
	return c.store.BroadcasterID()
}

func (c *Controller) fail(op, entry string, err error) error {
	telemetry.RecordRewardOp(op, err)
	c.store.AddLog(entry, err.Error())
	c.log.Warn("reward operation failed", slog.String("op", op), slog.Any("err", err))
	return err
}

func fromRemote(cr twitchapi.CustomReward, broadcasterID string) *state.Reward {
	if cr.BroadcasterID != "" {
		broadcasterID = cr.BroadcasterID
	}
	return &state.Reward{
		ID:            cr.ID,
		BroadcasterID: broadcasterID,
		Title:         cr.Title,
		Cost:          cr.Cost,
		Prompt:        cr.Prompt,
		IsEnabled:     cr.IsEnabled,
	}
}

// Save creates the reward when none is tracked, otherwise updates the tracked one.
func (c *Controller) Save(ctx context.Context, title string, cost int, prompt string) (state.Reward, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.confirmDelete = false

	title = strings.TrimSpace(title)
	c.store.SetRewardForm(state.RewardForm{Title: title, Cost: cost, Prompt: prompt})
	if title == "" {
		return state.Reward{}, ErrInvalidTitle
	}
	if cost < 1 {
		return state.Reward{}, ErrInvalidCost
	}

	cur := c.store.Reward()
	b := c.broadcaster(cur)
	if b == "" {
		return state.Reward{}, ErrNoBroadcaster
	}

	var (
		cr  twitchapi.CustomReward
		err error
		op  = "create"
	)
	if cur == nil || cur.ID == "" {
		cr, err = c.api.CreateCustomReward(ctx, b, twitchapi.RewardInput{Title: title, Cost: cost, Prompt: prompt, IsEnabled: true})
	} else {
		op = "update"
		cr, err = c.api.UpdateCustomReward(ctx, b, cur.ID, twitchapi.RewardUpdate{Title: &title, Cost: &cost, Prompt: &prompt})
	}
	if err != nil {
		return state.Reward{}, c.fail(op, "Error saving reward", err)
	}
	telemetry.RecordRewardOp(op, nil)
	r := fromRemote(cr, b)
	c.store.SetReward(r)
	c.store.AddLog("Channel Point Reward Updated", fmt.Sprintf("Title: %s, Cost: %d", r.Title, r.Cost))
	return *r, nil
}

// Toggle flips is_enabled on the tracked reward.
func (c *Controller) Toggle(ctx context.Context) (state.Reward, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.confirmDelete = false

	cur := c.store.Reward()
	if cur == nil || cur.ID == "" {
		return state.Reward{}, ErrNoReward
	}
	b := c.broadcaster(cur)
	if b == "" {
		return state.Reward{}, ErrNoBroadcaster
	}
	enabled := !cur.IsEnabled
	cr, err := c.api.UpdateCustomReward(ctx, b, cur.ID, twitchapi.RewardUpdate{IsEnabled: &enabled})
	if err != nil {
		return state.Reward{}, c.fail("toggle", "Error toggling reward", err)
	}
	telemetry.RecordRewardOp("toggle", nil)
	r := fromRemote(cr, b)
	c.store.SetReward(r)
	if r.IsEnabled {
		c.store.AddLog("Reward enabled", r.Title)
	} else {
		c.store.AddLog("Reward disabled", r.Title)
	}
	return *r, nil
}

// Delete arms confirmation on the first call and returns false without a remote call. The
// next call deletes the reward remotely and clears the descriptor and the form.
func (c *Controller) Delete(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.store.Reward()
	if cur == nil || cur.ID == "" {
		c.confirmDelete = false
		return false, ErrNoReward
	}
	b := c.broadcaster(cur)
	if b == "" {
		c.confirmDelete = false
		return false, ErrNoBroadcaster
	}
	if !c.confirmDelete {
		c.confirmDelete = true
		return false, nil
	}
	c.confirmDelete = false

	if err := c.api.DeleteCustomReward(ctx, b, cur.ID); err != nil {
		return false, c.fail("delete", "Error deleting reward", err)
	}
	telemetry.RecordRewardOp("delete", nil)
	c.store.SetReward(nil)
	c.store.SetRewardForm(state.RewardForm{})
	c.store.AddLog("Reward deleted", cur.Title)
	return true, nil
}

// CancelDelete disarms a pending delete confirmation.
func (c *Controller) CancelDelete() {
	c.mu.Lock()
	c.confirmDelete = false
	c.mu.Unlock()
}

// DeletePending reports whether the next Delete call will delete.
func (c *Controller) DeletePending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.confirmDelete
}
