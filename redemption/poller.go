// Package redemption polls the tracked reward's redemptions and fulfils them by generating
// an image, putting it on screen through OBS and marking the redemption FULFILLED.
package redemption

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stoopler-tools/background-changer/schedule"
	"github.com/stoopler-tools/background-changer/state"
	"github.com/stoopler-tools/background-changer/telemetry"
	"github.com/stoopler-tools/background-changer/twitchapi"
)

// Lister fetches redemptions of one status.
type Lister interface {
	ListRedemptions(ctx context.Context, broadcasterID, rewardID string, status twitchapi.RedemptionStatus) ([]twitchapi.Redemption, error)
}

// pollKey identifies what a poll was issued for; results for an older key are stale.
type pollKey struct {
	token         string
	broadcasterID string
	rewardID      string
}

// Poller keeps the merged redemption list of the tracked reward.
type Poller struct {
	store    *state.Store
	api      Lister
	interval time.Duration
	log      *slog.Logger

	mu        sync.RWMutex
	list      []twitchapi.Redemption
	listeners []func(context.Context, []twitchapi.Redemption)
}

func NewPoller(store *state.Store, api Lister, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Poller{
		store:    store,
		api:      api,
		interval: interval,
		log:      slog.Default().With(slog.String("component", "redemption")),
	}
}

// OnUpdate registers fn to run after every successful poll with the new list.
func (p *Poller) OnUpdate(fn func(context.Context, []twitchapi.Redemption)) {
	p.mu.Lock()
	p.listeners = append(p.listeners, fn)
	p.mu.Unlock()
}

// Start polls immediately and then on every interval until ctx ends.
func (p *Poller) Start(ctx context.Context) *schedule.Task {
	return schedule.Every(ctx, p.interval, true, func(ctx context.Context) {
		if err := p.Poll(ctx); err != nil && ctx.Err() == nil {
			p.log.Warn("redemption poll failed", slog.Any("err", err))
		}
	})
}

func (p *Poller) currentKey() (pollKey, bool) {
	r := p.store.Reward()
	tok := p.store.AccessToken()
	if r == nil || r.ID == "" || tok == "" {
		return pollKey{}, false
	}
	broadcaster := r.BroadcasterID
	if broadcaster == "" {
		broadcaster = p.store.BroadcasterID()
	}
	return pollKey{token: tok, broadcasterID: broadcaster, rewardID: r.ID}, true
}

// Poll runs one tick: one fetch per status, merged newest first. Without a token or reward
// the list becomes empty. On error the previous list is kept.
func (p *Poller) Poll(ctx context.Context) error {
	telemetry.Inc(telemetry.RedemptionPolls)
	key, ok := p.currentKey()
	if !ok {
		p.set(ctx, nil)
		return nil
	}

	results := make([][]twitchapi.Redemption, len(twitchapi.Statuses))
	g, gctx := errgroup.WithContext(ctx)
	for i, status := range twitchapi.Statuses {
		g.Go(func() error {
			list, err := p.api.ListRedemptions(gctx, key.broadcasterID, key.rewardID, status)
			if err != nil {
				return err
			}
			results[i] = list
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		telemetry.Inc(telemetry.RedemptionPollErrors)
		return err
	}

	if now, ok := p.currentKey(); !ok || now != key {
		p.log.Debug("dropping stale redemption poll")
		return nil
	}
	p.set(ctx, Merge(results...))
	return nil
}

func (p *Poller) set(ctx context.Context, list []twitchapi.Redemption) {
	if list == nil {
		list = []twitchapi.Redemption{}
	}
	p.mu.Lock()
	p.list = list
	listeners := append(([]func(context.Context, []twitchapi.Redemption))(nil), p.listeners...)
	p.mu.Unlock()

	telemetry.SetPendingRedemptions(countStatus(list, twitchapi.StatusUnfulfilled))
	for _, fn := range listeners {
		fn(ctx, copyList(list))
	}
}

// Merge concatenates the lists and sorts by RedeemedAt, newest first.
func Merge(lists ...[]twitchapi.Redemption) []twitchapi.Redemption {
	var out []twitchapi.Redemption
	for _, l := range lists {
		out = append(out, l...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RedeemedAt.After(out[j].RedeemedAt) })
	return out
}

func countStatus(list []twitchapi.Redemption, s twitchapi.RedemptionStatus) int {
	n := 0
	for _, r := range list {
		if r.Status == s {
			n++
		}
	}
	return n
}

func copyList(list []twitchapi.Redemption) []twitchapi.Redemption {
	return append([]twitchapi.Redemption{}, list...)
}

// Redemptions returns the latest merged list.
func (p *Poller) Redemptions() []twitchapi.Redemption {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return copyList(p.list)
}

// Pending returns the UNFULFILLED redemptions, newest first.
func (p *Poller) Pending() []twitchapi.Redemption {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := []twitchapi.Redemption{}
	for _, r := range p.list {
		if r.Status == twitchapi.StatusUnfulfilled {
			out = append(out, r)
		}
	}
	return out
}

// Find returns the redemption with id from the latest list.
func (p *Poller) Find(id string) (twitchapi.Redemption, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, r := range p.list {
		if r.ID == id {
			return r, true
		}
	}
	return twitchapi.Redemption{}, false
}

// MarkStatus updates the cached status of one redemption until the next poll replaces it.
func (p *Poller) MarkStatus(id string, status twitchapi.RedemptionStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	list := copyList(p.list)
	for i := range list {
		if list[i].ID == id {
			list[i].Status = status
		}
	}
	p.list = list
	telemetry.SetPendingRedemptions(countStatus(list, twitchapi.StatusUnfulfilled))
}
