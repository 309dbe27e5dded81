package redemption

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stoopler-tools/background-changer/state"
	"github.com/stoopler-tools/background-changer/testutil"
	"github.com/stoopler-tools/background-changer/twitchapi"
)

const redemptionsRoute = "GET /helix/channel_points/custom_rewards/redemptions"

func helixFor(srv *testutil.MockTwitchServer, store *state.Store) *twitchapi.HelixClient {
	return &twitchapi.HelixClient{
		ClientID: "cid",
		Tokens: twitchapi.TokenFunc(func(context.Context) (string, error) {
			return twitchapi.StaticToken(store.AccessToken()).Token(context.Background())
		}),
		BaseURL: srv.HelixURL(),
	}
}

func loggedInStore() *state.Store {
	s := state.NewStore(nil)
	s.SetAccessToken("tok")
	s.SetBroadcasterID("b1")
	s.SetReward(&state.Reward{ID: "r1", BroadcasterID: "b1", Title: "Paint", Cost: 100, IsEnabled: true})
	return s
}

func TestPollMergesStatusesNewestFirst(t *testing.T) {
	srv := testutil.NewMockTwitchServer(t)
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	srv.AddRedemption(testutil.HelixRedemption{ID: "a", RewardID: "r1", UserName: "A", RedeemedAt: base})
	srv.AddRedemption(testutil.HelixRedemption{ID: "b", RewardID: "r1", Status: "FULFILLED", RedeemedAt: base.Add(2 * time.Minute)})
	srv.AddRedemption(testutil.HelixRedemption{ID: "c", RewardID: "r1", Status: "CANCELED", RedeemedAt: base.Add(time.Minute)})
	srv.AddRedemption(testutil.HelixRedemption{ID: "d", RewardID: "r1", RedeemedAt: base.Add(3 * time.Minute)})
	srv.AddRedemption(testutil.HelixRedemption{ID: "other", RewardID: "r2", RedeemedAt: base})

	store := loggedInStore()
	p := NewPoller(store, helixFor(srv, store), time.Hour)
	require.NoError(t, p.Poll(context.Background()))

	var ids []string
	for _, r := range p.Redemptions() {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"d", "b", "c", "a"}, ids)
	assert.Equal(t, 3, srv.CallCount(redemptionsRoute), "one request per status")

	pending := p.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, "d", pending[0].ID)
	assert.Equal(t, "a", pending[1].ID)
}

func TestPollWithoutRewardIsEmpty(t *testing.T) {
	srv := testutil.NewMockTwitchServer(t)
	store := state.NewStore(nil)
	store.SetAccessToken("tok")
	p := NewPoller(store, helixFor(srv, store), time.Hour)

	require.NoError(t, p.Poll(context.Background()))
	assert.Empty(t, p.Redemptions())
	assert.NotNil(t, p.Redemptions())
	assert.Zero(t, srv.CallCount(redemptionsRoute))
}

func TestPollFailureKeepsPreviousList(t *testing.T) {
	srv := testutil.NewMockTwitchServer(t)
	srv.AddRedemption(testutil.HelixRedemption{ID: "a", RewardID: "r1", RedeemedAt: time.Now()})
	store := loggedInStore()
	p := NewPoller(store, helixFor(srv, store), time.Hour)
	require.NoError(t, p.Poll(context.Background()))
	require.Len(t, p.Redemptions(), 1)

	srv.FailNext(redemptionsRoute, http.StatusInternalServerError, "boom")
	err := p.Poll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Len(t, p.Redemptions(), 1)
}

// swapLister changes the tracked reward while a fetch is in flight.
type swapLister struct {
	store *state.Store
	once  sync.Once
}

func (s *swapLister) ListRedemptions(_ context.Context, _, rewardID string, status twitchapi.RedemptionStatus) ([]twitchapi.Redemption, error) {
	s.once.Do(func() {
		s.store.SetReward(&state.Reward{ID: "r2", BroadcasterID: "b1"})
	})
	return []twitchapi.Redemption{{ID: rewardID + string(status), RewardID: rewardID, Status: status}}, nil
}

func TestPollDropsStaleResult(t *testing.T) {
	store := loggedInStore()
	p := NewPoller(store, &swapLister{store: store}, time.Hour)
	require.NoError(t, p.Poll(context.Background()))
	assert.Empty(t, p.Redemptions(), "results fetched for the old reward must be discarded")

	require.NoError(t, p.Poll(context.Background()))
	rs := p.Redemptions()
	require.Len(t, rs, 3)
	for _, r := range rs {
		assert.Equal(t, "r2", r.RewardID)
	}
}

func TestPollDropsResultAfterLogout(t *testing.T) {
	store := loggedInStore()
	p := NewPoller(store, listerFunc(func(context.Context, string, string, twitchapi.RedemptionStatus) ([]twitchapi.Redemption, error) {
		store.ClearAuth()
		return []twitchapi.Redemption{{ID: "x", Status: twitchapi.StatusUnfulfilled}}, nil
	}), time.Hour)
	require.NoError(t, p.Poll(context.Background()))
	assert.Empty(t, p.Redemptions())
}

type listerFunc func(ctx context.Context, b, r string, s twitchapi.RedemptionStatus) ([]twitchapi.Redemption, error)

func (f listerFunc) ListRedemptions(ctx context.Context, b, r string, s twitchapi.RedemptionStatus) ([]twitchapi.Redemption, error) {
	return f(ctx, b, r, s)
}

func TestOnUpdateReceivesEachSuccessfulPoll(t *testing.T) {
	store := loggedInStore()
	calls := 0
	fail := false
	p := NewPoller(store, listerFunc(func(_ context.Context, _, _ string, s twitchapi.RedemptionStatus) ([]twitchapi.Redemption, error) {
		if fail {
			return nil, errors.New("down")
		}
		if s == twitchapi.StatusUnfulfilled {
			return []twitchapi.Redemption{{ID: "x", Status: s}}, nil
		}
		return nil, nil
	}), time.Hour)
	var got []twitchapi.Redemption
	p.OnUpdate(func(_ context.Context, list []twitchapi.Redemption) {
		calls++
		got = list
	})

	require.NoError(t, p.Poll(context.Background()))
	fail = true
	require.Error(t, p.Poll(context.Background()))
	assert.Equal(t, 1, calls)
	require.Len(t, got, 1)
	assert.Equal(t, "x", got[0].ID)
}

func TestMarkStatus(t *testing.T) {
	store := loggedInStore()
	p := NewPoller(store, listerFunc(func(_ context.Context, _, _ string, s twitchapi.RedemptionStatus) ([]twitchapi.Redemption, error) {
		if s == twitchapi.StatusUnfulfilled {
			return []twitchapi.Redemption{{ID: "x", Status: s}}, nil
		}
		return nil, nil
	}), time.Hour)
	require.NoError(t, p.Poll(context.Background()))
	p.MarkStatus("x", twitchapi.StatusFulfilled)
	assert.Empty(t, p.Pending())
	r, ok := p.Find("x")
	require.True(t, ok)
	assert.Equal(t, twitchapi.StatusFulfilled, r.Status)
}

func TestStartPollsImmediately(t *testing.T) {
	store := loggedInStore()
	polled := make(chan struct{}, 10)
	p := NewPoller(store, listerFunc(func(context.Context, string, string, twitchapi.RedemptionStatus) ([]twitchapi.Redemption, error) {
		polled <- struct{}{}
		return nil, nil
	}), time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	task := p.Start(ctx)
	defer task.Stop()
	select {
	case <-polled:
	case <-time.After(2 * time.Second):
		t.Fatal("no poll on start")
	}
}

func TestMerge(t *testing.T) {
	t0 := time.Unix(1000, 0)
	got := Merge(
		[]twitchapi.Redemption{{ID: "1", RedeemedAt: t0}},
		nil,
		[]twitchapi.Redemption{{ID: "2", RedeemedAt: t0.Add(time.Second)}, {ID: "0", RedeemedAt: t0.Add(-time.Second)}},
	)
	require.Len(t, got, 3)
	assert.Equal(t, "2", got[0].ID)
	assert.Equal(t, "1", got[1].ID)
	assert.Equal(t, "0", got[2].ID)
}
