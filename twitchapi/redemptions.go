package twitchapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const redemptionsPath = "/channel_points/custom_rewards/redemptions"

// RedemptionStatus is the fulfilment state of a redemption.
type RedemptionStatus string

const (
	StatusUnfulfilled RedemptionStatus = "UNFULFILLED"
	StatusFulfilled   RedemptionStatus = "FULFILLED"
	StatusCanceled    RedemptionStatus = "CANCELED"
)

// Statuses lists every status a redemption can be in.
var Statuses = []RedemptionStatus{StatusUnfulfilled, StatusFulfilled, StatusCanceled}

// Redemption is one viewer redemption of a custom reward.
type Redemption struct {
	ID         string           `json:"id"`
	RewardID   string           `json:"reward_id"`
	UserID     string           `json:"user_id"`
	UserLogin  string           `json:"user_login"`
	UserName   string           `json:"user_name"`
	UserInput  string           `json:"user_input"`
	Status     RedemptionStatus `json:"status"`
	RedeemedAt time.Time        `json:"redeemed_at"`
}

type redemptionJSON struct {
	ID         string           `json:"id"`
	UserID     string           `json:"user_id"`
	UserLogin  string           `json:"user_login"`
	UserName   string           `json:"user_name"`
	UserInput  string           `json:"user_input"`
	Status     RedemptionStatus `json:"status"`
	RedeemedAt time.Time        `json:"redeemed_at"`
	Reward     struct {
		ID string `json:"id"`
	} `json:"reward"`
}

type redemptionsResponse struct {
	Data []redemptionJSON `json:"data"`
}

func (r redemptionJSON) redemption() Redemption {
	return Redemption{
		ID:         r.ID,
		RewardID:   r.Reward.ID,
		UserID:     r.UserID,
		UserLogin:  r.UserLogin,
		UserName:   r.UserName,
		UserInput:  r.UserInput,
		Status:     r.Status,
		RedeemedAt: r.RedeemedAt,
	}
}

func validStatus(s RedemptionStatus) bool {
	for _, v := range Statuses {
		if v == s {
			return true
		}
	}
	return false
}

// ListRedemptions returns up to 50 redemptions of the reward in the given status, newest first.
func (hc *HelixClient) ListRedemptions(ctx context.Context, broadcasterID, rewardID string, status RedemptionStatus) ([]Redemption, error) {
	if broadcasterID == "" || rewardID == "" {
		return nil, errors.New("broadcasterID or rewardID empty")
	}
	if !validStatus(status) {
		return nil, fmt.Errorf("unknown redemption status %q", status)
	}
	q := url.Values{
		"broadcaster_id": {broadcasterID},
		"reward_id":      {rewardID},
		"status":         {string(status)},
		"sort":           {"NEWEST"},
		"first":          {"50"},
	}
	var body redemptionsResponse
	if err := hc.do(ctx, "list_redemptions", http.MethodGet, redemptionsPath, q, nil, &body); err != nil {
		return nil, err
	}
	out := make([]Redemption, 0, len(body.Data))
	for _, r := range body.Data {
		out = append(out, r.redemption())
	}
	return out, nil
}

// UpdateRedemptionStatus marks an unfulfilled redemption FULFILLED or CANCELED.
func (hc *HelixClient) UpdateRedemptionStatus(ctx context.Context, broadcasterID, rewardID, redemptionID string, status RedemptionStatus) (Redemption, error) {
	if broadcasterID == "" || rewardID == "" || redemptionID == "" {
		return Redemption{}, errors.New("broadcasterID, rewardID or redemptionID empty")
	}
	if status != StatusFulfilled && status != StatusCanceled {
		return Redemption{}, fmt.Errorf("cannot set redemption status %q", status)
	}
	q := url.Values{
		"broadcaster_id": {broadcasterID},
		"reward_id":      {rewardID},
		"id":             {redemptionID},
	}
	var body redemptionsResponse
	in := struct {
		Status RedemptionStatus `json:"status"`
	}{status}
	if err := hc.do(ctx, "update_redemption", http.MethodPatch, redemptionsPath, q, in, &body); err != nil {
		return Redemption{}, err
	}
	if len(body.Data) == 0 {
		return Redemption{}, errors.New("empty redemption response")
	}
	return body.Data[0].redemption(), nil
}
