package twitchapi

import (
	"context"
	"errors"
	"net/http"
	"net/url"
)

const rewardsPath = "/channel_points/custom_rewards"

// CustomReward is a channel point reward as returned by Helix.
type CustomReward struct {
	ID                  string `json:"id"`
	BroadcasterID       string `json:"broadcaster_id"`
	Title               string `json:"title"`
	Prompt              string `json:"prompt"`
	Cost                int    `json:"cost"`
	IsEnabled           bool   `json:"is_enabled"`
	IsUserInputRequired bool   `json:"is_user_input_required"`
	IsPaused            bool   `json:"is_paused"`
}

// RewardInput creates a reward.
type RewardInput struct {
	Title               string `json:"title"`
	Cost                int    `json:"cost"`
	Prompt              string `json:"prompt,omitempty"`
	IsEnabled           bool   `json:"is_enabled"`
	IsUserInputRequired bool   `json:"is_user_input_required"`
}

// RewardUpdate is a partial update; nil fields are left unchanged remotely.
type RewardUpdate struct {
	Title     *string `json:"title,omitempty"`
	Cost      *int    `json:"cost,omitempty"`
	Prompt    *string `json:"prompt,omitempty"`
	IsEnabled *bool   `json:"is_enabled,omitempty"`
}

type rewardsResponse struct {
	Data []CustomReward `json:"data"`
}

func firstReward(body rewardsResponse) (CustomReward, error) {
	if len(body.Data) == 0 {
		return CustomReward{}, errors.New("empty reward response")
	}
	return body.Data[0], nil
}

// CreateCustomReward creates a reward that requires viewer input.
func (hc *HelixClient) CreateCustomReward(ctx context.Context, broadcasterID string, in RewardInput) (CustomReward, error) {
	if broadcasterID == "" {
		return CustomReward{}, errors.New("broadcasterID empty")
	}
	in.IsUserInputRequired = true
	var body rewardsResponse
	q := url.Values{"broadcaster_id": {broadcasterID}}
	if err := hc.do(ctx, "create_reward", http.MethodPost, rewardsPath, q, in, &body); err != nil {
		return CustomReward{}, err
	}
	return firstReward(body)
}

// UpdateCustomReward applies a partial update to the reward.
func (hc *HelixClient) UpdateCustomReward(ctx context.Context, broadcasterID, rewardID string, upd RewardUpdate) (CustomReward, error) {
	if broadcasterID == "" || rewardID == "" {
		return CustomReward{}, errors.New("broadcasterID or rewardID empty")
	}
	var body rewardsResponse
	q := url.Values{"broadcaster_id": {broadcasterID}, "id": {rewardID}}
	if err := hc.do(ctx, "update_reward", http.MethodPatch, rewardsPath, q, upd, &body); err != nil {
		return CustomReward{}, err
	}
	return firstReward(body)
}

// DeleteCustomReward removes the reward.
func (hc *HelixClient) DeleteCustomReward(ctx context.Context, broadcasterID, rewardID string) error {
	if broadcasterID == "" || rewardID == "" {
		return errors.New("broadcasterID or rewardID empty")
	}
	q := url.Values{"broadcaster_id": {broadcasterID}, "id": {rewardID}}
	return hc.do(ctx, "delete_reward", http.MethodDelete, rewardsPath, q, nil, nil)
}
