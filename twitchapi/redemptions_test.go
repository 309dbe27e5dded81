package twitchapi

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
)

func TestHelixClient_ListRedemptions(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		want := map[string]string{"broadcaster_id": "b1", "reward_id": "r1", "status": "UNFULFILLED", "sort": "NEWEST", "first": "50"}
		for k, v := range want {
			if q.Get(k) != v {
				t.Errorf("query %s = %q, want %q", k, q.Get(k), v)
			}
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{
				{"id": "x1", "user_name": "Viewer", "user_login": "viewer", "user_input": "a cat", "status": "UNFULFILLED", "redeemed_at": "2024-05-01T10:00:00Z", "reward": map[string]string{"id": "r1"}},
			},
		})
	})
	got, err := client.ListRedemptions(context.Background(), "b1", "r1", StatusUnfulfilled)
	if err != nil {
		t.Fatalf("ListRedemptions() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d", len(got))
	}
	r := got[0]
	if r.ID != "x1" || r.UserName != "Viewer" || r.UserInput != "a cat" || r.RewardID != "r1" || r.Status != StatusUnfulfilled {
		t.Errorf("redemption = %+v", r)
	}
	if r.RedeemedAt.IsZero() || r.RedeemedAt.Hour() != 10 {
		t.Errorf("RedeemedAt = %v", r.RedeemedAt)
	}
}

func TestHelixClient_ListRedemptionsRejectsUnknownStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) { t.Error("no request expected") })
	if _, err := client.ListRedemptions(context.Background(), "b1", "r1", "PENDING"); err == nil {
		t.Error("want error for unknown status")
	}
}

func TestHelixClient_UpdateRedemptionStatus(t *testing.T) {
	tests := []struct {
		name    string
		status  RedemptionStatus
		wantErr bool
	}{
		{"fulfill", StatusFulfilled, false},
		{"cancel", StatusCanceled, false},
		{"back to unfulfilled", StatusUnfulfilled, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPatch || r.URL.Query().Get("id") != "x1" {
					t.Errorf("got %s %s", r.Method, r.URL.String())
				}
				var body struct {
					Status string `json:"status"`
				}
				json.NewDecoder(r.Body).Decode(&body)
				if body.Status != string(tt.status) {
					t.Errorf("status = %q", body.Status)
				}
				json.NewEncoder(w).Encode(map[string]interface{}{
					"data": []map[string]interface{}{{"id": "x1", "status": body.Status, "reward": map[string]string{"id": "r1"}}},
				})
			})
			got, err := client.UpdateRedemptionStatus(context.Background(), "b1", "r1", "x1", tt.status)
			if tt.wantErr {
				if err == nil {
					t.Error("want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("UpdateRedemptionStatus() error = %v", err)
			}
			if got.Status != tt.status {
				t.Errorf("Status = %s", got.Status)
			}
		})
	}
}
