package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/stoopler-tools/background-changer/redemption"
	"github.com/stoopler-tools/background-changer/state"
	"github.com/stoopler-tools/background-changer/twitchapi"
)

type rootFlags struct {
	server  string
	token   string
	output  string
	timeout time.Duration
}

func (f *rootFlags) client() *apiClient {
	return newAPIClient(f.server, f.token, f.timeout)
}

func newRootCommand(version string) *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:   "panelctl",
		Short: "Control a background-changer service",
		Long: `panelctl talks to a running background-changer service: it shows the panel
state and activity log, connects OBS, edits the channel point reward and fulfils
redemptions.

Examples:
  panelctl status
  panelctl obs connect --url localhost --port 4455 --password secret
  panelctl reward save --title "Change the background" --cost 500
  panelctl redemptions --status unfulfilled
  panelctl fulfill 2f5c0d1e-...`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if !validFormat(flags.output) {
				return fmt.Errorf("invalid output format %q (want table, json or yaml)", flags.output)
			}
			return nil
		},
	}

	defServer := os.Getenv("PANEL_URL")
	if defServer == "" {
		defServer = "http://localhost:8080"
	}
	root.PersistentFlags().StringVar(&flags.server, "server", defServer, "Service base URL (env PANEL_URL)")
	root.PersistentFlags().StringVar(&flags.token, "token", os.Getenv("ADMIN_TOKEN"), "Admin token for control endpoints (env ADMIN_TOKEN)")
	root.PersistentFlags().StringVarP(&flags.output, "output", "o", formatTable, "Output format: table, json or yaml")
	root.PersistentFlags().DurationVar(&flags.timeout, "timeout", 3*time.Minute, "Request timeout")

	root.AddCommand(
		newStatusCommand(flags),
		newLogCommand(flags),
		newOBSCommand(flags),
		newRewardCommand(flags),
		newRedemptionsCommand(flags),
		newFulfillCommand(flags),
	)
	return root
}

type panelState struct {
	TwitchConnected bool          `json:"twitchConnected"`
	OBSConnected    bool          `json:"obsConnected"`
	OpenAIConnected bool          `json:"openAIConnected"`
	OBSState        string        `json:"obsState"`
	OBSLastError    string        `json:"obsLastError"`
	BroadcasterID   string        `json:"broadcasterId"`
	Reward          *state.Reward `json:"channelPointReward"`
	DeletePending   bool          `json:"deletePending"`
	OpenAI          struct {
		HasAPIKey bool   `json:"hasApiKey"`
		ImageSize string `json:"imageSize"`
	} `json:"openAI"`
	CurrentImage string `json:"currentImage"`
}

func newStatusCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show connection status and the configured reward",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := flags.client().do(cmd.Context(), http.MethodGet, "/api/state", nil)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), flags.output, raw, func() (string, error) {
				var st panelState
				if err := json.Unmarshal(raw, &st); err != nil {
					return "", err
				}
				t := newTable("Item", "Value").
					Row("Twitch", flag(st.TwitchConnected)).
					Row("OBS", flag(st.OBSConnected)+" "+st.OBSState).
					Row("OpenAI", flag(st.OpenAIConnected)).
					Row("API key set", flag(st.OpenAI.HasAPIKey)).
					Row("Image size", st.OpenAI.ImageSize)
				if st.OBSLastError != "" {
					t.Row("OBS error", st.OBSLastError)
				}
				if st.Reward != nil {
					t.Row("Reward", fmt.Sprintf("%s (%d points, enabled: %s)", st.Reward.Title, st.Reward.Cost, flag(st.Reward.IsEnabled)))
				} else {
					t.Row("Reward", "none")
				}
				if st.DeletePending {
					t.Row("Delete", "pending confirmation")
				}
				if st.CurrentImage != "" {
					t.Row("Current image", st.CurrentImage)
				}
				return t.String(), nil
			})
		},
	}
}

func newLogCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "log",
		Short: "Show the activity log, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := flags.client().do(cmd.Context(), http.MethodGet, "/api/log", nil)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), flags.output, raw, func() (string, error) {
				var entries []state.LogEntry
				if err := json.Unmarshal(raw, &entries); err != nil {
					return "", err
				}
				t := newTable("Time", "Message", "Details")
				for _, e := range entries {
					t.Row(e.Timestamp.Local().Format(time.TimeOnly), e.Message, e.Details)
				}
				return t.String(), nil
			})
		},
	}
}

func newOBSCommand(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "obs",
		Short: "Manage the OBS WebSocket session",
	}

	var creds state.ConnectionCredentials
	connect := &cobra.Command{
		Use:   "connect",
		Short: "Connect to OBS (stored credentials when no flags are given)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var body any
			if creds.URL != "" || creds.Port != "" {
				body = creds
			}
			raw, err := flags.client().do(cmd.Context(), http.MethodPost, "/api/obs/connect", body)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), flags.output, raw, func() (string, error) {
				return okStyle.Render("Connected to OBS"), nil
			})
		},
	}
	connect.Flags().StringVar(&creds.URL, "url", "", "OBS WebSocket host")
	connect.Flags().StringVar(&creds.Port, "port", "", "OBS WebSocket port")
	connect.Flags().StringVar(&creds.Password, "password", "", "OBS WebSocket password")

	disconnect := &cobra.Command{
		Use:   "disconnect",
		Short: "Disconnect from OBS and stop reconnecting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := flags.client().do(cmd.Context(), http.MethodPost, "/api/obs/disconnect", nil)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), flags.output, raw, func() (string, error) {
				return "Disconnected from OBS", nil
			})
		},
	}

	sources := &cobra.Command{
		Use:   "sources",
		Short: "List image sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := flags.client().do(cmd.Context(), http.MethodGet, "/api/obs/sources", nil)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), flags.output, raw, func() (string, error) {
				var out struct {
					Sources []string `json:"sources"`
				}
				if err := json.Unmarshal(raw, &out); err != nil {
					return "", err
				}
				t := newTable("Image source")
				for _, s := range out.Sources {
					t.Row(s)
				}
				return t.String(), nil
			})
		},
	}

	cmd.AddCommand(connect, disconnect, sources)
	return cmd
}

func rewardTable(raw json.RawMessage) (string, error) {
	var r state.Reward
	if err := json.Unmarshal(raw, &r); err != nil {
		return "", err
	}
	return newTable("ID", "Title", "Cost", "Enabled").
		Row(r.ID, r.Title, strconv.Itoa(r.Cost), flag(r.IsEnabled)).
		String(), nil
}

func newRewardCommand(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reward",
		Short: "Manage the channel point reward",
	}

	var in struct {
		Title  string `json:"title"`
		Cost   int    `json:"cost"`
		Prompt string `json:"prompt"`
	}
	save := &cobra.Command{
		Use:   "save",
		Short: "Create the reward, or update the configured one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := flags.client().do(cmd.Context(), http.MethodPost, "/api/reward", in)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), flags.output, raw, func() (string, error) { return rewardTable(raw) })
		},
	}
	save.Flags().StringVar(&in.Title, "title", "", "Reward title")
	save.Flags().IntVar(&in.Cost, "cost", 0, "Cost in channel points")
	save.Flags().StringVar(&in.Prompt, "prompt", "", "Prompt shown to viewers")
	_ = save.MarkFlagRequired("title")
	_ = save.MarkFlagRequired("cost")

	toggle := &cobra.Command{
		Use:   "toggle",
		Short: "Enable or disable the reward",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := flags.client().do(cmd.Context(), http.MethodPost, "/api/reward/toggle", nil)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), flags.output, raw, func() (string, error) { return rewardTable(raw) })
		},
	}

	var yes bool
	del := &cobra.Command{
		Use:   "delete",
		Short: "Delete the reward (asks for confirmation unless --yes)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := flags.client()
			raw, err := c.do(cmd.Context(), http.MethodPost, "/api/reward/delete", nil)
			if err != nil {
				return err
			}
			var out struct {
				Deleted        bool `json:"deleted"`
				ConfirmPending bool `json:"confirmPending"`
			}
			if err := json.Unmarshal(raw, &out); err != nil {
				return fmt.Errorf("decode delete response: %w", err)
			}
			// An already armed delete completes on the first call.
			if yes && !out.Deleted {
				if raw, err = c.do(cmd.Context(), http.MethodPost, "/api/reward/delete", nil); err != nil {
					return err
				}
				if err := json.Unmarshal(raw, &out); err != nil {
					return fmt.Errorf("decode delete response: %w", err)
				}
			}
			return render(cmd.OutOrStdout(), flags.output, raw, func() (string, error) {
				switch {
				case out.Deleted:
					return okStyle.Render("Reward deleted"), nil
				case out.ConfirmPending:
					return "Run delete again to confirm, or cancel-delete to keep the reward", nil
				}
				return "Nothing deleted", nil
			})
		},
	}
	del.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm immediately")

	cancel := &cobra.Command{
		Use:   "cancel-delete",
		Short: "Disarm a pending delete",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := flags.client().do(cmd.Context(), http.MethodPost, "/api/reward/delete/cancel", nil)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), flags.output, raw, func() (string, error) { return "Delete cancelled", nil })
		},
	}

	cmd.AddCommand(save, toggle, del, cancel)
	return cmd
}

func newRedemptionsCommand(flags *rootFlags) *cobra.Command {
	var (
		limit  int
		status string
	)
	cmd := &cobra.Command{
		Use:   "redemptions",
		Short: "List recent redemptions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{}
			q.Set("limit", strconv.Itoa(limit))
			if status != "" {
				q.Set("status", status)
			}
			raw, err := flags.client().do(cmd.Context(), http.MethodGet, "/api/redemptions?"+q.Encode(), nil)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), flags.output, raw, func() (string, error) {
				var list []twitchapi.Redemption
				if err := json.Unmarshal(raw, &list); err != nil {
					return "", err
				}
				t := newTable("ID", "User", "Input", "Status", "Redeemed")
				for _, r := range list {
					st := string(r.Status)
					if r.Status == twitchapi.StatusUnfulfilled {
						st = okStyle.Render(st)
					}
					t.Row(r.ID, r.UserName, r.UserInput, st, r.RedeemedAt.Local().Format(time.DateTime))
				}
				return t.String(), nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum rows")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (unfulfilled, fulfilled, canceled)")
	return cmd
}

func newFulfillCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "fulfill <redemption-id>",
		Short: "Generate an image for a pending redemption and show it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := flags.client().do(cmd.Context(), http.MethodPost, "/api/redemptions/"+url.PathEscape(args[0])+"/fulfill", nil)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), flags.output, raw, func() (string, error) {
				var res redemption.Result
				if err := json.Unmarshal(raw, &res); err != nil {
					return "", err
				}
				return newTable("Redemption", "Image", "File").
					Row(res.RedemptionID, res.ImageURL, res.File).
					String(), nil
			})
		},
	}
}
