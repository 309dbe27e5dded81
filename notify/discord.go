package notify

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

const colorFulfilled = 0x9146FF

// DiscordSession abstracts the discordgo.Session methods used by Discord, enabling tests
// without real Discord API calls.
type DiscordSession interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
	Close() error
}

// Discord posts an embed per event to one channel.
type Discord struct {
	session   DiscordSession
	channelID string
}

// NewDiscord creates a notifier backed by a bot token. The REST API is used directly, so
// no gateway connection is opened.
func NewDiscord(token, channelID string) (*Discord, error) {
	if token == "" {
		return nil, fmt.Errorf("discord bot token is required")
	}
	if channelID == "" {
		return nil, fmt.Errorf("discord channel id is required")
	}
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	return &Discord{session: dg, channelID: channelID}, nil
}

// NewDiscordWithSession creates a Discord notifier with an injected session (for testing).
func NewDiscordWithSession(session DiscordSession, channelID string) *Discord {
	return &Discord{session: session, channelID: channelID}
}

func (d *Discord) Notify(ctx context.Context, ev Event) error {
	embed := &discordgo.MessageEmbed{
		Title:       "Background changed",
		Description: fmt.Sprintf("**%s** redeemed %s", ev.UserName, rewardName(ev)),
		Color:       colorFulfilled,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Prompt", Value: truncate(ev.UserInput, 1024)},
		},
	}
	if ev.ImageURL != "" {
		embed.Image = &discordgo.MessageEmbedImage{URL: ev.ImageURL}
	}
	if !ev.At.IsZero() {
		embed.Timestamp = ev.At.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	if _, err := d.session.ChannelMessageSendEmbed(d.channelID, embed, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord notify: %w", err)
	}
	return nil
}

// Close releases the session.
func (d *Discord) Close() error { return d.session.Close() }

func rewardName(ev Event) string {
	if ev.RewardTitle == "" {
		return "the background reward"
	}
	return "**" + ev.RewardTitle + "**"
}

func truncate(s string, n int) string {
	if s == "" {
		return "(empty)"
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
