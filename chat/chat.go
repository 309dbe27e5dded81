package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/stoopler-tools/background-changer/notify"
)

// ErrNotConnected is returned by Notify before the IRC connection is up.
var ErrNotConnected = errors.New("chat not connected")

// ircClient is the subset of *twitch.Client the announcer needs.
type ircClient interface {
	OnConnect(func())
	Join(channels ...string)
	Say(channel, text string)
	Connect() error
	Disconnect() error
}

// Announcer posts a chat message for every fulfilled redemption.
type Announcer struct {
	client    ircClient
	channel   string
	connected atomic.Bool
}

// NewAnnouncer creates an announcer for channel using a bot account. token may be given
// with or without the "oauth:" prefix.
func NewAnnouncer(username, token, channel string) *Announcer {
	if !strings.HasPrefix(token, "oauth:") {
		token = "oauth:" + token
	}
	return newAnnouncer(twitch.NewClient(username, token), channel)
}

func newAnnouncer(c ircClient, channel string) *Announcer {
	a := &Announcer{client: c, channel: strings.ToLower(strings.TrimPrefix(channel, "#"))}
	c.OnConnect(func() {
		a.connected.Store(true)
		slog.Info("twitch chat connected", slog.String("channel", a.channel), slog.String("component", "chat"))
	})
	return a
}

// Run joins the channel and blocks until ctx is cancelled.
func (a *Announcer) Run(ctx context.Context) {
	// Handle context cancellation by closing the client
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		a.connected.Store(false)
		_ = a.client.Disconnect()
		close(done)
	}()

	a.client.Join(a.channel)
	if err := a.client.Connect(); err != nil && !errors.Is(err, twitch.ErrClientDisconnected) {
		slog.Error("twitch chat connect error", slog.Any("err", err), slog.String("component", "chat"))
	}
	a.connected.Store(false)
	<-done
}

// Notify says the announcement in chat.
func (a *Announcer) Notify(_ context.Context, ev notify.Event) error {
	if !a.connected.Load() {
		return ErrNotConnected
	}
	a.client.Say(a.channel, Message(ev))
	return nil
}

// Message renders the chat line for ev.
func Message(ev notify.Event) string {
	input := ev.UserInput
	if r := []rune(input); len(r) > 200 {
		input = string(r[:199]) + "…"
	}
	if input == "" {
		return fmt.Sprintf("@%s your background is on screen!", ev.UserName)
	}
	return fmt.Sprintf("@%s your background \"%s\" is on screen!", ev.UserName, input)
}
