// Package chat announces fulfilled redemptions in the broadcaster's Twitch chat.
//
// The Announcer connects to Twitch IRC as a bot account (TWITCH_BOT_USERNAME with an
// OAuth token carrying chat:edit) and joins TWITCH_CHANNEL. It implements
// notify.Notifier, so the redemption handler can fan an event out to chat and Discord
// alike. Messages are dropped with ErrNotConnected while the IRC session is down.
package chat
