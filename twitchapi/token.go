package twitchapi

import (
	"context"
	"errors"
)

// ErrNoToken is returned when no access token is available.
var ErrNoToken = errors.New("not logged in to Twitch")

// TokenProvider supplies the user access token sent with each request.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// TokenFunc adapts a function to TokenProvider.
type TokenFunc func(ctx context.Context) (string, error)

func (f TokenFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// StaticToken is a fixed token.
type StaticToken string

func (s StaticToken) Token(context.Context) (string, error) {
	if s == "" {
		return "", ErrNoToken
	}
	return string(s), nil
}
