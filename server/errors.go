package server

import (
	"errors"
	"net/http"

	"github.com/stoopler-tools/background-changer/obs"
	"github.com/stoopler-tools/background-changer/openai"
	"github.com/stoopler-tools/background-changer/redemption"
	"github.com/stoopler-tools/background-changer/reward"
	"github.com/stoopler-tools/background-changer/twitchapi"
)

// statusFor maps domain errors to HTTP statuses. Remote API failures are 502.
func statusFor(err error) int {
	var helixErr *twitchapi.APIError
	var openaiErr *openai.APIError
	switch {
	case errors.Is(err, reward.ErrInvalidTitle), errors.Is(err, reward.ErrInvalidCost), errors.Is(err, obs.ErrNoCredentials):
		return http.StatusBadRequest
	case errors.Is(err, reward.ErrNoBroadcaster), errors.Is(err, reward.ErrNoReward),
		errors.Is(err, redemption.ErrNotLoggedIn), errors.Is(err, redemption.ErrNoReward),
		errors.Is(err, openai.ErrNoAPIKey), errors.Is(err, twitchapi.ErrNoToken):
		return http.StatusPreconditionFailed
	case errors.Is(err, redemption.ErrUnknownRedemption):
		return http.StatusNotFound
	case errors.Is(err, obs.ErrAlreadyConnected), errors.Is(err, obs.ErrNotConnected),
		errors.Is(err, redemption.ErrNotPending), errors.Is(err, redemption.ErrFulfillInProgress):
		return http.StatusConflict
	case errors.Is(err, obs.ErrConnectionFailed), errors.As(err, &helixErr), errors.As(err, &openaiErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeErr(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}
