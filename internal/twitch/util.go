package twitch

import (
	"fmt"
	"net/http"

	"github.com/nicklaw5/helix/v2"
)

// GetChannelUserId resolves the numeric user id for a channel's login name.
// The co-pilot targets every moderation, reward and channel-edit call at
// this id.
func GetChannelUserId(client *helix.Client, channelName string) (string, error) {
	res, err := client.GetUsers(&helix.UsersParams{
		Logins: []string{channelName},
	})
	if err != nil {
		return "", fmt.Errorf("failed to get user ID: %w", err)
	}
	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("got response %d from get users request: %s", res.StatusCode, res.ErrorMessage)
	}
	if len(res.Data.Users) != 1 {
		return "", fmt.Errorf("got %d results from get users request; expected exactly 1", len(res.Data.Users))
	}
	return res.Data.Users[0].ID, nil
}
