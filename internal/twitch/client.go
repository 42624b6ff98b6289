package twitch

import (
	"fmt"
	"net/http"

	"github.com/nicklaw5/helix/v2"
)

// UserToken is the pair of tokens produced by a refresh. The rotated refresh
// token must be persisted for the next run; the access token is also used
// directly for the IRC connection.
type UserToken struct {
	AccessToken  string
	RefreshToken string
}

// NewClientWithUserToken initializes a Twitch API client authorized as the
// broadcaster, by exchanging the refresh token persisted by 'copilot init'
// for a fresh user access token.
func NewClientWithUserToken(clientId string, clientSecret string, refreshToken string) (*helix.Client, UserToken, error) {
	c, err := helix.NewClient(&helix.Options{
		ClientID:     clientId,
		ClientSecret: clientSecret,
	})
	if err != nil {
		return nil, UserToken{}, fmt.Errorf("failed to initialize Twitch API client: %w", err)
	}

	res, err := c.RefreshUserAccessToken(refreshToken)
	if err == nil && res.StatusCode != http.StatusOK {
		err = fmt.Errorf("got status %d: %s", res.StatusCode, res.ErrorMessage)
	}
	if err != nil {
		return nil, UserToken{}, fmt.Errorf("failed to refresh user access token: %w", err)
	}

	c.SetUserAccessToken(res.Data.AccessToken)
	return c, UserToken{
		AccessToken:  res.Data.AccessToken,
		RefreshToken: res.Data.RefreshToken,
	}, nil
}
