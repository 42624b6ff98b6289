package twitch

import (
	"fmt"
	"net/http"

	"github.com/nicklaw5/helix/v2"
)

// Moderation is the subset of Twitch operations used to act on misbehaving
// chatters
type Moderation interface {
	Ban(userID string, reason string) error
	Timeout(userID string, seconds int, reason string) error
	DeleteMessage(messageID string) error
	Whisper(toUserID string, text string) error
}

// RewardStatus values accepted by SetRedemptionStatus
const (
	RedemptionStatusFulfilled = "FULFILLED"
	RedemptionStatusCanceled  = "CANCELED"
)

// Reward is the co-pilot's view of a channel-point reward as it exists on
// Twitch
type Reward struct {
	ID                  string
	Title               string
	Prompt              string
	Cost                int
	IsEnabled           bool
	IsUserInputRequired bool
}

// Rewards is the subset of Twitch operations used to manage channel-point
// rewards and their redemptions
type Rewards interface {
	ListRewards() ([]Reward, error)
	CreateReward(spec Reward) (Reward, error)
	SetRewardEnabled(rewardID string, enabled bool) error
	SetRedemptionStatus(rewardID string, redemptionID string, status string) error
}

// ChannelEditor updates the channel's stream metadata
type ChannelEditor interface {
	UpdateChannel(title string, gameID string, tags []string) error
}

// Api wraps a broadcaster-authorized helix client with the typed operations
// the co-pilot consumes. The broadcaster acts as their own moderator.
type Api struct {
	client        *helix.Client
	broadcasterID string
}

func NewApi(client *helix.Client, broadcasterID string) *Api {
	return &Api{client: client, broadcasterID: broadcasterID}
}

func (a *Api) Ban(userID string, reason string) error {
	res, err := a.client.BanUser(&helix.BanUserParams{
		BroadcasterID: a.broadcasterID,
		ModeratorId:   a.broadcasterID,
		Body: helix.BanUserRequestBody{
			UserId: userID,
			Reason: reason,
		},
	})
	if err != nil {
		return err
	}
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("got response %d from ban request: %s", res.StatusCode, res.ErrorMessage)
	}
	return nil
}

func (a *Api) Timeout(userID string, seconds int, reason string) error {
	res, err := a.client.BanUser(&helix.BanUserParams{
		BroadcasterID: a.broadcasterID,
		ModeratorId:   a.broadcasterID,
		Body: helix.BanUserRequestBody{
			UserId:   userID,
			Reason:   reason,
			Duration: seconds,
		},
	})
	if err != nil {
		return err
	}
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("got response %d from timeout request: %s", res.StatusCode, res.ErrorMessage)
	}
	return nil
}

func (a *Api) DeleteMessage(messageID string) error {
	res, err := a.client.DeleteChatMessage(&helix.DeleteChatMessageParams{
		BroadcasterID: a.broadcasterID,
		ModeratorID:   a.broadcasterID,
		MessageID:     messageID,
	})
	if err != nil {
		return err
	}
	if res.StatusCode != http.StatusNoContent && res.StatusCode != http.StatusOK {
		return fmt.Errorf("got response %d from delete message request: %s", res.StatusCode, res.ErrorMessage)
	}
	return nil
}

func (a *Api) Whisper(toUserID string, text string) error {
	res, err := a.client.SendUserWhisper(&helix.SendUserWhisperParams{
		FromUserID: a.broadcasterID,
		ToUserID:   toUserID,
		Message:    text,
	})
	if err != nil {
		return err
	}
	if res.StatusCode != http.StatusNoContent && res.StatusCode != http.StatusOK {
		return fmt.Errorf("got response %d from whisper request: %s", res.StatusCode, res.ErrorMessage)
	}
	return nil
}

func (a *Api) ListRewards() ([]Reward, error) {
	res, err := a.client.GetCustomRewards(&helix.GetCustomRewardsParams{
		BroadcasterID:         a.broadcasterID,
		OnlyManageableRewards: true,
	})
	if err != nil {
		return nil, err
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("got response %d from get rewards request: %s", res.StatusCode, res.ErrorMessage)
	}
	rewards := make([]Reward, 0, len(res.Data.ChannelCustomRewards))
	for _, r := range res.Data.ChannelCustomRewards {
		rewards = append(rewards, Reward{
			ID:                  r.ID,
			Title:               r.Title,
			Prompt:              r.Prompt,
			Cost:                r.Cost,
			IsEnabled:           r.IsEnabled,
			IsUserInputRequired: r.IsUserInputRequired,
		})
	}
	return rewards, nil
}

func (a *Api) CreateReward(spec Reward) (Reward, error) {
	res, err := a.client.CreateCustomReward(&helix.ChannelCustomRewardsParams{
		BroadcasterID:       a.broadcasterID,
		Title:               spec.Title,
		Prompt:              spec.Prompt,
		Cost:                spec.Cost,
		IsEnabled:           spec.IsEnabled,
		IsUserInputRequired: spec.IsUserInputRequired,
	})
	if err != nil {
		return Reward{}, err
	}
	if res.StatusCode != http.StatusOK {
		return Reward{}, fmt.Errorf("got response %d from create reward request: %s", res.StatusCode, res.ErrorMessage)
	}
	if len(res.Data.ChannelCustomRewards) != 1 {
		return Reward{}, fmt.Errorf("got %d results from create reward request; expected exactly 1", len(res.Data.ChannelCustomRewards))
	}
	created := res.Data.ChannelCustomRewards[0]
	return Reward{
		ID:                  created.ID,
		Title:               created.Title,
		Prompt:              created.Prompt,
		Cost:                created.Cost,
		IsEnabled:           created.IsEnabled,
		IsUserInputRequired: created.IsUserInputRequired,
	}, nil
}

func (a *Api) SetRewardEnabled(rewardID string, enabled bool) error {
	res, err := a.client.UpdateCustomReward(&helix.UpdateChannelCustomRewardsParams{
		BroadcasterID: a.broadcasterID,
		ID:            rewardID,
		IsEnabled:     enabled,
	})
	if err != nil {
		return err
	}
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("got response %d from update reward request: %s", res.StatusCode, res.ErrorMessage)
	}
	return nil
}

func (a *Api) SetRedemptionStatus(rewardID string, redemptionID string, status string) error {
	res, err := a.client.UpdateChannelCustomRewardsRedemptionStatus(&helix.UpdateChannelCustomRewardsRedemptionStatusParams{
		ID:            redemptionID,
		BroadcasterID: a.broadcasterID,
		RewardID:      rewardID,
		Status:        status,
	})
	if err != nil {
		return err
	}
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("got response %d from update redemption status request: %s", res.StatusCode, res.ErrorMessage)
	}
	return nil
}

func (a *Api) UpdateChannel(title string, gameID string, tags []string) error {
	res, err := a.client.EditChannelInformation(&helix.EditChannelInformationParams{
		BroadcasterID: a.broadcasterID,
		Title:         title,
		GameID:        gameID,
		Tags:          tags,
	})
	if err != nil {
		return err
	}
	if res.StatusCode != http.StatusNoContent && res.StatusCode != http.StatusOK {
		return fmt.Errorf("got response %d from edit channel request: %s", res.StatusCode, res.ErrorMessage)
	}
	return nil
}
