package eventsub

import (
	"encoding/json"

	"github.com/nicklaw5/helix/v2"
)

// Redemption is a single channel-point reward redemption as delivered to the
// dispatcher
type Redemption struct {
	RedemptionID string `json:"redemptionId"`
	RewardID     string `json:"rewardId"`
	UserID       string `json:"userId"`
	UserName     string `json:"userName"`
	UserInput    string `json:"userInput"`
}

// envelope is the outer frame of every message on an EventSub websocket
type envelope struct {
	Metadata metadata `json:"metadata"`
	Payload  payload  `json:"payload"`
}

type metadata struct {
	MessageID        string `json:"message_id"`
	MessageType      string `json:"message_type"`
	MessageTimestamp string `json:"message_timestamp"`
	SubscriptionType string `json:"subscription_type"`
}

type payload struct {
	Session      *session                    `json:"session,omitempty"`
	Subscription *helix.EventSubSubscription `json:"subscription,omitempty"`
	Event        json.RawMessage             `json:"event,omitempty"`
}

type session struct {
	ID                      string `json:"id"`
	Status                  string `json:"status"`
	KeepaliveTimeoutSeconds int    `json:"keepalive_timeout_seconds"`
	ReconnectUrl            string `json:"reconnect_url"`
}

const (
	messageTypeWelcome      = "session_welcome"
	messageTypeKeepalive    = "session_keepalive"
	messageTypeNotification = "notification"
	messageTypeReconnect    = "session_reconnect"
	messageTypeRevocation   = "revocation"
)
