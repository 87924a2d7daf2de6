package ws

import (
	"encoding/json"
	"net/url"
)

// EventReviewState is the hub event carrying a review checkpoint snapshot.
const EventReviewState = "review.state"

// Review channel message types.
const (
	MsgStateUpdate      = "state_update"
	MsgReviewDecision   = "review_decision"
	MsgDecisionReceived = "decision_received"
	MsgError            = "error"
	MsgEvent            = "event"
)

// serverMessage is sent to review channel clients.
type serverMessage struct {
	Type    string          `json:"type"`
	Event   string          `json:"event,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Status  string          `json:"status,omitempty"`
	Message string          `json:"message,omitempty"`
}

// clientMessage is a message received on the review channel.
type clientMessage struct {
	Type          string          `json:"type"`
	Status        string          `json:"status"`
	Feedback      string          `json:"feedback,omitempty"`
	Modifications json.RawMessage `json:"modifications,omitempty"`
	ReviewerID    string          `json:"reviewerId,omitempty"`
}

func originHost(origin string) string {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return origin
	}
	return u.Host
}
