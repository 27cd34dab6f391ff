package wire

import (
	"encoding/json"
	"strings"
)

// Action is the verb of an outbound control frame.
type Action string

const (
	ActionSubscribe   Action = "subscribe"
	ActionUnsubscribe Action = "unsubscribe"
	ActionPing        Action = "ping"
)

// Control is an outbound control frame.
type Control struct {
	Action  Action `json:"action"`
	Channel string `json:"channel,omitempty"`
}

// Subscribe builds a subscribe control frame for channel.
func Subscribe(channel string) Control {
	return Control{Action: ActionSubscribe, Channel: channel}
}

// Unsubscribe builds an unsubscribe control frame for channel.
func Unsubscribe(channel string) Control {
	return Control{Action: ActionUnsubscribe, Channel: channel}
}

// Ping builds a liveness probe.
func Ping() Control {
	return Control{Action: ActionPing}
}

// Encode marshals the control frame.
func (c Control) Encode() ([]byte, error) {
	return json.Marshal(c)
}

// IsPattern reports whether a channel name contains glob metacharacters.
func IsPattern(channel string) bool {
	return strings.ContainsAny(channel, "*?[{")
}
