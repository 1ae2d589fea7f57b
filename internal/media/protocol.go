package media

import "encoding/json"

// Inbound event names of the telephony media stream.
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventMark      = "mark"
	EventStop      = "stop"
)

type InboundMessage struct {
	Event     string        `json:"event"`
	StreamSid string        `json:"streamSid,omitempty"`
	Start     *StartInfo    `json:"start,omitempty"`
	Media     *MediaPayload `json:"media,omitempty"`
	Mark      *MarkPayload  `json:"mark,omitempty"`
}

type StartInfo struct {
	StreamSid        string            `json:"streamSid"`
	CallSid          string            `json:"callSid"`
	CustomParameters map[string]string `json:"customParameters"`
}

type MediaPayload struct {
	Track   string `json:"track,omitempty"`
	Payload string `json:"payload"`
}

type MarkPayload struct {
	Name string `json:"name"`
}

type OutboundMessage struct {
	Event     string        `json:"event"`
	StreamSid string        `json:"streamSid"`
	Media     *MediaPayload `json:"media,omitempty"`
	Mark      *MarkPayload  `json:"mark,omitempty"`
}

func decodeInbound(data []byte) (InboundMessage, error) {
	var msg InboundMessage
	err := json.Unmarshal(data, &msg)
	return msg, err
}
