package chat

import (
	"encoding/json"
	"time"
)

// InboundMessage is the wire format chat bridges publish to the inbound
// queue.
type InboundMessage struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}

func InboundMessageFromJSON(data []byte) (*InboundMessage, error) {
	var msg InboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ReplyMessage is published to the reply queue for the bridge to deliver
// back to the sender.
type ReplyMessage struct {
	To        string    `json:"to"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}

func (m *ReplyMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}
