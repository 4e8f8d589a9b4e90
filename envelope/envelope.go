// Package envelope defines the single message shape exchanged between the
// page client and its command server, in both directions.
package envelope

import (
	"encoding/json"
	"fmt"
)

// NoReply marks an envelope that is not a reply to a server request
// (UI events and the generic poll request).
const NoReply int64 = -1

// Reserved topics.
const (
	TopicClick          = "onclick"
	TopicCommandLoop    = "command_loop"
	TopicJavascript     = "javascript"
	TopicUpdateInterval = "update_interval"
	TopicNothing        = "nothing"
)

// Structured UI topics. These replace the code strings the server used to
// build for common page edits; the client runs them through registered
// handlers only.
const (
	TopicSetText       = "set_text"
	TopicSetButtonText = "set_button_text"
	TopicConsoleLog    = "console_log"
	TopicSetImageSrc   = "set_image_src"
	TopicGetInputData  = "get_input_data"
)

// null is the JSON encoding of an absent payload.
var null = json.RawMessage("null")

// Envelope is one message unit. It is built immediately before a send and
// never mutated afterwards.
type Envelope struct {
	Topic   string          `json:"topic"`
	ID      int64           `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// Command is what the server returns to a poll: an Envelope plus the flag
// telling the client whether to send a correlated reply.
type Command struct {
	Envelope
	ShouldRespond bool `json:"should_respond"`
}

// MarshalJSON encodes a nil payload as null so every envelope on the wire
// carries all three fields.
func (e Envelope) MarshalJSON() ([]byte, error) {
	type wire Envelope
	w := wire(e)
	if len(w.Payload) == 0 {
		w.Payload = null
	}
	return json.Marshal(w)
}

// MarshalJSON keeps the Envelope fields and should_respond in one object.
// Without it the promoted Envelope.MarshalJSON would drop should_respond.
func (c Command) MarshalJSON() ([]byte, error) {
	payload := c.Payload
	if len(payload) == 0 {
		payload = null
	}
	return json.Marshal(struct {
		Topic         string          `json:"topic"`
		ID            int64           `json:"id"`
		Payload       json.RawMessage `json:"payload"`
		ShouldRespond bool            `json:"should_respond"`
	}{c.Topic, c.ID, payload, c.ShouldRespond})
}

// New builds an envelope, encoding payload as JSON. A nil payload becomes null.
func New(topic string, id int64, payload any) (Envelope, error) {
	raw, err := encodePayload(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encoding %s payload: %w", topic, err)
	}
	return Envelope{Topic: topic, ID: id, Payload: raw}, nil
}

// PollRequest is the "give me work" request sent once per poll cycle.
func PollRequest() Envelope {
	return Envelope{Topic: TopicCommandLoop, ID: NoReply, Payload: null}
}

// ClickPayload is the payload of an onclick notification.
type ClickPayload struct {
	ID string `json:"id"`
}

// Click reports activation of the UI element sourceID.
func Click(sourceID string) Envelope {
	raw, _ := json.Marshal(ClickPayload{ID: sourceID})
	return Envelope{Topic: TopicClick, ID: NoReply, Payload: raw}
}

// Reply answers cmd, echoing its topic and id. A nil result is sent as null.
func Reply(cmd Command, result any) (Envelope, error) {
	return New(cmd.Topic, cmd.ID, result)
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return null, nil
	case json.RawMessage:
		if len(p) == 0 {
			return null, nil
		}
		if !json.Valid(p) {
			return nil, fmt.Errorf("invalid raw JSON payload")
		}
		return p, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// IsNull reports whether a payload is absent or JSON null.
func IsNull(payload json.RawMessage) bool {
	return len(payload) == 0 || string(payload) == "null"
}
