package peerchannel

import "encoding/json"

// wireEnvelope is the application-level framing carried inside one AMQP
// transfer's payload. The engine's own performative set (spec's Non-goal
// on a generic AMQP library) has no application-properties section, so
// topic and properties travel as a small JSON envelope around the raw
// message bytes instead of a second AMQP section type.
type wireEnvelope struct {
	Topic      string         `json:"topic,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	Payload    []byte         `json:"payload"`
}

func encodeEnvelope(msg *PeerMessage) ([]byte, error) {
	return json.Marshal(wireEnvelope{
		Topic:      msg.Topic,
		Properties: msg.ApplicationProperties,
		Payload:    msg.Payload,
	})
}

func decodeEnvelope(raw []byte) (ReceivedMessage, error) {
	var env wireEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return ReceivedMessage{}, err
	}
	return ReceivedMessage{
		Topic:                 env.Topic,
		Payload:               env.Payload,
		ApplicationProperties: env.Properties,
	}, nil
}
