// Package bus is the pub/sub transport for chat broadcast topics. A publish
// is one atomic write of one JSON payload to one topic; the bus assigns a
// monotonically increasing per-topic sequence id. Delivery is best-effort:
// duplicates are possible and consumers de-duplicate by message id, the bus
// never retries on behalf of the publisher.
package bus

import (
	"context"
	"encoding/json"

	"chatbus/tools/errs"
)

// Audience restricts delivery of one publish to specific users and/or
// groups. It travels out-of-band in the envelope, never inside the payload.
// A nil Audience means everyone subscribed to the topic.
type Audience struct {
	UserIDs  []int64 `json:"user_ids,omitempty"`
	GroupIDs []int64 `json:"group_ids,omitempty"`
}

func Users(ids ...int64) *Audience  { return &Audience{UserIDs: ids} }
func Groups(ids ...int64) *Audience { return &Audience{GroupIDs: ids} }

// Envelope is the wire frame around one published payload.
type Envelope struct {
	ID       int64           `json:"id"` // per-topic sequence id
	Topic    string          `json:"topic"`
	Data     json.RawMessage `json:"data"`
	UserIDs  []int64         `json:"user_ids,omitempty"`
	GroupIDs []int64         `json:"group_ids,omitempty"`
}

// Bus is the pub/sub transport. Publish returns the sequence id the bus
// assigned to this message on this topic.
type Bus interface {
	Publish(ctx context.Context, topic string, payload any, aud *Audience) (int64, error)
}

func encodeEnvelope(seq int64, topic string, payload any, aud *Audience) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errs.Wrapf(err, "marshal payload for %s", topic)
	}
	env := Envelope{ID: seq, Topic: topic, Data: data}
	if aud != nil {
		env.UserIDs = aud.UserIDs
		env.GroupIDs = aud.GroupIDs
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, errs.Wrapf(err, "marshal envelope for %s", topic)
	}
	return raw, nil
}
