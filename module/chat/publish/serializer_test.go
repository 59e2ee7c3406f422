package publish

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestSerializeWithTypeDeterministic(t *testing.T) {
	msg := sampleMessage(10, 1, 0, false)

	first, err := json.Marshal(SerializeWithType(msg, EventEdit, nil))
	if err != nil {
		t.Fatal(err)
	}
	second, err := json.Marshal(SerializeWithType(msg, EventEdit, nil))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("serialization not deterministic:\n%s\n%s", first, second)
	}
}

func TestSerializeWithTypeDiscriminator(t *testing.T) {
	msg := sampleMessage(10, 1, 0, false)
	payload := SerializeWithType(msg, EventRestore, nil)
	if payload["type"] != EventRestore {
		t.Fatalf("type = %v, want %q", payload["type"], EventRestore)
	}
	if payload["id"] != int64(10) || payload["chat_channel_id"] != int64(1) {
		t.Fatalf("identity fields wrong: %v", payload)
	}
}

func TestSerializeExtraFieldsMergeLast(t *testing.T) {
	msg := sampleMessage(10, 1, 7, false)
	payload := SerializeWithType(msg, EventSent, map[string]any{
		"staged_id": "staged-abc",
		"thread_id": int64(99), // extras may override generated fields
	})
	if payload["staged_id"] != "staged-abc" {
		t.Fatalf("staged_id missing: %v", payload)
	}
	if payload["thread_id"] != int64(99) {
		t.Fatalf("extra did not override thread_id: %v", payload["thread_id"])
	}
}

func TestSerializeTimestampsComeFromMessage(t *testing.T) {
	msg := sampleMessage(10, 1, 0, false)
	payload := SerializeMessage(msg)
	if payload["created_at"] != "2024-05-01T12:00:00Z" {
		t.Fatalf("created_at = %v", payload["created_at"])
	}
	if _, ok := payload["edited_at"]; ok {
		t.Fatalf("edited_at present for never-edited message")
	}
}
