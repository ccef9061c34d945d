package amqp

import (
	"testing"
)

func TestMirrorOpMessageJSON(t *testing.T) {
	msg := NewMirrorOpMessage(42, "put")

	body, err := msg.ToJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	got, err := MirrorOpMessageFromJSON(body)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.QueueID != 42 || got.Operation != "put" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestMirrorOpMessageFromJSON_Invalid(t *testing.T) {
	if _, err := MirrorOpMessageFromJSON([]byte("{not json")); err == nil {
		t.Fatalf("expected error for invalid payload")
	}
}
