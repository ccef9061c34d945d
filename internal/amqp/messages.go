package amqp

import (
	"encoding/json"
	"time"
)

// MirrorOpMessage nudges the worker to process one mirror-queue row.
// It carries only the queue id; the worker fetches the full operation from
// the outbox, so a lost message costs latency, not data.
type MirrorOpMessage struct {
	QueueID   int64     `json:"queueId"`
	Operation string    `json:"operation"`
	Timestamp time.Time `json:"timestamp"`
}

func NewMirrorOpMessage(queueID int64, operation string) *MirrorOpMessage {
	return &MirrorOpMessage{
		QueueID:   queueID,
		Operation: operation,
		Timestamp: time.Now(),
	}
}

func (m *MirrorOpMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func MirrorOpMessageFromJSON(data []byte) (*MirrorOpMessage, error) {
	var msg MirrorOpMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
