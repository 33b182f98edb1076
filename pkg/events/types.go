package events

// GlobalChannel receives every task's events; clients filter locally.
const GlobalChannel = "tasks"

// TaskChannel returns the subscription channel name for one task.
func TaskChannel(taskID string) string {
	return "task:" + taskID
}

// ClientMessage is a message from a WebSocket client.
type ClientMessage struct {
	Action string `json:"action"` // subscribe | unsubscribe | catchup | ping
	// Channel is GlobalChannel or TaskChannel(id).
	Channel string `json:"channel,omitempty"`
	// LastSeq resumes catchup after this event-log sequence number.
	LastSeq *int64 `json:"last_seq,omitempty"`
}
