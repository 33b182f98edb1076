package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// sseRecord is the wire shape of one SSE data frame.
type sseRecord struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
	TS   float64         `json:"ts"`
	Seq  int64           `json:"seq,omitempty"`
}

// FormatSSE renders one event as a Server-Sent-Events record:
//
//	event: <type>
//	data: {"type":...,"data":...,"ts":...}
//
// followed by a blank line.
func FormatSSE(evt BusEvent) []byte {
	body, err := json.Marshal(sseRecord{
		Type: evt.Type,
		Data: evt.Data,
		TS:   float64(evt.TS.UnixNano()) / float64(time.Second),
		Seq:  evt.Seq,
	})
	if err != nil {
		body = []byte(`{"type":"error","data":null}`)
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", evt.Type, body))
}
