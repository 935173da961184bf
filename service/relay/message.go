package relay

import (
	"bytes"
	"encoding/json"
)

// Message is one queued payload. Body is always a valid JSON value.
type Message struct {
	From UserID
	Body json.RawMessage
}

const (
	StatusOK              = "ok"
	StatusFail            = "fail"
	StatusTimeout         = "timeout"
	StatusUserUnavailable = "user_unavailable"
)

// Reply is what a parked receive is completed with.
type Reply struct {
	Status   string            `json:"status"`
	From     *UserID           `json:"from,omitempty"`
	Messages []json.RawMessage `json:"messages,omitempty"`
	Senders  []UserID          `json:"senders,omitempty"` // only with Options.Senders

	batch []Message
}

func timeoutReply() Reply { return Reply{Status: StatusTimeout} }

// batchReply builds {"status":"ok","from":..,"messages":[..]}. from is the
// sender of the first message. With senders set a "senders" array lining
// up with messages is added.
func batchReply(batch []Message, senders bool) Reply {
	r := Reply{
		Status:   StatusOK,
		Messages: make([]json.RawMessage, len(batch)),
		batch:    batch,
	}
	if senders {
		r.Senders = make([]UserID, len(batch))
	}
	for i, m := range batch {
		r.Messages[i] = m.Body
		if senders {
			r.Senders[i] = m.From
		}
	}
	if len(batch) > 0 {
		from := batch[0].From
		r.From = &from
	}
	return r
}

// Batch returns the messages carried by an ok reply.
func (r Reply) Batch() []Message { return r.batch }

func (r Reply) JSON() []byte {
	b, err := json.Marshal(r)
	if err != nil {
		return []byte(`{"status":"fail"}`)
	}
	return b
}

// NormalizeBody turns a client supplied message into a JSON value: valid
// JSON is kept (compacted), anything else becomes a JSON string.
func NormalizeBody(raw []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && json.Valid(trimmed) {
		var buf bytes.Buffer
		if err := json.Compact(&buf, trimmed); err == nil {
			return buf.Bytes()
		}
	}
	b, _ := json.Marshal(string(raw))
	return b
}
