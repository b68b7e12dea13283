package queue

import (
	"encoding/json"
	"strconv"
	"time"
)

type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Record is the stored state of one job.
type Record struct {
	ID           string          `json:"id"`
	Queue        string          `json:"queue"`
	State        State           `json:"state"`
	Payload      json.RawMessage `json:"payload"`
	Progress     float64         `json:"progress"`
	Result       json.RawMessage `json:"result,omitempty"`
	FailedReason string          `json:"failedReason,omitempty"`
	CreatedOn    time.Time       `json:"createdOn"`
	ProcessedOn  time.Time       `json:"processedOn,omitzero"`
	FinishedOn   time.Time       `json:"finishedOn,omitzero"`
}

// job hash fields
const (
	fieldPayload      = "payload"
	fieldState        = "state"
	fieldProgress     = "progress"
	fieldResult       = "returnvalue"
	fieldFailedReason = "failedReason"
	fieldCreatedOn    = "createdOn"
	fieldProcessedOn  = "processedOn"
	fieldFinishedOn   = "finishedOn"
)

func recordFromHash(queue, id string, h map[string]string) Record {
	r := Record{
		ID:           id,
		Queue:        queue,
		State:        State(h[fieldState]),
		FailedReason: h[fieldFailedReason],
		CreatedOn:    parseMillis(h[fieldCreatedOn]),
		ProcessedOn:  parseMillis(h[fieldProcessedOn]),
		FinishedOn:   parseMillis(h[fieldFinishedOn]),
	}
	if p := h[fieldPayload]; p != "" {
		r.Payload = json.RawMessage(p)
	}
	if v := h[fieldResult]; v != "" {
		r.Result = json.RawMessage(v)
	}
	if v := h[fieldProgress]; v != "" {
		r.Progress, _ = strconv.ParseFloat(v, 64)
	}
	return r
}

func millis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func parseMillis(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
