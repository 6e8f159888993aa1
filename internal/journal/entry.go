package journal

import (
	"time"

	"github.com/ppiankov/proxyvisor/internal/reconciler"
)

// TimestampFormat is the layout used in journal entry timestamps.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// Entry is one reconciliation in the hash-chained JSONL journal.
// Fields are plain strings and numbers so json.Marshal output is stable
// for hashing.
type Entry struct {
	Timestamp  string `json:"ts"`
	Seq        uint64 `json:"seq"`
	Origin     string `json:"origin,omitempty"`
	Requested  string `json:"requested"`
	Previous   string `json:"previous"`
	Next       string `json:"next,omitempty"`
	Outcome    string `json:"outcome"`
	Action     string `json:"action"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	PrevHash   string `json:"prev_hash"`
}

// FromResult flattens a reconciliation result into a journal entry.
func FromResult(res reconciler.Result) Entry {
	e := Entry{
		Seq:        res.Seq,
		Origin:     res.Origin,
		Requested:  res.Requested,
		Previous:   res.Previous.String(),
		Outcome:    string(res.Outcome),
		Action:     string(res.Action),
		DurationMS: res.Duration.Milliseconds(),
	}
	if !res.Next.IsZero() {
		e.Next = res.Next.String()
	}
	switch {
	case res.Err != nil:
		e.Error = res.Err.Error()
	case res.ActionErr != nil:
		e.Error = res.ActionErr.Error()
	}
	return e
}

// Time parses the entry timestamp. The zero time is returned for
// malformed values.
func (e Entry) Time() time.Time {
	t, err := time.Parse(TimestampFormat, e.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}
