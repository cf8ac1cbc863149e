package auditlog

import (
	"crypto/rand"
	"encoding/json"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/CustodyZero/archon/pkg/canonicalize"
	"github.com/CustodyZero/archon/pkg/project"
)

// Event is one governance event line in proposal-events.jsonl. PrevHash
// chains each event to the SHA-256 of its predecessor's serialized line, so
// an external drift detector can spot silent truncation of the log; the
// chain is advisory and never consulted by the enforcement path.
type Event struct {
	EventID   string          `json:"event_id"`
	Timestamp time.Time       `json:"timestamp"`
	Kind      string          `json:"kind"`
	PrevHash  string          `json:"prev_hash,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EventLog appends governance events as hash-chained JSONL lines.
type EventLog struct {
	mu       sync.Mutex
	io       project.StateIO
	relPath  string
	clock    func() time.Time
	prevHash string
	loaded   bool
}

// NewEventLog builds an EventLog writing to relPath under io's project
// root. clock defaults to time.Now.
func NewEventLog(io project.StateIO, relPath string, clock func() time.Time) *EventLog {
	if clock == nil {
		clock = time.Now
	}
	return &EventLog{io: io, relPath: relPath, clock: clock}
}

// loadChainTip recovers the hash of the last complete line already in the
// log, so a reopened log continues its chain instead of restarting it.
func (l *EventLog) loadChainTip() error {
	raw, err := l.io.ReadLogRaw(l.relPath)
	if err != nil {
		return err
	}
	l.loaded = true
	if len(raw) == 0 {
		return nil
	}
	end := len(raw)
	if raw[end-1] != '\n' {
		// Partial trailing line from a crash mid-append: chain from the last
		// complete line instead.
		for end > 0 && raw[end-1] != '\n' {
			end--
		}
		if end == 0 {
			return nil
		}
	}
	start := end - 1
	for start > 0 && raw[start-1] != '\n' {
		start--
	}
	line := raw[start : end-1]
	if len(line) > 0 {
		l.prevHash = canonicalize.HashBytes(line)
	}
	return nil
}

// Append wraps payload in an Event carrying a fresh ULID event_id, the
// clock's timestamp, and the chain hash of the predecessor line, then
// appends it as one JSONL line.
func (l *EventLog) Append(kind string, payload any) (Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.loaded {
		if err := l.loadChainTip(); err != nil {
			return Event{}, err
		}
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	now := l.clock()
	ev := Event{
		EventID:   ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(),
		Timestamp: now,
		Kind:      kind,
		PrevHash:  l.prevHash,
		Payload:   raw,
	}
	line, err := json.Marshal(ev)
	if err != nil {
		return Event{}, err
	}
	if err := l.io.AppendLine(l.relPath, string(line)); err != nil {
		return Event{}, err
	}
	l.prevHash = canonicalize.HashBytes(line)
	return ev, nil
}

// ReadEvents reads the event log back with the same dedupe-on-read
// discipline as the decision log reader.
func ReadEvents(io project.StateIO, relPath string) ([]Event, Stats, error) {
	raw, err := io.ReadLogRaw(relPath)
	if err != nil {
		return nil, Stats{}, err
	}
	entries, stats := parseLines(raw, func(line []byte) (string, time.Time, any, bool) {
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return "", time.Time{}, nil, false
		}
		return ev.EventID, ev.Timestamp, ev, true
	})
	out := make([]Event, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.value.(Event))
	}
	return out, stats, nil
}
