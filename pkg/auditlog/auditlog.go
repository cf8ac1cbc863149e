// Package auditlog implements the append-only Log Sink and its
// dedupe-on-read reader (spec.md §4.10/§8): decision log entries are
// appended as JSONL with no buffering that could lose an entry on crash,
// and read back with tolerance for a truncated trailing line, duplicate
// event ids (first-seen-wins), and out-of-order timestamps — all of which
// a crash mid-append or a concurrent writer can legitimately produce.
package auditlog

import (
	"bytes"
	"encoding/json"
	"sort"
	"time"

	"github.com/CustodyZero/archon/pkg/gate"
	"github.com/CustodyZero/archon/pkg/project"
)

// Sink is the append-only LogSink backing an Execution Gate, writing one
// JSON object per line to a project-scoped StateIO path.
type Sink struct {
	io      project.StateIO
	relPath string
}

// NewSink builds a Sink writing to relPath under io's project root.
func NewSink(io project.StateIO, relPath string) *Sink {
	return &Sink{io: io, relPath: relPath}
}

// Append marshals entry and appends it as a single JSONL line. It never
// buffers: every call is a direct, immediate append.
func (s *Sink) Append(entry gate.DecisionLogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.io.AppendLine(s.relPath, string(data))
}

// Stats summarizes what a dedupe read found and discarded while parsing.
type Stats struct {
	TotalLines            int
	ParsedEntries         int
	ParseErrors           int
	DuplicateEventIDs     int
	OutOfOrderCount       int
	TruncatedTrailingLine bool
}

type parsedLine struct {
	eventID string
	ts      time.Time
	value   any
}

// parseLines is the shared dedupe-on-read core: split raw bytes on
// newlines, drop a partial trailing line, parse each line via decode, drop
// unparseable lines and lines without an event_id, dedupe by event_id
// first-seen-wins, count timestamp regressions, and sort the survivors by
// (timestamp ASC, event_id ASC).
func parseLines(raw []byte, decode func(line []byte) (string, time.Time, any, bool)) ([]parsedLine, Stats) {
	var stats Stats
	if len(raw) == 0 {
		return nil, stats
	}

	trailingPartial := raw[len(raw)-1] != '\n'
	lines := bytes.Split(raw, []byte{'\n'})

	seen := make(map[string]bool, len(lines))
	var entries []parsedLine
	haveLast := false
	var lastUnixNano int64

	for i, line := range lines {
		if len(line) == 0 {
			continue
		}
		if i == len(lines)-1 && trailingPartial {
			stats.TruncatedTrailingLine = true
			continue
		}
		stats.TotalLines++

		eventID, ts, value, ok := decode(line)
		if !ok {
			stats.ParseErrors++
			continue
		}
		if eventID == "" {
			// An event with no identity cannot be deduplicated; drop it the
			// same way an unparseable line is dropped.
			stats.ParseErrors++
			continue
		}
		stats.ParsedEntries++

		if seen[eventID] {
			stats.DuplicateEventIDs++
			continue
		}
		seen[eventID] = true

		if haveLast && ts.UnixNano() < lastUnixNano {
			stats.OutOfOrderCount++
		}
		lastUnixNano = ts.UnixNano()
		haveLast = true

		entries = append(entries, parsedLine{eventID: eventID, ts: ts, value: value})
	}

	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].ts.Equal(entries[j].ts) {
			return entries[i].ts.Before(entries[j].ts)
		}
		return entries[i].eventID < entries[j].eventID
	})

	return entries, stats
}

// ReadDeduped reads relPath, parses each JSONL line, drops a truncated
// trailing line (a crash mid-write leaves a partial line with no trailing
// newline), drops duplicate event_ids keeping the first occurrence, counts
// out-of-order timestamps, and returns entries sorted by
// (timestamp ASC, event_id ASC) — never by file order, which a concurrent
// writer or a compacting rewrite can scramble.
func ReadDeduped(io project.StateIO, relPath string) ([]gate.DecisionLogEntry, Stats, error) {
	raw, err := io.ReadLogRaw(relPath)
	if err != nil {
		return nil, Stats{}, err
	}
	entries, stats := parseLines(raw, func(line []byte) (string, time.Time, any, bool) {
		var entry gate.DecisionLogEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			return "", time.Time{}, nil, false
		}
		return entry.EventID, entry.Timestamp, entry, true
	})
	out := make([]gate.DecisionLogEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.value.(gate.DecisionLogEntry))
	}
	return out, stats, nil
}
