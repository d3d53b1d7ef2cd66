package evidence

import (
	"strings"
	"time"

	"github.com/fakeyudi/aiop/internal/digest"
	"github.com/fakeyudi/aiop/internal/session"
)

// Run statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusPartial   = "partial"
)

// RunFacts are the run-level facts derived from the event stream.
type RunFacts struct {
	SessionID   string
	Status      string
	StartedAt   string
	CompletedAt string
	DurationMS  *int64
}

var terminalEvents = map[string]struct{}{
	"run_end":            {},
	"run_complete":       {},
	"run_completed":      {},
	"pipeline_complete":  {},
	"pipeline_completed": {},
}

// DeriveRun computes status, start and end time from events. fallbackID is
// used when no event names the session.
func DeriveRun(events []session.Event, fallbackID string) RunFacts {
	facts := RunFacts{SessionID: fallbackID, Status: StatusPartial}
	for _, e := range events {
		if e.SessionID != "" {
			facts.SessionID = e.SessionID
			break
		}
	}

	terminal, failed := false, false
	first, runStart := "", ""
	for _, e := range events {
		name := strings.ToLower(e.Name)
		if IsError(e) {
			failed = true
		}
		if _, ok := terminalEvents[name]; ok {
			terminal = true
		}
		if e.Timestamp == "" {
			continue
		}
		if first == "" {
			first = e.Timestamp
		}
		if runStart == "" && name == "run_start" {
			runStart = e.Timestamp
		}
		facts.CompletedAt = e.Timestamp
	}
	facts.StartedAt = first
	if runStart != "" {
		facts.StartedAt = runStart
	}
	switch {
	case failed:
		facts.Status = StatusFailed
	case terminal:
		facts.Status = StatusCompleted
	}
	facts.DurationMS = durationMS(facts.StartedAt, facts.CompletedAt)
	return facts
}

func durationMS(start, end string) *int64 {
	if start == "" || end == "" {
		return nil
	}
	s, err := time.Parse(time.RFC3339Nano, start)
	if err != nil {
		return nil
	}
	e, err := time.Parse(time.RFC3339Nano, end)
	if err != nil || e.Before(s) {
		return nil
	}
	ms := e.Sub(s).Milliseconds()
	return &ms
}

// ManifestHash returns the bare 64-character hex form of a recorded
// manifest hash. A value that does not normalize to one is hashed itself so
// the report always carries a well-formed digest.
func ManifestHash(raw string) string {
	h := digest.Normalize(raw)
	if digest.IsHex64(h) {
		return h
	}
	return digest.Sum([]byte(raw))
}
