package audit

import (
	"strings"
	"time"
)

// ByAgent returns every entry recorded for the agent, in insertion order.
func (l *Log) ByAgent(agentID string) []Entry {
	return l.filter(func(e Entry) bool { return e.AgentID == agentID })
}

// ByKind returns every entry of the given kind.
func (l *Log) ByKind(kind Kind) []Entry {
	return l.filter(func(e Entry) bool { return e.Kind == kind })
}

// ByOutcome returns every entry with the given outcome.
func (l *Log) ByOutcome(outcome Outcome) []Entry {
	return l.filter(func(e Entry) bool { return e.Outcome == outcome })
}

// InRange returns entries with from <= timestamp < to.
func (l *Log) InRange(from, to time.Time) []Entry {
	return l.filter(func(e Entry) bool {
		return !e.Timestamp.Before(from) && e.Timestamp.Before(to)
	})
}

// Search returns entries whose operation contains the substring,
// case-insensitively.
func (l *Log) Search(substr string) []Entry {
	needle := strings.ToLower(substr)
	return l.filter(func(e Entry) bool {
		return strings.Contains(strings.ToLower(e.Operation), needle)
	})
}

// Stats summarizes the log.
type Stats struct {
	Total      int             `json:"total"`
	ByKind     map[Kind]int    `json:"by_kind"`
	ByOutcome  map[Outcome]int `json:"by_outcome"`
	RecentHour int             `json:"recent_hour"`
}

// Statistics aggregates totals, per-kind and per-outcome counts, and the
// number of entries from the last hour.
func (l *Log) Statistics() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := Stats{
		ByKind:    make(map[Kind]int),
		ByOutcome: make(map[Outcome]int),
	}
	cutoff := l.clock().Add(-time.Hour)
	for _, e := range l.entries {
		stats.Total++
		stats.ByKind[e.Kind]++
		stats.ByOutcome[e.Outcome]++
		if e.Timestamp.After(cutoff) {
			stats.RecentHour++
		}
	}
	return stats
}

func (l *Log) filter(keep func(Entry) bool) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, 0)
	for _, e := range l.entries {
		if keep(e) {
			out = append(out, e.clone())
		}
	}
	return out
}
