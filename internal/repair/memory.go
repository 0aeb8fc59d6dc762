package repair

import (
	"fmt"
	"strings"
)

const errorSnippetLen = 300

// FixRecord is one (error, change) pair from a finished repair cycle.
type FixRecord struct {
	Error  string
	Change string
}

// Memory is the append-only log of fix attempts for one repair session. It
// is serialized into every advisory request so the service does not repeat
// failed strategies, and it dies with the process.
type Memory struct {
	records []FixRecord
}

func (m *Memory) Append(errText, change string) {
	m.records = append(m.records, FixRecord{Error: errText, Change: change})
}

func (m *Memory) Len() int { return len(m.records) }

func (m *Memory) Records() []FixRecord {
	out := make([]FixRecord, len(m.records))
	copy(out, m.records)
	return out
}

// Render serializes the memory for the repair prompt, error text clipped to
// a snippet per attempt.
func (m *Memory) Render() string {
	if len(m.records) == 0 {
		return ""
	}
	var b strings.Builder
	for i, rec := range m.records {
		snippet := rec.Error
		if len(snippet) > errorSnippetLen {
			snippet = snippet[:errorSnippetLen] + "..."
		}
		fmt.Fprintf(&b, "[Attempt %d] Fix: %s\n", i+1, rec.Change)
		fmt.Fprintf(&b, "[Attempt %d] Error snippet: %s\n", i+1, snippet)
	}
	return b.String()
}
