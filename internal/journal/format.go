package journal

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

const separator = "──────────────────────────────────────────────────────────────────"

// FormatTimeline renders entries as a human-readable text timeline.
func FormatTimeline(entries []Entry) string {
	if len(entries) == 0 {
		return "No reconciliations recorded.\n"
	}

	var b strings.Builder
	first, last := entries[0], entries[len(entries)-1]
	fmt.Fprintf(&b, "Reconciliations %d–%d | %s – %s UTC\n",
		first.Seq, last.Seq, formatStamp(first, "2006-01-02 15:04:05"), formatStamp(last, "2006-01-02 15:04:05"))
	b.WriteString(separator + "\n")

	counts := map[string]int{}
	for _, e := range entries {
		counts[e.Outcome]++
		change := truncate(e.Previous, 28) + " → " + truncate(e.Next, 28)
		if e.Next == "" {
			change = "requested " + truncate(fmt.Sprintf("%q", e.Requested), 40)
		}
		line := fmt.Sprintf("%-10s #%-5d %-20s %-8s %s",
			formatStamp(e, "15:04:05"), e.Seq, strings.ToUpper(e.Outcome), e.Action, change)
		if e.Error != "" {
			line += "  [" + truncate(e.Error, 60) + "]"
		}
		b.WriteString(line + "\n")
	}

	b.WriteString(separator + "\n")
	b.WriteString(formatSummary(len(entries), counts))
	return b.String()
}

// FormatJSON renders entries as indented JSON.
func FormatJSON(entries []Entry) (string, error) {
	if entries == nil {
		entries = []Entry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal journal entries: %w", err)
	}
	return string(data), nil
}

func formatStamp(e Entry, layout string) string {
	t := e.Time()
	if t.IsZero() {
		return e.Timestamp
	}
	return t.Format(layout)
}

func formatSummary(total int, counts map[string]int) string {
	outcomes := make([]string, 0, len(counts))
	for o := range counts {
		outcomes = append(outcomes, o)
	}
	sort.Strings(outcomes)

	parts := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		parts = append(parts, fmt.Sprintf("%d %s", counts[o], o))
	}
	return fmt.Sprintf("Summary: %d total | %s\n", total, strings.Join(parts, ", "))
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
