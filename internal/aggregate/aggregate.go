package aggregate

import (
	"sort"
	"strings"

	"indexwatch/internal/provider"
)

// DefaultHistoryPoints is how many daily points a quote detail carries.
const DefaultHistoryPoints = 30

// NewestN keeps the n most recent points by Date and returns them oldest
// first. Dates are YYYY-MM-DD so lexical order is chronological. Points
// with an empty date are dropped; for duplicate dates the later input wins.
// n <= 0 keeps everything.
func NewestN(points []provider.HistoricalPoint, n int) []provider.HistoricalPoint {
	byDate := make(map[string]provider.HistoricalPoint, len(points))
	for _, p := range points {
		d := strings.TrimSpace(p.Date)
		if d == "" {
			continue
		}
		p.Date = d
		byDate[d] = p
	}

	out := make([]provider.HistoricalPoint, 0, len(byDate))
	for _, p := range byDate {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })

	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}
