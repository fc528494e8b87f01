package aggregate

import (
	"fmt"
	"testing"

	"indexwatch/internal/provider"
)

func TestNewestN_KeepsNewestOldestFirst(t *testing.T) {
	in := []provider.HistoricalPoint{
		{Date: "2024-03-04", Close: 4},
		{Date: "2024-03-01", Close: 1},
		{Date: "2024-03-05", Close: 5},
		{Date: "2024-03-02", Close: 2},
		{Date: "2024-03-03", Close: 3},
	}

	out := NewestN(in, 3)
	if len(out) != 3 {
		t.Fatalf("want 3, got %d: %+v", len(out), out)
	}
	want := []string{"2024-03-03", "2024-03-04", "2024-03-05"}
	for i, d := range want {
		if out[i].Date != d {
			t.Fatalf("position %d: want %s, got %s (%+v)", i, d, out[i].Date, out)
		}
	}
}

func TestNewestN_ThirtyOfSixty(t *testing.T) {
	var in []provider.HistoricalPoint
	for d := 1; d <= 60; d++ {
		// alternate months so input is not already ordered
		in = append(in, provider.HistoricalPoint{Date: fmt.Sprintf("2024-%02d-%02d", 1+d%2, (d+1)/2), Close: float64(d)})
	}

	out := NewestN(in, DefaultHistoryPoints)
	if len(out) != DefaultHistoryPoints {
		t.Fatalf("want %d, got %d", DefaultHistoryPoints, len(out))
	}
	for i := 1; i < len(out); i++ {
		if out[i-1].Date >= out[i].Date {
			t.Fatalf("not ascending at %d: %s >= %s", i, out[i-1].Date, out[i].Date)
		}
	}
	if out[0].Date[:7] != "2024-02" {
		t.Fatalf("want only February points, first is %s", out[0].Date)
	}
}

func TestNewestN_ShortInputAndNonPositiveN(t *testing.T) {
	in := []provider.HistoricalPoint{{Date: "2024-01-02"}, {Date: "2024-01-01"}}

	if out := NewestN(in, 30); len(out) != 2 || out[0].Date != "2024-01-01" {
		t.Fatalf("unexpected: %+v", out)
	}
	if out := NewestN(in, 0); len(out) != 2 {
		t.Fatalf("n=0 must keep all, got %+v", out)
	}
	if out := NewestN(nil, 5); len(out) != 0 {
		t.Fatalf("want empty, got %+v", out)
	}
}

func TestNewestN_DuplicateDatesLaterWins_EmptyDropped(t *testing.T) {
	in := []provider.HistoricalPoint{
		{Date: "2024-01-01", Close: 1},
		{Date: "", Close: 99},
		{Date: " 2024-01-01 ", Close: 2},
	}
	out := NewestN(in, 5)
	if len(out) != 1 || out[0].Close != 2 || out[0].Date != "2024-01-01" {
		t.Fatalf("unexpected: %+v", out)
	}
}
