package domain

import (
	"testing"
	"time"
)

func TestClassifyCascade(t *testing.T) {
	cases := []struct {
		age    int
		urgent bool
		want   Indicator
	}{
		{0, false, IndicatorOnTrack},
		{0, true, IndicatorActionNeeded},
		{7, false, IndicatorOnTrack},
		{7, true, IndicatorActionNeeded},
		{8, false, IndicatorSlow},
		{14, false, IndicatorSlow},
		// Staleness dominates the urgency flag.
		{14, true, IndicatorSlow},
		{15, false, IndicatorStagnant},
		{15, true, IndicatorStagnant},
		{20, false, IndicatorStagnant},
	}
	for _, tc := range cases {
		if got := Classify(tc.age, tc.urgent); got != tc.want {
			t.Errorf("Classify(%d, %v) = %s, want %s", tc.age, tc.urgent, got, tc.want)
		}
	}
}

func TestAgeInStage(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name    string
		entered time.Time
		want    int
	}{
		{"same day", now.Add(-3 * time.Hour), 0},
		{"twenty days", now.AddDate(0, 0, -20), 20},
		{"partial day rounds down", now.Add(-47 * time.Hour), 1},
		{"zero timestamp", time.Time{}, 0},
		{"future timestamp", now.Add(time.Hour), 0},
	}
	for _, tc := range cases {
		item := Item{StageEnteredAt: tc.entered}
		if got := item.AgeInStage(now); got != tc.want {
			t.Errorf("%s: AgeInStage = %d, want %d", tc.name, got, tc.want)
		}
	}
}

// A deal sitting at the legacy "negotiating" status for twenty days shows
// up in the negotiation column flagged stagnant.
func TestStaleNegotiatingDealScenario(t *testing.T) {
	deals, _ := DefaultCatalog().For(BoardDeals)
	now := time.Now().UTC()
	item := Item{
		ID:             "d1",
		Board:          BoardDeals,
		Status:         "negotiating",
		StageEnteredAt: now.AddDate(0, 0, -20),
	}

	if got := deals.ToDisplay(item.Status); got != "negotiation" {
		t.Fatalf("grouped under %q, want negotiation", got)
	}
	if got := Classify(item.AgeInStage(now), item.Urgent); got != IndicatorStagnant {
		t.Fatalf("classified %s, want stagnant", got)
	}
}
