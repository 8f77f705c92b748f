package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestToDisplayIsTotal(t *testing.T) {
	catalog := DefaultCatalog()
	for _, board := range catalog.Boards() {
		tax, err := catalog.For(board)
		if err != nil {
			t.Fatalf("catalog.For(%s): %v", board, err)
		}
		for status := range tax.forward {
			stage := tax.ToDisplay(status)
			if !tax.Contains(stage) {
				t.Errorf("%s: ToDisplay(%q) = %q, not a display stage", board, status, stage)
			}
		}
		// Values this build has never seen must fail closed to the entry
		// stage, never break rendering.
		for _, unknown := range []PersistedStatus{"", "definitely-not-a-status", "LEGACY_V1"} {
			if got := tax.ToDisplay(unknown); got != tax.EntryStage() {
				t.Errorf("%s: ToDisplay(%q) = %q, want entry stage %q", board, unknown, got, tax.EntryStage())
			}
		}
	}
}

func TestRoundTripLaw(t *testing.T) {
	catalog := DefaultCatalog()
	for _, board := range catalog.Boards() {
		tax, _ := catalog.For(board)
		for _, stage := range tax.Stages() {
			if got := tax.ToDisplay(tax.ToPersisted(stage)); got != stage {
				t.Errorf("%s: round trip of %q landed on %q", board, stage, got)
			}
		}
	}
}

func TestLegacyAliasCollapses(t *testing.T) {
	catalog := DefaultCatalog()
	deals, _ := catalog.For(BoardDeals)
	tasks, _ := catalog.For(BoardTasks)

	cases := []struct {
		tax    *Taxonomy
		status PersistedStatus
		want   DisplayStage
	}{
		{deals, "contacted", "prospecting"},
		{deals, "in_talks", "negotiation"},
		{deals, "negotiating", "negotiation"},
		{deals, "booked", "booked"},
		{deals, "archived", "lost"},
		{tasks, "blocked", "in_progress"},
		{tasks, "cancelled", "done"},
	}
	for _, tc := range cases {
		if got := tc.tax.ToDisplay(tc.status); got != tc.want {
			t.Errorf("%s: ToDisplay(%q) = %q, want %q", tc.tax.Board(), tc.status, got, tc.want)
		}
	}
}

func TestDealStageOrder(t *testing.T) {
	deals, _ := DefaultCatalog().For(BoardDeals)
	want := []DisplayStage{"prospecting", "pitch_sent", "negotiation", "booked", "in_progress", "completed", "lost"}
	got := deals.Stages()
	if len(got) != len(want) {
		t.Fatalf("stage count = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("stage[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestCatalogUnknownBoard(t *testing.T) {
	if _, err := DefaultCatalog().For("sprints"); !errors.Is(err, ErrUnknownBoard) {
		t.Fatalf("expected ErrUnknownBoard, got %v", err)
	}
}

func TestNewTaxonomyRejectsPartialWriteBack(t *testing.T) {
	_, err := NewTaxonomy("deals", TaxonomySpec{
		Stages:    []string{"a", "b"},
		Statuses:  map[string]string{"x": "a", "y": "b"},
		WriteBack: map[string]string{"a": "x"},
	})
	if err == nil || !strings.Contains(err.Error(), "write-back") {
		t.Fatalf("expected write-back totality error, got %v", err)
	}
}

func TestNewTaxonomyRejectsBrokenRoundTrip(t *testing.T) {
	_, err := NewTaxonomy("deals", TaxonomySpec{
		Stages:    []string{"a", "b"},
		Statuses:  map[string]string{"x": "a", "y": "a"},
		WriteBack: map[string]string{"a": "x", "b": "y"},
	})
	if err == nil || !strings.Contains(err.Error(), "round-trips") {
		t.Fatalf("expected round-trip error, got %v", err)
	}
}

func TestParseCatalogOverridesOneBoard(t *testing.T) {
	yaml := `
boards:
  tasks:
    stages: [inbox, doing, shipped]
    statuses:
      open: inbox
      started: doing
      completed: shipped
      cancelled: shipped
    writeBack:
      inbox: open
      doing: started
      shipped: completed
`
	catalog, err := parseCatalog([]byte(yaml))
	if err != nil {
		t.Fatalf("parseCatalog: %v", err)
	}
	tasks, err := catalog.For(BoardTasks)
	if err != nil {
		t.Fatalf("catalog.For(tasks): %v", err)
	}
	if tasks.EntryStage() != "inbox" {
		t.Errorf("entry stage = %q, want inbox", tasks.EntryStage())
	}
	if got := tasks.ToDisplay("cancelled"); got != "shipped" {
		t.Errorf("ToDisplay(cancelled) = %q, want shipped", got)
	}
	// Boards absent from the file keep the built-in tables.
	deals, err := catalog.For(BoardDeals)
	if err != nil {
		t.Fatalf("catalog.For(deals): %v", err)
	}
	if got := deals.ToDisplay("won"); got != "booked" {
		t.Errorf("deals ToDisplay(won) = %q, want booked", got)
	}
}

func TestParseCatalogRejectsInvalidTable(t *testing.T) {
	yaml := `
boards:
  tasks:
    stages: [inbox]
    statuses:
      open: nowhere
    writeBack:
      inbox: open
`
	if _, err := parseCatalog([]byte(yaml)); err == nil {
		t.Fatal("expected validation error for undeclared stage")
	}
}
