package domain

// StageGroup is one column of a rendered board: the items under a display
// stage plus the aggregates the column header shows.
type StageGroup struct {
	Stage      DisplayStage `json:"stage"`
	Items      []Item       `json:"items"`
	Count      int          `json:"count"`
	TotalValue Money        `json:"totalValue"`
}

// GroupByStage buckets items into one group per display stage of the
// taxonomy, in column order. Every input item lands in exactly one group
// via the forward mapping; none are dropped. Stages with no items are
// still present with zero count and value so columns never disappear from
// the layout. Within a stage, items keep their input order. Value totals
// assume callers pre-normalized currency; the group carries the currency
// of its first valued item.
func GroupByStage(t *Taxonomy, items []Item) []StageGroup {
	groups := make([]StageGroup, len(t.stages))
	index := make(map[DisplayStage]int, len(t.stages))
	for i, stage := range t.stages {
		groups[i] = StageGroup{Stage: stage, Items: []Item{}}
		index[stage] = i
	}
	for _, item := range items {
		g := &groups[index[t.ToDisplay(item.Status)]]
		g.Items = append(g.Items, item)
		g.Count++
		g.TotalValue.Amount += item.Value.Amount
		if g.TotalValue.Currency == "" {
			g.TotalValue.Currency = item.Value.Currency
		}
	}
	return groups
}
