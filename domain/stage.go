package domain

import (
	"errors"
	"fmt"
)

// BoardType identifies which kanban board an item belongs to.
type BoardType string

const (
	BoardDeals BoardType = "deals"
	BoardTasks BoardType = "tasks"
)

// DisplayStage is the UI-facing column identity shown on a board.
type DisplayStage string

// PersistedStatus is the status value as stored by the backend. The
// persisted enumeration evolved independently of the display stages and
// still carries legacy aliases, so the two sets do not align 1:1.
type PersistedStatus string

// ErrUnknownBoard is returned when a request names a board type the
// catalog does not know about.
var ErrUnknownBoard = errors.New("unknown board type")

// Taxonomy translates between the persisted status enumeration and the
// ordered display stages of one board type.
//
// The forward mapping (persisted -> display) is total: statuses the table
// can still contain from older releases, and values this build has never
// seen, fall back to the entry stage instead of breaking rendering. The
// backward mapping (display -> canonical persisted) is total over the
// display enumeration so every column is a writable transition target.
type Taxonomy struct {
	board    BoardType
	stages   []DisplayStage
	forward  map[PersistedStatus]DisplayStage
	backward map[DisplayStage]PersistedStatus
}

// TaxonomySpec is the declarative form a Taxonomy is built from. The
// built-in boards are declared this way and overrides loaded from
// configuration use the same shape.
type TaxonomySpec struct {
	// Stages lists the display stages in column order, entry stage first.
	Stages []string `yaml:"stages"`
	// Statuses maps every persisted status the backend can produce to the
	// display stage it renders under. Legacy aliases collapse here.
	Statuses map[string]string `yaml:"statuses"`
	// WriteBack maps every display stage to the canonical persisted status
	// written when an item is moved onto that column.
	WriteBack map[string]string `yaml:"writeBack"`
}

// NewTaxonomy validates the spec and builds a Taxonomy from it. Validation
// enforces the two totality requirements and the round-trip law: writing a
// stage back and re-reading it must land on the same stage.
func NewTaxonomy(board BoardType, spec TaxonomySpec) (*Taxonomy, error) {
	if len(spec.Stages) == 0 {
		return nil, fmt.Errorf("taxonomy %s: no display stages", board)
	}
	t := &Taxonomy{
		board:    board,
		stages:   make([]DisplayStage, 0, len(spec.Stages)),
		forward:  make(map[PersistedStatus]DisplayStage, len(spec.Statuses)),
		backward: make(map[DisplayStage]PersistedStatus, len(spec.Stages)),
	}
	seen := make(map[DisplayStage]bool, len(spec.Stages))
	for _, raw := range spec.Stages {
		stage := DisplayStage(raw)
		if stage == "" {
			return nil, fmt.Errorf("taxonomy %s: empty display stage", board)
		}
		if seen[stage] {
			return nil, fmt.Errorf("taxonomy %s: duplicate display stage %q", board, stage)
		}
		seen[stage] = true
		t.stages = append(t.stages, stage)
	}
	for rawStatus, rawStage := range spec.Statuses {
		stage := DisplayStage(rawStage)
		if !seen[stage] {
			return nil, fmt.Errorf("taxonomy %s: status %q maps to undeclared stage %q", board, rawStatus, rawStage)
		}
		t.forward[PersistedStatus(rawStatus)] = stage
	}
	for _, stage := range t.stages {
		rawStatus, ok := spec.WriteBack[string(stage)]
		if !ok {
			return nil, fmt.Errorf("taxonomy %s: stage %q has no write-back status", board, stage)
		}
		status := PersistedStatus(rawStatus)
		mapped, ok := t.forward[status]
		if !ok {
			return nil, fmt.Errorf("taxonomy %s: write-back status %q for stage %q is not a known status", board, rawStatus, stage)
		}
		if mapped != stage {
			return nil, fmt.Errorf("taxonomy %s: write-back status %q round-trips to %q, not %q", board, rawStatus, mapped, stage)
		}
		t.backward[stage] = status
	}
	return t, nil
}

func mustTaxonomy(board BoardType, spec TaxonomySpec) *Taxonomy {
	t, err := NewTaxonomy(board, spec)
	if err != nil {
		panic(err)
	}
	return t
}

// Board reports which board type this taxonomy describes.
func (t *Taxonomy) Board() BoardType { return t.board }

// Stages returns the display stages in column order.
func (t *Taxonomy) Stages() []DisplayStage {
	out := make([]DisplayStage, len(t.stages))
	copy(out, t.stages)
	return out
}

// EntryStage is the leftmost column and the fallback for unknown statuses.
func (t *Taxonomy) EntryStage() DisplayStage { return t.stages[0] }

// Contains reports whether the stage is a member of this board's display
// enumeration.
func (t *Taxonomy) Contains(stage DisplayStage) bool {
	_, ok := t.backward[stage]
	return ok
}

// ToDisplay maps a persisted status to its display stage. Unrecognized
// values fail closed to the entry stage so the board stays renderable for
// anything the backend reports.
func (t *Taxonomy) ToDisplay(status PersistedStatus) DisplayStage {
	if stage, ok := t.forward[status]; ok {
		return stage
	}
	return t.EntryStage()
}

// ToPersisted maps a display stage to the canonical persisted status used
// when writing back. Stages outside the enumeration resolve to the entry
// stage's canonical status.
func (t *Taxonomy) ToPersisted(stage DisplayStage) PersistedStatus {
	if status, ok := t.backward[stage]; ok {
		return status
	}
	return t.backward[t.EntryStage()]
}

// The deals pipeline and tasks board carry deliberately different collapse
// rules; the tables are configuration data, not shared logic. On deals all
// many-to-one collapses sit on the read side: "contacted" and "in_talks"
// are legacy aliases, "booked" is an alias the canonical write replaced
// with "won", and a lost deal is archived.
var dealSpec = TaxonomySpec{
	Stages: []string{"prospecting", "pitch_sent", "negotiation", "booked", "in_progress", "completed", "lost"},
	Statuses: map[string]string{
		"new":         "prospecting",
		"contacted":   "prospecting",
		"pitched":     "pitch_sent",
		"negotiating": "negotiation",
		"in_talks":    "negotiation",
		"won":         "booked",
		"booked":      "booked",
		"active":      "in_progress",
		"delivered":   "completed",
		"archived":    "lost",
	},
	WriteBack: map[string]string{
		"prospecting": "new",
		"pitch_sent":  "pitched",
		"negotiation": "negotiating",
		"booked":      "won",
		"in_progress": "active",
		"completed":   "delivered",
		"lost":        "archived",
	},
}

// Tasks collapse differently: a blocked task still renders under
// in_progress and a cancelled one leaves the board through the done
// column.
var taskSpec = TaxonomySpec{
	Stages: []string{"todo", "in_progress", "review", "done"},
	Statuses: map[string]string{
		"open":      "todo",
		"started":   "in_progress",
		"blocked":   "in_progress",
		"in_review": "review",
		"completed": "done",
		"cancelled": "done",
	},
	WriteBack: map[string]string{
		"todo":        "open",
		"in_progress": "started",
		"review":      "in_review",
		"done":        "completed",
	},
}

// Catalog holds the taxonomy of every board type the service serves.
type Catalog struct {
	taxonomies map[BoardType]*Taxonomy
}

// DefaultCatalog returns the built-in deal and task taxonomies.
func DefaultCatalog() *Catalog {
	return &Catalog{taxonomies: map[BoardType]*Taxonomy{
		BoardDeals: mustTaxonomy(BoardDeals, dealSpec),
		BoardTasks: mustTaxonomy(BoardTasks, taskSpec),
	}}
}

// For resolves the taxonomy of a board type.
func (c *Catalog) For(board BoardType) (*Taxonomy, error) {
	t, ok := c.taxonomies[board]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBoard, board)
	}
	return t, nil
}

// Boards lists the known board types. Order is fixed so responses and
// provisioning are deterministic.
func (c *Catalog) Boards() []BoardType {
	known := []BoardType{BoardDeals, BoardTasks}
	out := make([]BoardType, 0, len(c.taxonomies))
	for _, b := range known {
		if _, ok := c.taxonomies[b]; ok {
			out = append(out, b)
		}
	}
	for b := range c.taxonomies {
		if b != BoardDeals && b != BoardTasks {
			out = append(out, b)
		}
	}
	return out
}
