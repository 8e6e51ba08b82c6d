// Package session owns the working set of a BOM sourcing session: the
// consolidated parts, per-part selection state, search results and global
// options. A Session is exclusively owned by the Coordinator's goroutine;
// nothing here is safe for unsynchronized concurrent use.
package session

import (
	"fmt"

	"github.com/charlesh97/bomhelper/internal/bom"
	"github.com/charlesh97/bomhelper/internal/rank"
	"github.com/charlesh97/bomhelper/internal/vendor"
)

// Phase is the review state of one consolidated part.
type Phase string

const (
	PhaseUnsearched Phase = "unsearched"
	PhaseSearching  Phase = "searching"
	// PhaseReviewing holds the full ranked candidate list; an empty list is
	// still Reviewing (a failed or empty search never reverts to Unsearched,
	// so the user can retry with another keyword).
	PhaseReviewing Phase = "reviewing"
	PhaseConfirmed Phase = "confirmed"
)

const (
	// DefaultVisible is the prefix of the ranked list surfaced initially.
	DefaultVisible = 3
	// ShowMoreStep is how many more results each show-more reveals.
	ShowMoreStep = 3
)

// Selection tracks one part's search and confirmation state.
type Selection struct {
	Phase       Phase         `json:"phase"`
	Results     []vendor.Part `json:"results"`
	Visible     int           `json:"visible"`
	Confirmed   *vendor.Part  `json:"confirmed,omitempty"`
	Checked     bool          `json:"checked"`
	LastKeyword string        `json:"last_keyword"`
}

// VisibleResults returns the currently surfaced window of the ranked list.
func (sel *Selection) VisibleResults() []vendor.Part {
	if sel.Visible > len(sel.Results) {
		return sel.Results
	}
	return sel.Results[:sel.Visible]
}

// Exhausted reports whether show-more has nothing left to reveal.
func (sel *Selection) Exhausted() bool {
	return sel.Visible >= len(sel.Results)
}

// Options are the global search options.
type Options struct {
	InStockOnly    bool          `json:"in_stock_only"`
	ActiveOnly     bool          `json:"active_only"`
	SortPreference rank.SortMode `json:"sort_preference"`
}

// Session is the aggregate working set. Part identity is positional:
// PartKey(index) is stable for the life of the session regardless of field
// edits.
type Session struct {
	Parts      []*bom.ConsolidatedPart
	Rows       []bom.RawRow
	Columns    bom.ColumnMapping
	Selections map[string]*Selection
	Options    Options

	// Batch review cursor: an ordered list of part keys layered on top of
	// the per-part state.
	BatchKeys  []string
	BatchIndex int

	keyToIndex map[string]int
}

// PartKey derives the stable string handle for a consolidated index.
func PartKey(index int) string {
	return fmt.Sprintf("part_%d", index)
}

// New builds a session around freshly consolidated parts.
func New(parts []*bom.ConsolidatedPart, rows []bom.RawRow, columns bom.ColumnMapping) *Session {
	s := &Session{
		Parts:      parts,
		Rows:       rows,
		Columns:    columns,
		Selections: make(map[string]*Selection, len(parts)),
		Options:    Options{InStockOnly: true, ActiveOnly: true, SortPreference: rank.SortByStock},
		BatchIndex: -1,
	}
	s.Reindex()
	return s
}

// Reindex rebuilds the part_key → index mapping from the part sequence.
// Called after construction and after snapshot restore, it also repairs the
// positional Index fields, which are authoritative by position.
func (s *Session) Reindex() {
	s.keyToIndex = make(map[string]int, len(s.Parts))
	for i, p := range s.Parts {
		p.Index = i
		s.keyToIndex[PartKey(i)] = i
	}
	for key := range s.Selections {
		if _, ok := s.keyToIndex[key]; !ok {
			delete(s.Selections, key)
		}
	}
}

// Part resolves a part key, nil when unknown.
func (s *Session) Part(key string) *bom.ConsolidatedPart {
	idx, ok := s.keyToIndex[key]
	if !ok {
		return nil
	}
	return s.Parts[idx]
}

// Selection returns the selection for a key, creating the default
// (unsearched, unchecked) entry on first access. Returns nil for unknown
// keys.
func (s *Session) Selection(key string) *Selection {
	if _, ok := s.keyToIndex[key]; !ok {
		return nil
	}
	sel, ok := s.Selections[key]
	if !ok {
		sel = &Selection{Phase: PhaseUnsearched}
		s.Selections[key] = sel
	}
	return sel
}

// BeginSearch marks a part as searching and records the keyword for later
// prefill. The previous result list stays in place until results arrive.
func (s *Session) BeginSearch(key, kw string) error {
	sel := s.Selection(key)
	if sel == nil {
		return fmt.Errorf("unknown part key %q", key)
	}
	sel.Phase = PhaseSearching
	sel.LastKeyword = kw
	return nil
}

// ApplyResults replaces a part's candidate list with a fresh ranked list and
// resets the visible window. An empty list still transitions to Reviewing.
// A confirmed choice is kept; only the browsable list is superseded.
func (s *Session) ApplyResults(key string, results []vendor.Part) error {
	sel := s.Selection(key)
	if sel == nil {
		return fmt.Errorf("unknown part key %q", key)
	}
	sel.Results = results
	sel.Visible = DefaultVisible
	if sel.Visible > len(results) {
		sel.Visible = len(results)
	}
	if sel.Phase != PhaseConfirmed {
		sel.Phase = PhaseReviewing
	}
	return nil
}

// ShowMore widens the visible window, capped at the full list. Returns the
// new window size.
func (s *Session) ShowMore(key string) (int, error) {
	sel := s.Selection(key)
	if sel == nil {
		return 0, fmt.Errorf("unknown part key %q", key)
	}
	sel.Visible += ShowMoreStep
	if sel.Visible > len(sel.Results) {
		sel.Visible = len(sel.Results)
	}
	return sel.Visible, nil
}

// Confirm records the chosen candidate (or the NA sentinel) for a part and
// checks it for export. Confirming again overwrites; there is no separate
// unconfirm.
func (s *Session) Confirm(key string, choice vendor.Part) error {
	sel := s.Selection(key)
	if sel == nil {
		return fmt.Errorf("unknown part key %q", key)
	}
	chosen := choice
	sel.Confirmed = &chosen
	sel.Checked = true
	sel.Phase = PhaseConfirmed
	return nil
}

// ConfirmIndex confirms by position in the full ranked result list.
func (s *Session) ConfirmIndex(key string, idx int) error {
	sel := s.Selection(key)
	if sel == nil {
		return fmt.Errorf("unknown part key %q", key)
	}
	if idx < 0 || idx >= len(sel.Results) {
		return fmt.Errorf("result index %d out of range for part %q", idx, key)
	}
	return s.Confirm(key, sel.Results[idx])
}

// ToggleChecked flips the export flag without touching the recorded choice.
func (s *Session) ToggleChecked(key string) (bool, error) {
	sel := s.Selection(key)
	if sel == nil {
		return false, fmt.Errorf("unknown part key %q", key)
	}
	sel.Checked = !sel.Checked
	return sel.Checked, nil
}

// SetSortPreference re-derives the display order of every retrieved result
// list under the new mode. No provider calls are made and windows are kept.
func (s *Session) SetSortPreference(mode rank.SortMode) error {
	if !mode.Valid() {
		return fmt.Errorf("unknown sort preference %q", mode)
	}
	s.Options.SortPreference = mode
	for key, sel := range s.Selections {
		if len(sel.Results) == 0 {
			continue
		}
		part := s.Part(key)
		target := ""
		if part != nil {
			target = part.Field("package")
		}
		sel.Results = rank.Rank(sel.Results, target, mode)
	}
	return nil
}

// SetBatch installs the batch review cursor over an ordered key list.
func (s *Session) SetBatch(keys []string) {
	s.BatchKeys = keys
	if len(keys) > 0 {
		s.BatchIndex = 0
	} else {
		s.BatchIndex = -1
	}
}

// BatchCurrent returns the key under the cursor, "" when no batch is active.
func (s *Session) BatchCurrent() string {
	if s.BatchIndex < 0 || s.BatchIndex >= len(s.BatchKeys) {
		return ""
	}
	return s.BatchKeys[s.BatchIndex]
}

// BatchAdvance moves the cursor forward, staying put on the last part.
func (s *Session) BatchAdvance() string {
	if s.BatchIndex >= 0 && s.BatchIndex < len(s.BatchKeys)-1 {
		s.BatchIndex++
	}
	return s.BatchCurrent()
}

// BatchBack moves the cursor backward, staying put on the first part.
func (s *Session) BatchBack() string {
	if s.BatchIndex > 0 {
		s.BatchIndex--
	}
	return s.BatchCurrent()
}

// CheckedKeys returns the keys of checked parts in consolidated order.
func (s *Session) CheckedKeys() []string {
	var keys []string
	for i := range s.Parts {
		key := PartKey(i)
		if sel, ok := s.Selections[key]; ok && sel.Checked {
			keys = append(keys, key)
		}
	}
	return keys
}
