// Package snapshot serializes the whole working session to a versioned JSON
// document and reconstructs it without re-querying any provider.
package snapshot

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/charlesh97/bomhelper/internal/bom"
	"github.com/charlesh97/bomhelper/internal/session"
)

// Version of the snapshot document format.
const Version = "1.0"

// Document is the full serializable session state: parts, original rows,
// column mapping, selections (confirmed choices, checked flags and the
// search-result cache they carry), batch cursor and global options.
type Document struct {
	Version           string                        `json:"version"`
	SaveDate          time.Time                     `json:"save_date"`
	ConsolidatedParts []*bom.ConsolidatedPart       `json:"consolidated_parts"`
	Components        []bom.RawRow                  `json:"components,omitempty"`
	ColumnMapping     bom.ColumnMapping             `json:"column_mapping,omitempty"`
	Selections        map[string]*session.Selection `json:"selections"`
	Options           session.Options               `json:"options"`
	BatchPartKeys     []string                      `json:"batch_part_keys,omitempty"`
	CurrentBatchIndex int                           `json:"current_batch_index"`
}

// Capture snapshots a session. The caller must hold the session exclusively
// for the duration of the call.
func Capture(s *session.Session) *Document {
	return &Document{
		Version:           Version,
		SaveDate:          time.Now().UTC(),
		ConsolidatedParts: s.Parts,
		Components:        s.Rows,
		ColumnMapping:     s.Columns,
		Selections:        s.Selections,
		Options:           s.Options,
		BatchPartKeys:     s.BatchKeys,
		CurrentBatchIndex: s.BatchIndex,
	}
}

// Restore reconstructs a session from the document. The part_key → index
// mapping is rebuilt deterministically from the restored part sequence.
func (d *Document) Restore() (*session.Session, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}
	s := session.New(d.ConsolidatedParts, d.Components, d.ColumnMapping)
	if d.Selections != nil {
		s.Selections = d.Selections
	}
	s.Options = d.Options
	s.BatchKeys = d.BatchPartKeys
	s.BatchIndex = d.CurrentBatchIndex
	if s.BatchIndex >= len(s.BatchKeys) {
		s.BatchIndex = len(s.BatchKeys) - 1
	}
	s.Reindex()
	return s, nil
}

func (d *Document) validate() error {
	if d.Version == "" {
		return fmt.Errorf("snapshot missing version")
	}
	if len(d.ConsolidatedParts) == 0 {
		return fmt.Errorf("snapshot contains no consolidated parts")
	}
	for i, p := range d.ConsolidatedParts {
		if p == nil {
			return fmt.Errorf("snapshot part %d is null", i)
		}
		if p.Fields == nil {
			p.Fields = make(map[string]string)
		}
	}
	return nil
}

// Encode writes the document as indented JSON.
func Encode(w io.Writer, d *Document) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(d); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return nil
}

// Decode reads and validates a snapshot document. Invalid documents return
// an error without partial state; the caller keeps its current session.
func Decode(r io.Reader) (*Document, error) {
	var d Document
	if err := json.NewDecoder(r).Decode(&d); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if err := d.validate(); err != nil {
		return nil, err
	}
	return &d, nil
}
