package handler

import (
	"github.com/charlesh97/bomhelper/internal/bom"
	"github.com/charlesh97/bomhelper/internal/session"
	"github.com/charlesh97/bomhelper/internal/vendor"
)

// partView is the API projection of one consolidated part joined with its
// selection state. Only the visible window of results is exposed; the full
// ranked list stays server-side.
type partView struct {
	PartKey      string            `json:"part_key"`
	Index        int               `json:"index"`
	Quantity     int               `json:"quantity"`
	RefDes       string            `json:"refdes"`
	Fields       map[string]string `json:"fields"`
	Phase        session.Phase     `json:"phase"`
	Checked      bool              `json:"checked"`
	Confirmed    *vendor.Part      `json:"confirmed,omitempty"`
	Results      []vendor.Part     `json:"results"`
	TotalResults int               `json:"total_results"`
	Exhausted    bool              `json:"exhausted"`
	LastKeyword  string            `json:"last_keyword,omitempty"`
}

func newPartView(part *bom.ConsolidatedPart, sel *session.Selection) partView {
	v := partView{
		PartKey:  session.PartKey(part.Index),
		Index:    part.Index,
		Quantity: part.Quantity,
		RefDes:   part.RefDesJoined(),
		Fields:   part.Fields,
	}
	if sel != nil {
		v.Phase = sel.Phase
		v.Checked = sel.Checked
		v.Confirmed = sel.Confirmed
		v.Results = sel.VisibleResults()
		v.TotalResults = len(sel.Results)
		v.Exhausted = sel.Exhausted()
		v.LastKeyword = sel.LastKeyword
	} else {
		v.Phase = session.PhaseUnsearched
	}
	return v
}

// partViews builds views for a part slice. With a nil session every part is
// rendered unsearched (the upload response, before any selection exists).
func partViews(parts []*bom.ConsolidatedPart, s *session.Session) []partView {
	views := make([]partView, 0, len(parts))
	for _, part := range parts {
		var sel *session.Selection
		if s != nil {
			sel = s.Selection(session.PartKey(part.Index))
		}
		views = append(views, newPartView(part, sel))
	}
	return views
}
