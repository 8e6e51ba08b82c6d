package handler

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/charlesh97/bomhelper/internal/rank"
	"github.com/charlesh97/bomhelper/internal/session"
)

// SearchHandler drives search, review and confirmation through the
// coordinator. Every mutation goes through coordinator methods; handlers
// never touch the session directly.
type SearchHandler struct {
	coord *session.Coordinator
}

func NewSearchHandler(coord *session.Coordinator) *SearchHandler {
	return &SearchHandler{coord: coord}
}

// Search starts a background search for one part. An empty keyword lets the
// coordinator synthesize one; a non-empty keyword re-searches with the
// user's own term.
// POST /api/v1/parts/:key/search
func (h *SearchHandler) Search(c *gin.Context) {
	key := c.Param("key")
	var req struct {
		Keyword string `json:"keyword"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			BadRequest(c, "invalid request: "+err.Error())
			return
		}
	}
	if err := h.coord.SearchPart(c.Request.Context(), key, req.Keyword); err != nil {
		BadRequest(c, err.Error())
		return
	}
	Success(c, gin.H{"part_key": key, "phase": session.PhaseSearching})
}

// SearchBatch starts a sequential background search over several parts.
// POST /api/v1/search/batch
func (h *SearchHandler) SearchBatch(c *gin.Context) {
	var req struct {
		PartKeys []string `json:"part_keys" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if len(req.PartKeys) == 0 {
		BadRequest(c, "part_keys must not be empty")
		return
	}
	if err := h.coord.SearchBatch(c.Request.Context(), req.PartKeys); err != nil {
		BadRequest(c, err.Error())
		return
	}
	Success(c, gin.H{
		"part_keys": req.PartKeys,
		"current":   req.PartKeys[0],
	})
}

// Results returns the visible result window for one part.
// GET /api/v1/parts/:key/results
func (h *SearchHandler) Results(c *gin.Context) {
	key := c.Param("key")
	var view partView
	err := h.coord.WithSession(func(s *session.Session) error {
		part := s.Part(key)
		if part == nil {
			return fmt.Errorf("unknown part key %q", key)
		}
		view = newPartView(part, s.Selection(key))
		return nil
	})
	if err != nil {
		NotFound(c, err.Error())
		return
	}
	Success(c, view)
}

// ShowMore widens the visible window of the ranked list.
// POST /api/v1/parts/:key/show-more
func (h *SearchHandler) ShowMore(c *gin.Context) {
	key := c.Param("key")
	visible, err := h.coord.ShowMore(key)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}
	Success(c, gin.H{"part_key": key, "visible": visible})
}

// Confirm records the user's choice for a part: either a visible result by
// index or the explicit not-available marker. When the part is the current
// batch cursor the cursor advances and the next key is returned.
// POST /api/v1/parts/:key/confirm
func (h *SearchHandler) Confirm(c *gin.Context) {
	key := c.Param("key")
	var req struct {
		Index *int `json:"index"`
		NA    bool `json:"na"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if !req.NA && req.Index == nil {
		BadRequest(c, "either index or na is required")
		return
	}
	index := -1
	if req.Index != nil {
		index = *req.Index
	}
	next, err := h.coord.Confirm(key, index, req.NA)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}
	Success(c, gin.H{"part_key": key, "next_part_key": next})
}

// ToggleChecked flips a part's export inclusion flag.
// POST /api/v1/parts/:key/toggle-checked
func (h *SearchHandler) ToggleChecked(c *gin.Context) {
	key := c.Param("key")
	checked, err := h.coord.ToggleChecked(key)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}
	Success(c, gin.H{"part_key": key, "checked": checked})
}

// SetSort re-ranks every retrieved result list under the new preference
// without any provider calls.
// PUT /api/v1/session/sort
func (h *SearchHandler) SetSort(c *gin.Context) {
	var req struct {
		Mode string `json:"mode" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request: "+err.Error())
		return
	}
	mode := rank.SortMode(req.Mode)
	if !mode.Valid() {
		BadRequest(c, fmt.Sprintf("unknown sort mode %q", req.Mode))
		return
	}
	if err := h.coord.SetSortPreference(mode); err != nil {
		BadRequest(c, err.Error())
		return
	}
	Success(c, gin.H{"sort_preference": mode})
}

// SetFilters updates the global stock and lifecycle filters. They apply to
// subsequent searches; existing result lists are not refiltered.
// PUT /api/v1/session/filters
func (h *SearchHandler) SetFilters(c *gin.Context) {
	var req struct {
		InStockOnly *bool `json:"in_stock_only" binding:"required"`
		ActiveOnly  *bool `json:"active_only" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if err := h.coord.SetFilters(*req.InStockOnly, *req.ActiveOnly); err != nil {
		BadRequest(c, err.Error())
		return
	}
	Success(c, gin.H{"in_stock_only": *req.InStockOnly, "active_only": *req.ActiveOnly})
}

// BatchNext moves the batch cursor forward.
// POST /api/v1/batch/next
func (h *SearchHandler) BatchNext(c *gin.Context) {
	key, err := h.coord.BatchAdvance()
	if err != nil {
		BadRequest(c, err.Error())
		return
	}
	Success(c, gin.H{"current": key})
}

// BatchPrev moves the batch cursor backward.
// POST /api/v1/batch/prev
func (h *SearchHandler) BatchPrev(c *gin.Context) {
	key, err := h.coord.BatchBack()
	if err != nil {
		BadRequest(c, err.Error())
		return
	}
	Success(c, gin.H{"current": key})
}
