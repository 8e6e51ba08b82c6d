package handler

import (
	"bytes"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesh97/bomhelper/internal/session"
	"github.com/charlesh97/bomhelper/internal/snapshot"
	"github.com/charlesh97/bomhelper/internal/store"
)

// SnapshotHandler saves and restores full session state, either as a
// downloadable JSON document or as named records in the session store.
type SnapshotHandler struct {
	coord    *session.Coordinator
	sessions *store.SessionStore
}

func NewSnapshotHandler(coord *session.Coordinator, sessions *store.SessionStore) *SnapshotHandler {
	return &SnapshotHandler{coord: coord, sessions: sessions}
}

func (h *SnapshotHandler) capture() (*snapshot.Document, error) {
	var doc *snapshot.Document
	err := h.coord.WithSession(func(s *session.Session) error {
		if len(s.Parts) == 0 {
			return fmt.Errorf("session has no consolidated parts to save")
		}
		doc = snapshot.Capture(s)
		return nil
	})
	return doc, err
}

// Download streams the current session as an indented JSON document.
// GET /api/v1/session/snapshot
func (h *SnapshotHandler) Download(c *gin.Context) {
	doc, err := h.capture()
	if err != nil {
		BadRequest(c, err.Error())
		return
	}

	filename := fmt.Sprintf("bom_session_%s.json", time.Now().Format("20060102_150405"))
	c.Header("Content-Type", "application/json")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))

	if err := snapshot.Encode(c.Writer, doc); err != nil {
		InternalError(c, err.Error())
		return
	}
}

// Restore replaces the active session with an uploaded snapshot document.
// An invalid document leaves the current session untouched.
// POST /api/v1/session/snapshot
func (h *SnapshotHandler) Restore(c *gin.Context) {
	doc, err := snapshot.Decode(c.Request.Body)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}
	s, err := doc.Restore()
	if err != nil {
		BadRequest(c, err.Error())
		return
	}
	h.coord.RestoreSession(s)
	Success(c, gin.H{
		"part_count": len(s.Parts),
		"save_date":  doc.SaveDate,
	})
}

// Save stores the current session under a display name.
// POST /api/v1/sessions
func (h *SnapshotHandler) Save(c *gin.Context) {
	if h.sessions == nil {
		Error(c, 50300, "session store is not configured")
		return
	}
	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request: "+err.Error())
		return
	}

	doc, err := h.capture()
	if err != nil {
		BadRequest(c, err.Error())
		return
	}

	var buf bytes.Buffer
	if err := snapshot.Encode(&buf, doc); err != nil {
		InternalError(c, err.Error())
		return
	}

	saved, err := h.sessions.Create(c.Request.Context(), req.Name, len(doc.ConsolidatedParts), buf.Bytes())
	if err != nil {
		InternalError(c, "failed to save session: "+err.Error())
		return
	}
	Created(c, saved)
}

// List returns saved session metadata, newest first.
// GET /api/v1/sessions
func (h *SnapshotHandler) List(c *gin.Context) {
	if h.sessions == nil {
		Error(c, 50300, "session store is not configured")
		return
	}
	sessions, err := h.sessions.List(c.Request.Context())
	if err != nil {
		InternalError(c, err.Error())
		return
	}
	Success(c, gin.H{"items": sessions})
}

// Load replaces the active session with a saved one.
// POST /api/v1/sessions/:id/load
func (h *SnapshotHandler) Load(c *gin.Context) {
	if h.sessions == nil {
		Error(c, 50300, "session store is not configured")
		return
	}
	saved, err := h.sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		NotFound(c, err.Error())
		return
	}
	doc, err := snapshot.Decode(bytes.NewReader(saved.Document))
	if err != nil {
		InternalError(c, "stored snapshot is corrupt: "+err.Error())
		return
	}
	s, err := doc.Restore()
	if err != nil {
		InternalError(c, err.Error())
		return
	}
	h.coord.RestoreSession(s)
	Success(c, gin.H{
		"id":         saved.ID,
		"name":       saved.Name,
		"part_count": len(s.Parts),
	})
}

// Delete removes a saved session.
// DELETE /api/v1/sessions/:id
func (h *SnapshotHandler) Delete(c *gin.Context) {
	if h.sessions == nil {
		Error(c, 50300, "session store is not configured")
		return
	}
	if err := h.sessions.Delete(c.Request.Context(), c.Param("id")); err != nil {
		NotFound(c, err.Error())
		return
	}
	Success(c, gin.H{"id": c.Param("id")})
}
