package handler

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesh97/bomhelper/internal/archive"
	"github.com/charlesh97/bomhelper/internal/bom"
	"github.com/charlesh97/bomhelper/internal/session"
)

var allowedExtensions = map[string]bool{
	".csv":  true,
	".xlsx": true,
	".xlsm": true,
}

// BOMHandler handles BOM upload and consolidated part access.
type BOMHandler struct {
	coord    *session.Coordinator
	parser   *bom.Parser
	archiver *archive.Archiver
	log      *zap.Logger
}

func NewBOMHandler(coord *session.Coordinator, parser *bom.Parser, archiver *archive.Archiver, logger *zap.Logger) *BOMHandler {
	return &BOMHandler{coord: coord, parser: parser, archiver: archiver, log: logger}
}

// Upload ingests a BOM file, consolidates it and starts a fresh session.
// POST /api/v1/bom/upload (multipart, field "file")
func (h *BOMHandler) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		BadRequest(c, "file is required: "+err.Error())
		return
	}

	ext := strings.ToLower(filepath.Ext(fileHeader.Filename))
	if !allowedExtensions[ext] {
		BadRequest(c, fmt.Sprintf("unsupported file type %q, expected .csv, .xlsx or .xlsm", ext))
		return
	}

	src, err := fileHeader.Open()
	if err != nil {
		InternalError(c, "failed to open upload: "+err.Error())
		return
	}
	defer src.Close()

	content, err := io.ReadAll(src)
	if err != nil {
		InternalError(c, "failed to read upload: "+err.Error())
		return
	}

	// The parser dispatches on extension, so the temp file keeps it.
	tmp, err := os.CreateTemp("", "bom-upload-*"+ext)
	if err != nil {
		InternalError(c, "failed to stage upload: "+err.Error())
		return
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		InternalError(c, "failed to stage upload: "+err.Error())
		return
	}
	tmp.Close()

	rows, columns, err := h.parser.Parse(tmp.Name())
	if err != nil {
		BadRequest(c, "failed to parse BOM: "+err.Error())
		return
	}
	if len(rows) == 0 {
		BadRequest(c, "BOM contains no component rows")
		return
	}

	parts := bom.Consolidate(rows)
	h.coord.LoadSession(parts, rows, columns)

	if h.archiver != nil {
		object, archErr := h.archiver.Store(c.Request.Context(), fileHeader.Filename,
			bytes.NewReader(content), int64(len(content)), fileHeader.Header.Get("Content-Type"))
		if archErr != nil {
			h.log.Warn("Failed to archive uploaded BOM", zap.Error(archErr))
		} else if object != "" {
			h.log.Info("Uploaded BOM archived", zap.String("object", object))
		}
	}

	h.log.Info("BOM loaded",
		zap.String("filename", fileHeader.Filename),
		zap.Int("rows", len(rows)),
		zap.Int("consolidated_parts", len(parts)))

	Created(c, gin.H{
		"filename":           fileHeader.Filename,
		"row_count":          len(rows),
		"part_count":         len(parts),
		"consolidated_parts": partViews(parts, nil),
	})
}

// List returns every consolidated part with its selection state.
// GET /api/v1/parts
func (h *BOMHandler) List(c *gin.Context) {
	var views []partView
	var options session.Options
	err := h.coord.WithSession(func(s *session.Session) error {
		views = partViews(s.Parts, s)
		options = s.Options
		return nil
	})
	if err != nil {
		NotFound(c, "no active session, upload a BOM first")
		return
	}
	Success(c, gin.H{
		"items":   views,
		"options": options,
	})
}

// Get returns one consolidated part with its selection state.
// GET /api/v1/parts/:key
func (h *BOMHandler) Get(c *gin.Context) {
	key := c.Param("key")
	var view *partView
	err := h.coord.WithSession(func(s *session.Session) error {
		part := s.Part(key)
		if part == nil {
			return fmt.Errorf("unknown part key %q", key)
		}
		v := newPartView(part, s.Selection(key))
		view = &v
		return nil
	})
	if err != nil {
		NotFound(c, err.Error())
		return
	}
	Success(c, view)
}

// UpdateField edits one field of a consolidated part.
// PATCH /api/v1/parts/:key/fields
func (h *BOMHandler) UpdateField(c *gin.Context) {
	key := c.Param("key")
	var req struct {
		Field string `json:"field" binding:"required"`
		Value string `json:"value"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if err := h.coord.UpdatePartField(key, req.Field, req.Value); err != nil {
		BadRequest(c, err.Error())
		return
	}
	Success(c, gin.H{"part_key": key, "field": req.Field, "value": req.Value})
}
